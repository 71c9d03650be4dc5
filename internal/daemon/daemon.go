package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roost-app/roost/internal/schema"
	roostsync "github.com/roost-app/roost/internal/sync"
)

// Syncer runs one source for one account. *sync.Orchestrator implements it.
type Syncer interface {
	UpdateTimelines(ctx context.Context, account string) (roostsync.Report, error)
	UpdateLists(ctx context.Context, account string, syncMembers bool) (roostsync.Report, error)
	UpdateFriends(ctx context.Context, account string) (roostsync.Report, error)
	UpdateFollowers(ctx context.Context, account string) (roostsync.Report, error)
	NeedsSync(ctx context.Context, source schema.Source, account string, interval time.Duration) (bool, error)
}

// Publisher receives every finished source run.
type Publisher interface {
	PublishReport(r roostsync.Report)
}

// Config holds configuration for the daemon.
type Config struct {
	// Accounts synced on every pass.
	Accounts []string

	// Interval is the minimum age of a source checkpoint before the source
	// runs again.
	Interval time.Duration

	// PollInterval is how often Start wakes up to check checkpoints.
	PollInterval time.Duration

	// Concurrency bounds how many accounts sync at once.
	Concurrency int

	// ListMembers also replaces list memberships during the lists step.
	ListMembers bool

	// Force ignores checkpoints.
	Force bool

	// ConfigPath, when set together with Reload, is watched for changes.
	ConfigPath string

	// Reload returns the current account list. Called after ConfigPath
	// changes.
	Reload func() ([]string, error)

	// DebounceInterval batches rapid config writes into one reload.
	DebounceInterval time.Duration

	Publisher Publisher
	Logger    *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         15 * time.Minute,
		PollInterval:     time.Minute,
		Concurrency:      2,
		DebounceInterval: 250 * time.Millisecond,
	}
}

// step is one source of the fixed per-account sequence.
type step struct {
	source schema.Source
	// gates lists the checkpoints that make the step due; any one is enough.
	gates []schema.Source
	run   func(ctx context.Context, account string) (roostsync.Report, error)
}

// Daemon drives an Orchestrator across accounts.
type Daemon struct {
	syncer Syncer
	config *Config
	logger *zap.Logger
	steps  []step

	mu       gosync.Mutex
	accounts []string

	stopMu gosync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Daemon. A nil config uses DefaultConfig.
func New(syncer Syncer, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = def.DebounceInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Daemon{
		syncer:   syncer,
		config:   config,
		logger:   logger.Named("daemon"),
		accounts: normalizeAccounts(config.Accounts),
	}

	listGates := []schema.Source{schema.SourceLists}
	if config.ListMembers {
		listGates = append(listGates, schema.SourceListMembers)
	}
	d.steps = []step{
		{schema.SourceTimelines, []schema.Source{schema.SourceTimelines}, syncer.UpdateTimelines},
		{schema.SourceLists, listGates, func(ctx context.Context, account string) (roostsync.Report, error) {
			return syncer.UpdateLists(ctx, account, config.ListMembers)
		}},
		{schema.SourceFriends, []schema.Source{schema.SourceFriends}, syncer.UpdateFriends},
		{schema.SourceFollowers, []schema.Source{schema.SourceFollowers}, syncer.UpdateFollowers},
	}
	return d, nil
}

func normalizeAccounts(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, a := range in {
		a = strings.TrimSpace(a)
		if a == "" || seen[strings.ToLower(a)] {
			continue
		}
		seen[strings.ToLower(a)] = true
		out = append(out, a)
	}
	return out
}

// Accounts returns the current account list.
func (d *Daemon) Accounts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.accounts...)
}

// SetAccounts replaces the account list used by the next pass.
func (d *Daemon) SetAccounts(accounts []string) {
	d.mu.Lock()
	d.accounts = normalizeAccounts(accounts)
	d.mu.Unlock()
}

// RunOnce syncs every account once, at most Concurrency accounts at a time.
// Reports are returned grouped by account in configuration order. Failures
// of independent accounts do not stop each other; they are joined into the
// returned error.
func (d *Daemon) RunOnce(ctx context.Context) ([]roostsync.Report, error) {
	accounts := d.Accounts()
	reports := make([][]roostsync.Report, len(accounts))
	errs := make([]error, len(accounts))

	var g errgroup.Group
	g.SetLimit(d.config.Concurrency)
	for i, account := range accounts {
		g.Go(func() error {
			reports[i], errs[i] = d.RunAccount(ctx, account)
			if errs[i] != nil {
				errs[i] = fmt.Errorf("%s: %w", account, errs[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	var all []roostsync.Report
	for _, rs := range reports {
		all = append(all, rs...)
	}
	return all, errors.Join(errs...)
}

// RunAccount runs the sources of one account in their fixed order:
// timelines, lists, friends, followers. A source whose checkpoint is fresh is
// skipped unless Force is set. A failing source does not stop the next one;
// cancellation stops the sequence.
func (d *Daemon) RunAccount(ctx context.Context, account string) ([]roostsync.Report, error) {
	log := d.logger.With(zap.String("account", account))

	var (
		reports []roostsync.Report
		errs    []error
	)
	for _, s := range d.steps {
		if err := ctx.Err(); err != nil {
			return reports, err
		}

		if !d.config.Force {
			due, err := d.due(ctx, s, account)
			if err != nil {
				if ctx.Err() != nil {
					return reports, ctx.Err()
				}
				errs = append(errs, fmt.Errorf("failed to check %s checkpoint: %w", s.source, err))
				continue
			}
			if !due {
				log.Debug("source is fresh, skipping", zap.Stringer("source", s.source))
				continue
			}
		}

		r, err := s.run(ctx, account)
		reports = append(reports, r)
		if d.config.Publisher != nil {
			d.config.Publisher.PublishReport(r)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return reports, err
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.source, err))
		}
	}
	return reports, errors.Join(errs...)
}

func (d *Daemon) due(ctx context.Context, s step, account string) (bool, error) {
	for _, g := range s.gates {
		ok, err := d.syncer.NeedsSync(ctx, g, account, d.config.Interval)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// Start runs a pass immediately and then every PollInterval until ctx is
// cancelled or Stop is called. When ConfigPath and Reload are set the
// account list is reloaded after the file changes.
func (d *Daemon) Start(ctx context.Context) error {
	d.stopMu.Lock()
	if d.done != nil {
		d.stopMu.Unlock()
		return fmt.Errorf("daemon already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.stopMu.Unlock()

	defer close(d.done)
	defer cancel()

	var (
		events <-chan FileEvent
		werrs  <-chan error
	)
	if d.config.ConfigPath != "" && d.config.Reload != nil {
		fw, err := NewFileWatcher()
		if err != nil {
			return err
		}
		if err := fw.Start(d.config.ConfigPath); err != nil {
			_ = fw.Stop()
			return err
		}
		defer fw.Stop()
		events, werrs = fw.Events(), fw.Errors()
		d.logger.Info("watching config", zap.String("path", d.config.ConfigPath))
	}

	d.logger.Info("daemon started",
		zap.Strings("accounts", d.Accounts()),
		zap.Duration("poll_interval", d.config.PollInterval),
		zap.Duration("interval", d.config.Interval))

	d.pass(ctx)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	var (
		debounce *time.Timer
		reload   <-chan time.Time
	)
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("daemon stopped")
			return nil

		case <-ticker.C:
			d.pass(ctx)

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			d.logger.Debug("config event", zap.Stringer("op", ev.Op))
			if debounce == nil {
				debounce = time.NewTimer(d.config.DebounceInterval)
			} else {
				debounce.Reset(d.config.DebounceInterval)
			}
			reload = debounce.C

		case err, ok := <-werrs:
			if !ok {
				werrs = nil
				continue
			}
			d.logger.Warn("config watcher error", zap.Error(err))

		case <-reload:
			reload = nil
			d.reload()
		}
	}
}

// Stop cancels a running Start and waits for it to return.
func (d *Daemon) Stop() {
	d.stopMu.Lock()
	cancel, done := d.cancel, d.done
	d.stopMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (d *Daemon) pass(ctx context.Context) {
	start := time.Now()
	reports, err := d.RunOnce(ctx)
	fields := []zap.Field{zap.Int("runs", len(reports)), zap.Duration("duration", time.Since(start))}
	if err != nil && ctx.Err() == nil {
		d.logger.Warn("pass finished with errors", append(fields, zap.Error(err))...)
		return
	}
	d.logger.Debug("pass finished", fields...)
}

func (d *Daemon) reload() {
	accounts, err := d.config.Reload()
	if err != nil {
		d.logger.Warn("config reload failed, keeping accounts", zap.Error(err))
		return
	}
	accounts = normalizeAccounts(accounts)
	if len(accounts) == 0 {
		d.logger.Warn("reloaded config has no accounts, keeping accounts")
		return
	}
	d.SetAccounts(accounts)
	d.logger.Info("accounts reloaded", zap.Strings("accounts", accounts))
}
