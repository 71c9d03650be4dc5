package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/roost-app/roost/internal/schema"
	"github.com/roost-app/roost/internal/store"
)

var (
	// ErrIncomplete is returned when a source ran to the end but some items
	// could not be fetched. The checkpoint is not advanced.
	ErrIncomplete = errors.New("sync incomplete")

	// ErrNoCursor is returned when a paginated endpoint hands back the cursor
	// it was called with, which would otherwise loop forever.
	ErrNoCursor = errors.New("pagination cursor did not advance")
)

// DefaultUserTimelineTTL is how long FetchUserTimeline keeps a response.
const DefaultUserTimelineTTL = 5 * time.Minute

// Report summarises one source run for one account.
type Report struct {
	RunID        string        `json:"run_id"`
	Source       schema.Source `json:"-"`
	SourceName   string        `json:"source"`
	Account      string        `json:"account"`
	NewStatuses  int           `json:"new_statuses"`
	UsersWritten int           `json:"users_written"`
	Removed      int           `json:"removed"`
	Failures     int           `json:"failures"`
	Started      time.Time     `json:"started"`
	Duration     time.Duration `json:"duration"`
	Complete     bool          `json:"complete"`
	Error        string        `json:"error,omitempty"`
}

// Orchestrator synchronises remote data into a LocalStore.
// It holds no locks of its own and is safe for concurrent use as long as its
// collaborators are.
type Orchestrator struct {
	store   LocalStore
	remote  RemoteClient
	decoder Decoder
	cache   Cache

	logger          *zap.Logger
	now             func() time.Time
	userTimelineTTL time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache enables caching of derived responses.
func WithCache(c Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithLogger sets the logger (default: no-op).
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides time.Now for checkpoints and reports.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithUserTimelineTTL sets the cache lifetime of FetchUserTimeline results.
func WithUserTimelineTTL(d time.Duration) Option {
	return func(o *Orchestrator) { o.userTimelineTTL = d }
}

// New creates an Orchestrator.
func New(st LocalStore, remote RemoteClient, decoder Decoder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:           st,
		remote:          remote,
		decoder:         decoder,
		logger:          zap.NewNop(),
		now:             time.Now,
		userTimelineTTL: DefaultUserTimelineTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run carries the state of one source run.
type run struct {
	Report
	log *zap.Logger
}

func (o *Orchestrator) begin(source schema.Source, account string) *run {
	id := uuid.NewString()
	r := &run{
		Report: Report{
			RunID:      id,
			Source:     source,
			SourceName: source.String(),
			Account:    account,
			Started:    o.now(),
		},
		log: o.logger.With(
			zap.String("run_id", id),
			zap.String("account", account),
			zap.String("source", source.String()),
		),
	}
	r.log.Debug("sync started")
	return r
}

func (o *Orchestrator) finish(r *run, err error) (Report, error) {
	r.Duration = o.now().Sub(r.Started)
	if err == nil && r.Failures > 0 {
		err = fmt.Errorf("%w: %d item(s) failed", ErrIncomplete, r.Failures)
	}
	r.Complete = err == nil

	fields := []zap.Field{
		zap.Int("new_statuses", r.NewStatuses),
		zap.Int("users_written", r.UsersWritten),
		zap.Int("removed", r.Removed),
		zap.Int("failures", r.Failures),
		zap.Duration("duration", r.Duration),
	}
	switch {
	case err == nil:
		r.log.Info("sync complete", fields...)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		r.Error = err.Error()
		r.log.Info("sync cancelled", fields...)
	default:
		r.Error = err.Error()
		r.log.Warn("sync failed", append(fields, zap.Error(err))...)
	}
	return r.Report, err
}

// checkpoint records a successful run. Must only be called when the run is
// otherwise complete.
func (o *Orchestrator) checkpoint(ctx context.Context, r *run, guid string, sources ...schema.Source) error {
	if r.Failures > 0 {
		return nil
	}
	at := o.now()
	for _, src := range sources {
		if err := o.store.SetLastSync(ctx, src, guid, at); err != nil {
			return err
		}
	}
	return nil
}

// remoteError marks a failure of a single remote item (fetch or decode).
// Callers count it and move on; any other error aborts the source.
type remoteError struct {
	err error
}

func (e *remoteError) Error() string { return e.err.Error() }
func (e *remoteError) Unwrap() error { return e.err }

func isRemote(err error) bool {
	var re *remoteError
	return errors.As(err, &re)
}

// callbackError carries an error raised inside a decoder callback so it can
// be told apart from a decoding failure.
type callbackError struct {
	err error
}

func (e *callbackError) Error() string { return e.err.Error() }
func (e *callbackError) Unwrap() error { return e.err }

func callback(err error) error {
	if err == nil {
		return nil
	}
	return &callbackError{err}
}

// decodeErr unwraps callback errors and marks everything else the decoder
// returned as a remote failure.
func decodeErr(err error) error {
	if err == nil {
		return nil
	}
	var cb *callbackError
	if errors.As(err, &cb) {
		return cb.err
	}
	return &remoteError{fmt.Errorf("failed to decode response: %w", err)}
}

// resolveAccount maps a username to its guid, fetching and storing the user
// once when it is not known locally.
func (o *Orchestrator) resolveAccount(ctx context.Context, r *run, username string) (string, error) {
	guid, err := o.store.MapUsername(ctx, username)
	if err == nil {
		return guid, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	data, err := o.remote.UserDetails(ctx, UserRef{Username: username})
	if err != nil {
		return "", fmt.Errorf("failed to fetch account %s: %w", username, err)
	}
	u, err := o.decoder.User(data)
	if err != nil {
		return "", fmt.Errorf("failed to decode account %s: %w", username, err)
	}
	if err := o.store.SaveUser(ctx, u); err != nil {
		return "", err
	}
	r.UsersWritten++
	r.log.Debug("resolved account remotely", zap.String("guid", u.GUID))
	return u.GUID, nil
}

// ensureUser makes sure a user row exists for guid, fetching its details
// when missing. Remote failures come back as *remoteError.
func (o *Orchestrator) ensureUser(ctx context.Context, r *run, guid string) error {
	ok, err := o.store.UserExists(ctx, guid)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := o.remote.UserDetails(ctx, UserRef{GUID: guid})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &remoteError{fmt.Errorf("failed to fetch user %s: %w", guid, err)}
	}
	u, err := o.decoder.User(data)
	if err != nil {
		return &remoteError{fmt.Errorf("failed to decode user %s: %w", guid, err)}
	}
	if u.GUID != guid {
		return &remoteError{fmt.Errorf("lookup of user %s returned %s", guid, u.GUID)}
	}
	if err := o.store.SaveUser(ctx, u); err != nil {
		return err
	}
	r.UsersWritten++
	return nil
}

// saveAuthor upserts a user embedded in a status or list. An embedded user
// that does not validate, such as the bare id of a trimmed response, never
// overwrites the stored row; it is looked up by guid instead.
func (o *Orchestrator) saveAuthor(ctx context.Context, r *run, u schema.User) error {
	if u.Validate() != nil {
		return o.ensureUser(ctx, r, u.GUID)
	}
	if err := o.store.SaveUser(ctx, u); err != nil {
		return err
	}
	r.UsersWritten++
	return nil
}

// storeStatus writes the author and the status, then places it with place.
// A status whose author cannot be resolved is counted as a failure and
// skipped.
func (o *Orchestrator) storeStatus(ctx context.Context, r *run, st schema.Status, author schema.User, place func(statusGUID string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := o.saveAuthor(ctx, r, author); err != nil {
		if !isRemote(err) {
			return err
		}
		r.Failures++
		r.log.Warn("skipping status", zap.String("status", st.GUID), zap.Error(err))
		return nil
	}

	created, err := o.store.SaveStatus(ctx, st)
	if err != nil {
		return err
	}
	if created {
		r.NewStatuses++
	}
	return place(st.GUID)
}

// NeedsSync reports whether source is due for account: never synced, or
// last synced at least interval ago. Unknown accounts are always due.
func (o *Orchestrator) NeedsSync(ctx context.Context, source schema.Source, account string, interval time.Duration) (bool, error) {
	guid, err := o.store.MapUsername(ctx, account)
	if errors.Is(err, store.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	last, err := o.store.GetLastSync(ctx, source, guid)
	if err != nil {
		return false, err
	}
	if last.IsZero() {
		return true, nil
	}
	return o.now().Sub(last) >= interval, nil
}

// FetchUserTimeline returns the newest statuses of any user without storing
// them. Responses are served from the cache while fresh.
func (o *Orchestrator) FetchUserTimeline(ctx context.Context, username string) ([]schema.TimelineItem, error) {
	key := "user_timeline:" + strings.ToLower(username)

	var data []byte
	if o.cache != nil {
		if cached, ok := o.cache.Load(key); ok {
			data = cached
		}
	}
	if data == nil {
		var err error
		data, err = o.remote.UserTimeline(ctx, username, "")
		if err != nil {
			return nil, fmt.Errorf("failed to fetch timeline of %s: %w", username, err)
		}
		if o.cache != nil && !o.cache.Save(key, data, o.userTimelineTTL) {
			o.logger.Debug("user timeline too large to cache", zap.String("user", username), zap.Int("size", len(data)))
		}
	}

	var items []schema.TimelineItem
	err := o.decoder.Statuses(data, func(st schema.Status, author schema.User) error {
		items = append(items, schema.TimelineItem{Status: st, Author: author})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode timeline of %s: %w", username, err)
	}
	return items, nil
}
