package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roost-app/roost/internal/schema"
	roostsync "github.com/roost-app/roost/internal/sync"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeSyncer records runs as "source/account".
type fakeSyncer struct {
	mu      gosync.Mutex
	calls   []string
	members []bool
	fresh   map[string]bool
	errs    map[string]error
	gateErr error
	onRun   func(key string)
	delay   time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
}

func newFakeSyncer() *fakeSyncer {
	return &fakeSyncer{fresh: map[string]bool{}, errs: map[string]error{}}
}

func (f *fakeSyncer) run(ctx context.Context, source schema.Source, account string) (roostsync.Report, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	key := source.String() + "/" + account
	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.mu.Unlock()
	if f.onRun != nil {
		f.onRun(key)
	}

	r := roostsync.Report{Source: source, SourceName: source.String(), Account: account}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return r, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return r, err
	}
	err := f.errs[key]
	r.Complete = err == nil
	return r, err
}

func (f *fakeSyncer) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSyncer) UpdateTimelines(ctx context.Context, account string) (roostsync.Report, error) {
	return f.run(ctx, schema.SourceTimelines, account)
}

func (f *fakeSyncer) UpdateLists(ctx context.Context, account string, members bool) (roostsync.Report, error) {
	f.mu.Lock()
	f.members = append(f.members, members)
	f.mu.Unlock()
	return f.run(ctx, schema.SourceLists, account)
}

func (f *fakeSyncer) UpdateFriends(ctx context.Context, account string) (roostsync.Report, error) {
	return f.run(ctx, schema.SourceFriends, account)
}

func (f *fakeSyncer) UpdateFollowers(ctx context.Context, account string) (roostsync.Report, error) {
	return f.run(ctx, schema.SourceFollowers, account)
}

func (f *fakeSyncer) NeedsSync(_ context.Context, source schema.Source, account string, _ time.Duration) (bool, error) {
	if f.gateErr != nil {
		return false, f.gateErr
	}
	return !f.fresh[source.String()+"/"+account], nil
}

type recordingPublisher struct {
	mu      gosync.Mutex
	reports []roostsync.Report
}

func (p *recordingPublisher) PublishReport(r roostsync.Report) {
	p.mu.Lock()
	p.reports = append(p.reports, r)
	p.mu.Unlock()
}

func newTestDaemon(t *testing.T, f *fakeSyncer, cfg *Config) *Daemon {
	t.Helper()
	d, err := New(f, cfg)
	require.NoError(t, err)
	return d
}

func TestNew_RequiresSyncer(t *testing.T) {
	_, err := New(nil, nil)
	require.Error(t, err)
}

func TestRunAccount_FixedOrder(t *testing.T) {
	f := newFakeSyncer()
	pub := &recordingPublisher{}
	d := newTestDaemon(t, f, &Config{Accounts: []string{"alice"}, ListMembers: true, Publisher: pub})

	reports, err := d.RunAccount(context.Background(), "alice")
	require.NoError(t, err)

	assert.Equal(t, []string{"timelines/alice", "lists/alice", "friends/alice", "followers/alice"}, f.callList())
	assert.Equal(t, []bool{true}, f.members)
	assert.Len(t, reports, 4)
	assert.Len(t, pub.reports, 4)
}

func TestRunAccount_SkipsFreshSources(t *testing.T) {
	f := newFakeSyncer()
	f.fresh["timelines/alice"] = true
	f.fresh["followers/alice"] = true
	d := newTestDaemon(t, f, &Config{})

	_, err := d.RunAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"lists/alice", "friends/alice"}, f.callList())
}

func TestRunAccount_MembersGateMakesListsDue(t *testing.T) {
	f := newFakeSyncer()
	f.fresh["timelines/alice"] = true
	f.fresh["lists/alice"] = true
	f.fresh["friends/alice"] = true
	f.fresh["followers/alice"] = true

	d := newTestDaemon(t, f, &Config{ListMembers: false})
	_, err := d.RunAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Empty(t, f.callList())

	d = newTestDaemon(t, f, &Config{ListMembers: true})
	_, err = d.RunAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"lists/alice"}, f.callList(), "stale list-members checkpoint makes lists due")
}

func TestRunAccount_ForceIgnoresCheckpoints(t *testing.T) {
	f := newFakeSyncer()
	for _, s := range []string{"timelines", "lists", "friends", "followers"} {
		f.fresh[s+"/alice"] = true
	}
	f.gateErr = errors.New("must not be consulted")
	d := newTestDaemon(t, f, &Config{Force: true})

	_, err := d.RunAccount(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, f.callList(), 4)
}

func TestRunAccount_FailureDoesNotStopNextSource(t *testing.T) {
	f := newFakeSyncer()
	boom := errors.New("remote down")
	f.errs["lists/alice"] = boom
	f.errs["friends/alice"] = fmt.Errorf("%w: 2 item(s) failed", roostsync.ErrIncomplete)
	d := newTestDaemon(t, f, &Config{})

	reports, err := d.RunAccount(context.Background(), "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.True(t, errors.Is(err, roostsync.ErrIncomplete))
	assert.Len(t, f.callList(), 4)
	require.Len(t, reports, 4)
	assert.False(t, reports[1].Complete)
	assert.True(t, reports[3].Complete)
}

func TestRunAccount_GateErrorSkipsSource(t *testing.T) {
	f := newFakeSyncer()
	f.gateErr = errors.New("disk I/O error")
	d := newTestDaemon(t, f, &Config{})

	_, err := d.RunAccount(context.Background(), "alice")
	require.Error(t, err)
	assert.ErrorContains(t, err, "checkpoint")
	assert.Empty(t, f.callList())
}

func TestRunAccount_CancelStopsSequence(t *testing.T) {
	f := newFakeSyncer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.onRun = func(key string) {
		if key == "lists/alice" {
			cancel()
		}
	}
	d := newTestDaemon(t, f, &Config{})

	_, err := d.RunAccount(ctx, "alice")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, []string{"timelines/alice", "lists/alice"}, f.callList())
}

func TestRunOnce_AllAccountsWithLimit(t *testing.T) {
	f := newFakeSyncer()
	f.delay = 5 * time.Millisecond
	f.errs["friends/bob"] = errors.New("bob failed")
	d := newTestDaemon(t, f, &Config{
		Accounts:    []string{"alice", "bob", "carol", " ", "ALICE"},
		Concurrency: 1,
	})
	assert.Equal(t, []string{"alice", "bob", "carol"}, d.Accounts())

	reports, err := d.RunOnce(context.Background())
	require.Error(t, err)
	assert.ErrorContains(t, err, "bob")
	assert.Len(t, reports, 12)
	assert.Equal(t, int32(1), f.maxActive.Load())

	for i, r := range reports {
		want := []string{"alice", "bob", "carol"}[i/4]
		assert.Equal(t, want, r.Account, "reports are grouped by account in order")
	}
}

func TestRunOnce_Concurrent(t *testing.T) {
	f := newFakeSyncer()
	f.delay = 20 * time.Millisecond
	d := newTestDaemon(t, f, &Config{Accounts: []string{"a", "b", "c", "d"}, Concurrency: 4})

	_, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Greater(t, f.maxActive.Load(), int32(1))
	assert.LessOrEqual(t, f.maxActive.Load(), int32(4))
}

func TestStart_RunsUntilCancelled(t *testing.T) {
	f := newFakeSyncer()
	d := newTestDaemon(t, f, &Config{Accounts: []string{"alice"}, PollInterval: 10 * time.Millisecond, Force: true})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()

	require.Eventually(t, func() bool { return len(f.callList()) >= 8 }, 2*time.Second, 5*time.Millisecond,
		"expected at least two passes")

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestStop(t *testing.T) {
	f := newFakeSyncer()
	d := newTestDaemon(t, f, &Config{Accounts: []string{"alice"}, PollInterval: time.Hour})

	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(context.Background()) }()
	require.Eventually(t, func() bool { return len(f.callList()) == 4 }, 2*time.Second, 5*time.Millisecond)

	d.Stop()
	require.NoError(t, <-errCh)
	d.Stop()
}

func TestStart_ReloadsAccountsOnConfigChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "roost.toml")
	require.NoError(t, os.WriteFile(path, []byte("alice"), 0o600))

	reload := func() ([]string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return strings.Fields(string(data)), nil
	}

	f := newFakeSyncer()
	d := newTestDaemon(t, f, &Config{
		Accounts:         []string{"alice"},
		PollInterval:     time.Hour,
		ConfigPath:       path,
		Reload:           reload,
		DebounceInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Start(ctx) }()
	require.Eventually(t, func() bool { return len(f.callList()) == 4 }, 2*time.Second, 5*time.Millisecond)

	// An unrelated file in the same directory is ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("mallory"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("alice bob"), 0o600))

	require.Eventually(t, func() bool {
		return len(d.Accounts()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"alice", "bob"}, d.Accounts())

	// A config without accounts keeps the previous list.
	require.NoError(t, os.WriteFile(path, []byte(""), 0o600))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"alice", "bob"}, d.Accounts())

	cancel()
	require.NoError(t, <-errCh)
}
