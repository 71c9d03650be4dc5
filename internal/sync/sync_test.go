package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roost-app/roost/internal/cache"
	"github.com/roost-app/roost/internal/decode"
	"github.com/roost-app/roost/internal/schema"
	"github.com/roost-app/roost/internal/store"
)

// fakeRemote serves canned bodies keyed by "endpoint/arg[/cursor]".
type fakeRemote struct {
	pages  map[string]string
	errs   map[string]error
	calls  []string
	onCall func(key string)
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{pages: map[string]string{}, errs: map[string]error{}}
}

// get records every call, including ones made after cancellation.
func (f *fakeRemote) get(ctx context.Context, key string) ([]byte, error) {
	f.calls = append(f.calls, key)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.onCall != nil {
		f.onCall(key)
	}
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if body, ok := f.pages[key]; ok {
		return []byte(body), nil
	}
	return nil, fmt.Errorf("no fixture for %s", key)
}

func (f *fakeRemote) called(prefix string) int {
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeRemote) HomeTimeline(ctx context.Context, owner, _ string) ([]byte, error) {
	return f.get(ctx, "home/"+owner)
}

func (f *fakeRemote) Mentions(ctx context.Context, owner, _ string) ([]byte, error) {
	return f.get(ctx, "mentions/"+owner)
}

func (f *fakeRemote) UserTimeline(ctx context.Context, owner, _ string) ([]byte, error) {
	return f.get(ctx, "user/"+owner)
}

func (f *fakeRemote) ListTimeline(ctx context.Context, _, list, _ string) ([]byte, error) {
	return f.get(ctx, "list_timeline/"+list)
}

func (f *fakeRemote) Lists(ctx context.Context, owner string) ([]byte, error) {
	return f.get(ctx, "lists/"+owner)
}

func (f *fakeRemote) ListMembers(ctx context.Context, _, list, cursor string) ([]byte, error) {
	return f.get(ctx, "members/"+list+"/"+cursor)
}

func (f *fakeRemote) Friends(ctx context.Context, user, cursor string) ([]byte, error) {
	return f.get(ctx, "friends/"+user+"/"+cursor)
}

func (f *fakeRemote) Followers(ctx context.Context, user, cursor string) ([]byte, error) {
	return f.get(ctx, "followers/"+user+"/"+cursor)
}

func (f *fakeRemote) UserDetails(ctx context.Context, ref UserRef) ([]byte, error) {
	if ref.GUID != "" {
		return f.get(ctx, "user_details/"+ref.GUID)
	}
	return f.get(ctx, "user_details/"+ref.Username)
}

func userJSON(guid, username string) string {
	return fmt.Sprintf(`{"id_str": %q, "screen_name": %q, "name": %q}`, guid, username, strings.ToUpper(username))
}

func statusJSON(guid, authorGUID, author string, minute int) string {
	ts := time.Date(2024, 5, 1, 12, minute, 0, 0, time.UTC).Format(time.RFC3339)
	return fmt.Sprintf(`{"id_str": %q, "text": "status %s", "created_at": %q, "user": %s}`,
		guid, guid, ts, userJSON(authorGUID, author))
}

// trimmedStatusJSON is a status whose author carries only an id.
func trimmedStatusJSON(guid, authorGUID string, minute int) string {
	ts := time.Date(2024, 5, 1, 12, minute, 0, 0, time.UTC).Format(time.RFC3339)
	return fmt.Sprintf(`{"id_str": %q, "text": "status %s", "created_at": %q, "user": {"id_str": %q}}`,
		guid, guid, ts, authorGUID)
}

func idsJSON(next string, ids ...string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	return fmt.Sprintf(`{"ids": [%s], "next_cursor_str": %q}`, strings.Join(quoted, ","), next)
}

var now = time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *store.Store
	remote *fakeRemote
	orch   *Orchestrator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "roost.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	remote := newFakeRemote()
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	return &fixture{
		store:  st,
		remote: remote,
		orch:   New(st, remote, decode.New(nil), opts...),
	}
}

func (f *fixture) seedUsers(t *testing.T, users ...schema.User) {
	t.Helper()
	for _, u := range users {
		require.NoError(t, f.store.SaveUser(context.Background(), u))
	}
}

var (
	alice = schema.User{GUID: "a", Username: "alice"}
	bob   = schema.User{GUID: "b", Username: "bob"}
	carol = schema.User{GUID: "c", Username: "carol"}
)

func (f *fixture) timelineGUIDs(t *testing.T, kind schema.TimelineKind, userGUID string) []string {
	t.Helper()
	var out []string
	require.NoError(t, f.store.ForEachStatusInTimeline(context.Background(), kind, userGUID, 0, func(it schema.TimelineItem) error {
		out = append(out, it.Status.GUID)
		return nil
	}))
	return out
}

func (f *fixture) friendsOf(t *testing.T, guid string) []string {
	t.Helper()
	var out []string
	require.NoError(t, f.store.ForEachFriend(context.Background(), guid, func(u schema.User) error {
		out = append(out, u.GUID)
		return nil
	}))
	return out
}

func TestUpdateTimelines_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.remote.pages["user_details/alice"] = userJSON("a", "alice")
	f.remote.pages["home/alice"] = "[" + statusJSON("s1", "u1", "bob", 1) + "]"
	f.remote.pages["mentions/alice"] = "[" + statusJSON("s2", "u2", "carol", 2) + "]"
	f.remote.pages["user/alice"] = "[" + statusJSON("s3", "a", "alice", 3) + "]"

	rep, err := f.orch.UpdateTimelines(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, rep.Complete)
	assert.Equal(t, 3, rep.NewStatuses)
	assert.Equal(t, "timelines", rep.SourceName)
	assert.NotEmpty(t, rep.RunID)

	rep, err = f.orch.UpdateTimelines(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, rep.NewStatuses)
	assert.Equal(t, 1, f.remote.called("user_details/"), "account resolved remotely only once")

	assert.Equal(t, []string{"s1"}, f.timelineGUIDs(t, schema.KindPublic, "a"))
	assert.Equal(t, []string{"s2"}, f.timelineGUIDs(t, schema.KindReplies, "a"))
	assert.Equal(t, []string{"s3"}, f.timelineGUIDs(t, schema.KindUser, "a"))

	counts, err := f.store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Statuses)
	assert.Equal(t, 3, counts.Timeline)

	last, err := f.store.GetLastSync(ctx, schema.SourceTimelines, "a")
	require.NoError(t, err)
	assert.True(t, last.Equal(now))
}

func TestUpdateTimelines_RemoteFailureAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUsers(t, alice)

	f.remote.pages["home/alice"] = "[" + statusJSON("s1", "b", "bob", 1) + "]"
	f.remote.errs["mentions/alice"] = errors.New("503")

	rep, err := f.orch.UpdateTimelines(ctx, "alice")
	require.Error(t, err)
	assert.False(t, rep.Complete)
	assert.Equal(t, 0, f.remote.called("user/"))

	// Earlier results are kept, the checkpoint is not.
	assert.Equal(t, []string{"s1"}, f.timelineGUIDs(t, schema.KindPublic, "a"))
	last, err := f.store.GetLastSync(ctx, schema.SourceTimelines, "a")
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestUpdateTimelines_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.seedUsers(t, alice)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.remote.pages["home/alice"] = "[" + statusJSON("s1", "b", "bob", 1) + "]"
	f.remote.pages["mentions/alice"] = "[]"
	f.remote.pages["user/alice"] = "[]"
	f.remote.onCall = func(key string) {
		if key == "home/alice" {
			cancel()
		}
	}

	rep, err := f.orch.UpdateTimelines(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, rep.Complete)
	assert.Equal(t, []string{"home/alice"}, f.remote.calls)
}

func TestUpdateTimelines_TrimmedAuthors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUsers(t, alice, schema.User{GUID: "b", Username: "bob", Name: "Bob B.", Bio: "hello"})

	f.remote.pages["home/alice"] = "[" + strings.Join([]string{
		trimmedStatusJSON("s1", "b", 1),
		trimmedStatusJSON("s2", "x", 2),
		statusJSON("s3", "c", "carol", 3),
		trimmedStatusJSON("s4", "d", 4),
	}, ",") + "]"
	f.remote.pages["mentions/alice"] = "[]"
	f.remote.pages["user/alice"] = "[]"
	f.remote.errs["user_details/x"] = errors.New("suspended")
	f.remote.pages["user_details/d"] = userJSON("d", "dave")

	rep, err := f.orch.UpdateTimelines(ctx, "alice")
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, 1, rep.Failures)
	assert.Equal(t, 3, rep.NewStatuses)

	assert.ElementsMatch(t, []string{"s1", "s3", "s4"}, f.timelineGUIDs(t, schema.KindPublic, "a"))
	assert.Equal(t, 0, f.remote.called("user_details/b"), "known author not refetched")

	got, err := f.store.GetUser(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, schema.User{GUID: "b", Username: "bob", Name: "Bob B.", Bio: "hello"}, got)

	guid, err := f.store.MapUsername(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, "d", guid)

	last, err := f.store.GetLastSync(ctx, schema.SourceTimelines, "a")
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestUpdateFriends_CancelledMidWalk(t *testing.T) {
	f := newFixture(t)
	f.seedUsers(t, alice, bob, carol)
	require.NoError(t, f.store.AddFollower(context.Background(), "c", "a"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.remote.pages["friends/alice/-1"] = idsJSON("5", "b", "d")
	f.remote.pages["friends/alice/5"] = idsJSON("0", "e")
	f.remote.pages["user_details/d"] = userJSON("d", "dave")
	f.remote.pages["user_details/e"] = userJSON("e", "erin")
	f.remote.onCall = func(key string) {
		if key == "friends/alice/-1" {
			cancel()
		}
	}

	rep, err := f.orch.UpdateFriends(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, rep.Complete)
	assert.Equal(t, []string{"friends/alice/-1"}, f.remote.calls)

	// Nothing was deleted before the walk finished.
	assert.Equal(t, []string{"c"}, f.friendsOf(t, "a"))
	last, err := f.store.GetLastSync(context.Background(), schema.SourceFriends, "a")
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestUpdateFriends_RemovesMissingEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUsers(t, alice, bob, carol)

	// alice follows bob and carol locally.
	require.NoError(t, f.store.AddFollower(ctx, "b", "a"))
	require.NoError(t, f.store.AddFollower(ctx, "c", "a"))

	f.remote.pages["friends/alice/-1"] = idsJSON("5", "b", "d")
	f.remote.pages["friends/alice/5"] = idsJSON("0")
	f.remote.pages["user_details/d"] = userJSON("d", "dave")

	rep, err := f.orch.UpdateFriends(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Removed)
	assert.Equal(t, 1, rep.UsersWritten)

	if diff := cmp.Diff([]string{"b", "d"}, f.friendsOf(t, "a")); diff != "" {
		t.Errorf("friends mismatch (-want +got):\n%s", diff)
	}

	// Second pass: bob is known, dave is now known too.
	_, err = f.orch.UpdateFriends(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, f.remote.called("user_details/d"))

	last, err := f.store.GetLastSync(ctx, schema.SourceFriends, "a")
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestUpdateFriends_PageFailureKeepsEdges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUsers(t, alice, bob, carol)
	require.NoError(t, f.store.AddFollower(ctx, "b", "a"))
	require.NoError(t, f.store.AddFollower(ctx, "c", "a"))

	f.remote.pages["friends/alice/-1"] = idsJSON("5", "b")
	f.remote.errs["friends/alice/5"] = errors.New("timeout")

	_, err := f.orch.UpdateFriends(ctx, "alice")
	require.Error(t, err)

	assert.Equal(t, []string{"b", "c"}, f.friendsOf(t, "a"))
}

func TestUpdateFriends_StuckCursor(t *testing.T) {
	f := newFixture(t)
	f.seedUsers(t, alice)
	f.remote.pages["friends/alice/-1"] = idsJSON("-1", "b")

	_, err := f.orch.UpdateFriends(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrNoCursor)
}

func TestUpdateFollowers_UserFailureIsIncomplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUsers(t, alice, bob)

	f.remote.pages["followers/alice/-1"] = idsJSON("0", "b", "e")
	f.remote.errs["user_details/e"] = errors.New("suspended")

	rep, err := f.orch.UpdateFollowers(ctx, "alice")
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, 1, rep.Failures)

	var followers []string
	require.NoError(t, f.store.ForEachFollower(ctx, "a", func(u schema.User) error {
		followers = append(followers, u.GUID)
		return nil
	}))
	assert.Equal(t, []string{"b"}, followers)

	last, err := f.store.GetLastSync(ctx, schema.SourceFollowers, "a")
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

type listSnapshot struct {
	Lists   []schema.List
	Members map[string][]string
}

func (f *fixture) snapshotLists(t *testing.T, owner string) listSnapshot {
	t.Helper()
	ctx := context.Background()
	snap := listSnapshot{Members: map[string][]string{}}
	require.NoError(t, f.store.ForEachList(ctx, owner, func(l schema.List) error {
		snap.Lists = append(snap.Lists, l)
		return f.store.ForEachListMember(ctx, l.GUID, func(u schema.User) error {
			snap.Members[l.GUID] = append(snap.Members[l.GUID], u.GUID)
			return nil
		})
	}))
	return snap
}

func TestUpdateLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUsers(t, alice, bob)

	// A list that no longer exists remotely.
	require.NoError(t, f.store.SaveList(ctx, schema.List{GUID: "l3", OwnerGUID: "a", Name: "old"}))

	owner := `{"id_str": "a", "screen_name": "alice"}`
	f.remote.pages["lists/alice"] = `{"lists": [
		{"id_str": "l1", "slug": "friends", "member_count": 1, "user": ` + owner + `},
		{"id_str": "l2", "slug": "empty", "user": ` + owner + `}
	]}`
	f.remote.pages["members/l1/-1"] = idsJSON("0", "b")
	f.remote.pages["members/l2/-1"] = idsJSON("0")
	f.remote.pages["list_timeline/l1"] = "[" + statusJSON("s1", "b", "bob", 1) + "]"
	f.remote.pages["list_timeline/l2"] = "[]"

	rep, err := f.orch.UpdateLists(ctx, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Removed)
	assert.Equal(t, 1, rep.NewStatuses)

	first := f.snapshotLists(t, "a")
	require.Len(t, first.Lists, 1)
	assert.Equal(t, "l1", first.Lists[0].GUID)
	assert.Equal(t, []string{"b"}, first.Members["l1"])

	_, err = f.orch.UpdateLists(ctx, "alice", true)
	require.NoError(t, err)

	if diff := cmp.Diff(first, f.snapshotLists(t, "a")); diff != "" {
		t.Errorf("second pass changed lists (-first +second):\n%s", diff)
	}

	for _, src := range []schema.Source{schema.SourceLists, schema.SourceListMembers} {
		last, err := f.store.GetLastSync(ctx, src, "a")
		require.NoError(t, err)
		assert.False(t, last.IsZero(), src.String())
	}
}

func TestUpdateLists_FeedFailureKeepsList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUsers(t, alice)

	f.remote.pages["lists/alice"] = `[{"id_str": "l1", "slug": "x", "user": {"id_str": "a", "screen_name": "alice"}}]`
	f.remote.errs["list_timeline/l1"] = errors.New("rate limited")

	rep, err := f.orch.UpdateLists(ctx, "alice", false)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, 0, rep.Removed)
	assert.Equal(t, 0, f.remote.called("members/"))

	_, err = f.store.GetList(ctx, "l1")
	assert.NoError(t, err)
}

func TestUpdateLists_MembersSpanPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUsers(t, alice, bob)

	f.remote.pages["lists/alice"] = `[{"id_str": "l1", "slug": "x", "user": {"id_str": "a", "screen_name": "alice"}}]`
	f.remote.pages["members/l1/-1"] = idsJSON("7", "b")
	f.remote.pages["members/l1/7"] = idsJSON("0", "c")
	f.remote.pages["user_details/c"] = userJSON("c", "carol")
	f.remote.pages["list_timeline/l1"] = "[" + statusJSON("s1", "b", "bob", 1) + "]"

	rep, err := f.orch.UpdateLists(ctx, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, 2, f.remote.called("members/l1/"))
	assert.Equal(t, 1, f.remote.called("user_details/"))
	assert.Zero(t, rep.Failures)

	snap := f.snapshotLists(t, "a")
	assert.ElementsMatch(t, []string{"b", "c"}, snap.Members["l1"])

	last, err := f.store.GetLastSync(ctx, schema.SourceListMembers, "a")
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestUpdateLists_CancelledDuringMembers(t *testing.T) {
	f := newFixture(t)
	f.seedUsers(t, alice, bob)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.remote.pages["lists/alice"] = `[{"id_str": "l1", "slug": "x", "user": {"id_str": "a", "screen_name": "alice"}}]`
	f.remote.pages["members/l1/-1"] = idsJSON("7", "c")
	f.remote.pages["members/l1/7"] = idsJSON("0", "b")
	f.remote.pages["user_details/c"] = userJSON("c", "carol")
	f.remote.pages["list_timeline/l1"] = "[" + statusJSON("s1", "b", "bob", 1) + "]"
	f.remote.onCall = func(key string) {
		if key == "members/l1/-1" {
			cancel()
		}
	}

	rep, err := f.orch.UpdateLists(ctx, "alice", true)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, rep.Complete)
	assert.Equal(t, []string{"lists/alice", "members/l1/-1"}, f.remote.calls)

	_, err = f.store.GetList(context.Background(), "l1")
	assert.NoError(t, err, "cancellation does not prune")
	for _, src := range []schema.Source{schema.SourceLists, schema.SourceListMembers} {
		last, err := f.store.GetLastSync(context.Background(), src, "a")
		require.NoError(t, err)
		assert.True(t, last.IsZero(), src.String())
	}
}

func TestUpdateLists_TrimmedOwners(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedUsers(t, schema.User{GUID: "a", Username: "alice", Name: "Alice A."})

	f.remote.pages["lists/alice"] = `[
		{"id_str": "l1", "slug": "mine", "user": {"id_str": "a"}},
		{"id_str": "l2", "slug": "theirs", "user": {"id_str": "z"}}
	]`
	f.remote.errs["user_details/z"] = errors.New("suspended")
	f.remote.pages["list_timeline/l1"] = "[" + statusJSON("s1", "a", "alice", 1) + "]"

	rep, err := f.orch.UpdateLists(ctx, "alice", false)
	assert.ErrorIs(t, err, ErrIncomplete)
	assert.Equal(t, 1, rep.Failures)

	_, err = f.store.GetList(ctx, "l1")
	assert.NoError(t, err)
	_, err = f.store.GetList(ctx, "l2")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, f.remote.called("user_details/a"))

	got, err := f.store.GetUser(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
}

func TestNeedsSync(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due, err := f.orch.NeedsSync(ctx, schema.SourceFriends, "alice", time.Hour)
	require.NoError(t, err)
	assert.True(t, due, "unknown account")

	f.seedUsers(t, alice)
	due, err = f.orch.NeedsSync(ctx, schema.SourceFriends, "alice", time.Hour)
	require.NoError(t, err)
	assert.True(t, due, "never synced")

	require.NoError(t, f.store.SetLastSync(ctx, schema.SourceFriends, "a", now.Add(-30*time.Minute)))
	due, err = f.orch.NeedsSync(ctx, schema.SourceFriends, "alice", time.Hour)
	require.NoError(t, err)
	assert.False(t, due)

	due, err = f.orch.NeedsSync(ctx, schema.SourceFriends, "alice", 30*time.Minute)
	require.NoError(t, err)
	assert.True(t, due)
}

func TestFetchUserTimeline_Cached(t *testing.T) {
	c := cache.New(cache.Config{Capacity: 1 << 16})
	f := newFixture(t, WithCache(c), WithUserTimelineTTL(time.Minute))
	ctx := context.Background()

	f.remote.pages["user/Bob"] = "[" + statusJSON("s9", "b", "bob", 0) + "]"

	items, err := f.orch.FetchUserTimeline(ctx, "Bob")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "s9", items[0].Status.GUID)
	assert.Equal(t, "bob", items[0].Author.Username)

	_, err = f.orch.FetchUserTimeline(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, f.remote.called("user/"))

	counts, err := f.store.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Statuses, "derived timelines are not stored")
}
