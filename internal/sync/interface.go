package sync

import (
	"context"
	"time"

	"github.com/roost-app/roost/internal/schema"
)

// Pagination sentinels. Cursors are opaque: they are only ever compared
// against these two values.
const (
	// FirstCursor requests the first page of a paginated endpoint.
	FirstCursor = "-1"
	// LastCursor is returned as the next cursor on the final page.
	LastCursor = "0"
)

// UserRef names a remote user either by guid or by username.
type UserRef struct {
	GUID     string
	Username string
}

// RemoteClient fetches encoded responses from the remote service.
//
// Every method returns the raw body. Failures are returned as errors;
// implementations must return ctx.Err() promptly once ctx is cancelled.
type RemoteClient interface {
	// HomeTimeline returns the newest statuses from accounts owner follows.
	HomeTimeline(ctx context.Context, owner, cursor string) ([]byte, error)

	// Mentions returns the newest statuses mentioning owner.
	Mentions(ctx context.Context, owner, cursor string) ([]byte, error)

	// UserTimeline returns the newest statuses written by owner.
	UserTimeline(ctx context.Context, owner, cursor string) ([]byte, error)

	// ListTimeline returns the newest statuses of a list.
	ListTimeline(ctx context.Context, owner, listGUID, cursor string) ([]byte, error)

	// Lists returns the lists owner owns or subscribes to.
	Lists(ctx context.Context, owner string) ([]byte, error)

	// ListMembers returns one page of member ids of a list.
	ListMembers(ctx context.Context, owner, listGUID, cursor string) ([]byte, error)

	// Friends returns one page of ids of accounts user follows.
	Friends(ctx context.Context, user, cursor string) ([]byte, error)

	// Followers returns one page of ids of accounts following user.
	Followers(ctx context.Context, user, cursor string) ([]byte, error)

	// UserDetails returns a single user object.
	UserDetails(ctx context.Context, ref UserRef) ([]byte, error)
}

// Decoder push-parses RemoteClient bodies. A callback error stops decoding
// and is returned unchanged.
type Decoder interface {
	Statuses(data []byte, fn func(schema.Status, schema.User) error) error
	Lists(data []byte, fn func(schema.List, schema.User) error) error
	User(data []byte) (schema.User, error)

	// IDs decodes one page of ids and returns the next cursor.
	IDs(data []byte, fn func(string) error) (next string, err error)
}

// Cache holds derived, re-fetchable responses.
type Cache interface {
	Save(key string, data []byte, lifetime time.Duration) bool
	Load(key string) ([]byte, bool)
}

// LocalStore is the part of the local store the orchestrator writes to.
// Lookups that match nothing return an error wrapping store.ErrNotFound.
type LocalStore interface {
	MapUsername(ctx context.Context, username string) (string, error)
	SaveUser(ctx context.Context, u schema.User) error
	UserExists(ctx context.Context, guid string) (bool, error)
	SaveStatus(ctx context.Context, st schema.Status) (bool, error)
	SaveList(ctx context.Context, l schema.List) error

	AppendStatusToTimeline(ctx context.Context, kind schema.TimelineKind, userGUID, statusGUID string) error
	AppendStatusToList(ctx context.Context, listGUID, statusGUID string) error

	ForEachList(ctx context.Context, ownerGUID string, fn func(schema.List) error) error
	CountListStatuses(ctx context.Context, listGUID string) (int, error)
	RemoveList(ctx context.Context, listGUID string) error
	RemoveListMembers(ctx context.Context, listGUID string) error
	AddListMember(ctx context.Context, listGUID, userGUID string) error

	AddFollower(ctx context.Context, userGUID, followerGUID string) error
	RemoveFollower(ctx context.Context, userGUID, followerGUID string) error
	ForEachFollower(ctx context.Context, userGUID string, fn func(schema.User) error) error
	ForEachFriend(ctx context.Context, userGUID string, fn func(schema.User) error) error

	GetLastSync(ctx context.Context, source schema.Source, userGUID string) (time.Time, error)
	SetLastSync(ctx context.Context, source schema.Source, userGUID string, at time.Time) error
}
