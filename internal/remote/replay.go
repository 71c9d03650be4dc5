package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"

	roostsync "github.com/roost-app/roost/internal/sync"
)

// ErrNoRecording is returned by ReplayClient for a request with no
// matching recording.
var ErrNoRecording = errors.New("no recording for request")

// Endpoint names used in recordings.
const (
	EndpointHome         = "home_timeline"
	EndpointMentions     = "mentions"
	EndpointUserTimeline = "user_timeline"
	EndpointListTimeline = "list_timeline"
	EndpointLists        = "lists"
	EndpointListMembers  = "list_members"
	EndpointFriends      = "friends"
	EndpointFollowers    = "followers"
	EndpointUser         = "user"
)

// Recording is one line of a replay file.
type Recording struct {
	Endpoint string          `json:"endpoint"`
	Owner    string          `json:"owner,omitempty"`
	List     string          `json:"list,omitempty"`
	Cursor   string          `json:"cursor,omitempty"`
	ID       string          `json:"id,omitempty"`
	Body     json.RawMessage `json:"body"`
}

func (r Recording) key() string {
	return strings.Join([]string{r.Endpoint, strings.ToLower(r.Owner), r.List, r.Cursor, r.ID}, "\x00")
}

// ReplayClient serves recorded responses. It never touches the network.
type ReplayClient struct {
	bodies map[string][]byte
}

var _ roostsync.RemoteClient = (*ReplayClient)(nil)

// NewReplay builds a client from recordings. Later recordings for the same
// request win.
func NewReplay(recs []Recording) *ReplayClient {
	c := &ReplayClient{bodies: make(map[string][]byte, len(recs))}
	for _, r := range recs {
		c.bodies[r.key()] = []byte(r.Body)
	}
	return c
}

// LoadReplay reads a JSONL replay file.
func LoadReplay(path string) (*ReplayClient, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay file: %w", err)
	}
	defer f.Close()

	recs, err := ReadRecordings(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return NewReplay(recs), nil
}

// ReadRecordings parses JSONL recordings. Blank lines are ignored.
func ReadRecordings(r io.Reader) ([]Recording, error) {
	var recs []Recording
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 16<<20)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec Recording
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		if rec.Endpoint == "" {
			return nil, fmt.Errorf("line %d: endpoint is required", lineNum)
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read recordings: %w", err)
	}
	return recs, nil
}

// WriteReplay writes recordings as JSONL, atomically via a temp file.
func WriteReplay(path string, recs []Recording) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create replay directory: %w", err)
	}

	var sb strings.Builder
	for _, r := range recs {
		line, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal recording: %w", err)
		}
		sb.Write(line)
		sb.WriteByte('\n')
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (c *ReplayClient) lookup(ctx context.Context, r Recording) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, ok := c.bodies[r.key()]
	if !ok {
		return nil, fmt.Errorf("%w: %s owner=%q list=%q cursor=%q id=%q", ErrNoRecording, r.Endpoint, r.Owner, r.List, r.Cursor, r.ID)
	}
	return body, nil
}

// HomeTimeline implements sync.RemoteClient.
func (c *ReplayClient) HomeTimeline(ctx context.Context, owner, cursor string) ([]byte, error) {
	return c.lookup(ctx, Recording{Endpoint: EndpointHome, Owner: owner, Cursor: cursor})
}

// Mentions implements sync.RemoteClient.
func (c *ReplayClient) Mentions(ctx context.Context, owner, cursor string) ([]byte, error) {
	return c.lookup(ctx, Recording{Endpoint: EndpointMentions, Owner: owner, Cursor: cursor})
}

// UserTimeline implements sync.RemoteClient.
func (c *ReplayClient) UserTimeline(ctx context.Context, owner, cursor string) ([]byte, error) {
	return c.lookup(ctx, Recording{Endpoint: EndpointUserTimeline, Owner: owner, Cursor: cursor})
}

// ListTimeline implements sync.RemoteClient.
func (c *ReplayClient) ListTimeline(ctx context.Context, owner, listGUID, cursor string) ([]byte, error) {
	return c.lookup(ctx, Recording{Endpoint: EndpointListTimeline, Owner: owner, List: listGUID, Cursor: cursor})
}

// Lists implements sync.RemoteClient.
func (c *ReplayClient) Lists(ctx context.Context, owner string) ([]byte, error) {
	return c.lookup(ctx, Recording{Endpoint: EndpointLists, Owner: owner})
}

// ListMembers implements sync.RemoteClient.
func (c *ReplayClient) ListMembers(ctx context.Context, owner, listGUID, cursor string) ([]byte, error) {
	return c.lookup(ctx, Recording{Endpoint: EndpointListMembers, Owner: owner, List: listGUID, Cursor: cursor})
}

// Friends implements sync.RemoteClient.
func (c *ReplayClient) Friends(ctx context.Context, user, cursor string) ([]byte, error) {
	return c.lookup(ctx, Recording{Endpoint: EndpointFriends, Owner: user, Cursor: cursor})
}

// Followers implements sync.RemoteClient.
func (c *ReplayClient) Followers(ctx context.Context, user, cursor string) ([]byte, error) {
	return c.lookup(ctx, Recording{Endpoint: EndpointFollowers, Owner: user, Cursor: cursor})
}

// UserDetails implements sync.RemoteClient.
func (c *ReplayClient) UserDetails(ctx context.Context, ref roostsync.UserRef) ([]byte, error) {
	return c.lookup(ctx, Recording{Endpoint: EndpointUser, Owner: ref.Username, ID: ref.GUID})
}

// Recorder wraps a RemoteClient and keeps every successful response so a
// live session can be replayed later.
type Recorder struct {
	next roostsync.RemoteClient

	mu   gosync.Mutex
	recs []Recording
}

var _ roostsync.RemoteClient = (*Recorder)(nil)

// NewRecorder wraps next.
func NewRecorder(next roostsync.RemoteClient) *Recorder {
	return &Recorder{next: next}
}

// Recordings returns a copy of everything recorded so far.
func (r *Recorder) Recordings() []Recording {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Recording(nil), r.recs...)
}

func (r *Recorder) keep(rec Recording, body []byte, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		// RawMessage must hold valid JSON to be written back out.
		return body, nil
	}
	rec.Body = append(json.RawMessage(nil), body...)
	r.mu.Lock()
	r.recs = append(r.recs, rec)
	r.mu.Unlock()
	return body, nil
}

// HomeTimeline implements sync.RemoteClient and records the response.
func (r *Recorder) HomeTimeline(ctx context.Context, owner, cursor string) ([]byte, error) {
	body, err := r.next.HomeTimeline(ctx, owner, cursor)
	return r.keep(Recording{Endpoint: EndpointHome, Owner: owner, Cursor: cursor}, body, err)
}

// Mentions implements sync.RemoteClient and records the response.
func (r *Recorder) Mentions(ctx context.Context, owner, cursor string) ([]byte, error) {
	body, err := r.next.Mentions(ctx, owner, cursor)
	return r.keep(Recording{Endpoint: EndpointMentions, Owner: owner, Cursor: cursor}, body, err)
}

// UserTimeline implements sync.RemoteClient and records the response.
func (r *Recorder) UserTimeline(ctx context.Context, owner, cursor string) ([]byte, error) {
	body, err := r.next.UserTimeline(ctx, owner, cursor)
	return r.keep(Recording{Endpoint: EndpointUserTimeline, Owner: owner, Cursor: cursor}, body, err)
}

// ListTimeline implements sync.RemoteClient and records the response.
func (r *Recorder) ListTimeline(ctx context.Context, owner, listGUID, cursor string) ([]byte, error) {
	body, err := r.next.ListTimeline(ctx, owner, listGUID, cursor)
	return r.keep(Recording{Endpoint: EndpointListTimeline, Owner: owner, List: listGUID, Cursor: cursor}, body, err)
}

// Lists implements sync.RemoteClient and records the response.
func (r *Recorder) Lists(ctx context.Context, owner string) ([]byte, error) {
	body, err := r.next.Lists(ctx, owner)
	return r.keep(Recording{Endpoint: EndpointLists, Owner: owner}, body, err)
}

// ListMembers implements sync.RemoteClient and records the response.
func (r *Recorder) ListMembers(ctx context.Context, owner, listGUID, cursor string) ([]byte, error) {
	body, err := r.next.ListMembers(ctx, owner, listGUID, cursor)
	return r.keep(Recording{Endpoint: EndpointListMembers, Owner: owner, List: listGUID, Cursor: cursor}, body, err)
}

// Friends implements sync.RemoteClient and records the response.
func (r *Recorder) Friends(ctx context.Context, user, cursor string) ([]byte, error) {
	body, err := r.next.Friends(ctx, user, cursor)
	return r.keep(Recording{Endpoint: EndpointFriends, Owner: user, Cursor: cursor}, body, err)
}

// Followers implements sync.RemoteClient and records the response.
func (r *Recorder) Followers(ctx context.Context, user, cursor string) ([]byte, error) {
	body, err := r.next.Followers(ctx, user, cursor)
	return r.keep(Recording{Endpoint: EndpointFollowers, Owner: user, Cursor: cursor}, body, err)
}

// UserDetails implements sync.RemoteClient and records the response.
func (r *Recorder) UserDetails(ctx context.Context, ref roostsync.UserRef) ([]byte, error) {
	body, err := r.next.UserDetails(ctx, ref)
	return r.keep(Recording{Endpoint: EndpointUser, Owner: ref.Username, ID: ref.GUID}, body, err)
}
