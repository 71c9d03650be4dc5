// Package remote provides RemoteClient implementations: an HTTP client for
// the v1.1-style REST API and a replay client that serves recorded
// responses from a JSONL file.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	roostsync "github.com/roost-app/roost/internal/sync"
)

// ErrHTTPStatus is wrapped by every *StatusError.
var ErrHTTPStatus = errors.New("unexpected HTTP status")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code     int
	Endpoint string
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d %s", e.Endpoint, e.Code, strings.TrimSpace(e.Body))
}

func (e *StatusError) Unwrap() error { return ErrHTTPStatus }

// Temporary reports whether the request may succeed when retried.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

const maxErrorBody = 512

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	// BaseURL is the API root, e.g. https://api.example.com/1.1/
	BaseURL string
	// Token is sent as a bearer token.
	Token string
	// Timeout bounds each request.
	Timeout time.Duration
	// PageSize is the count requested from timeline endpoints.
	PageSize int
	// Retries for 429 and 5xx responses.
	Retries    uint64
	RetryDelay time.Duration

	Logger *zap.Logger
	Client *http.Client
}

// DefaultHTTPConfig returns sensible defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:    30 * time.Second,
		PageSize:   200,
		Retries:    3,
		RetryDelay: 2 * time.Second,
	}
}

// HTTPClient talks to the remote REST API.
type HTTPClient struct {
	base   *url.URL
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger

	mu      gosync.Mutex
	lastErr string
}

var _ roostsync.RemoteClient = (*HTTPClient)(nil)

// NewHTTPClient validates cfg and returns a client.
func NewHTTPClient(cfg HTTPConfig) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	def := DefaultHTTPConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	return &HTTPClient{base: base, cfg: cfg, client: client, logger: cfg.Logger}, nil
}

// LastError returns the message of the most recent failed request.
func (c *HTTPClient) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *HTTPClient) get(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	u := c.base.ResolveReference(&url.URL{Path: endpoint, RawQuery: q.Encode()})

	var body []byte
	backoff := retry.WithMaxRetries(c.cfg.Retries, retry.NewExponential(c.cfg.RetryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		body, err = c.do(ctx, endpoint, u.String())
		var se *StatusError
		if errors.As(err, &se) && se.Temporary() {
			c.logger.Debug("retrying request", zap.String("endpoint", endpoint), zap.Int("status", se.Code))
			return retry.RetryableError(err)
		}
		return err
	})

	c.mu.Lock()
	if err != nil {
		c.lastErr = err.Error()
	}
	c.mu.Unlock()
	return body, err
}

func (c *HTTPClient) do(ctx context.Context, endpoint, rawURL string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Code: resp.StatusCode, Endpoint: endpoint, Body: string(snippet)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read body: %w", endpoint, err)
	}
	return data, nil
}

func (c *HTTPClient) timelineQuery(cursor string) url.Values {
	q := url.Values{}
	q.Set("count", strconv.Itoa(c.cfg.PageSize))
	q.Set("tweet_mode", "extended")
	if cursor != "" && cursor != roostsync.FirstCursor {
		q.Set("max_id", cursor)
	}
	return q
}

func cursorQuery(cursor string) url.Values {
	q := url.Values{}
	if cursor == "" {
		cursor = roostsync.FirstCursor
	}
	q.Set("cursor", cursor)
	q.Set("stringify_ids", "true")
	return q
}

// HomeTimeline implements sync.RemoteClient.
func (c *HTTPClient) HomeTimeline(ctx context.Context, _, cursor string) ([]byte, error) {
	return c.get(ctx, "statuses/home_timeline.json", c.timelineQuery(cursor))
}

// Mentions implements sync.RemoteClient.
func (c *HTTPClient) Mentions(ctx context.Context, _, cursor string) ([]byte, error) {
	return c.get(ctx, "statuses/mentions_timeline.json", c.timelineQuery(cursor))
}

// UserTimeline implements sync.RemoteClient.
func (c *HTTPClient) UserTimeline(ctx context.Context, owner, cursor string) ([]byte, error) {
	q := c.timelineQuery(cursor)
	q.Set("screen_name", owner)
	return c.get(ctx, "statuses/user_timeline.json", q)
}

// ListTimeline implements sync.RemoteClient.
func (c *HTTPClient) ListTimeline(ctx context.Context, _, listGUID, cursor string) ([]byte, error) {
	q := c.timelineQuery(cursor)
	q.Set("list_id", listGUID)
	return c.get(ctx, "lists/statuses.json", q)
}

// Lists implements sync.RemoteClient.
func (c *HTTPClient) Lists(ctx context.Context, owner string) ([]byte, error) {
	q := url.Values{}
	q.Set("screen_name", owner)
	return c.get(ctx, "lists/list.json", q)
}

// ListMembers implements sync.RemoteClient.
func (c *HTTPClient) ListMembers(ctx context.Context, _, listGUID, cursor string) ([]byte, error) {
	q := cursorQuery(cursor)
	q.Set("list_id", listGUID)
	q.Set("skip_status", "true")
	return c.get(ctx, "lists/members.json", q)
}

// Friends implements sync.RemoteClient.
func (c *HTTPClient) Friends(ctx context.Context, user, cursor string) ([]byte, error) {
	q := cursorQuery(cursor)
	q.Set("screen_name", user)
	return c.get(ctx, "friends/ids.json", q)
}

// Followers implements sync.RemoteClient.
func (c *HTTPClient) Followers(ctx context.Context, user, cursor string) ([]byte, error) {
	q := cursorQuery(cursor)
	q.Set("screen_name", user)
	return c.get(ctx, "followers/ids.json", q)
}

// UserDetails implements sync.RemoteClient.
func (c *HTTPClient) UserDetails(ctx context.Context, ref roostsync.UserRef) ([]byte, error) {
	q := url.Values{}
	if ref.GUID != "" {
		q.Set("user_id", ref.GUID)
	} else {
		q.Set("screen_name", ref.Username)
	}
	return c.get(ctx, "users/show.json", q)
}
