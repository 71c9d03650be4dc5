// Package decode turns remote JSON responses into schema records.
//
// Responses follow the v1.1 REST layout: statuses carry an embedded author
// object, lists carry an embedded owner, and follow/member pages carry ids
// plus a next cursor. Parsing is push-style: each decoded item is handed to
// a callback as soon as it is read, and a callback error stops the walk.
package decode

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/roost-app/roost/internal/schema"
)

// ErrMalformed is returned when a body is not JSON or lacks a required field.
var ErrMalformed = errors.New("malformed response")

var timeLayouts = []string{
	time.RubyDate,
	time.RFC3339Nano,
	time.RFC1123Z,
}

// Decoder parses JSON bodies. The zero value is not usable; call New.
type Decoder struct {
	logger *zap.Logger
}

// New returns a Decoder. A nil logger disables logging of skipped items.
func New(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{logger: logger}
}

func parse(data []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	return gjson.ParseBytes(data), nil
}

// items returns the array at root, or the array under one of keys when root
// is an object.
func items(root gjson.Result, keys ...string) []gjson.Result {
	if root.IsArray() {
		return root.Array()
	}
	for _, k := range keys {
		if v := root.Get(k); v.IsArray() {
			return v.Array()
		}
	}
	return nil
}

// idOf reads id_str, falling back to a raw numeric or string id so large
// numbers never pass through float64.
func idOf(r gjson.Result) string {
	if s := r.Get("id_str"); s.Exists() && s.String() != "" {
		return s.String()
	}
	return rawID(r.Get("id"))
}

func rawID(id gjson.Result) string {
	switch id.Type {
	case gjson.Number:
		return id.Raw
	case gjson.String:
		return id.Str
	default:
		return ""
	}
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

func parseTime(v gjson.Result) (time.Time, error) {
	if v.Type == gjson.Number {
		return time.Unix(v.Int(), 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v.String()); err == nil {
			return t.UTC(), nil
		}
	}
	if n, err := strconv.ParseInt(v.String(), 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised timestamp %q", ErrMalformed, v.String())
}

func userFrom(r gjson.Result) schema.User {
	return schema.User{
		GUID:     idOf(r),
		Username: firstString(r, "screen_name", "username"),
		Name:     r.Get("name").String(),
		Avatar:   firstString(r, "profile_image_url_https", "profile_image_url", "avatar"),
		Location: r.Get("location").String(),
		Website:  r.Get("url").String(),
		Bio:      firstString(r, "description", "bio"),
	}
}

// User decodes a single user object.
func (d *Decoder) User(data []byte) (schema.User, error) {
	root, err := parse(data)
	if err != nil {
		return schema.User{}, err
	}
	// Lookup endpoints wrap a single user in an array.
	if root.IsArray() {
		arr := root.Array()
		if len(arr) == 0 {
			return schema.User{}, fmt.Errorf("%w: empty user lookup", ErrMalformed)
		}
		root = arr[0]
	}
	u := userFrom(root)
	if u.GUID == "" || u.Username == "" {
		return schema.User{}, fmt.Errorf("%w: user without id or screen_name", ErrMalformed)
	}
	return u, nil
}

// Statuses decodes a timeline page and calls fn once per status with its
// author. Items without a status id or an author id are skipped.
func (d *Decoder) Statuses(data []byte, fn func(schema.Status, schema.User) error) error {
	root, err := parse(data)
	if err != nil {
		return err
	}

	for _, it := range items(root, "statuses", "data") {
		st := schema.Status{
			GUID: idOf(it),
			Text: firstString(it, "full_text", "text"),
			Read: it.Get("read").Bool(),
		}
		st.PrevGUID = firstString(it, "in_reply_to_status_id_str", "quoted_status_id_str")
		if st.PrevGUID == "" {
			st.PrevGUID = rawID(it.Get("in_reply_to_status_id"))
		}

		author := userFrom(it.Get("user"))
		st.AuthorGUID = author.GUID
		if st.GUID == "" || author.GUID == "" {
			d.logger.Debug("skipping status without id", zap.String("raw", truncate(it.Raw, 120)))
			continue
		}

		created, err := parseTime(it.Get("created_at"))
		if err != nil {
			return fmt.Errorf("status %s: %w", st.GUID, err)
		}
		st.CreatedAt = created

		if err := fn(st, author); err != nil {
			return err
		}
	}
	return nil
}

// Lists decodes a list index and calls fn once per list with its owner.
func (d *Decoder) Lists(data []byte, fn func(schema.List, schema.User) error) error {
	root, err := parse(data)
	if err != nil {
		return err
	}

	for _, it := range items(root, "lists") {
		owner := userFrom(it.Get("user"))
		l := schema.List{
			GUID:        idOf(it),
			OwnerGUID:   owner.GUID,
			Name:        firstString(it, "slug", "name"),
			FullName:    it.Get("full_name").String(),
			URI:         it.Get("uri").String(),
			Description: it.Get("description").String(),
			Protected:   it.Get("mode").String() == "private" || it.Get("protected").Bool(),
			Subscribers: int(it.Get("subscriber_count").Int()),
			Members:     int(it.Get("member_count").Int()),
		}
		if l.GUID == "" || owner.GUID == "" {
			d.logger.Debug("skipping list without id", zap.String("raw", truncate(it.Raw, 120)))
			continue
		}
		if err := fn(l, owner); err != nil {
			return err
		}
	}
	return nil
}

// IDs decodes a cursor page of user ids, calling fn per id, and returns the
// next cursor. Ids may be strings, numbers, or user objects.
func (d *Decoder) IDs(data []byte, fn func(string) error) (string, error) {
	root, err := parse(data)
	if err != nil {
		return "", err
	}

	for _, it := range items(root, "ids", "users") {
		var id string
		if it.IsObject() {
			id = idOf(it)
		} else {
			id = rawID(it)
		}
		if id == "" {
			continue
		}
		if err := fn(id); err != nil {
			return "", err
		}
	}

	next := root.Get("next_cursor_str").String()
	if next == "" {
		next = rawID(root.Get("next_cursor"))
	}
	return next, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
