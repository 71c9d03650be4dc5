package decode

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roost-app/roost/internal/schema"
)

const timelineBody = `[
  {
    "id": 1111111111111111111,
    "id_str": "1111111111111111111",
    "full_text": "hello world",
    "created_at": "Wed Oct 10 20:19:24 +0000 2018",
    "in_reply_to_status_id_str": "99",
    "user": {"id_str": "7", "screen_name": "alice", "name": "Alice", "profile_image_url_https": "https://img/a.png", "description": "hi"}
  },
  {
    "id": 2222222222222222222,
    "text": "epoch",
    "created_at": 1700000000,
    "user": {"id": 8, "screen_name": "bob"}
  },
  {"text": "no id", "created_at": "2024-01-01T00:00:00Z", "user": {"id_str": "9", "screen_name": "x"}}
]`

func TestStatuses(t *testing.T) {
	d := New(nil)

	var got []schema.Status
	var authors []schema.User
	err := d.Statuses([]byte(timelineBody), func(st schema.Status, u schema.User) error {
		got = append(got, st)
		authors = append(authors, u)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "1111111111111111111", got[0].GUID)
	assert.Equal(t, "99", got[0].PrevGUID)
	assert.Equal(t, "7", got[0].AuthorGUID)
	assert.Equal(t, "hello world", got[0].Text)
	assert.True(t, got[0].CreatedAt.Equal(time.Date(2018, 10, 10, 20, 19, 24, 0, time.UTC)))
	assert.Equal(t, schema.User{GUID: "7", Username: "alice", Name: "Alice", Avatar: "https://img/a.png", Bio: "hi"}, authors[0])

	// Large numeric ids keep every digit.
	assert.Equal(t, "2222222222222222222", got[1].GUID)
	assert.Equal(t, "8", got[1].AuthorGUID)
	assert.Equal(t, int64(1700000000), got[1].CreatedAt.Unix())
}

func TestStatuses_SearchEnvelope(t *testing.T) {
	body := `{"statuses": [{"id_str": "1", "text": "x", "created_at": "2024-01-01T00:00:00Z", "user": {"id_str": "2", "screen_name": "c"}}]}`
	n := 0
	require.NoError(t, New(nil).Statuses([]byte(body), func(schema.Status, schema.User) error {
		n++
		return nil
	}))
	assert.Equal(t, 1, n)
}

func TestStatuses_BadTimestamp(t *testing.T) {
	body := `[{"id_str": "1", "created_at": "yesterday", "user": {"id_str": "2", "screen_name": "c"}}]`
	err := New(nil).Statuses([]byte(body), func(schema.Status, schema.User) error { return nil })
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestStatuses_CallbackStops(t *testing.T) {
	stop := errors.New("stop")
	calls := 0
	err := New(nil).Statuses([]byte(timelineBody), func(schema.Status, schema.User) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestMalformed(t *testing.T) {
	d := New(nil)
	assert.ErrorIs(t, d.Statuses([]byte("<html>"), nil), ErrMalformed)
	_, err := d.User([]byte("{"))
	assert.ErrorIs(t, err, ErrMalformed)
	_, err = d.IDs([]byte(""), nil)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestUser(t *testing.T) {
	d := New(nil)

	u, err := d.User([]byte(`{"id_str": "12", "screen_name": "carol", "name": "Carol", "location": "Oslo", "url": "https://c.example"}`))
	require.NoError(t, err)
	assert.Equal(t, schema.User{GUID: "12", Username: "carol", Name: "Carol", Location: "Oslo", Website: "https://c.example"}, u)

	u, err = d.User([]byte(`[{"id": 13, "screen_name": "dave"}]`))
	require.NoError(t, err)
	assert.Equal(t, "13", u.GUID)

	_, err = d.User([]byte(`{"name": "anonymous"}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestLists(t *testing.T) {
	body := `{"lists": [
	  {"id_str": "100", "slug": "friends", "full_name": "@alice/friends", "uri": "/alice/lists/friends",
	   "mode": "private", "subscriber_count": 3, "member_count": 5,
	   "user": {"id_str": "7", "screen_name": "alice"}},
	  {"id_str": "101", "name": "orphan"}
	]}`

	var lists []schema.List
	require.NoError(t, New(nil).Lists([]byte(body), func(l schema.List, owner schema.User) error {
		assert.Equal(t, "alice", owner.Username)
		lists = append(lists, l)
		return nil
	}))

	require.Len(t, lists, 1)
	assert.Equal(t, schema.List{
		GUID: "100", OwnerGUID: "7", Name: "friends", FullName: "@alice/friends",
		URI: "/alice/lists/friends", Protected: true, Subscribers: 3, Members: 5,
	}, lists[0])
}

func TestIDs(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantIDs  []string
		wantNext string
	}{
		{
			name:     "numeric ids",
			body:     `{"ids": [1, 22, 333], "next_cursor": 1489467234237774933, "next_cursor_str": "1489467234237774933"}`,
			wantIDs:  []string{"1", "22", "333"},
			wantNext: "1489467234237774933",
		},
		{
			name:     "string ids last page",
			body:     `{"ids": ["4", "5"], "next_cursor_str": "0"}`,
			wantIDs:  []string{"4", "5"},
			wantNext: "0",
		},
		{
			name:     "user objects",
			body:     `{"users": [{"id_str": "6", "screen_name": "f"}], "next_cursor": 0}`,
			wantIDs:  []string{"6"},
			wantNext: "0",
		},
		{
			name:     "bare array",
			body:     `["7"]`,
			wantIDs:  []string{"7"},
			wantNext: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ids []string
			next, err := New(nil).IDs([]byte(tt.body), func(id string) error {
				ids = append(ids, id)
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantIDs, ids)
			assert.Equal(t, tt.wantNext, next)
		})
	}
}
