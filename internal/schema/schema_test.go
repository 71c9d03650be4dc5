package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUser_Validate(t *testing.T) {
	tests := []struct {
		name    string
		user    User
		wantErr bool
	}{
		{name: "valid user", user: User{GUID: "1", Username: "alice"}},
		{name: "missing guid", user: User{Username: "alice"}, wantErr: true},
		{name: "missing username", user: User{GUID: "1"}, wantErr: true},
		{name: "whitespace in username", user: User{GUID: "1", Username: "al ice"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.user.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestStatus_Validate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		status  Status
		wantErr bool
	}{
		{name: "valid status", status: Status{GUID: "s1", AuthorGUID: "u1", CreatedAt: now}},
		{name: "reply", status: Status{GUID: "s2", PrevGUID: "s1", AuthorGUID: "u1", CreatedAt: now}},
		{name: "missing guid", status: Status{AuthorGUID: "u1", CreatedAt: now}, wantErr: true},
		{name: "missing author", status: Status{GUID: "s1", CreatedAt: now}, wantErr: true},
		{name: "self reference", status: Status{GUID: "s1", PrevGUID: "s1", AuthorGUID: "u1", CreatedAt: now}, wantErr: true},
		{name: "missing timestamp", status: Status{GUID: "s1", AuthorGUID: "u1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.status.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestList_Validate(t *testing.T) {
	valid := List{GUID: "l1", OwnerGUID: "u1", Name: "friends"}
	require.NoError(t, valid.Validate())

	noOwner := valid
	noOwner.OwnerGUID = ""
	assert.Error(t, noOwner.Validate())

	noName := valid
	noName.Name = ""
	assert.Error(t, noName.Validate())

	negative := valid
	negative.Members = -1
	assert.Error(t, negative.Validate())
}

func TestTimelineKind_RoundTrip(t *testing.T) {
	for _, k := range []TimelineKind{KindPublic, KindUser, KindReplies} {
		got, err := ParseTimelineKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := ParseTimelineKind("mentions")
	require.NoError(t, err)
	assert.Equal(t, KindReplies, got)

	_, err = ParseTimelineKind("bogus")
	assert.Error(t, err)
	assert.Equal(t, "unknown", TimelineKind(42).String())
}

func TestSource_RoundTrip(t *testing.T) {
	for _, s := range Sources {
		got, err := ParseSource(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}

	_, err := ParseSource("nope")
	assert.Error(t, err)
}

func TestVersion_String(t *testing.T) {
	assert.Equal(t, "v1.0", Version{Major: 1}.String())
	assert.Equal(t, "v2.13", Version{Major: 2, Minor: 13}.String())
}
