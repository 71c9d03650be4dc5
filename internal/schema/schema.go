package schema

import (
	"fmt"
	"strings"
	"time"
)

// User represents a remote account.
// The GUID is immutable; every other field is overwritten on upsert.
type User struct {
	GUID     string `json:"guid" yaml:"guid"`
	Username string `json:"username" yaml:"username"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Avatar   string `json:"avatar,omitempty" yaml:"avatar,omitempty"`
	Location string `json:"location,omitempty" yaml:"location,omitempty"`
	Website  string `json:"website,omitempty" yaml:"website,omitempty"`
	Bio      string `json:"bio,omitempty" yaml:"bio,omitempty"`
}

// Validate checks that the user can be stored.
func (u *User) Validate() error {
	if u.GUID == "" {
		return fmt.Errorf("guid is required")
	}
	if u.Username == "" {
		return fmt.Errorf("username is required")
	}
	if strings.ContainsAny(u.Username, " \t\n") {
		return fmt.Errorf("username must not contain whitespace (got %q)", u.Username)
	}
	return nil
}

// Status represents a single post.
// Statuses are append-only: once stored only the Read flag may change.
type Status struct {
	GUID string `json:"guid" yaml:"guid"`

	// PrevGUID links replies and quotes to the status they refer to.
	PrevGUID string `json:"prev_guid,omitempty" yaml:"prev_guid,omitempty"`

	// AuthorGUID references the User who wrote the status.
	AuthorGUID string    `json:"author_guid" yaml:"author_guid"`
	Text       string    `json:"text" yaml:"text"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	Read       bool      `json:"read" yaml:"read"`
}

// Validate checks that the status can be stored.
func (s *Status) Validate() error {
	if s.GUID == "" {
		return fmt.Errorf("guid is required")
	}
	if s.AuthorGUID == "" {
		return fmt.Errorf("author_guid is required")
	}
	if s.PrevGUID == s.GUID {
		return fmt.Errorf("status %s cannot refer to itself", s.GUID)
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	return nil
}

// List represents a user-curated list.
type List struct {
	GUID        string `json:"guid" yaml:"guid"`
	OwnerGUID   string `json:"owner_guid" yaml:"owner_guid"`
	Name        string `json:"name" yaml:"name"`
	FullName    string `json:"full_name,omitempty" yaml:"full_name,omitempty"`
	URI         string `json:"uri,omitempty" yaml:"uri,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Protected   bool   `json:"protected" yaml:"protected"`
	Subscribers int    `json:"subscribers" yaml:"subscribers"`
	Members     int    `json:"members" yaml:"members"`
}

// Validate checks that the list can be stored.
func (l *List) Validate() error {
	if l.GUID == "" {
		return fmt.Errorf("guid is required")
	}
	if l.OwnerGUID == "" {
		return fmt.Errorf("owner_guid is required")
	}
	if l.Name == "" {
		return fmt.Errorf("name is required")
	}
	if l.Subscribers < 0 || l.Members < 0 {
		return fmt.Errorf("counts must not be negative (subscribers=%d, members=%d)", l.Subscribers, l.Members)
	}
	return nil
}

// FollowEdge is a directed relationship: Follower follows Followee.
type FollowEdge struct {
	Follower string `json:"follower" yaml:"follower"`
	Followee string `json:"followee" yaml:"followee"`
}

// ListMembership places a user on a list.
type ListMembership struct {
	ListGUID string `json:"list_guid" yaml:"list_guid"`
	UserGUID string `json:"user_guid" yaml:"user_guid"`
}

// TimelineItem is a status joined with its author, as returned by timeline reads.
type TimelineItem struct {
	Status Status `json:"status" yaml:"status"`
	Author User   `json:"author" yaml:"author"`
}

// Version is the schema version stored alongside the data.
type Version struct {
	Major int `json:"major" yaml:"major"`
	Minor int `json:"minor" yaml:"minor"`
}

// String renders the version in semver form ("v1.2") so it can be compared
// with golang.org/x/mod/semver.
func (v Version) String() string {
	return fmt.Sprintf("v%d.%d", v.Major, v.Minor)
}
