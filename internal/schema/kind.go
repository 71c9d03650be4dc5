package schema

import (
	"fmt"
	"strings"
)

// TimelineKind distinguishes the feeds stored in the shared timeline table.
type TimelineKind int

const (
	// KindPublic is the home feed: statuses from everyone the account follows.
	KindPublic TimelineKind = iota
	// KindUser is the account's own statuses.
	KindUser
	// KindReplies holds statuses that mention the account.
	KindReplies
)

// String returns a human-readable representation of the kind.
func (k TimelineKind) String() string {
	switch k {
	case KindPublic:
		return "public"
	case KindUser:
		return "user"
	case KindReplies:
		return "replies"
	default:
		return "unknown"
	}
}

// ParseTimelineKind is the inverse of TimelineKind.String.
func ParseTimelineKind(s string) (TimelineKind, error) {
	switch strings.ToLower(s) {
	case "public", "home":
		return KindPublic, nil
	case "user", "own":
		return KindUser, nil
	case "replies", "mentions":
		return KindReplies, nil
	default:
		return 0, fmt.Errorf("unknown timeline kind %q", s)
	}
}

// Source identifies one independently synchronised slice of an account's data.
type Source int

const (
	SourceTimelines Source = iota
	SourceLists
	SourceListMembers
	SourceFriends
	SourceFollowers
)

// Sources lists every source in the order the driver runs them.
var Sources = []Source{
	SourceTimelines,
	SourceLists,
	SourceListMembers,
	SourceFriends,
	SourceFollowers,
}

// String returns a human-readable representation of the source.
func (s Source) String() string {
	switch s {
	case SourceTimelines:
		return "timelines"
	case SourceLists:
		return "lists"
	case SourceListMembers:
		return "list-members"
	case SourceFriends:
		return "friends"
	case SourceFollowers:
		return "followers"
	default:
		return "unknown"
	}
}

// ParseSource is the inverse of Source.String.
func ParseSource(s string) (Source, error) {
	for _, src := range Sources {
		if src.String() == strings.ToLower(s) {
			return src, nil
		}
	}
	return 0, fmt.Errorf("unknown sync source %q", s)
}
