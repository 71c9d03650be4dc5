// Package schema defines the domain records roost keeps in its local store.
//
// # Overview
//
// Every record is keyed by a guid: a stable identifier assigned by the
// remote service. Guids are never generated locally and never change, while
// human-readable names (usernames, list names) may be renamed remotely and
// are resolved to guids through the store.
//
// # Records
//
//   - User: a remote account (guid, handle, display name, profile fields)
//   - Status: a post; insert-only apart from its read flag
//   - List: a curated list owned by a user, with subscriber/member counts
//   - FollowEdge: follower follows followee
//   - ListMembership: a user belonging to a list
//
// # Timelines
//
// A status is placed into a user's timeline under one TimelineKind. The same
// status may appear in several kinds (for example both the home feed and the
// replies feed) but only once per (user, kind).
//
// # Sources
//
// Synchronisation is split into independent sources (timelines, lists, list
// members, friends, followers). Each source keeps its own checkpoint per
// account so it can be refreshed or invalidated on its own.
//
// Usage:
//
//	u := schema.User{GUID: "12", Username: "alice", Name: "Alice"}
//	if err := u.Validate(); err != nil {
//	    return err
//	}
package schema
