package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/roost-app/roost/internal/schema"
)

const listColumns = `l.guid, l.user_guid, l.name, l.full_name, l.uri, l.description, l.protected, l.subscribers, l.members`

func scanList(row scanner) (schema.List, error) {
	var l schema.List
	err := row.Scan(&l.GUID, &l.OwnerGUID, &l.Name, &l.FullName, &l.URI, &l.Description, &l.Protected, &l.Subscribers, &l.Members)
	if err != nil {
		return l, fmt.Errorf("failed to scan list: %w", err)
	}
	return l, nil
}

// MapListname resolves a list by its owner's username and its name, both
// compared without case.
func (s *Store) MapListname(ctx context.Context, ownerUsername, name string) (string, error) {
	var guid string
	err := s.queryRow(ctx, `
	SELECT l.guid FROM list l JOIN user u ON u.guid = l.user_guid
	WHERE u.username = ? AND l.name = ?
	`, []any{ownerUsername, name}, &guid)
	if errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("list %s/%s: %w", ownerUsername, name, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to map list %s/%s: %w", ownerUsername, name, err)
	}
	return guid, nil
}

// SaveList inserts or updates a list by guid. The owner must already exist.
func (s *Store) SaveList(ctx context.Context, l schema.List) error {
	if err := l.Validate(); err != nil {
		return fmt.Errorf("invalid list: %w", err)
	}

	_, err := s.exec(ctx, `
	INSERT INTO list (guid, user_guid, name, full_name, uri, description, protected, subscribers, members)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(guid) DO UPDATE SET
		user_guid = excluded.user_guid,
		name = excluded.name,
		full_name = excluded.full_name,
		uri = excluded.uri,
		description = excluded.description,
		protected = excluded.protected,
		subscribers = excluded.subscribers,
		members = excluded.members
	`, l.GUID, l.OwnerGUID, l.Name, l.FullName, l.URI, l.Description, l.Protected, l.Subscribers, l.Members)
	if err != nil {
		return fmt.Errorf("failed to save list %s: %w", l.GUID, err)
	}
	return nil
}

// GetList returns the list with guid, or ErrNotFound.
func (s *Store) GetList(ctx context.Context, guid string) (schema.List, error) {
	lists, err := queryAll(ctx, s, scanList, `SELECT `+listColumns+` FROM list l WHERE l.guid = ?`, guid)
	if err != nil {
		return schema.List{}, fmt.Errorf("failed to get list %s: %w", guid, err)
	}
	if len(lists) == 0 {
		return schema.List{}, fmt.Errorf("list %s: %w", guid, ErrNotFound)
	}
	return lists[0], nil
}

// ForEachList calls fn for every list owned by ownerGUID, ordered by name.
func (s *Store) ForEachList(ctx context.Context, ownerGUID string, fn func(schema.List) error) error {
	lists, err := queryAll(ctx, s, scanList,
		`SELECT `+listColumns+` FROM list l WHERE l.user_guid = ? ORDER BY l.name, l.guid`, ownerGUID)
	if err != nil {
		return fmt.Errorf("failed to read lists of %s: %w", ownerGUID, err)
	}
	return each(ctx, lists, fn)
}

// RemoveList deletes a list with its memberships and feed. The statuses
// themselves stay.
func (s *Store) RemoveList(ctx context.Context, guid string) error {
	if _, err := s.exec(ctx, `DELETE FROM list WHERE guid = ?`, guid); err != nil {
		return fmt.Errorf("failed to remove list %s: %w", guid, err)
	}
	return nil
}

// AddListMember puts a user on a list. Repeating the call is a no-op.
func (s *Store) AddListMember(ctx context.Context, listGUID, userGUID string) error {
	_, err := s.exec(ctx,
		`INSERT OR REPLACE INTO list_member (list_guid, user_guid) VALUES (?, ?)`,
		listGUID, userGUID,
	)
	if err != nil {
		return fmt.Errorf("failed to add %s to list %s: %w", userGUID, listGUID, err)
	}
	return nil
}

// RemoveListMembers clears a list's membership.
func (s *Store) RemoveListMembers(ctx context.Context, listGUID string) error {
	if _, err := s.exec(ctx, `DELETE FROM list_member WHERE list_guid = ?`, listGUID); err != nil {
		return fmt.Errorf("failed to clear members of list %s: %w", listGUID, err)
	}
	return nil
}

// ForEachListMember calls fn for every member of a list, ordered by username.
func (s *Store) ForEachListMember(ctx context.Context, listGUID string, fn func(schema.User) error) error {
	users, err := queryAll(ctx, s, scanUser, `
	SELECT `+userColumns+`
	FROM list_member m JOIN user u ON u.guid = m.user_guid
	WHERE m.list_guid = ?
	ORDER BY u.username, u.guid
	`, listGUID)
	if err != nil {
		return fmt.Errorf("failed to read members of list %s: %w", listGUID, err)
	}
	return each(ctx, users, fn)
}
