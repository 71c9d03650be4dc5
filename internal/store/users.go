package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roost-app/roost/internal/schema"
)

const userColumns = `u.guid, u.username, u.name, u.avatar, u.location, u.website, u.bio`

func scanUser(row scanner) (schema.User, error) {
	var u schema.User
	var username sql.NullString
	if err := row.Scan(&u.GUID, &username, &u.Name, &u.Avatar, &u.Location, &u.Website, &u.Bio); err != nil {
		return u, fmt.Errorf("failed to scan user: %w", err)
	}
	u.Username = username.String
	return u, nil
}

// MapUsername resolves a username to its guid, ignoring case.
func (s *Store) MapUsername(ctx context.Context, username string) (string, error) {
	var guid string
	err := s.queryRow(ctx, `SELECT guid FROM user WHERE username = ?`, []any{username}, &guid)
	if errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("failed to map username %q: %w", username, err)
	}
	return guid, nil
}

// SaveUser inserts or updates a user by guid.
//
// If another guid currently holds the same username (the remote account was
// renamed and its old name reused), that row's username is cleared first.
func (s *Store) SaveUser(ctx context.Context, u schema.User) error {
	if err := u.Validate(); err != nil {
		return fmt.Errorf("invalid user: %w", err)
	}

	err := s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE user SET username = NULL WHERE username = ? AND guid != ?`,
			u.Username, u.GUID,
		); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx, `
		INSERT INTO user (guid, username, name, avatar, location, website, bio)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guid) DO UPDATE SET
			username = excluded.username,
			name = excluded.name,
			avatar = excluded.avatar,
			location = excluded.location,
			website = excluded.website,
			bio = excluded.bio
		`, u.GUID, u.Username, u.Name, u.Avatar, u.Location, u.Website, u.Bio)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", u.GUID, err)
	}
	return nil
}

// UserExists reports whether a user row exists for guid.
func (s *Store) UserExists(ctx context.Context, guid string) (bool, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM user WHERE guid = ?`, []any{guid}, &n); err != nil {
		return false, fmt.Errorf("failed to check user %s: %w", guid, err)
	}
	return n > 0, nil
}

// GetUser returns the user with guid, or ErrNotFound.
//
// A user whose username was taken over by another guid comes back with an
// empty Username. Such a value fails Validate, so it cannot be passed back to
// SaveUser until the remote name is known again.
func (s *Store) GetUser(ctx context.Context, guid string) (schema.User, error) {
	users, err := queryAll(ctx, s, scanUser, `SELECT `+userColumns+` FROM user u WHERE u.guid = ?`, guid)
	if err != nil {
		return schema.User{}, fmt.Errorf("failed to get user %s: %w", guid, err)
	}
	if len(users) == 0 {
		return schema.User{}, fmt.Errorf("user %s: %w", guid, ErrNotFound)
	}
	return users[0], nil
}

// RemoveUser deletes a user. Their statuses, timeline rows, follow edges,
// lists and memberships go with them.
func (s *Store) RemoveUser(ctx context.Context, guid string) error {
	if _, err := s.exec(ctx, `DELETE FROM user WHERE guid = ?`, guid); err != nil {
		return fmt.Errorf("failed to remove user %s: %w", guid, err)
	}
	return nil
}
