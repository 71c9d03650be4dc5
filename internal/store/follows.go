package store

import (
	"context"
	"fmt"

	"github.com/roost-app/roost/internal/schema"
)

// AddFollower records that follower follows user.
func (s *Store) AddFollower(ctx context.Context, userGUID, followerGUID string) error {
	_, err := s.exec(ctx,
		`INSERT OR REPLACE INTO follower (user_guid, follower_guid) VALUES (?, ?)`,
		userGUID, followerGUID,
	)
	if err != nil {
		return fmt.Errorf("failed to add follower %s of %s: %w", followerGUID, userGUID, err)
	}
	return nil
}

// RemoveFollower deletes the edge follower → user.
func (s *Store) RemoveFollower(ctx context.Context, userGUID, followerGUID string) error {
	_, err := s.exec(ctx,
		`DELETE FROM follower WHERE user_guid = ? AND follower_guid = ?`,
		userGUID, followerGUID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove follower %s of %s: %w", followerGUID, userGUID, err)
	}
	return nil
}

// RemoveFriends deletes every edge where userGUID is the follower.
func (s *Store) RemoveFriends(ctx context.Context, userGUID string) error {
	if _, err := s.exec(ctx, `DELETE FROM follower WHERE follower_guid = ?`, userGUID); err != nil {
		return fmt.Errorf("failed to remove friends of %s: %w", userGUID, err)
	}
	return nil
}

// RemoveFollowers deletes every edge pointing at userGUID.
func (s *Store) RemoveFollowers(ctx context.Context, userGUID string) error {
	if _, err := s.exec(ctx, `DELETE FROM follower WHERE user_guid = ?`, userGUID); err != nil {
		return fmt.Errorf("failed to remove followers of %s: %w", userGUID, err)
	}
	return nil
}

// ForEachFollower calls fn for every user following userGUID.
func (s *Store) ForEachFollower(ctx context.Context, userGUID string, fn func(schema.User) error) error {
	users, err := queryAll(ctx, s, scanUser, `
	SELECT `+userColumns+`
	FROM follower f JOIN user u ON u.guid = f.follower_guid
	WHERE f.user_guid = ?
	ORDER BY u.username, u.guid
	`, userGUID)
	if err != nil {
		return fmt.Errorf("failed to read followers of %s: %w", userGUID, err)
	}
	return each(ctx, users, fn)
}

// ForEachFriend calls fn for every user userGUID follows.
func (s *Store) ForEachFriend(ctx context.Context, userGUID string, fn func(schema.User) error) error {
	users, err := queryAll(ctx, s, scanUser, `
	SELECT `+userColumns+`
	FROM follower f JOIN user u ON u.guid = f.user_guid
	WHERE f.follower_guid = ?
	ORDER BY u.username, u.guid
	`, userGUID)
	if err != nil {
		return fmt.Errorf("failed to read friends of %s: %w", userGUID, err)
	}
	return each(ctx, users, fn)
}
