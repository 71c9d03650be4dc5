package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roost-app/roost/internal/schema"
)

// GetLastSync returns when source last completed for the account. The zero
// time means never.
func (s *Store) GetLastSync(ctx context.Context, source schema.Source, userGUID string) (time.Time, error) {
	var ts int64
	err := s.queryRow(ctx,
		`SELECT timestamp FROM last_sync WHERE source = ? AND user_guid = ?`,
		[]any{int(source), userGUID}, &ts,
	)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get %s checkpoint of %s: %w", source, userGUID, err)
	}
	return time.Unix(ts, 0).UTC(), nil
}

// SetLastSync overwrites the checkpoint of source for the account.
func (s *Store) SetLastSync(ctx context.Context, source schema.Source, userGUID string, at time.Time) error {
	_, err := s.exec(ctx, `
	INSERT INTO last_sync (source, user_guid, timestamp) VALUES (?, ?, ?)
	ON CONFLICT(source, user_guid) DO UPDATE SET timestamp = excluded.timestamp
	`, int(source), userGUID, at.Unix())
	if err != nil {
		return fmt.Errorf("failed to set %s checkpoint of %s: %w", source, userGUID, err)
	}
	return nil
}

// RemoveLastSyncSource clears the checkpoint of source for every account,
// forcing the next run to refresh it. It returns the number of rows removed.
func (s *Store) RemoveLastSyncSource(ctx context.Context, source schema.Source) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM last_sync WHERE source = ?`, int(source))
	if err != nil {
		return 0, fmt.Errorf("failed to clear %s checkpoints: %w", source, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to clear %s checkpoints: %w", source, err)
	}
	return n, nil
}
