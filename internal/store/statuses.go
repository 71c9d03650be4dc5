package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roost-app/roost/internal/schema"
)

// DefaultTimelineLimit bounds timeline reads when the caller passes a
// non-positive limit.
const DefaultTimelineLimit = 200

const statusColumns = `s.guid, s.prev_guid, s.user_guid, s.text, s.timestamp, s.read`

func scanTimelineItem(row scanner) (schema.TimelineItem, error) {
	var it schema.TimelineItem
	var prev, username sql.NullString
	var ts int64
	err := row.Scan(
		&it.Status.GUID, &prev, &it.Status.AuthorGUID, &it.Status.Text, &ts, &it.Status.Read,
		&it.Author.GUID, &username, &it.Author.Name, &it.Author.Avatar,
		&it.Author.Location, &it.Author.Website, &it.Author.Bio,
	)
	if err != nil {
		return it, fmt.Errorf("failed to scan status: %w", err)
	}
	it.Status.PrevGUID = prev.String
	it.Status.CreatedAt = time.Unix(ts, 0).UTC()
	it.Author.Username = username.String
	return it, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// SaveStatus stores a status if its guid is new. Existing statuses are left
// untouched; created reports whether a row was inserted.
func (s *Store) SaveStatus(ctx context.Context, st schema.Status) (created bool, err error) {
	if err := st.Validate(); err != nil {
		return false, fmt.Errorf("invalid status: %w", err)
	}

	res, err := s.exec(ctx, `
	INSERT INTO status (guid, prev_guid, user_guid, text, timestamp, read)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(guid) DO NOTHING
	`, st.GUID, nullString(st.PrevGUID), st.AuthorGUID, st.Text, st.CreatedAt.Unix(), st.Read)
	if err != nil {
		return false, fmt.Errorf("failed to save status %s: %w", st.GUID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to save status %s: %w", st.GUID, err)
	}
	return n > 0, nil
}

// GetStatus returns the status with guid joined with its author.
func (s *Store) GetStatus(ctx context.Context, guid string) (schema.TimelineItem, error) {
	items, err := queryAll(ctx, s, scanTimelineItem, `
	SELECT `+statusColumns+`, `+userColumns+`
	FROM status s JOIN user u ON u.guid = s.user_guid
	WHERE s.guid = ?
	`, guid)
	if err != nil {
		return schema.TimelineItem{}, fmt.Errorf("failed to get status %s: %w", guid, err)
	}
	if len(items) == 0 {
		return schema.TimelineItem{}, fmt.Errorf("status %s: %w", guid, ErrNotFound)
	}
	return items[0], nil
}

// SetStatusRead updates the read flag, the only mutable status field.
func (s *Store) SetStatusRead(ctx context.Context, guid string, read bool) error {
	res, err := s.exec(ctx, `UPDATE status SET read = ? WHERE guid = ?`, read, guid)
	if err != nil {
		return fmt.Errorf("failed to mark status %s: %w", guid, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("status %s: %w", guid, ErrNotFound)
	}
	return nil
}

// AppendStatusToTimeline places a status in a user's timeline of the given
// kind. Repeating the call is a no-op.
func (s *Store) AppendStatusToTimeline(ctx context.Context, kind schema.TimelineKind, userGUID, statusGUID string) error {
	_, err := s.exec(ctx,
		`INSERT OR REPLACE INTO timeline (user_guid, status_guid, kind) VALUES (?, ?, ?)`,
		userGUID, statusGUID, int(kind),
	)
	if err != nil {
		return fmt.Errorf("failed to append status %s to %s timeline of %s: %w", statusGUID, kind, userGUID, err)
	}
	return nil
}

// AppendStatusToPublicTimeline appends to the user's home feed.
func (s *Store) AppendStatusToPublicTimeline(ctx context.Context, userGUID, statusGUID string) error {
	return s.AppendStatusToTimeline(ctx, schema.KindPublic, userGUID, statusGUID)
}

// AppendStatusToUserTimeline appends to the user's own statuses.
func (s *Store) AppendStatusToUserTimeline(ctx context.Context, userGUID, statusGUID string) error {
	return s.AppendStatusToTimeline(ctx, schema.KindUser, userGUID, statusGUID)
}

// AppendStatusToReplies appends to the statuses mentioning the user.
func (s *Store) AppendStatusToReplies(ctx context.Context, userGUID, statusGUID string) error {
	return s.AppendStatusToTimeline(ctx, schema.KindReplies, userGUID, statusGUID)
}

// AppendStatusToList attributes a status to a list's feed.
func (s *Store) AppendStatusToList(ctx context.Context, listGUID, statusGUID string) error {
	_, err := s.exec(ctx,
		`INSERT OR REPLACE INTO list_timeline (list_guid, status_guid) VALUES (?, ?)`,
		listGUID, statusGUID,
	)
	if err != nil {
		return fmt.Errorf("failed to append status %s to list %s: %w", statusGUID, listGUID, err)
	}
	return nil
}

// ForEachStatusInTimeline calls fn for the newest statuses in a user's
// timeline of the given kind, newest first. At most limit rows are visited
// (DefaultTimelineLimit when limit <= 0).
func (s *Store) ForEachStatusInTimeline(ctx context.Context, kind schema.TimelineKind, userGUID string, limit int, fn func(schema.TimelineItem) error) error {
	if limit <= 0 {
		limit = DefaultTimelineLimit
	}
	items, err := queryAll(ctx, s, scanTimelineItem, `
	SELECT `+statusColumns+`, `+userColumns+`
	FROM timeline t
	JOIN status s ON s.guid = t.status_guid
	JOIN user u ON u.guid = s.user_guid
	WHERE t.user_guid = ? AND t.kind = ?
	ORDER BY s.timestamp DESC, s.guid DESC
	LIMIT ?
	`, userGUID, int(kind), limit)
	if err != nil {
		return fmt.Errorf("failed to read %s timeline of %s: %w", kind, userGUID, err)
	}
	return each(ctx, items, fn)
}

// ForEachStatusInPublicTimeline iterates the user's home feed.
func (s *Store) ForEachStatusInPublicTimeline(ctx context.Context, userGUID string, limit int, fn func(schema.TimelineItem) error) error {
	return s.ForEachStatusInTimeline(ctx, schema.KindPublic, userGUID, limit, fn)
}

// ForEachStatusInUserTimeline iterates the user's own statuses.
func (s *Store) ForEachStatusInUserTimeline(ctx context.Context, userGUID string, limit int, fn func(schema.TimelineItem) error) error {
	return s.ForEachStatusInTimeline(ctx, schema.KindUser, userGUID, limit, fn)
}

// ForEachStatusInReplies iterates statuses mentioning the user.
func (s *Store) ForEachStatusInReplies(ctx context.Context, userGUID string, limit int, fn func(schema.TimelineItem) error) error {
	return s.ForEachStatusInTimeline(ctx, schema.KindReplies, userGUID, limit, fn)
}

// ForEachStatusInList iterates a list's feed, newest first.
func (s *Store) ForEachStatusInList(ctx context.Context, listGUID string, limit int, fn func(schema.TimelineItem) error) error {
	if limit <= 0 {
		limit = DefaultTimelineLimit
	}
	items, err := queryAll(ctx, s, scanTimelineItem, `
	SELECT `+statusColumns+`, `+userColumns+`
	FROM list_timeline lt
	JOIN status s ON s.guid = lt.status_guid
	JOIN user u ON u.guid = s.user_guid
	WHERE lt.list_guid = ?
	ORDER BY s.timestamp DESC, s.guid DESC
	LIMIT ?
	`, listGUID, limit)
	if err != nil {
		return fmt.Errorf("failed to read list timeline %s: %w", listGUID, err)
	}
	return each(ctx, items, fn)
}

// CountListStatuses returns the number of statuses attributed to a list.
func (s *Store) CountListStatuses(ctx context.Context, listGUID string) (int, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM list_timeline WHERE list_guid = ?`, []any{listGUID}, &n); err != nil {
		return 0, fmt.Errorf("failed to count statuses of list %s: %w", listGUID, err)
	}
	return n, nil
}
