package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roost-app/roost/internal/schema"
)

// UpdateLists refreshes the lists of an account.
//
// Every remote list and its owner is upserted. Then each list the account
// owns locally is reconciled:
//   - not returned by the remote: removed
//   - otherwise, with syncMembers, its membership is replaced by a full
//     cursor walk of the remote members
//   - its feed is refetched; a list still without statuses afterwards is
//     removed, since the remote occasionally returns lists it no longer
//     serves
//
// A failed list feed or member page counts as a failure and the remaining
// lists are still processed.
func (o *Orchestrator) UpdateLists(ctx context.Context, account string, syncMembers bool) (Report, error) {
	r := o.begin(schema.SourceLists, account)

	guid, err := o.resolveAccount(ctx, r, account)
	if err != nil {
		return o.finish(r, err)
	}

	data, err := o.remote.Lists(ctx, account)
	if err != nil {
		return o.finish(r, fmt.Errorf("failed to fetch lists: %w", err))
	}

	found := make(map[string]bool)
	err = o.decoder.Lists(data, func(l schema.List, owner schema.User) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Still on the remote, so never pruned below even when skipped.
		found[l.GUID] = true
		if err := o.saveAuthor(ctx, r, owner); err != nil {
			if !isRemote(err) {
				return err
			}
			r.Failures++
			r.log.Warn("skipping list", zap.String("list", l.GUID), zap.Error(err))
			return nil
		}
		return o.store.SaveList(ctx, l)
	})
	if err != nil {
		return o.finish(r, fmt.Errorf("failed to store lists: %w", err))
	}

	var local []schema.List
	if err := o.store.ForEachList(ctx, guid, func(l schema.List) error {
		local = append(local, l)
		return nil
	}); err != nil {
		return o.finish(r, err)
	}

	for _, l := range local {
		if err := ctx.Err(); err != nil {
			return o.finish(r, err)
		}

		if !found[l.GUID] {
			if err := o.removeList(ctx, r, l, "gone from remote"); err != nil {
				return o.finish(r, err)
			}
			continue
		}

		if syncMembers {
			if err := o.replaceMembers(ctx, r, account, l); err != nil {
				if !isRemote(err) {
					return o.finish(r, err)
				}
				r.Failures++
				r.log.Warn("list members incomplete", zap.String("list", l.GUID), zap.Error(err))
			}
		}

		if err := o.refreshListFeed(ctx, r, account, l); err != nil {
			if !isRemote(err) {
				return o.finish(r, err)
			}
			r.Failures++
			r.log.Warn("list feed not refreshed", zap.String("list", l.GUID), zap.Error(err))
			continue
		}

		n, err := o.store.CountListStatuses(ctx, l.GUID)
		if err != nil {
			return o.finish(r, err)
		}
		if n == 0 {
			if err := o.removeList(ctx, r, l, "no statuses"); err != nil {
				return o.finish(r, err)
			}
		}
	}

	sources := []schema.Source{schema.SourceLists}
	if syncMembers {
		sources = append(sources, schema.SourceListMembers)
	}
	return o.finish(r, o.checkpoint(ctx, r, guid, sources...))
}

func (o *Orchestrator) removeList(ctx context.Context, r *run, l schema.List, reason string) error {
	if err := o.store.RemoveList(ctx, l.GUID); err != nil {
		return err
	}
	r.Removed++
	r.log.Info("removed list", zap.String("list", l.GUID), zap.String("name", l.Name), zap.String("reason", reason))
	return nil
}

// replaceMembers clears a list's members and re-adds every remote member,
// fetching details only for users not yet stored. A single member that
// cannot be fetched is skipped.
func (o *Orchestrator) replaceMembers(ctx context.Context, r *run, account string, l schema.List) error {
	if err := o.store.RemoveListMembers(ctx, l.GUID); err != nil {
		return err
	}

	return o.walkIDs(ctx, func(ctx context.Context, cursor string) ([]byte, error) {
		return o.remote.ListMembers(ctx, account, l.GUID, cursor)
	}, func(id string) error {
		if err := o.ensureUser(ctx, r, id); err != nil {
			if !isRemote(err) {
				return err
			}
			r.Failures++
			r.log.Warn("skipping list member", zap.String("list", l.GUID), zap.String("user", id), zap.Error(err))
			return nil
		}
		return o.store.AddListMember(ctx, l.GUID, id)
	})
}

func (o *Orchestrator) refreshListFeed(ctx context.Context, r *run, account string, l schema.List) error {
	data, err := o.remote.ListTimeline(ctx, account, l.GUID, "")
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &remoteError{fmt.Errorf("failed to fetch list timeline %s: %w", l.GUID, err)}
	}

	return decodeErr(o.decoder.Statuses(data, func(st schema.Status, author schema.User) error {
		return callback(o.storeStatus(ctx, r, st, author, func(statusGUID string) error {
			return o.store.AppendStatusToList(ctx, l.GUID, statusGUID)
		}))
	}))
}

// walkIDs pages through an id endpoint from FirstCursor until LastCursor
// (or an empty cursor), calling fn for each id. Fetch and decode failures
// are returned as *remoteError.
func (o *Orchestrator) walkIDs(ctx context.Context, fetch func(ctx context.Context, cursor string) ([]byte, error), fn func(id string) error) error {
	cursor := FirstCursor
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := fetch(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &remoteError{fmt.Errorf("failed to fetch page %s: %w", cursor, err)}
		}

		next, err := o.decoder.IDs(data, func(id string) error {
			if err := ctx.Err(); err != nil {
				return callback(err)
			}
			return callback(fn(id))
		})
		if err := decodeErr(err); err != nil {
			return err
		}

		if next == LastCursor || next == "" {
			return nil
		}
		if next == cursor {
			return &remoteError{fmt.Errorf("%w: %s", ErrNoCursor, cursor)}
		}
		cursor = next
	}
}
