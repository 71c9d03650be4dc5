package sync

import (
	"context"
	"fmt"

	"github.com/roost-app/roost/internal/schema"
)

type feed struct {
	kind  schema.TimelineKind
	fetch func(ctx context.Context, owner, cursor string) ([]byte, error)
}

// UpdateTimelines fetches the account's home feed, mentions and own
// statuses, in that order, and files every status under the matching
// timeline kind. A remote failure or cancellation stops the remaining
// fetches; statuses already written stay.
func (o *Orchestrator) UpdateTimelines(ctx context.Context, account string) (Report, error) {
	r := o.begin(schema.SourceTimelines, account)

	guid, err := o.resolveAccount(ctx, r, account)
	if err != nil {
		return o.finish(r, err)
	}

	feeds := []feed{
		{schema.KindPublic, o.remote.HomeTimeline},
		{schema.KindReplies, o.remote.Mentions},
		{schema.KindUser, o.remote.UserTimeline},
	}
	for _, f := range feeds {
		if err := ctx.Err(); err != nil {
			return o.finish(r, err)
		}

		data, err := f.fetch(ctx, account, "")
		if err != nil {
			return o.finish(r, fmt.Errorf("failed to fetch %s timeline: %w", f.kind, err))
		}

		kind := f.kind
		err = o.decoder.Statuses(data, func(st schema.Status, author schema.User) error {
			return o.storeStatus(ctx, r, st, author, func(statusGUID string) error {
				return o.store.AppendStatusToTimeline(ctx, kind, guid, statusGUID)
			})
		})
		if err != nil {
			return o.finish(r, fmt.Errorf("failed to store %s timeline: %w", f.kind, err))
		}
	}

	return o.finish(r, o.checkpoint(ctx, r, guid, schema.SourceTimelines))
}
