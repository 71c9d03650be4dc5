package sync

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/roost-app/roost/internal/schema"
)

// edgeSet describes one direction of the follow graph relative to the
// account.
type edgeSet struct {
	source schema.Source
	fetch  func(ctx context.Context, user, cursor string) ([]byte, error)
	local  func(ctx context.Context, userGUID string, fn func(schema.User) error) error
	add    func(ctx context.Context, account, other string) error
	remove func(ctx context.Context, account, other string) error
}

func (o *Orchestrator) friends() edgeSet {
	return edgeSet{
		source: schema.SourceFriends,
		fetch:  o.remote.Friends,
		local:  o.store.ForEachFriend,
		// account follows other
		add: func(ctx context.Context, account, other string) error {
			return o.store.AddFollower(ctx, other, account)
		},
		remove: func(ctx context.Context, account, other string) error {
			return o.store.RemoveFollower(ctx, other, account)
		},
	}
}

func (o *Orchestrator) followers() edgeSet {
	return edgeSet{
		source: schema.SourceFollowers,
		fetch:  o.remote.Followers,
		local:  o.store.ForEachFollower,
		// other follows account
		add: func(ctx context.Context, account, other string) error {
			return o.store.AddFollower(ctx, account, other)
		},
		remove: func(ctx context.Context, account, other string) error {
			return o.store.RemoveFollower(ctx, account, other)
		},
	}
}

// UpdateFriends reconciles the accounts the account follows.
func (o *Orchestrator) UpdateFriends(ctx context.Context, account string) (Report, error) {
	return o.syncEdges(ctx, account, o.friends())
}

// UpdateFollowers reconciles the accounts following the account.
func (o *Orchestrator) UpdateFollowers(ctx context.Context, account string) (Report, error) {
	return o.syncEdges(ctx, account, o.followers())
}

// syncEdges walks the full remote id set before touching the store, then
// removes local edges missing from it, then writes every remote edge,
// fetching users not yet stored. A failed page aborts before any deletion.
func (o *Orchestrator) syncEdges(ctx context.Context, account string, es edgeSet) (Report, error) {
	r := o.begin(es.source, account)

	guid, err := o.resolveAccount(ctx, r, account)
	if err != nil {
		return o.finish(r, err)
	}

	remote := make(map[string]struct{})
	var order []string
	err = o.walkIDs(ctx, func(ctx context.Context, cursor string) ([]byte, error) {
		return es.fetch(ctx, account, cursor)
	}, func(id string) error {
		if _, seen := remote[id]; !seen {
			remote[id] = struct{}{}
			order = append(order, id)
		}
		return nil
	})
	if err != nil {
		return o.finish(r, fmt.Errorf("failed to enumerate %s: %w", es.source, err))
	}
	r.log.Debug("enumerated remote edges", zap.Int("count", len(order)))

	var stale []string
	if err := es.local(ctx, guid, func(u schema.User) error {
		if _, ok := remote[u.GUID]; !ok {
			stale = append(stale, u.GUID)
		}
		return nil
	}); err != nil {
		return o.finish(r, err)
	}

	for _, other := range stale {
		if err := ctx.Err(); err != nil {
			return o.finish(r, err)
		}
		if err := es.remove(ctx, guid, other); err != nil {
			return o.finish(r, err)
		}
		r.Removed++
	}

	for _, other := range order {
		if err := ctx.Err(); err != nil {
			return o.finish(r, err)
		}
		if err := o.ensureUser(ctx, r, other); err != nil {
			if !isRemote(err) {
				return o.finish(r, err)
			}
			r.Failures++
			r.log.Warn("skipping edge", zap.String("user", other), zap.Error(err))
			continue
		}
		if err := es.add(ctx, guid, other); err != nil {
			return o.finish(r, err)
		}
	}

	return o.finish(r, o.checkpoint(ctx, r, guid, es.source))
}
