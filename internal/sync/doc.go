// Package sync drives incremental synchronisation between the remote
// service and the local store.
//
// # Overview
//
// Each account has independent sources (timelines, lists, friends,
// followers). The Orchestrator exposes one synchronous, cancellable,
// idempotent method per source; scheduling them is left to the caller
// (see internal/daemon).
//
//	RemoteClient ──bytes──▶ Decoder ──records──▶ Orchestrator ──▶ LocalStore
//	                                                  │
//	                                                  └──▶ Cache (derived data)
//
// # Guarantees
//
//   - Writes are idempotent: re-running a source over unchanged remote data
//     leaves the store unchanged.
//   - Follow edges are enumerated completely before anything is deleted, so
//     a failed page never reads as an unfollow.
//   - Cancellation is cooperative. It is checked between pages and between
//     items; a cancelled source stops issuing remote calls and returns an
//     error wrapping context.Canceled. Writes already made stay.
//   - A source that finishes with per-item failures returns ErrIncomplete
//     and does not advance its checkpoint, so the next run retries it.
//
// # Usage
//
//	orch := sync.New(st, client, decode.New(logger), sync.WithLogger(logger))
//	report, err := orch.UpdateTimelines(ctx, "alice")
//	if err != nil {
//	    return err
//	}
//	fmt.Printf("%d new statuses\n", report.NewStatuses)
package sync
