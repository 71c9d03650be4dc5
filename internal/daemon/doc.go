// Package daemon drives periodic synchronization for a set of accounts.
//
// Each account runs the same fixed sequence of sources:
//
//	timelines -> lists (+ members) -> friends -> followers
//
// Every step is gated by its checkpoint in the local store: a source synced
// less than Config.Interval ago is skipped. Sources are independent, so one
// failing source does not stop the next; cancellation stops the sequence.
// Accounts run concurrently, bounded by Config.Concurrency.
//
// # Usage
//
//	orch := sync.New(st, client, decode.New(logger))
//	d, err := daemon.New(orch, &daemon.Config{
//	    Accounts:     []string{"alice", "bob"},
//	    Interval:     15 * time.Minute,
//	    PollInterval: time.Minute,
//	    Concurrency:  2,
//	})
//	if err != nil {
//	    return err
//	}
//
//	// One pass, e.g. from a CLI command:
//	reports, err := d.RunOnce(ctx)
//
//	// Or run until ctx is cancelled:
//	err = d.Start(ctx)
//
// # Config Watching
//
// When Config.ConfigPath and Config.Reload are set, Start watches the config
// file with fsnotify and calls Reload once writes have settled for
// Config.DebounceInterval. A reload that fails or yields no accounts keeps
// the previous list.
package daemon
