// Package loadtest exercises the local store under concurrent access.
//
// It builds a store populated with synthetic accounts, authors, statuses,
// follow edges and lists, then measures timeline read latency from many
// goroutines at once, optionally while a writer keeps appending.
package loadtest

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/roost-app/roost/internal/schema"
	"github.com/roost-app/roost/internal/store"
)

// authorsPerAccount is the size of the author pool each account's timeline
// draws from.
const authorsPerAccount = 20

// TestDatabase is a populated store for load testing.
type TestDatabase struct {
	Store              *store.Store
	AccountGUIDs       []string
	AuthorGUIDs        []string
	ListGUIDs          []string
	StatusesPerAccount int
	TotalStatuses      int
}

// LatencyStats captures performance metrics from load tests.
type LatencyStats struct {
	Min          time.Duration
	Max          time.Duration
	Mean         time.Duration
	P50          time.Duration // Median
	P95          time.Duration
	P99          time.Duration
	TotalQueries int
	Errors       int
	Durations    []time.Duration
}

// CreateTestDatabase creates a store at path populated with accounts
// accounts, each with a public timeline of statusesPerAccount statuses drawn
// from a shared author pool, a user timeline, replies, followers and one
// list.
func CreateTestDatabase(ctx context.Context, path string, accounts, statusesPerAccount int) (*TestDatabase, error) {
	if accounts < 1 {
		return nil, fmt.Errorf("accounts must be at least 1")
	}

	st, err := store.OpenContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	td := &TestDatabase{Store: st, StatusesPerAccount: statusesPerAccount}
	if err := td.populate(ctx, accounts, statusesPerAccount); err != nil {
		_ = st.Close()
		return nil, err
	}
	return td, nil
}

func (td *TestDatabase) populate(ctx context.Context, accounts, statusesPerAccount int) error {
	st := td.Store
	baseTime := time.Now().Add(-30 * 24 * time.Hour).Truncate(time.Second)

	for i := 0; i < accounts; i++ {
		u := schema.User{GUID: fmt.Sprintf("1%05d", i), Username: fmt.Sprintf("account%05d", i), Name: fmt.Sprintf("Account %d", i)}
		if err := st.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("failed to insert account %s: %w", u.Username, err)
		}
		td.AccountGUIDs = append(td.AccountGUIDs, u.GUID)
	}

	for i := 0; i < authorsPerAccount; i++ {
		u := schema.User{GUID: fmt.Sprintf("2%05d", i), Username: fmt.Sprintf("author%05d", i), Name: fmt.Sprintf("Author %d", i)}
		if err := st.SaveUser(ctx, u); err != nil {
			return fmt.Errorf("failed to insert author %s: %w", u.Username, err)
		}
		td.AuthorGUIDs = append(td.AuthorGUIDs, u.GUID)
	}

	// Deterministic for reproducible runs.
	rng := rand.New(rand.NewSource(42))

	seq := 0
	for ai, account := range td.AccountGUIDs {
		list := schema.List{
			GUID:      fmt.Sprintf("3%05d", ai),
			OwnerGUID: account,
			Name:      "favourites",
			FullName:  fmt.Sprintf("@account%05d/favourites", ai),
		}
		if err := st.SaveList(ctx, list); err != nil {
			return fmt.Errorf("failed to insert list %s: %w", list.GUID, err)
		}
		td.ListGUIDs = append(td.ListGUIDs, list.GUID)

		for j, author := range td.AuthorGUIDs {
			if j%2 == 0 {
				if err := st.AddFollower(ctx, author, account); err != nil {
					return fmt.Errorf("failed to insert follow edge: %w", err)
				}
			} else if err := st.AddFollower(ctx, account, author); err != nil {
				return fmt.Errorf("failed to insert follow edge: %w", err)
			}
			if j < 5 {
				if err := st.AddListMember(ctx, list.GUID, author); err != nil {
					return fmt.Errorf("failed to insert list member: %w", err)
				}
			}
		}

		for k := 0; k < statusesPerAccount; k++ {
			seq++
			author := td.AuthorGUIDs[rng.Intn(len(td.AuthorGUIDs))]
			s := schema.Status{
				GUID:       fmt.Sprintf("9%09d", seq),
				AuthorGUID: author,
				Text:       fmt.Sprintf("status %d of account %d", k, ai),
				CreatedAt:  baseTime.Add(time.Duration(seq) * time.Second),
			}
			if _, err := st.SaveStatus(ctx, s); err != nil {
				return fmt.Errorf("failed to insert status %s: %w", s.GUID, err)
			}
			if err := st.AppendStatusToPublicTimeline(ctx, account, s.GUID); err != nil {
				return fmt.Errorf("failed to append status %s: %w", s.GUID, err)
			}
			switch {
			case k%10 == 0:
				if err := st.AppendStatusToReplies(ctx, account, s.GUID); err != nil {
					return fmt.Errorf("failed to append reply %s: %w", s.GUID, err)
				}
			case k%3 == 0:
				if err := st.AppendStatusToList(ctx, list.GUID, s.GUID); err != nil {
					return fmt.Errorf("failed to append list status %s: %w", s.GUID, err)
				}
			}
			td.TotalStatuses++
		}
	}
	return nil
}

// Close closes the store.
func (td *TestDatabase) Close() error {
	if td.Store != nil {
		return td.Store.Close()
	}
	return nil
}

// RunConcurrentReads starts workers goroutines that each read
// readsPerWorker public timelines of random accounts, and returns the
// aggregated latency.
func (td *TestDatabase) RunConcurrentReads(ctx context.Context, workers, readsPerWorker int) (*LatencyStats, error) {
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		allDurations []time.Duration
		errorCount   int
		firstErr     error
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			rng := rand.New(rand.NewSource(int64(worker)))
			durations := make([]time.Duration, 0, readsPerWorker)
			for j := 0; j < readsPerWorker; j++ {
				account := td.AccountGUIDs[rng.Intn(len(td.AccountGUIDs))]

				start := time.Now()
				err := td.Store.ForEachStatusInPublicTimeline(ctx, account, 50, func(schema.TimelineItem) error {
					return nil
				})
				durations = append(durations, time.Since(start))

				if err != nil {
					mu.Lock()
					errorCount++
					if firstErr == nil {
						firstErr = fmt.Errorf("worker %d read %d failed: %w", worker, j, err)
					}
					mu.Unlock()
					return
				}
			}

			mu.Lock()
			allDurations = append(allDurations, durations...)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(allDurations) == 0 {
		if firstErr != nil {
			return nil, firstErr
		}
		return nil, fmt.Errorf("no successful reads completed")
	}

	stats := computeLatencyStats(allDurations)
	stats.Errors = errorCount
	return stats, nil
}

// VerifyConsistency runs readers against every account while one writer
// keeps appending new statuses for duration. Readers check that no status
// is seen twice in one timeline read and that timelines stay newest-first.
func (td *TestDatabase) VerifyConsistency(ctx context.Context, readers int, duration time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	var wg sync.WaitGroup
	errorsChan := make(chan error, readers+1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		author := td.AuthorGUIDs[0]
		for seq := 0; ctx.Err() == nil; seq++ {
			s := schema.Status{
				GUID:       fmt.Sprintf("8%09d", seq),
				AuthorGUID: author,
				Text:       "live",
				CreatedAt:  time.Now(),
			}
			if _, err := td.Store.SaveStatus(ctx, s); err != nil {
				if ctx.Err() == nil {
					errorsChan <- fmt.Errorf("writer failed: %w", err)
				}
				return
			}
			account := td.AccountGUIDs[seq%len(td.AccountGUIDs)]
			if err := td.Store.AppendStatusToPublicTimeline(ctx, account, s.GUID); err != nil {
				if ctx.Err() == nil {
					errorsChan <- fmt.Errorf("writer failed: %w", err)
				}
				return
			}
		}
	}()

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(reader int) {
			defer wg.Done()

			for n := reader; ctx.Err() == nil; n++ {
				account := td.AccountGUIDs[n%len(td.AccountGUIDs)]
				seen := make(map[string]bool)
				var last time.Time
				err := td.Store.ForEachStatusInPublicTimeline(ctx, account, 0, func(it schema.TimelineItem) error {
					if seen[it.Status.GUID] {
						return fmt.Errorf("status %s returned twice", it.Status.GUID)
					}
					seen[it.Status.GUID] = true
					if !last.IsZero() && it.Status.CreatedAt.After(last) {
						return fmt.Errorf("timeline of %s out of order at %s", account, it.Status.GUID)
					}
					last = it.Status.CreatedAt
					return nil
				})
				if err != nil && ctx.Err() == nil {
					errorsChan <- fmt.Errorf("reader %d: %w", reader, err)
					return
				}
				time.Sleep(time.Millisecond)
			}
		}(i)
	}

	wg.Wait()
	close(errorsChan)

	for err := range errorsChan {
		if err != nil {
			return err
		}
	}
	return nil
}

// computeLatencyStats calculates statistics from a slice of durations.
func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	var sum time.Duration
	for _, d := range durations {
		sum += d
	}

	return &LatencyStats{
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Mean:         sum / time.Duration(len(durations)),
		P50:          sorted[len(sorted)*50/100],
		P95:          sorted[len(sorted)*95/100],
		P99:          sorted[len(sorted)*99/100],
		TotalQueries: len(durations),
		Durations:    sorted,
	}
}

// WriteTo prints latency statistics.
func (s *LatencyStats) WriteTo(w io.Writer) (int64, error) {
	n, err := fmt.Fprintf(w, `Latency Statistics:
  Total Reads:   %d
  Errors:        %d
  Min:           %v
  P50 (Median):  %v
  Mean:          %v
  P95:           %v
  P99:           %v
  Max:           %v
`, s.TotalQueries, s.Errors, s.Min, s.P50, s.Mean, s.P95, s.P99, s.Max)
	return int64(n), err
}
