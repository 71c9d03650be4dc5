package loadtest

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roost-app/roost/internal/schema"
	"github.com/roost-app/roost/internal/store"
)

func newTestDatabase(t *testing.T, accounts, statuses int) *TestDatabase {
	t.Helper()
	td, err := CreateTestDatabase(context.Background(), filepath.Join(t.TempDir(), "load.db"), accounts, statuses)
	require.NoError(t, err)
	t.Cleanup(func() { _ = td.Close() })
	return td
}

func TestCreateTestDatabase(t *testing.T) {
	td := newTestDatabase(t, 4, 30)

	assert.Len(t, td.AccountGUIDs, 4)
	assert.Len(t, td.AuthorGUIDs, authorsPerAccount)
	assert.Len(t, td.ListGUIDs, 4)
	assert.Equal(t, 120, td.TotalStatuses)

	counts, err := td.Store.Counts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, store.Counts{
		Users:       4 + authorsPerAccount,
		Statuses:    120,
		Timeline:    120 + 4*3, // every tenth status is also a reply
		Follows:     4 * authorsPerAccount,
		Lists:       4,
		ListMembers: 4 * 5,
	}, counts)

	n, err := td.Store.CountListStatuses(context.Background(), td.ListGUIDs[0])
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestCreateTestDatabase_NoAccounts(t *testing.T) {
	_, err := CreateTestDatabase(context.Background(), filepath.Join(t.TempDir(), "load.db"), 0, 10)
	assert.Error(t, err)
}

func TestRunConcurrentReads_Small(t *testing.T) {
	td := newTestDatabase(t, 3, 60)

	stats, err := td.RunConcurrentReads(context.Background(), 8, 5)
	require.NoError(t, err)

	assert.Zero(t, stats.Errors)
	assert.Equal(t, 40, stats.TotalQueries)
	assert.LessOrEqual(t, stats.Min, stats.P50)
	assert.LessOrEqual(t, stats.P50, stats.P95)
	assert.LessOrEqual(t, stats.P95, stats.Max)

	var buf bytes.Buffer
	_, err = stats.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Total Reads:   40")
	t.Log(buf.String())
}

func TestRunConcurrentReads_Cancelled(t *testing.T) {
	td := newTestDatabase(t, 1, 5)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := td.RunConcurrentReads(ctx, 2, 3)
	assert.Error(t, err)
}

func TestVerifyConsistency(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping consistency test in short mode")
	}
	td := newTestDatabase(t, 2, 20)

	require.NoError(t, td.VerifyConsistency(context.Background(), 4, 300*time.Millisecond))

	// The writer ran, so the home feeds grew.
	var n int
	err := td.Store.ForEachStatusInPublicTimeline(context.Background(), td.AccountGUIDs[0], 1000, func(schema.TimelineItem) error {
		n++
		return nil
	})
	require.NoError(t, err)
	assert.Greater(t, n, 20)
}

func TestComputeLatencyStats(t *testing.T) {
	durations := make([]time.Duration, 0, 100)
	for i := 100; i >= 1; i-- {
		durations = append(durations, time.Duration(i)*time.Millisecond)
	}

	stats := computeLatencyStats(durations)
	assert.Equal(t, time.Millisecond, stats.Min)
	assert.Equal(t, 100*time.Millisecond, stats.Max)
	assert.Equal(t, 51*time.Millisecond, stats.P50)
	assert.Equal(t, 96*time.Millisecond, stats.P95)
	assert.Equal(t, 100*time.Millisecond, stats.P99)
	assert.Equal(t, 50500*time.Microsecond, stats.Mean)
	assert.Equal(t, 100, stats.TotalQueries)

	assert.Equal(t, &LatencyStats{}, computeLatencyStats(nil))
}

func BenchmarkPublicTimelineRead(b *testing.B) {
	td, err := CreateTestDatabase(context.Background(), filepath.Join(b.TempDir(), "load.db"), 5, 200)
	require.NoError(b, err)
	defer td.Close()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		account := td.AccountGUIDs[i%len(td.AccountGUIDs)]
		if err := td.Store.ForEachStatusInPublicTimeline(ctx, account, 50, func(schema.TimelineItem) error { return nil }); err != nil {
			b.Fatal(err)
		}
	}
}
