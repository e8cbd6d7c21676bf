package db

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, name string) *Store {
	t.Helper()
	logger := log.New(os.Stderr)
	store, err := NewStore(logger, filepath.Join(t.TempDir(), name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestLedgerRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "ledger.db")

	seen, err := store.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	require.False(t, seen)

	entry := LedgerEntry{
		MessageID: "msg-1",
		ThreadID:  "thread-1",
		Subject:   "Fall Carnival",
		Sender:    "school@example.org",
		Record:    []byte(`{"summary":"carnival"}`),
	}
	require.NoError(t, store.MarkProcessed(ctx, entry))

	seen, err = store.IsProcessed(ctx, "msg-1")
	require.NoError(t, err)
	require.True(t, seen)

	got, err := store.GetEntry(ctx, "msg-1")
	require.NoError(t, err)
	require.Equal(t, "Fall Carnival", got.Subject)
	require.False(t, got.Degraded)
	require.JSONEq(t, `{"summary":"carnival"}`, string(got.Record))
}

func TestMarkProcessedOverwrites(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "ledger.db")

	require.NoError(t, store.MarkProcessed(ctx, LedgerEntry{
		MessageID: "msg-1",
		Subject:   "first",
		Record:    []byte(`{}`),
	}))
	require.NoError(t, store.MarkProcessed(ctx, LedgerEntry{
		MessageID: "msg-1",
		Subject:   "second",
		Degraded:  true,
		Record:    []byte(`{"v":2}`),
	}))

	ids, err := store.ListProcessedIDs(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 1)

	got, err := store.GetEntry(ctx, "msg-1")
	require.NoError(t, err)
	require.Equal(t, "second", got.Subject)
	require.True(t, got.Degraded)
}

func TestPruneDeletesOnlyOldEntries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "ledger.db")

	require.NoError(t, store.MarkProcessed(ctx, LedgerEntry{
		MessageID:   "old",
		ProcessedAt: time.Now().UTC().Add(-40 * 24 * time.Hour),
		Record:      []byte(`{}`),
	}))
	require.NoError(t, store.MarkProcessed(ctx, LedgerEntry{
		MessageID: "fresh",
		Record:    []byte(`{}`),
	}))

	deleted, err := store.Prune(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted)

	seen, err := store.IsProcessed(ctx, "fresh")
	require.NoError(t, err)
	require.True(t, seen)

	seen, err = store.IsProcessed(ctx, "old")
	require.NoError(t, err)
	require.False(t, seen)
}

func TestProfileStoresAreIsolated(t *testing.T) {
	ctx := context.Background()
	storeA := newTestStore(t, "school.db")
	storeB := newTestStore(t, "hoa.db")

	require.NoError(t, storeB.MarkProcessed(ctx, LedgerEntry{
		MessageID: "b-1",
		Record:    []byte(`{}`),
	}))
	before, err := storeB.GetEntry(ctx, "b-1")
	require.NoError(t, err)

	// A full rewrite of store A must leave store B untouched.
	require.NoError(t, storeA.MarkProcessed(ctx, LedgerEntry{
		MessageID: "b-1",
		Subject:   "imposter",
		Record:    []byte(`{"other":"profile"}`),
	}))
	_, err = storeA.Prune(ctx, 0)
	require.NoError(t, err)

	ids, err := storeB.ListProcessedIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"b-1"}, ids)

	after, err := storeB.GetEntry(ctx, "b-1")
	require.NoError(t, err)
	require.Equal(t, before.ProcessedAt.Unix(), after.ProcessedAt.Unix())
	require.Empty(t, after.Subject)
}

func TestDigestAudit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, "ledger.db")

	require.NoError(t, store.MarkProcessed(ctx, LedgerEntry{MessageID: "m1", Record: []byte(`{}`)}))
	require.NoError(t, store.MarkProcessed(ctx, LedgerEntry{MessageID: "m2", Record: []byte(`{}`)}))

	require.NoError(t, store.SaveDigest(ctx, DigestRow{
		ID:           "digest-1",
		DateRange:    "Oct 10-13, 2025",
		MessageCount: 2,
		Data:         []byte(`{"executive_summary":"ok"}`),
	}))
	require.NoError(t, store.LinkDigest(ctx, "digest-1", []string{"m1", "m2"}))

	rows, err := store.RecentDigests(ctx, 5)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, 2, rows[0].MessageCount)

	entry, err := store.GetEntry(ctx, "m1")
	require.NoError(t, err)
	require.True(t, entry.DigestID.Valid)
	require.Equal(t, "digest-1", entry.DigestID.String)

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.ProcessedMessages)
	require.Equal(t, 1, stats.Digests)
	require.NotNil(t, stats.LastDigestAt)
}
