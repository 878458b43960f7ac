package index

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcusrt/ai-session-export/internal/changelog"
)

func testEntry(runID, actor, summary string, bullets []string) changelog.Entry {
	return changelog.Entry{
		SchemaVersion: 1,
		RunID:         runID,
		CreatedAt:     "2026-01-02T16:30:00Z",
		Actor:         actor,
		Tool:          "codex",
		Window:        changelog.Span{Start: "2026-01-02T14:35:00Z", End: "2026-01-02T16:22:45Z"},
		Summary:       summary,
		Bullets:       bullets,
		Tags:          []string{"parser"},
	}
}

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestIndexAllAndSearch(t *testing.T) {
	store := changelog.Store{Root: t.TempDir(), Log: zerolog.Nop()}
	require.NoError(t, store.AppendEntry(testEntry("1111111111111111", "alice",
		"Fixed the scanner buffer overflow.", []string{"Bumped buffer to 10MB"})))
	require.NoError(t, store.AppendEntry(testEntry("2222222222222222", "bob",
		"Added retry logic to the uploader.", []string{"Exponential backoff on 429"})))

	db := openTestDB(t)

	stats, err := IndexAll(db, store)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 2, stats.Added)

	// re-index is incremental
	stats, err = IndexAll(db, store)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Added)
	assert.Equal(t, 2, stats.Skipped)

	results, err := Search(db, SearchOptions{Query: "scanner"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1111111111111111", results[0].RunID)
	assert.Equal(t, "alice", results[0].Actor)

	results, err = Search(db, SearchOptions{Query: "backoff", Actor: "bob"})
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = Search(db, SearchOptions{Query: "backoff", Actor: "alice"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndexAllPrunesRewrittenEntries(t *testing.T) {
	store := changelog.Store{Root: t.TempDir(), Log: zerolog.Nop()}
	keep := testEntry("1111111111111111", "dev", "Kept entry.", []string{"a"})
	drop := testEntry("2222222222222222", "dev", "Dropped entry.", []string{"b"})
	require.NoError(t, store.AppendEntry(keep))
	require.NoError(t, store.AppendEntry(drop))

	db := openTestDB(t)
	_, err := IndexAll(db, store)
	require.NoError(t, err)

	require.NoError(t, store.RewriteEntries("dev", []changelog.Entry{keep}))

	stats, err := IndexAll(db, store)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pruned)

	n, err := db.EntryCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
