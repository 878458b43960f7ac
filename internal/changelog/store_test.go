package changelog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry(runID, actor string) Entry {
	return Entry{
		SchemaVersion: schemaVersion,
		RunID:         runID,
		CreatedAt:     "2026-01-02T16:30:00Z",
		Actor:         actor,
		Tool:          "codex",
		Window:        Span{Start: "2026-01-02T14:35:00Z", End: "2026-01-02T16:22:45Z"},
		Summary:       "Did things.",
		Bullets:       []string{"one", "two", "three"},
	}
}

func TestStoreAppendAndRead(t *testing.T) {
	s := Store{Root: t.TempDir(), Log: zerolog.Nop()}

	require.NoError(t, s.AppendEntry(sampleEntry("1111111111111111", "dev@example.com")))
	require.NoError(t, s.AppendEntry(sampleEntry("2222222222222222", "dev@example.com")))

	// actor slug partitions the files
	assert.FileExists(t, filepath.Join(s.Root, ".changelog", "dev-at-example.com", "entries.jsonl"))

	entries, err := s.ReadEntries("dev@example.com")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "1111111111111111", entries[0].RunID)
}

func TestStoreExistingRunIDsAcrossActorsAndLegacy(t *testing.T) {
	s := Store{Root: t.TempDir(), Log: zerolog.Nop()}

	require.NoError(t, s.AppendEntry(sampleEntry("aaaaaaaaaaaaaaaa", "alice")))
	require.NoError(t, s.AppendEntry(sampleEntry("bbbbbbbbbbbbbbbb", "bob")))

	// legacy single-file layout from before actor partitioning
	legacy := filepath.Join(s.Root, ".changelog", "changelog.jsonl")
	require.NoError(t, os.WriteFile(legacy, []byte(`{"run_id":"cccccccccccccccc"}`+"\n"), 0o644))

	ids, err := s.ExistingRunIDs()
	require.NoError(t, err)
	assert.Len(t, ids, 3)
	assert.Contains(t, ids, "aaaaaaaaaaaaaaaa")
	assert.Contains(t, ids, "cccccccccccccccc")
}

func TestStoreConcurrentAppends(t *testing.T) {
	s := Store{Root: t.TempDir(), Log: zerolog.Nop()}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			e := sampleEntry(fmt.Sprintf("%016x", n), "dev")
			assert.NoError(t, s.AppendEntry(e))
		}(i)
	}
	wg.Wait()

	entries, err := s.ReadEntries("dev")
	require.NoError(t, err)
	// every append landed as one intact line
	assert.Len(t, entries, 20)
}

func TestStoreRewriteKeepsBackup(t *testing.T) {
	s := Store{Root: t.TempDir(), Log: zerolog.Nop()}

	require.NoError(t, s.AppendEntry(sampleEntry("1111111111111111", "dev")))
	require.NoError(t, s.AppendEntry(sampleEntry("2222222222222222", "dev")))

	require.NoError(t, s.RewriteEntries("dev", []Entry{sampleEntry("1111111111111111", "dev")}))

	entries, err := s.ReadEntries("dev")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.FileExists(t, s.EntriesPath("dev")+".bak")
}

func TestStoreSkipsMalformedLines(t *testing.T) {
	s := Store{Root: t.TempDir(), Log: zerolog.Nop()}
	require.NoError(t, s.AppendEntry(sampleEntry("1111111111111111", "dev")))

	f, err := os.OpenFile(s.EntriesPath("dev"), os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{corrupt\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, s.AppendEntry(sampleEntry("2222222222222222", "dev")))

	entries, err := s.ReadEntries("dev")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
