package index

import (
	"fmt"
	"strings"

	"github.com/marcusrt/ai-session-export/internal/changelog"
)

type Stats struct {
	Scanned int
	Added   int
	Skipped int
	Pruned  int
	Errors  int
}

func (s Stats) String() string {
	return fmt.Sprintf("scanned=%d added=%d skipped=%d pruned=%d errors=%d",
		s.Scanned, s.Added, s.Skipped, s.Pruned, s.Errors)
}

// IndexAll loads every actor's changelog entries into the index.
// Entries are immutable once written, so a run ID already present is
// skipped; run IDs no longer on disk (doctor rewrites) are pruned.
func IndexAll(db *DB, store changelog.Store) (Stats, error) {
	var stats Stats

	actors, err := store.Actors()
	if err != nil {
		return stats, fmt.Errorf("list actors: %w", err)
	}

	seen := make(map[string]struct{})
	for _, actor := range actors {
		entries, err := store.ReadEntries(actor)
		if err != nil {
			stats.Errors++
			fmt.Printf("  WARN: read changelog %s: %v\n", actor, err)
			continue
		}
		for _, e := range entries {
			stats.Scanned++
			seen[e.RunID] = struct{}{}

			exists, err := db.HasEntry(e.RunID)
			if err != nil {
				stats.Errors++
				continue
			}
			if exists {
				stats.Skipped++
				continue
			}
			if err := insertEntry(db, e); err != nil {
				stats.Errors++
				fmt.Printf("  WARN: index %s: %v\n", e.RunID, err)
				continue
			}
			stats.Added++
		}
	}

	pruned, err := pruneEntries(db, seen)
	if err != nil {
		return stats, fmt.Errorf("prune: %w", err)
	}
	stats.Pruned = pruned

	return stats, nil
}

func insertEntry(db *DB, e changelog.Entry) error {
	_, err := db.Raw().Exec(
		`INSERT INTO entries (run_id, actor, tool, created_at, window_start, window_end, session_dir, summary, bullets, tags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.RunID,
		e.Actor,
		e.Tool,
		e.CreatedAt,
		e.Window.Start,
		e.Window.End,
		e.SessionDir,
		e.Summary,
		strings.Join(e.Bullets, "\n"),
		strings.Join(e.Tags, " "),
	)
	return err
}

func pruneEntries(db *DB, seen map[string]struct{}) (int, error) {
	all, err := db.AllRunIDs()
	if err != nil {
		return 0, err
	}

	pruned := 0
	for id := range all {
		if _, ok := seen[id]; !ok {
			if err := db.DeleteEntry(id); err != nil {
				return pruned, err
			}
			pruned++
		}
	}
	return pruned, nil
}
