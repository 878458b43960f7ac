package index

import (
	"fmt"
	"strings"
)

type SearchResult struct {
	RunID       string
	Actor       string
	Tool        string
	CreatedAt   string
	WindowStart string
	SessionDir  string
	Summary     string
	Snippet     string
	Rank        float64
}

type SearchOptions struct {
	Query string
	Actor string // "" = all
	Tool  string // "" = all, "claude", "codex"
	Since string // "" = no filter, e.g. "2026-01-01"
	Limit int
}

func Search(db *DB, opts SearchOptions) ([]SearchResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	var conditions []string
	var args []interface{}

	conditions = append(conditions, "entries_fts MATCH ?")
	args = append(args, opts.Query)

	if opts.Actor != "" {
		conditions = append(conditions, "e.actor = ?")
		args = append(args, opts.Actor)
	}
	if opts.Tool != "" {
		conditions = append(conditions, "e.tool = ?")
		args = append(args, opts.Tool)
	}
	if opts.Since != "" {
		conditions = append(conditions, "e.window_start >= ?")
		args = append(args, opts.Since)
	}

	where := strings.Join(conditions, " AND ")

	query := fmt.Sprintf(`
		SELECT
			e.run_id,
			e.actor,
			e.tool,
			e.created_at,
			e.window_start,
			e.session_dir,
			e.summary,
			snippet(entries_fts, 1, '>>>', '<<<', '...', 40) as snip,
			bm25(entries_fts, 2.0, 1.0, 1.0) as rank
		FROM entries_fts
		JOIN entries e ON entries_fts.rowid = e.rowid
		WHERE %s
		ORDER BY rank
		LIMIT ?
	`, where)

	args = append(args, opts.Limit)

	rows, err := db.Raw().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("search query: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(
			&r.RunID, &r.Actor, &r.Tool, &r.CreatedAt,
			&r.WindowStart, &r.SessionDir, &r.Summary,
			&r.Snippet, &r.Rank,
		); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
