// Package match locates the on-disk session log that corresponds to a
// just-finished interactive session. Multiple sessions may run
// concurrently, so candidates from the known log roots are scored by
// timestamp distance from the caller's window and the minimum wins.
package match

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/marcusrt/ai-session-export/internal/logline"
	"github.com/marcusrt/ai-session-export/internal/paths"
)

// ErrNoCandidates means nothing plausible was found; matching is fatal
// to the export because there is no source file to normalize.
var ErrNoCandidates = errors.New("no matching session log files found")

// mtimeTolerance widens the window filter: process start/exit times and
// last-write time are close but not identical.
const mtimeTolerance = 15 * time.Minute

// maxReportedCandidates caps the audit record, not the scan.
const maxReportedCandidates = 25

// Window identifies one interactive session to match.
type Window struct {
	Tool        logline.Tool
	Cwd         string
	ProjectRoot string
	Start       time.Time
	End         time.Time
}

// Roots tells the scanner where each tool keeps its logs and which
// calendar the on-disk date folders follow.
type Roots struct {
	CodexSessions  string // e.g. ~/.codex/sessions
	ClaudeProjects string // e.g. ~/.claude/projects
	Location       *time.Location
}

func (r Roots) location() *time.Location {
	if r.Location == nil {
		return time.Local
	}
	return r.Location
}

// Candidate is one log file considered for a window, with the session
// bounds extracted from its content (or mtime when absent).
type Candidate struct {
	Path      string
	Score     float64
	SessionID string
	Cwd       string
	CwdMatch  bool
	StartTS   time.Time
	EndTS     time.Time
	Mtime     time.Time
	Size      int64
}

// Result is the persisted audit record for one match: the best
// candidate plus up to 24 runners-up in ascending score order.
type Result struct {
	Best       Candidate
	Candidates []Candidate
}

// Finder scans and scores candidates for session windows.
type Finder struct {
	Roots Roots
	Log   zerolog.Logger
}

// FindSource returns the best-scoring candidate for the window.
// Scan order is deterministic; on an exact score tie the first
// candidate encountered wins.
func (f Finder) FindSource(w Window) (*Result, error) {
	if !w.Tool.Valid() {
		return nil, fmt.Errorf("find source: unknown tool %q", w.Tool)
	}

	var (
		cands []Candidate
		err   error
	)
	switch w.Tool {
	case logline.ToolCodex:
		cands, err = f.scanCodex(w)
	case logline.ToolClaude:
		cands, err = f.scanClaude(w)
	}
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, ErrNoCandidates
	}

	ordered := make([]Candidate, len(cands))
	copy(ordered, cands)
	// stable sort: an exact score tie keeps scan order, so the first
	// candidate encountered wins
	sortCandidatesByScore(ordered)
	if len(ordered) > maxReportedCandidates {
		ordered = ordered[:maxReportedCandidates]
	}

	f.Log.Debug().
		Str("tool", string(w.Tool)).
		Str("best", ordered[0].Path).
		Float64("score", ordered[0].Score).
		Int("scanned", len(cands)).
		Msg("source match")

	return &Result{Best: ordered[0], Candidates: ordered}, nil
}

func sortCandidatesByScore(cands []Candidate) {
	// insertion sort keeps equal-score candidates in scan order
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && cands[j].Score < cands[j-1].Score; j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
}

// candidateWire is the JSON shape of a candidate in source_match.json.
type candidateWire struct {
	Path      string  `json:"path"`
	Score     float64 `json:"score"`
	SessionID string  `json:"session_id,omitempty"`
	Cwd       string  `json:"cwd,omitempty"`
	CwdMatch  bool    `json:"cwd_match"`
	StartTS   string  `json:"start_ts"`
	EndTS     string  `json:"end_ts"`
	Mtime     string  `json:"mtime"`
	SizeBytes int64   `json:"size_bytes"`
}

func toWire(c Candidate) candidateWire {
	return candidateWire{
		Path:      c.Path,
		Score:     c.Score,
		SessionID: c.SessionID,
		Cwd:       c.Cwd,
		CwdMatch:  c.CwdMatch,
		StartTS:   c.StartTS.UTC().Format(time.RFC3339),
		EndTS:     c.EndTS.UTC().Format(time.RFC3339),
		Mtime:     c.Mtime.UTC().Format(time.RFC3339),
		SizeBytes: c.Size,
	}
}

// MarshalJSON renders the audit record shape written to
// source_match.json.
func (r *Result) MarshalJSON() ([]byte, error) {
	wire := struct {
		Best       candidateWire   `json:"best"`
		Candidates []candidateWire `json:"candidates"`
	}{Best: toWire(r.Best)}
	for _, c := range r.Candidates {
		wire.Candidates = append(wire.Candidates, toWire(c))
	}
	return json.Marshal(wire)
}

// WriteReport persists the match result for auditability.
func (r *Result) WriteReport(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal source match: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write source match: %w", err)
	}
	return nil
}

// cwdMatches compares a candidate's recorded cwd against the window
// after canonicalizing both sides. A mismatch never disqualifies or
// penalizes the candidate; it is recorded for the audit trail.
func cwdMatches(sessCwd string, w Window) bool {
	if sessCwd == "" {
		return false
	}
	if paths.Same(sessCwd, w.Cwd) {
		return true
	}
	return w.ProjectRoot != "" && paths.Same(sessCwd, w.ProjectRoot)
}
