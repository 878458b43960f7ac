package match

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/marcusrt/ai-session-export/internal/logline"
	"github.com/marcusrt/ai-session-export/internal/paths"
)

// scanCodex lists rollout files from the date-bounded subset of the
// Codex sessions root. Rollouts live under YYYY/MM/DD folders keyed by
// local calendar dates, so only the days around the window are walked.
func (f Finder) scanCodex(w Window) ([]Candidate, error) {
	base := f.Roots.CodexSessions
	if _, err := os.Stat(base); err != nil {
		return nil, fmt.Errorf("codex sessions directory not found: %s", base)
	}

	var cands []Candidate
	for _, dir := range dayDirs(base, w.Start, w.End, f.Roots.location()) {
		matches, err := filepath.Glob(filepath.Join(dir, "rollout-*.jsonl"))
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, path := range matches {
			if c, ok := f.scoreCandidate(path, logline.ToolCodex, w); ok {
				cands = append(cands, c)
			}
		}
	}
	return cands, nil
}

// dayDirs returns the sorted set of YYYY/MM/DD directories for the
// local dates in [start-1d, end+1d]. Local time, not UTC: the on-disk
// layout follows the machine's calendar.
func dayDirs(base string, start, end time.Time, loc *time.Location) []string {
	seen := map[string]struct{}{}
	for _, t := range []time.Time{start, end} {
		local := t.In(loc)
		for offset := -1; offset <= 1; offset++ {
			d := local.AddDate(0, 0, offset)
			dir := filepath.Join(base,
				fmt.Sprintf("%04d", d.Year()),
				fmt.Sprintf("%02d", d.Month()),
				fmt.Sprintf("%02d", d.Day()))
			seen[dir] = struct{}{}
		}
	}
	dirs := make([]string, 0, len(seen))
	for d := range seen {
		dirs = append(dirs, d)
	}
	sort.Strings(dirs)
	return dirs
}

// scanClaude lists session files from the Claude projects root. The
// layout is keyed by encoded project path: the exact project-root
// folder is searched first, then the cwd folder, and only when neither
// exists does the scan degrade to every project folder.
func (f Finder) scanClaude(w Window) ([]Candidate, error) {
	base := f.Roots.ClaudeProjects
	if _, err := os.Stat(base); err != nil {
		return nil, fmt.Errorf("claude projects directory not found: %s", base)
	}

	var dirs []string
	for _, p := range []string{w.ProjectRoot, w.Cwd} {
		if p == "" {
			continue
		}
		dir := filepath.Join(base, paths.EncodeProjectFolder(p))
		if info, err := os.Stat(dir); err == nil && info.IsDir() && !containsDir(dirs, dir) {
			dirs = append(dirs, dir)
		}
	}
	if len(dirs) == 0 {
		entries, err := os.ReadDir(base)
		if err != nil {
			return nil, fmt.Errorf("read claude projects root: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				dirs = append(dirs, filepath.Join(base, e.Name()))
			}
		}
		sort.Strings(dirs)
	}

	var cands []Candidate
	for _, dir := range dirs {
		matches, err := filepath.Glob(filepath.Join(dir, "*.jsonl"))
		if err != nil {
			continue
		}
		sort.Strings(matches)
		for _, path := range matches {
			// agent-* files are subagent transcripts, never sessions
			if strings.HasPrefix(filepath.Base(path), "agent-") {
				continue
			}
			if c, ok := f.scoreCandidate(path, logline.ToolClaude, w); ok {
				cands = append(cands, c)
			}
		}
	}
	return cands, nil
}

func containsDir(dirs []string, dir string) bool {
	for _, d := range dirs {
		if d == dir {
			return true
		}
	}
	return false
}
