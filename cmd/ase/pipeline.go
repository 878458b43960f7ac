package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marcusrt/ai-session-export/internal/changelog"
	"github.com/marcusrt/ai-session-export/internal/config"
	"github.com/marcusrt/ai-session-export/internal/digest"
	"github.com/marcusrt/ai-session-export/internal/logline"
	"github.com/marcusrt/ai-session-export/internal/match"
	"github.com/marcusrt/ai-session-export/internal/parse"
	"github.com/marcusrt/ai-session-export/internal/timeutil"
)

const sourceMatchFileName = "source_match.json"

// parseWindow validates the --start/--end pair.
func parseWindow(startStr, endStr string) (time.Time, time.Time, error) {
	start := timeutil.Parse(startStr)
	if start.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("bad --start %q: want RFC 3339", startStr)
	}
	end := timeutil.Parse(endStr)
	if end.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("bad --end %q: want RFC 3339", endStr)
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--end precedes --start")
	}
	return start, end, nil
}

func matchRoots(cfg *config.Config) match.Roots {
	return match.Roots{
		CodexSessions:  cfg.CodexRoot,
		ClaudeProjects: cfg.ClaudeRoot,
		Location:       cfg.Location(),
	}
}

// buildRequest normalizes a session log and digests the window into a
// summarization request. digestStart may be later than the full window
// start when a previous export already covered the head of the session.
func buildRequest(tool logline.Tool, actor, sessionDir, sourceJSONL string, digestStart, end time.Time, continuation string) (changelog.Request, logline.Loglines, parse.Stats, error) {
	lines, stats, err := parse.NormalizeFile(sourceJSONL, tool)
	if err != nil {
		return changelog.Request{}, nil, stats, fmt.Errorf("normalize %s: %w", sourceJSONL, err)
	}
	d := digest.Build(lines, digest.Options{Tool: tool, Start: digestStart, End: end})
	return changelog.Request{
		Tool:                tool,
		Actor:               actor,
		SessionDir:          sessionDir,
		SourceJSONL:         sourceJSONL,
		Start:               digestStart,
		End:                 end,
		Digest:              d,
		ContinuationOfRunID: continuation,
	}, lines, stats, nil
}

// sessionDirName keys the export directory: the session ID when the
// log recorded one, otherwise the source file's base name.
func sessionDirName(best match.Candidate) string {
	if best.SessionID != "" {
		return best.SessionID
	}
	return strings.TrimSuffix(filepath.Base(best.Path), filepath.Ext(best.Path))
}

// sourceMatchFile is the subset of source_match.json a backfill needs
// to reconstruct a window from a directory without a run ledger.
type sourceMatchFile struct {
	Best struct {
		Path    string `json:"path"`
		StartTS string `json:"start_ts"`
		EndTS   string `json:"end_ts"`
	} `json:"best"`
}

func readSourceMatch(dir string) (sourceMatchFile, error) {
	var sm sourceMatchFile
	data, err := os.ReadFile(filepath.Join(dir, sourceMatchFileName))
	if err != nil {
		return sm, err
	}
	if err := json.Unmarshal(data, &sm); err != nil {
		return sm, fmt.Errorf("parse %s: %w", sourceMatchFileName, err)
	}
	return sm, nil
}
