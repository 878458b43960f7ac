// Package runlog records export runs per output directory in an
// append-only export_runs.jsonl. The latest run links consecutive
// exports of the same session: its end time bounds the next delta and
// its changelog run ID becomes the next entry's continuation pointer.
package runlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/marcusrt/ai-session-export/internal/timeutil"
)

const fileName = "export_runs.jsonl"

// Run is one completed export of a session window.
type Run struct {
	RunAt           string `json:"run_at"`
	Tool            string `json:"tool"`
	Start           string `json:"start"`
	End             string `json:"end"`
	SourceJSONL     string `json:"source_jsonl"`
	SessionID       string `json:"session_id,omitempty"`
	ChangelogRunID  string `json:"changelog_run_id,omitempty"`
	LoglineCount    int    `json:"logline_count"`
	SkippedRecords  int    `json:"skipped_records"`
	DigestSizeBytes int    `json:"digest_size_bytes,omitempty"`
}

// EndTime parses the run's end bound; zero when malformed.
func (r Run) EndTime() time.Time { return timeutil.Parse(r.End) }

// Path returns the ledger location inside an output directory.
func Path(outputDir string) string { return filepath.Join(outputDir, fileName) }

// Append writes one run record to the ledger, creating it on first use.
func Append(outputDir string, run Run) error {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal export run: %w", err)
	}
	f, err := os.OpenFile(Path(outputDir), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open export run log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append export run: %w", err)
	}
	return nil
}

// ReadAll returns every well-formed run in ledger order. A missing
// ledger is an empty history, not an error.
func ReadAll(outputDir string) ([]Run, error) {
	f, err := os.Open(Path(outputDir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open export run log: %w", err)
	}
	defer f.Close()

	var runs []Run
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r Run
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		runs = append(runs, r)
	}
	return runs, scanner.Err()
}

// Last returns the most recent run, or ok=false for an empty history.
func Last(outputDir string) (Run, bool, error) {
	runs, err := ReadAll(outputDir)
	if err != nil || len(runs) == 0 {
		return Run{}, false, err
	}
	return runs[len(runs)-1], true, nil
}
