// Package changelog maintains the per-actor append-only changelog:
// deduplicated entries keyed by a deterministic run ID, with failures
// recorded alongside instead of propagating out of a batch.
package changelog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/marcusrt/ai-session-export/internal/digest"
	"github.com/marcusrt/ai-session-export/internal/timeutil"
)

const schemaVersion = 1

// Span mirrors the digest window in the persisted entry.
type Span struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Entry is one changelog line.
type Entry struct {
	SchemaVersion       int                 `json:"schema_version"`
	RunID               string              `json:"run_id"`
	ContinuationOfRunID string              `json:"continuation_of_run_id,omitempty"`
	CreatedAt           string              `json:"created_at"`
	Actor               string              `json:"actor"`
	Tool                string              `json:"tool"`
	Project             string              `json:"project,omitempty"`
	ProjectRoot         string              `json:"project_root,omitempty"`
	Label               string              `json:"label,omitempty"`
	SessionDir          string              `json:"session_dir"`
	SourceJSONL         string              `json:"source_jsonl"`
	SourceMatchJSON     string              `json:"source_match_json,omitempty"`
	Window              Span                `json:"window"`
	Summary             string              `json:"summary"`
	Bullets             []string            `json:"bullets"`
	Tags                []string            `json:"tags,omitempty"`
	Model               string              `json:"model,omitempty"`
	TouchedFiles        digest.TouchedFiles `json:"touched_files"`
	Tests               []digest.TestRun    `json:"tests,omitempty"`
	Commits             []digest.Commit     `json:"commits,omitempty"`
	TestPassed          *bool               `json:"test_passed,omitempty"`
	BudgetDigest        bool                `json:"budget_digest,omitempty"`
}

// FailureRecord is one summarization that could not produce an entry.
// It shares the run ID so a later successful retry can be correlated;
// failures never count toward dedup, so retries stay possible.
type FailureRecord struct {
	RunID     string `json:"run_id"`
	CreatedAt string `json:"created_at"`
	Actor     string `json:"actor"`
	Tool      string `json:"tool"`
	Window    Span   `json:"window"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail,omitempty"`
}

// runIDKey is the canonical identity of a summarization run. Field
// order is the serialized key order and must stay alphabetical so the
// hash is reproducible.
type runIDKey struct {
	End         string `json:"end"`
	SessionDir  string `json:"session_dir"`
	SourceJSONL string `json:"source_jsonl"`
	Start       string `json:"start"`
	Tool        string `json:"tool"`
}

// RunID derives the deterministic dedup key for one (tool, window,
// session dir, source file) tuple: first 16 hex chars of the SHA-256
// of the canonical JSON key.
func RunID(tool string, start, end time.Time, sessionDir, sourceJSONL string) string {
	key := runIDKey{
		End:         timeutil.Format(end),
		SessionDir:  sessionDir,
		SourceJSONL: sourceJSONL,
		Start:       timeutil.Format(start),
		Tool:        tool,
	}
	data, _ := json.Marshal(key)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}

// deriveTestPassed folds the digest's test runs into a tri-state: nil
// when no tests ran or every outcome is unknown, false on any failure,
// true when all known outcomes passed.
func deriveTestPassed(tests []digest.TestRun) *bool {
	known := false
	passed := true
	for _, t := range tests {
		switch t.Result {
		case "fail":
			known = true
			passed = false
		case "pass":
			known = true
		}
	}
	if !known {
		return nil
	}
	return &passed
}
