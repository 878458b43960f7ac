package changelog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/marcusrt/ai-session-export/internal/digest"
	"github.com/marcusrt/ai-session-export/internal/evaluator"
	"github.com/marcusrt/ai-session-export/internal/logline"
	"github.com/marcusrt/ai-session-export/internal/timeutil"
)

// Status classifies the outcome of one changelog generation.
type Status string

const (
	// StatusWritten means a new entry was appended.
	StatusWritten Status = "written"
	// StatusDuplicate means the run ID already exists; nothing changed.
	StatusDuplicate Status = "duplicate"
	// StatusFailed means a failure record was appended instead.
	StatusFailed Status = "failed"
	// StatusRateLimited means the evaluator refused on quota grounds.
	// Nothing was recorded; the run can be retried later and batch
	// callers should stop dispatching.
	StatusRateLimited Status = "rate_limited"
)

// Outcome is the result of one generation. Generation never returns an
// error for summarizer failures; those become failure records. Only
// storage problems surface as errors.
type Outcome struct {
	Status  Status
	RunID   string
	Entry   *Entry
	Failure *FailureRecord
}

// Request describes one session window to summarize.
type Request struct {
	Tool                logline.Tool
	Actor               string
	Project             string // working directory of the session
	ProjectRoot         string // repo root when it differs from the project dir
	Label               string // optional caller-supplied title
	SessionDir          string
	SourceJSONL         string
	SourceMatchJSON     string
	Start               time.Time
	End                 time.Time
	Digest              *digest.Digest
	ContinuationOfRunID string
}

// Generator runs the digest → evaluator → entry pipeline.
type Generator struct {
	Store Store
	Eval  evaluator.Evaluator
	Log   zerolog.Logger
}

// RunSet is a dedup set of run IDs safe for concurrent generators.
type RunSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

// NewRunSet wraps an ID set; nil starts empty.
func NewRunSet(ids map[string]struct{}) *RunSet {
	if ids == nil {
		ids = map[string]struct{}{}
	}
	return &RunSet{ids: ids}
}

// LoadRunSet builds the dedup set from the store's existing files.
func (g Generator) LoadRunSet() (*RunSet, error) {
	ids, err := g.Store.ExistingRunIDs()
	if err != nil {
		return nil, err
	}
	return NewRunSet(ids), nil
}

// reserve claims an id atomically; false means another generation
// already holds it. Check-and-insert in one critical section, so two
// workers racing on the same id never both proceed.
func (s *RunSet) reserve(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// release returns a claim that produced no entry, keeping the run
// retryable.
func (s *RunSet) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

const maxBullets = 12

const prompt = `You are writing a changelog entry for one AI-assisted coding session.
The JSON digest below contains the session's prompts, assistant notes,
tool activity, touched files, test runs, and commits.

Respond with ONLY a JSON object of this shape:
{"summary": "...", "bullets": ["..."], "tags": ["..."]}

Rules:
- summary: one or two sentences describing what was accomplished.
- bullets: 3 to 5 concrete items (changes made, problems fixed,
  decisions taken). Mention file names and test outcomes when present.
- tags: up to 5 short lowercase topic tags; omit or leave empty if
  nothing fits.
- Describe only what the digest shows. Do not speculate.`

// Generate summarizes one request into a changelog entry. seen is the
// dedup set; nil means load it from the store. The run ID is reserved
// in seen up front and released when no entry lands. On a context
// overflow the digest is rebuilt in budget mode and retried exactly
// once.
func (g Generator) Generate(ctx context.Context, req Request, seen *RunSet) (Outcome, error) {
	runID := RunID(string(req.Tool), req.Start, req.End, req.SessionDir, req.SourceJSONL)

	if seen == nil {
		var err error
		seen, err = g.LoadRunSet()
		if err != nil {
			return Outcome{}, err
		}
	}
	if !seen.reserve(runID) {
		g.Log.Debug().Str("run_id", runID).Msg("changelog entry exists, skipping")
		return Outcome{Status: StatusDuplicate, RunID: runID}, nil
	}

	window := Span{Start: timeutil.Format(req.Start), End: timeutil.Format(req.End)}

	res, usedBudget, err := g.summarize(ctx, req.Digest)
	if err != nil {
		seen.release(runID)
		if errors.Is(err, evaluator.ErrRateLimited) {
			g.Log.Warn().Str("run_id", runID).Msg("evaluator rate limited")
			return Outcome{Status: StatusRateLimited, RunID: runID}, nil
		}
		return g.recordFailure(runID, req, window, failureReason(err), err)
	}

	summary := strings.TrimSpace(res.Summary)
	bullets := cleanBullets(res.Bullets)
	if summary == "" || len(bullets) == 0 || len(bullets) > maxBullets {
		seen.release(runID)
		return g.recordFailure(runID, req, window, "invalid_result",
			fmt.Errorf("summary %d chars, %d bullets", len(summary), len(bullets)))
	}

	entry := Entry{
		SchemaVersion:       schemaVersion,
		RunID:               runID,
		ContinuationOfRunID: req.ContinuationOfRunID,
		CreatedAt:           timeutil.NowISO(),
		Actor:               req.Actor,
		Tool:                string(req.Tool),
		Project:             req.Project,
		ProjectRoot:         req.ProjectRoot,
		Label:               req.Label,
		SessionDir:          req.SessionDir,
		SourceJSONL:         req.SourceJSONL,
		SourceMatchJSON:     req.SourceMatchJSON,
		Window:              window,
		Summary:             summary,
		Bullets:             bullets,
		Tags:                cleanTags(res.Tags),
		Model:               res.Model,
		TouchedFiles:        req.Digest.Delta.TouchedFiles,
		Tests:               req.Digest.Delta.Tests,
		Commits:             req.Digest.Delta.Commits,
		TestPassed:          deriveTestPassed(req.Digest.Delta.Tests),
		BudgetDigest:        usedBudget,
	}
	if err := g.Store.AppendEntry(entry); err != nil {
		seen.release(runID)
		return Outcome{}, err
	}

	g.Log.Info().
		Str("run_id", runID).
		Str("actor", req.Actor).
		Bool("budget_digest", usedBudget).
		Msg("changelog entry written")
	return Outcome{Status: StatusWritten, RunID: runID, Entry: &entry}, nil
}

// summarize invokes the evaluator, retrying once in budget mode on a
// context overflow. A second overflow is terminal.
func (g Generator) summarize(ctx context.Context, d *digest.Digest) (*evaluator.Result, bool, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return nil, false, fmt.Errorf("marshal digest: %w", err)
	}
	res, err := g.Eval.Summarize(ctx, prompt, payload)
	if err == nil {
		return res, d.Budget, nil
	}
	if !errors.Is(err, evaluator.ErrContextOverflow) || d.Budget {
		return nil, d.Budget, err
	}

	g.Log.Warn().Msg("digest overflowed evaluator context, retrying in budget mode")
	reduced := d.ToBudget()
	payload, err = json.Marshal(reduced)
	if err != nil {
		return nil, true, fmt.Errorf("marshal budget digest: %w", err)
	}
	res, err = g.Eval.Summarize(ctx, prompt, payload)
	if err != nil {
		return nil, true, err
	}
	return res, true, nil
}

func (g Generator) recordFailure(runID string, req Request, window Span, reason string, cause error) (Outcome, error) {
	failure := FailureRecord{
		RunID:     runID,
		CreatedAt: timeutil.NowISO(),
		Actor:     req.Actor,
		Tool:      string(req.Tool),
		Window:    window,
		Reason:    reason,
		Detail:    cause.Error(),
	}
	if err := g.Store.AppendFailure(failure); err != nil {
		return Outcome{}, err
	}
	g.Log.Error().Str("run_id", runID).Str("reason", reason).Err(cause).Msg("changelog generation failed")
	return Outcome{Status: StatusFailed, RunID: runID, Failure: &failure}, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, evaluator.ErrContextOverflow):
		return "context_overflow"
	case errors.Is(err, evaluator.ErrUnavailable):
		return "evaluator_unavailable"
	default:
		return "evaluator_error"
	}
}

func cleanBullets(bullets []string) []string {
	out := make([]string, 0, len(bullets))
	for _, b := range bullets {
		b = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(b), "-*• "))
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}

func cleanTags(tags []string) []string {
	var out []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" && len(out) < 5 {
			out = append(out, t)
		}
	}
	return out
}
