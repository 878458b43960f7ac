package changelog

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcusrt/ai-session-export/internal/digest"
	"github.com/marcusrt/ai-session-export/internal/evaluator"
	"github.com/marcusrt/ai-session-export/internal/logline"
)

// fakeEval returns scripted results/errors in call order, recording the
// digests it was given.
type fakeEval struct {
	mu      sync.Mutex
	scripts []func() (*evaluator.Result, error)
	digests []*digest.Digest
	calls   int
}

func (f *fakeEval) Name() string { return "fake" }

func (f *fakeEval) Summarize(ctx context.Context, prompt string, digestJSON []byte) (*evaluator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var d digest.Digest
	if err := json.Unmarshal(digestJSON, &d); err != nil {
		return nil, err
	}
	f.digests = append(f.digests, &d)
	i := f.calls
	f.calls++
	if i >= len(f.scripts) {
		i = len(f.scripts) - 1
	}
	return f.scripts[i]()
}

func okResult() (*evaluator.Result, error) {
	return &evaluator.Result{
		Summary: "Fixed the scanner buffer overflow.",
		Bullets: []string{"Bumped scanner buffer to 10MB", "Added regression test", "All tests pass"},
		Tags:    []string{"parser"},
		Model:   "test-model",
	}, nil
}

func testRequest() Request {
	start := time.Date(2026, 1, 2, 14, 35, 0, 0, time.UTC)
	end := time.Date(2026, 1, 2, 16, 22, 45, 0, time.UTC)
	d := digest.Build(logline.Loglines{
		{Role: logline.RoleUser, Timestamp: start.Add(time.Minute), Text: "fix the bug"},
	}, digest.Options{Tool: logline.ToolCodex, Start: start, End: end})
	return Request{
		Tool:        logline.ToolCodex,
		Actor:       "dev@example.com",
		SessionDir:  "/exports/sess-1",
		SourceJSONL: "/logs/rollout-1.jsonl",
		Start:       start,
		End:         end,
		Digest:      d,
	}
}

func newGenerator(t *testing.T, eval evaluator.Evaluator) Generator {
	t.Helper()
	return Generator{
		Store: Store{Root: t.TempDir(), Log: zerolog.Nop()},
		Eval:  eval,
		Log:   zerolog.Nop(),
	}
}

func TestRunIDDeterministic(t *testing.T) {
	start := time.Date(2026, 1, 2, 14, 35, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	a := RunID("codex", start, end, "/d", "/f.jsonl")
	b := RunID("codex", start, end, "/d", "/f.jsonl")
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	assert.NotEqual(t, a, RunID("claude", start, end, "/d", "/f.jsonl"))
	assert.NotEqual(t, a, RunID("codex", start, end.Add(time.Second), "/d", "/f.jsonl"))
	assert.NotEqual(t, a, RunID("codex", start, end, "/d", "/other.jsonl"))
}

func TestGenerateWritesEntry(t *testing.T) {
	eval := &fakeEval{scripts: []func() (*evaluator.Result, error){okResult}}
	gen := newGenerator(t, eval)

	outcome, err := gen.Generate(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusWritten, outcome.Status)
	require.NotNil(t, outcome.Entry)
	assert.Equal(t, outcome.RunID, outcome.Entry.RunID)
	assert.False(t, outcome.Entry.BudgetDigest)
	assert.Equal(t, "test-model", outcome.Entry.Model)

	entries, err := gen.Store.ReadEntries("dev@example.com")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Fixed the scanner buffer overflow.", entries[0].Summary)
}

func TestGenerateCarriesDigestFacts(t *testing.T) {
	start := time.Date(2026, 1, 2, 14, 35, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	d := digest.Build(logline.Loglines{
		{Role: logline.RoleToolUse, Timestamp: start.Add(time.Minute), ToolName: "shell",
			ToolInput: map[string]any{"command": "go test ./..."}},
		{Role: logline.RoleToolResult, Timestamp: start.Add(2 * time.Minute),
			Text: "ok\nProcess exited with code 0"},
		{Role: logline.RoleToolResult, Timestamp: start.Add(3 * time.Minute),
			Text: "[main 1a2b3c4] Add retry"},
	}, digest.Options{Tool: logline.ToolCodex, Start: start, End: end})

	req := testRequest()
	req.Digest = d
	req.Project = "/home/u/proj"
	req.Label = "retry work"

	eval := &fakeEval{scripts: []func() (*evaluator.Result, error){okResult}}
	gen := newGenerator(t, eval)

	outcome, err := gen.Generate(context.Background(), req, nil)
	require.NoError(t, err)
	require.Equal(t, StatusWritten, outcome.Status)

	e := outcome.Entry
	assert.Equal(t, "/home/u/proj", e.Project)
	assert.Equal(t, "retry work", e.Label)
	require.Len(t, e.Tests, 1)
	assert.Equal(t, "pass", e.Tests[0].Result)
	require.NotNil(t, e.TestPassed)
	assert.True(t, *e.TestPassed)
	require.Len(t, e.Commits, 1)
	assert.Equal(t, "1a2b3c4", e.Commits[0].Hash)
}

func TestGenerateDedupIdempotent(t *testing.T) {
	eval := &fakeEval{scripts: []func() (*evaluator.Result, error){okResult}}
	gen := newGenerator(t, eval)

	first, err := gen.Generate(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	require.Equal(t, StatusWritten, first.Status)

	second, err := gen.Generate(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusDuplicate, second.Status)
	assert.Equal(t, first.RunID, second.RunID)

	// the evaluator never ran for the duplicate
	assert.Equal(t, 1, eval.calls)

	entries, err := gen.Store.ReadEntries("dev@example.com")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGenerateConcurrentSameRunIDWritesOnce(t *testing.T) {
	eval := &fakeEval{scripts: []func() (*evaluator.Result, error){okResult}}
	gen := newGenerator(t, eval)

	seen, err := gen.LoadRunSet()
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	var written, duplicates int64
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := gen.Generate(context.Background(), testRequest(), seen)
			assert.NoError(t, err)
			switch outcome.Status {
			case StatusWritten:
				atomic.AddInt64(&written, 1)
			case StatusDuplicate:
				atomic.AddInt64(&duplicates, 1)
			}
		}()
	}
	wg.Wait()

	// the id is reserved before the evaluator runs, so exactly one
	// worker can ever append
	assert.Equal(t, int64(1), written)
	assert.Equal(t, int64(workers-1), duplicates)

	entries, err := gen.Store.ReadEntries("dev@example.com")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestGenerateOverflowRetriesOnceInBudgetMode(t *testing.T) {
	eval := &fakeEval{scripts: []func() (*evaluator.Result, error){
		func() (*evaluator.Result, error) { return nil, evaluator.ErrContextOverflow },
		okResult,
	}}
	gen := newGenerator(t, eval)

	outcome, err := gen.Generate(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusWritten, outcome.Status)
	assert.True(t, outcome.Entry.BudgetDigest)

	require.Equal(t, 2, eval.calls)
	assert.False(t, eval.digests[0].Budget)
	assert.True(t, eval.digests[1].Budget)
}

func TestGenerateSecondOverflowIsTerminalFailure(t *testing.T) {
	eval := &fakeEval{scripts: []func() (*evaluator.Result, error){
		func() (*evaluator.Result, error) { return nil, evaluator.ErrContextOverflow },
	}}
	gen := newGenerator(t, eval)

	outcome, err := gen.Generate(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, outcome.Status)
	require.NotNil(t, outcome.Failure)
	assert.Equal(t, "context_overflow", outcome.Failure.Reason)

	// exactly one retry, never more
	assert.Equal(t, 2, eval.calls)
}

func TestGenerateRateLimitedRecordsNothing(t *testing.T) {
	eval := &fakeEval{scripts: []func() (*evaluator.Result, error){
		func() (*evaluator.Result, error) { return nil, evaluator.ErrRateLimited },
	}}
	gen := newGenerator(t, eval)

	outcome, err := gen.Generate(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusRateLimited, outcome.Status)

	entries, err := gen.Store.ReadEntries("dev@example.com")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// the run stays retryable: no failure record either
	ids, err := gen.Store.ExistingRunIDs()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestGenerateInvalidResultBecomesFailure(t *testing.T) {
	eval := &fakeEval{scripts: []func() (*evaluator.Result, error){
		func() (*evaluator.Result, error) {
			return &evaluator.Result{Summary: "", Bullets: nil}, nil
		},
	}}
	gen := newGenerator(t, eval)

	outcome, err := gen.Generate(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, "invalid_result", outcome.Failure.Reason)
}

func TestDeriveTestPassed(t *testing.T) {
	assert.Nil(t, deriveTestPassed(nil))
	assert.Nil(t, deriveTestPassed([]digest.TestRun{{Cmd: "go test", Result: "unknown"}}))

	passed := deriveTestPassed([]digest.TestRun{{Result: "pass"}, {Result: "unknown"}})
	require.NotNil(t, passed)
	assert.True(t, *passed)

	failed := deriveTestPassed([]digest.TestRun{{Result: "pass"}, {Result: "fail"}})
	require.NotNil(t, failed)
	assert.False(t, *failed)
}
