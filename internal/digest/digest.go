// Package digest condenses a normalized logline stream into a bounded
// text digest for the external summarizer: prompts near-verbatim,
// assistant narrative truncated, tool calls summarized by name and
// arguments, tool output kept only for errors.
package digest

import (
	"encoding/json"
	"time"

	"github.com/marcusrt/ai-session-export/internal/logline"
	"github.com/marcusrt/ai-session-export/internal/parse"
	"github.com/marcusrt/ai-session-export/internal/timeutil"
)

const (
	schemaVersion = 1

	maxPromptChars    = 2000
	maxNarrativeChars = 2000
	maxInputChars     = 4000
	maxErrorTailChars = 4000

	keepAssistantSnippets = 8
	maxCommits            = 50
)

// Digest is the JSON payload handed to the evaluator. Budget marks the
// reduced variant built after a context-overflow retry.
type Digest struct {
	SchemaVersion int     `json:"schema_version"`
	SourceTool    string  `json:"source_tool"`
	Budget        bool    `json:"budget,omitempty"`
	Window        Span    `json:"window"`
	Context       Context `json:"context"`
	Delta         Delta   `json:"delta"`
}

// Span is the digest's time window in ISO 8601 UTC.
type Span struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Context carries the last few user prompts before the window, so a
// resumed session's delta still reads coherently.
type Context struct {
	PriorUserPrompts []Snippet `json:"prior_user_prompts"`
}

// Delta is the work done inside the window.
type Delta struct {
	UserPrompts   []Snippet    `json:"user_prompts"`
	AssistantText []Snippet    `json:"assistant_text"`
	ToolCalls     []ToolCall   `json:"tool_calls"`
	ToolErrors    []ToolResult `json:"tool_errors"`
	TouchedFiles  TouchedFiles `json:"touched_files"`
	Tests         []TestRun    `json:"tests"`
	Commits       []Commit     `json:"commits"`
}

// Snippet is one timestamped text fragment.
type Snippet struct {
	Timestamp string `json:"timestamp"`
	Text      string `json:"text"`
}

// ToolCall summarizes one tool invocation by name and arguments; bulky
// values are truncated and patch bodies replaced by their file lists.
type ToolCall struct {
	Timestamp  string         `json:"timestamp"`
	Tool       string         `json:"tool"`
	Input      map[string]any `json:"input,omitempty"`
	Cmd        string         `json:"cmd,omitempty"`
	IsTest     bool           `json:"is_test,omitempty"`
	PathHint   string         `json:"path_hint,omitempty"`
	PatchFiles []string       `json:"patch_files,omitempty"`
	Result     *ToolResult    `json:"result,omitempty"`
}

// ToolResult records a tool outcome. Output text is retained only for
// errors, as a short tail.
type ToolResult struct {
	Timestamp      string `json:"timestamp"`
	IsError        bool   `json:"is_error"`
	ExitCode       *int   `json:"exit_code,omitempty"`
	ContentSnippet string `json:"content_snippet,omitempty"`
}

// TouchedFiles aggregates file operations observed in tool calls.
type TouchedFiles struct {
	Created  []string `json:"created"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
	Moved    []Move   `json:"moved"`
}

// Move is one rename extracted from a patch payload.
type Move struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// TestRun is one detected test command with its outcome.
type TestRun struct {
	Cmd    string `json:"cmd"`
	Result string `json:"result"` // pass | fail | unknown
}

// Commit is one git commit spotted in command output.
type Commit struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

// Options controls digest construction.
type Options struct {
	Tool         logline.Tool
	Start        time.Time
	End          time.Time
	PriorPrompts int // prompts of pre-window context to keep (default 3)
}

// Build condenses loglines into a full-mode digest for the window.
// Events before Start feed the prior-prompt context; events after End
// are ignored.
func Build(lines logline.Loglines, opts Options) *Digest {
	priorPrompts := opts.PriorPrompts
	if priorPrompts == 0 {
		priorPrompts = 3
	}

	d := &Digest{
		SchemaVersion: schemaVersion,
		SourceTool:    string(opts.Tool),
		Window: Span{
			Start: timeutil.Format(opts.Start),
			End:   timeutil.Format(opts.End),
		},
	}

	for _, l := range lines.Before(opts.Start) {
		if l.Role != logline.RoleUser {
			continue
		}
		text := l.Text
		if text == "" || isHookFeedback(text) {
			continue
		}
		d.Context.PriorUserPrompts = append(d.Context.PriorUserPrompts, Snippet{
			Timestamp: timeutil.Format(l.Timestamp),
			Text:      truncate(text, maxPromptChars),
		})
	}
	if n := len(d.Context.PriorUserPrompts); n > priorPrompts {
		d.Context.PriorUserPrompts = d.Context.PriorUserPrompts[n-priorPrompts:]
	}

	touched := newTouchedSet()
	// index, not pointer: appends to ToolCalls reallocate the slice
	pendingIdx := -1

	for _, l := range lines.Window(opts.Start, opts.End) {
		ts := timeutil.Format(l.Timestamp)
		switch l.Role {
		case logline.RoleUser:
			if l.Text == "" || isHookFeedback(l.Text) {
				continue
			}
			d.Delta.UserPrompts = append(d.Delta.UserPrompts, Snippet{Timestamp: ts, Text: truncate(l.Text, maxPromptChars)})

		case logline.RoleAssistant:
			if l.Text == "" {
				continue
			}
			d.Delta.Commits = append(d.Delta.Commits, extractCommits(l.Text)...)
			d.Delta.AssistantText = append(d.Delta.AssistantText, Snippet{Timestamp: ts, Text: truncate(l.Text, maxNarrativeChars)})

		case logline.RoleToolUse:
			call := summarizeToolUse(l, ts, touched)
			d.Delta.ToolCalls = append(d.Delta.ToolCalls, call)
			pendingIdx = len(d.Delta.ToolCalls) - 1

		case logline.RoleToolResult:
			d.Delta.Commits = append(d.Delta.Commits, extractCommits(l.Text)...)

			var pending *ToolCall
			if pendingIdx >= 0 {
				pending = &d.Delta.ToolCalls[pendingIdx]
			}

			isError := l.IsError || parse.InferIsError(l.Text)
			res := ToolResult{Timestamp: ts, IsError: isError}
			if pending != nil && pending.Cmd != "" {
				if code, ok := parse.InferExitCode(l.Text); ok {
					res.ExitCode = &code
				}
			}
			if isError {
				res.ContentSnippet = truncateTail(l.Text, maxErrorTailChars)
			}

			if pending != nil && pending.Result == nil {
				pending.Result = &res
				if pending.IsTest && pending.Cmd != "" {
					d.Delta.Tests = append(d.Delta.Tests, TestRun{
						Cmd:    pending.Cmd,
						Result: testOutcome(l.IsError, res.ExitCode),
					})
				}
			}
			if isError {
				d.Delta.ToolErrors = append(d.Delta.ToolErrors, res)
			}
		}
	}

	d.Delta.TouchedFiles = touched.sorted()
	if len(d.Delta.Commits) > maxCommits {
		d.Delta.Commits = d.Delta.Commits[:maxCommits]
	}
	// keep assistant narrative short: last few snippets only
	if n := len(d.Delta.AssistantText); n > keepAssistantSnippets {
		d.Delta.AssistantText = d.Delta.AssistantText[n-keepAssistantSnippets:]
	}

	return d
}

func summarizeToolUse(l logline.Logline, ts string, touched *touchedSet) ToolCall {
	call := ToolCall{
		Timestamp: ts,
		Tool:      l.ToolName,
		Input:     summarizeInput(l.ToolInput),
	}

	if patch, key, ok := extractPatchText(l.ToolInput); ok {
		ops := parsePatchOps(patch)
		touched.merge(ops)
		call.PatchFiles = ops.allPaths()
		// patch bodies are bulky and already reduced to file lists
		if call.Input != nil {
			call.Input[key] = "[patch omitted]"
		}
	}

	if hint := pathFromInput(l.ToolInput); hint != "" {
		touched.modified[hint] = struct{}{}
		call.PathHint = hint
	}

	if isCommandTool(l.ToolName) {
		if cmd := cmdFromInput(l.ToolInput); cmd != "" {
			call.Cmd = truncate(cmd, 500)
			call.IsTest = looksLikeTestCommand(cmd)
		}
	}
	return call
}

func testOutcome(explicitError bool, exitCode *int) string {
	switch {
	case explicitError:
		return "fail"
	case exitCode != nil && *exitCode == 0:
		return "pass"
	case exitCode == nil:
		return "unknown"
	default:
		return "fail"
	}
}

// summarizeInput truncates each argument value; nested structures are
// rendered as truncated JSON.
func summarizeInput(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}
	out := make(map[string]any, len(input))
	for k, v := range input {
		switch val := v.(type) {
		case string:
			out[k] = truncate(val, maxInputChars)
		case map[string]any, []any:
			data, err := json.Marshal(val)
			if err != nil {
				out[k] = v
				continue
			}
			out[k] = truncate(string(data), maxInputChars)
		default:
			out[k] = v
		}
	}
	return out
}

// Size returns the serialized size used for budget iteration.
func (d *Digest) Size() int {
	data, err := json.Marshal(d)
	if err != nil {
		return 0
	}
	return len(data)
}
