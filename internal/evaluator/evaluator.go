// Package evaluator drives external summarizer CLIs as subprocesses.
// Failures are classified into a small taxonomy at this boundary so
// the changelog layer can decide between retry, halt, and record.
package evaluator

import (
	"context"
	"errors"
)

// Sentinel failure classes. Anything else surfaces as a plain error.
var (
	// ErrContextOverflow means the digest exceeded the model's context
	// window; the caller may retry once with a reduced digest.
	ErrContextOverflow = errors.New("evaluator context overflow")

	// ErrRateLimited means the provider refused on quota or rate
	// grounds; the caller should stop dispatching new work.
	ErrRateLimited = errors.New("evaluator rate limited")

	// ErrUnavailable means the CLI binary is missing or not runnable.
	ErrUnavailable = errors.New("evaluator unavailable")
)

// Result is the structured summarization of one digest.
type Result struct {
	Summary string   `json:"summary"`
	Bullets []string `json:"bullets"`
	Tags    []string `json:"tags,omitempty"`
	Model   string   `json:"model,omitempty"`
}

// Evaluator turns a prompt plus digest JSON into a structured result.
type Evaluator interface {
	Name() string
	Summarize(ctx context.Context, prompt string, digestJSON []byte) (*Result, error)
}

// New constructs the named evaluator. Kind is "codex" or "claude";
// model may be empty for the CLI's default.
func New(kind, model string) (Evaluator, error) {
	switch kind {
	case "codex":
		return &CodexCLI{Model: model}, nil
	case "claude":
		return &ClaudeCLI{Model: model}, nil
	default:
		return nil, errors.New("unknown evaluator kind: " + kind)
	}
}

// resultSchema constrains the CLI output for engines that accept a
// JSON schema.
const resultSchema = `{
  "type": "object",
  "properties": {
    "summary": {"type": "string"},
    "bullets": {"type": "array", "items": {"type": "string"}},
    "tags": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["summary", "bullets"],
  "additionalProperties": false
}`
