// Package logline defines the normalized event model shared by both
// session log formats. A session file parses into an ordered sequence
// of Loglines; order matches the source log, including block order
// inside multi-block messages.
package logline

import "time"

// Tool identifies which assistant produced a session log.
type Tool string

const (
	ToolCodex  Tool = "codex"
	ToolClaude Tool = "claude"
)

// Valid reports whether the tool tag is one of the supported kinds.
func (t Tool) Valid() bool {
	return t == ToolCodex || t == ToolClaude
}

// Role classifies a normalized event.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolUse    Role = "tool_use"
	RoleToolResult Role = "tool_result"
	RoleThinking   Role = "thinking"
)

// Logline is one normalized event. Loglines are immutable once
// produced; the normalizer that created them is their only writer.
type Logline struct {
	Role      Role           `json:"role"`
	Timestamp time.Time      `json:"timestamp"` // zero when the record carried no timestamp
	Text      string         `json:"text,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`  // set for tool_use and tool_result when known
	ToolInput map[string]any `json:"tool_input,omitempty"` // tool_use arguments
	IsError   bool           `json:"is_error,omitempty"`   // tool_result only
	Block     int            `json:"block,omitempty"`      // block index within the originating message
}

// Loglines is an ordered event sequence.
type Loglines []Logline

// Window returns the subsequence whose timestamps fall inside
// [start, end]. Events without timestamps are dropped, matching how
// digest windows treat undated records.
func (ls Loglines) Window(start, end time.Time) Loglines {
	var out Loglines
	for _, l := range ls {
		if l.Timestamp.IsZero() {
			continue
		}
		if l.Timestamp.Before(start) || l.Timestamp.After(end) {
			continue
		}
		out = append(out, l)
	}
	return out
}

// Before returns the events strictly preceding start.
func (ls Loglines) Before(start time.Time) Loglines {
	var out Loglines
	for _, l := range ls {
		if l.Timestamp.IsZero() {
			continue
		}
		if l.Timestamp.Before(start) {
			out = append(out, l)
		}
	}
	return out
}
