package parse

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/marcusrt/ai-session-export/internal/logline"
	"github.com/marcusrt/ai-session-export/internal/timeutil"
)

type claudeRecord struct {
	Type      string          `json:"type"`
	IsMeta    bool            `json:"isMeta"`
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// claudeBlock covers every content block shape in one staging struct;
// Type decides which fields are meaningful.
type claudeBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Thinking string          `json:"thinking"`
	Name     string          `json:"name"`
	Input    map[string]any  `json:"input"`
	Content  json.RawMessage `json:"content"`
	IsError  bool            `json:"is_error"`
}

type claudeNormalizer struct{}

func (claudeNormalizer) Tool() logline.Tool { return logline.ToolClaude }

// Normalize converts Claude Code project JSONL into loglines. A single
// message may hold narrative text and several tool blocks; each block
// becomes its own logline, in declaration order.
func (claudeNormalizer) Normalize(r io.Reader) (logline.Loglines, Stats, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var (
		out   logline.Loglines
		stats Stats
	)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		stats.Lines++

		var rec claudeRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			stats.Skipped++
			continue
		}
		if rec.IsMeta {
			continue
		}
		// summary, system, and other bookkeeping records carry no events
		if rec.Type != "user" && rec.Type != "assistant" {
			continue
		}

		var msg claudeMessage
		if err := json.Unmarshal(rec.Message, &msg); err != nil {
			stats.Skipped++
			continue
		}

		ts := timeutil.Parse(rec.Timestamp)
		role := logline.RoleUser
		if rec.Type == "assistant" {
			role = logline.RoleAssistant
		}
		out = append(out, claudeContentLoglines(msg.Content, role, ts)...)
	}
	return out, stats, scanner.Err()
}

// claudeContentLoglines flattens one message's content into loglines.
// Content is either a plain string (older format) or an ordered block
// array (newer format); block order is preserved.
func claudeContentLoglines(raw json.RawMessage, role logline.Role, ts time.Time) logline.Loglines {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		return logline.Loglines{{Role: role, Timestamp: ts, Text: s}}
	}

	var blocks []claudeBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil
	}

	var out logline.Loglines
	for i, b := range blocks {
		switch b.Type {
		case "text":
			if txt := strings.TrimSpace(b.Text); txt != "" {
				out = append(out, logline.Logline{Role: role, Timestamp: ts, Text: txt, Block: i})
			}
		case "thinking":
			if txt := strings.TrimSpace(b.Thinking); txt != "" {
				out = append(out, logline.Logline{Role: logline.RoleThinking, Timestamp: ts, Text: txt, Block: i})
			}
		case "tool_use":
			name := b.Name
			if name == "" {
				name = "unknown"
			}
			out = append(out, logline.Logline{
				Role: logline.RoleToolUse, Timestamp: ts,
				ToolName: name, ToolInput: b.Input, Block: i,
			})
		case "tool_result":
			out = append(out, logline.Logline{
				Role: logline.RoleToolResult, Timestamp: ts,
				Text: flattenResultContent(b.Content), IsError: b.IsError, Block: i,
			})
		}
	}
	return out
}

// flattenResultContent renders a tool_result's content (string, block
// array, or arbitrary JSON) as plain text.
func flattenResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []claudeBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Type == "text" && b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	return string(raw)
}
