package render

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/marcusrt/ai-session-export/internal/logline"
)

func TestMarkdown(t *testing.T) {
	ts := time.Date(2026, 1, 2, 14, 35, 0, 0, time.UTC)
	lines := logline.Loglines{
		{Role: logline.RoleUser, Timestamp: ts, Text: "fix the bug"},
		{Role: logline.RoleThinking, Timestamp: ts, Text: "buffer too small"},
		{Role: logline.RoleAssistant, Timestamp: ts, Text: "Bumping the buffer."},
		{Role: logline.RoleToolUse, Timestamp: ts, ToolName: "shell", ToolInput: map[string]any{"command": "go test"}},
		{Role: logline.RoleToolResult, Timestamp: ts, Text: "FAIL", IsError: true},
		{Role: logline.RoleToolResult, Timestamp: ts, Text: "   "},
	}

	out := Markdown(lines, Options{Title: "codex session abc"})

	assert.True(t, strings.HasPrefix(out, "# codex session abc\n"))
	assert.Contains(t, out, "## User · 2026-01-02T14:35:00Z")
	assert.Contains(t, out, "fix the bug")
	assert.Contains(t, out, "<details><summary>Thinking")
	assert.Contains(t, out, "**Tool: shell**")
	assert.Contains(t, out, "Error output")
	// blank tool results render nothing
	assert.Equal(t, 1, strings.Count(out, "<details><summary>Error output"))
}

func TestMarkdownClipsToolOutput(t *testing.T) {
	lines := logline.Loglines{
		{Role: logline.RoleToolResult, Text: strings.Repeat("z", 5000), IsError: true},
	}
	out := Markdown(lines, Options{MaxToolChars: 100})
	assert.Contains(t, out, "… (truncated)")
	assert.Less(t, len(out), 1000)
}

func TestClipKeepsRuneBoundaries(t *testing.T) {
	s := strings.Repeat("日本語🎉", 50)
	for limit := 4; limit < 30; limit++ {
		assert.True(t, utf8.ValidString(clip(s, limit)), "limit %d", limit)
	}
}
