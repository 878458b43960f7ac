package parse

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marcusrt/ai-session-export/internal/logline"
)

const codexSample = `{"timestamp":"2026-01-02T14:35:00.000Z","type":"session_meta","payload":{"id":"sess-1","timestamp":"2026-01-02T14:35:00.000Z","cwd":"/home/u/proj"}}
{"timestamp":"2026-01-02T14:35:10.000Z","type":"response_item","payload":{"type":"message","role":"user","content":[{"type":"input_text","text":"fix the bug"}]}}
{"timestamp":"2026-01-02T14:35:20.000Z","type":"response_item","payload":{"type":"reasoning","summary":[{"type":"summary_text","text":"Looking at the stack trace"},{"type":"summary_text","text":"It points at the scanner"}]}}
{"timestamp":"2026-01-02T14:35:30.000Z","type":"response_item","payload":{"type":"function_call","name":"shell","call_id":"c1","arguments":"{\"command\":[\"bash\",\"-lc\",\"go test ./...\"]}"}}
{"timestamp":"2026-01-02T14:35:40.000Z","type":"response_item","payload":{"type":"function_call_output","call_id":"c1","output":"FAIL\nProcess exited with code 1"}}
{"timestamp":"2026-01-02T14:35:50.000Z","type":"event_msg","payload":{"type":"agent_message","message":"duplicate content"}}
{"timestamp":"2026-01-02T14:36:00.000Z","type":"response_item","payload":{"type":"message","role":"assistant","content":[{"type":"output_text","text":"first block"},{"type":"output_text","text":"second block"}]}}`

const claudeSample = `{"type":"summary","summary":"Fixing the scanner"}
{"type":"user","timestamp":"2026-01-02T14:35:00.000Z","sessionId":"abc","cwd":"/home/u/proj","message":{"role":"user","content":"fix the bug"}}
{"type":"assistant","timestamp":"2026-01-02T14:35:10.000Z","message":{"role":"assistant","content":[{"type":"thinking","thinking":"the buffer is too small"},{"type":"text","text":"I'll bump the buffer."},{"type":"tool_use","name":"Edit","input":{"file_path":"scanner.go"}}]}}
{"type":"user","timestamp":"2026-01-02T14:35:20.000Z","message":{"role":"user","content":[{"type":"tool_result","content":[{"type":"text","text":"ok"}],"is_error":false}]}}
{"type":"user","isMeta":true,"timestamp":"2026-01-02T14:35:30.000Z","message":{"role":"user","content":"meta noise"}}`

func TestDetect(t *testing.T) {
	t.Run("codex rollout", func(t *testing.T) {
		tool, err := Detect(strings.NewReader(codexSample))
		require.NoError(t, err)
		assert.Equal(t, logline.ToolCodex, tool)
	})

	t.Run("claude session", func(t *testing.T) {
		tool, err := Detect(strings.NewReader(claudeSample))
		require.NoError(t, err)
		assert.Equal(t, logline.ToolClaude, tool)
	})

	t.Run("unrecognized", func(t *testing.T) {
		_, err := Detect(strings.NewReader(`{"hello":"world"}` + "\n" + `{"foo":1}`))
		assert.ErrorIs(t, err, ErrUnrecognizedFormat)
	})

	t.Run("leading garbage tolerated", func(t *testing.T) {
		input := "not json at all\n" + claudeSample
		tool, err := Detect(strings.NewReader(input))
		require.NoError(t, err)
		assert.Equal(t, logline.ToolClaude, tool)
	})
}

func TestNormalizeCodex(t *testing.T) {
	lines, stats, err := Normalize(strings.NewReader(codexSample), logline.ToolCodex)
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Lines)
	assert.Equal(t, 0, stats.Skipped)

	// session_meta and event_msg contribute nothing
	require.Len(t, lines, 6)

	assert.Equal(t, logline.RoleUser, lines[0].Role)
	assert.Equal(t, "fix the bug", lines[0].Text)

	assert.Equal(t, logline.RoleThinking, lines[1].Role)
	assert.Equal(t, "Looking at the stack trace\n\nIt points at the scanner", lines[1].Text)

	assert.Equal(t, logline.RoleToolUse, lines[2].Role)
	assert.Equal(t, "shell", lines[2].ToolName)
	cmd, ok := lines[2].ToolInput["command"].([]any)
	require.True(t, ok)
	assert.Len(t, cmd, 3)

	assert.Equal(t, logline.RoleToolResult, lines[3].Role)
	assert.True(t, lines[3].IsError)

	// multi-block assistant message keeps block order
	assert.Equal(t, logline.RoleAssistant, lines[4].Role)
	assert.Equal(t, "first block", lines[4].Text)
	assert.Equal(t, 0, lines[4].Block)
	assert.Equal(t, "second block", lines[5].Text)
	assert.Equal(t, 1, lines[5].Block)
}

func TestNormalizeClaude(t *testing.T) {
	lines, stats, err := Normalize(strings.NewReader(claudeSample), logline.ToolClaude)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Skipped)

	// summary and isMeta records contribute nothing
	require.Len(t, lines, 5)

	assert.Equal(t, logline.RoleUser, lines[0].Role)
	assert.Equal(t, "fix the bug", lines[0].Text)

	// block order inside the assistant message is preserved
	assert.Equal(t, logline.RoleThinking, lines[1].Role)
	assert.Equal(t, 0, lines[1].Block)
	assert.Equal(t, logline.RoleAssistant, lines[2].Role)
	assert.Equal(t, "I'll bump the buffer.", lines[2].Text)
	assert.Equal(t, 1, lines[2].Block)
	assert.Equal(t, logline.RoleToolUse, lines[3].Role)
	assert.Equal(t, "Edit", lines[3].ToolName)
	assert.Equal(t, 2, lines[3].Block)

	assert.Equal(t, logline.RoleToolResult, lines[4].Role)
	assert.Equal(t, "ok", lines[4].Text)
	assert.False(t, lines[4].IsError)
}

func TestNormalizeAutoDetect(t *testing.T) {
	lines, _, err := Normalize(strings.NewReader(codexSample), "")
	require.NoError(t, err)
	assert.NotEmpty(t, lines)
}

func TestNormalizeSkipsMalformedLines(t *testing.T) {
	input := claudeSample + "\n{broken json\n" + `{"type":"user","timestamp":"2026-01-02T14:36:00.000Z","message":{"role":"user","content":"still here"}}`
	lines, stats, err := Normalize(strings.NewReader(input), logline.ToolClaude)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, "still here", lines[len(lines)-1].Text)
}

func TestInferExitCode(t *testing.T) {
	code, ok := InferExitCode("blah\nProcess exited with code 2\n")
	require.True(t, ok)
	assert.Equal(t, 2, code)

	_, ok = InferExitCode("no marker here")
	assert.False(t, ok)

	assert.False(t, InferIsError("Process exited with code 0"))
	assert.True(t, InferIsError("Process exited with code 137"))
}
