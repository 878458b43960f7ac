package parse

import (
	"bufio"
	"encoding/json"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/marcusrt/ai-session-export/internal/logline"
	"github.com/marcusrt/ai-session-export/internal/timeutil"
)

// Top-level record in a Codex rollout JSONL.
type codexRecord struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

// response_item payload; Type decides which fields apply.
type codexResponseItem struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Name      string          `json:"name"`
	CallID    string          `json:"call_id"`
	Arguments string          `json:"arguments"`
	Input     json.RawMessage `json:"input"`
	Status    string          `json:"status"`
	Output    string          `json:"output"`
	Summary   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"summary"`
}

type codexNormalizer struct{}

func (codexNormalizer) Tool() logline.Tool { return logline.ToolCodex }

// Normalize converts Codex rollout JSONL into loglines. Only
// response_item records carry events; session_meta and event_msg
// records duplicate content already present in response items.
func (codexNormalizer) Normalize(r io.Reader) (logline.Loglines, Stats, error) {
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

		var rec codexRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			stats.Skipped++
			continue
		}
		if rec.Type != "response_item" {
			continue
		}

		var item codexResponseItem
		if err := json.Unmarshal(rec.Payload, &item); err != nil {
			stats.Skipped++
			continue
		}

		ts := timeutil.Parse(rec.Timestamp)

		switch item.Type {
		case "message":
			role := logline.RoleAssistant
			switch item.Role {
			case "user":
				role = logline.RoleUser
			case "assistant":
			default:
				continue
			}
			// one logline per content block, preserving block order
			block := 0
			for _, c := range item.Content {
				if c.Type != "input_text" && c.Type != "output_text" && c.Type != "text" {
					continue
				}
				txt := strings.TrimSpace(c.Text)
				if txt == "" {
					continue
				}
				out = append(out, logline.Logline{Role: role, Timestamp: ts, Text: txt, Block: block})
				block++
			}

		case "function_call":
			out = append(out, logline.Logline{
				Role: logline.RoleToolUse, Timestamp: ts,
				ToolName:  toolNameOrUnknown(item.Name),
				ToolInput: decodeFunctionArgs(item.Arguments),
			})

		case "custom_tool_call":
			out = append(out, logline.Logline{
				Role: logline.RoleToolUse, Timestamp: ts,
				ToolName:  toolNameOrUnknown(item.Name),
				ToolInput: decodeCustomToolInput(item),
			})

		case "function_call_output":
			out = append(out, logline.Logline{
				Role: logline.RoleToolResult, Timestamp: ts,
				Text:    item.Output,
				IsError: InferIsError(item.Output),
			})

		case "reasoning":
			var parts []string
			for _, s := range item.Summary {
				if s.Type == "summary_text" && s.Text != "" {
					parts = append(parts, s.Text)
				}
			}
			if txt := strings.TrimSpace(strings.Join(parts, "\n\n")); txt != "" {
				out = append(out, logline.Logline{Role: logline.RoleThinking, Timestamp: ts, Text: txt})
			}
		}
	}
	return out, stats, scanner.Err()
}

func toolNameOrUnknown(name string) string {
	if name == "" {
		return "unknown"
	}
	return name
}

// decodeFunctionArgs parses a function_call's JSON-encoded arguments;
// non-JSON arguments are wrapped verbatim.
func decodeFunctionArgs(args string) map[string]any {
	if args == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(args), &m); err == nil {
		return m
	}
	return map[string]any{"arguments": args}
}

func decodeCustomToolInput(item codexResponseItem) map[string]any {
	input := map[string]any{}
	if item.Status != "" {
		input["status"] = item.Status
	}
	if len(item.Input) > 0 {
		var m map[string]any
		if err := json.Unmarshal(item.Input, &m); err == nil {
			for k, v := range m {
				input[k] = v
			}
		} else {
			var s string
			if err := json.Unmarshal(item.Input, &s); err == nil {
				input["input"] = s
			} else {
				input["input"] = string(item.Input)
			}
		}
	}
	if len(input) == 0 {
		return nil
	}
	return input
}

var exitCodeRe = regexp.MustCompile(`Process exited with code (\d+)`)

// InferExitCode extracts the exit code from shell tool output of the
// form "Process exited with code N".
func InferExitCode(output string) (int, bool) {
	m := exitCodeRe.FindStringSubmatch(output)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

// InferIsError reports whether shell tool output signals a non-zero
// exit. Used when the record carries no explicit error flag.
func InferIsError(output string) bool {
	code, ok := InferExitCode(output)
	return ok && code != 0
}
