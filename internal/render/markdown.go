// Package render turns a normalized logline stream into a
// human-readable markdown transcript, written alongside each export.
package render

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/marcusrt/ai-session-export/internal/logline"
	"github.com/marcusrt/ai-session-export/internal/timeutil"
)

// Options controls transcript rendering.
type Options struct {
	Title        string
	MaxToolChars int // truncate tool output beyond this (0 = 2000)
}

// Markdown renders the loglines as a transcript. Events keep their
// source order; tool activity is folded into collapsed detail blocks
// so the conversation stays readable.
func Markdown(lines logline.Loglines, opts Options) string {
	maxTool := opts.MaxToolChars
	if maxTool == 0 {
		maxTool = 2000
	}

	var b strings.Builder
	if opts.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", opts.Title)
	}

	for _, l := range lines {
		ts := ""
		if !l.Timestamp.IsZero() {
			ts = " · " + timeutil.Format(l.Timestamp)
		}
		switch l.Role {
		case logline.RoleUser:
			fmt.Fprintf(&b, "## User%s\n\n%s\n\n", ts, l.Text)

		case logline.RoleAssistant:
			fmt.Fprintf(&b, "## Assistant%s\n\n%s\n\n", ts, l.Text)

		case logline.RoleThinking:
			fmt.Fprintf(&b, "<details><summary>Thinking%s</summary>\n\n%s\n\n</details>\n\n", ts, l.Text)

		case logline.RoleToolUse:
			fmt.Fprintf(&b, "**Tool: %s**%s\n\n", l.ToolName, ts)
			if len(l.ToolInput) > 0 {
				args, err := json.MarshalIndent(l.ToolInput, "", "  ")
				if err == nil {
					fmt.Fprintf(&b, "```json\n%s\n```\n\n", clip(string(args), maxTool))
				}
			}

		case logline.RoleToolResult:
			label := "Output"
			if l.IsError {
				label = "Error output"
			}
			if strings.TrimSpace(l.Text) == "" {
				continue
			}
			fmt.Fprintf(&b, "<details><summary>%s%s</summary>\n\n```\n%s\n```\n\n</details>\n\n", label, ts, clip(l.Text, maxTool))
		}
	}
	return b.String()
}

func clip(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	// back off to a rune boundary so the cut never mangles UTF-8
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "\n… (truncated)"
}
