package digest

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// commitRe matches git's porcelain commit confirmation, e.g.
// "[main 1a2b3c4] Fix scanner buffer size".
var commitRe = regexp.MustCompile(`\[[\w\-/]+ ([a-f0-9]{7,})\] (.+)`)

func extractCommits(text string) []Commit {
	var out []Commit
	for _, line := range strings.Split(text, "\n") {
		m := commitRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		out = append(out, Commit{Hash: m[1], Message: strings.TrimSpace(m[2])})
	}
	return out
}

var testCmdRe = regexp.MustCompile(`(?i)\b(pytest|go test|cargo test|npm test|yarn test|pnpm test|jest|vitest|rspec|phpunit|unittest|tox|make test|mvn test|gradle test|ctest)\b`)

func looksLikeTestCommand(cmd string) bool {
	return testCmdRe.MatchString(cmd)
}

// isHookFeedback filters injected records that read as user prompts but
// were never typed by a person.
func isHookFeedback(text string) bool {
	trimmed := strings.TrimSpace(text)
	for _, prefix := range []string{
		"<local-command-stdout>",
		"<command-name>",
		"<system-reminder>",
		"Caveat:",
		"[Request interrupted",
	} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

func isCommandTool(name string) bool {
	switch strings.ToLower(name) {
	case "shell", "bash", "exec", "local_shell", "exec_command":
		return true
	}
	return false
}

// cmdFromInput recovers the command string from the shapes the two
// tools use: Claude's {"command": "..."} and Codex's
// {"command": ["bash","-lc","..."]}.
func cmdFromInput(input map[string]any) string {
	v, ok := input["command"]
	if !ok {
		if s, ok := input["cmd"].(string); ok {
			return s
		}
		return ""
	}
	switch cmd := v.(type) {
	case string:
		return cmd
	case []any:
		parts := make([]string, 0, len(cmd))
		for _, p := range cmd {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

// pathFromInput pulls a file-path argument when the tool has one.
func pathFromInput(input map[string]any) string {
	for _, k := range []string{"file_path", "path", "notebook_path"} {
		if s, ok := input[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// extractPatchText finds an apply_patch envelope in the call input,
// whatever argument it rode in on (dedicated patch tools and shell
// heredocs both occur), returning the payload and its argument key.
func extractPatchText(input map[string]any) (string, string, bool) {
	for _, k := range []string{"patch", "input", "arguments", "command", "cmd"} {
		if s, ok := input[k].(string); ok && strings.Contains(s, "*** Begin Patch") {
			return s, k, true
		}
	}
	return "", "", false
}

// patchOps is the set of file operations declared by one apply_patch
// payload.
type patchOps struct {
	added   []string
	updated []string
	deleted []string
	moved   []Move
}

func (p patchOps) allPaths() []string {
	var out []string
	out = append(out, p.added...)
	out = append(out, p.updated...)
	out = append(out, p.deleted...)
	for _, m := range p.moved {
		out = append(out, m.To)
	}
	sort.Strings(out)
	return dedupeStrings(out)
}

// parsePatchOps reads the envelope's "*** Add/Update/Delete File:"
// headers. The hunk bodies are irrelevant here.
func parsePatchOps(patch string) patchOps {
	var ops patchOps
	var lastUpdated string
	for _, line := range strings.Split(patch, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "*** Add File: "):
			ops.added = append(ops.added, strings.TrimSpace(strings.TrimPrefix(line, "*** Add File: ")))
		case strings.HasPrefix(line, "*** Update File: "):
			lastUpdated = strings.TrimSpace(strings.TrimPrefix(line, "*** Update File: "))
			ops.updated = append(ops.updated, lastUpdated)
		case strings.HasPrefix(line, "*** Delete File: "):
			ops.deleted = append(ops.deleted, strings.TrimSpace(strings.TrimPrefix(line, "*** Delete File: ")))
		case strings.HasPrefix(line, "*** Move to: "):
			if lastUpdated != "" {
				ops.moved = append(ops.moved, Move{
					From: lastUpdated,
					To:   strings.TrimSpace(strings.TrimPrefix(line, "*** Move to: ")),
				})
			}
		}
	}
	return ops
}

// touchedSet accumulates file operations across a whole window.
type touchedSet struct {
	created  map[string]struct{}
	modified map[string]struct{}
	deleted  map[string]struct{}
	moved    []Move
}

func newTouchedSet() *touchedSet {
	return &touchedSet{
		created:  map[string]struct{}{},
		modified: map[string]struct{}{},
		deleted:  map[string]struct{}{},
	}
}

func (t *touchedSet) merge(ops patchOps) {
	for _, p := range ops.added {
		t.created[p] = struct{}{}
	}
	for _, p := range ops.updated {
		t.modified[p] = struct{}{}
	}
	for _, p := range ops.deleted {
		t.deleted[p] = struct{}{}
	}
	t.moved = append(t.moved, ops.moved...)
}

func (t *touchedSet) sorted() TouchedFiles {
	return TouchedFiles{
		Created:  sortedKeys(t.created),
		Modified: sortedKeys(t.modified),
		Deleted:  sortedKeys(t.deleted),
		Moved:    t.moved,
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dedupeStrings(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}

// runeFloor backs a byte offset off to the nearest rune boundary at or
// before it, so truncation never splits a multi-byte sequence.
func runeFloor(s string, i int) int {
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// runeCeil advances a byte offset to the nearest rune boundary at or
// after it.
func runeCeil(s string, i int) int {
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

// truncate keeps the head of oversized text with an elision marker.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:runeFloor(s, limit)] + "\n…[truncated]"
}

// truncateTail keeps the end of oversized text; for error output the
// failure usually prints last.
func truncateTail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return "…[truncated]\n" + s[runeCeil(s, len(s)-limit):]
}

// truncateMiddle keeps both ends of oversized text.
func truncateMiddle(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	half := limit / 2
	return s[:runeFloor(s, half)] + "\n…[truncated]…\n" + s[runeCeil(s, len(s)-half):]
}
