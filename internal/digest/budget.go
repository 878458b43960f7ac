package digest

import "strings"

// Budget-mode limits. A full digest that overflowed the evaluator's
// context is rebuilt under these, then halved repeatedly until the
// serialized form fits sizeBudget.
const (
	sizeBudget = 200_000

	budgetMaxUserPrompts   = 30
	budgetMaxToolCalls     = 200
	budgetMaxAssistantText = 4
	budgetMaxToolErrors    = 20

	budgetHeadKeep = 5
	budgetTailKeep = 10

	budgetPromptChars = 800
	budgetErrorChars  = 1000
)

// interestKeywords bias middle-item selection toward events that tend
// to matter in a changelog entry.
var interestKeywords = []string{
	"error", "fail", "fixed", "fix", "bug", "revert",
	"test", "passed", "commit", "merge", "refactor",
	"panic", "traceback", "exception",
}

// ToBudget derives the reduced digest used for the single
// context-overflow retry. The receiver is not modified.
func (d *Digest) ToBudget() *Digest {
	out := &Digest{
		SchemaVersion: d.SchemaVersion,
		SourceTool:    d.SourceTool,
		Budget:        true,
		Window:        d.Window,
		Context:       d.Context,
	}
	out.Delta = reduceDelta(d.Delta, budgetMaxUserPrompts, budgetMaxToolCalls, budgetMaxToolErrors)

	// halve the prompt and call counts until the payload fits
	maxPrompts, maxCalls, maxErrors := budgetMaxUserPrompts, budgetMaxToolCalls, budgetMaxToolErrors
	for out.Size() > sizeBudget && (maxPrompts > 2 || maxCalls > 4 || maxErrors > 2) {
		maxPrompts = halveFloor(maxPrompts, 2)
		maxCalls = halveFloor(maxCalls, 4)
		maxErrors = halveFloor(maxErrors, 2)
		out.Delta = reduceDelta(d.Delta, maxPrompts, maxCalls, maxErrors)
	}
	return out
}

func halveFloor(n, floor int) int {
	n /= 2
	if n < floor {
		return floor
	}
	return n
}

func reduceDelta(delta Delta, maxPrompts, maxCalls, maxErrors int) Delta {
	out := Delta{
		TouchedFiles: delta.TouchedFiles,
		Tests:        delta.Tests,
		Commits:      delta.Commits,
	}

	fileTokens := fileNameTokens(delta.TouchedFiles)

	prompts := selectItems(delta.UserPrompts, maxPrompts, func(s Snippet) float64 {
		return interestScore(s.Text, fileTokens)
	})
	out.UserPrompts = make([]Snippet, 0, len(prompts))
	for _, p := range prompts {
		out.UserPrompts = append(out.UserPrompts, Snippet{
			Timestamp: p.Timestamp,
			Text:      truncateMiddle(p.Text, budgetPromptChars),
		})
	}

	if n := len(delta.AssistantText); n > budgetMaxAssistantText {
		out.AssistantText = delta.AssistantText[n-budgetMaxAssistantText:]
	} else {
		out.AssistantText = delta.AssistantText
	}

	calls := selectItems(delta.ToolCalls, maxCalls, func(c ToolCall) float64 {
		score := interestScore(c.Cmd+" "+c.PathHint+" "+strings.Join(c.PatchFiles, " "), fileTokens)
		if c.IsTest {
			score += 2
		}
		if c.Result != nil && c.Result.IsError {
			score += 3
		}
		return score
	})
	out.ToolCalls = make([]ToolCall, 0, len(calls))
	for _, c := range calls {
		out.ToolCalls = append(out.ToolCalls, slimToolCall(c))
	}

	errs := delta.ToolErrors
	if len(errs) > maxErrors {
		errs = errs[len(errs)-maxErrors:]
	}
	out.ToolErrors = make([]ToolResult, 0, len(errs))
	for _, e := range errs {
		e.ContentSnippet = truncateTail(e.ContentSnippet, budgetErrorChars)
		out.ToolErrors = append(out.ToolErrors, e)
	}

	return out
}

// slimToolCall drops the argument map; name, command, and file hints
// carry the signal at a fraction of the size.
func slimToolCall(c ToolCall) ToolCall {
	slim := ToolCall{
		Timestamp:  c.Timestamp,
		Tool:       c.Tool,
		Cmd:        c.Cmd,
		IsTest:     c.IsTest,
		PathHint:   c.PathHint,
		PatchFiles: c.PatchFiles,
	}
	if c.Result != nil {
		res := ToolResult{
			Timestamp: c.Result.Timestamp,
			IsError:   c.Result.IsError,
			ExitCode:  c.Result.ExitCode,
		}
		if res.IsError {
			res.ContentSnippet = truncateTail(c.Result.ContentSnippet, budgetErrorChars)
		}
		slim.Result = &res
	}
	return slim
}

// selectItems keeps the head and tail of a sequence verbatim and fills
// the remaining quota with the highest-scoring middle items, preserving
// original order.
func selectItems[T any](items []T, max int, score func(T) float64) []T {
	if len(items) <= max {
		return items
	}
	head := budgetHeadKeep
	tail := budgetTailKeep
	if head+tail >= max {
		head = max / 2
		tail = max - head
	}

	type scored struct {
		idx int
		val float64
	}
	keep := make(map[int]struct{}, max)
	for i := 0; i < head; i++ {
		keep[i] = struct{}{}
	}
	for i := len(items) - tail; i < len(items); i++ {
		keep[i] = struct{}{}
	}

	var middle []scored
	for i := head; i < len(items)-tail; i++ {
		middle = append(middle, scored{idx: i, val: score(items[i])})
	}
	// stable selection: higher score wins, earlier index breaks ties
	for len(keep) < max && len(middle) > 0 {
		best := 0
		for j := 1; j < len(middle); j++ {
			if middle[j].val > middle[best].val {
				best = j
			}
		}
		keep[middle[best].idx] = struct{}{}
		middle = append(middle[:best], middle[best+1:]...)
	}

	out := make([]T, 0, len(keep))
	for i, item := range items {
		if _, ok := keep[i]; ok {
			out = append(out, item)
		}
	}
	return out
}

// interestScore counts keyword and touched-file-token hits.
func interestScore(text string, fileTokens []string) float64 {
	lower := strings.ToLower(text)
	var score float64
	for _, kw := range interestKeywords {
		if strings.Contains(lower, kw) {
			score++
		}
	}
	for _, tok := range fileTokens {
		if strings.Contains(lower, tok) {
			score += 1.5
		}
	}
	return score
}

// fileNameTokens derives lowercase base-name tokens from the touched
// files, so text that mentions an edited file scores higher.
func fileNameTokens(tf TouchedFiles) []string {
	seen := map[string]struct{}{}
	add := func(path string) {
		base := path
		if i := strings.LastIndexByte(base, '/'); i >= 0 {
			base = base[i+1:]
		}
		if i := strings.LastIndexByte(base, '.'); i > 0 {
			base = base[:i]
		}
		base = strings.ToLower(base)
		if len(base) >= 3 {
			seen[base] = struct{}{}
		}
	}
	for _, p := range tf.Created {
		add(p)
	}
	for _, p := range tf.Modified {
		add(p)
	}
	for _, p := range tf.Deleted {
		add(p)
	}
	tokens := make([]string, 0, len(seen))
	for t := range seen {
		tokens = append(tokens, t)
	}
	return tokens
}
