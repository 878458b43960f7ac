package match

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/marcusrt/ai-session-export/internal/logline"
	"github.com/marcusrt/ai-session-export/internal/timeutil"
)

const tailReadBytes = 256 * 1024

// scoreCandidate extracts session bounds from a candidate file and
// computes its distance from the window. Returns false when the file's
// mtime falls outside the tolerance window, which is the only filter;
// a cwd mismatch is recorded, never disqualifying.
func (f Finder) scoreCandidate(path string, tool logline.Tool, w Window) (Candidate, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return Candidate{}, false
	}
	mtime := info.ModTime().UTC()
	if mtime.Before(w.Start.Add(-mtimeTolerance)) || mtime.After(w.End.Add(mtimeTolerance)) {
		return Candidate{}, false
	}

	bounds := extractBounds(path, tool)

	// files without timestamp fields fall back to mtime on both ends
	startTS := bounds.start
	if startTS.IsZero() {
		startTS = mtime
	}
	endTS := bounds.end
	if endTS.IsZero() {
		endTS = mtime
	}

	score := absSeconds(startTS.Sub(w.Start)) + absSeconds(endTS.Sub(w.End))

	return Candidate{
		Path:      path,
		Score:     score,
		SessionID: bounds.sessionID,
		Cwd:       bounds.cwd,
		CwdMatch:  cwdMatches(bounds.cwd, w),
		StartTS:   startTS,
		EndTS:     endTS,
		Mtime:     mtime,
		Size:      info.Size(),
	}, true
}

func absSeconds(d time.Duration) float64 {
	s := d.Seconds()
	if s < 0 {
		return -s
	}
	return s
}

// sessionBounds holds metadata read from a candidate's first and last
// well-formed records.
type sessionBounds struct {
	start     time.Time
	end       time.Time
	cwd       string
	sessionID string
}

func extractBounds(path string, tool logline.Tool) sessionBounds {
	first := peekFirstObject(path)
	last := readLastObject(path, tailReadBytes)

	var b sessionBounds
	switch tool {
	case logline.ToolCodex:
		// a rollout always opens with a session_meta record; anything
		// else means the bounds are unknown
		if first == nil || asString(first["type"]) != "session_meta" {
			break
		}
		payload, _ := first["payload"].(map[string]any)
		b.start = timeutil.Parse(asString(payload["timestamp"]))
		if b.start.IsZero() {
			b.start = timeutil.Parse(asString(first["timestamp"]))
		}
		b.cwd = asString(payload["cwd"])
		b.sessionID = asString(payload["id"])
		if last != nil {
			b.end = timeutil.Parse(asString(last["timestamp"]))
		}
	case logline.ToolClaude:
		if first == nil {
			break
		}
		b.start = timeutil.Parse(asString(first["timestamp"]))
		b.cwd = asString(first["cwd"])
		b.sessionID = asString(first["sessionId"])
		if last != nil {
			b.end = timeutil.Parse(asString(last["timestamp"]))
		}
	}
	return b
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// peekFirstObject returns the first well-formed JSON object in a JSONL
// file, or nil.
func peekFirstObject(path string) map[string]any {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err == nil {
			return obj
		}
	}
	return nil
}

// readLastObject parses the last well-formed JSON object within the
// final maxBytes of a JSONL file, or nil.
func readLastObject(path string, maxBytes int64) map[string]any {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil
	}
	size := info.Size()
	readSize := maxBytes
	if size < readSize {
		readSize = size
	}
	if _, err := f.Seek(size-readSize, io.SeekStart); err != nil {
		return nil
	}
	chunk, err := io.ReadAll(f)
	if err != nil {
		return nil
	}

	lines := strings.Split(string(chunk), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			return obj
		}
	}
	return nil
}
