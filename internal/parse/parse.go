// Package parse converts raw session logs from either supported
// assistant into the normalized logline stream. Each tool kind has its
// own normalizer behind a shared interface; the kind is selected once,
// either explicitly or via structural detection of the first records.
package parse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/marcusrt/ai-session-export/internal/logline"
)

const maxLineSize = 10 * 1024 * 1024 // 10MB

// ErrUnrecognizedFormat is returned when no detector matches the input.
// The caller must pick a different file; there is no silent guessing.
var ErrUnrecognizedFormat = errors.New("unrecognized session log format")

// Stats counts records that were skipped rather than normalized.
// A single corrupt line never aborts the transcript.
type Stats struct {
	Lines   int // total non-empty lines seen
	Skipped int // malformed or undecodable records
}

// Normalizer converts one tool's raw log into loglines.
type Normalizer interface {
	Tool() logline.Tool
	Normalize(r io.Reader) (logline.Loglines, Stats, error)
}

// ForTool returns the normalizer for a tool kind.
func ForTool(tool logline.Tool) (Normalizer, error) {
	switch tool {
	case logline.ToolClaude:
		return claudeNormalizer{}, nil
	case logline.ToolCodex:
		return codexNormalizer{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tool %q", ErrUnrecognizedFormat, tool)
	}
}

// Normalize parses a JSONL stream with the given tool kind. An empty
// tool triggers structural detection of the first records.
func Normalize(r io.Reader, tool logline.Tool) (logline.Loglines, Stats, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, Stats{}, err
	}
	if tool == "" {
		tool, err = detectLines(lines)
		if err != nil {
			return nil, Stats{}, err
		}
	}
	n, err := ForTool(tool)
	if err != nil {
		return nil, Stats{}, err
	}
	return n.Normalize(linesReader(lines))
}

// NormalizeFile parses a session log file.
func NormalizeFile(path string, tool logline.Tool) (logline.Loglines, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, err
	}
	defer f.Close()
	return Normalize(f, tool)
}

// DetectFile identifies the format of a session log on disk.
func DetectFile(path string) (logline.Tool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Detect(f)
}

// Detect inspects the first well-formed records of a JSONL stream and
// returns the tool kind. The two detectors are disjoint: a Codex
// rollout record carries payload+timestamp with a known outer type,
// while a Claude record carries a message (or summary/sessionId) and
// no payload.
func Detect(r io.Reader) (logline.Tool, error) {
	lines, err := readLines(r)
	if err != nil {
		return "", err
	}
	return detectLines(lines)
}

// detectFingerprint is the subset of fields the detectors look at.
type detectFingerprint struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp string          `json:"timestamp"`
	Message   json.RawMessage `json:"message"`
	Summary   string          `json:"summary"`
	SessionID string          `json:"sessionId"`
}

const detectProbeRecords = 10

func detectLines(lines [][]byte) (logline.Tool, error) {
	probed := 0
	for _, line := range lines {
		if probed >= detectProbeRecords {
			break
		}
		var fp detectFingerprint
		if err := json.Unmarshal(line, &fp); err != nil {
			continue
		}
		probed++
		if looksLikeCodex(fp) {
			return logline.ToolCodex, nil
		}
		if looksLikeClaude(fp) {
			return logline.ToolClaude, nil
		}
	}
	return "", ErrUnrecognizedFormat
}

func looksLikeCodex(fp detectFingerprint) bool {
	if len(fp.Payload) == 0 || fp.Timestamp == "" {
		return false
	}
	switch fp.Type {
	case "session_meta", "response_item", "event_msg":
		return true
	}
	return false
}

func looksLikeClaude(fp detectFingerprint) bool {
	if len(fp.Payload) != 0 {
		return false
	}
	if (fp.Type == "user" || fp.Type == "assistant") && len(fp.Message) != 0 {
		return true
	}
	if fp.Type == "summary" && fp.Summary != "" {
		return true
	}
	return fp.SessionID != ""
}

func readLines(r io.Reader) ([][]byte, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var lines [][]byte
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		line := make([]byte, len(raw))
		copy(line, raw)
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}

// linesReader rejoins lines for a normalizer's streaming scanner.
func linesReader(lines [][]byte) io.Reader {
	return bytes.NewReader(bytes.Join(lines, []byte("\n")))
}
