package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ClaudeCLI summarizes via `claude --print --output-format json`.
type ClaudeCLI struct {
	Model string
	Bin   string // defaults to "claude"
}

func (c *ClaudeCLI) Name() string { return "claude" }

func (c *ClaudeCLI) bin() string {
	if c.Bin != "" {
		return c.Bin
	}
	return "claude"
}

// claudeEnvelope is the --output-format json wrapper. The structured
// result lives in structured_output when the CLI honors a schema and
// in result (as text) otherwise.
type claudeEnvelope struct {
	Type             string          `json:"type"`
	Subtype          string          `json:"subtype"`
	IsError          bool            `json:"is_error"`
	Result           string          `json:"result"`
	StructuredOutput json.RawMessage `json:"structured_output"`
	Model            string          `json:"model"`
}

func (c *ClaudeCLI) Summarize(ctx context.Context, prompt string, digestJSON []byte) (*Result, error) {
	args := []string{"--print", "--output-format", "json"}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}

	cmd := exec.CommandContext(ctx, c.bin(), args...)
	cmd.Stdin = strings.NewReader(prompt + "\n\n" + string(digestJSON))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s not on PATH", ErrUnavailable, c.bin())
		}
		return nil, classify(stderr.String()+"\n"+stdout.String(), err)
	}

	raw := StripANSI(stdout.String())
	var env claudeEnvelope
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &env); err != nil {
		// no envelope at all: fall back to salvaging result JSON from
		// whatever was printed
		return decodeResult(raw)
	}
	if env.IsError {
		return nil, classify(env.Result+"\n"+stderr.String(), nil)
	}

	if len(env.StructuredOutput) > 0 && string(env.StructuredOutput) != "null" {
		var res Result
		if err := json.Unmarshal(env.StructuredOutput, &res); err == nil && res.Summary != "" {
			if res.Model == "" {
				res.Model = env.Model
			}
			return &res, nil
		}
	}

	res, err := decodeResult(env.Result)
	if err != nil {
		return nil, err
	}
	if res.Model == "" {
		res.Model = env.Model
	}
	return res, nil
}
