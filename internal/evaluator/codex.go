package evaluator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CodexCLI summarizes via `codex exec`. Each invocation gets an
// isolated CODEX_HOME so summarization runs never pollute the user's
// session history that this very tool later exports.
type CodexCLI struct {
	Model string
	Bin   string // defaults to "codex"
}

func (c *CodexCLI) Name() string { return "codex" }

func (c *CodexCLI) bin() string {
	if c.Bin != "" {
		return c.Bin
	}
	return "codex"
}

func (c *CodexCLI) Summarize(ctx context.Context, prompt string, digestJSON []byte) (*Result, error) {
	workDir, err := os.MkdirTemp("", "ase-codex-*")
	if err != nil {
		return nil, fmt.Errorf("create evaluator workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	schemaPath := filepath.Join(workDir, "schema.json")
	if err := os.WriteFile(schemaPath, []byte(resultSchema), 0o644); err != nil {
		return nil, fmt.Errorf("write output schema: %w", err)
	}
	lastMsgPath := filepath.Join(workDir, "last_message.txt")
	homeDir := filepath.Join(workDir, "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		return nil, fmt.Errorf("create evaluator home: %w", err)
	}

	args := []string{
		"exec",
		"--skip-git-repo-check",
		"--output-schema", schemaPath,
		"--output-last-message", lastMsgPath,
	}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	args = append(args, "-")

	cmd := exec.CommandContext(ctx, c.bin(), args...)
	cmd.Stdin = strings.NewReader(prompt + "\n\n" + string(digestJSON))
	cmd.Env = append(os.Environ(), "CODEX_HOME="+homeDir)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s not on PATH", ErrUnavailable, c.bin())
		}
		return nil, classify(stderr.String()+"\n"+stdout.String(), err)
	}

	last, err := os.ReadFile(lastMsgPath)
	if err != nil || len(bytes.TrimSpace(last)) == 0 {
		// older CLIs print the final message to stdout only
		last = stdout.Bytes()
	}

	res, err := decodeResult(string(last))
	if err != nil {
		return nil, err
	}
	if res.Model == "" {
		res.Model = c.Model
	}
	return res, nil
}
