// Package assistant invokes the coding assistant CLI and interprets its
// output: extracting file changes from markdown responses, detecting rate
// limits, and building follow-up prompts that ask for error fixes.
package assistant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tbarron/phaser/internal/log"
	"github.com/tbarron/phaser/internal/types"
)

// Client runs the assistant CLI in non-interactive print mode. Prompts are
// piped over stdin; the response arrives on stdout as markdown.
type Client struct {
	Command string
	Model   string
	Timeout time.Duration

	logger *log.Logger

	// runCommand is swapped out in tests.
	runCommand func(ctx context.Context, command string, args []string, stdin string) (stdout, stderr string, exitErr error)
}

// NewClient returns a Client for the given CLI command. An empty command
// falls back to "claude".
func NewClient(command, model string, timeout time.Duration, logger *log.Logger) *Client {
	if command == "" {
		command = "claude"
	}
	return &Client{
		Command:    command,
		Model:      model,
		Timeout:    timeout,
		logger:     logger,
		runCommand: runCLI,
	}
}

func runCLI(ctx context.Context, command string, args []string, stdin string) (string, string, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Send pipes the prompt to the CLI and returns the parsed response. A rate
// limit is not an error: the response comes back with RateLimited set and
// the retry-after hint when the CLI provided one. Only transport problems
// (CLI missing, context cancelled) surface as errors.
func (c *Client) Send(ctx context.Context, prompt, contextText string) (*types.AssistantResponse, error) {
	full := prompt
	if contextText != "" {
		full = contextText + "\n\n---\n\n" + prompt
	}

	args := []string{"--print"}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}

	callCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	c.logger.Debug(fmt.Sprintf("Invoking %s with %d byte prompt", c.Command, len(full)))

	stdout, stderr, err := c.runCommand(callCtx, c.Command, args, full)

	lower := strings.ToLower(stderr)
	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "rate_limit") {
		retry := ParseRetryAfter(stderr)
		return &types.AssistantResponse{
			Success:     false,
			RateLimited: true,
			RetryAfter:  retry,
			Error:       strings.TrimSpace(stderr),
			Model:       c.Model,
		}, nil
	}

	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return &types.AssistantResponse{
				Success: false,
				Error:   fmt.Sprintf("assistant call timed out after %s", c.Timeout),
				Model:   c.Model,
			}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return nil, fmt.Errorf("assistant CLI not found: %w", err)
		}
		return &types.AssistantResponse{
			Success: false,
			Error:   strings.TrimSpace(stderr),
			Model:   c.Model,
		}, nil
	}

	return &types.AssistantResponse{
		Success: true,
		Content: stdout,
		Files:   ExtractFileChanges(stdout),
		Model:   c.Model,
	}, nil
}

// CheckAvailable reports whether the assistant CLI can be found on PATH.
func (c *Client) CheckAvailable() bool {
	_, err := exec.LookPath(c.Command)
	return err == nil
}

// ApplyFileChanges writes the extracted files under projectDir, creating
// parent directories as needed. Returns the paths written. A change with a
// path escaping the project directory is skipped with a warning.
func (c *Client) ApplyFileChanges(projectDir string, files []types.FileChange) ([]string, error) {
	var written []string
	for _, f := range files {
		clean := filepath.Clean(f.Path)
		if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
			c.logger.Warning(fmt.Sprintf("Skipping file outside project: %s", f.Path))
			continue
		}
		dest := filepath.Join(projectDir, clean)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return written, fmt.Errorf("create dir for %s: %w", clean, err)
		}
		if err := os.WriteFile(dest, []byte(f.Content), 0o644); err != nil {
			return written, fmt.Errorf("write %s: %w", clean, err)
		}
		written = append(written, clean)
	}
	return written, nil
}
