package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Executor runs one agent step and returns its opaque output.
type Executor interface {
	Execute(ctx context.Context, agent, prompt string) (string, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, agent, prompt string) (string, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, agent, prompt string) (string, error) {
	return f(ctx, agent, prompt)
}

// CommandExecutor runs an external command per step. The prompt is written to
// stdin and CREW_AGENT names the role.
type CommandExecutor struct {
	Command string
	Args    []string
	Dir     string
}

// Execute runs the command and returns its combined output. A non-zero exit
// is an error carrying that output.
func (c CommandExecutor) Execute(ctx context.Context, agent, prompt string) (string, error) {
	if strings.TrimSpace(c.Command) == "" {
		return "", fmt.Errorf("runner: executor command is required")
	}
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), "CREW_AGENT="+agent)
	cmd.Stdin = strings.NewReader(prompt)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return buf.String(), ctx.Err()
		}
		return buf.String(), fmt.Errorf("runner: %s (%s): %w", c.Command, agent, err)
	}
	return buf.String(), nil
}
