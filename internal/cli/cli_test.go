package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/crew/internal/config"
	"github.com/kingrea/crew/internal/runner"
	"github.com/kingrea/crew/internal/session"
)

// run executes one crew invocation against dir and returns its stdout.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	return runWith(t, NewApp(), dir, args...)
}

func runWith(t *testing.T, app *App, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := app.RootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--dir", dir}, args...))
	err := root.Execute()
	require.NoError(t, app.close())
	return out.String(), err
}

func TestInitCreatesProjectTree(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "init", "--default-workflow", "Feature")
	require.NoError(t, err)
	assert.Contains(t, out, "Default workflow: feature")
	for _, sub := range []string{"sessions", "workflows", "logs"} {
		assert.DirExists(t, filepath.Join(dir, ".crew", sub))
	}
	assert.FileExists(t, filepath.Join(dir, ".crew", "logs", "crew.log"))

	_, err = run(t, dir, "init", "--default-workflow", "nope")
	require.Error(t, err)
}

func TestStartStatusEndAcrossInvocations(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "start", "--name", "Login", "there", "is", "a", "bug", "in", "login")
	require.NoError(t, err)
	assert.Contains(t, out, `Started session "Login"`)
	assert.Contains(t, out, "Suggested workflow: quickfix")
	assert.Contains(t, out, " * quickfix")

	// A fresh process recovers the active session from disk.
	out, err = run(t, dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Session: Login")
	assert.Contains(t, out, "Goal: there is a bug in login")

	out, err = run(t, dir, "end", "--status", "failed")
	require.NoError(t, err)
	assert.Contains(t, out, "ended (failed)")

	out, err = run(t, dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, session.NoActiveSummary)

	_, err = run(t, dir, "end")
	require.Error(t, err, "ending without a session reports failure")

	_, err = run(t, dir, "end", "--status", "active")
	require.Error(t, err)
}

func TestRouteCommand(t *testing.T) {
	out, err := run(t, t.TempDir(), "route", "refactor the parser")
	require.NoError(t, err)
	assert.Contains(t, out, "Workflow: refactor (confidence 0.90)")
	assert.Contains(t, out, "Alternatives: quickfix, feature, review")
}

func TestRunRecordFailFlow(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "run", "--prompts", "quickfix", "fix", "the", "crash")
	require.NoError(t, err)
	assert.Contains(t, out, "Workflow quickfix (builtin) for session ")
	assert.Contains(t, out, "1. debugger (required, on failure: retry)")
	assert.Contains(t, out, "3. tester (optional, on failure: skip)")
	assert.Contains(t, out, "   Task: fix the crash")

	out, err = run(t, dir, "record", "debugger", "success", "--output", "null deref in handler")
	require.NoError(t, err)
	assert.Contains(t, out, "Recorded debugger: success")

	out, err = run(t, dir, "fail", "coder", "--error", "tests still red")
	require.NoError(t, err)
	assert.Contains(t, out, "Action: retry")
	assert.Contains(t, out, "Retries used: 1")

	out, err = run(t, dir, "fail", "tester")
	require.NoError(t, err)
	assert.Contains(t, out, "Action: skip")

	_, err = run(t, dir, "fail", "planner")
	require.Error(t, err)

	_, err = run(t, dir, "record", "coder", "maybe")
	require.Error(t, err)

	out, err = run(t, dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Workflow: quickfix")
	assert.Contains(t, out, "Agents: 3 (1 success, 2 failure, 0 pending)")
}

func TestRunUnknownWorkflow(t *testing.T) {
	_, err := run(t, t.TempDir(), "run", "deploy", "ship it")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "available: quickfix")
}

func TestHistoryAndShow(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found.")

	_, err = run(t, dir, "start", "--name", "Docs", "update", "the", "readme")
	require.NoError(t, err)
	_, err = run(t, dir, "end")
	require.NoError(t, err)

	out, err = run(t, dir, "history")
	require.NoError(t, err)
	fields := strings.Fields(out)
	require.NotEmpty(t, fields)
	id := fields[0]
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "Docs · update the readme")

	out, err = run(t, dir, "show", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Status: completed")

	out, err = run(t, dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, session.NoActiveSummary, "show must not reactivate a session")

	_, err = run(t, dir, "show", "../etc/passwd")
	require.ErrorIs(t, err, session.ErrInvalidSessionID)
}

func TestDriveUsesExecutor(t *testing.T) {
	dir := t.TempDir()
	app := NewApp()
	var gotCfg config.ExecutorConfig
	app.executor = func(cfg config.ExecutorConfig, _ string) runner.Executor {
		gotCfg = cfg
		return runner.ExecutorFunc(func(_ context.Context, agent, _ string) (string, error) {
			if agent == "tester" {
				return "", errors.New("flaky")
			}
			return agent + " ok", nil
		})
	}
	out, err := runWith(t, app, dir, "drive", "--command", "fake-agent", "--arg=-p", "quickfix", "fix", "login")
	require.NoError(t, err)
	assert.Equal(t, config.ExecutorConfig{Command: "fake-agent", Args: []string{"-p"}}, gotCfg)
	assert.Contains(t, out, "-> debugger")
	assert.Contains(t, out, "[✓] coder (1 attempt(s))")
	assert.Contains(t, out, "[-] tester skipped: flaky")
	assert.Contains(t, out, "completed")
}

func TestEnvOverridesFromDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CREW_MAX_RETRIES=1\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv(config.EnvMaxRetries) })

	_, err := run(t, dir, "start", "add", "search")
	require.NoError(t, err)
	out, err := run(t, dir, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Retries: 0/1")
}

func TestFlushBeforeOpenIsSafe(t *testing.T) {
	assert.NoError(t, NewApp().Flush())
}

func TestRunCommandNamesCustomWorkflowSource(t *testing.T) {
	dir := t.TempDir()
	workflows := filepath.Join(dir, config.CrewDir, "workflows")
	require.NoError(t, os.MkdirAll(workflows, 0o755))
	definition := filepath.Join(workflows, "deploy.yaml")
	payload := "name: deploy\ndescription: ship it\nsteps:\n  - agent: operator\n    required: true\n"
	require.NoError(t, os.WriteFile(definition, []byte(payload), 0o644))

	out, err := run(t, dir, "run", "deploy", "ship", "v2")
	require.NoError(t, err)
	assert.Contains(t, out, "Workflow deploy ("+definition+") for session ")
	assert.Contains(t, out, "1. operator (required, on failure: abort)")
}
