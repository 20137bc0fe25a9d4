package runner

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kingrea/crew/internal/orchestrator"
	"github.com/kingrea/crew/internal/session"
)

// scriptedExecutor fails an agent the configured number of times; a negative
// count fails it on every call.
type scriptedExecutor struct {
	mu       sync.Mutex
	failures map[string]int
	calls    []string
}

func (s *scriptedExecutor) Execute(_ context.Context, agent, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, agent)
	if n := s.failures[agent]; n != 0 {
		if n > 0 {
			s.failures[agent] = n - 1
		}
		return "trace for " + agent, errors.New(agent + " failed")
	}
	return agent + " done", nil
}

func newRunner(t *testing.T, failures map[string]int) (*Runner, *orchestrator.Orchestrator, *scriptedExecutor) {
	t.Helper()
	orch, err := orchestrator.New()
	require.NoError(t, err)
	require.NoError(t, orch.Init(orchestrator.Options{
		SessionDir:    filepath.Join(t.TempDir(), "sessions"),
		DebounceDelay: 20 * time.Millisecond,
	}))
	t.Cleanup(func() { _ = orch.Close() })
	exec := &scriptedExecutor{failures: failures}
	return New(orch, exec, nil), orch, exec
}

func agentsOf(sess *session.Session) []string {
	out := make([]string, 0, len(sess.Agents))
	for _, r := range sess.Agents {
		out = append(out, r.Agent+":"+string(r.Status))
	}
	return out
}

func TestRunCompletesWorkflow(t *testing.T) {
	r, orch, exec := newRunner(t, nil)
	res, err := r.Run(context.Background(), "quickfix", "fix the login bug")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, res.Status)
	assert.Equal(t, []string{"debugger", "coder", "tester"}, exec.calls)
	assert.Equal(t, []string{"debugger:success", "coder:success", "tester:success"}, agentsOf(res.Session))
	assert.Equal(t, "debugger done", res.Session.Context[OutputKey("debugger")])
	assert.Nil(t, orch.Sessions().Current())

	onDisk, err := orch.Sessions().Load(res.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, onDisk.Status)
	assert.Len(t, onDisk.Agents, 3)
}

func TestRunPassesEarlierOutputToLaterPrompts(t *testing.T) {
	r, _, _ := newRunner(t, nil)
	var prompts []string
	r.OnStep = func(_, prompt string) { prompts = append(prompts, prompt) }
	_, err := r.Run(context.Background(), "quickfix", "fix the login bug")
	require.NoError(t, err)
	require.Len(t, prompts, 3)
	assert.NotContains(t, prompts[0], "Context:")
	assert.Contains(t, prompts[1], `"debugger_output": "debugger done"`)
}

func TestRunRetriesFailedStep(t *testing.T) {
	r, _, exec := newRunner(t, map[string]int{"coder": 1})
	res, err := r.Run(context.Background(), "quickfix", "fix it")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, res.Status)
	assert.Equal(t, []string{"debugger", "coder", "coder", "tester"}, exec.calls)
	assert.Equal(t, 2, res.Steps[1].Attempts)
	assert.Equal(t, 1, res.Session.RetryCount)
	assert.Equal(t, "coder:failure", agentsOf(res.Session)[1])
}

func TestRunStepCapAborts(t *testing.T) {
	r, _, exec := newRunner(t, map[string]int{"debugger": -1})
	res, err := r.Run(context.Background(), "quickfix", "fix it")
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, res.Status)
	assert.Equal(t, []string{"debugger", "debugger", "debugger"}, exec.calls)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, orchestrator.ActionAbort, res.Steps[0].Action)
	assert.Equal(t, 2, res.Session.RetryCount)
}

func TestRunAbortsOnRequiredFailure(t *testing.T) {
	r, _, exec := newRunner(t, map[string]int{"planner": 1})
	res, err := r.Run(context.Background(), "feature", "add dark mode")
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, res.Status)
	assert.Equal(t, []string{"planner"}, exec.calls)
	assert.NotNil(t, res.Session.EndTime)
}

func TestRunSkipsOptionalFailure(t *testing.T) {
	r, _, _ := newRunner(t, map[string]int{"tester": -1})
	res, err := r.Run(context.Background(), "quickfix", "fix it")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, res.Status)
	assert.Equal(t, orchestrator.ActionSkip, res.Steps[2].Action)
}

func TestRunFallbackReplacesStep(t *testing.T) {
	r, _, exec := newRunner(t, map[string]int{"tester": 1})
	res, err := r.Run(context.Background(), "feature", "add dark mode")
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, res.Status)
	assert.Equal(t, []string{"planner", "architect", "coder", "tester", "debugger", "reviewer"}, exec.calls)
	assert.Equal(t, "debugger", res.Steps[3].FallbackAgent)
	assert.NoError(t, res.Steps[3].Err)
	assert.Equal(t, 0, res.Session.RetryCount)
}

func TestRunFailedFallbackAbortsRequiredStep(t *testing.T) {
	r, _, _ := newRunner(t, map[string]int{"tester": -1, "debugger": -1})
	res, err := r.Run(context.Background(), "feature", "add dark mode")
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, res.Status)
	agents := agentsOf(res.Session)
	assert.Equal(t, []string{"tester:failure", "debugger:failure"}, agents[len(agents)-2:])
}

func TestRunUnknownWorkflow(t *testing.T) {
	r, orch, _ := newRunner(t, nil)
	_, err := r.Run(context.Background(), "deploy", "ship")
	require.Error(t, err)
	assert.Nil(t, orch.Sessions().Current())
}

func TestRunCancelledLeavesSessionActive(t *testing.T) {
	orch, err := orchestrator.New()
	require.NoError(t, err)
	require.NoError(t, orch.Init(orchestrator.Options{SessionDir: filepath.Join(t.TempDir(), "sessions")}))
	t.Cleanup(func() { _ = orch.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	exec := ExecutorFunc(func(ctx context.Context, agent, _ string) (string, error) {
		cancel()
		return "", ctx.Err()
	})
	res, err := New(orch, exec, nil).Run(ctx, "quickfix", "fix it")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, session.StatusActive, res.Status)
	current := orch.Sessions().Current()
	require.NotNil(t, current)
	assert.Empty(t, current.Agents)
}

func TestCommandExecutorFeedsPromptOnStdin(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires sh")
	}
	exec := CommandExecutor{Command: "sh", Args: []string{"-c", `cat; printf "|%s" "$CREW_AGENT"`}}
	out, err := exec.Execute(context.Background(), "coder", "write the code")
	require.NoError(t, err)
	assert.Equal(t, "write the code|coder", out)

	failing := CommandExecutor{Command: "sh", Args: []string{"-c", "echo nope; exit 3"}}
	out, err = failing.Execute(context.Background(), "coder", "")
	require.Error(t, err)
	assert.Equal(t, "nope\n", out)

	_, err = CommandExecutor{}.Execute(context.Background(), "coder", "")
	require.Error(t, err)
}
