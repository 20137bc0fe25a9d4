// Package runner drives a workflow end to end: it issues the plan through the
// orchestrator, runs each step with an Executor and feeds every outcome back
// into the session.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kingrea/crew/internal/orchestrator"
	"github.com/kingrea/crew/internal/session"
	"github.com/kingrea/crew/internal/workflow"
)

// OutputKey is the context key under which a step's output is shared with
// later steps.
func OutputKey(agent string) string { return agent + "_output" }

// StepOutcome records what happened to one planned step.
type StepOutcome struct {
	Agent    string
	Attempts int
	Action   orchestrator.Action
	// Agent that produced the final output when a fallback ran.
	FallbackAgent string
	Output        string
	Err           error
}

// Result is the outcome of Run.
type Result struct {
	Workflow string
	Status   session.Status
	Session  *session.Session
	Steps    []StepOutcome
}

// Runner executes workflows with an Executor.
type Runner struct {
	orch   *orchestrator.Orchestrator
	exec   Executor
	logger *slog.Logger
	clock  func() time.Time
	// OnStep, when set, is called before every agent call.
	OnStep func(agent, prompt string)
}

// New returns a runner bound to orch and exec.
func New(orch *orchestrator.Orchestrator, exec Executor, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{orch: orch, exec: exec, logger: logger, clock: time.Now}
}

// Run issues the named workflow for task and executes its steps in order.
// The session ends completed when every step succeeded or was skipped and
// failed on abort. A cancelled context leaves the session active so it can
// be resumed.
func (r *Runner) Run(ctx context.Context, name, task string) (Result, error) {
	plan, err := r.orch.RunWorkflow(name, task)
	if err != nil {
		return Result{}, err
	}
	result := Result{Workflow: plan.Workflow.Name}
	for _, planned := range plan.Steps {
		outcome, err := r.runStep(ctx, planned.Step, task)
		result.Steps = append(result.Steps, outcome)
		if err != nil {
			result.Status = session.StatusActive
			result.Session = r.orch.Sessions().Current()
			return result, err
		}
		if outcome.Action == orchestrator.ActionAbort {
			return r.finish(result, session.StatusFailed)
		}
	}
	return r.finish(result, session.StatusCompleted)
}

func (r *Runner) finish(result Result, status session.Status) (Result, error) {
	ended := r.orch.TeamEnd(status)
	result.Status = status
	result.Session = ended.Session
	if !ended.Success {
		return result, fmt.Errorf("runner: %s", ended.Message)
	}
	return result, nil
}

func (r *Runner) runStep(ctx context.Context, step workflow.Step, task string) (StepOutcome, error) {
	outcome := StepOutcome{Agent: step.Agent}
	for {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}
		outcome.Attempts++
		output, took, err := r.call(ctx, step.Agent, r.orch.Prompt(step, task))
		if ctx.Err() != nil {
			return outcome, ctx.Err()
		}
		if err == nil {
			outcome.Output = output
			outcome.Err = nil
			return outcome, r.succeed(step.Agent, output, took)
		}
		outcome.Err = err
		decision := r.orch.HandleStepFailure(step, failureText(output, err))
		outcome.Action = decision.Action
		r.logger.Info("runner: step failed", "agent", step.Agent, "attempt", outcome.Attempts, "action", decision.Action)
		switch decision.Action {
		case orchestrator.ActionRetry:
			continue
		case orchestrator.ActionFallback:
			return r.runFallback(ctx, step, decision.FallbackAgent, task, outcome)
		default:
			return outcome, nil
		}
	}
}

// runFallback runs the fallback agent once in place of step. If it also
// fails the step is skipped when optional and aborts otherwise.
func (r *Runner) runFallback(ctx context.Context, step workflow.Step, agent, task string, outcome StepOutcome) (StepOutcome, error) {
	outcome.FallbackAgent = agent
	substitute := step
	substitute.Agent = agent
	output, took, err := r.call(ctx, agent, r.orch.Prompt(substitute, task))
	if ctx.Err() != nil {
		return outcome, ctx.Err()
	}
	if err == nil {
		outcome.Output = output
		outcome.Err = nil
		return outcome, r.succeed(agent, output, took)
	}
	outcome.Err = err
	if rerr := r.orch.RecordResult(agent, session.ResultFailure, failureText(output, err), took); rerr != nil {
		return outcome, rerr
	}
	if step.Required {
		outcome.Action = orchestrator.ActionAbort
	} else {
		outcome.Action = orchestrator.ActionSkip
	}
	return outcome, nil
}

func (r *Runner) call(ctx context.Context, agent, prompt string) (string, time.Duration, error) {
	if r.OnStep != nil {
		r.OnStep(agent, prompt)
	}
	started := r.clock()
	output, err := r.exec.Execute(ctx, agent, prompt)
	took := r.clock().Sub(started)
	r.logger.Debug("runner: agent returned", "agent", agent, "duration", took, "error", err)
	return output, took, err
}

func (r *Runner) succeed(agent, output string, took time.Duration) error {
	if err := r.orch.RecordResult(agent, session.ResultSuccess, output, took); err != nil {
		return err
	}
	return r.orch.Sessions().SetContext(OutputKey(agent), output)
}

func failureText(output string, err error) string {
	if output == "" {
		return err.Error()
	}
	return err.Error() + "\n" + output
}
