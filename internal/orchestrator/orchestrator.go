// Package orchestrator is the entry point of the engine. It combines the
// session manager and the workflow catalog into team-level operations: start
// a session with a suggested workflow, issue a workflow's steps with their
// prompts, decide what to do when a step fails, and report status and history.
//
// The orchestrator never calls an agent itself. Hosts run each issued step and
// feed the outcome back through RecordResult or HandleStepFailure.
package orchestrator

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kingrea/crew/internal/logbook"
	"github.com/kingrea/crew/internal/session"
	"github.com/kingrea/crew/internal/workflow"
)

// Context keys written by RunWorkflow. They are bookkeeping and never shown
// to agents.
const (
	ContextWorkflow = "workflow"
	ContextTask     = "task"

	// ContextWorkflowStart is the agent log length when the workflow was
	// issued. Step retry caps only count failures from that point on.
	ContextWorkflowStart = "workflowStart"
)

var bookkeepingKeys = []string{ContextWorkflow, ContextTask, ContextWorkflowStart}

// promptContext returns ctx without the bookkeeping keys. ctx is modified in
// place and must be a copy.
func promptContext(ctx map[string]any) map[string]any {
	for _, key := range bookkeepingKeys {
		delete(ctx, key)
	}
	return ctx
}

// Orchestrator owns one session manager and one workflow catalog.
type Orchestrator struct {
	logger   *slog.Logger
	journal  *logbook.Logbook
	catalog  *workflow.Catalog
	clock    func() time.Time
	sessions *session.Manager
	options  Options
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the structured logger shared with the session manager.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLogbook journals team events to book.
func WithLogbook(book *logbook.Logbook) Option {
	return func(o *Orchestrator) { o.journal = book }
}

// WithCatalog replaces the builtin workflow catalog.
func WithCatalog(catalog *workflow.Catalog) Option {
	return func(o *Orchestrator) {
		if catalog != nil {
			o.catalog = catalog
		}
	}
}

// WithClock injects a deterministic clock (primarily for tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// New builds an orchestrator. Init must be called before sessions are used.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		logger:  slog.New(slog.DiscardHandler),
		clock:   time.Now,
		options: DefaultOptions(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.catalog == nil {
		catalog, err := workflow.NewCatalog(workflow.WithCatalogLogger(o.logger))
		if err != nil {
			return nil, fmt.Errorf("orchestrator: build catalog: %w", err)
		}
		o.catalog = catalog
	}
	o.sessions = session.NewManager(session.WithLogger(o.logger), session.WithClock(o.clock))
	return o, nil
}

// Init merges overrides onto the defaults and initializes the session
// manager, recovering a previously active session when one exists.
func (o *Orchestrator) Init(overrides Options) error {
	o.options = DefaultOptions().Merge(overrides)
	if err := o.sessions.Initialize(o.options.sessionConfig()); err != nil {
		return fmt.Errorf("orchestrator: init: %w", err)
	}
	if current := o.sessions.Current(); current != nil {
		o.logger.Info("orchestrator: resumed session", "session_id", current.ID)
		o.journal.Session(logbook.LevelInfo, current.ID, "resumed session %q", current.Name)
	}
	return nil
}

// Options returns the effective engine options.
func (o *Orchestrator) Options() Options { return o.options }

// Sessions exposes the session manager.
func (o *Orchestrator) Sessions() *session.Manager { return o.sessions }

// Catalog exposes the workflow catalog.
func (o *Orchestrator) Catalog() *workflow.Catalog { return o.catalog }

// Flush writes the current session synchronously.
func (o *Orchestrator) Flush() error { return o.sessions.Flush() }

// Close flushes and stops background persistence.
func (o *Orchestrator) Close() error { return o.sessions.Close() }

// StartResult is returned by TeamStart. The workflow is a suggestion only.
type StartResult struct {
	Session           *session.Session
	SuggestedWorkflow string
	Confidence        float64
	Workflows         []workflow.Summary
}

// TeamStart creates a new session for goal and suggests a workflow for it.
func (o *Orchestrator) TeamStart(goal, name string) (StartResult, error) {
	if strings.TrimSpace(goal) == "" {
		return StartResult{}, fmt.Errorf("orchestrator: goal is required")
	}
	sess, err := o.sessions.Start(goal, name)
	if err != nil {
		return StartResult{}, fmt.Errorf("orchestrator: start session: %w", err)
	}
	selection := o.catalog.AutoSelect(goal)
	o.journal.Session(logbook.LevelInfo, sess.ID, "session %q started: %s (suggested %s)", sess.Name, goal, selection.Workflow.Name)
	return StartResult{
		Session:           sess,
		SuggestedWorkflow: selection.Workflow.Name,
		Confidence:        selection.Confidence,
		Workflows:         o.catalog.List(),
	}, nil
}

// StatusResult describes the current session, if any.
type StatusResult struct {
	Active  bool
	Summary string
	Session *session.Session
}

// TeamStatus reports the current session.
func (o *Orchestrator) TeamStatus() StatusResult {
	current := o.sessions.Current()
	return StatusResult{
		Active:  current != nil,
		Summary: session.Summary(current, o.clock()),
		Session: current,
	}
}

// EndResult is the outcome of TeamEnd.
type EndResult struct {
	Success bool
	Message string
	Session *session.Session
}

// TeamEnd ends the current session with status. A missing session is
// reported in the result, not as an error.
func (o *Orchestrator) TeamEnd(status session.Status) EndResult {
	ended, err := o.sessions.End(status)
	switch {
	case errors.Is(err, session.ErrNoActiveSession):
		return EndResult{Success: false, Message: "No active session to end"}
	case err != nil && ended == nil:
		return EndResult{Success: false, Message: err.Error()}
	case err != nil:
		o.logger.Error("orchestrator: persist ended session", "session_id", ended.ID, "error", err)
		o.journal.Session(logbook.LevelError, ended.ID, "session ended %s but was not saved: %v", status, err)
		return EndResult{Success: false, Message: fmt.Sprintf("Session ended but could not be saved: %v", err), Session: ended}
	}
	o.journal.Session(logbook.LevelInfo, ended.ID, "session %q ended %s", ended.Name, status)
	return EndResult{
		Success: true,
		Message: fmt.Sprintf("Session %q ended (%s)", ended.Name, status),
		Session: ended,
	}
}

// PlannedStep pairs a workflow step with the prompt issued for it.
type PlannedStep struct {
	Index  int
	Step   workflow.Step
	Prompt string
}

// Plan is the ordered list of steps issued by RunWorkflow.
type Plan struct {
	Workflow workflow.Workflow
	Task     string
	Session  *session.Session
	Steps    []PlannedStep
}

// RunWorkflow resolves the named workflow, starting a session for task when
// none is current, and returns every step with its prompt. It does not run
// any agent.
func (o *Orchestrator) RunWorkflow(name, task string) (Plan, error) {
	def, err := o.catalog.Get(name)
	if err != nil {
		return Plan{}, err
	}
	if o.sessions.Current() == nil {
		if _, err := o.sessions.Start(task, ""); err != nil {
			return Plan{}, fmt.Errorf("orchestrator: start session: %w", err)
		}
	}
	current := o.sessions.Current()
	if current == nil {
		return Plan{}, session.ErrNoActiveSession
	}
	shared := promptContext(current.Context)

	if err := o.sessions.SetWorkflowType(def.Name); err != nil {
		return Plan{}, err
	}
	if err := o.sessions.SetContext(ContextWorkflow, def.Name); err != nil {
		return Plan{}, err
	}
	if err := o.sessions.SetContext(ContextTask, task); err != nil {
		return Plan{}, err
	}
	if err := o.sessions.SetContext(ContextWorkflowStart, len(current.Agents)); err != nil {
		return Plan{}, err
	}

	plan := Plan{Workflow: def, Task: task, Steps: make([]PlannedStep, 0, len(def.Steps))}
	for idx, step := range def.Steps {
		plan.Steps = append(plan.Steps, PlannedStep{
			Index:  idx,
			Step:   step,
			Prompt: workflow.StepPrompt(step, task, shared),
		})
	}
	plan.Session = o.sessions.Current()
	o.logger.Info("orchestrator: workflow issued", "session_id", plan.Session.ID, "workflow", def.Name, "steps", len(plan.Steps))
	o.journal.Session(logbook.LevelInfo, plan.Session.ID, "workflow %s issued: %s", def.Name, strings.Join(def.Agents(), " -> "))
	return plan, nil
}

// Prompt builds the prompt for step using the current session's context.
func (o *Orchestrator) Prompt(step workflow.Step, task string) string {
	var ctx map[string]any
	if current := o.sessions.Current(); current != nil {
		ctx = promptContext(current.Context)
	}
	return workflow.StepPrompt(step, task, ctx)
}

// IssuedStep is the audit record created by ExecuteStep.
type IssuedStep struct {
	Result session.AgentResult
	Prompt string
}

// ExecuteStep records that step was issued by appending a pending result.
// The agent call itself is left to the caller.
func (o *Orchestrator) ExecuteStep(step workflow.Step, task string) (IssuedStep, error) {
	prompt := o.Prompt(step, task)
	result := session.AgentResult{
		Agent:     step.Agent,
		Status:    session.ResultPending,
		Timestamp: o.clock().UTC(),
	}
	if err := o.sessions.AppendResult(result); err != nil {
		return IssuedStep{}, err
	}
	return IssuedStep{Result: result, Prompt: prompt}, nil
}

// RecordResult appends the outcome of an agent call to the current session.
func (o *Orchestrator) RecordResult(agent string, status session.ResultStatus, output string, duration time.Duration) error {
	return o.sessions.AppendResult(session.AgentResult{
		Agent:      agent,
		Status:     status,
		Output:     output,
		Timestamp:  o.clock().UTC(),
		DurationMs: duration.Milliseconds(),
	})
}

// SessionHistory lists every stored session, newest first.
func (o *Orchestrator) SessionHistory() ([]*session.Session, error) {
	return o.sessions.List()
}
