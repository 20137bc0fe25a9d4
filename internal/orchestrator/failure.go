package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kingrea/crew/internal/logbook"
	"github.com/kingrea/crew/internal/session"
	"github.com/kingrea/crew/internal/workflow"
)

// Action is the decision taken for a failed step.
type Action string

const (
	ActionRetry    Action = "retry"
	ActionFallback Action = "fallback"
	ActionSkip     Action = "skip"
	ActionAbort    Action = "abort"
)

// FailureDecision is the outcome of HandleStepFailure.
type FailureDecision struct {
	Action        Action
	CanRetry      bool
	RetryCount    int
	FallbackAgent string
	Message       string
}

// HandleStepFailure records the failure of step and decides what happens
// next. The checks run in a fixed order:
//
//  1. no current session: abort
//  2. retry policy with budget left: retry
//  3. fallback policy with a fallback agent: fallback
//  4. skip policy or optional step: skip
//  5. otherwise: abort
//
// A retry-policy step that has exhausted its budget falls through to 3-5.
func (o *Orchestrator) HandleStepFailure(step workflow.Step, errText string) FailureDecision {
	if o.sessions.Current() == nil {
		return FailureDecision{Action: ActionAbort, Message: "No active session"}
	}
	failure := session.AgentResult{
		Agent:     step.Agent,
		Status:    session.ResultFailure,
		Output:    errText,
		Timestamp: o.clock().UTC(),
	}
	if err := o.sessions.AppendResult(failure); err != nil {
		return FailureDecision{Action: ActionAbort, Message: err.Error()}
	}
	decision := o.decide(step)
	current := o.sessions.Current()
	id := ""
	if current != nil {
		id = current.ID
	}
	o.logger.Warn("orchestrator: step failed",
		"session_id", id,
		"agent", step.Agent,
		"action", decision.Action,
		"retry_count", decision.RetryCount,
	)
	o.journal.Session(logbook.LevelWarn, id, "%s failed (%s): %s", step.Agent, firstLine(errText), decision.Message)
	return decision
}

func (o *Orchestrator) decide(step workflow.Step) FailureDecision {
	policy := step.Policy()
	if policy == workflow.PolicyRetry && o.sessions.CanRetry() && o.withinStepCap(step) {
		count, err := o.sessions.IncrementRetry()
		if err != nil {
			return FailureDecision{Action: ActionAbort, Message: err.Error()}
		}
		return FailureDecision{
			Action:     ActionRetry,
			CanRetry:   true,
			RetryCount: count,
			Message:    fmt.Sprintf("Retrying %s (attempt %d)", step.Agent, count),
		}
	}
	retries := o.retryCount()
	if policy == workflow.PolicyFallback && step.FallbackAgent != "" {
		return FailureDecision{
			Action:        ActionFallback,
			RetryCount:    retries,
			FallbackAgent: step.FallbackAgent,
			Message:       fmt.Sprintf("Falling back from %s to %s", step.Agent, step.FallbackAgent),
		}
	}
	if policy == workflow.PolicySkip || !step.Required {
		return FailureDecision{
			Action:     ActionSkip,
			RetryCount: retries,
			Message:    fmt.Sprintf("Skipping %s", step.Agent),
		}
	}
	return FailureDecision{
		Action:     ActionAbort,
		RetryCount: retries,
		Message:    fmt.Sprintf("Aborting: required step %s failed", step.Agent),
	}
}

// withinStepCap applies the step's own retry cap, counting the failure just
// recorded. Only failures since the current workflow was issued count. A step
// without a cap is bounded by the session budget only.
func (o *Orchestrator) withinStepCap(step workflow.Step) bool {
	limit := step.EffectiveMaxRetries(0)
	if limit == 0 {
		return true
	}
	current := o.sessions.Current()
	if current == nil {
		return false
	}
	return current.Failures(step.Agent, workflowStart(current)) <= limit
}

// workflowStart reads ContextWorkflowStart. Values decoded from disk arrive
// as float64.
func workflowStart(sess *session.Session) int {
	switch v := sess.Context[ContextWorkflowStart].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func (o *Orchestrator) retryCount() int {
	if current := o.sessions.Current(); current != nil {
		return current.RetryCount
	}
	return 0
}

func firstLine(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	if text == "" {
		return "no output"
	}
	return text
}
