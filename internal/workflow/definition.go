package workflow

import (
	"fmt"
	"strings"
)

// FailurePolicy decides what happens when a step fails.
type FailurePolicy string

const (
	PolicyRetry    FailurePolicy = "retry"
	PolicySkip     FailurePolicy = "skip"
	PolicyAbort    FailurePolicy = "abort"
	PolicyFallback FailurePolicy = "fallback"
)

func (p FailurePolicy) valid() bool {
	switch p {
	case PolicyRetry, PolicySkip, PolicyAbort, PolicyFallback:
		return true
	}
	return false
}

// Workflow is a named, ordered template of agent steps. Workflows are
// catalog data and never change after the catalog is built.
type Workflow struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	AutoRetry   bool   `json:"autoRetry" yaml:"auto_retry"`
	MaxRetries  int    `json:"maxRetries" yaml:"max_retries"`
	Steps       []Step `json:"steps" yaml:"steps"`
}

// Step is one agent role within a workflow.
type Step struct {
	Agent         string        `json:"agent" yaml:"agent"`
	Description   string        `json:"description,omitempty" yaml:"description,omitempty"`
	Required      bool          `json:"required" yaml:"required"`
	OnFailure     FailurePolicy `json:"onFailure" yaml:"on_failure,omitempty"`
	FallbackAgent string        `json:"fallbackAgent,omitempty" yaml:"fallback_agent,omitempty"`
	// MaxRetries caps retries for this step; zero defers to the session budget.
	MaxRetries int `json:"maxRetries,omitempty" yaml:"max_retries,omitempty"`
	// Parallel is declarative only. Parallel steps are still issued in order.
	Parallel bool `json:"parallel,omitempty" yaml:"parallel,omitempty"`
}

// Policy returns the step's failure policy, defaulting to abort.
func (s Step) Policy() FailurePolicy {
	if s.OnFailure == "" {
		return PolicyAbort
	}
	return s.OnFailure
}

// EffectiveMaxRetries returns the per-step cap when set, otherwise fallback.
func (s Step) EffectiveMaxRetries(fallback int) int {
	if s.MaxRetries > 0 {
		return s.MaxRetries
	}
	return fallback
}

// Clone returns a deep copy of the workflow.
func (w Workflow) Clone() Workflow {
	clone := w
	if len(w.Steps) > 0 {
		clone.Steps = make([]Step, len(w.Steps))
		copy(clone.Steps, w.Steps)
	}
	return clone
}

// Validate ensures the workflow is self-consistent.
func (w Workflow) Validate() error {
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("workflow: name is required")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %s: at least one step is required", w.Name)
	}
	if w.MaxRetries < 0 {
		return fmt.Errorf("workflow %s: max_retries must be >= 0", w.Name)
	}
	for idx, step := range w.Steps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("workflow %s step[%d]: %w", w.Name, idx, err)
		}
	}
	return nil
}

// Validate ensures the step is usable.
func (s Step) Validate() error {
	if strings.TrimSpace(s.Agent) == "" {
		return fmt.Errorf("agent is required")
	}
	if !s.Policy().valid() {
		return fmt.Errorf("agent %s: unknown on_failure policy %q", s.Agent, s.OnFailure)
	}
	if s.Policy() == PolicyFallback && strings.TrimSpace(s.FallbackAgent) == "" {
		return fmt.Errorf("agent %s: fallback_agent is required for the fallback policy", s.Agent)
	}
	if s.MaxRetries < 0 {
		return fmt.Errorf("agent %s: max_retries must be >= 0", s.Agent)
	}
	return nil
}

// Normalized trims identifiers, lower-cases names, fills the default policy
// and validates the result.
func (w Workflow) Normalized() (Workflow, error) {
	clone := w.Clone()
	clone.Name = strings.ToLower(strings.TrimSpace(clone.Name))
	clone.Description = strings.TrimSpace(clone.Description)
	for i := range clone.Steps {
		step := &clone.Steps[i]
		step.Agent = strings.ToLower(strings.TrimSpace(step.Agent))
		step.FallbackAgent = strings.ToLower(strings.TrimSpace(step.FallbackAgent))
		step.OnFailure = FailurePolicy(strings.ToLower(strings.TrimSpace(string(step.OnFailure))))
		if step.OnFailure == "" {
			step.OnFailure = PolicyAbort
		}
	}
	if err := clone.Validate(); err != nil {
		return Workflow{}, err
	}
	return clone, nil
}

// Agents returns the step roles in declaration order.
func (w Workflow) Agents() []string {
	agents := make([]string, 0, len(w.Steps))
	for _, step := range w.Steps {
		agents = append(agents, step.Agent)
	}
	return agents
}
