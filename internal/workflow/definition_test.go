package workflow

import (
	"strings"
	"testing"
)

func TestParseDefinitionYAMLRejectsMissingSteps(t *testing.T) {
	const payload = `
name: empty
steps: []
`
	_, err := ParseDefinitionYAML([]byte(payload))
	if err == nil {
		t.Fatalf("expected error when steps are missing")
	}
	if !strings.Contains(err.Error(), "at least one step is required") {
		t.Fatalf("unexpected error for missing steps: %v", err)
	}
}

func TestParseDefinitionYAMLRequiresFallbackAgent(t *testing.T) {
	const payload = `
name: broken
steps:
  - agent: tester
    on_failure: fallback
`
	_, err := ParseDefinitionYAML([]byte(payload))
	if err == nil {
		t.Fatalf("expected error when fallback agent is missing")
	}
	if !strings.Contains(err.Error(), "fallback_agent is required") {
		t.Fatalf("unexpected error for fallback: %v", err)
	}
}

func TestParseDefinitionYAMLRejectsUnknownPolicy(t *testing.T) {
	const payload = `
name: broken
steps:
  - agent: coder
    on_failure: pray
`
	_, err := ParseDefinitionYAML([]byte(payload))
	if err == nil || !strings.Contains(err.Error(), "unknown on_failure policy") {
		t.Fatalf("expected unknown policy error, got %v", err)
	}
}

func TestParseDefinitionYAMLNormalizes(t *testing.T) {
	const payload = `
name: " Hotfix "
description: ship it
max_retries: 1
steps:
  - agent: " Coder "
    required: true
  - agent: Tester
    on_failure: FALLBACK
    fallback_agent: Debugger
    max_retries: 4
`
	def, err := ParseDefinitionYAML([]byte(payload))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if def.Name != "hotfix" {
		t.Fatalf("name should be trimmed and lower-cased, got %q", def.Name)
	}
	if def.Steps[0].Agent != "coder" || def.Steps[0].Policy() != PolicyAbort {
		t.Fatalf("first step should default to abort, got %+v", def.Steps[0])
	}
	if def.Steps[1].Policy() != PolicyFallback || def.Steps[1].FallbackAgent != "debugger" {
		t.Fatalf("second step not normalized: %+v", def.Steps[1])
	}
	if got := def.Steps[1].EffectiveMaxRetries(def.MaxRetries); got != 4 {
		t.Fatalf("step override should win, got %d", got)
	}
	if got := def.Steps[0].EffectiveMaxRetries(def.MaxRetries); got != 1 {
		t.Fatalf("unset step cap should defer to workflow, got %d", got)
	}
}

func TestWorkflowCloneIsIndependent(t *testing.T) {
	def := Workflow{Name: "a", Steps: []Step{{Agent: "coder"}}}
	clone := def.Clone()
	clone.Steps[0].Agent = "tester"
	if def.Steps[0].Agent != "coder" {
		t.Fatalf("clone shares steps with original")
	}
}
