package workflow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newCatalog(t *testing.T, opts ...CatalogOption) *Catalog {
	t.Helper()
	c, err := NewCatalog(opts...)
	if err != nil {
		t.Fatalf("NewCatalog: %v", err)
	}
	return c
}

func TestBuiltinCatalogOrderAndValidity(t *testing.T) {
	c := newCatalog(t)
	want := []string{"quickfix", "feature", "refactor", "review", "test", "docs", "cook"}
	got := c.Names()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected order: %v", got)
	}
	for _, summary := range c.List() {
		if summary.Description == "" {
			t.Fatalf("workflow %s has no description", summary.Name)
		}
		def, err := c.Get(summary.Name)
		if err != nil {
			t.Fatalf("Get(%s): %v", summary.Name, err)
		}
		if err := def.Validate(); err != nil {
			t.Fatalf("builtin %s invalid: %v", summary.Name, err)
		}
	}
}

func TestGetIsCaseInsensitive(t *testing.T) {
	c := newCatalog(t)
	def, err := c.Get("QuickFix")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if def.Name != "quickfix" {
		t.Fatalf("unexpected workflow %q", def.Name)
	}
}

func TestGetUnknownListsAvailable(t *testing.T) {
	c := newCatalog(t)
	_, err := c.Get("deploy")
	if !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("expected ErrWorkflowNotFound, got %v", err)
	}
	var unknown *UnknownWorkflowError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownWorkflowError, got %T", err)
	}
	if len(unknown.Available) != 7 || !strings.Contains(err.Error(), "cook") {
		t.Fatalf("error should list valid names: %v", err)
	}
}

func TestAutoSelectScenarios(t *testing.T) {
	c := newCatalog(t)
	cases := map[string]string{
		"there is a bug in login":    "quickfix",
		"add dark mode":              "feature",
		"refactor the parser":        "refactor",
		"please review the handlers": "review",
		"raise coverage of the api":  "test",
		"update the README":          "docs",
	}
	for task, want := range cases {
		sel := c.AutoSelect(task)
		if sel.Workflow.Name != want {
			t.Fatalf("AutoSelect(%q) = %s, want %s", task, sel.Workflow.Name, want)
		}
		if !sel.Matched || sel.Confidence != MatchConfidence {
			t.Fatalf("AutoSelect(%q) should be a keyword match: %+v", task, sel)
		}
	}
}

func TestAutoSelectDefaultHasLowerConfidence(t *testing.T) {
	c := newCatalog(t)
	fallback := c.AutoSelect("do something")
	if fallback.Workflow.Name != DefaultWorkflow || fallback.Matched {
		t.Fatalf("unexpected fallback selection: %+v", fallback)
	}
	match := c.AutoSelect("fix the crash")
	if fallback.Confidence >= match.Confidence {
		t.Fatalf("default confidence %.2f should be below match %.2f", fallback.Confidence, match.Confidence)
	}
}

func TestAutoSelectPriorityOrder(t *testing.T) {
	c := newCatalog(t)
	// Both bug and test terms are present; bug terms are evaluated first.
	if got := c.AutoSelect("fix the failing test").Workflow.Name; got != "quickfix" {
		t.Fatalf("bug terms should win, got %s", got)
	}
	// "check" is a review term and review precedes docs.
	if got := c.AutoSelect("check the docs").Workflow.Name; got != "review" {
		t.Fatalf("review terms should win over docs, got %s", got)
	}
}

func TestCustomDefinitionsAreRegistered(t *testing.T) {
	dir := t.TempDir()
	payload := "name: deploy\ndescription: ship it\nsteps:\n  - agent: operator\n    required: true\n"
	if err := os.WriteFile(filepath.Join(dir, "deploy.yaml"), []byte(payload), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}
	c := newCatalog(t, WithDefinitionDir(dir))
	names := c.Names()
	if names[len(names)-1] != "deploy" {
		t.Fatalf("custom workflow should follow builtins: %v", names)
	}
	if src := c.Source("deploy"); src != filepath.Join(dir, "deploy.yaml") {
		t.Fatalf("unexpected source %q", src)
	}
}

func TestCustomDefinitionsCannotShadowBuiltins(t *testing.T) {
	dir := t.TempDir()
	payload := "name: QuickFix\nsteps:\n  - agent: coder\n"
	if err := os.WriteFile(filepath.Join(dir, "quickfix.yml"), []byte(payload), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}
	if _, err := NewCatalog(WithDefinitionDir(dir)); err == nil || !strings.Contains(err.Error(), "already defined") {
		t.Fatalf("expected shadowing error, got %v", err)
	}
}

func TestMissingDefinitionDirIsEmpty(t *testing.T) {
	newCatalog(t, WithDefinitionDir(filepath.Join(t.TempDir(), "absent")))
}

func TestWithDefaultRejectsUnknown(t *testing.T) {
	if _, err := NewCatalog(WithDefault("nope")); !errors.Is(err, ErrWorkflowNotFound) {
		t.Fatalf("expected unknown default error, got %v", err)
	}
	c := newCatalog(t, WithDefault("Feature"))
	if got := c.AutoSelect("hmm").Workflow.Name; got != "feature" {
		t.Fatalf("default override ignored, got %s", got)
	}
}

func TestCategoryFor(t *testing.T) {
	cat, ok := CategoryFor("quickfix")
	if !ok || cat.Name != "bug" {
		t.Fatalf("unexpected category %+v", cat)
	}
	if _, ok := CategoryFor(DefaultWorkflow); ok {
		t.Fatalf("default workflow has no keyword category")
	}
}
