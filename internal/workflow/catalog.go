package workflow

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// DefaultWorkflow is selected when no keyword category matches a task.
const DefaultWorkflow = "cook"

// Selection confidences.
const (
	DefaultConfidence = 0.5
	MatchConfidence   = 0.8
)

//go:embed builtin.yaml
var builtinYAML []byte

// ErrWorkflowNotFound reports an unknown workflow name.
var ErrWorkflowNotFound = errors.New("workflow not found")

// UnknownWorkflowError names the missing workflow and the valid choices.
type UnknownWorkflowError struct {
	Name      string
	Available []string
}

func (e *UnknownWorkflowError) Error() string {
	return fmt.Sprintf("workflow %q not found (available: %s)", e.Name, strings.Join(e.Available, ", "))
}

func (e *UnknownWorkflowError) Unwrap() error { return ErrWorkflowNotFound }

// Category is one keyword class of the auto selector.
type Category struct {
	Name     string
	Workflow string
	Pattern  *regexp.Regexp
}

// categories are evaluated in this order; the first match wins.
var categories = []Category{
	{Name: "bug", Workflow: "quickfix", Pattern: regexp.MustCompile(`(?i)\b(bugs?|fix(es|ed|ing)?|errors?|issues?|broken|crash(es|ed|ing)?|fail(s|ed|ing|ure)?|regression)\b`)},
	{Name: "feature", Workflow: "feature", Pattern: regexp.MustCompile(`(?i)\b(add|feature|implement|create|new|build|support)\b`)},
	{Name: "refactor", Workflow: "refactor", Pattern: regexp.MustCompile(`(?i)\b(refactor(ing)?|clean ?up|restructure|simplify|reorgani[sz]e|extract|rename)\b`)},
	{Name: "review", Workflow: "review", Pattern: regexp.MustCompile(`(?i)\b(review|audit|check|inspect|analy[sz]e)\b`)},
	{Name: "test", Workflow: "test", Pattern: regexp.MustCompile(`(?i)\b(tests?|testing|coverage|unit|e2e|integration)\b`)},
	{Name: "docs", Workflow: "docs", Pattern: regexp.MustCompile(`(?i)\b(docs?|document(ation)?|readme|guide|comments?)\b`)},
}

// CategoryFor returns the keyword category that routes to the named workflow.
func CategoryFor(workflow string) (Category, bool) {
	key := strings.ToLower(strings.TrimSpace(workflow))
	for _, cat := range categories {
		if cat.Workflow == key {
			return cat, true
		}
	}
	return Category{}, false
}

// Summary is the name and description of a registered workflow.
type Summary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Selection is the outcome of AutoSelect.
type Selection struct {
	Workflow   Workflow
	Category   string
	Confidence float64
	Matched    bool
}

// Catalog is the read-only registry of workflows.
type Catalog struct {
	workflows   map[string]Workflow
	order       []string
	defaultName string
	sources     map[string]string
}

type catalogOptions struct {
	dir         string
	defaultName string
	logger      *slog.Logger
}

// CatalogOption customizes catalog construction.
type CatalogOption func(*catalogOptions)

// WithDefinitionDir registers custom workflows found in dir.
func WithDefinitionDir(dir string) CatalogOption {
	return func(o *catalogOptions) { o.dir = dir }
}

// WithDefault overrides the workflow used when no keyword matches.
func WithDefault(name string) CatalogOption {
	return func(o *catalogOptions) { o.defaultName = name }
}

// WithCatalogLogger sets the logger used while loading custom definitions.
func WithCatalogLogger(logger *slog.Logger) CatalogOption {
	return func(o *catalogOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

var (
	builtinOnce sync.Once
	builtinDefs []Workflow
	builtinErr  error
)

func builtins() ([]Workflow, error) {
	builtinOnce.Do(func() {
		builtinDefs, builtinErr = parseCatalogYAML(builtinYAML)
	})
	return builtinDefs, builtinErr
}

// NewCatalog builds the registry from the builtin workflows plus any custom
// definitions. Custom workflows may not shadow a builtin name.
func NewCatalog(opts ...CatalogOption) (*Catalog, error) {
	options := catalogOptions{defaultName: DefaultWorkflow, logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	defs, err := builtins()
	if err != nil {
		return nil, err
	}
	c := &Catalog{
		workflows: make(map[string]Workflow, len(defs)),
		sources:   make(map[string]string, len(defs)),
	}
	for _, def := range defs {
		c.register(def, "builtin")
	}
	custom, err := LoadDefinitionDir(options.dir)
	if err != nil {
		return nil, err
	}
	for _, file := range custom {
		if prev, exists := c.sources[file.Workflow.Name]; exists {
			return nil, fmt.Errorf("workflow: %s: name %q already defined by %s", file.Path, file.Workflow.Name, prev)
		}
		c.register(file.Workflow, file.Path)
		options.logger.Debug("workflow: registered custom definition", "name", file.Workflow.Name, "path", file.Path)
	}
	c.defaultName = strings.ToLower(strings.TrimSpace(options.defaultName))
	if _, ok := c.workflows[c.defaultName]; !ok {
		return nil, fmt.Errorf("workflow: default %w", c.unknown(options.defaultName))
	}
	return c, nil
}

func (c *Catalog) register(def Workflow, source string) {
	c.workflows[def.Name] = def
	c.sources[def.Name] = source
	c.order = append(c.order, def.Name)
}

func (c *Catalog) unknown(name string) error {
	return &UnknownWorkflowError{Name: name, Available: c.Names()}
}

// Get looks up a workflow by case-insensitive name.
func (c *Catalog) Get(name string) (Workflow, error) {
	def, ok := c.workflows[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Workflow{}, c.unknown(name)
	}
	return def.Clone(), nil
}

// List returns every workflow in registration order.
func (c *Catalog) List() []Summary {
	out := make([]Summary, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, Summary{Name: name, Description: c.workflows[name].Description})
	}
	return out
}

// Names returns the workflow names in registration order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.order...)
}

// Default returns the fallback workflow.
func (c *Catalog) Default() Workflow {
	return c.workflows[c.defaultName].Clone()
}

// Source reports where a workflow was defined: "builtin" or a file path.
func (c *Catalog) Source(name string) string {
	return c.sources[strings.ToLower(strings.TrimSpace(name))]
}

// AutoSelect routes free text to a workflow by keyword category. Categories
// are tried in a fixed priority order; when none matches the default
// workflow is returned with a lower confidence.
func (c *Catalog) AutoSelect(task string) Selection {
	for _, cat := range categories {
		if !cat.Pattern.MatchString(task) {
			continue
		}
		def, ok := c.workflows[cat.Workflow]
		if !ok {
			continue
		}
		return Selection{Workflow: def.Clone(), Category: cat.Name, Confidence: MatchConfidence, Matched: true}
	}
	return Selection{Workflow: c.Default(), Category: "default", Confidence: DefaultConfidence}
}
