// internal/config/config.go
//
// This package handles configuration and the .crew directory structure.
// Every project that uses crew gets a .crew/ folder created in its root.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	// CrewDir is the name of the directory we create in each project
	CrewDir = ".crew"

	defaultWorkflowID = "cook"
	defaultMaxRetries = 3
)

// Environment variables that override config.yaml.
const (
	EnvMaxRetries = "CREW_MAX_RETRIES"
	EnvAutoSave   = "CREW_AUTO_SAVE"
	EnvSessionDir = "CREW_SESSION_DIR"
	EnvLogLevel   = "CREW_LOG_LEVEL"
)

const defaultProjectConfigYAML = `# crew project configuration
version: 1

engine:
  # Retries granted to a session before retry-policy steps fall through.
  max_retries: 3
  # Persist every mutation (debounced). Start, end and exit always persist.
  auto_save: true
  # Relative paths resolve against the project directory.
  session_dir: .crew/sessions

workflows:
  default: cook
  # Custom *.yaml workflow definitions.
  dir: .crew/workflows

# Command that runs one agent step. The prompt is written to its stdin and
# CREW_AGENT names the role.
executor:
  command: claude
  args: ["-p"]
`

// EngineConfig captures session engine settings.
type EngineConfig struct {
	MaxRetries *int   `yaml:"max_retries,omitempty"`
	AutoSave   *bool  `yaml:"auto_save,omitempty"`
	SessionDir string `yaml:"session_dir"`
}

// WorkflowConfig captures workflow preferences.
type WorkflowConfig struct {
	Default string `yaml:"default"`
	Dir     string `yaml:"dir,omitempty"`
}

// ExecutorConfig describes the agent command used by `crew drive`.
type ExecutorConfig struct {
	Command string   `yaml:"command,omitempty"`
	Args    []string `yaml:"args,omitempty"`
}

// ProjectConfig models .crew/config.yaml.
type ProjectConfig struct {
	Version   int            `yaml:"version"`
	Engine    EngineConfig   `yaml:"engine"`
	Workflows WorkflowConfig `yaml:"workflows"`
	Executor  ExecutorConfig `yaml:"executor,omitempty"`
}

// Config holds the runtime configuration for crew.
type Config struct {
	// ProjectDir is the directory where the user ran `crew` from
	ProjectDir string

	// CrewProjectDir is ProjectDir/.crew
	CrewProjectDir string

	// LogLevel comes from CREW_LOG_LEVEL only.
	LogLevel string

	Project ProjectConfig
}

// InitCrewDir creates the .crew directory structure in the given project directory.
//
// Structure created:
// .crew/
// ├── sessions/     <- One JSON document per session
// ├── workflows/    <- Custom workflow definitions
// └── logs/         <- Engine log and team journal
func InitCrewDir(projectDir string) error {
	crewDir := filepath.Join(projectDir, CrewDir)
	dirs := []string{
		filepath.Join(crewDir, "sessions"),
		filepath.Join(crewDir, "workflows"),
		filepath.Join(crewDir, "logs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return ensureProjectConfig(filepath.Join(crewDir, "config.yaml"))
}

// NewConfig creates a new Config instance populated with project settings
// and environment overrides.
func NewConfig(projectDir string) (*Config, error) {
	cfg := &Config{
		ProjectDir:     projectDir,
		CrewProjectDir: filepath.Join(projectDir, CrewDir),
		Project:        defaultProjectConfig(),
	}
	cfg.Project.normalize(projectDir)
	if err := cfg.loadProjectConfig(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.CrewProjectDir, "logs")
}

// JournalPath returns the team journal written by the orchestrator.
func (c *Config) JournalPath() string {
	return filepath.Join(c.LogsDir(), "journal.log")
}

// SessionDir returns the resolved session directory.
func (c *Config) SessionDir() string {
	return c.Project.Engine.SessionDir
}

// WorkflowsDir returns the resolved custom workflow directory.
func (c *Config) WorkflowsDir() string {
	return c.Project.Workflows.Dir
}

// MaxRetries returns the per-session retry budget.
func (c *Config) MaxRetries() int {
	if c.Project.Engine.MaxRetries == nil {
		return defaultMaxRetries
	}
	return *c.Project.Engine.MaxRetries
}

// AutoSave reports whether mutations are persisted.
func (c *Config) AutoSave() bool {
	return c.Project.Engine.AutoSave == nil || *c.Project.Engine.AutoSave
}

// Executor returns the configured agent command.
func (c *Config) Executor() ExecutorConfig {
	return c.Project.Executor
}

// ProjectConfigPath returns the on-disk location for the project config file.
func (c *Config) ProjectConfigPath() string {
	return filepath.Join(c.CrewProjectDir, "config.yaml")
}

// DefaultWorkflow returns the configured default workflow identifier.
func (c *Config) DefaultWorkflow() string {
	return c.Project.Workflows.Default
}

// SetDefaultWorkflow updates the default workflow identifier and persists the
// value back to .crew/config.yaml. Only workflows.default is rewritten; the
// rest of the file, comments included, is kept as written.
func (c *Config) SetDefaultWorkflow(id string) error {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return fmt.Errorf("config: workflow id is required")
	}
	if err := c.saveProjectValue(id, "workflows", "default"); err != nil {
		return err
	}
	c.Project.Workflows.Default = id
	return nil
}

func (c *Config) loadProjectConfig() error {
	path := c.ProjectConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed ProjectConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize(c.ProjectDir)
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.Project = parsed
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if raw, ok := lookup(EnvMaxRetries); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 0 {
			return fmt.Errorf("config: %s must be a non-negative integer, got %q", EnvMaxRetries, raw)
		}
		c.Project.Engine.MaxRetries = &n
	}
	if raw, ok := lookup(EnvAutoSave); ok && strings.TrimSpace(raw) != "" {
		v, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return fmt.Errorf("config: %s must be a boolean, got %q", EnvAutoSave, raw)
		}
		c.Project.Engine.AutoSave = &v
	}
	if raw, ok := lookup(EnvSessionDir); ok && strings.TrimSpace(raw) != "" {
		c.Project.Engine.SessionDir = resolvePath(c.ProjectDir, raw)
	}
	if raw, ok := lookup(EnvLogLevel); ok {
		c.LogLevel = strings.ToLower(strings.TrimSpace(raw))
	}
	return nil
}

func defaultProjectConfig() ProjectConfig {
	pc := ProjectConfig{Version: 1}
	pc.applyDefaults()
	return pc
}

func (pc *ProjectConfig) applyDefaults() {
	if pc.Version == 0 {
		pc.Version = 1
	}
	if pc.Engine.MaxRetries == nil {
		retries := defaultMaxRetries
		pc.Engine.MaxRetries = &retries
	}
	if pc.Engine.AutoSave == nil {
		enabled := true
		pc.Engine.AutoSave = &enabled
	}
	if strings.TrimSpace(pc.Engine.SessionDir) == "" {
		pc.Engine.SessionDir = filepath.Join(CrewDir, "sessions")
	}
	if strings.TrimSpace(pc.Workflows.Dir) == "" {
		pc.Workflows.Dir = filepath.Join(CrewDir, "workflows")
	}
}

func (pc *ProjectConfig) normalize(base string) {
	pc.Engine.SessionDir = resolvePath(base, pc.Engine.SessionDir)
	pc.Workflows.Dir = resolvePath(base, pc.Workflows.Dir)
	pc.Workflows.Default = strings.ToLower(strings.TrimSpace(pc.Workflows.Default))
	if pc.Workflows.Default == "" {
		pc.Workflows.Default = defaultWorkflowID
	}
	pc.Executor.Command = strings.TrimSpace(pc.Executor.Command)
}

func (pc *ProjectConfig) validate() error {
	if pc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	if pc.Engine.MaxRetries != nil && *pc.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.max_retries must be >= 0")
	}
	if pc.Engine.SessionDir == "" {
		return fmt.Errorf("engine.session_dir is required")
	}
	if strings.TrimSpace(pc.Workflows.Default) == "" {
		return fmt.Errorf("workflows.default is required")
	}
	if len(pc.Executor.Args) > 0 && pc.Executor.Command == "" {
		return fmt.Errorf("executor.command is required when executor.args is set")
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureProjectConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultProjectConfigYAML), 0644)
}

// saveProjectValue sets the scalar at path in config.yaml, creating the file
// from the default template when it is missing.
func (c *Config) saveProjectValue(value string, path ...string) error {
	if c == nil {
		return fmt.Errorf("config: nil receiver")
	}
	file := c.ProjectConfigPath()
	data, err := os.ReadFile(file)
	if errors.Is(err, fs.ErrNotExist) {
		data = []byte(defaultProjectConfigYAML)
	} else if err != nil {
		return fmt.Errorf("config: read %s: %w", file, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: parse %s: %w", file, err)
	}
	if err := setScalar(&doc, value, path...); err != nil {
		return fmt.Errorf("config: %s: %w", file, err)
	}
	var out bytes.Buffer
	enc := yaml.NewEncoder(&out)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("config: encode config: %w", err)
	}
	if err := os.MkdirAll(c.CrewProjectDir, 0o755); err != nil {
		return fmt.Errorf("config: ensure crew dir: %w", err)
	}
	if err := os.WriteFile(file, out.Bytes(), 0644); err != nil {
		return fmt.Errorf("config: write project config: %w", err)
	}
	return nil
}

// setScalar walks doc along path, adding missing mapping keys, and replaces
// the final node with a string scalar.
func setScalar(doc *yaml.Node, value string, path ...string) error {
	if doc.Kind == 0 {
		doc.Kind = yaml.DocumentNode
	}
	if len(doc.Content) == 0 {
		doc.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	node := doc.Content[0]
	for i, key := range path {
		if node.Kind != yaml.MappingNode {
			return fmt.Errorf("%s is not a mapping", strings.Join(append([]string{"document"}, path[:i]...), "."))
		}
		var next *yaml.Node
		for j := 0; j+1 < len(node.Content); j += 2 {
			if node.Content[j].Value == key {
				next = node.Content[j+1]
				break
			}
		}
		if next == nil {
			next = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}, next)
		}
		node = next
	}
	node.Kind = yaml.ScalarNode
	node.Tag = "!!str"
	node.Style = 0
	node.Value = value
	node.Content = nil
	return nil
}
