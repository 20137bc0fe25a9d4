package orchestrator

import (
	"path/filepath"
	"time"

	"github.com/kingrea/crew/internal/config"
	"github.com/kingrea/crew/internal/session"
)

// Options is the engine configuration. Nil or zero fields passed to Init
// keep the value from DefaultOptions.
type Options struct {
	MaxRetries    *int
	AutoSave      *bool
	SessionDir    string
	DebounceDelay time.Duration
}

// DefaultOptions returns the engine defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries:    Int(3),
		AutoSave:      Bool(true),
		SessionDir:    filepath.Join(config.CrewDir, "sessions"),
		DebounceDelay: session.DefaultDebounceDelay,
	}
}

// Int returns a pointer to n for Options.MaxRetries.
func Int(n int) *int { return &n }

// Bool returns a pointer to b for Options.AutoSave.
func Bool(b bool) *bool { return &b }

// Merge returns base with every set field of overrides applied.
func (base Options) Merge(overrides Options) Options {
	merged := base
	if overrides.MaxRetries != nil {
		merged.MaxRetries = Int(*overrides.MaxRetries)
	}
	if overrides.AutoSave != nil {
		merged.AutoSave = Bool(*overrides.AutoSave)
	}
	if overrides.SessionDir != "" {
		merged.SessionDir = overrides.SessionDir
	}
	if overrides.DebounceDelay > 0 {
		merged.DebounceDelay = overrides.DebounceDelay
	}
	return merged
}

// FromConfig builds engine options from the project configuration.
func FromConfig(cfg *config.Config) Options {
	return Options{
		MaxRetries: Int(cfg.MaxRetries()),
		AutoSave:   Bool(cfg.AutoSave()),
		SessionDir: cfg.SessionDir(),
	}
}

func (o Options) sessionConfig() session.Config {
	cfg := session.Config{
		SessionDir:    o.SessionDir,
		DebounceDelay: o.DebounceDelay,
	}
	if o.MaxRetries != nil {
		cfg.MaxRetries = *o.MaxRetries
	}
	if o.AutoSave != nil {
		cfg.AutoSave = *o.AutoSave
	}
	return cfg
}
