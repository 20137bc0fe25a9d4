// Package cli is the crew command tree. Each invocation opens the project's
// .crew directory, initializes the orchestrator and closes it again so the
// current session is always flushed before the process exits.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kingrea/crew/internal/config"
	"github.com/kingrea/crew/internal/logbook"
	"github.com/kingrea/crew/internal/logging"
	"github.com/kingrea/crew/internal/orchestrator"
	"github.com/kingrea/crew/internal/runner"
	"github.com/kingrea/crew/internal/session"
	"github.com/kingrea/crew/internal/workflow"
)

// App carries the state shared by every command.
type App struct {
	projectDir string

	cfg     *config.Config
	logger  *logging.Logger
	journal *logbook.Logbook
	orch    *orchestrator.Orchestrator

	uninstall  func()
	exit       func(int)
	prevLogger *slog.Logger
	// executor builds the agent executor for `crew drive`.
	executor func(cfg config.ExecutorConfig, dir string) runner.Executor
}

// NewApp returns an unopened app.
func NewApp() *App {
	return &App{
		exit: os.Exit,
		executor: func(cfg config.ExecutorConfig, dir string) runner.Executor {
			return runner.CommandExecutor{Command: cfg.Command, Args: cfg.Args, Dir: dir}
		},
	}
}

// Flush writes the current session. It is safe before open and after close.
func (a *App) Flush() error {
	if a == nil || a.orch == nil {
		return nil
	}
	return a.orch.Flush()
}

// Execute runs the command tree with args and always closes the app.
func (a *App) Execute(args []string) error {
	root := a.RootCommand()
	root.SetArgs(args)
	err := root.Execute()
	if cerr := a.close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (a *App) open(cmd *cobra.Command) error {
	if a.orch != nil {
		return nil
	}
	dir := a.projectDir
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		dir = cwd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("resolve project directory: %w", err)
	}
	a.projectDir = abs

	if err := godotenv.Load(filepath.Join(abs, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not load .env: %v\n", err)
	}
	if err := config.InitCrewDir(abs); err != nil {
		return fmt.Errorf("initialize %s: %w", config.CrewDir, err)
	}
	cfg, err := config.NewConfig(abs)
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, err := logging.New(abs, cfg.LogLevel)
	if err != nil {
		return err
	}
	a.logger = logger
	a.prevLogger = slog.Default()
	slog.SetDefault(logger.Logger)

	journal, err := logbook.New(cfg.JournalPath())
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	a.journal = journal

	catalog, err := workflow.NewCatalog(
		workflow.WithDefinitionDir(cfg.WorkflowsDir()),
		workflow.WithDefault(cfg.DefaultWorkflow()),
		workflow.WithCatalogLogger(logger.Logger),
	)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(
		orchestrator.WithLogger(logger.Logger),
		orchestrator.WithLogbook(journal),
		orchestrator.WithCatalog(catalog),
	)
	if err != nil {
		return err
	}
	if err := orch.Init(orchestrator.FromConfig(cfg)); err != nil {
		return err
	}
	a.orch = orch
	a.uninstall = session.InstallExitHandlers(a, logger.Logger, a.exit)
	logger.Debug("cli: opened project", "dir", abs, "command", cmd.CommandPath())
	return nil
}

func (a *App) close() error {
	if a.uninstall != nil {
		a.uninstall()
		a.uninstall = nil
	}
	var err error
	if a.orch != nil {
		err = a.orch.Close()
		a.orch = nil
	}
	if a.prevLogger != nil {
		slog.SetDefault(a.prevLogger)
		a.prevLogger = nil
	}
	if a.logger != nil {
		if cerr := a.logger.Close(); cerr != nil && err == nil {
			err = cerr
		}
		a.logger = nil
	}
	return err
}
