package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/kingrea/crew/internal/config"
	"github.com/kingrea/crew/internal/orchestrator"
	"github.com/kingrea/crew/internal/runner"
	"github.com/kingrea/crew/internal/session"
	"github.com/kingrea/crew/internal/tui"
	"github.com/kingrea/crew/internal/workflow"
)

// RootCommand builds the crew command tree bound to a.
func (a *App) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "crew",
		Short: "Coordinate agent workflows with durable sessions",
		Long: `crew coordinates a sequence of agent steps (plan, code, test, review) toward a goal.
Progress is kept in a session under .crew/sessions so an interrupted run can be resumed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
	}
	root.PersistentFlags().StringVarP(&a.projectDir, "dir", "C", "", "Project directory (defaults to the working directory)")
	root.AddCommand(
		a.initCommand(),
		a.startCommand(),
		a.routeCommand(),
		a.runCommand(),
		a.recordCommand(),
		a.failCommand(),
		a.driveCommand(),
		a.statusCommand(),
		a.endCommand(),
		a.historyCommand(),
		a.showCommand(),
		a.tuiCommand(),
	)
	return root
}

func (a *App) initCommand() *cobra.Command {
	var defaultWorkflow string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the .crew directory and default configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if defaultWorkflow != "" {
				if _, err := a.orch.Catalog().Get(defaultWorkflow); err != nil {
					return err
				}
				if err := a.cfg.SetDefaultWorkflow(defaultWorkflow); err != nil {
					return err
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Initialized %s\n", a.cfg.CrewProjectDir)
			fmt.Fprintf(out, "Config: %s\n", a.cfg.ProjectConfigPath())
			fmt.Fprintf(out, "Default workflow: %s\n", a.cfg.DefaultWorkflow())
			return nil
		},
	}
	cmd.Flags().StringVar(&defaultWorkflow, "default-workflow", "", "Persist a new default workflow")
	return cmd
}

func (a *App) startCommand() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "start <goal>",
		Short: "Start a new session and suggest a workflow",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.orch.TeamStart(strings.Join(args, " "), name)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Started session %q (%s)\n", res.Session.Name, res.Session.ID)
			fmt.Fprintf(out, "Suggested workflow: %s (confidence %.2f)\n\n", res.SuggestedWorkflow, res.Confidence)
			writeWorkflowList(out, res.Workflows, res.SuggestedWorkflow)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Session name (defaults to a date-stamped label)")
	return cmd
}

func (a *App) routeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "route <task>",
		Short: "Pick a workflow for a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			route := a.orch.SmartRoute(strings.Join(args, " "))
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workflow: %s (confidence %.2f)\n", route.Workflow, route.Confidence)
			fmt.Fprintf(out, "Reason: %s\n", route.Reason)
			fmt.Fprintf(out, "Alternatives: %s\n", strings.Join(route.Alternatives, ", "))
			return nil
		},
	}
}

func (a *App) runCommand() *cobra.Command {
	var showPrompts bool
	cmd := &cobra.Command{
		Use:   "run <workflow> <task>",
		Short: "Issue a workflow's steps and prompts for the current session",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := a.orch.RunWorkflow(args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Workflow %s (%s) for session %s\n", plan.Workflow.Name, a.orch.Catalog().Source(plan.Workflow.Name), plan.Session.ID)
			for _, planned := range plan.Steps {
				fmt.Fprintf(out, "%d. %s\n", planned.Index+1, describeStep(planned.Step))
				if showPrompts {
					fmt.Fprintf(out, "%s\n", indent(planned.Prompt, "   "))
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showPrompts, "prompts", false, "Print the prompt issued for each step")
	return cmd
}

func (a *App) recordCommand() *cobra.Command {
	var output string
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "record <agent> <pending|success|failure>",
		Short: "Record the outcome of an agent step",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := session.ResultStatus(strings.ToLower(args[1]))
			switch status {
			case session.ResultPending, session.ResultSuccess, session.ResultFailure:
			default:
				return fmt.Errorf("unknown result status %q", args[1])
			}
			if err := a.orch.RecordResult(args[0], status, output, duration); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s: %s\n", args[0], status)
			return nil
		},
	}
	cmd.Flags().StringVar(&output, "output", "", "Agent output")
	cmd.Flags().DurationVar(&duration, "duration", 0, "How long the step took")
	return cmd
}

func (a *App) failCommand() *cobra.Command {
	var workflowName, errText string
	cmd := &cobra.Command{
		Use:   "fail <agent>",
		Short: "Report a failed step and print what to do next",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			step, err := a.findStep(workflowName, args[0])
			if err != nil {
				return err
			}
			decision := a.orch.HandleStepFailure(step, errText)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Action: %s\n", decision.Action)
			fmt.Fprintf(out, "%s\n", decision.Message)
			if decision.FallbackAgent != "" {
				fmt.Fprintf(out, "Fallback agent: %s\n", decision.FallbackAgent)
			}
			fmt.Fprintf(out, "Retries used: %d\n", decision.RetryCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&workflowName, "workflow", "", "Workflow the step belongs to (defaults to the session's workflow)")
	cmd.Flags().StringVar(&errText, "error", "", "Failure output")
	return cmd
}

// findStep resolves agent within the named workflow, or within the current
// session's workflow when name is empty.
func (a *App) findStep(name, agent string) (workflow.Step, error) {
	if name == "" {
		current := a.orch.Sessions().Current()
		if current == nil {
			return workflow.Step{}, session.ErrNoActiveSession
		}
		if current.WorkflowType == "" {
			return workflow.Step{}, errors.New("session has no workflow; pass --workflow")
		}
		name = current.WorkflowType
	}
	def, err := a.orch.Catalog().Get(name)
	if err != nil {
		return workflow.Step{}, err
	}
	for _, step := range def.Steps {
		if strings.EqualFold(step.Agent, agent) {
			return step, nil
		}
	}
	return workflow.Step{}, fmt.Errorf("workflow %s has no %s step (steps: %s)", def.Name, agent, strings.Join(def.Agents(), ", "))
}

func (a *App) driveCommand() *cobra.Command {
	var command string
	var extraArgs []string
	cmd := &cobra.Command{
		Use:   "drive <workflow> <task>",
		Short: "Run every step of a workflow through the configured agent command",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			execCfg := a.cfg.Executor()
			if command != "" {
				execCfg = config.ExecutorConfig{Command: command, Args: extraArgs}
			}
			if execCfg.Command == "" {
				return errors.New("no executor command configured; set executor.command in config.yaml or pass --command")
			}
			out := cmd.OutOrStdout()
			r := runner.New(a.orch, a.executor(execCfg, a.projectDir), a.logger.Logger)
			r.OnStep = func(agent, _ string) { fmt.Fprintf(out, "-> %s\n", agent) }
			res, err := r.Run(cmd.Context(), args[0], strings.Join(args[1:], " "))
			for _, step := range res.Steps {
				fmt.Fprintf(out, "%s\n", describeOutcome(step))
			}
			if err != nil {
				if errors.Is(err, context.Canceled) {
					fmt.Fprintln(out, "Interrupted; the session stays active and can be resumed.")
				}
				return err
			}
			fmt.Fprintf(out, "Session %s %s\n", res.Session.ID, res.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&command, "command", "", "Agent command (overrides executor.command)")
	cmd.Flags().StringArrayVar(&extraArgs, "arg", nil, "Argument for --command (repeatable)")
	return cmd
}

func (a *App) statusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), a.orch.TeamStatus().Summary)
			return nil
		},
	}
}

func (a *App) endCommand() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "end",
		Short: "End the current session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			terminal := session.Status(strings.ToLower(status))
			if !terminal.Terminal() {
				return fmt.Errorf("status must be completed or failed, got %q", status)
			}
			res := a.orch.TeamEnd(terminal)
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
			if !res.Success {
				return errors.New(res.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", string(session.StatusCompleted), "Final status: completed or failed")
	return cmd
}

func (a *App) historyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "List stored sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := a.orch.SessionHistory()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found.")
				return nil
			}
			for _, sess := range sessions {
				workflowName := sess.WorkflowType
				if workflowName == "" {
					workflowName = "-"
				}
				fmt.Fprintf(out, "%s  %-9s  %s  %-8s  %s · %s\n",
					sess.ID, sess.Status, sess.StartTime.Local().Format("2006-01-02 15:04"), workflowName, sess.Name, sess.Goal)
			}
			return nil
		},
	}
}

func (a *App) showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a stored session without resuming it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.orch.Sessions().Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), session.Summary(sess, time.Now()))
			return nil
		},
	}
}

func (a *App) tuiCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the session dashboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			watcher, err := session.Watch(a.orch.Sessions().Store(), 0)
			if err != nil {
				return err
			}
			defer watcher.Close()
			p := tea.NewProgram(
				tui.NewApp(a.orch, tui.WithJournal(a.journal), tui.WithWatcher(watcher)),
				tea.WithAltScreen(),
			)
			_, err = p.Run()
			return err
		},
	}
}

func writeWorkflowList(out io.Writer, workflows []workflow.Summary, selected string) {
	fmt.Fprintln(out, "Workflows:")
	for _, wf := range workflows {
		marker := " "
		if wf.Name == selected {
			marker = "*"
		}
		fmt.Fprintf(out, " %s %-10s %s\n", marker, wf.Name, wf.Description)
	}
}

func describeStep(step workflow.Step) string {
	var b strings.Builder
	b.WriteString(step.Agent)
	if step.Required {
		b.WriteString(" (required")
	} else {
		b.WriteString(" (optional")
	}
	fmt.Fprintf(&b, ", on failure: %s", step.Policy())
	if step.FallbackAgent != "" {
		fmt.Fprintf(&b, " -> %s", step.FallbackAgent)
	}
	if step.Parallel {
		b.WriteString(", parallel")
	}
	b.WriteString(")")
	if step.Description != "" {
		b.WriteString(": ")
		b.WriteString(step.Description)
	}
	return b.String()
}

func describeOutcome(step runner.StepOutcome) string {
	label := step.Agent
	if step.FallbackAgent != "" {
		label = fmt.Sprintf("%s -> %s", step.Agent, step.FallbackAgent)
	}
	switch {
	case step.Err == nil:
		return fmt.Sprintf("[✓] %s (%d attempt(s))", label, step.Attempts)
	case step.Action == orchestrator.ActionSkip:
		return fmt.Sprintf("[-] %s skipped: %v", label, step.Err)
	default:
		return fmt.Sprintf("[✗] %s %s: %v", label, step.Action, step.Err)
	}
}

func indent(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
