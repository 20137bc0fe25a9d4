package session

import (
	"fmt"
	"strings"
	"time"
)

// NoActiveSummary is rendered when no session is loaded.
const NoActiveSummary = "No active session"

var resultMarks = map[ResultStatus]string{
	ResultSuccess: "✓",
	ResultFailure: "✗",
	ResultPending: "…",
}

// Summary renders a human readable status block for sess.
func Summary(sess *Session, now time.Time) string {
	if sess == nil {
		return NoActiveSummary
	}
	counts := sess.Counts()
	var b strings.Builder
	fmt.Fprintf(&b, "Session: %s\n", sess.Name)
	fmt.Fprintf(&b, "ID: %s\n", sess.ID)
	fmt.Fprintf(&b, "Goal: %s\n", sess.Goal)
	fmt.Fprintf(&b, "Status: %s\n", sess.Status)
	if sess.WorkflowType != "" {
		fmt.Fprintf(&b, "Workflow: %s\n", sess.WorkflowType)
	}
	fmt.Fprintf(&b, "Duration: %s\n", formatElapsed(sess.Elapsed(now)))
	fmt.Fprintf(&b, "Agents: %d (%d success, %d failure, %d pending)\n",
		len(sess.Agents), counts[ResultSuccess], counts[ResultFailure], counts[ResultPending])
	fmt.Fprintf(&b, "Retries: %d/%d\n", sess.RetryCount, sess.MaxRetries)
	if len(sess.Agents) > 0 {
		b.WriteString("\nAgent results:\n")
		for _, result := range sess.Agents {
			mark, ok := resultMarks[result.Status]
			if !ok {
				mark = "?"
			}
			line := fmt.Sprintf("  [%s] %s (%s)", mark, result.Agent, result.Timestamp.UTC().Format(time.TimeOnly))
			if result.DurationMs > 0 {
				line += fmt.Sprintf(" %s", time.Duration(result.DurationMs)*time.Millisecond)
			}
			b.WriteString(line + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
