package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

var roleTemplates = map[string]string{
	"planner": `You are the planner. Break the task below into small, ordered steps.
For each step name the files involved and how completion will be verified.`,
	"architect": `You are the architect. Decide where the work belongs in the codebase,
which interfaces change and which stay fixed. Call out risks before any code is written.`,
	"coder": `You are the coder. Implement the task with the smallest change that satisfies it.
Follow the existing conventions of the codebase and keep unrelated code untouched.`,
	"tester": `You are the tester. Write tests that prove the task is done and run them.
Report every failing test with its output.`,
	"reviewer": `You are the reviewer. Review the change for correctness, clarity and maintainability.
List concrete findings ordered by severity.`,
	"debugger": `You are the debugger. Reproduce the failure, find its root cause and explain it.
Propose the minimal fix.`,
	"refactorer": `You are the refactorer. Restructure the code without changing its behavior.
Work in small steps and keep the tests passing after each one.`,
	"documenter": `You are the documenter. Write or update documentation so a new reader can use the change.
Keep examples runnable.`,
	"security": `You are the security auditor. Look for injection, unsafe input handling, secret leakage
and privilege problems. Rate each finding.`,
}

const genericTemplate = `You are the %s agent. Complete your part of the task below and report what you did.`

// StepPrompt builds the instruction for one step. It has no side effects.
func StepPrompt(step Step, task string, context map[string]any) string {
	role := strings.ToLower(strings.TrimSpace(step.Agent))
	tmpl, ok := roleTemplates[role]
	if !ok {
		tmpl = fmt.Sprintf(genericTemplate, role)
	}
	var b strings.Builder
	b.WriteString(tmpl)
	b.WriteString("\n\nTask: ")
	b.WriteString(strings.TrimSpace(task))
	if desc := strings.TrimSpace(step.Description); desc != "" {
		b.WriteString("\nStep: ")
		b.WriteString(desc)
	}
	if len(context) > 0 {
		b.WriteString("\n\nContext:\n")
		encoded, err := json.MarshalIndent(context, "", "  ")
		if err != nil {
			fmt.Fprintf(&b, "%v", context)
		} else {
			b.Write(encoded)
		}
	}
	b.WriteString("\n")
	return b.String()
}
