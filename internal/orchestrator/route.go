package orchestrator

import (
	"fmt"
	"math"

	"github.com/kingrea/crew/internal/workflow"
)

const (
	routeBoost         = 0.1
	routeMaxConfidence = 0.95
)

// Route is the outcome of SmartRoute.
type Route struct {
	Workflow     string
	Description  string
	Category     string
	Confidence   float64
	Reason       string
	Alternatives []string
}

// SmartRoute picks a workflow for task and explains the choice.
func (o *Orchestrator) SmartRoute(task string) Route {
	selection := o.catalog.AutoSelect(task)
	confidence := selection.Confidence
	if cat, ok := workflow.CategoryFor(selection.Workflow.Name); ok && selection.Matched && cat.Pattern.MatchString(task) {
		confidence = math.Min(confidence+routeBoost, routeMaxConfidence)
	}

	var reason string
	if selection.Matched {
		reason = fmt.Sprintf("Task mentions %s terms: %s", selection.Category, selection.Workflow.Description)
	} else {
		reason = fmt.Sprintf("No keyword matched, using the default: %s", selection.Workflow.Description)
	}

	alternatives := make([]string, 0, len(o.catalog.Names()))
	for _, name := range o.catalog.Names() {
		if name != selection.Workflow.Name {
			alternatives = append(alternatives, name)
		}
	}
	return Route{
		Workflow:     selection.Workflow.Name,
		Description:  selection.Workflow.Description,
		Category:     selection.Category,
		Confidence:   math.Round(confidence*100) / 100,
		Reason:       reason,
		Alternatives: alternatives,
	}
}
