package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSmartRouteKeywordMatch(t *testing.T) {
	o, err := New()
	require.NoError(t, err)
	route := o.SmartRoute("there is a bug in login")
	assert.Equal(t, "quickfix", route.Workflow)
	assert.Equal(t, "bug", route.Category)
	assert.InDelta(t, 0.9, route.Confidence, 1e-9)
	assert.Contains(t, route.Reason, "bug terms")
	assert.NotContains(t, route.Alternatives, "quickfix")
	assert.Len(t, route.Alternatives, len(o.Catalog().Names())-1)
}

func TestSmartRouteDefaultIsNotBoosted(t *testing.T) {
	o, err := New()
	require.NoError(t, err)
	fallback := o.SmartRoute("do something")
	assert.Equal(t, "cook", fallback.Workflow)
	assert.InDelta(t, 0.5, fallback.Confidence, 1e-9)
	assert.Contains(t, fallback.Reason, "No keyword matched")

	for _, task := range []string{"add dark mode", "refactor the parser"} {
		assert.Greater(t, o.SmartRoute(task).Confidence, fallback.Confidence, task)
	}
}
