package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reviewGraph() Graph {
	return Graph{
		Initial: "queued",
		States: map[string]StateNode{
			"queued": {
				On: map[string]Transition{
					"ASSIGN": {Target: "assigned"},
				},
			},
			"assigned": {
				On: map[string]Transition{
					"SUBMIT":   {Target: "submitted"},
					"UNASSIGN": {Target: "queued"},
				},
			},
			"submitted": {
				On: map[string]Transition{
					"APPROVE": {Target: "approved"},
					"REJECT":  {Target: "assigned"},
				},
			},
			"approved": {Final: true},
		},
	}
}

func TestCompileValidGraph(t *testing.T) {
	m, err := Compile("def-1", reviewGraph())
	require.NoError(t, err)
	assert.Equal(t, "queued", m.InitialState())
	assert.Equal(t, []string{"approved", "assigned", "queued", "submitted"}, m.StateNames())
	assert.Equal(t, []string{"APPROVE", "REJECT"}, m.EventsFrom("submitted"))
}

func TestCompileRejectsMissingInitial(t *testing.T) {
	g := reviewGraph()
	g.Initial = ""
	_, err := Compile("def-1", g)
	require.Error(t, err)
	assert.Equal(t, ErrCodeDefinitionInvalid, ErrorCode(err))

	g = reviewGraph()
	g.Initial = "nowhere"
	_, err = Compile("def-1", g)
	require.Error(t, err)
	assert.Equal(t, ErrCodeDefinitionInvalid, ErrorCode(err))
}

func TestCompileRejectsUnknownTarget(t *testing.T) {
	g := reviewGraph()
	node := g.States["queued"]
	node.On["ASSIGN"] = Transition{Target: "missing"}
	g.States["queued"] = node

	_, err := Compile("def-1", g)
	require.Error(t, err)
	assert.Equal(t, ErrCodeDefinitionInvalid, ErrorCode(err))
	assert.Contains(t, err.Error(), "missing")
}

func TestCompileRejectsUndefinedGuard(t *testing.T) {
	g := reviewGraph()
	node := g.States["assigned"]
	node.On["SUBMIT"] = Transition{Target: "submitted", Guards: []string{"hasAnnotations"}}
	g.States["assigned"] = node

	_, err := Compile("def-1", g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "hasAnnotations")
}

func TestCompileRejectsUndefinedDelay(t *testing.T) {
	g := reviewGraph()
	node := g.States["assigned"]
	node.After = map[string]Transition{"TIMEOUT": {Target: "queued"}}
	g.States["assigned"] = node

	_, err := Compile("def-1", g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TIMEOUT")

	g.Delays = map[string]string{"TIMEOUT": "PT1H"}
	_, err = Compile("def-1", g)
	require.NoError(t, err)
}

func TestCompileRejectsBadEventlessTransitions(t *testing.T) {
	g := reviewGraph()
	node := g.States["assigned"]
	node.Always = []Transition{{Target: "assigned"}}
	g.States["assigned"] = node
	_, err := Compile("def-1", g)
	require.Error(t, err)
	assert.Equal(t, ErrCodeDefinitionInvalid, ErrorCode(err))

	node.Always = []Transition{{}}
	g.States["assigned"] = node
	_, err = Compile("def-1", g)
	require.Error(t, err)

	node.Always = []Transition{{Target: "missing"}}
	g.States["assigned"] = node
	_, err = Compile("def-1", g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestLintFlagsOrphanStates(t *testing.T) {
	g := Graph{
		Initial: "queued",
		States: map[string]StateNode{
			"queued":   {On: map[string]Transition{"ASSIGN": {Target: "assigned"}}},
			"assigned": {},
			"orphan":   {},
		},
	}
	m, err := Compile("def-1", g)
	require.NoError(t, err)

	warnings := m.Lint()
	require.Len(t, warnings, 1)
	assert.Equal(t, "orphan", warnings[0].State)
}

func TestLintCleanGraph(t *testing.T) {
	m, err := Compile("def-1", reviewGraph())
	require.NoError(t, err)
	assert.Empty(t, m.Lint())
}

func TestDOTContainsEdges(t *testing.T) {
	m, err := Compile("def-1", reviewGraph())
	require.NoError(t, err)

	dot := m.DOT()
	assert.Contains(t, dot, `"queued" -> "assigned"`)
	assert.Contains(t, dot, `"approved" [shape=doublecircle]`)
}

func TestGuardExpressions(t *testing.T) {
	cases := []struct {
		expr    string
		context map[string]any
		want    bool
	}{
		{"reviewed", map[string]any{"reviewed": true}, true},
		{"reviewed", map[string]any{"reviewed": false}, false},
		{"reviewed", map[string]any{}, false},
		{"priority == high", map[string]any{"priority": "high"}, true},
		{"priority != high", map[string]any{"priority": "low"}, true},
		{"score > 0.8", map[string]any{"score": 0.9}, true},
		{"score > 0.8", map[string]any{"score": 0.5}, false},
		{"attempts < 3", map[string]any{"attempts": float64(2)}, true},
		{"attempts == 2", map[string]any{"attempts": 2}, true},
	}
	for _, tc := range cases {
		ge, err := parseGuardExpr("g", tc.expr)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, ge.eval(tc.context), tc.expr)
	}
}

func TestGuardExpressionParseErrors(t *testing.T) {
	for _, expr := range []string{"", "score >", "score > high", "two words"} {
		_, err := parseGuardExpr("g", expr)
		assert.Error(t, err, expr)
	}
}
