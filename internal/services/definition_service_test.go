package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labelworks/orchestrator/internal/logging"
	"labelworks/orchestrator/internal/machine"
	"labelworks/orchestrator/pkg/models"
)

type testEnv struct {
	store       *memStore
	machines    *MachineCache
	definitions *DefinitionService
	instances   *InstanceService
	entities    *EntityService
	ledger      *LedgerService
}

func newTestEnv() *testEnv {
	store := newMemStore()
	machines := NewMachineCache(store, time.Hour)
	logger := logging.NewNopLogger()
	return &testEnv{
		store:       store,
		machines:    machines,
		definitions: NewDefinitionService(store, machines, logger),
		instances:   NewInstanceService(store, machines, time.Hour, logger),
		entities:    NewEntityService(store, machines, time.Hour, logger),
		ledger:      NewLedgerService(store),
	}
}

func reviewGraph() machine.Graph {
	return machine.Graph{
		Initial: "queued",
		States: map[string]machine.StateNode{
			"queued": {
				On: map[string]machine.Transition{"ASSIGN": {Target: "assigned"}},
			},
			"assigned": {
				On: map[string]machine.Transition{"SUBMIT": {Target: "submitted"}},
			},
			"submitted": {
				On: map[string]machine.Transition{
					"APPROVE": {Target: "approved"},
					"REJECT":  {Target: "assigned"},
				},
			},
			"approved": {Final: true},
		},
	}
}

func mustCreateDefinition(t *testing.T, env *testEnv, graph machine.Graph) *models.WorkflowDefinition {
	t.Helper()
	def, err := env.definitions.Create(context.Background(), &models.WorkflowDefinition{
		Name:  "task-review",
		Graph: graph,
	})
	require.NoError(t, err)
	return def
}

func TestCreateDefinition(t *testing.T) {
	env := newTestEnv()

	def := mustCreateDefinition(t, env, reviewGraph())
	assert.NotEmpty(t, def.ID)
	assert.Equal(t, 1, def.Version)
	assert.Equal(t, models.DefinitionStatusDraft, def.Status)
}

func TestCreateDefinitionRejectsInvalidGraph(t *testing.T) {
	env := newTestEnv()

	graph := reviewGraph()
	node := graph.States["queued"]
	node.On["ASSIGN"] = machine.Transition{Target: "nowhere"}
	graph.States["queued"] = node

	_, err := env.definitions.Create(context.Background(), &models.WorkflowDefinition{Name: "bad", Graph: graph})
	require.Error(t, err)
	assert.Equal(t, machine.ErrCodeDefinitionInvalid, ErrorCode(err))

	defs, err := env.definitions.List(context.Background(), "", "", 10)
	require.NoError(t, err)
	assert.Empty(t, defs, "invalid definition must not be persisted")
}

func TestUpdateDefinitionMetadataKeepsVersion(t *testing.T) {
	env := newTestEnv()
	def := mustCreateDefinition(t, env, reviewGraph())

	status := models.DefinitionStatusActive
	updated, err := env.definitions.Update(context.Background(), def.ID, models.DefinitionPatch{Status: &status})
	require.NoError(t, err)
	assert.Equal(t, 1, updated.Version)
	assert.Equal(t, models.DefinitionStatusActive, updated.Status)
}

func TestUpdateDefinitionGraphBumpsVersionAndInvalidates(t *testing.T) {
	env := newTestEnv()
	def := mustCreateDefinition(t, env, reviewGraph())

	// Warm the machine cache.
	m, err := env.machines.Compiled(context.Background(), def.ID)
	require.NoError(t, err)
	assert.NotContains(t, m.StateNames(), "escalated")

	graph := reviewGraph()
	graph.States["escalated"] = machine.StateNode{Final: true}
	node := graph.States["submitted"]
	node.On["ESCALATE"] = machine.Transition{Target: "escalated"}
	graph.States["submitted"] = node

	updated, err := env.definitions.Update(context.Background(), def.ID, models.DefinitionPatch{Graph: &graph})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	m, err = env.machines.Compiled(context.Background(), def.ID)
	require.NoError(t, err)
	assert.Contains(t, m.StateNames(), "escalated", "cache must recompile after graph update")
}

func TestUpdateDefinitionRejectsInvalidGraph(t *testing.T) {
	env := newTestEnv()
	def := mustCreateDefinition(t, env, reviewGraph())

	graph := reviewGraph()
	graph.Initial = "missing"
	_, err := env.definitions.Update(context.Background(), def.ID, models.DefinitionPatch{Graph: &graph})
	require.Error(t, err)
	assert.Equal(t, machine.ErrCodeDefinitionInvalid, ErrorCode(err))
}

func TestDeleteDefinitionBlockedByLiveInstance(t *testing.T) {
	env := newTestEnv()
	def := mustCreateDefinition(t, env, reviewGraph())

	_, err := env.instances.Create(context.Background(), CreateInstanceInput{WorkflowID: def.ID})
	require.NoError(t, err)

	err = env.definitions.Delete(context.Background(), def.ID)
	require.Error(t, err)
	assert.Equal(t, ErrCodeInvalidLifecycle, ErrorCode(err))

	_, err = env.definitions.Get(context.Background(), def.ID)
	assert.NoError(t, err)
}

func TestValidateReportsOrphanWarning(t *testing.T) {
	env := newTestEnv()
	graph := machine.Graph{
		Initial: "queued",
		States: map[string]machine.StateNode{
			"queued":   {On: map[string]machine.Transition{"ASSIGN": {Target: "assigned"}}},
			"assigned": {},
			"orphan":   {},
		},
	}
	def := mustCreateDefinition(t, env, graph)

	report, err := env.definitions.Validate(context.Background(), def.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "orphan", report.Warnings[0].State)
}

func TestSimulateIsDeterministicAndUnpersisted(t *testing.T) {
	env := newTestEnv()
	def := mustCreateDefinition(t, env, reviewGraph())

	events := []machine.Event{{Type: "ASSIGN"}, {Type: "SUBMIT"}, {Type: "APPROVE"}}

	first, err := env.definitions.Simulate(context.Background(), def.ID, map[string]any{"batch": "b-1"}, events)
	require.NoError(t, err)
	second, err := env.definitions.Simulate(context.Background(), def.ID, map[string]any{"batch": "b-1"}, events)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "approved", first.Final.Value)
	assert.True(t, first.Final.Done)
	assert.Len(t, first.Steps, 3)

	rows, err := env.ledger.Find(context.Background(), models.TransitionFilter{WorkflowID: def.ID})
	require.NoError(t, err)
	assert.Empty(t, rows, "simulation must not write to the ledger")
}

func TestSimulateRejectsBadScript(t *testing.T) {
	env := newTestEnv()
	def := mustCreateDefinition(t, env, reviewGraph())

	_, err := env.definitions.Simulate(context.Background(), def.ID, nil, []machine.Event{{Type: "APPROVE"}})
	require.Error(t, err)
	assert.Equal(t, machine.ErrCodeEventRejected, ErrorCode(err))
}

func TestVisualization(t *testing.T) {
	env := newTestEnv()
	def := mustCreateDefinition(t, env, reviewGraph())

	dot, err := env.definitions.Visualization(context.Background(), def.ID)
	require.NoError(t, err)
	assert.Contains(t, dot, `"queued" -> "assigned"`)
}

func TestGetDefinitionNotFound(t *testing.T) {
	env := newTestEnv()
	_, err := env.definitions.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, ErrCodeDefinitionNotFound, ErrorCode(err))
}
