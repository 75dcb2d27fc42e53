package machine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func guardedGraph() Graph {
	return Graph{
		Initial: "queued",
		States: map[string]StateNode{
			"queued": {
				Entry: []string{"markQueued"},
				On: map[string]Transition{
					"ASSIGN": {Target: "assigned", Actions: []string{"recordAssignee"}},
				},
			},
			"assigned": {
				Tags: []string{"active"},
				On: map[string]Transition{
					"SUBMIT":   {Target: "submitted", Guards: []string{"hasAnnotations"}},
					"ANNOTATE": {Actions: []string{"bumpAnnotations"}},
					"ESCALATE": {Target: "assigned"},
				},
				After: map[string]Transition{
					"STALE": {Target: "queued"},
				},
			},
			"submitted": {
				On: map[string]Transition{"APPROVE": {Target: "approved"}},
			},
			"approved": {Final: true},
		},
		Guards: map[string]string{
			"hasAnnotations": "annotations > 0",
		},
		Actions: map[string]string{
			"markQueued":      "assign:stage=intake",
			"recordAssignee":  "assign:assignee=@payload.assignee",
			"bumpAnnotations": "assign:annotations=1",
		},
		Delays: map[string]string{
			"STALE": "PT24H",
		},
	}
}

func TestNewActorRunsInitialEntry(t *testing.T) {
	m, err := Compile("def-1", guardedGraph())
	require.NoError(t, err)

	actor := NewActor(m, map[string]any{"batch": "b-1"})
	snap := actor.Snapshot()
	assert.Equal(t, "queued", snap.Value)
	assert.Equal(t, "intake", snap.Context["stage"])
	assert.Equal(t, "b-1", snap.Context["batch"])
	assert.False(t, snap.Done)
}

func TestSendExternalTransition(t *testing.T) {
	m, err := Compile("def-1", guardedGraph())
	require.NoError(t, err)
	actor := NewActor(m, nil)

	res, err := actor.Send(Event{Type: "ASSIGN", Payload: map[string]any{"assignee": "u-9"}, Origin: OriginUser})
	require.NoError(t, err)
	assert.Equal(t, "queued", res.From.Value)
	assert.Equal(t, "assigned", res.To.Value)
	assert.Equal(t, KindExternal, res.Kind)
	assert.True(t, res.Changed)
	assert.Equal(t, "u-9", res.To.Context["assignee"])
	assert.Equal(t, []string{"active"}, res.To.Tags)
	assert.Contains(t, res.Actions, "recordAssignee")
}

func TestSendInternalTransitionKeepsState(t *testing.T) {
	m, err := Compile("def-1", guardedGraph())
	require.NoError(t, err)
	actor := NewActor(m, nil)
	_, err = actor.Send(Event{Type: "ASSIGN"})
	require.NoError(t, err)

	res, err := actor.Send(Event{Type: "ANNOTATE"})
	require.NoError(t, err)
	assert.Equal(t, KindInternal, res.Kind)
	assert.False(t, res.Changed)
	assert.Equal(t, "assigned", res.To.Value)
	assert.Equal(t, float64(1), res.To.Context["annotations"])
}

func TestSelfTargetIsInternal(t *testing.T) {
	m, err := Compile("def-1", guardedGraph())
	require.NoError(t, err)
	actor := NewActor(m, nil)
	_, err = actor.Send(Event{Type: "ASSIGN"})
	require.NoError(t, err)

	res, err := actor.Send(Event{Type: "ESCALATE"})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, KindInternal, res.Kind)
}

func TestGuardRejectionLeavesSnapshotUntouched(t *testing.T) {
	m, err := Compile("def-1", guardedGraph())
	require.NoError(t, err)
	actor := NewActor(m, nil)
	_, err = actor.Send(Event{Type: "ASSIGN"})
	require.NoError(t, err)
	before := actor.Snapshot()

	_, err = actor.Send(Event{Type: "SUBMIT"})
	require.Error(t, err)
	assert.True(t, IsRejection(err))
	assert.Equal(t, before, actor.Snapshot())

	// Annotating satisfies the guard.
	_, err = actor.Send(Event{Type: "ANNOTATE"})
	require.NoError(t, err)
	res, err := actor.Send(Event{Type: "SUBMIT"})
	require.NoError(t, err)
	assert.Equal(t, "submitted", res.To.Value)
	assert.Equal(t, KindGuarded, res.Kind)
	require.Len(t, res.GuardResults, 1)
	assert.True(t, res.GuardResults[0].Passed)
}

func TestUndeclaredEventRejected(t *testing.T) {
	m, err := Compile("def-1", guardedGraph())
	require.NoError(t, err)
	actor := NewActor(m, nil)

	_, err = actor.Send(Event{Type: "APPROVE"})
	require.Error(t, err)
	assert.True(t, IsRejection(err))
}

func TestDelayedTransitionClassified(t *testing.T) {
	m, err := Compile("def-1", guardedGraph())
	require.NoError(t, err)
	actor := NewActor(m, nil)
	_, err = actor.Send(Event{Type: "ASSIGN"})
	require.NoError(t, err)

	res, err := actor.Send(Event{Type: "STALE", Origin: OriginTimer})
	require.NoError(t, err)
	assert.Equal(t, KindDelayed, res.Kind)
	assert.Equal(t, "queued", res.To.Value)
}

func TestFinalStateCompletesActor(t *testing.T) {
	m, err := Compile("def-1", guardedGraph())
	require.NoError(t, err)
	actor := NewActor(m, map[string]any{"annotations": 5})

	for _, ev := range []string{"ASSIGN", "SUBMIT", "APPROVE"} {
		_, err = actor.Send(Event{Type: ev})
		require.NoError(t, err)
	}
	assert.True(t, actor.Done())
	assert.Nil(t, actor.NextEvents())
	assert.False(t, actor.Can("ASSIGN"))

	_, err = actor.Send(Event{Type: "ASSIGN"})
	require.Error(t, err)
	assert.True(t, IsRejection(err))
}

func TestRehydrateRoundTrip(t *testing.T) {
	m, err := Compile("def-1", guardedGraph())
	require.NoError(t, err)
	actor := NewActor(m, nil)
	_, err = actor.Send(Event{Type: "ASSIGN"})
	require.NoError(t, err)
	snap := actor.Snapshot()

	revived, err := Rehydrate(m, snap)
	require.NoError(t, err)
	assert.Equal(t, snap, revived.Snapshot())
	assert.Equal(t, []string{"ANNOTATE", "ESCALATE", "STALE", "SUBMIT"}, revived.NextEvents())
	assert.True(t, revived.Can("SUBMIT"))
	assert.False(t, revived.Can("APPROVE"))
}

func TestRehydrateUnknownState(t *testing.T) {
	m, err := Compile("def-1", guardedGraph())
	require.NoError(t, err)

	_, err = Rehydrate(m, Snapshot{Value: "vanished"})
	require.Error(t, err)
	assert.Equal(t, ErrCodeMachineConstruction, ErrorCode(err))
}

func routingGraph() Graph {
	return Graph{
		Initial: "queued",
		States: map[string]StateNode{
			"queued": {
				On: map[string]Transition{"ROUTE": {Target: "triage"}},
			},
			"triage": {
				Always: []Transition{
					{Target: "expedited", Guards: []string{"urgent"}},
					{Target: "standard"},
				},
			},
			"expedited": {Final: true},
			"standard":  {Final: true},
		},
		Guards: map[string]string{
			"urgent": "priority > 5",
		},
	}
}

func TestAlwaysTransitionSettles(t *testing.T) {
	m, err := Compile("def-1", routingGraph())
	require.NoError(t, err)

	actor := NewActor(m, map[string]any{"priority": 9})
	res, err := actor.Send(Event{Type: "ROUTE"})
	require.NoError(t, err)
	assert.Equal(t, "expedited", res.To.Value)
	assert.Equal(t, KindAlways, res.Kind)
	assert.True(t, res.Changed)
	require.Len(t, res.GuardResults, 1)
	assert.True(t, res.GuardResults[0].Passed)
	assert.True(t, actor.Done())

	actor = NewActor(m, map[string]any{"priority": 1})
	res, err = actor.Send(Event{Type: "ROUTE"})
	require.NoError(t, err)
	assert.Equal(t, "standard", res.To.Value)
	assert.Equal(t, KindAlways, res.Kind)
	require.Len(t, res.GuardResults, 1)
	assert.False(t, res.GuardResults[0].Passed)
}

func TestAlwaysCycleDoesNotSettle(t *testing.T) {
	g := Graph{
		Initial: "start",
		States: map[string]StateNode{
			"start": {On: map[string]Transition{"GO": {Target: "ping"}}},
			"ping":  {Always: []Transition{{Target: "pong"}}},
			"pong":  {Always: []Transition{{Target: "ping"}}},
		},
	}
	m, err := Compile("def-1", g)
	require.NoError(t, err)

	actor := NewActor(m, nil)
	_, err = actor.Send(Event{Type: "GO"})
	require.Error(t, err)
	assert.Equal(t, ErrCodeMachineConstruction, ErrorCode(err))
}

func TestDeterministicReplay(t *testing.T) {
	m, err := Compile("def-1", guardedGraph())
	require.NoError(t, err)

	events := []Event{
		{Type: "ASSIGN", Payload: map[string]any{"assignee": "u-1"}},
		{Type: "ANNOTATE"},
		{Type: "SUBMIT"},
		{Type: "APPROVE"},
	}

	run := func() (Snapshot, []Result) {
		actor := NewActor(m, map[string]any{"batch": "b-7"})
		var results []Result
		for _, ev := range events {
			res, err := actor.Send(ev)
			require.NoError(t, err)
			results = append(results, res)
		}
		return actor.Snapshot(), results
	}

	snapA, resA := run()
	snapB, resB := run()
	assert.Equal(t, snapA, snapB)
	assert.Equal(t, resA, resB)
}
