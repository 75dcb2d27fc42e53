package models

import (
	"time"

	"labelworks/orchestrator/internal/machine"
)

// EntityTypeInstance is the ledger entity type used for instance-backed
// actors; ephemeral callers supply their own (e.g. "task").
const EntityTypeInstance = "workflow_instance"

// EventTypeRestore is the synthetic event type recorded when an ephemeral
// entity's cached state is overwritten from history, keeping the ledger
// consistent with the restored state.
const EventTypeRestore = "RESTORE"

// StateTransition is one append-only ledger row: a state change (or an
// internal transition) applied to an instance-backed or cache-backed
// entity. Rows are never mutated after creation.
type StateTransition struct {
	ID           string                `json:"id"`
	EntityType   string                `json:"entity_type"`
	EntityID     string                `json:"entity_id"`
	WorkflowID   string                `json:"workflow_id"`
	InstanceID   *string               `json:"instance_id,omitempty"`
	EventType    string                `json:"event_type"`
	EventPayload map[string]any        `json:"event_payload,omitempty"`
	EventOrigin  string                `json:"event_origin,omitempty"`
	From         machine.Snapshot      `json:"from"`
	To           machine.Snapshot      `json:"to"`
	Kind         machine.Kind          `json:"kind"`
	GuardResults []machine.GuardResult `json:"guard_results,omitempty"`
	Actions      []string              `json:"actions,omitempty"`
	TriggeredBy  string                `json:"triggered_by"`
	StateChanged bool                  `json:"state_changed"`
	DurationMS   *int64                `json:"duration_ms,omitempty"`
	Error        *string               `json:"error,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// TransitionFilter narrows ledger queries. Zero values are ignored.
type TransitionFilter struct {
	EntityType string
	EntityID   string
	WorkflowID string
	EventType  string
	FromDate   time.Time
	Limit      int
}

// TransitionPair is a (from state, to state) aggregation key.
type TransitionPair struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Count int    `json:"count"`
}

// EventFrequency ranks event types by occurrence.
type EventFrequency struct {
	EventType string `json:"event_type"`
	Count     int    `json:"count"`
}

// WorkflowAnalytics aggregates ledger rows over a trailing window.
type WorkflowAnalytics struct {
	WorkflowID     string           `json:"workflow_id"`
	Period         string           `json:"period"`
	TotalCount     int              `json:"total_count"`
	Transitions    []TransitionPair `json:"transitions"`
	EventFrequency []EventFrequency `json:"event_frequency"`
	ErrorCount     int              `json:"error_count"`
	MeanDurationMS *float64         `json:"mean_duration_ms,omitempty"`
}

// EntityState is the introspection view of an ephemeral entity's current
// state: the snapshot plus which events are legally sendable from it.
type EntityState struct {
	EntityType    string           `json:"entity_type"`
	EntityID      string           `json:"entity_id"`
	WorkflowID    string           `json:"workflow_id"`
	Snapshot      machine.Snapshot `json:"snapshot"`
	NextEvents    []string         `json:"next_events"`
	CanTransition bool             `json:"can_transition"`
}

// BatchEventItem is one entry of a batch event application.
type BatchEventItem struct {
	EntityType string        `json:"entity_type"`
	EntityID   string        `json:"entity_id"`
	WorkflowID string        `json:"workflow_id"`
	Event      machine.Event `json:"event"`
}

// BatchEventResult reports one item's outcome; failures are isolated per
// item.
type BatchEventResult struct {
	EntityType string           `json:"entity_type"`
	EntityID   string           `json:"entity_id"`
	Success    bool             `json:"success"`
	Error      string           `json:"error,omitempty"`
	Transition *StateTransition `json:"transition,omitempty"`
}
