package models

import (
	"time"

	"labelworks/orchestrator/internal/machine"
)

// InstanceStatus is the lifecycle status of a workflow instance.
// RUNNING moves to PAUSED, COMPLETED or STOPPED; PAUSED moves back to
// RUNNING or to STOPPED. COMPLETED, FAILED and STOPPED are terminal.
type InstanceStatus string

const (
	InstanceStatusRunning   InstanceStatus = "running"
	InstanceStatusPaused    InstanceStatus = "paused"
	InstanceStatusCompleted InstanceStatus = "completed"
	InstanceStatusFailed    InstanceStatus = "failed"
	InstanceStatusStopped   InstanceStatus = "stopped"
)

// ActorKind distinguishes root actors from hierarchical compositions.
type ActorKind string

const (
	ActorKindRoot    ActorKind = "root"
	ActorKindChild   ActorKind = "child"
	ActorKindInvoked ActorKind = "invoked"
)

// WorkflowInstance is a durable, resumable actor: a running instantiation
// of a compiled machine. Instances are never hard-deleted; stop is terminal.
type WorkflowInstance struct {
	ID               string           `json:"id"`
	WorkflowID       string           `json:"workflow_id"`
	BatchID          *string          `json:"batch_id,omitempty"`
	Name             string           `json:"name,omitempty"`
	Snapshot         machine.Snapshot `json:"snapshot"`
	ParentInstanceID *string          `json:"parent_instance_id,omitempty"`
	ActorKind        ActorKind        `json:"actor_kind"`
	Status           InstanceStatus   `json:"status"`
	CheckpointedAt   *time.Time       `json:"checkpointed_at,omitempty"`
	StartedAt        time.Time        `json:"started_at"`
	CompletedAt      *time.Time       `json:"completed_at,omitempty"`
	LastError        *string          `json:"last_error,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
}

// Terminal reports whether the instance accepts no further lifecycle
// operations.
func (s InstanceStatus) Terminal() bool {
	return s == InstanceStatusCompleted || s == InstanceStatusFailed || s == InstanceStatusStopped
}

// InstanceFilter narrows instance listings.
type InstanceFilter struct {
	WorkflowID string
	BatchID    string
	Status     InstanceStatus
	Limit      int
}
