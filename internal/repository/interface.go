package repository

import (
	"context"

	"labelworks/orchestrator/pkg/models"
)

// DefinitionStore persists versioned workflow definitions.
type DefinitionStore interface {
	// CreateDefinition persists a new definition row.
	CreateDefinition(ctx context.Context, def *models.WorkflowDefinition) error
	// GetDefinition retrieves a definition by id.
	GetDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	// ListDefinitions lists definitions, newest first. Empty filter values
	// are ignored.
	ListDefinitions(ctx context.Context, status, projectID string, limit int) ([]*models.WorkflowDefinition, error)
	// UpdateDefinition overwrites the mutable fields of an existing row.
	UpdateDefinition(ctx context.Context, def *models.WorkflowDefinition) error
	// DeleteDefinition removes a definition row.
	DeleteDefinition(ctx context.Context, id string) error
}

// InstanceStore persists workflow instances and their snapshots.
type InstanceStore interface {
	// CreateInstance persists a new instance row.
	CreateInstance(ctx context.Context, inst *models.WorkflowInstance) error
	// GetInstance retrieves an instance by id.
	GetInstance(ctx context.Context, id string) (*models.WorkflowInstance, error)
	// ListInstances lists instances, newest first.
	ListInstances(ctx context.Context, filter models.InstanceFilter) ([]*models.WorkflowInstance, error)
	// UpdateInstance overwrites the mutable fields of an instance row under
	// a per-instance advisory lock, so concurrent writers from any process
	// serialize at the store.
	UpdateInstance(ctx context.Context, inst *models.WorkflowInstance) error
	// ApplyInstanceTransition atomically updates an instance row and
	// appends its ledger row in one transaction under the per-instance
	// advisory lock, so an applied event is either fully durable or not at
	// all.
	ApplyInstanceTransition(ctx context.Context, inst *models.WorkflowInstance, tr *models.StateTransition) error
	// ListChildren returns instances whose parent is the given id, ordered
	// by start time.
	ListChildren(ctx context.Context, parentID string) ([]*models.WorkflowInstance, error)
	// CountLiveInstances counts running or paused instances of a workflow.
	CountLiveInstances(ctx context.Context, workflowID string) (int, error)
}

// TransitionStore is the append-only transition ledger.
type TransitionStore interface {
	// AppendTransition appends one ledger row. Rows are never mutated.
	AppendTransition(ctx context.Context, tr *models.StateTransition) error
	// GetTransition retrieves a ledger row by id.
	GetTransition(ctx context.Context, id string) (*models.StateTransition, error)
	// ListTransitions queries the ledger, newest first.
	ListTransitions(ctx context.Context, filter models.TransitionFilter) ([]*models.StateTransition, error)
}

// Store is the combined persistence surface of the service.
type Store interface {
	DefinitionStore
	InstanceStore
	TransitionStore
}
