// Package models defines the domain models for the workflow orchestration
// service.
package models

import (
	"time"

	"labelworks/orchestrator/internal/machine"
)

// DefinitionStatus is the lifecycle status of a workflow definition.
type DefinitionStatus string

const (
	DefinitionStatusDraft      DefinitionStatus = "draft"
	DefinitionStatusActive     DefinitionStatus = "active"
	DefinitionStatusInactive   DefinitionStatus = "inactive"
	DefinitionStatusDeprecated DefinitionStatus = "deprecated"
)

// WorkflowDefinition is a versioned, declarative description of a state
// machine. The graph must compile; Version increments whenever the graph
// changes.
type WorkflowDefinition struct {
	ID                 string           `json:"id"`
	ProjectID          *string          `json:"project_id,omitempty"`
	Name               string           `json:"name"`
	Description        string           `json:"description,omitempty"`
	Version            int              `json:"version"`
	Status             DefinitionStatus `json:"status"`
	Graph              machine.Graph    `json:"graph"`
	IsTemplate         bool             `json:"is_template"`
	ParentDefinitionID *string          `json:"parent_definition_id,omitempty"`
	CreatedBy          string           `json:"created_by,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// DefinitionPatch is a partial update to a definition. Nil fields are left
// unchanged. A non-nil Graph triggers re-validation and a version bump.
type DefinitionPatch struct {
	Name        *string           `json:"name,omitempty"`
	Description *string           `json:"description,omitempty"`
	Status      *DefinitionStatus `json:"status,omitempty"`
	Graph       *machine.Graph    `json:"graph,omitempty"`
	IsTemplate  *bool             `json:"is_template,omitempty"`
}

// ValidationReport is the result of structural validation of a definition.
type ValidationReport struct {
	Valid    bool              `json:"valid"`
	Errors   []string          `json:"errors,omitempty"`
	Warnings []machine.Warning `json:"warnings,omitempty"`
}

// SimulationStep is one applied event in a dry run.
type SimulationStep struct {
	Event  machine.Event  `json:"event"`
	Result machine.Result `json:"result"`
}

// SimulationResult is the outcome of running a disposable actor through a
// scripted event list. Nothing is persisted.
type SimulationResult struct {
	Final machine.Snapshot `json:"final"`
	Steps []SimulationStep `json:"steps"`
}
