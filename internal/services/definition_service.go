package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"labelworks/orchestrator/internal/logging"
	"labelworks/orchestrator/internal/machine"
	"labelworks/orchestrator/internal/repository"
	"labelworks/orchestrator/pkg/models"
)

// DefinitionService authors, validates, and simulates workflow definitions.
type DefinitionService struct {
	store    repository.Store
	machines *MachineCache
	logger   *logging.Logger
}

// NewDefinitionService creates a DefinitionService.
func NewDefinitionService(store repository.Store, machines *MachineCache, logger *logging.Logger) *DefinitionService {
	return &DefinitionService{store: store, machines: machines, logger: logger}
}

// Create validates the graph and persists the definition at version 1.
// A graph that fails machine construction is rejected before persistence.
func (s *DefinitionService) Create(ctx context.Context, def *models.WorkflowDefinition) (*models.WorkflowDefinition, error) {
	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	if _, err := machine.Compile(def.ID, def.Graph); err != nil {
		return nil, err
	}
	if def.Status == "" {
		def.Status = models.DefinitionStatusDraft
	}
	def.Version = 1
	now := time.Now().UTC()
	def.CreatedAt = now
	def.UpdatedAt = now

	if err := s.store.CreateDefinition(ctx, def); err != nil {
		return nil, err
	}
	s.logger.Info("definition created", "id", def.ID, "name", def.Name)
	return def, nil
}

// Get returns a definition by id.
func (s *DefinitionService) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrDefinitionNotFound, id)
	}
	return def, nil
}

// List lists definitions, newest first.
func (s *DefinitionService) List(ctx context.Context, status, projectID string, limit int) ([]*models.WorkflowDefinition, error) {
	return s.store.ListDefinitions(ctx, status, projectID, limit)
}

// Update applies a partial update. A graph change is re-validated and bumps
// the version; metadata-only patches do not.
func (s *DefinitionService) Update(ctx context.Context, id string, patch models.DefinitionPatch) (*models.WorkflowDefinition, error) {
	def, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		def.Name = *patch.Name
	}
	if patch.Description != nil {
		def.Description = *patch.Description
	}
	if patch.Status != nil {
		def.Status = *patch.Status
	}
	if patch.IsTemplate != nil {
		def.IsTemplate = *patch.IsTemplate
	}
	if patch.Graph != nil && graphChanged(def.Graph, *patch.Graph) {
		if _, err := machine.Compile(def.ID, *patch.Graph); err != nil {
			return nil, err
		}
		def.Graph = *patch.Graph
		def.Version++
	}
	def.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateDefinition(ctx, def); err != nil {
		return nil, notFound(err, ErrDefinitionNotFound, id)
	}
	s.machines.Invalidate(id)
	s.logger.Info("definition updated", "id", id, "version", def.Version)
	return def, nil
}

// Delete removes a definition. Definitions referenced by a live (running or
// paused) instance are never deleted.
func (s *DefinitionService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	live, err := s.store.CountLiveInstances(ctx, id)
	if err != nil {
		return err
	}
	if live > 0 {
		return cloneErr(ErrInvalidLifecycle,
			fmt.Sprintf("definition %s is referenced by %d live instance(s)", id, live),
			map[string]any{"id": id, "live_instances": live})
	}
	if err := s.store.DeleteDefinition(ctx, id); err != nil {
		return notFound(err, ErrDefinitionNotFound, id)
	}
	s.machines.Invalidate(id)
	s.logger.Info("definition deleted", "id", id)
	return nil
}

// Validate re-runs structural validation. Compilation failures come back as
// errors in the report; likely-unreachable states come back as warnings.
// The warning pass is heuristic, not exhaustive reachability analysis.
func (s *DefinitionService) Validate(ctx context.Context, id string) (*models.ValidationReport, error) {
	def, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m, err := machine.Compile(def.ID, def.Graph)
	if err != nil {
		return &models.ValidationReport{Valid: false, Errors: []string{err.Error()}}, nil
	}
	return &models.ValidationReport{Valid: true, Warnings: m.Lint()}, nil
}

// Simulate runs a disposable, non-persisted actor through the scripted
// events and returns the final snapshot plus the per-step transition list.
// Nothing is written to the ledger.
func (s *DefinitionService) Simulate(ctx context.Context, id string, initialContext map[string]any, events []machine.Event) (*models.SimulationResult, error) {
	m, err := s.machines.Compiled(ctx, id)
	if err != nil {
		return nil, err
	}
	actor := machine.NewActor(m, initialContext)
	steps := make([]models.SimulationStep, 0, len(events))
	for i, ev := range events {
		if !actor.Can(ev.Type) {
			return nil, cloneErr(machine.ErrEventRejected,
				fmt.Sprintf("simulation rejected at step %d: state %q does not declare event %q", i, actor.Snapshot().Value, ev.Type),
				map[string]any{"step": i, "event": ev.Type})
		}
		res, err := actor.Send(ev)
		if err != nil {
			return nil, cloneErr(machine.ErrEventRejected,
				fmt.Sprintf("simulation rejected at step %d: %v", i, err),
				map[string]any{"step": i, "event": ev.Type})
		}
		steps = append(steps, models.SimulationStep{Event: ev, Result: res})
	}
	return &models.SimulationResult{Final: actor.Snapshot(), Steps: steps}, nil
}

// Visualization renders the definition's graph as a Graphviz digraph.
func (s *DefinitionService) Visualization(ctx context.Context, id string) (string, error) {
	m, err := s.machines.Compiled(ctx, id)
	if err != nil {
		return "", err
	}
	return m.DOT(), nil
}

// graphChanged compares serialized forms; map ordering is irrelevant to
// json.Marshal's deterministic key sort.
func graphChanged(a, b machine.Graph) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return true
	}
	return string(ab) != string(bb)
}
