package services

import (
	"context"
	"sort"
	"sync"

	"github.com/jackc/pgx/v5"

	"labelworks/orchestrator/pkg/models"
)

// memStore is an in-memory repository.Store for service tests. It mirrors
// the Postgres store's miss behavior by returning pgx.ErrNoRows.
type memStore struct {
	mu          sync.Mutex
	definitions map[string]*models.WorkflowDefinition
	instances   map[string]*models.WorkflowInstance
	transitions []*models.StateTransition
}

func newMemStore() *memStore {
	return &memStore{
		definitions: make(map[string]*models.WorkflowDefinition),
		instances:   make(map[string]*models.WorkflowInstance),
	}
}

func (m *memStore) CreateDefinition(_ context.Context, def *models.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *def
	m.definitions[def.ID] = &copied
	return nil
}

func (m *memStore) GetDefinition(_ context.Context, id string) (*models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	def, ok := m.definitions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *def
	return &copied, nil
}

func (m *memStore) ListDefinitions(_ context.Context, status, projectID string, limit int) ([]*models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WorkflowDefinition
	for _, def := range m.definitions {
		if status != "" && string(def.Status) != status {
			continue
		}
		if projectID != "" && (def.ProjectID == nil || *def.ProjectID != projectID) {
			continue
		}
		copied := *def
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateDefinition(_ context.Context, def *models.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.definitions[def.ID]; !ok {
		return pgx.ErrNoRows
	}
	copied := *def
	m.definitions[def.ID] = &copied
	return nil
}

func (m *memStore) DeleteDefinition(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.definitions[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(m.definitions, id)
	return nil
}

func (m *memStore) CreateInstance(_ context.Context, inst *models.WorkflowInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *inst
	m.instances[inst.ID] = &copied
	return nil
}

func (m *memStore) GetInstance(_ context.Context, id string) (*models.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *inst
	return &copied, nil
}

func (m *memStore) ListInstances(_ context.Context, filter models.InstanceFilter) ([]*models.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WorkflowInstance
	for _, inst := range m.instances {
		if filter.WorkflowID != "" && inst.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.BatchID != "" && (inst.BatchID == nil || *inst.BatchID != filter.BatchID) {
			continue
		}
		if filter.Status != "" && inst.Status != filter.Status {
			continue
		}
		copied := *inst
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) UpdateInstance(_ context.Context, inst *models.WorkflowInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.instances[inst.ID]; !ok {
		return pgx.ErrNoRows
	}
	copied := *inst
	m.instances[inst.ID] = &copied
	return nil
}

func (m *memStore) ApplyInstanceTransition(ctx context.Context, inst *models.WorkflowInstance, tr *models.StateTransition) error {
	if err := m.UpdateInstance(ctx, inst); err != nil {
		return err
	}
	return m.AppendTransition(ctx, tr)
}

func (m *memStore) ListChildren(_ context.Context, parentID string) ([]*models.WorkflowInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WorkflowInstance
	for _, inst := range m.instances {
		if inst.ParentInstanceID != nil && *inst.ParentInstanceID == parentID {
			copied := *inst
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (m *memStore) CountLiveInstances(_ context.Context, workflowID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, inst := range m.instances {
		if inst.WorkflowID == workflowID &&
			(inst.Status == models.InstanceStatusRunning || inst.Status == models.InstanceStatusPaused) {
			count++
		}
	}
	return count, nil
}

func (m *memStore) AppendTransition(_ context.Context, tr *models.StateTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *tr
	m.transitions = append(m.transitions, &copied)
	return nil
}

func (m *memStore) GetTransition(_ context.Context, id string) (*models.StateTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tr := range m.transitions {
		if tr.ID == id {
			copied := *tr
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (m *memStore) ListTransitions(_ context.Context, filter models.TransitionFilter) ([]*models.StateTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.StateTransition
	for _, tr := range m.transitions {
		if filter.EntityType != "" && tr.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != "" && tr.EntityID != filter.EntityID {
			continue
		}
		if filter.WorkflowID != "" && tr.WorkflowID != filter.WorkflowID {
			continue
		}
		if filter.EventType != "" && tr.EventType != filter.EventType {
			continue
		}
		if !filter.FromDate.IsZero() && tr.CreatedAt.Before(filter.FromDate) {
			continue
		}
		copied := *tr
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
