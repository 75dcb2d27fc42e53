package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"labelworks/orchestrator/internal/cache"
	"labelworks/orchestrator/internal/logging"
	"labelworks/orchestrator/internal/machine"
	"labelworks/orchestrator/internal/repository"
	"labelworks/orchestrator/pkg/models"
)

// EntityService drives entities that have no dedicated instance record
// (e.g. tasks owned by other services). Their current state lives only in
// the expiring cache; the transition ledger is the sole durable history.
// Cache expiry under low traffic is a hard failure for current-state reads,
// not a recoverable miss; callers must treat the TTL as a liveness window.
type EntityService struct {
	store    repository.TransitionStore
	machines *MachineCache
	states   *cache.Cache
	logger   *logging.Logger
	applied  counter
	rejected counter
}

// NewEntityService creates an EntityService with the given state TTL.
func NewEntityService(store repository.TransitionStore, machines *MachineCache, stateTTL time.Duration, logger *logging.Logger) *EntityService {
	if stateTTL <= 0 {
		stateTTL = 30 * time.Minute
	}
	return &EntityService{
		store:    store,
		machines: machines,
		states:   cache.New(stateTTL),
		logger:   logger,
		applied:  newCounter("workflow.entity.events_applied", "Events applied to ephemeral entities"),
		rejected: newCounter("workflow.entity.events_rejected", "Events rejected for ephemeral entities"),
	}
}

func stateKey(entityType, entityID string) string {
	return entityType + ":" + entityID
}

// InitState seeds an entity's cached state with a fresh actor at the
// workflow's initial state, and records the birth in the ledger so history
// starts at a known point.
func (s *EntityService) InitState(ctx context.Context, entityType, entityID, workflowID string, initialContext map[string]any, userID string) (*models.EntityState, error) {
	m, err := s.machines.Compiled(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	actor := machine.NewActor(m, initialContext)
	snap := actor.Snapshot()

	tr := &models.StateTransition{
		ID:           uuid.New().String(),
		EntityType:   entityType,
		EntityID:     entityID,
		WorkflowID:   workflowID,
		EventType:    "INIT",
		EventOrigin:  machine.OriginService,
		From:         machine.Snapshot{},
		To:           snap,
		Kind:         machine.KindExternal,
		TriggeredBy:  triggeredBy(userID, machine.OriginService),
		StateChanged: true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.AppendTransition(ctx, tr); err != nil {
		return nil, err
	}
	s.states.Set(stateKey(entityType, entityID), snap)

	s.logger.Info("entity state initialized", "entity_type", entityType, "entity_id", entityID,
		"workflow_id", workflowID, "state", snap.Value)
	return s.entityState(entityType, entityID, workflowID, m, snap), nil
}

// SendEvent applies one event to a cache-backed entity. The cached state is
// the only source of current truth: a miss fails with StateNotFound rather
// than falling back to ledger reconstruction. An accepted event writes
// exactly one ledger row and rewrites the cache entry under a refreshed
// expiry; a rejected event persists nothing.
func (s *EntityService) SendEvent(ctx context.Context, entityType, entityID, workflowID string, event machine.Event, userID string) (*models.StateTransition, error) {
	key := stateKey(entityType, entityID)
	cached, ok := s.states.Get(key)
	if !ok {
		return nil, cloneErr(ErrStateNotFound,
			fmt.Sprintf("no cached state for %s %s", entityType, entityID),
			map[string]any{"entity_type": entityType, "entity_id": entityID})
	}
	snap := cached.(machine.Snapshot)

	m, err := s.machines.Compiled(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	actor, err := machine.Rehydrate(m, snap)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := actor.Send(normalizeEvent(event))
	if err != nil {
		s.rejected.Add(ctx, 1, attribute.String("path", "entity"))
		return nil, err
	}
	duration := time.Since(started).Milliseconds()

	tr := &models.StateTransition{
		ID:           uuid.New().String(),
		EntityType:   entityType,
		EntityID:     entityID,
		WorkflowID:   workflowID,
		EventType:    result.Event.Type,
		EventPayload: result.Event.Payload,
		EventOrigin:  result.Event.Origin,
		From:         result.From,
		To:           result.To,
		Kind:         result.Kind,
		GuardResults: result.GuardResults,
		Actions:      result.Actions,
		TriggeredBy:  triggeredBy(userID, result.Event.Origin),
		StateChanged: result.Changed,
		DurationMS:   &duration,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.AppendTransition(ctx, tr); err != nil {
		return nil, err
	}
	s.states.Set(key, result.To)
	s.applied.Add(ctx, 1, attribute.String("path", "entity"))

	s.logger.Info("entity event applied", "entity_type", entityType, "entity_id", entityID,
		"event", event.Type, "from", result.From.Value, "to", result.To.Value)
	return tr, nil
}

// CurrentState reads the cached state and introspects which events are
// legally sendable from it.
func (s *EntityService) CurrentState(ctx context.Context, entityType, entityID, workflowID string) (*models.EntityState, error) {
	cached, ok := s.states.Get(stateKey(entityType, entityID))
	if !ok {
		return nil, cloneErr(ErrStateNotFound,
			fmt.Sprintf("no cached state for %s %s", entityType, entityID),
			map[string]any{"entity_type": entityType, "entity_id": entityID})
	}
	snap := cached.(machine.Snapshot)

	m, err := s.machines.Compiled(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return s.entityState(entityType, entityID, workflowID, m, snap), nil
}

// StateHistory reads the ledger newest-first. This stays available after a
// cache expiry wipes current state.
func (s *EntityService) StateHistory(ctx context.Context, entityType, entityID string, limit int) ([]*models.StateTransition, error) {
	return s.store.ListTransitions(ctx, models.TransitionFilter{
		EntityType: entityType,
		EntityID:   entityID,
		Limit:      limit,
	})
}

// RestoreState overwrites the cached state with a historical transition's
// from-state. The restore itself is recorded as a synthetic RESTORE ledger
// row (from = current cached state, falling back to the newest ledger row's
// to-state when the cache entry has expired; to = restored state) so that
// replaying history stays consistent with the cache.
func (s *EntityService) RestoreState(ctx context.Context, entityType, entityID, transitionID, reason string) (*models.EntityState, error) {
	tr, err := s.store.GetTransition(ctx, transitionID)
	if err != nil {
		return nil, notFound(err, ErrTransitionNotFound, transitionID)
	}
	if tr.EntityType != entityType || tr.EntityID != entityID {
		return nil, cloneErr(ErrTransitionNotFound,
			fmt.Sprintf("transition %s does not belong to %s %s", transitionID, entityType, entityID),
			map[string]any{"transition_id": transitionID})
	}

	key := stateKey(entityType, entityID)
	var current machine.Snapshot
	if cached, ok := s.states.Get(key); ok {
		current = cached.(machine.Snapshot)
	} else {
		// Cache expired: the newest ledger row's to-state is the last state
		// that was ever observable, so the synthetic row chains from it.
		recent, err := s.store.ListTransitions(ctx, models.TransitionFilter{
			EntityType: entityType,
			EntityID:   entityID,
			Limit:      1,
		})
		if err != nil {
			return nil, err
		}
		if len(recent) > 0 {
			current = recent[0].To
		}
	}
	restored := tr.From

	record := &models.StateTransition{
		ID:           uuid.New().String(),
		EntityType:   entityType,
		EntityID:     entityID,
		WorkflowID:   tr.WorkflowID,
		EventType:    models.EventTypeRestore,
		EventPayload: map[string]any{"restored_from": transitionID, "reason": reason},
		EventOrigin:  machine.OriginSystem,
		From:         current,
		To:           restored,
		Kind:         machine.KindExternal,
		TriggeredBy:  machine.OriginUser,
		StateChanged: current.Value != restored.Value,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.AppendTransition(ctx, record); err != nil {
		return nil, err
	}
	s.states.Set(key, restored)

	m, err := s.machines.Compiled(ctx, tr.WorkflowID)
	if err != nil {
		return nil, err
	}
	s.logger.Warn("entity state restored", "entity_type", entityType, "entity_id", entityID,
		"transition_id", transitionID, "state", restored.Value)
	return s.entityState(entityType, entityID, tr.WorkflowID, m, restored), nil
}

// SendBatch applies each item independently: one entity's rejection does
// not block or roll back any other entity's transition.
func (s *EntityService) SendBatch(ctx context.Context, items []models.BatchEventItem, userID string) []models.BatchEventResult {
	results := make([]models.BatchEventResult, 0, len(items))
	for _, item := range items {
		tr, err := s.SendEvent(ctx, item.EntityType, item.EntityID, item.WorkflowID, item.Event, userID)
		if err != nil {
			results = append(results, models.BatchEventResult{
				EntityType: item.EntityType,
				EntityID:   item.EntityID,
				Success:    false,
				Error:      err.Error(),
			})
			continue
		}
		results = append(results, models.BatchEventResult{
			EntityType: item.EntityType,
			EntityID:   item.EntityID,
			Success:    true,
			Transition: tr,
		})
	}
	return results
}

func (s *EntityService) entityState(entityType, entityID, workflowID string, m *machine.Machine, snap machine.Snapshot) *models.EntityState {
	var next []string
	if !snap.Done {
		next = m.EventsFrom(snap.Value)
	}
	return &models.EntityState{
		EntityType:    entityType,
		EntityID:      entityID,
		WorkflowID:    workflowID,
		Snapshot:      snap,
		NextEvents:    next,
		CanTransition: len(next) > 0,
	}
}

func triggeredBy(userID, origin string) string {
	if userID != "" {
		return machine.OriginUser
	}
	if origin == "" {
		return machine.OriginSystem
	}
	return origin
}
