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

// InstanceService is the actor runtime: it creates, advances, pauses,
// resumes, stops, and snapshots long-lived state-machine instances. Live
// actors are held in a process-local registry; any miss (including after a
// process restart) is served by rehydrating from the durable snapshot, so
// no live actor is ever required to survive a process boundary.
type InstanceService struct {
	store     repository.Store
	machines  *MachineCache
	snapshots *cache.Cache
	registry  *actorRegistry
	logger    *logging.Logger
	applied   counter
	rejected  counter
}

// NewInstanceService creates an InstanceService. snapshotTTL bounds the
// fast-read snapshot cache; the durable row remains authoritative.
func NewInstanceService(store repository.Store, machines *MachineCache, snapshotTTL time.Duration, logger *logging.Logger) *InstanceService {
	if snapshotTTL <= 0 {
		snapshotTTL = 30 * time.Minute
	}
	return &InstanceService{
		store:     store,
		machines:  machines,
		snapshots: cache.New(snapshotTTL),
		registry:  newActorRegistry(),
		logger:    logger,
		applied:   newCounter("workflow.instance.events_applied", "Events applied to workflow instances"),
		rejected:  newCounter("workflow.instance.events_rejected", "Events rejected by workflow instances"),
	}
}

// CreateInstanceInput carries the instantiation request.
type CreateInstanceInput struct {
	WorkflowID       string         `json:"workflow_id"`
	BatchID          *string        `json:"batch_id,omitempty"`
	Name             string         `json:"name,omitempty"`
	ParentInstanceID *string        `json:"parent_instance_id,omitempty"`
	InitialContext   map[string]any `json:"initial_context,omitempty"`
}

// Create compiles the machine, starts a fresh actor, persists the instance
// in RUNNING, and registers the live actor.
func (s *InstanceService) Create(ctx context.Context, in CreateInstanceInput) (*models.WorkflowInstance, error) {
	m, err := s.machines.Compiled(ctx, in.WorkflowID)
	if err != nil {
		return nil, err
	}
	if in.ParentInstanceID != nil {
		if _, err := s.Get(ctx, *in.ParentInstanceID); err != nil {
			return nil, err
		}
	}

	actor := machine.NewActor(m, in.InitialContext)
	kind := models.ActorKindRoot
	if in.ParentInstanceID != nil {
		kind = models.ActorKindChild
	}
	inst := &models.WorkflowInstance{
		ID:               uuid.New().String(),
		WorkflowID:       in.WorkflowID,
		BatchID:          in.BatchID,
		Name:             in.Name,
		Snapshot:         actor.Snapshot(),
		ParentInstanceID: in.ParentInstanceID,
		ActorKind:        kind,
		Status:           models.InstanceStatusRunning,
		StartedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateInstance(ctx, inst); err != nil {
		return nil, err
	}

	entry := s.registry.acquire(inst.ID)
	entry.actor = actor
	entry.release()
	s.snapshots.Set(inst.ID, inst.Snapshot)

	s.logger.Info("instance created", "id", inst.ID, "workflow_id", in.WorkflowID, "state", inst.Snapshot.Value)
	return inst, nil
}

// Get returns an instance by id.
func (s *InstanceService) Get(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrInstanceNotFound, id)
	}
	return inst, nil
}

// List lists instances matching the filter.
func (s *InstanceService) List(ctx context.Context, filter models.InstanceFilter) ([]*models.WorkflowInstance, error) {
	return s.store.ListInstances(ctx, filter)
}

// SendEvent applies an event to the instance's actor, rehydrating from the
// durable snapshot when no live actor is registered. The snapshot update
// and ledger row are committed atomically; reaching a final state completes
// the instance and evicts the actor.
func (s *InstanceService) SendEvent(ctx context.Context, id string, event machine.Event) (*models.StateTransition, error) {
	entry := s.registry.acquire(id)
	defer entry.release()

	inst, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status != models.InstanceStatusRunning {
		return nil, cloneErr(ErrInvalidLifecycle,
			fmt.Sprintf("instance %s is %s, not running", id, inst.Status),
			map[string]any{"id": id, "status": inst.Status})
	}

	m, err := s.machines.Compiled(ctx, inst.WorkflowID)
	if err != nil {
		return nil, err
	}
	actor := entry.actor
	if actor == nil {
		actor, err = machine.Rehydrate(m, inst.Snapshot)
		if err != nil {
			return nil, err
		}
	}

	started := time.Now()
	result, err := actor.Send(normalizeEvent(event))
	if err != nil {
		s.rejected.Add(ctx, 1, attribute.String("path", "instance"))
		return nil, err
	}
	duration := time.Since(started).Milliseconds()

	inst.Snapshot = result.To
	if actor.Done() {
		now := time.Now().UTC()
		inst.Status = models.InstanceStatusCompleted
		inst.CompletedAt = &now
	}

	tr := s.transitionRow(inst, result, duration)
	if err := s.store.ApplyInstanceTransition(ctx, inst, tr); err != nil {
		// The live actor already advanced; discard it so the next send
		// rehydrates from the durable snapshot instead of diverging.
		entry.evict()
		return nil, notFound(err, ErrInstanceNotFound, id)
	}

	if actor.Done() {
		entry.evict()
	} else {
		entry.actor = actor
	}
	s.snapshots.Set(id, inst.Snapshot)
	s.applied.Add(ctx, 1, attribute.String("path", "instance"))

	s.logger.Info("instance event applied", "id", id, "event", event.Type,
		"from", result.From.Value, "to", result.To.Value, "completed", actor.Done())
	return tr, nil
}

// Pause checkpoints a running instance, stops its live actor, and sets
// status PAUSED. Only valid from RUNNING.
func (s *InstanceService) Pause(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	entry := s.registry.acquire(id)
	defer entry.release()

	inst, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status != models.InstanceStatusRunning {
		return nil, cloneErr(ErrInvalidLifecycle,
			fmt.Sprintf("cannot pause instance %s from status %s", id, inst.Status),
			map[string]any{"id": id, "status": inst.Status})
	}

	if entry.actor != nil {
		inst.Snapshot = entry.actor.Snapshot()
	}
	entry.evict()

	now := time.Now().UTC()
	inst.Status = models.InstanceStatusPaused
	inst.CheckpointedAt = &now
	if err := s.store.UpdateInstance(ctx, inst); err != nil {
		return nil, notFound(err, ErrInstanceNotFound, id)
	}
	s.snapshots.Set(id, inst.Snapshot)
	s.logger.Info("instance paused", "id", id, "state", inst.Snapshot.Value)
	return inst, nil
}

// Resume rehydrates a paused instance's actor from its snapshot and sets
// status RUNNING. Only valid from PAUSED.
func (s *InstanceService) Resume(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	entry := s.registry.acquire(id)
	defer entry.release()

	inst, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status != models.InstanceStatusPaused {
		return nil, cloneErr(ErrInvalidLifecycle,
			fmt.Sprintf("cannot resume instance %s from status %s", id, inst.Status),
			map[string]any{"id": id, "status": inst.Status})
	}

	m, err := s.machines.Compiled(ctx, inst.WorkflowID)
	if err != nil {
		return nil, err
	}
	actor, err := machine.Rehydrate(m, inst.Snapshot)
	if err != nil {
		return nil, err
	}

	inst.Status = models.InstanceStatusRunning
	if err := s.store.UpdateInstance(ctx, inst); err != nil {
		return nil, notFound(err, ErrInstanceNotFound, id)
	}
	entry.actor = actor
	s.logger.Info("instance resumed", "id", id, "state", inst.Snapshot.Value)
	return inst, nil
}

// Stop discards the live actor and sets status STOPPED. Stop is terminal:
// an instance that already reached a terminal status cannot be stopped
// again.
func (s *InstanceService) Stop(ctx context.Context, id, reason string, force bool) (*models.WorkflowInstance, error) {
	entry := s.registry.acquire(id)
	defer entry.release()

	inst, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status.Terminal() {
		return nil, cloneErr(ErrInvalidLifecycle,
			fmt.Sprintf("cannot stop instance %s from terminal status %s", id, inst.Status),
			map[string]any{"id": id, "status": inst.Status})
	}
	entry.evict()

	now := time.Now().UTC()
	inst.Status = models.InstanceStatusStopped
	inst.CompletedAt = &now
	if inst.Metadata == nil {
		inst.Metadata = map[string]any{}
	}
	inst.Metadata["stop_reason"] = reason
	inst.Metadata["stop_forced"] = force
	if err := s.store.UpdateInstance(ctx, inst); err != nil {
		return nil, notFound(err, ErrInstanceNotFound, id)
	}
	s.snapshots.Delete(id)
	s.logger.Info("instance stopped", "id", id, "reason", reason, "force", force)
	return inst, nil
}

// Restore force-overwrites the instance's actor state with an externally
// supplied snapshot and sets status RUNNING. This bypasses event-driven
// transition; it is an operator escape hatch, not part of the guarded
// lifecycle contract.
func (s *InstanceService) Restore(ctx context.Context, id string, snapshot machine.Snapshot) (*models.WorkflowInstance, error) {
	entry := s.registry.acquire(id)
	defer entry.release()

	inst, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m, err := s.machines.Compiled(ctx, inst.WorkflowID)
	if err != nil {
		return nil, err
	}
	actor, err := machine.Rehydrate(m, snapshot)
	if err != nil {
		return nil, err
	}

	inst.Snapshot = actor.Snapshot()
	inst.Status = models.InstanceStatusRunning
	inst.CompletedAt = nil
	inst.LastError = nil
	if err := s.store.UpdateInstance(ctx, inst); err != nil {
		return nil, notFound(err, ErrInstanceNotFound, id)
	}
	entry.actor = actor
	s.snapshots.Set(id, inst.Snapshot)
	s.logger.Warn("instance restored from external snapshot", "id", id, "state", snapshot.Value)
	return inst, nil
}

// Snapshot returns the current durable snapshot, served from the fast cache
// when fresh.
func (s *InstanceService) Snapshot(ctx context.Context, id string) (machine.Snapshot, error) {
	if cached, ok := s.snapshots.Get(id); ok {
		return cached.(machine.Snapshot), nil
	}
	inst, err := s.Get(ctx, id)
	if err != nil {
		return machine.Snapshot{}, err
	}
	s.snapshots.Set(id, inst.Snapshot)
	return inst.Snapshot, nil
}

// ChildActors returns the instances parented by id, ordered by start time.
func (s *InstanceService) ChildActors(ctx context.Context, id string) ([]*models.WorkflowInstance, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListChildren(ctx, id)
}

// Registered reports whether a live actor is currently held for id.
func (s *InstanceService) Registered(id string) bool {
	return s.registry.registered(id)
}

func (s *InstanceService) transitionRow(inst *models.WorkflowInstance, result machine.Result, durationMS int64) *models.StateTransition {
	return &models.StateTransition{
		ID:           uuid.New().String(),
		EntityType:   models.EntityTypeInstance,
		EntityID:     inst.ID,
		WorkflowID:   inst.WorkflowID,
		InstanceID:   &inst.ID,
		EventType:    result.Event.Type,
		EventPayload: result.Event.Payload,
		EventOrigin:  result.Event.Origin,
		From:         result.From,
		To:           result.To,
		Kind:         result.Kind,
		GuardResults: result.GuardResults,
		Actions:      result.Actions,
		TriggeredBy:  result.Event.Origin,
		StateChanged: result.Changed,
		DurationMS:   &durationMS,
		CreatedAt:    time.Now().UTC(),
	}
}

func normalizeEvent(event machine.Event) machine.Event {
	if event.Origin == "" {
		event.Origin = machine.OriginSystem
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return event
}
