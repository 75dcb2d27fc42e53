package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"labelworks/orchestrator/internal/cache"
	"labelworks/orchestrator/internal/machine"
	"labelworks/orchestrator/internal/repository"
	"labelworks/orchestrator/pkg/models"
)

// DefaultMachineTTL is the freshness window for compiled machines.
const DefaultMachineTTL = time.Hour

// MachineCache derives executable machines from definitions and caches
// them keyed by definition id. The cache is an optimization, never a source
// of truth: every entry is reconstructable from the definition store.
// Definition updates must call Invalidate to force recompilation.
type MachineCache struct {
	store       repository.DefinitionStore
	machines    *cache.Cache
	definitions *cache.Cache
	lookups     counter
}

// NewMachineCache creates a MachineCache with the given freshness window.
func NewMachineCache(store repository.DefinitionStore, ttl time.Duration) *MachineCache {
	if ttl <= 0 {
		ttl = DefaultMachineTTL
	}
	return &MachineCache{
		store:       store,
		machines:    cache.New(ttl),
		definitions: cache.New(ttl),
		lookups:     newCounter("workflow.machine_cache.lookups", "Compiled-machine cache lookups by outcome"),
	}
}

// Compiled returns the executable machine for a definition, compiling and
// caching on miss. Definitions seeded out-of-band can fail compilation even
// after create-time validation; that surfaces as a definition-invalid error
// rather than a silently degraded machine.
func (c *MachineCache) Compiled(ctx context.Context, definitionID string) (*machine.Machine, error) {
	if cached, ok := c.machines.Get(definitionID); ok {
		c.lookups.Add(ctx, 1, attribute.String("outcome", "hit"))
		return cached.(*machine.Machine), nil
	}
	c.lookups.Add(ctx, 1, attribute.String("outcome", "miss"))

	def, err := c.Definition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	m, err := machine.Compile(def.ID, def.Graph)
	if err != nil {
		return nil, err
	}
	c.machines.Set(definitionID, m)
	return m, nil
}

// Definition returns the definition, from cache when fresh.
func (c *MachineCache) Definition(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	if cached, ok := c.definitions.Get(id); ok {
		return cached.(*models.WorkflowDefinition), nil
	}
	def, err := c.store.GetDefinition(ctx, id)
	if err != nil {
		return nil, notFound(err, ErrDefinitionNotFound, id)
	}
	c.definitions.Set(id, def)
	return def, nil
}

// Invalidate drops the compiled machine and definition entries for id,
// forcing recompilation on next use.
func (c *MachineCache) Invalidate(id string) {
	c.machines.Delete(id)
	c.definitions.Delete(id)
}
