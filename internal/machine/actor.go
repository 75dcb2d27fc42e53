package machine

import (
	"fmt"
	"strings"
	"time"
)

// Event is an external stimulus applied to an actor.
type Event struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Origin    string         `json:"origin,omitempty"`
}

// Event origins, matching the ledger's triggered-by classification.
const (
	OriginUser    = "user"
	OriginSystem  = "system"
	OriginTimer   = "timer"
	OriginWebhook = "webhook"
	OriginService = "service"
)

// Snapshot is a serializable capture of an actor: enough to reconstruct a
// live actor with Rehydrate.
type Snapshot struct {
	Value   string         `json:"value"`
	Context map[string]any `json:"context,omitempty"`
	Done    bool           `json:"done,omitempty"`
	Tags    []string       `json:"tags,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	if s.Context != nil {
		out.Context = make(map[string]any, len(s.Context))
		for k, v := range s.Context {
			out.Context[k] = v
		}
	}
	if s.Tags != nil {
		out.Tags = append([]string(nil), s.Tags...)
	}
	return out
}

// Kind classifies a transition for the ledger. Delayed takes precedence
// over guarded; a transition that chains through an eventless transition is
// classified always regardless of how it started.
type Kind string

const (
	KindExternal Kind = "external"
	KindInternal Kind = "internal"
	KindDelayed  Kind = "delayed"
	KindGuarded  Kind = "guarded"
	KindAlways   Kind = "always"
)

// GuardResult records a single guard evaluation.
type GuardResult struct {
	Guard  string `json:"guard"`
	Passed bool   `json:"passed"`
}

// Result describes one applied event.
type Result struct {
	Event        Event         `json:"event"`
	From         Snapshot      `json:"from"`
	To           Snapshot      `json:"to"`
	Kind         Kind          `json:"kind"`
	Changed      bool          `json:"changed"`
	GuardResults []GuardResult `json:"guardResults,omitempty"`
	Actions      []string      `json:"actions,omitempty"`
}

// Actor pairs a compiled machine with a current snapshot. Actors are cheap
// to construct; durable callers persist the snapshot and rehydrate on
// demand. An Actor is not safe for concurrent use; callers serialize.
type Actor struct {
	machine *Machine
	snap    Snapshot
}

// NewActor starts a fresh actor in the machine's initial state. Entry
// actions of the initial state run against a copy of initialContext.
func NewActor(m *Machine, initialContext map[string]any) *Actor {
	context := make(map[string]any, len(initialContext))
	for k, v := range initialContext {
		context[k] = v
	}
	initial := m.states[m.initial]
	runActions(m, initial.entry, context, nil)
	return &Actor{
		machine: m,
		snap: Snapshot{
			Value:   m.initial,
			Context: context,
			Done:    initial.final,
			Tags:    initial.tags,
		},
	}
}

// Rehydrate reconstructs an actor from a previously captured snapshot.
func Rehydrate(m *Machine, snap Snapshot) (*Actor, error) {
	if _, ok := m.states[snap.Value]; !ok {
		return nil, cloneErr(ErrMachineConstruction,
			fmt.Sprintf("snapshot state %q does not exist in definition %s", snap.Value, m.id),
			map[string]any{"state": snap.Value, "definition_id": m.id})
	}
	return &Actor{machine: m, snap: snap.clone()}, nil
}

// Snapshot returns a copy of the actor's current snapshot.
func (a *Actor) Snapshot() Snapshot { return a.snap.clone() }

// Done reports whether the actor has reached a final state.
func (a *Actor) Done() bool { return a.snap.Done }

// Can reports whether the current state declares a transition for the event
// type. Guard outcomes are not considered.
func (a *Actor) Can(eventType string) bool {
	cs := a.machine.states[a.snap.Value]
	_, ok := cs.on[eventType]
	return ok && !a.snap.Done
}

// NextEvents returns the event types sendable from the current state,
// sorted. A completed actor accepts nothing.
func (a *Actor) NextEvents() []string {
	if a.snap.Done {
		return nil
	}
	return a.machine.EventsFrom(a.snap.Value)
}

// Send applies the event. On acceptance it advances the snapshot and
// returns the transition result; on rejection (undeclared event, failed
// guard, or completed actor) the snapshot is untouched and an
// event-rejection error is returned.
func (a *Actor) Send(event Event) (Result, error) {
	from := a.snap.clone()

	if a.snap.Done {
		return Result{}, rejection(event, from, "actor is in a final state", nil)
	}
	cs := a.machine.states[a.snap.Value]
	ct, ok := cs.on[event.Type]
	if !ok {
		return Result{}, rejection(event, from,
			fmt.Sprintf("state %q does not accept event %q", a.snap.Value, event.Type), nil)
	}

	guardResults := make([]GuardResult, 0, len(ct.guards))
	for _, name := range ct.guards {
		passed := a.machine.guards[name].eval(a.snap.Context)
		guardResults = append(guardResults, GuardResult{Guard: name, Passed: passed})
		if !passed {
			return Result{}, rejection(event, from,
				fmt.Sprintf("guard %q rejected event %q in state %q", name, event.Type, a.snap.Value),
				guardResults)
		}
	}

	context := from.clone().Context
	if context == nil {
		context = map[string]any{}
	}
	var ran []string

	if ct.target == "" || ct.target == a.snap.Value {
		// Internal/self transition: no exit or entry actions.
		ran = runActions(a.machine, ct.actions, context, event.Payload)
		a.snap.Context = context
		result := Result{
			Event:        event,
			From:         from,
			To:           a.snap.clone(),
			Kind:         classify(ct, false),
			Changed:      false,
			GuardResults: guardResults,
			Actions:      ran,
		}
		return result, nil
	}

	ran = append(ran, runActions(a.machine, cs.exit, context, event.Payload)...)
	ran = append(ran, runActions(a.machine, ct.actions, context, event.Payload)...)
	ran = append(ran, runActions(a.machine, a.machine.states[ct.target].entry, context, event.Payload)...)

	kind := classify(ct, true)
	value := ct.target
	// Entering a state may chain through its eventless transitions. The step
	// cap bounds guard-stable cycles, which are not detectable at compile
	// time.
	for steps := 0; ; steps++ {
		if steps > len(a.machine.states) {
			return Result{}, cloneErr(ErrMachineConstruction,
				fmt.Sprintf("eventless transitions from state %q do not settle", ct.target),
				map[string]any{"state": ct.target, "definition_id": a.machine.id})
		}
		next, evaluated := a.fireAlways(value, context)
		guardResults = append(guardResults, evaluated...)
		if next == nil {
			break
		}
		source := a.machine.states[value]
		ran = append(ran, runActions(a.machine, source.exit, context, event.Payload)...)
		ran = append(ran, runActions(a.machine, next.actions, context, event.Payload)...)
		ran = append(ran, runActions(a.machine, a.machine.states[next.target].entry, context, event.Payload)...)
		value = next.target
		kind = KindAlways
	}

	settled := a.machine.states[value]
	a.snap = Snapshot{
		Value:   value,
		Context: context,
		Done:    settled.final,
		Tags:    settled.tags,
	}

	return Result{
		Event:        event,
		From:         from,
		To:           a.snap.clone(),
		Kind:         kind,
		Changed:      value != from.Value,
		GuardResults: guardResults,
		Actions:      ran,
	}, nil
}

// fireAlways returns the first eventless transition out of value whose
// guards all pass, plus every guard evaluation made along the way.
func (a *Actor) fireAlways(value string, context map[string]any) (*compiledTransition, []GuardResult) {
	var evaluated []GuardResult
	for _, ct := range a.machine.states[value].always {
		passed := true
		for _, name := range ct.guards {
			ok := a.machine.guards[name].eval(context)
			evaluated = append(evaluated, GuardResult{Guard: name, Passed: ok})
			if !ok {
				passed = false
				break
			}
		}
		if passed {
			return ct, evaluated
		}
	}
	return nil, evaluated
}

func classify(ct *compiledTransition, changed bool) Kind {
	switch {
	case ct.delayed:
		return KindDelayed
	case len(ct.guards) > 0:
		return KindGuarded
	case changed:
		return KindExternal
	default:
		return KindInternal
	}
}

func rejection(event Event, from Snapshot, detail string, guards []GuardResult) error {
	meta := map[string]any{
		"event": event.Type,
		"state": from.Value,
	}
	if len(guards) > 0 {
		meta["guards"] = guards
	}
	return cloneErr(ErrEventRejected, "event rejected: "+detail, meta)
}

// runActions records the action names that ran and applies built-in assign
// descriptors ("assign:key=value", or "assign:key=@payload.field" to copy a
// value from the event payload) to the context. All other descriptors are
// references to externally owned behavior and have no effect here.
func runActions(m *Machine, names []string, context map[string]any, payload map[string]any) []string {
	if len(names) == 0 {
		return nil
	}
	ran := make([]string, 0, len(names))
	for _, name := range names {
		ran = append(ran, name)
		descriptor, ok := m.actions[name]
		if !ok || !strings.HasPrefix(descriptor, "assign:") {
			continue
		}
		kv := strings.SplitN(strings.TrimPrefix(descriptor, "assign:"), "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, raw := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		if field, isRef := strings.CutPrefix(raw, "@payload."); isRef {
			if v, present := payload[field]; present {
				context[key] = v
			}
			continue
		}
		context[key] = parseLiteral(raw)
	}
	return ran
}
