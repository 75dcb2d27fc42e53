package machine

import (
	"fmt"
	"sort"
	"strings"
)

// Machine is the executable, immutable form of a Graph. It is safe for
// concurrent use: compilation resolves all references up front and nothing
// is mutated afterwards.
type Machine struct {
	id      string
	initial string
	states  map[string]*compiledState
	guards  map[string]guardExpr
	actions map[string]string
}

type compiledState struct {
	name   string
	entry  []string
	exit   []string
	tags   []string
	final  bool
	on     map[string]*compiledTransition
	always []*compiledTransition
}

type compiledTransition struct {
	event   string
	target  string // empty for internal transitions
	guards  []string
	actions []string
	delayed bool
}

// Compile validates g and builds the transition table. The id is carried for
// diagnostics only. Every transition target must name an existing state,
// every guard reference must resolve against the guard table, and every
// delay key must resolve against the delay table.
func Compile(id string, g Graph) (*Machine, error) {
	if len(g.States) == 0 {
		return nil, invalid(id, "graph has no states")
	}
	if g.Initial == "" {
		return nil, invalid(id, "graph has no initial state")
	}
	if _, ok := g.States[g.Initial]; !ok {
		return nil, invalid(id, fmt.Sprintf("initial state %q is not defined", g.Initial))
	}

	m := &Machine{
		id:      id,
		initial: g.Initial,
		states:  make(map[string]*compiledState, len(g.States)),
		guards:  make(map[string]guardExpr, len(g.Guards)),
		actions: g.Actions,
	}

	for name, expr := range g.Guards {
		ge, err := parseGuardExpr(name, expr)
		if err != nil {
			return nil, invalid(id, err.Error())
		}
		m.guards[name] = ge
	}

	for name, node := range g.States {
		cs := &compiledState{
			name:  name,
			entry: node.Entry,
			exit:  node.Exit,
			tags:  node.Tags,
			final: node.Final,
			on:    make(map[string]*compiledTransition, len(node.On)+len(node.After)),
		}
		for event, tr := range node.On {
			ct, err := m.compileTransition(id, name, event, tr, false)
			if err != nil {
				return nil, err
			}
			cs.on[event] = ct
		}
		for delay, tr := range node.After {
			if _, ok := g.Delays[delay]; !ok {
				return nil, invalid(id, fmt.Sprintf("state %q: delay %q is not defined", name, delay))
			}
			if _, dup := cs.on[delay]; dup {
				return nil, invalid(id, fmt.Sprintf("state %q: delay %q collides with an event of the same name", name, delay))
			}
			ct, err := m.compileTransition(id, name, delay, tr, true)
			if err != nil {
				return nil, err
			}
			cs.on[delay] = ct
		}
		for i, tr := range node.Always {
			if tr.Target == "" || tr.Target == name {
				return nil, invalid(id, fmt.Sprintf("state %q: eventless transition %d must target a different state", name, i))
			}
			ct, err := m.compileTransition(id, name, "", tr, false)
			if err != nil {
				return nil, err
			}
			cs.always = append(cs.always, ct)
		}
		m.states[name] = cs
	}

	// Targets can only be checked after all states are known.
	for name, cs := range m.states {
		for event, ct := range cs.on {
			if ct.target != "" {
				if _, ok := m.states[ct.target]; !ok {
					return nil, invalid(id, fmt.Sprintf("state %q: event %q targets unknown state %q", name, event, ct.target))
				}
			}
		}
		for _, ct := range cs.always {
			if _, ok := m.states[ct.target]; !ok {
				return nil, invalid(id, fmt.Sprintf("state %q: eventless transition targets unknown state %q", name, ct.target))
			}
		}
	}

	return m, nil
}

func (m *Machine) compileTransition(id, state, event string, tr Transition, delayed bool) (*compiledTransition, error) {
	for _, guard := range tr.Guards {
		if _, ok := m.guards[guard]; !ok {
			return nil, invalid(id, fmt.Sprintf("state %q: event %q references undefined guard %q", state, event, guard))
		}
	}
	return &compiledTransition{
		event:   event,
		target:  tr.Target,
		guards:  tr.Guards,
		actions: tr.Actions,
		delayed: delayed,
	}, nil
}

func invalid(id, detail string) error {
	meta := map[string]any{"detail": detail}
	if id != "" {
		meta["definition_id"] = id
	}
	return cloneErr(ErrDefinitionInvalid, "definition invalid: "+detail, meta)
}

// ID returns the definition id the machine was compiled from.
func (m *Machine) ID() string { return m.id }

// InitialState returns the name of the initial state.
func (m *Machine) InitialState() string { return m.initial }

// StateNames returns all state names, sorted.
func (m *Machine) StateNames() []string {
	names := make([]string, 0, len(m.states))
	for name := range m.states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EventsFrom returns the event types (including delay names) accepted from
// the named state, sorted. Guard outcomes are not considered; this is the
// declared set, matching runtime introspection semantics.
func (m *Machine) EventsFrom(state string) []string {
	cs, ok := m.states[state]
	if !ok {
		return nil
	}
	events := make([]string, 0, len(cs.on))
	for event := range cs.on {
		events = append(events, event)
	}
	sort.Strings(events)
	return events
}

// Warning is a non-fatal finding from Lint.
type Warning struct {
	State   string `json:"state"`
	Message string `json:"message"`
}

// Lint reports likely-unreachable states: states that are not the initial
// state and have no incoming transition. This is a heuristic, not full
// reachability analysis: a state reachable only through a cycle that is
// itself unreachable will not be flagged.
func (m *Machine) Lint() []Warning {
	incoming := make(map[string]bool, len(m.states))
	for _, cs := range m.states {
		for _, ct := range cs.on {
			if ct.target != "" {
				incoming[ct.target] = true
			}
		}
		for _, ct := range cs.always {
			incoming[ct.target] = true
		}
	}
	var warnings []Warning
	for _, name := range m.StateNames() {
		if name == m.initial || incoming[name] {
			continue
		}
		warnings = append(warnings, Warning{
			State:   name,
			Message: fmt.Sprintf("state %q has no incoming transition and is not the initial state", name),
		})
	}
	return warnings
}

// DOT renders the machine as a Graphviz digraph for visualization.
func (m *Machine) DOT() string {
	var b strings.Builder
	b.WriteString("digraph workflow {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString(fmt.Sprintf("  %q [shape=point];\n", "__start"))
	b.WriteString(fmt.Sprintf("  %q -> %q;\n", "__start", m.initial))
	for _, name := range m.StateNames() {
		cs := m.states[name]
		shape := "box"
		if cs.final {
			shape = "doublecircle"
		}
		b.WriteString(fmt.Sprintf("  %q [shape=%s];\n", name, shape))
		for _, event := range m.EventsFrom(name) {
			ct := cs.on[event]
			target := ct.target
			if target == "" {
				target = name
			}
			label := event
			if len(ct.guards) > 0 {
				label = fmt.Sprintf("%s [%s]", event, strings.Join(ct.guards, ","))
			}
			b.WriteString(fmt.Sprintf("  %q -> %q [label=%q];\n", name, target, label))
		}
		for _, ct := range cs.always {
			label := "always"
			if len(ct.guards) > 0 {
				label = fmt.Sprintf("always [%s]", strings.Join(ct.guards, ","))
			}
			b.WriteString(fmt.Sprintf("  %q -> %q [label=%q, style=dashed];\n", name, ct.target, label))
		}
	}
	b.WriteString("}\n")
	return b.String()
}
