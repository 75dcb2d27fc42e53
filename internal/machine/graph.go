// Package machine compiles declarative state-machine graphs into immutable,
// thread-safe transition tables and applies events to snapshots of them.
package machine

// Graph is the declarative, JSON-serializable form of a state machine as
// authored in a workflow definition. It is the persisted representation;
// Compile turns it into an executable Machine.
type Graph struct {
	// Initial names the state a fresh actor starts in. Required.
	Initial string `json:"initial"`

	// States maps state names to their behavior.
	States map[string]StateNode `json:"states"`

	// Guards maps guard names to context expressions. Every guard referenced
	// by a transition must be present here.
	Guards map[string]string `json:"guards,omitempty"`

	// Actions maps action names to descriptors. Action references do not
	// have to appear here; descriptors of the form "assign:key=value" are
	// the only ones interpreted by the runtime, all others are opaque
	// references to behavior owned by external services.
	Actions map[string]string `json:"actions,omitempty"`

	// Services maps invoked-service names to descriptors. Informational.
	Services map[string]string `json:"services,omitempty"`

	// Delays maps delay names to descriptors (e.g. a duration hint for the
	// external timer service). Every key of a state's After table must be
	// present here.
	Delays map[string]string `json:"delays,omitempty"`
}

// StateNode describes a single named state.
type StateNode struct {
	// Entry and Exit list action names run when the state is entered/left.
	Entry []string `json:"entry,omitempty"`
	Exit  []string `json:"exit,omitempty"`

	// On maps event types to transitions.
	On map[string]Transition `json:"on,omitempty"`

	// After maps delay names to transitions. There is no scheduler inside
	// the runtime; a delayed transition fires when an event carrying the
	// delay name arrives, typically from a timer-origin caller.
	After map[string]Transition `json:"after,omitempty"`

	// Always lists eventless transitions, evaluated in order each time an
	// event-driven transition enters this state. The first one whose guards
	// all pass fires immediately. Each must target a different state.
	Always []Transition `json:"always,omitempty"`

	// Tags are carried into every snapshot taken while in this state.
	Tags []string `json:"tags,omitempty"`

	// Final marks a terminal state. Entering it sets the snapshot's Done
	// flag.
	Final bool `json:"final,omitempty"`
}

// Transition describes a single event-driven edge.
type Transition struct {
	// Target is the destination state name. Empty means an internal
	// transition: actions run but the state value does not change.
	Target string `json:"target,omitempty"`

	// Guards lists guard names that must all pass for the transition to
	// fire, evaluated in order.
	Guards []string `json:"guards,omitempty"`

	// Actions lists action names run when the transition fires, between the
	// source state's exit actions and the target's entry actions.
	Actions []string `json:"actions,omitempty"`
}
