// Package phase models workflow progress as a small state machine.
package phase

import "github.com/qascout/qascout/internal/intent"

// Phase is the workflow stage of a session. The values are ordered:
// a later constant means a later stage, which makes AtLeast comparisons
// meaningful.
type Phase int

const (
	Idle Phase = iota
	Exploring
	Explored
	Designing
	Designed
	Implementing
	Implemented
	Verifying
	Verified
)

// String returns the lowercase phase name.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Exploring:
		return "exploring"
	case Explored:
		return "explored"
	case Designing:
		return "designing"
	case Designed:
		return "designed"
	case Implementing:
		return "implementing"
	case Implemented:
		return "implemented"
	case Verifying:
		return "verifying"
	case Verified:
		return "verified"
	default:
		return "unknown"
	}
}

// AtLeast reports whether p has reached min in workflow order.
func (p Phase) AtLeast(min Phase) bool {
	return p >= min
}

// Transitional reports whether p is an in-flight phase that always resolves
// to a success or failure phase.
func (p Phase) Transitional() bool {
	switch p {
	case Exploring, Designing, Implementing, Verifying:
		return true
	}
	return false
}

// Machine holds the current phase and applies the transition table.
//
// The phase label is a hint for display; artifact presence is the ground
// truth for action eligibility and is checked by the orchestrator before
// Begin is ever called.
type Machine struct {
	current Phase
}

// Current returns the current phase.
func (m *Machine) Current() Phase {
	return m.current
}

// Begin enters the transitional phase for the action, synchronously, before
// any backend call is issued. Chat never changes phase.
func (m *Machine) Begin(a intent.Action) Phase {
	switch a {
	case intent.ActionExplore:
		m.current = Exploring
	case intent.ActionDesign:
		m.current = Designing
	case intent.ActionImplement:
		m.current = Implementing
	case intent.ActionVerify:
		m.current = Verifying
	}
	return m.current
}

// Succeed resolves the action's transitional phase to its success phase.
// Chat never changes phase.
func (m *Machine) Succeed(a intent.Action) Phase {
	switch a {
	case intent.ActionExplore:
		m.current = Explored
	case intent.ActionDesign:
		m.current = Designed
	case intent.ActionImplement:
		m.current = Implemented
	case intent.ActionVerify:
		m.current = Verified
	}
	return m.current
}

// Fail resolves the action's transitional phase to its failure phase.
// Chat never changes phase.
func (m *Machine) Fail(a intent.Action) Phase {
	switch a {
	case intent.ActionExplore:
		m.current = Idle
	case intent.ActionDesign:
		m.current = Explored
	case intent.ActionImplement:
		m.current = Designed
	case intent.ActionVerify:
		m.current = Implemented
	}
	return m.current
}

// Reset returns the machine to Idle unconditionally.
func (m *Machine) Reset() Phase {
	m.current = Idle
	return m.current
}
