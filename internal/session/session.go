// Package session holds the in-memory state of one QA testing session.
//
// A Session lives for the lifetime of the process and is never persisted;
// reset returns it to initial values. The orchestrator is the single owner
// of the Session and serializes all access; the types here carry no locks.
package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/qascout/qascout/internal/backend"
	"github.com/qascout/qascout/internal/metrics"
	"github.com/qascout/qascout/internal/phase"
)

// BackendStatus reflects the last health check.
type BackendStatus int

const (
	StatusChecking BackendStatus = iota
	StatusConnected
	StatusDisconnected
	// StatusAPIMissing means the backend is reachable but its language-model
	// provider is not available.
	StatusAPIMissing
)

// String returns the display name of the status.
func (s BackendStatus) String() string {
	switch s {
	case StatusChecking:
		return "checking"
	case StatusConnected:
		return "connected"
	case StatusDisconnected:
		return "disconnected"
	case StatusAPIMissing:
		return "api_missing"
	default:
		return "unknown"
	}
}

// Role is the author of a timeline message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one timeline entry. Immutable once appended.
// Data optionally carries a structured payload for rendering:
// []backend.Element, []backend.TestCase, or *ExecutionSummary.
type Message struct {
	Role      Role
	Content   string
	Data      any
	Timestamp time.Time
}

// ExecutionSummary is the terminal aggregate of a verification run, folded
// into the timeline as a message payload.
type ExecutionSummary struct {
	Passed     int
	Failed     int
	Total      int
	Duration   float64 // seconds
	VideoFiles []string
	ReportPath string
}

// Session is the unit of state: workflow progress, artifacts, metrics, and
// the conversation timeline.
type Session struct {
	ID            string
	Phases        phase.Machine
	PageStructure *backend.PageStructure
	TestCases     []backend.TestCase
	GeneratedCode string
	Metrics       metrics.Metrics
	Timeline      []Message
	BackendStatus BackendStatus
}

// New creates a fresh Session in phase idle.
func New() *Session {
	return &Session{
		ID:            uuid.New().String(),
		BackendStatus: StatusChecking,
	}
}

// Append adds a message to the timeline and returns it. The timeline grows
// monotonically; entries are never reordered or mutated in place.
func (s *Session) Append(role Role, content string, data any) Message {
	msg := Message{
		Role:      role,
		Content:   content,
		Data:      data,
		Timestamp: time.Now(),
	}
	s.Timeline = append(s.Timeline, msg)
	return msg
}

// Phase returns the current workflow phase.
func (s *Session) Phase() phase.Phase {
	return s.Phases.Current()
}

// Reset returns the session to initial values under a new ID.
// The backend status is preserved; connectivity is not session state.
func (s *Session) Reset() {
	status := s.BackendStatus
	*s = Session{
		ID:            uuid.New().String(),
		BackendStatus: status,
	}
}
