package tui

import (
	"github.com/qascout/qascout/internal/orchestrator"
	"github.com/qascout/qascout/internal/session"
)

// HealthMsg carries the result of a backend health check.
type HealthMsg struct {
	Status session.BackendStatus
}

// ActionStartedMsg signals that an action was dispatched; the model starts
// listening on Updates.
type ActionStartedMsg struct {
	Updates <-chan orchestrator.Update
}

// ActionUpdateMsg carries one progress update from the running action.
type ActionUpdateMsg struct {
	Update orchestrator.Update
}

// ActionFinishedMsg signals that the action's update channel closed.
type ActionFinishedMsg struct{}

// TickMsg keeps the update listener polling while the channel is quiet.
type TickMsg struct{}

// DispatchRejectedMsg reports a Dispatch that never started (busy or empty).
type DispatchRejectedMsg struct {
	Err error
}

// ResetDoneMsg carries the confirmation message of a session reset.
type ResetDoneMsg struct {
	Confirmation session.Message
}

// ExportDoneMsg reports the outcome of a code export.
type ExportDoneMsg struct {
	Path string
	Err  error
}
