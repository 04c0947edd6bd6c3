package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/qascout/qascout/internal/orchestrator"
)

// CheckHealthCmd probes the backend and reports the resulting status.
func CheckHealthCmd(o *orchestrator.Orchestrator, timeout time.Duration) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return HealthMsg{Status: o.CheckHealth(ctx)}
	}
}

// DispatchCmd hands user input to the orchestrator. A rejected dispatch
// (busy, empty input) is reported without starting a listener.
func DispatchCmd(o *orchestrator.Orchestrator, input string) tea.Cmd {
	return func() tea.Msg {
		ch, err := o.Dispatch(context.Background(), input)
		if err != nil {
			return DispatchRejectedMsg{Err: err}
		}
		return ActionStartedMsg{Updates: ch}
	}
}

// ListenUpdatesCmd polls the update channel for the running action.
// Returns ActionUpdateMsg for each update, ActionFinishedMsg when the channel
// closes, or TickMsg on timeout to keep polling.
func ListenUpdatesCmd(updates <-chan orchestrator.Update) tea.Cmd {
	return func() tea.Msg {
		select {
		case up, ok := <-updates:
			if !ok {
				return ActionFinishedMsg{}
			}
			return ActionUpdateMsg{Update: up}
		case <-time.After(100 * time.Millisecond):
			return TickMsg{}
		}
	}
}

// ResetCmd resets the session and reports the confirmation message.
func ResetCmd(o *orchestrator.Orchestrator) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return ResetDoneMsg{Confirmation: o.Reset(ctx)}
	}
}

// ExportCmd writes the generated code to dir.
func ExportCmd(o *orchestrator.Orchestrator, dir string) tea.Cmd {
	return func() tea.Msg {
		path, err := o.ExportCode(dir)
		return ExportDoneMsg{Path: path, Err: err}
	}
}
