package tui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/qascout/qascout/internal/backend"
	"github.com/qascout/qascout/internal/metrics"
	"github.com/qascout/qascout/internal/orchestrator"
	"github.com/qascout/qascout/internal/phase"
	"github.com/qascout/qascout/internal/session"
)

// Model is the chat screen: the full conversation, an input line, and a
// status bar with phase, backend health, and metrics.
type Model struct {
	orch          *orchestrator.Orchestrator
	healthTimeout time.Duration
	exportDir     string

	messages []session.Message
	phase    phase.Phase
	status   session.BackendStatus
	metrics  metrics.Metrics

	input    textinput.Model
	viewport viewport.Model
	spinner  spinner.Model

	updates <-chan orchestrator.Update
	busy    bool
	notice  string

	width  int
	height int
	ready  bool
}

// NewModel creates the chat screen bound to the given orchestrator.
// exportDir is where ctrl+s writes generated code.
func NewModel(o *orchestrator.Orchestrator, healthTimeout time.Duration, exportDir string) Model {
	ti := textinput.New()
	ti.Placeholder = "Paste a URL to explore, or ask me anything..."
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = TitleStyle

	return Model{
		orch:          o,
		healthTimeout: healthTimeout,
		exportDir:     exportDir,
		status:        session.StatusChecking,
		input:         ti,
		spinner:       sp,
	}
}

// Init starts the input blink, the spinner, and the first health check.
func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick, CheckHealthCmd(m.orch, m.healthTimeout))
}

// Update handles messages for the chat screen.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyCtrlC:
			return m, tea.Quit

		case KeyCtrlS:
			return m, ExportCmd(m.orch, m.exportDir)

		case KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			if text == "" {
				return m, nil
			}
			m.input.Reset()
			m.notice = ""

			switch text {
			case "/quit", "/exit":
				return m, tea.Quit
			case "/reset":
				return m, ResetCmd(m.orch)
			}
			if m.busy {
				m.notice = "Still working on the previous request..."
				return m, nil
			}
			return m, DispatchCmd(m.orch, text)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpWidth, vpHeight := m.viewportSize()
		if !m.ready {
			m.viewport = viewport.New(vpWidth, vpHeight)
			m.ready = true
		} else {
			m.viewport.Width = vpWidth
			m.viewport.Height = vpHeight
		}
		m.input.Width = vpWidth - 4
		m.refreshViewport()
		return m, nil

	case HealthMsg:
		m.status = msg.Status
		return m, nil

	case ActionStartedMsg:
		m.busy = true
		m.updates = msg.Updates
		return m, ListenUpdatesCmd(m.updates)

	case ActionUpdateMsg:
		switch msg.Update.Kind {
		case orchestrator.UpdateMessage:
			m.messages = append(m.messages, msg.Update.Message)
			m.refreshViewport()
		case orchestrator.UpdatePhase:
			m.phase = msg.Update.Phase
		case orchestrator.UpdateMetrics:
			m.metrics = msg.Update.Metrics
		}
		return m, ListenUpdatesCmd(m.updates)

	case ActionFinishedMsg:
		m.busy = false
		m.updates = nil
		return m, nil

	case TickMsg:
		if m.updates != nil {
			return m, ListenUpdatesCmd(m.updates)
		}
		return m, nil

	case DispatchRejectedMsg:
		if errors.Is(msg.Err, orchestrator.ErrBusy) {
			m.notice = "Still working on the previous request..."
		} else if msg.Err != nil {
			m.notice = msg.Err.Error()
		}
		return m, nil

	case ResetDoneMsg:
		m.messages = []session.Message{msg.Confirmation}
		m.phase = phase.Idle
		m.metrics = metrics.Metrics{}
		m.busy = false
		m.updates = nil
		m.refreshViewport()
		return m, nil

	case ExportDoneMsg:
		if msg.Err != nil {
			m.notice = "Export failed: " + msg.Err.Error()
		} else {
			m.notice = "Code exported to " + msg.Path
		}
		return m, nil

	case spinner.TickMsg:
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// View renders the chat screen.
func (m Model) View() string {
	if !m.ready {
		return "Starting..."
	}

	var b strings.Builder
	b.WriteString(TitleStyle.Render("QA Scout"))
	b.WriteString(DimStyle.Render("  conversational web test agent"))
	b.WriteString("\n\n")

	b.WriteString(m.viewport.View())
	b.WriteString("\n")

	if m.busy {
		b.WriteString(fmt.Sprintf("%s Working...\n", m.spinner.View()))
	} else if m.notice != "" {
		b.WriteString(WarningStyle.Render(m.notice))
		b.WriteString("\n")
	} else {
		b.WriteString("\n")
	}

	b.WriteString(m.input.View())
	b.WriteString("\n")
	b.WriteString(m.statusBar())
	b.WriteString("\n")
	b.WriteString(DimStyle.Render("Enter: send · /reset: new session · ctrl+s: export code · ctrl+c: quit"))
	return b.String()
}

// statusBar renders phase, backend health, and metrics on one line.
func (m Model) statusBar() string {
	dot := StatusUnknown
	switch m.status {
	case session.StatusConnected:
		dot = StatusOK
	case session.StatusAPIMissing:
		dot = StatusWarn
	case session.StatusDisconnected:
		dot = StatusDown
	}

	left := fmt.Sprintf("phase: %s", m.phase)
	mid := fmt.Sprintf("%s backend: %s", dot, m.status)
	right := fmt.Sprintf("tokens: %d · avg: %.1fs · iterations: %d",
		m.metrics.TokensUsed, m.metrics.AvgResponseTime, m.metrics.IterationCount)

	return StatusBarStyle.Width(max(m.width-2, 0)).
		Render(left + "   " + mid + "   " + right)
}

// viewportSize computes the message area dimensions from the window size.
// Reserved lines: header (2), busy/notice (1), input (1), status bar (1),
// footer (1), spacing (1).
func (m Model) viewportSize() (int, int) {
	w := m.width - 2
	if w < 20 {
		w = 20
	}
	h := m.height - 7
	if h < 5 {
		h = 5
	}
	return w, h
}

func (m *Model) refreshViewport() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(formatMessages(m.messages))
	m.viewport.GotoBottom()
}

// formatMessages renders the timeline for the viewport.
func formatMessages(messages []session.Message) string {
	if len(messages) == 0 {
		return DimStyle.Render("No messages yet. Paste a URL to start exploring.")
	}

	var b strings.Builder
	for i, msg := range messages {
		switch msg.Role {
		case session.RoleUser:
			b.WriteString(UserStyle.Render("You: "))
		case session.RoleAssistant:
			b.WriteString(AssistantStyle.Render("Scout: "))
		default:
			b.WriteString(DimStyle.Render(string(msg.Role) + ": "))
		}
		b.WriteString(msg.Content)

		if extra := formatPayload(msg.Data); extra != "" {
			b.WriteString("\n")
			b.WriteString(extra)
		}
		if i < len(messages)-1 {
			b.WriteString("\n\n")
		}
	}
	return b.String()
}

// formatPayload renders a message's structured payload, when it has one.
func formatPayload(data any) string {
	switch v := data.(type) {
	case []backend.TestCase:
		var b strings.Builder
		for i, tc := range v {
			fmt.Fprintf(&b, "  %s %s [%s]", DimStyle.Render(tc.ID+":"), tc.Title, tc.Priority)
			if i < len(v)-1 {
				b.WriteString("\n")
			}
		}
		return b.String()
	case *session.ExecutionSummary:
		if v.ReportPath == "" {
			return ""
		}
		return DimStyle.Render("  report: " + v.ReportPath)
	default:
		return ""
	}
}
