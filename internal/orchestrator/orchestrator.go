// Package orchestrator runs the QA workflow: it classifies user input,
// gates actions on artifact presence, drives the backend, and folds results
// into the session.
//
// One action runs at a time. Dispatch returns a channel of updates for the
// action it started; the caller drains the channel until it closes. All
// session access goes through the orchestrator's mutex, so the TUI and the
// headless runner can read snapshots while a handler is in flight.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qascout/qascout/internal/backend"
	"github.com/qascout/qascout/internal/config"
	"github.com/qascout/qascout/internal/intent"
	"github.com/qascout/qascout/internal/log"
	"github.com/qascout/qascout/internal/metrics"
	"github.com/qascout/qascout/internal/phase"
	"github.com/qascout/qascout/internal/session"
	"github.com/qascout/qascout/internal/stream"
)

// ErrBusy is returned by Dispatch while another action is still running.
var ErrBusy = errors.New("an action is already running")

// ErrEmptyInput is returned by Dispatch for blank input.
var ErrEmptyInput = errors.New("empty input")

// ErrStreamTruncated reports a verification stream that closed before
// delivering its completion record.
var ErrStreamTruncated = errors.New("verification stream ended without completion")

// ErrNoCode is returned by ExportCode when no code has been generated yet.
var ErrNoCode = errors.New("no generated code to export")

// errRunSuperseded aborts an in-flight handler whose session was reset.
var errRunSuperseded = errors.New("run superseded by reset")

// errRunAborted stops the stream drain after a backend error record.
var errRunAborted = errors.New("run aborted by backend error record")

// UpdateKind discriminates Update variants.
type UpdateKind int

const (
	// UpdateMessage carries a new timeline message.
	UpdateMessage UpdateKind = iota
	// UpdatePhase carries the new workflow phase.
	UpdatePhase
	// UpdateMetrics carries the session's refreshed metrics view.
	UpdateMetrics
	// UpdateDone is the last update of a run; Err is nil on success.
	UpdateDone
)

// Update is one progress notification from a running action.
type Update struct {
	Kind    UpdateKind
	Message session.Message
	Phase   phase.Phase
	Metrics metrics.Metrics
	Err     error
}

// Orchestrator owns the session and serializes all actions against it.
type Orchestrator struct {
	client *backend.Client
	log    *log.Logger
	cfg    *config.Config

	mu   sync.Mutex
	sess *session.Session
	busy bool
	gen  uint64 // bumped by Reset; in-flight handlers drop their results
}

// New creates an Orchestrator with a fresh session.
func New(client *backend.Client, logger *log.Logger, cfg *config.Config) *Orchestrator {
	return &Orchestrator{
		client: client,
		log:    logger,
		cfg:    cfg,
		sess:   session.New(),
	}
}

// Dispatch classifies input and starts the matching action. It returns a
// channel that delivers the action's updates in order and closes when the
// action is finished. ErrBusy is returned, without touching the timeline,
// while a previous action is still running.
//
// Precondition failures (design without a page structure, implement without
// test cases, verify without code) do not reach the backend: the returned
// channel carries the user message, a warning, and a nil-error done update.
func (o *Orchestrator) Dispatch(ctx context.Context, input string) (<-chan Update, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return nil, ErrEmptyInput
	}

	o.mu.Lock()
	if o.busy {
		o.mu.Unlock()
		return nil, ErrBusy
	}

	action := intent.Classify(text, len(o.sess.TestCases) > 0)
	ch := make(chan Update, 16)
	ch <- Update{Kind: UpdateMessage, Message: o.sess.Append(session.RoleUser, text, nil)}

	if warn, ok := o.precondition(action); !ok {
		ch <- Update{Kind: UpdateMessage, Message: o.sess.Append(session.RoleAssistant, warn, nil)}
		ch <- Update{Kind: UpdateDone}
		close(ch)
		ph := o.sess.Phase()
		o.mu.Unlock()
		o.log.Append(log.LogEvent{
			Event:  log.EventPreconditionBlocked,
			Action: action.String(),
			Phase:  ph.String(),
		})
		return ch, nil
	}

	o.busy = true
	gen := o.gen
	if action != intent.ActionChat {
		ch <- Update{Kind: UpdatePhase, Phase: o.sess.Phases.Begin(action)}
	}
	ph := o.sess.Phase()
	o.mu.Unlock()

	o.log.Append(log.LogEvent{
		Event:  log.EventActionStarted,
		Action: action.String(),
		Phase:  ph.String(),
	})

	switch action {
	case intent.ActionExplore:
		go o.runExplore(ctx, gen, text, ch)
	case intent.ActionDesign:
		go o.runDesign(ctx, gen, ch)
	case intent.ActionImplement:
		go o.runImplement(ctx, gen, ch)
	case intent.ActionVerify:
		go o.runVerify(ctx, gen, ch)
	case intent.ActionChat:
		go o.runChat(ctx, gen, text, ch)
	}
	return ch, nil
}

// precondition reports whether the session holds the artifact the action
// needs. Explore and chat are always eligible.
func (o *Orchestrator) precondition(a intent.Action) (string, bool) {
	switch a {
	case intent.ActionDesign:
		if o.sess.PageStructure == nil {
			return "Please explore a URL first so I have a page structure to design tests against.", false
		}
	case intent.ActionImplement:
		if len(o.sess.TestCases) == 0 {
			return "Please design test cases first. Ask me to design tests once a page has been explored.", false
		}
	case intent.ActionVerify:
		if o.sess.GeneratedCode == "" {
			return "Please implement the tests first. Ask me to generate code once test cases exist.", false
		}
	}
	return "", true
}

// release clears the busy flag (unless a reset superseded the run) and
// closes the update channel. Deferred by every handler.
func (o *Orchestrator) release(gen uint64, ch chan Update) {
	o.mu.Lock()
	if o.gen == gen {
		o.busy = false
	}
	o.mu.Unlock()
	close(ch)
}

// fail resolves the action to its failure phase, appends an error message,
// and emits the terminal done update. No-op after a reset.
func (o *Orchestrator) fail(gen uint64, ch chan Update, action intent.Action, content string, cause error) {
	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	ph := o.sess.Phases.Fail(action)
	msg := o.sess.Append(session.RoleAssistant, content, nil)
	o.mu.Unlock()

	o.log.Append(log.LogEvent{
		Event:  log.EventActionFailed,
		Action: action.String(),
		Phase:  ph.String(),
		Error:  cause.Error(),
	})
	ch <- Update{Kind: UpdatePhase, Phase: ph}
	ch <- Update{Kind: UpdateMessage, Message: msg}
	ch <- Update{Kind: UpdateDone, Err: cause}
}

func (o *Orchestrator) runExplore(ctx context.Context, gen uint64, url string, ch chan Update) {
	defer o.release(gen, ch)
	started := time.Now()

	res, err := o.client.Explore(ctx, url)
	if err != nil {
		o.fail(gen, ch, intent.ActionExplore, "Exploration failed: "+err.Error(), err)
		return
	}

	testable := 0
	total := 0
	if res.PageData != nil {
		total = len(res.PageData.Elements)
		for _, el := range res.PageData.Elements {
			if el.Testable {
				testable++
			}
		}
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	o.sess.PageStructure = res.PageData
	o.sess.Metrics.Apply(res.Metrics)
	ph := o.sess.Phases.Succeed(intent.ActionExplore)
	content := fmt.Sprintf("Exploration complete. Found %d testable elements (%d total) on %s. Ask me to design test cases when you are ready.", testable, total, url)
	var data any
	if res.PageData != nil {
		data = res.PageData.Elements
	}
	msg := o.sess.Append(session.RoleAssistant, content, data)
	m := o.sess.Metrics
	o.mu.Unlock()

	o.log.Append(log.LogEvent{
		Event:      log.EventActionComplete,
		Action:     "explore",
		Phase:      ph.String(),
		URL:        url,
		Total:      total,
		Tokens:     m.TokensUsed,
		DurationMs: time.Since(started).Milliseconds(),
	})
	ch <- Update{Kind: UpdateMessage, Message: msg}
	ch <- Update{Kind: UpdateMetrics, Metrics: m}
	ch <- Update{Kind: UpdatePhase, Phase: ph}
	ch <- Update{Kind: UpdateDone}
}

func (o *Orchestrator) runDesign(ctx context.Context, gen uint64, ch chan Update) {
	defer o.release(gen, ch)
	started := time.Now()

	res, err := o.client.Design(ctx)
	if err != nil {
		o.fail(gen, ch, intent.ActionDesign, "Test design failed: "+err.Error(), err)
		return
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	o.sess.TestCases = res.TestCases
	o.sess.Metrics.Apply(res.Metrics)
	ph := o.sess.Phases.Succeed(intent.ActionDesign)
	content := fmt.Sprintf("Designed %d test cases. Review them, refine them in chat, or ask me to implement the code.", len(res.TestCases))
	msg := o.sess.Append(session.RoleAssistant, content, res.TestCases)
	m := o.sess.Metrics
	o.mu.Unlock()

	o.log.Append(log.LogEvent{
		Event:      log.EventActionComplete,
		Action:     "design",
		Phase:      ph.String(),
		Total:      len(res.TestCases),
		Tokens:     m.TokensUsed,
		DurationMs: time.Since(started).Milliseconds(),
	})
	ch <- Update{Kind: UpdateMessage, Message: msg}
	ch <- Update{Kind: UpdateMetrics, Metrics: m}
	ch <- Update{Kind: UpdatePhase, Phase: ph}
	ch <- Update{Kind: UpdateDone}
}

func (o *Orchestrator) runImplement(ctx context.Context, gen uint64, ch chan Update) {
	defer o.release(gen, ch)
	started := time.Now()

	res, err := o.client.Implement(ctx)
	if err != nil {
		o.fail(gen, ch, intent.ActionImplement, "Code generation failed: "+err.Error(), err)
		return
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	o.sess.GeneratedCode = res.Code
	o.sess.Metrics.Apply(res.Metrics)
	ph := o.sess.Phases.Succeed(intent.ActionImplement)
	lines := strings.Count(res.Code, "\n") + 1
	content := fmt.Sprintf("Generated test code (%d lines). Ask me to verify, or export it with ctrl+s.", lines)
	msg := o.sess.Append(session.RoleAssistant, content, res.Code)
	m := o.sess.Metrics
	o.mu.Unlock()

	o.log.Append(log.LogEvent{
		Event:      log.EventActionComplete,
		Action:     "implement",
		Phase:      ph.String(),
		Tokens:     m.TokensUsed,
		DurationMs: time.Since(started).Milliseconds(),
	})
	ch <- Update{Kind: UpdateMessage, Message: msg}
	ch <- Update{Kind: UpdateMetrics, Metrics: m}
	ch <- Update{Kind: UpdatePhase, Phase: ph}
	ch <- Update{Kind: UpdateDone}
}

func (o *Orchestrator) runChat(ctx context.Context, gen uint64, message string, ch chan Update) {
	defer o.release(gen, ch)

	res, err := o.client.Chat(ctx, message)
	if err != nil {
		o.mu.Lock()
		if o.gen != gen {
			o.mu.Unlock()
			return
		}
		msg := o.sess.Append(session.RoleAssistant, "Chat failed: "+err.Error(), nil)
		o.mu.Unlock()
		o.log.Append(log.LogEvent{Event: log.EventActionFailed, Action: "chat", Error: err.Error()})
		ch <- Update{Kind: UpdateMessage, Message: msg}
		ch <- Update{Kind: UpdateDone, Err: err}
		return
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	var data any
	if len(res.TestCases) > 0 {
		// The backend revised the suite as a side effect of the conversation.
		o.sess.TestCases = res.TestCases
		data = res.TestCases
	}
	o.sess.Metrics.Apply(res.Metrics)
	msg := o.sess.Append(session.RoleAssistant, res.Response, data)
	m := o.sess.Metrics
	o.mu.Unlock()

	o.log.Append(log.LogEvent{
		Event:  log.EventActionComplete,
		Action: "chat",
		Data:   map[string]interface{}{"action_taken": res.ActionTaken},
	})
	ch <- Update{Kind: UpdateMessage, Message: msg}
	ch <- Update{Kind: UpdateMetrics, Metrics: m}
	ch <- Update{Kind: UpdateDone}
}

func (o *Orchestrator) runVerify(ctx context.Context, gen uint64, ch chan Update) {
	defer o.release(gen, ch)
	started := time.Now()

	body, err := o.client.VerifyStream(ctx)
	if err != nil {
		o.fail(gen, ch, intent.ActionVerify, "Verification failed: "+err.Error(), err)
		return
	}
	defer body.Close()

	// Watchdog against a backend that dies mid-run without closing the
	// connection: closing the body fails the blocked read.
	idle := o.cfg.StreamIdleTimeout()
	var timedOut atomic.Bool
	watchdog := time.AfterFunc(idle, func() {
		timedOut.Store(true)
		body.Close()
	})
	defer watchdog.Stop()

	dec := stream.NewDecoder(func(line string, err error) {
		o.log.Append(log.LogEvent{Event: log.EventStreamRecordSkipped, Line: line, Error: err.Error()})
	})

	var (
		sawComplete bool
		streamErr   error
	)
	drainErr := dec.Drain(body, func(ev stream.Event) error {
		watchdog.Reset(idle)

		o.mu.Lock()
		if o.gen != gen {
			o.mu.Unlock()
			return errRunSuperseded
		}
		var ups []Update
		switch ev.Kind {
		case stream.KindStart:
			content := "Running tests..."
			if ev.TestFile != "" {
				content = fmt.Sprintf("Running %s...", filepath.Base(ev.TestFile))
			}
			msg := o.sess.Append(session.RoleAssistant, content, nil)
			ups = append(ups, Update{Kind: UpdateMessage, Message: msg})

		case stream.KindTestResult:
			name := ev.DisplayName
			if name == "" {
				name = ev.Name
			}
			mark := "✗"
			if ev.Passed {
				mark = "✓"
			}
			msg := o.sess.Append(session.RoleAssistant, fmt.Sprintf("%s %s (%s)", mark, name, ev.Status), nil)
			ups = append(ups, Update{Kind: UpdateMessage, Message: msg})

		case stream.KindComplete:
			sawComplete = true
			summary := &session.ExecutionSummary{
				Passed:     ev.PassCount,
				Failed:     ev.FailCount,
				Total:      ev.Total,
				Duration:   ev.Duration,
				VideoFiles: ev.VideoFiles,
				ReportPath: ev.ReportPath,
			}
			ph := o.sess.Phases.Succeed(intent.ActionVerify)
			content := fmt.Sprintf("Verification complete: %d passed, %d failed (%d total in %.1fs).",
				ev.PassCount, ev.FailCount, ev.Total, ev.Duration)
			msg := o.sess.Append(session.RoleAssistant, content, summary)
			ups = append(ups,
				Update{Kind: UpdateMessage, Message: msg},
				Update{Kind: UpdatePhase, Phase: ph},
			)
			o.log.Append(log.LogEvent{
				Event:      log.EventActionComplete,
				Action:     "verify",
				Phase:      ph.String(),
				Passed:     ev.PassCount,
				Failed:     ev.FailCount,
				Total:      ev.Total,
				DurationMs: time.Since(started).Milliseconds(),
			})

		case stream.KindError:
			streamErr = errors.New(ev.Message)
			ph := o.sess.Phases.Fail(intent.ActionVerify)
			msg := o.sess.Append(session.RoleAssistant, "Verification error: "+ev.Message, nil)
			ups = append(ups,
				Update{Kind: UpdateMessage, Message: msg},
				Update{Kind: UpdatePhase, Phase: ph},
			)
			o.log.Append(log.LogEvent{
				Event:  log.EventActionFailed,
				Action: "verify",
				Phase:  ph.String(),
				Error:  ev.Message,
			})
		}
		o.mu.Unlock()

		for _, up := range ups {
			ch <- up
		}
		if streamErr != nil {
			return errRunAborted
		}
		return nil
	})

	switch {
	case errors.Is(drainErr, errRunSuperseded):
		return

	case errors.Is(drainErr, errRunAborted):
		ch <- Update{Kind: UpdateDone, Err: streamErr}

	case drainErr != nil:
		cause := drainErr
		content := "Verification failed: " + drainErr.Error()
		if timedOut.Load() {
			content = fmt.Sprintf("Verification timed out: no output from the backend for %s.", idle)
		}
		o.fail(gen, ch, intent.ActionVerify, content, cause)

	case !sawComplete:
		o.fail(gen, ch, intent.ActionVerify,
			"The verification stream ended before reporting a result. The run may still be going on the backend.",
			ErrStreamTruncated)
		o.log.Append(log.LogEvent{Event: log.EventStreamClosed, Action: "verify", Error: ErrStreamTruncated.Error()})

	default:
		ch <- Update{Kind: UpdateDone}
	}
}

// Reset returns the session to its initial state and bumps the generation so
// any in-flight handler drops its results. The backend reset is best effort;
// a failure there is logged and ignored.
func (o *Orchestrator) Reset(ctx context.Context) session.Message {
	o.mu.Lock()
	o.gen++
	o.busy = false
	o.sess.Reset()
	msg := o.sess.Append(session.RoleAssistant, "Session reset. Give me a URL to start exploring.", nil)
	o.mu.Unlock()

	o.log.Append(log.LogEvent{Event: log.EventSessionReset, Phase: phase.Idle.String()})
	if err := o.client.Reset(ctx); err != nil {
		o.log.Append(log.LogEvent{Event: log.EventSessionReset, Error: err.Error()})
	}
	return msg
}

// CheckHealth probes the backend and records the resulting status on the
// session. A reachable backend without its language-model provider reports
// StatusAPIMissing.
func (o *Orchestrator) CheckHealth(ctx context.Context) session.BackendStatus {
	h, err := o.client.Health(ctx)

	status := session.StatusConnected
	switch {
	case err != nil:
		status = session.StatusDisconnected
	case !h.GroqAvailable:
		status = session.StatusAPIMissing
	}

	o.mu.Lock()
	o.sess.BackendStatus = status
	o.mu.Unlock()

	ev := log.LogEvent{Event: log.EventHealthCheck, Data: map[string]interface{}{"status": status.String()}}
	if err != nil {
		ev.Error = err.Error()
	}
	o.log.Append(ev)
	return status
}

// ExportCode writes the generated test code to the configured filename
// inside dir and returns the full path.
func (o *Orchestrator) ExportCode(dir string) (string, error) {
	o.mu.Lock()
	code := o.sess.GeneratedCode
	o.mu.Unlock()

	if code == "" {
		return "", ErrNoCode
	}

	name := o.cfg.Export.Filename
	if name == "" {
		name = config.DefaultConfig().Export.Filename
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(code), 0644); err != nil {
		return "", fmt.Errorf("exporting code: %w", err)
	}

	o.log.Append(log.LogEvent{Event: log.EventCodeExported, Data: map[string]interface{}{"path": path}})
	return path, nil
}

// Timeline returns a copy of the session timeline.
func (o *Orchestrator) Timeline() []session.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]session.Message, len(o.sess.Timeline))
	copy(out, o.sess.Timeline)
	return out
}

// Phase returns the session's current workflow phase.
func (o *Orchestrator) Phase() phase.Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.Phase()
}

// Metrics returns the session's current metrics view.
func (o *Orchestrator) Metrics() metrics.Metrics {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.Metrics
}

// Status returns the last recorded backend status.
func (o *Orchestrator) Status() session.BackendStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.BackendStatus
}

// SessionID returns the current session's ID.
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.ID
}

// TestCases returns a copy of the current test case list.
func (o *Orchestrator) TestCases() []backend.TestCase {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]backend.TestCase, len(o.sess.TestCases))
	copy(out, o.sess.TestCases)
	return out
}

// GeneratedCode returns the current generated test code, if any.
func (o *Orchestrator) GeneratedCode() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sess.GeneratedCode
}

// Busy reports whether an action is currently running.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy
}
