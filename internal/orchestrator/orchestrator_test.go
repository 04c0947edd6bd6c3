package orchestrator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qascout/qascout/internal/backend"
	"github.com/qascout/qascout/internal/config"
	"github.com/qascout/qascout/internal/log"
	"github.com/qascout/qascout/internal/phase"
	"github.com/qascout/qascout/internal/session"
)

// fakeBackend serves canned responses for every endpoint. Individual tests
// override handlers or the verify stream body.
type fakeBackend struct {
	srv *httptest.Server

	exploreCalls   atomic.Int64
	designCalls    atomic.Int64
	implementCalls atomic.Int64
	verifyCalls    atomic.Int64

	// verifyBody is written verbatim to the verify stream.
	verifyBody string
	// chatBody overrides the default chat response when non-empty.
	chatBody string
	// chatGate, when non-nil, blocks the chat handler until closed.
	chatGate chan struct{}
}

const exploreResponse = `{
	"success": true,
	"page_data": {
		"url": "https://example.com",
		"elements": [
			{"type": "button", "locator": "#login", "testable": true},
			{"type": "input", "locator": "#user", "testable": true},
			{"type": "input", "locator": "#pass", "testable": true},
			{"type": "div", "locator": "#banner", "testable": false}
		],
		"userFlows": [{"name": "Login", "steps": ["fill", "submit"], "priority": "high"}],
		"pageMetadata": {"title": "Example", "type": "login", "complexity": "simple"}
	},
	"metrics": {"avg_response_time": 2.5, "tokens_used": 120, "iteration_count": 1}
}`

const designResponse = `{
	"success": true,
	"test_cases": [
		{"id": "TC001", "title": "Valid login", "priority": "high", "steps": ["fill", "submit"]},
		{"id": "TC002", "title": "Invalid login", "priority": "medium", "steps": ["fill wrong", "submit"]}
	],
	"metrics": {"avg_response_time": 3.0, "tokens_used": 250, "iteration_count": 2}
}`

const implementResponse = `{
	"success": true,
	"code": "import pytest\n\ndef test_valid_login():\n    pass\n",
	"file_path": "generated_test.py",
	"metrics": {"avg_response_time": 3.5, "tokens_used": 400, "iteration_count": 3}
}`

const verifyStreamHappy = `data: {"event": "start", "data": {"test_file": "/tmp/generated_test.py"}}
data: {"event": "test_result", "data": {"name": "test_valid_login", "status": "passed", "passed": true, "display_name": "Valid login"}}
data: {"event": "test_result", "data": {"name": "test_invalid_login", "status": "failed", "passed": false, "display_name": "Invalid login"}}
data: {"event": "complete", "data": {"success": true, "passed": 1, "failed": 1, "total": 2, "duration": 1.5}}
`

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	f := &fakeBackend{verifyBody: verifyStreamHappy}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status": "ok", "groq_available": true, "model": "test"}`)
	})
	mux.HandleFunc("/api/explore", func(w http.ResponseWriter, r *http.Request) {
		f.exploreCalls.Add(1)
		io.WriteString(w, exploreResponse)
	})
	mux.HandleFunc("/api/design", func(w http.ResponseWriter, r *http.Request) {
		f.designCalls.Add(1)
		io.WriteString(w, designResponse)
	})
	mux.HandleFunc("/api/implement", func(w http.ResponseWriter, r *http.Request) {
		f.implementCalls.Add(1)
		io.WriteString(w, implementResponse)
	})
	mux.HandleFunc("/api/verify-stream", func(w http.ResponseWriter, r *http.Request) {
		f.verifyCalls.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, f.verifyBody)
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		if f.chatGate != nil {
			<-f.chatGate
		}
		body := f.chatBody
		if body == "" {
			body = `{"success": true, "response": "Happy to help.", "action_taken": "answered"}`
		}
		io.WriteString(w, body)
	})
	mux.HandleFunc("/api/reset", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"success": true}`)
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func newOrchestrator(t *testing.T, f *fakeBackend) *Orchestrator {
	t.Helper()
	logger, err := log.NewLogger(t.TempDir())
	if err != nil {
		t.Fatalf("creating logger: %v", err)
	}
	cfg := config.DefaultConfig()
	cfg.Stream.IdleTimeout = 5
	client := backend.NewClient(f.srv.URL, 5*time.Second)
	return New(client, logger, cfg)
}

// drain collects all updates until the channel closes and returns them with
// the error of the terminal done update.
func drain(t *testing.T, ch <-chan Update) ([]Update, error) {
	t.Helper()
	var (
		updates []Update
		doneErr error
	)
	timeout := time.After(10 * time.Second)
	for {
		select {
		case up, ok := <-ch:
			if !ok {
				return updates, doneErr
			}
			updates = append(updates, up)
			if up.Kind == UpdateDone {
				doneErr = up.Err
			}
		case <-timeout:
			t.Fatal("timed out draining updates")
		}
	}
}

// dispatch runs one input to completion.
func dispatch(t *testing.T, o *Orchestrator, input string) ([]Update, error) {
	t.Helper()
	ch, err := o.Dispatch(context.Background(), input)
	if err != nil {
		t.Fatalf("Dispatch(%q): %v", input, err)
	}
	return drain(t, ch)
}

// assistantContents extracts assistant message texts from updates, in order.
func assistantContents(ups []Update) []string {
	var out []string
	for _, up := range ups {
		if up.Kind == UpdateMessage && up.Message.Role == session.RoleAssistant {
			out = append(out, up.Message.Content)
		}
	}
	return out
}

func TestExploreURL(t *testing.T) {
	f := newFakeBackend(t)
	o := newOrchestrator(t, f)

	ups, err := dispatch(t, o, "https://example.com")
	if err != nil {
		t.Fatalf("explore returned error: %v", err)
	}

	if o.Phase() != phase.Explored {
		t.Errorf("phase: got %v, want explored", o.Phase())
	}

	var sawExploring bool
	for _, up := range ups {
		if up.Kind == UpdatePhase && up.Phase == phase.Exploring {
			sawExploring = true
		}
	}
	if !sawExploring {
		t.Error("expected a transitional exploring phase update before completion")
	}

	msgs := assistantContents(ups)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "3 testable elements") {
		t.Errorf("explore message: got %q, want mention of 3 testable elements", msgs)
	}

	m := o.Metrics()
	if m.TokensUsed != 120 || m.AvgResponseTime != 2.5 {
		t.Errorf("metrics not applied: %+v", m)
	}
}

func TestDesignBlockedWithoutPageStructure(t *testing.T) {
	f := newFakeBackend(t)
	o := newOrchestrator(t, f)

	ups, err := dispatch(t, o, "design test cases for this page")
	if err != nil {
		t.Fatalf("blocked design should not carry an error, got %v", err)
	}

	if f.designCalls.Load() != 0 {
		t.Error("blocked design must not reach the backend")
	}
	if o.Phase() != phase.Idle {
		t.Errorf("phase after blocked design: got %v, want idle", o.Phase())
	}
	msgs := assistantContents(ups)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "explore a URL first") {
		t.Errorf("expected precondition warning, got %q", msgs)
	}
}

func TestFullWorkflow(t *testing.T) {
	f := newFakeBackend(t)
	o := newOrchestrator(t, f)

	dispatch(t, o, "https://example.com")
	dispatch(t, o, "design test cases")

	if got := o.TestCases(); len(got) != 2 || got[0].ID != "TC001" {
		t.Fatalf("test cases after design: %+v", got)
	}
	if o.Phase() != phase.Designed {
		t.Errorf("phase after design: %v", o.Phase())
	}

	dispatch(t, o, "implement the code")
	if o.GeneratedCode() == "" {
		t.Fatal("no code after implement")
	}
	if o.Phase() != phase.Implemented {
		t.Errorf("phase after implement: %v", o.Phase())
	}

	ups, err := dispatch(t, o, "verify the tests")
	if err != nil {
		t.Fatalf("verify returned error: %v", err)
	}
	if o.Phase() != phase.Verified {
		t.Errorf("phase after verify: %v", o.Phase())
	}

	msgs := assistantContents(ups)
	// start, two results in stream order, then the summary
	if len(msgs) != 4 {
		t.Fatalf("expected 4 assistant messages, got %d: %q", len(msgs), msgs)
	}
	if !strings.Contains(msgs[1], "Valid login") || !strings.Contains(msgs[2], "Invalid login") {
		t.Errorf("result messages out of order: %q", msgs[1:3])
	}
	if !strings.Contains(msgs[3], "1 passed, 1 failed") {
		t.Errorf("summary message: got %q", msgs[3])
	}

	// Metrics still reflect the last snapshot received (implement).
	if m := o.Metrics(); m.TokensUsed != 400 {
		t.Errorf("metrics after verify: %+v", m)
	}
}

func TestVerifyStreamErrorRecordAbortsRun(t *testing.T) {
	f := newFakeBackend(t)
	f.verifyBody = "data: {\"event\": \"start\", \"data\": {}}\n" +
		"data: {\"event\": \"error\", \"data\": {\"error\": \"boom\"}}\n" +
		"data: {\"event\": \"test_result\", \"data\": {\"name\": \"never_seen\", \"passed\": true}}\n"
	o := newOrchestrator(t, f)

	dispatch(t, o, "https://example.com")
	dispatch(t, o, "design test cases")
	dispatch(t, o, "implement the code")

	ups, err := dispatch(t, o, "verify")
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected boom error, got %v", err)
	}
	if o.Phase() != phase.Implemented {
		t.Errorf("phase after stream error: got %v, want implemented", o.Phase())
	}

	msgs := assistantContents(ups)
	last := msgs[len(msgs)-1]
	if !strings.Contains(last, "boom") {
		t.Errorf("error message should surface the backend error, got %q", last)
	}
	for _, m := range msgs {
		if strings.Contains(m, "never_seen") {
			t.Error("records after the error record must not be processed")
		}
	}
}

func TestVerifyStreamWithoutCompleteFails(t *testing.T) {
	f := newFakeBackend(t)
	f.verifyBody = "data: {\"event\": \"start\", \"data\": {}}\n" +
		"data: {\"event\": \"test_result\", \"data\": {\"name\": \"test_a\", \"status\": \"passed\", \"passed\": true}}\n"
	o := newOrchestrator(t, f)

	dispatch(t, o, "https://example.com")
	dispatch(t, o, "design test cases")
	dispatch(t, o, "implement the code")

	_, err := dispatch(t, o, "verify")
	if !errors.Is(err, ErrStreamTruncated) {
		t.Fatalf("expected ErrStreamTruncated, got %v", err)
	}
	if o.Phase() != phase.Implemented {
		t.Errorf("phase after truncated stream: got %v, want implemented", o.Phase())
	}
}

func TestDispatchWhileBusyIsRejected(t *testing.T) {
	f := newFakeBackend(t)
	f.chatGate = make(chan struct{})
	o := newOrchestrator(t, f)

	ch, err := o.Dispatch(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	before := len(o.Timeline())
	if _, err := o.Dispatch(context.Background(), "hi again"); !errors.Is(err, ErrBusy) {
		t.Errorf("expected ErrBusy, got %v", err)
	}
	if len(o.Timeline()) != before {
		t.Error("a rejected dispatch must not touch the timeline")
	}

	close(f.chatGate)
	drain(t, ch)

	if o.Busy() {
		t.Error("orchestrator should be idle after the action finishes")
	}
}

func TestChatRefinementReplacesTestCases(t *testing.T) {
	f := newFakeBackend(t)
	o := newOrchestrator(t, f)

	dispatch(t, o, "https://example.com")
	dispatch(t, o, "design test cases")

	f.chatBody = `{
		"success": true,
		"response": "Added an edge case for empty passwords.",
		"action_taken": "refine_test_cases",
		"test_cases": [
			{"id": "TC001", "title": "Valid login"},
			{"id": "TC002", "title": "Invalid login"},
			{"id": "TC003", "title": "Empty password"}
		]
	}`
	// "test case" wording with cases already designed is conversation, not a
	// design trigger.
	ups, err := dispatch(t, o, "add a test case for empty passwords")
	if err != nil {
		t.Fatalf("chat failed: %v", err)
	}

	if f.designCalls.Load() != 1 {
		t.Errorf("design endpoint called %d times, want 1", f.designCalls.Load())
	}
	if got := o.TestCases(); len(got) != 3 || got[2].ID != "TC003" {
		t.Errorf("refined test cases not applied: %+v", got)
	}
	if o.Phase() != phase.Designed {
		t.Errorf("chat must not change phase, got %v", o.Phase())
	}
	msgs := assistantContents(ups)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "edge case") {
		t.Errorf("chat response: %q", msgs)
	}
}

func TestResetClearsSession(t *testing.T) {
	f := newFakeBackend(t)
	o := newOrchestrator(t, f)

	dispatch(t, o, "https://example.com")
	oldID := o.SessionID()

	msg := o.Reset(context.Background())

	if o.Phase() != phase.Idle {
		t.Errorf("phase after reset: %v", o.Phase())
	}
	if m := o.Metrics(); m.TokensUsed != 0 || m.AvgResponseTime != 0 {
		t.Errorf("metrics after reset: %+v", m)
	}
	tl := o.Timeline()
	if len(tl) != 1 || tl[0].Content != msg.Content {
		t.Errorf("timeline after reset should hold one confirmation message, got %+v", tl)
	}
	if o.SessionID() == oldID {
		t.Error("reset should rotate the session ID")
	}
}

func TestResetDuringStreamDropsStaleResults(t *testing.T) {
	f := newFakeBackend(t)
	gate := make(chan struct{})
	// A verify stream that sends its start record, then stalls until released.
	orig := f.srv.Config.Handler
	mux := http.NewServeMux()
	mux.HandleFunc("/api/verify-stream", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"event\": \"start\", \"data\": {}}\n")
		w.(http.Flusher).Flush()
		<-gate
		io.WriteString(w, "data: {\"event\": \"complete\", \"data\": {\"success\": true, \"passed\": 1, \"failed\": 0, \"total\": 1, \"duration\": 0.1}}\n")
	})
	mux.Handle("/", orig)
	f.srv.Config.Handler = mux

	o := newOrchestrator(t, f)
	dispatch(t, o, "https://example.com")
	dispatch(t, o, "design test cases")
	dispatch(t, o, "implement the code")

	ch, err := o.Dispatch(context.Background(), "verify")
	if err != nil {
		t.Fatalf("verify dispatch: %v", err)
	}

	// Wait for the start record to land in the timeline.
	deadline := time.After(5 * time.Second)
	for {
		tl := o.Timeline()
		if len(tl) > 0 && strings.Contains(tl[len(tl)-1].Content, "Running") {
			break
		}
		select {
		case <-deadline:
			t.Fatal("start record never arrived")
		case <-time.After(10 * time.Millisecond):
		}
	}

	o.Reset(context.Background())
	close(gate)
	drain(t, ch)

	if o.Phase() != phase.Idle {
		t.Errorf("stale stream results must not change the reset session, phase %v", o.Phase())
	}
	if tl := o.Timeline(); len(tl) != 1 {
		t.Errorf("timeline after reset should stay at the confirmation message, got %d entries", len(tl))
	}
	if o.Busy() {
		t.Error("reset must clear the busy flag immediately")
	}

	// The orchestrator accepts new work right away.
	if _, err := o.Dispatch(context.Background(), "https://example.com"); err != nil {
		t.Errorf("dispatch after reset: %v", err)
	}
}

func TestExportCode(t *testing.T) {
	f := newFakeBackend(t)
	o := newOrchestrator(t, f)

	if _, err := o.ExportCode(t.TempDir()); !errors.Is(err, ErrNoCode) {
		t.Fatalf("expected ErrNoCode before implement, got %v", err)
	}

	dispatch(t, o, "https://example.com")
	dispatch(t, o, "design test cases")
	dispatch(t, o, "implement the code")

	dir := t.TempDir()
	path, err := o.ExportCode(dir)
	if err != nil {
		t.Fatalf("ExportCode: %v", err)
	}
	if filepath.Base(path) != "generated_test.py" {
		t.Errorf("export filename: got %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading exported file: %v", err)
	}
	if !strings.Contains(string(data), "import pytest") {
		t.Errorf("exported content: %q", string(data))
	}
}

func TestEmptyInputRejected(t *testing.T) {
	f := newFakeBackend(t)
	o := newOrchestrator(t, f)

	if _, err := o.Dispatch(context.Background(), "   "); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestCheckHealth(t *testing.T) {
	f := newFakeBackend(t)
	o := newOrchestrator(t, f)

	if got := o.CheckHealth(context.Background()); got != session.StatusConnected {
		t.Errorf("health against live backend: got %v", got)
	}

	f.srv.Close()
	if got := o.CheckHealth(context.Background()); got != session.StatusDisconnected {
		t.Errorf("health against dead backend: got %v", got)
	}
	if o.Status() != session.StatusDisconnected {
		t.Error("status should be recorded on the session")
	}
}
