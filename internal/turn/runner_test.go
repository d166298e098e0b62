package turn

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"workbench/internal/chat"
	"workbench/internal/fallback"
	"workbench/internal/store"
	"workbench/internal/stream"
)

// ndjsonHandler streams each frame as one newline-terminated line.
func ndjsonHandler(frames ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, _ := w.(http.Flusher)
		for _, frame := range frames {
			fmt.Fprintf(w, "%s\n", frame)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func newRunner(t *testing.T, baseURL string, sched fallback.Scheduler, opts Options) (*Runner, *store.Store) {
	t.Helper()
	st := store.New()
	transport := stream.NewTransport(baseURL, 2*time.Second)
	sim := fallback.New(sched, time.Millisecond)
	if opts.OnParseError == nil {
		opts.OnParseError = func(error) {}
	}
	return NewRunner(transport, sim, st, opts), st
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("turn did not finish")
	}
}

// driveUntilDone pumps the manual scheduler until the turn completes. The
// simulator schedules each emission from inside the previous one, so the
// queue refills as we fire.
func driveUntilDone(t *testing.T, sched *fallback.ManualScheduler, h *Handle) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case <-h.Done():
			return
		case <-deadline:
			t.Fatal("simulated turn did not finish")
		default:
			if !sched.Fire() {
				time.Sleep(time.Millisecond)
			}
		}
	}
}

func TestStartStreamsTurnToCompletion(t *testing.T) {
	srv := httptest.NewServer(ndjsonHandler(
		`{"render_type":"start","total_steps":2}`,
		`{"render_type":"step","step":1,"step_name":"Analyze"}`,
		`{"render_type":"text","message":"Hello "}`,
		`{"render_type":"text","message":"world"}`,
		`{"render_type":"done","message":"","meta":{"contentType":"markdown"}}`,
	))
	defer srv.Close()

	runner, st := newRunner(t, srv.URL, &fallback.ManualScheduler{}, Options{UserID: "local"})
	handle := runner.Start(context.Background(), "describe the data flow")
	waitDone(t, handle)

	msg, ok := st.Message(handle.MessageID)
	if !ok {
		t.Fatal("placeholder message missing")
	}
	if msg.Content != "Hello world" {
		t.Fatalf("content = %q", msg.Content)
	}
	if msg.Streaming {
		t.Fatal("message still marked streaming after done")
	}
	if msg.ContentType != chat.ContentMarkdown {
		t.Fatalf("contentType = %q", msg.ContentType)
	}
	if msg.Metadata.Step.Total != 2 || msg.Metadata.Step.Title != "Analyze" {
		t.Fatalf("step = %+v", msg.Metadata.Step)
	}

	sessions := st.Sessions()
	if len(sessions) != 1 || sessions[0].Title != "describe the data flow" {
		t.Fatalf("sessions = %+v", sessions)
	}
	if got := st.MessagesForSession(sessions[0].ID); len(got) != 2 {
		t.Fatalf("messages = %d, want user + agent", len(got))
	}
}

func TestStartFallsBackWhenBackendUnreachable(t *testing.T) {
	sched := &fallback.ManualScheduler{}
	runner, st := newRunner(t, "http://127.0.0.1:1", sched, Options{})

	handle := runner.Start(context.Background(), "design a model for orders")
	driveUntilDone(t, sched, handle)

	msg, _ := st.Message(handle.MessageID)
	if msg.Content == "" {
		t.Fatal("fallback produced no content")
	}
	if msg.Streaming {
		t.Fatal("fallback turn did not finalize")
	}
	if msg.HITL == nil {
		t.Fatal("schema scenario should end with a hitl prompt")
	}
	if msg.Metadata.Table == nil || len(msg.Metadata.Table.Rows) == 0 {
		t.Fatalf("schema scenario should stream table rows, metadata = %+v", msg.Metadata)
	}
}

func TestMalformedFramesSkipped(t *testing.T) {
	srv := httptest.NewServer(ndjsonHandler(
		`{"render_type":"text","message":"keep "}`,
		`{not json`,
		`{"render_type":"text","message":"going"}`,
		`{"render_type":"done","message":""}`,
	))
	defer srv.Close()

	var mu sync.Mutex
	var parseErrs []error
	runner, st := newRunner(t, srv.URL, &fallback.ManualScheduler{}, Options{
		OnParseError: func(err error) {
			mu.Lock()
			parseErrs = append(parseErrs, err)
			mu.Unlock()
		},
	})

	handle := runner.Start(context.Background(), "hi")
	waitDone(t, handle)

	msg, _ := st.Message(handle.MessageID)
	if msg.Content != "keep going" {
		t.Fatalf("content = %q", msg.Content)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(parseErrs) != 1 {
		t.Fatalf("parse errors = %v", parseErrs)
	}
}

func TestCancelAbortsTurn(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"render_type":"text","message":"partial"}`+"\n")
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	runner, st := newRunner(t, srv.URL, &fallback.ManualScheduler{}, Options{})
	handle := runner.Start(context.Background(), "hi")

	waitForContent(t, st, handle.MessageID, "partial")
	handle.Cancel()
	waitDone(t, handle)

	msg, _ := st.Message(handle.MessageID)
	if msg.Content != "partial" {
		t.Fatalf("content = %q, accumulated text must survive cancel", msg.Content)
	}
}

func waitForContent(t *testing.T, st *store.Store, messageID, want string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msg, ok := st.Message(messageID); ok && msg.Content == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("message %s never reached content %q", messageID, want)
}

func TestIdleStreamContinuesLocally(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"render_type":"text","message":"from backend. "}`+"\n")
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		// Stall without closing; the idle timeout takes over.
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	sched := &fallback.ManualScheduler{}
	runner, st := newRunner(t, srv.URL, sched, Options{IdleTimeout: 30 * time.Millisecond})
	handle := runner.Start(context.Background(), "hi")
	driveUntilDone(t, sched, handle)

	msg, _ := st.Message(handle.MessageID)
	if !strings.HasPrefix(msg.Content, "from backend. ") {
		t.Fatalf("content = %q, backend prefix must be preserved", msg.Content)
	}
	if len(msg.Content) <= len("from backend. ") {
		t.Fatal("simulator appended nothing after the idle cutover")
	}
	if msg.Streaming {
		t.Fatal("turn did not finalize after local continuation")
	}
}

func TestRunActionStreamsContinuation(t *testing.T) {
	srv := httptest.NewServer(ndjsonHandler(
		`{"render_type":"text","message":"Schema applied."}`,
		`{"render_type":"done","message":""}`,
	))
	defer srv.Close()

	runner, st := newRunner(t, srv.URL, &fallback.ManualScheduler{}, Options{})
	sessionID := st.StartSession("data-modeler", "t")

	env := stream.ActionEnvelope{HITLActionResult: stream.ActionResult{
		ActionID:  "approve",
		MessageID: "m1",
		SessionID: sessionID,
	}}
	msg, err := runner.RunAction(context.Background(), env)
	if err != nil {
		t.Fatalf("RunAction: %v", err)
	}
	if msg.Content != "Schema applied." || msg.Streaming {
		t.Fatalf("continuation = %+v", msg)
	}
	if msg.SessionID != sessionID {
		t.Fatalf("sessionID = %q", msg.SessionID)
	}
}

func TestRunActionReportsUnreachableBackend(t *testing.T) {
	runner, _ := newRunner(t, "http://127.0.0.1:1", &fallback.ManualScheduler{}, Options{})
	_, err := runner.RunAction(context.Background(), stream.ActionEnvelope{})
	if err == nil {
		t.Fatal("decisions have no local fallback; unreachable backend must error")
	}
}

func TestDeriveTitle(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"short question", "short question"},
		{"first line\nsecond line", "first line"},
		{strings.Repeat("x", 60), strings.Repeat("x", 48) + "..."},
		{"", "New session"},
	}
	for _, tc := range cases {
		if got := deriveTitle(tc.in); got != tc.want {
			t.Fatalf("deriveTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
