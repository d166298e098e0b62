package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"workbench/internal/chat"
)

func TestStartSessionBecomesCurrent(t *testing.T) {
	st := New()
	id := st.StartSession("data-modeler", "First")
	if st.CurrentSessionID() != id {
		t.Fatalf("current = %q, want %q", st.CurrentSessionID(), id)
	}

	second := st.StartSession("data-modeler", "Second")
	if st.CurrentSessionID() != second {
		t.Fatal("second session should become current")
	}
	if len(st.Sessions()) != 2 {
		t.Fatalf("sessions = %d, want 2", len(st.Sessions()))
	}
}

func TestAddMessageAssignsSessionAndID(t *testing.T) {
	st := New()
	sessionID := st.StartSession("data-modeler", "t")

	msg := st.AddMessage(chat.Message{Role: chat.RoleUser, Content: "hi"})
	if msg.ID == "" {
		t.Fatal("message id not assigned")
	}
	if msg.SessionID != sessionID {
		t.Fatalf("sessionID = %q, want current session", msg.SessionID)
	}
	if msg.ContentType != chat.ContentText {
		t.Fatalf("contentType = %q, want text default", msg.ContentType)
	}

	got := st.MessagesForSession(sessionID)
	if len(got) != 1 || got[0].Content != "hi" {
		t.Fatalf("messages = %+v", got)
	}
}

func TestUpdateMessageShallowMerge(t *testing.T) {
	st := New()
	st.StartSession("data-modeler", "t")
	msg := st.AddMessage(chat.Message{Role: chat.RoleAgent, Content: "a", Streaming: true})

	content := "ab"
	streaming := false
	if err := st.UpdateMessage(msg.ID, MessageUpdate{Content: &content, Streaming: &streaming}); err != nil {
		t.Fatalf("UpdateMessage: %v", err)
	}

	got, _ := st.Message(msg.ID)
	if got.Content != "ab" || got.Streaming {
		t.Fatalf("message = %+v", got)
	}
	// Untouched fields survive the partial update.
	if got.Role != chat.RoleAgent {
		t.Fatalf("role = %q", got.Role)
	}

	if err := st.UpdateMessage("missing", MessageUpdate{Content: &content}); err == nil {
		t.Fatal("update of missing message should error")
	}
}

func TestLatestHITLMessage(t *testing.T) {
	st := New()
	sessionID := st.StartSession("data-modeler", "t")

	if _, ok := st.LatestHITLMessage(sessionID); ok {
		t.Fatal("empty session reported a hitl message")
	}

	st.AddMessage(chat.Message{Role: chat.RoleAgent, HITL: &chat.HITLPrompt{Kind: "binary", Title: "first"}})
	st.AddMessage(chat.Message{Role: chat.RoleAgent, Content: "plain"})
	latest := st.AddMessage(chat.Message{Role: chat.RoleAgent, HITL: &chat.HITLPrompt{Kind: "form", Title: "second"}})

	got, ok := st.LatestHITLMessage(sessionID)
	if !ok || got.ID != latest.ID {
		t.Fatalf("latest hitl = %+v, want %s", got, latest.ID)
	}
}

func TestClearAll(t *testing.T) {
	st := New()
	st.StartSession("data-modeler", "t")
	st.AddMessage(chat.Message{Role: chat.RoleUser, Content: "hi"})

	st.ClearAll()
	if st.CurrentSessionID() != "" || len(st.Sessions()) != 0 {
		t.Fatal("clear left state behind")
	}
}

type recordingCollaborator struct {
	mu       sync.Mutex
	touched  []string
	recorded []string
	saved    []string
	cleared  int
	failAll  bool
}

func (r *recordingCollaborator) TouchSession(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touched = append(r.touched, id)
	if r.failAll {
		return context.DeadlineExceeded
	}
	return nil
}

func (r *recordingCollaborator) RecordMessage(_ context.Context, msg chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, msg.ID)
	if r.failAll {
		return context.DeadlineExceeded
	}
	return nil
}

func (r *recordingCollaborator) SaveSession(_ context.Context, session chat.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, session.ID)
	return nil
}

func (r *recordingCollaborator) ClearSessions(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
	return nil
}

func (r *recordingCollaborator) counts() (int, int, int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.touched), len(r.recorded), len(r.saved), r.cleared
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestCollaboratorNotifiedBestEffort(t *testing.T) {
	collab := &recordingCollaborator{}
	st := New(collab)

	sessionID := st.StartSession("data-modeler", "t")
	st.AddMessage(chat.Message{Role: chat.RoleUser, Content: "hi", SessionID: sessionID})

	waitFor(t, func() bool {
		touched, recorded, saved, _ := collab.counts()
		return touched >= 1 && recorded >= 1 && saved >= 1
	})

	st.ClearAll()
	waitFor(t, func() bool {
		_, _, _, cleared := collab.counts()
		return cleared >= 1
	})
}

func TestCollaboratorFailureDoesNotBlockStore(t *testing.T) {
	collab := &recordingCollaborator{failAll: true}
	st := New(collab)
	st.StartSession("data-modeler", "t")

	msg := st.AddMessage(chat.Message{Role: chat.RoleUser, Content: "hi"})
	if msg.ID == "" {
		t.Fatal("in-memory add failed alongside collaborator failure")
	}
	got, ok := st.Message(msg.ID)
	if !ok || got.Content != "hi" {
		t.Fatalf("message = %+v", got)
	}
}

func TestAdoptSessionAndMessageIdempotent(t *testing.T) {
	st := New()
	sess := chat.Session{ID: "sess_1", AgentKind: "data-modeler", Title: "Old"}
	st.AdoptSession(sess)
	st.AdoptSession(sess)
	if len(st.Sessions()) != 1 {
		t.Fatalf("sessions = %d, want 1", len(st.Sessions()))
	}
	if st.CurrentSessionID() != "" {
		t.Fatal("adopt must not select the session")
	}

	msg := chat.Message{ID: "m1", SessionID: "sess_1", Role: chat.RoleUser, Content: "old"}
	st.AdoptMessage(msg)
	st.AdoptMessage(msg)
	if got := st.MessagesForSession("sess_1"); len(got) != 1 {
		t.Fatalf("messages = %+v", got)
	}
}

func TestMutateSerializesApplication(t *testing.T) {
	st := New()
	st.StartSession("data-modeler", "t")
	msg := st.AddMessage(chat.Message{Role: chat.RoleAgent})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.Mutate(msg.ID, func(m *chat.Message) {
				m.Content += "x"
			})
		}()
	}
	wg.Wait()

	got, _ := st.Message(msg.ID)
	if len(got.Content) != 50 {
		t.Fatalf("content length = %d, want 50", len(got.Content))
	}
}
