package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"workbench/internal/chat"
)

// Collaborator mirrors store mutations to an external session keeper
// (HTTP session CRUD, local archive). Calls are best-effort: they run off
// the store's lock and their errors are suppressed.
type Collaborator interface {
	TouchSession(ctx context.Context, id string) error
	RecordMessage(ctx context.Context, msg chat.Message) error
}

// SessionSaver is an optional collaborator extension: implementors are told
// about newly started sessions.
type SessionSaver interface {
	SaveSession(ctx context.Context, session chat.Session) error
}

// SessionClearer is an optional collaborator extension: implementors mirror
// a full clear.
type SessionClearer interface {
	ClearSessions(ctx context.Context) error
}

// Store 进程级会话与消息状态；唯一的共享可变资源
// Store is the process-wide session and message state. It is the only
// shared mutable resource: all mutation goes through the operations below,
// each serialized by one mutex, which also serializes per-message event
// application.
type Store struct {
	mu            sync.Mutex
	sessions      []*chat.Session
	messages      []*chat.Message
	byID          map[string]*chat.Message
	currentID     string
	collaborators []Collaborator
}

func New(collaborators ...Collaborator) *Store {
	return &Store{
		byID:          make(map[string]*chat.Message),
		collaborators: collaborators,
	}
}

// StartSession creates a session and makes it current.
func (s *Store) StartSession(agentKind, title string) string {
	now := nowUTC()
	session := &chat.Session{
		ID:          newSessionID(),
		AgentKind:   agentKind,
		Title:       title,
		CreatedAt:   now,
		LastUpdated: now,
	}
	s.mu.Lock()
	s.sessions = append(s.sessions, session)
	s.currentID = session.ID
	s.mu.Unlock()

	snapshot := *session
	s.withCollaborators(func(ctx context.Context, c Collaborator) {
		if saver, ok := c.(SessionSaver); ok {
			_ = saver.SaveSession(ctx, snapshot)
		}
	})
	return session.ID
}

// AdoptSession inserts a previously persisted session verbatim, without
// selecting it or notifying collaborators. Used to rehydrate from the
// archive on startup.
func (s *Store) AdoptSession(session chat.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.ID == session.ID {
			return
		}
	}
	stored := session
	s.sessions = append(s.sessions, &stored)
}

// AdoptMessage inserts a previously persisted message verbatim, without
// notifying collaborators.
func (s *Store) AdoptMessage(msg chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[msg.ID]; ok {
		return
	}
	stored := msg
	s.messages = append(s.messages, &stored)
	s.byID[stored.ID] = &stored
}

// SetCurrentSession switches the current session; empty id clears the
// selection. Switching never deletes other sessions.
func (s *Store) SetCurrentSession(id string) {
	s.mu.Lock()
	s.currentID = id
	s.mu.Unlock()
}

// CurrentSessionID returns the current session id, or "".
func (s *Store) CurrentSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// Sessions returns a snapshot of all sessions.
func (s *Store) Sessions() []chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, *session)
	}
	return out
}

// AddMessage appends a message, assigning the current session id when the
// message omits one and a fresh id when unset, and bumps the owning
// session's lastUpdated. Returns the stored copy.
func (s *Store) AddMessage(msg chat.Message) chat.Message {
	s.mu.Lock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == "" {
		msg.Timestamp = nowUTC()
	}
	if msg.SessionID == "" {
		msg.SessionID = s.currentID
	}
	if msg.ContentType == "" {
		msg.ContentType = chat.ContentText
	}
	stored := msg
	s.messages = append(s.messages, &stored)
	s.byID[stored.ID] = &stored
	s.bumpSessionLocked(stored.SessionID)
	s.mu.Unlock()

	s.notify(stored)
	return stored
}

// MessageUpdate is a shallow partial: nil fields leave the message as-is.
type MessageUpdate struct {
	Content     *string
	ContentType *chat.ContentType
	Metadata    *chat.Metadata
	HITL        *chat.HITLPrompt
	Streaming   *bool
}

// UpdateMessage shallow-merges update into the stored message.
func (s *Store) UpdateMessage(id string, update MessageUpdate) error {
	s.mu.Lock()
	msg, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("message not found: %s", id)
	}
	if update.Content != nil {
		msg.Content = *update.Content
	}
	if update.ContentType != nil {
		msg.ContentType = *update.ContentType
	}
	if update.Metadata != nil {
		msg.Metadata = *update.Metadata
	}
	if update.HITL != nil {
		msg.HITL = update.HITL
	}
	if update.Streaming != nil {
		msg.Streaming = *update.Streaming
	}
	s.bumpSessionLocked(msg.SessionID)
	snapshot := *msg
	s.mu.Unlock()

	s.notify(snapshot)
	return nil
}

// Mutate applies fn to the stored message under the store lock. Events for
// one message id are applied through here, so no two applications for the
// same id can interleave between read and write.
func (s *Store) Mutate(id string, fn func(*chat.Message)) bool {
	s.mu.Lock()
	msg, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	fn(msg)
	s.bumpSessionLocked(msg.SessionID)
	snapshot := *msg
	s.mu.Unlock()

	s.notify(snapshot)
	return true
}

// Message returns a copy of the message with the given id.
func (s *Store) Message(id string) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.byID[id]
	if !ok {
		return chat.Message{}, false
	}
	return *msg, true
}

// MessagesForSession returns copies of the session's messages in append
// order.
func (s *Store) MessagesForSession(sessionID string) []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []chat.Message
	for _, msg := range s.messages {
		if msg.SessionID == sessionID {
			out = append(out, *msg)
		}
	}
	return out
}

// LatestHITLMessage returns the newest message in the session carrying a
// hitl prompt; the input-lock state machine is keyed on it.
func (s *Store) LatestHITLMessage(sessionID string) (chat.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.messages) - 1; i >= 0; i-- {
		msg := s.messages[i]
		if msg.SessionID == sessionID && msg.HITL != nil {
			return *msg, true
		}
	}
	return chat.Message{}, false
}

// ClearAll drops every session and message, mirroring the clear to any
// collaborator that supports it.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.sessions = nil
	s.messages = nil
	s.byID = make(map[string]*chat.Message)
	s.currentID = ""
	s.mu.Unlock()

	s.withCollaborators(func(ctx context.Context, c Collaborator) {
		if clearer, ok := c.(SessionClearer); ok {
			_ = clearer.ClearSessions(ctx)
		}
	})
}

func (s *Store) bumpSessionLocked(sessionID string) {
	for _, session := range s.sessions {
		if session.ID == sessionID {
			session.LastUpdated = nowUTC()
			return
		}
	}
}

// notify fans the mutation out to collaborators without blocking the
// caller; collaborator failures never fail the in-memory operation.
func (s *Store) notify(msg chat.Message) {
	s.withCollaborators(func(ctx context.Context, c Collaborator) {
		_ = c.RecordMessage(ctx, msg)
		if msg.SessionID != "" {
			_ = c.TouchSession(ctx, msg.SessionID)
		}
	})
}

func (s *Store) withCollaborators(fn func(ctx context.Context, c Collaborator)) {
	if len(s.collaborators) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, c := range s.collaborators {
			fn(ctx, c)
		}
	}()
}

func newSessionID() string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	return fmt.Sprintf("sess_%d_%s", time.Now().UTC().Unix(), hex.EncodeToString(buf))
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
