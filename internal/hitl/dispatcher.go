package hitl

import (
	"context"
	"time"

	"workbench/internal/chat"
	"workbench/internal/store"
	"workbench/internal/stream"
)

// submitFailureText is what the user sees when a decision cannot reach the
// backend. Failures surface as an agent message, never as a raw error.
const submitFailureText = "Sorry, I could not submit your decision to the backend. " +
	"Please check the connection and try again."

// ContinuationFunc streams the backend's reaction to a decision into a new
// agent message and returns the finalized message. The turn runner
// provides it at wiring time.
type ContinuationFunc func(ctx context.Context, env stream.ActionEnvelope) (chat.Message, error)

// Dispatcher 提交人工决策并维护输入锁
// Dispatcher submits human decisions for a message and governs the input
// lock around them.
type Dispatcher struct {
	store        *store.Store
	locks        *LockRegistry
	continuation ContinuationFunc
}

func NewDispatcher(s *store.Store, locks *LockRegistry, fn ContinuationFunc) *Dispatcher {
	return &Dispatcher{store: s, locks: locks, continuation: fn}
}

// Locks exposes the registry for UI lock queries.
func (d *Dispatcher) Locks() *LockRegistry { return d.locks }

// Submit sends the decision identified by actionID for messageID, with an
// optional form payload, and returns the backend's continuation message.
// Modify-style actions unlock input for that message immediately, without
// waiting for the round trip; other actions resolve the prompt only after
// the round trip succeeds.
func (d *Dispatcher) Submit(ctx context.Context, actionID, messageID string, payload map[string]any) (chat.Message, error) {
	msg, ok := d.store.Message(messageID)
	sessionID := ""
	if ok {
		sessionID = msg.SessionID
	}

	if isModifyIntent(actionID) {
		d.locks.Unlock(messageID)
	}

	env := stream.ActionEnvelope{HITLActionResult: stream.ActionResult{
		ActionID:    actionID,
		MessageID:   messageID,
		SessionID:   sessionID,
		Payload:     payload,
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	}}

	continuation, err := d.continuation(ctx, env)
	if err != nil {
		if ctx.Err() != nil {
			return chat.Message{}, ctx.Err()
		}
		apology := d.store.AddMessage(chat.Message{
			Role:      chat.RoleAgent,
			Content:   submitFailureText,
			SessionID: sessionID,
		})
		return apology, nil
	}

	if !isModifyIntent(actionID) {
		d.locks.Resolve(messageID)
	}
	return continuation, nil
}
