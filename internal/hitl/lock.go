package hitl

import (
	"strings"
	"sync"

	"workbench/internal/chat"
)

// hitlLookup is the slice of the message store the lock logic needs.
type hitlLookup interface {
	LatestHITLMessage(sessionID string) (chat.Message, bool)
}

// LockRegistry 输入锁状态机：未决 hitl 锁定输入，modify 解锁单条消息
// LockRegistry derives the input-lock state. Input for a session is locked
// while its newest hitl message is neither unlocked (the human picked a
// modify-style action) nor resolved (any other decision went through).
// Terminal states are never cleared: a brand-new unresolved hitl message
// re-locks input regardless of earlier unlocks.
type LockRegistry struct {
	mu       sync.Mutex
	unlocked map[string]struct{}
	resolved map[string]struct{}
}

func NewLockRegistry() *LockRegistry {
	return &LockRegistry{
		unlocked: make(map[string]struct{}),
		resolved: make(map[string]struct{}),
	}
}

// Unlock enables input for one message id without clearing its prompt.
func (r *LockRegistry) Unlock(messageID string) {
	r.mu.Lock()
	r.unlocked[messageID] = struct{}{}
	r.mu.Unlock()
}

// Resolve records that a decision for the message went through.
func (r *LockRegistry) Resolve(messageID string) {
	r.mu.Lock()
	r.resolved[messageID] = struct{}{}
	r.mu.Unlock()
}

// IsUnlocked reports whether the message is in the unlocked set.
func (r *LockRegistry) IsUnlocked(messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.unlocked[messageID]
	return ok
}

// InputLocked reports whether the session's text input must stay disabled.
func (r *LockRegistry) InputLocked(messages hitlLookup, sessionID string) bool {
	msg, ok := messages.LatestHITLMessage(sessionID)
	if !ok {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, unlocked := r.unlocked[msg.ID]; unlocked {
		return false
	}
	if _, resolved := r.resolved[msg.ID]; resolved {
		return false
	}
	return true
}

// isModifyIntent reports whether the action id asks to edit instead of
// deciding, e.g. "modify" or "edit_schema".
func isModifyIntent(actionID string) bool {
	lowered := strings.ToLower(strings.TrimSpace(actionID))
	return strings.Contains(lowered, "modify") || strings.Contains(lowered, "edit")
}
