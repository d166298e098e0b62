package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"workbench/internal/accumulate"
	"workbench/internal/chat"
	"workbench/internal/fallback"
	"workbench/internal/store"
	"workbench/internal/stream"
)

// errIdle marks a transport that stopped delivering frames without closing.
// It is handled like a mid-stream interruption: fallback continues the turn.
var errIdle = errors.New("stream idle timeout")

// Options configure a Runner.
type Options struct {
	// AgentKind names the backend agent; stamped on auto-created sessions.
	AgentKind string
	// UserID travels in the turn request body.
	UserID string
	// IdleTimeout bounds the wait for the next frame. A stalled transport
	// that never closes would otherwise hang the typing indicator forever.
	IdleTimeout time.Duration
	// OnParseError receives malformed-frame errors; they are logged and
	// skipped, never fatal. Defaults to stderr.
	OnParseError func(err error)
	// OnApply fires after each event lands in the store, so a UI can
	// re-render the message.
	OnApply func(messageID string)
}

// Runner 执行一个回合：占位消息、流式读取或本地回退、事件折叠、终结
// Runner drives one turn: append the user message and an agent
// placeholder, stream frames from the transport (or simulate locally),
// fold normalized events into the placeholder until done, finalize.
type Runner struct {
	transport *stream.Transport
	simulator *fallback.Simulator
	acc       *accumulate.Accumulator
	store     *store.Store
	opts      Options
}

func NewRunner(transport *stream.Transport, simulator *fallback.Simulator, s *store.Store, opts Options) *Runner {
	if opts.AgentKind == "" {
		opts.AgentKind = "data-modeler"
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Second
	}
	if opts.OnParseError == nil {
		opts.OnParseError = func(err error) {
			fmt.Fprintf(os.Stderr, "skipping malformed frame: %v\n", err)
		}
	}
	return &Runner{
		transport: transport,
		simulator: simulator,
		acc:       accumulate.New(s),
		store:     s,
		opts:      opts,
	}
}

// Handle tracks one in-flight turn.
type Handle struct {
	MessageID string
	cancel    context.CancelFunc
	done      chan struct{}
	finish    sync.Once
}

func (h *Handle) markDone() {
	h.finish.Do(func() { close(h.done) })
}

// Done is closed when the turn finishes or is abandoned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the turn finishes.
func (h *Handle) Wait() { <-h.done }

// Cancel aborts the turn: the read loop and any simulator timer stop, and
// no further events reach the abandoned message id.
func (h *Handle) Cancel() { h.cancel() }

// Start submits userInput as a new turn. A session is created on first use
// if none is selected.
func (r *Runner) Start(ctx context.Context, userInput string) *Handle {
	sessionID := r.store.CurrentSessionID()
	if sessionID == "" {
		sessionID = r.store.StartSession(r.opts.AgentKind, deriveTitle(userInput))
	}

	r.store.AddMessage(chat.Message{Role: chat.RoleUser, Content: userInput, SessionID: sessionID})
	placeholder := r.store.AddMessage(chat.Message{
		Role:      chat.RoleAgent,
		SessionID: sessionID,
		Streaming: true,
	})

	turnCtx, cancel := context.WithCancel(ctx)
	handle := &Handle{MessageID: placeholder.ID, cancel: cancel, done: make(chan struct{})}
	go r.run(turnCtx, userInput, sessionID, placeholder.ID, handle)
	return handle
}

func (r *Runner) run(ctx context.Context, userInput, sessionID, messageID string, handle *Handle) {
	request := stream.TurnRequest{Message: userInput, UserID: r.opts.UserID, ThreadID: sessionID}
	src, err := r.transport.Open(ctx, request)
	if err != nil {
		if errors.Is(err, stream.ErrUnavailable) {
			// Silent fallback: the user never sees a connection error.
			r.simulate(ctx, userInput, messageID, handle)
			return
		}
		// Canceled before the connection opened.
		handle.markDone()
		return
	}

	sawDone, pumpErr := r.pump(ctx, src, messageID)
	switch {
	case sawDone:
		handle.markDone()
	case ctx.Err() != nil:
		handle.markDone()
	default:
		// Interrupted or idle before the terminal event: accumulated
		// content is preserved and the simulator continues the turn.
		if pumpErr != nil && !errors.Is(pumpErr, io.EOF) {
			r.opts.OnParseError(fmt.Errorf("stream interrupted, continuing locally: %v", pumpErr))
		}
		r.simulate(ctx, userInput, messageID, handle)
	}
}

// pump reads chunks, splits frames, parses and applies events until the
// terminal done event, a transport error, or the idle timeout.
func (r *Runner) pump(ctx context.Context, src *stream.ChunkSource, messageID string) (bool, error) {
	defer src.Close()

	type chunkMsg struct {
		text string
		err  error
	}
	chunks := make(chan chunkMsg)
	readerDone := make(chan struct{})
	defer close(readerDone)
	go func() {
		for {
			text, err := src.Next()
			select {
			case chunks <- chunkMsg{text: text, err: err}:
			case <-readerDone:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	splitter := &stream.FrameSplitter{}
	idle := time.NewTimer(r.opts.IdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-idle.C:
			return false, errIdle
		case msg := <-chunks:
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(r.opts.IdleTimeout)

			for _, frame := range splitter.Feed(msg.text) {
				if r.applyFrame(messageID, frame) {
					return true, nil
				}
			}
			if msg.err != nil {
				if msg.err == io.EOF {
					// The server may close without terminating the
					// last frame with a newline.
					if rest := splitter.Rest(); rest != "" {
						if r.applyFrame(messageID, rest) {
							return true, nil
						}
					}
				}
				return false, msg.err
			}
		}
	}
}

// applyFrame parses one frame and applies it; reports whether it was the
// terminal event. Malformed frames are logged and skipped.
func (r *Runner) applyFrame(messageID, frame string) bool {
	if frame == "" {
		return false
	}
	event, err := stream.Parse(frame)
	if err != nil {
		r.opts.OnParseError(err)
		return false
	}
	r.acc.Apply(messageID, event)
	if r.opts.OnApply != nil {
		r.opts.OnApply(messageID)
	}
	return event.Kind == stream.EventDone
}

// simulate continues the turn locally, preserving whatever was already
// accumulated for the message.
func (r *Runner) simulate(ctx context.Context, userInput, messageID string, handle *Handle) {
	if ctx.Err() != nil {
		handle.markDone()
		return
	}
	run := r.simulator.Simulate(userInput, messageID, func(id string, event stream.Event) {
		if ctx.Err() != nil {
			return
		}
		r.acc.Apply(id, event)
		if r.opts.OnApply != nil {
			r.opts.OnApply(id)
		}
	}, func() {
		handle.markDone()
	})
	go func() {
		select {
		case <-ctx.Done():
			run.Cancel()
			handle.markDone()
		case <-handle.done:
		}
	}()
}

// RunAction streams the backend's reaction to a HITL decision into a new
// agent message and returns it finalized. There is no local fallback for
// decisions; an unreachable backend is reported to the caller.
func (r *Runner) RunAction(ctx context.Context, env stream.ActionEnvelope) (chat.Message, error) {
	src, err := r.transport.Open(ctx, env)
	if err != nil {
		return chat.Message{}, fmt.Errorf("submit decision: %w", err)
	}

	placeholder := r.store.AddMessage(chat.Message{
		Role:      chat.RoleAgent,
		SessionID: env.HITLActionResult.SessionID,
		Streaming: true,
	})
	sawDone, pumpErr := r.pump(ctx, src, placeholder.ID)
	if ctx.Err() != nil {
		return chat.Message{}, ctx.Err()
	}

	final, _ := r.store.Message(placeholder.ID)
	if !sawDone {
		if final.Content == "" {
			return chat.Message{}, fmt.Errorf("decision stream ended early: %w", pumpErr)
		}
		// Partial continuation beats none: close it out with what arrived.
		streaming := false
		_ = r.store.UpdateMessage(placeholder.ID, store.MessageUpdate{Streaming: &streaming})
		final, _ = r.store.Message(placeholder.ID)
	}
	return final, nil
}

// deriveTitle trims the first user input into a session title.
func deriveTitle(userInput string) string {
	const maxLen = 48
	title := userInput
	if idx := strings.IndexAny(title, "\n\r"); idx >= 0 {
		title = title[:idx]
	}
	if len(title) > maxLen {
		title = title[:maxLen] + "..."
	}
	if title == "" {
		title = "New session"
	}
	return title
}
