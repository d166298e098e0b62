package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"workbench/internal/chat"
	"workbench/internal/stream"
)

// Server 开发用后端：会话 CRUD 加 NDJSON 流式 /stream
// Server is the development backend: session CRUD plus the NDJSON /stream
// endpoint in the current wire shape. Sessions live in memory, matching
// the contract the client consumes.
type Server struct {
	mu       sync.Mutex
	sessions map[string]*chat.Session
	gen      Generator
	interval time.Duration
}

func New(gen Generator, interval time.Duration) *Server {
	if gen == nil {
		gen = CannedGenerator{}
	}
	if interval <= 0 {
		interval = 150 * time.Millisecond
	}
	return &Server{
		sessions: make(map[string]*chat.Session),
		gen:      gen,
		interval: interval,
	}
}

// Register mounts all routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/sessions", s.listSessions)
	e.POST("/sessions", s.createSession)
	e.PUT("/sessions/:id", s.touchSession)
	e.DELETE("/sessions", s.clearSessions)
	e.POST("/stream", s.handleStream)
}

func (s *Server) listSessions(c *echo.Context) error {
	s.mu.Lock()
	out := make([]chat.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, *session)
	}
	s.mu.Unlock()
	return c.JSON(http.StatusOK, out)
}

func (s *Server) createSession(c *echo.Context) error {
	var req struct {
		ID    string `json:"id"`
		Agent string `json:"agent"`
		Title string `json:"title"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session payload")
	}
	// Clients that started the session locally keep their id.
	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}
	if strings.TrimSpace(req.Title) == "" {
		req.Title = "Session " + id[:min(len(id), 8)]
	}
	now := time.Now().UTC().Format(time.RFC3339)
	session := &chat.Session{
		ID:          id,
		AgentKind:   req.Agent,
		Title:       req.Title,
		CreatedAt:   now,
		LastUpdated: now,
	}
	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()
	return c.JSON(http.StatusOK, session)
}

func (s *Server) touchSession(c *echo.Context) error {
	id := c.Param("id")
	s.mu.Lock()
	session, ok := s.sessions[id]
	if ok {
		session.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	}
	s.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]bool{"ok": false})
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) clearSessions(c *echo.Context) error {
	s.mu.Lock()
	s.sessions = make(map[string]*chat.Session)
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

// streamRequest accepts both request bodies that arrive on POST /stream:
// a user turn or a HITL decision.
type streamRequest struct {
	Message          string               `json:"message"`
	UserID           string               `json:"user_id"`
	ThreadID         string               `json:"thread_id"`
	HITLActionResult *stream.ActionResult `json:"hitlActionResult"`
}

func (s *Server) handleStream(c *echo.Context) error {
	var req streamRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid stream payload")
	}

	rw := c.Response()
	rw.Header().Set("Content-Type", "application/x-ndjson")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.WriteHeader(http.StatusOK)

	ctx := c.Request().Context()
	emit := func(event stream.Event) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(encodeChunk(event))
		if err != nil {
			return fmt.Errorf("marshal chunk: %w", err)
		}
		if _, err := fmt.Fprintf(rw, "%s\n", data); err != nil {
			return err
		}
		if f, ok := rw.(http.Flusher); ok {
			f.Flush()
		}
		// Fixed cadence so clients exercise their partial-read path.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.interval):
		}
		return nil
	}

	if req.HITLActionResult != nil {
		_ = s.gen.Continue(ctx, *req.HITLActionResult, emit)
		return nil
	}
	_ = s.gen.Generate(ctx, req.Message, emit)
	return nil
}

// wireChunk is the current wire shape written to clients.
type wireChunk struct {
	RenderType string    `json:"render_type"`
	Message    any       `json:"message,omitempty"`
	Step       int       `json:"step,omitempty"`
	StepName   string    `json:"step_name,omitempty"`
	TotalSteps int       `json:"total_steps,omitempty"`
	Meta       *wireMeta `json:"meta,omitempty"`
}

type wireMeta struct {
	HITL             *chat.HITLPrompt  `json:"hitl,omitempty"`
	ContentType      string            `json:"contentType,omitempty"`
	SuggestedQueries []chat.Suggestion `json:"suggestedQueries,omitempty"`
	Table            *chat.TableData   `json:"table,omitempty"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
}

// encodeChunk is the inverse of the client parser for the current shape.
func encodeChunk(event stream.Event) wireChunk {
	switch event.Kind {
	case stream.EventStart:
		return wireChunk{RenderType: "start", TotalSteps: event.TotalSteps}
	case stream.EventStep:
		return wireChunk{RenderType: "step", Step: event.StepIndex, StepName: event.StepTitle}
	case stream.EventText:
		return wireChunk{RenderType: "text", Message: event.Text}
	case stream.EventTableRow:
		return wireChunk{RenderType: "table", Message: encodeRow(event)}
	case stream.EventDone:
		chunk := wireChunk{RenderType: "done", Message: event.Text}
		if meta := event.Meta; meta != nil {
			chunk.Meta = &wireMeta{
				HITL:             meta.HITL,
				ContentType:      string(meta.ContentType),
				SuggestedQueries: meta.Suggestions,
				Table:            meta.Table,
				Metadata:         meta.Extra,
			}
		}
		return chunk
	}
	return wireChunk{}
}

// encodeRow writes the record with its recorded key order; encoding/json
// would sort map keys and clients derive the table schema from the first
// row's key order.
func encodeRow(event stream.Event) json.RawMessage {
	var buf strings.Builder
	buf.WriteByte('{')
	for i, key := range event.RowKeys {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(key)
		value, err := json.Marshal(event.Row[key])
		if err != nil {
			value = []byte("null")
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return json.RawMessage(buf.String())
}
