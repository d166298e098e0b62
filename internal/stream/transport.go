package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrUnavailable marks a connection that never opened. Callers switch to
// the fallback simulator instead of surfacing an error to the user.
var ErrUnavailable = errors.New("stream transport unavailable")

// TurnRequest is the body of a user turn on POST /stream.
type TurnRequest struct {
	Message  string `json:"message"`
	UserID   string `json:"user_id,omitempty"`
	ThreadID string `json:"thread_id,omitempty"`
}

// ActionResult is the body of a HITL decision submission on POST /stream.
type ActionResult struct {
	ActionID    string         `json:"actionId"`
	MessageID   string         `json:"messageId"`
	SessionID   string         `json:"sessionId"`
	Payload     map[string]any `json:"payload,omitempty"`
	SubmittedAt string         `json:"submittedAt"`
}

// ActionEnvelope wraps an ActionResult for the wire.
type ActionEnvelope struct {
	HITLActionResult ActionResult `json:"hitlActionResult"`
}

// Transport 打开 /stream 请求并按到达顺序产出原始分片
// Transport opens a /stream request and exposes the response body as a
// lazy, cancelable sequence of raw text chunks.
type Transport struct {
	baseURL    string
	httpClient *http.Client
}

func NewTransport(baseURL string, timeout time.Duration) *Transport {
	return &Transport{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No overall client timeout: a streaming body may legally stay
		// open far longer than any single-request budget. The dial
		// budget and the caller's context bound the rest.
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: timeout,
			},
		},
	}
}

// Open posts body and returns a chunk source on success. A connection that
// never opens (dial failure or non-2xx status) reports ErrUnavailable.
func (t *Transport) Open(ctx context.Context, body any) (*ChunkSource, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/stream", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status=%d", ErrUnavailable, resp.StatusCode)
	}
	return &ChunkSource{ctx: ctx, body: resp.Body, buf: make([]byte, 4096)}, nil
}

// ChunkSource yields raw text fragments in arrival order until the server
// closes the connection. Canceling the open context stops future reads
// without reporting a spurious transport error.
type ChunkSource struct {
	ctx  context.Context
	body io.ReadCloser
	buf  []byte
}

// Next blocks for the next fragment. io.EOF signals a clean close; a
// canceled context returns the context error so callers can tell an
// intentional abort from a transport fault.
func (s *ChunkSource) Next() (string, error) {
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	if s.body == nil {
		return "", io.EOF
	}
	n, err := s.body.Read(s.buf)
	if n > 0 {
		return string(s.buf[:n]), nil
	}
	if err == nil {
		return "", nil
	}
	if err == io.EOF {
		return "", io.EOF
	}
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	return "", fmt.Errorf("read stream chunk: %w", err)
}

// Close releases the underlying connection. Safe to call more than once.
func (s *ChunkSource) Close() error {
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}
