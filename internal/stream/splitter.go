package stream

import "strings"

// FrameSplitter 将原始分片切成完整的换行分隔帧，尾部残片留到下次 feed
// FrameSplitter buffers raw chunks and splits them into complete
// newline-terminated frames. The trailing piece of every feed (possibly
// empty, possibly a genuine partial frame) is held back until the next read
// completes it. No frame is ever dropped or emitted twice.
type FrameSplitter struct {
	pending string
}

// Feed appends fragment to the pending buffer and returns all frames
// completed by it. A fragment without a delimiter only grows the buffer.
func (s *FrameSplitter) Feed(fragment string) []string {
	s.pending += fragment
	if !strings.Contains(s.pending, "\n") {
		return nil
	}
	parts := strings.Split(s.pending, "\n")
	s.pending = parts[len(parts)-1]
	return parts[:len(parts)-1]
}

// Rest returns the pending partial frame, if any. The stream end may leave
// one unterminated frame behind; callers flush it through the parser.
func (s *FrameSplitter) Rest() string {
	rest := s.pending
	s.pending = ""
	return rest
}
