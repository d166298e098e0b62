package stream

import (
	"reflect"
	"testing"
)

func TestFrameSplitter_WholeFrames(t *testing.T) {
	var s FrameSplitter
	frames := s.Feed("{\"a\":1}\n{\"b\":2}\n")
	want := []string{`{"a":1}`, `{"b":2}`}
	if !reflect.DeepEqual(frames, want) {
		t.Fatalf("frames = %v, want %v", frames, want)
	}
	if rest := s.Rest(); rest != "" {
		t.Fatalf("rest = %q, want empty", rest)
	}
}

func TestFrameSplitter_PartialHeldBack(t *testing.T) {
	var s FrameSplitter
	if frames := s.Feed(`{"type":"pa`); frames != nil {
		t.Fatalf("partial fragment produced frames: %v", frames)
	}
	frames := s.Feed("ragraph\"}\n{\"half")
	if len(frames) != 1 || frames[0] != `{"type":"paragraph"}` {
		t.Fatalf("frames = %v", frames)
	}
	if rest := s.Rest(); rest != `{"half` {
		t.Fatalf("rest = %q", rest)
	}
}

// The same NDJSON stream must yield identical frames no matter how the
// transport chunks it.
func TestFrameSplitter_ChunkingInvariant(t *testing.T) {
	payload := "{\"a\":1}\n{\"b\":2}\n{\"c\":3}\n"

	collect := func(sizes []int) []string {
		var s FrameSplitter
		var out []string
		pos := 0
		for _, n := range sizes {
			end := pos + n
			if end > len(payload) {
				end = len(payload)
			}
			out = append(out, s.Feed(payload[pos:end])...)
			pos = end
		}
		out = append(out, s.Feed(payload[pos:])...)
		if rest := s.Rest(); rest != "" {
			out = append(out, rest)
		}
		return out
	}

	want := collect([]int{len(payload)})
	chunkings := [][]int{
		{1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
		{3, 7, 2},
		{8, 8},
		{23},
	}
	for _, sizes := range chunkings {
		got := collect(sizes)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("chunking %v: frames = %v, want %v", sizes, got, want)
		}
	}
}

func TestFrameSplitter_EmptyFramesPreserved(t *testing.T) {
	var s FrameSplitter
	frames := s.Feed("\n\nx\n")
	if len(frames) != 3 {
		t.Fatalf("frames = %v, want 3 entries", frames)
	}
	if frames[2] != "x" {
		t.Fatalf("frames[2] = %q", frames[2])
	}
}
