package stats

import (
	"testing"

	"workbench/internal/chat"
)

func TestCountTextEmpty(t *testing.T) {
	tok := NewTokenizer()
	if got := tok.CountText(""); got != 0 {
		t.Fatalf("CountText(\"\") = %d, want 0", got)
	}
}

func TestCountTextGrowsWithInput(t *testing.T) {
	tok := NewTokenizer()
	short := tok.CountText("hello")
	long := tok.CountText("hello there, this is a much longer sentence about data models")
	if short <= 0 {
		t.Fatalf("short count = %d", short)
	}
	if long <= short {
		t.Fatalf("long count %d not greater than short count %d", long, short)
	}
}

func TestCountTranscriptAddsPerMessageOverhead(t *testing.T) {
	tok := NewTokenizer()
	messages := []chat.Message{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAgent, Content: "hello"},
	}
	want := tok.CountText("hi") + tok.CountText("hello") + 2*4
	if got := tok.CountTranscript(messages); got != want {
		t.Fatalf("CountTranscript = %d, want %d", got, want)
	}
}

func TestHeuristicCount(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"abcd", 1},
		{"abcdefgh", 2},
		{"ab", 1}, // never zero for non-empty input
		{"数据模型", 4},
		{"ab数据", 2},
	}
	for _, tc := range cases {
		if got := heuristicCount(tc.in); got != tc.want {
			t.Fatalf("heuristicCount(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestDefaultIsShared(t *testing.T) {
	if Default() != Default() {
		t.Fatal("Default must return one shared instance")
	}
}
