package stats

import (
	"sync"
	"unicode"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"workbench/internal/chat"
)

// Tokenizer 转写 token 计数，tiktoken 不可用时退回启发式
// Tokenizer counts transcript tokens with tiktoken, falling back to a
// heuristic when the BPE tables are unavailable (offline environments).
type Tokenizer struct {
	encoder *tiktoken.Tiktoken
	mu      sync.RWMutex
}

var (
	defaultTokenizer     *Tokenizer
	defaultTokenizerOnce sync.Once
)

// Default returns the shared tokenizer instance.
func Default() *Tokenizer {
	defaultTokenizerOnce.Do(func() {
		defaultTokenizer = NewTokenizer()
	})
	return defaultTokenizer
}

func NewTokenizer() *Tokenizer {
	t := &Tokenizer{}
	if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
		t.encoder = enc
	}
	return t
}

// CountTranscript returns the total token estimate for a message list.
func (t *Tokenizer) CountTranscript(messages []chat.Message) int {
	total := 0
	for _, msg := range messages {
		total += t.CountText(msg.Content)
		// small fixed overhead per message for role and framing
		total += 4
	}
	return total
}

// CountText returns the token estimate for one text block.
func (t *Tokenizer) CountText(text string) int {
	if text == "" {
		return 0
	}
	t.mu.RLock()
	enc := t.encoder
	t.mu.RUnlock()
	if enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return heuristicCount(text)
}

// heuristicCount approximates BPE behavior: ~4 ASCII chars per token,
// CJK closer to one token per rune.
func heuristicCount(text string) int {
	ascii := 0
	wide := 0
	for _, r := range text {
		if r > unicode.MaxASCII {
			wide++
		} else {
			ascii++
		}
	}
	tokens := ascii/4 + wide
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
