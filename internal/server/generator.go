package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"workbench/internal/chat"
	"workbench/internal/fallback"
	"workbench/internal/stream"
)

// Generator produces the event sequence for one stream request. emit
// writes one chunk to the client and reports delivery failure.
type Generator interface {
	Generate(ctx context.Context, input string, emit func(stream.Event) error) error
	Continue(ctx context.Context, action stream.ActionResult, emit func(stream.Event) error) error
}

// CannedGenerator replays the shared scenario table. It is the default, so
// the dev server and the client's fallback simulator stay in lockstep.
type CannedGenerator struct{}

func (CannedGenerator) Generate(_ context.Context, input string, emit func(stream.Event) error) error {
	for _, event := range fallback.ScenarioEvents(input) {
		if err := emit(event); err != nil {
			return err
		}
	}
	return nil
}

func (CannedGenerator) Continue(_ context.Context, action stream.ActionResult, emit func(stream.Event) error) error {
	events := []stream.Event{
		{Kind: stream.EventStart, TotalSteps: 1},
		{Kind: stream.EventStep, StepIndex: 1, StepTitle: "Apply decision"},
		{Kind: stream.EventText, Text: fmt.Sprintf("Recorded your decision %q. ", action.ActionID)},
		{Kind: stream.EventText, Text: "The plan will proceed accordingly."},
		{Kind: stream.EventDone, Meta: &stream.DoneMeta{
			Suggestions: []chat.Suggestion{
				{Label: "Show final schema", Query: "Show me the final schema"},
			},
		}},
	}
	for _, event := range events {
		if err := emit(event); err != nil {
			return err
		}
	}
	return nil
}

// OpenAIGenerator streams completions from an OpenAI-compatible model and
// maps the deltas onto the wire event sequence. Used when the dev server
// is configured with an API key; otherwise the canned table serves.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(baseURL, apiKey, model string) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	if strings.TrimSpace(model) == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), model: model}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, input string, emit func(stream.Event) error) error {
	if err := emit(stream.Event{Kind: stream.EventStart, TotalSteps: 2}); err != nil {
		return err
	}
	if err := emit(stream.Event{Kind: stream.EventStep, StepIndex: 1, StepTitle: "Generate answer"}); err != nil {
		return err
	}

	completion, err := g.stream(ctx, input, emit)
	if err != nil {
		return err
	}

	if err := emit(stream.Event{Kind: stream.EventStep, StepIndex: 2, StepTitle: "Finalize"}); err != nil {
		return err
	}
	return emit(stream.Event{Kind: stream.EventDone, Text: completion, Meta: &stream.DoneMeta{
		ContentType: chat.ContentMarkdown,
	}})
}

func (g *OpenAIGenerator) Continue(ctx context.Context, action stream.ActionResult, emit func(stream.Event) error) error {
	prompt := fmt.Sprintf("The user chose action %q on the pending plan. Acknowledge briefly and describe the next step.", action.ActionID)
	return g.Generate(ctx, prompt, emit)
}

// stream forwards model deltas as text events and returns the full text.
func (g *OpenAIGenerator) stream(ctx context.Context, input string, emit func(stream.Event) error) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:  g.model,
		Stream: true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: input},
		},
	}
	completion, err := g.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("open completion stream: %w", err)
	}
	defer completion.Close()

	var builder strings.Builder
	for {
		chunk, err := completion.Recv()
		if errors.Is(err, io.EOF) {
			return builder.String(), nil
		}
		if err != nil {
			return builder.String(), fmt.Errorf("read completion stream: %w", err)
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			builder.WriteString(choice.Delta.Content)
			if emitErr := emit(stream.Event{Kind: stream.EventText, Text: choice.Delta.Content}); emitErr != nil {
				return builder.String(), emitErr
			}
		}
	}
}
