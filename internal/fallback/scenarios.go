package fallback

import (
	"strings"

	"workbench/internal/chat"
	"workbench/internal/stream"
)

// cell keeps row values paired with an explicit key order, matching what
// the parser recovers from real wire frames.
type cell struct {
	key   string
	value any
}

type scenario struct {
	totalSteps  int
	planTitle   string
	sentences   []string
	tableTitle  string
	rows        [][]cell
	finalTitle  string
	hitl        *chat.HITLPrompt
	suggestions []chat.Suggestion
}

// ScenarioEvents returns the canned event sequence for userInput. The dev
// server replays the same table over the wire, so a simulated turn and a
// real one agree on terminal meta for identical input.
func ScenarioEvents(userInput string) []stream.Event {
	return pickScenario(userInput).events()
}

// pickScenario matches the user's text against simple keywords, the same
// way the real backend routes schema-design requests.
func pickScenario(userInput string) scenario {
	lowered := strings.ToLower(userInput)
	for _, keyword := range []string{"design a model", "data model", "schema", "table"} {
		if strings.Contains(lowered, keyword) {
			return schemaScenario(lowered)
		}
	}
	return genericScenario()
}

func schemaScenario(lowered string) scenario {
	target := targetTableFromInput(lowered)
	return scenario{
		totalSteps: 3,
		planTitle:  "Plan overview",
		sentences: []string{
			"I will propose a table schema for your request. ",
			"First I will list columns and types. ",
			"Then I will stream the table as rows.",
		},
		tableTitle: "Stream table rows",
		rows: [][]cell{
			{{"id", "p1"}, {"name", "Product A"}, {"price", 9.99}, {"currency", "USD"}, {"available_since", "2024-01-10T00:00:00Z"}},
			{{"id", "p2"}, {"name", "Product B"}, {"price", 19.99}, {"currency", "USD"}, {"available_since", "2024-02-15T00:00:00Z"}},
		},
		finalTitle: "Finalize",
		hitl: &chat.HITLPrompt{
			Kind:    "form",
			Title:   "Approve data model plan",
			Message: "Review the proposed schema, then approve or adjust before it is applied.",
			Fields: []chat.HITLField{
				{Name: "approval_notes", Label: "Approval notes", Kind: "textarea"},
				{Name: "target_table", Label: "Target table", Kind: "text", Required: true, Default: target},
				{Name: "risk_reviewed", Label: "Risk reviewed", Kind: "checkbox", Required: true},
			},
			Metadata: map[string]any{"hint": "Approve to finalize, Modify to edit the schema in chat."},
		},
		suggestions: []chat.Suggestion{
			{Label: "Add indexes", Query: "Which columns should be indexed?"},
			{Label: "Show sample queries", Query: "Show example queries for this table"},
		},
	}
}

func genericScenario() scenario {
	return scenario{
		totalSteps: 2,
		planTitle:  "Thinking",
		sentences: []string{
			"The backend is unreachable right now, so this is a local draft. ",
			"I can still sketch an answer from what I know. ",
			"Reconnect to get a full response with live data.",
		},
		finalTitle: "Finalize",
		suggestions: []chat.Suggestion{
			{Label: "Retry", Query: "Try that again"},
		},
	}
}

// targetTableFromInput guesses the table name from "... for <name>" phrasing.
func targetTableFromInput(lowered string) string {
	const marker = " for "
	idx := strings.LastIndex(lowered, marker)
	if idx < 0 {
		return "products"
	}
	rest := strings.TrimSpace(lowered[idx+len(marker):])
	if rest == "" {
		return "products"
	}
	name := strings.FieldsFunc(rest, func(r rune) bool {
		return r == ' ' || r == '.' || r == ',' || r == '?' || r == '!'
	})
	if len(name) == 0 || name[0] == "" {
		return "products"
	}
	return name[0]
}

// events lays the scenario out as the normalized sequence the accumulator
// expects: start, step, texts, rows under their own step, final step, done.
func (sc scenario) events() []stream.Event {
	out := []stream.Event{
		{Kind: stream.EventStart, TotalSteps: sc.totalSteps},
		{Kind: stream.EventStep, StepIndex: 1, StepTitle: sc.planTitle},
	}
	for _, sentence := range sc.sentences {
		out = append(out, stream.Event{Kind: stream.EventText, Text: sentence})
	}
	if len(sc.rows) > 0 {
		out = append(out, stream.Event{Kind: stream.EventStep, StepIndex: 2, StepTitle: sc.tableTitle})
		for _, row := range sc.rows {
			record := make(map[string]any, len(row))
			keys := make([]string, 0, len(row))
			for _, c := range row {
				record[c.key] = c.value
				keys = append(keys, c.key)
			}
			out = append(out, stream.Event{Kind: stream.EventTableRow, Row: record, RowKeys: keys})
		}
	}
	out = append(out, stream.Event{Kind: stream.EventStep, StepIndex: sc.totalSteps, StepTitle: sc.finalTitle})

	meta := &stream.DoneMeta{HITL: sc.hitl, Suggestions: sc.suggestions}
	if len(sc.rows) > 0 {
		meta.ContentType = chat.ContentTable
	}
	out = append(out, stream.Event{Kind: stream.EventDone, Meta: meta})
	return out
}
