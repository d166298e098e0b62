package stream

import (
	"errors"
	"reflect"
	"testing"

	"workbench/internal/chat"
)

func TestParse_CurrentShape(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Event
	}{
		{
			name:  "start",
			frame: `{"render_type":"start","total_steps":4}`,
			want:  Event{Kind: EventStart, TotalSteps: 4},
		},
		{
			name:  "start with string total",
			frame: `{"render_type":"start","total_steps":"4"}`,
			want:  Event{Kind: EventStart, TotalSteps: 4},
		},
		{
			name:  "step",
			frame: `{"render_type":"step","step":2,"step_name":"Designing schema"}`,
			want:  Event{Kind: EventStep, StepIndex: 2, StepTitle: "Designing schema"},
		},
		{
			name:  "text",
			frame: `{"render_type":"text","message":"Hello "}`,
			want:  Event{Kind: EventText, Text: "Hello "},
		},
		{
			name:  "table row",
			frame: `{"render_type":"table","message":{"name":"id","type":"bigint"}}`,
			want: Event{
				Kind:    EventTableRow,
				Row:     map[string]any{"name": "id", "type": "bigint"},
				RowKeys: []string{"name", "type"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.frame)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("event = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParse_LegacyShape(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  Event
	}{
		{
			name:  "steps",
			frame: `{"type":"steps","total":3}`,
			want:  Event{Kind: EventStart, TotalSteps: 3},
		},
		{
			name:  "step-metadata with content total",
			frame: `{"type":"step-metadata","content":3}`,
			want:  Event{Kind: EventStart, TotalSteps: 3},
		},
		{
			name:  "step",
			frame: `{"type":"step","step":1,"content":"Collecting requirements"}`,
			want:  Event{Kind: EventStep, StepIndex: 1, StepTitle: "Collecting requirements"},
		},
		{
			name:  "paragraph",
			frame: `{"type":"paragraph","content":"chunk"}`,
			want:  Event{Kind: EventText, Text: "chunk"},
		},
		{
			name:  "table-row",
			frame: `{"type":"table-row","content":{"field":"sku","nullable":false}}`,
			want: Event{
				Kind:    EventTableRow,
				Row:     map[string]any{"field": "sku", "nullable": false},
				RowKeys: []string{"field", "nullable"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.frame)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("event = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParse_RowKeyOrderPreserved(t *testing.T) {
	// encoding/json maps would sort these keys; the parser must not.
	event, err := Parse(`{"render_type":"table","message":{"z":1,"a":2,"m":3}}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	want := []string{"z", "a", "m"}
	if !reflect.DeepEqual(event.RowKeys, want) {
		t.Fatalf("RowKeys = %v, want %v", event.RowKeys, want)
	}
}

func TestParse_Malformed(t *testing.T) {
	frames := []string{
		``,
		`   `,
		`not json`,
		`{"no":"discriminant"}`,
		`{"render_type":"wobble"}`,
		`{"render_type":"table","message":"scalar"}`,
		`{"type":"table-row","content":[1,2,3]}`,
	}
	for _, frame := range frames {
		if _, err := Parse(frame); err == nil {
			t.Fatalf("Parse(%q) succeeded, want error", frame)
		} else {
			var parseErr *ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("Parse(%q) error is %T, want *ParseError", frame, err)
			}
		}
	}
}

func TestParse_DoneMeta(t *testing.T) {
	frame := `{"render_type":"done","message":"final","meta":{
		"contentType":"markdown",
		"hitl":{"type":"hitl","title":"Approve schema?","description":"Check the draft","fields":[{"name":"approval_notes"}]},
		"suggestedQueries":["add an index","show DDL"],
		"metadata":{"elapsed_ms":1200}
	}}`
	event, err := Parse(frame)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if event.Kind != EventDone || event.Text != "final" {
		t.Fatalf("event = %+v", event)
	}
	meta := event.Meta
	if meta == nil {
		t.Fatal("meta is nil")
	}
	if meta.ContentType != chat.ContentMarkdown {
		t.Fatalf("contentType = %q", meta.ContentType)
	}
	if meta.HITL == nil || meta.HITL.Kind != "form" {
		t.Fatalf("hitl = %+v, want inferred form", meta.HITL)
	}
	if meta.HITL.Message != "Check the draft" {
		t.Fatalf("hitl message = %q", meta.HITL.Message)
	}
	if len(meta.Suggestions) != 2 || meta.Suggestions[0].Query != "add an index" {
		t.Fatalf("suggestions = %+v", meta.Suggestions)
	}
	if meta.Extra["elapsed_ms"] != float64(1200) {
		t.Fatalf("extra = %+v", meta.Extra)
	}
}

func TestParse_DoneMetaTableVariants(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		columns []string
		rows    [][]string
	}{
		{
			name: "structured columns and record rows",
			frame: `{"render_type":"done","meta":{"table":{
				"columns":["name","type"],
				"rows":[{"name":"id","type":"bigint"},{"name":"sku","type":"text"}]}}}`,
			columns: []string{"name", "type"},
			rows:    [][]string{{"id", "bigint"}, {"sku", "text"}},
		},
		{
			name: "positional rows",
			frame: `{"render_type":"done","meta":{"table":{
				"columns":[{"name":"col_a"},{"name":"col_b"}],
				"rows":[["1","x"],["2","y"]]}}}`,
			columns: []string{"col_a", "col_b"},
			rows:    [][]string{{"1", "x"}, {"2", "y"}},
		},
		{
			name:    "serialized row array",
			frame:   `{"type":"done","meta":{"tableDataString":"[{\"a\":1,\"b\":2},{\"b\":4}]"}}`,
			columns: []string{"a", "b"},
			rows:    [][]string{{"1", "2"}, {"", "4"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := Parse(tt.frame)
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			table := event.Meta.Table
			if table == nil {
				t.Fatal("table is nil")
			}
			if !reflect.DeepEqual(table.Columns, tt.columns) {
				t.Fatalf("columns = %v, want %v", table.Columns, tt.columns)
			}
			if !reflect.DeepEqual(table.Rows, tt.rows) {
				t.Fatalf("rows = %v, want %v", table.Rows, tt.rows)
			}
			if event.Meta.ContentType != chat.ContentTable {
				t.Fatalf("contentType = %q, want table", event.Meta.ContentType)
			}
		})
	}
}

func TestParse_DoneMetaMalformedPayloadDropped(t *testing.T) {
	// A broken hitl payload must not kill the terminal frame.
	event, err := Parse(`{"render_type":"done","message":"ok","meta":{"hitl":"not an object"}}`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if event.Kind != EventDone {
		t.Fatalf("kind = %v", event.Kind)
	}
	if event.Meta != nil && event.Meta.HITL != nil {
		t.Fatalf("hitl should have been dropped: %+v", event.Meta.HITL)
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"s", "s"},
		{float64(3), "3"},
		{float64(3.5), "3.5"},
		{true, "true"},
		{nil, ""},
		{map[string]any{"k": "v"}, `{"k":"v"}`},
	}
	for _, tt := range tests {
		if got := Stringify(tt.in); got != tt.want {
			t.Fatalf("Stringify(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
