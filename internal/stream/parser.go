package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"workbench/internal/chat"
)

// ParseError reports a frame that failed to decode. One malformed frame is
// skipped; it must never take down the whole response.
type ParseError struct {
	Frame string
	Err   error
}

func (e *ParseError) Error() string {
	frame := e.Frame
	if len(frame) > 120 {
		frame = frame[:120] + "..."
	}
	return fmt.Sprintf("parse frame %q: %v", frame, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// wireChunk covers both generations of the wire schema in one struct; the
// populated discriminant decides which mapping applies.
type wireChunk struct {
	// current shape
	RenderType string          `json:"render_type"`
	Message    json.RawMessage `json:"message"`
	StepIndex  json.RawMessage `json:"step"`
	StepName   string          `json:"step_name"`
	TotalSteps json.RawMessage `json:"total_steps"`

	// legacy shape
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
	Total   json.RawMessage `json:"total"`

	Meta json.RawMessage `json:"meta"`
}

// Parse 将一帧解码为归一化事件；两代 wire 形态都在这里识别
// Parse decodes one frame into a NormalizedEvent. Shape detection lives
// entirely here: callers never pattern-match on raw wire fields. Every
// inbound field is treated as unknown and coerced before an Event is built.
func Parse(frame string) (Event, error) {
	trimmed := strings.TrimSpace(frame)
	if trimmed == "" {
		return Event{}, &ParseError{Frame: frame, Err: fmt.Errorf("empty frame")}
	}

	var raw wireChunk
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		return Event{}, &ParseError{Frame: frame, Err: err}
	}

	if kind := strings.TrimSpace(raw.RenderType); kind != "" {
		event, err := mapCurrent(kind, raw)
		if err != nil {
			return Event{}, &ParseError{Frame: frame, Err: err}
		}
		return event, nil
	}
	if kind := strings.TrimSpace(raw.Type); kind != "" {
		event, err := mapLegacy(kind, raw)
		if err != nil {
			return Event{}, &ParseError{Frame: frame, Err: err}
		}
		return event, nil
	}
	return Event{}, &ParseError{Frame: frame, Err: fmt.Errorf("no discriminant field")}
}

// mapCurrent handles {render_type, message, step, step_name, total_steps},
// falling back to the legacy content field when message is absent.
func mapCurrent(kind string, raw wireChunk) (Event, error) {
	payload := raw.Message
	if len(payload) == 0 {
		payload = raw.Content
	}

	switch kind {
	case "start":
		return Event{Kind: EventStart, TotalSteps: coerceInt(raw.TotalSteps)}, nil
	case "step":
		title := strings.TrimSpace(raw.StepName)
		if title == "" {
			title = coerceString(payload)
		}
		return Event{Kind: EventStep, StepIndex: coerceInt(raw.StepIndex), StepTitle: title}, nil
	case "text":
		return Event{Kind: EventText, Text: coerceString(payload)}, nil
	case "table":
		row, keys, ok := coerceRecord(payload)
		if !ok {
			return Event{}, fmt.Errorf("table payload is not a keyed record")
		}
		return Event{Kind: EventTableRow, Row: row, RowKeys: keys}, nil
	case "done":
		return Event{Kind: EventDone, Text: coerceString(payload), Meta: parseDoneMeta(raw.Meta)}, nil
	}
	return Event{}, fmt.Errorf("unknown render_type %q", kind)
}

// mapLegacy handles the older {type, content} shape emitted by earlier
// backends (step-metadata/steps, step, paragraph, table-row, done).
func mapLegacy(kind string, raw wireChunk) (Event, error) {
	switch kind {
	case "steps", "step-metadata":
		total := coerceInt(raw.Total)
		if total == 0 {
			total = coerceInt(raw.Content)
		}
		return Event{Kind: EventStart, TotalSteps: total}, nil
	case "step":
		return Event{Kind: EventStep, StepIndex: coerceInt(raw.StepIndex), StepTitle: coerceString(raw.Content)}, nil
	case "paragraph", "text":
		return Event{Kind: EventText, Text: coerceString(raw.Content)}, nil
	case "table-row":
		row, keys, ok := coerceRecord(raw.Content)
		if !ok {
			return Event{}, fmt.Errorf("table-row payload is not a keyed record")
		}
		return Event{Kind: EventTableRow, Row: row, RowKeys: keys}, nil
	case "done":
		return Event{Kind: EventDone, Text: coerceString(raw.Content), Meta: parseDoneMeta(raw.Meta)}, nil
	}
	return Event{}, fmt.Errorf("unknown type %q", kind)
}

// wireMeta is the meta object of a done frame.
type wireMeta struct {
	HITL            json.RawMessage `json:"hitl"`
	Metadata        map[string]any  `json:"metadata"`
	ContentType     string          `json:"contentType"`
	SuggestedQuery  json.RawMessage `json:"suggestedQueries"`
	Table           json.RawMessage `json:"table"`
	TableDataString string          `json:"tableDataString"`
}

// parseDoneMeta is deliberately lenient: a malformed hitl or table payload
// drops that payload, never the terminal frame that carries it.
func parseDoneMeta(raw json.RawMessage) *DoneMeta {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var wire wireMeta
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil
	}

	meta := &DoneMeta{Extra: wire.Metadata}
	switch strings.TrimSpace(wire.ContentType) {
	case "markdown":
		meta.ContentType = chat.ContentMarkdown
	case "table":
		meta.ContentType = chat.ContentTable
	case "code":
		meta.ContentType = chat.ContentCode
	case "text":
		meta.ContentType = chat.ContentText
	}

	if len(wire.HITL) > 0 && string(wire.HITL) != "null" {
		if prompt, err := parseHITL(wire.HITL); err == nil {
			meta.HITL = prompt
		}
	}
	meta.Suggestions = parseSuggestions(wire.SuggestedQuery)

	// Table payload may be structured columns/rows or a serialized row array.
	if len(wire.Table) > 0 && string(wire.Table) != "null" {
		if table, err := parseTablePayload(wire.Table); err == nil {
			meta.Table = table
		}
	} else if serialized := strings.TrimSpace(wire.TableDataString); serialized != "" {
		if table, err := parseRowArray(json.RawMessage(serialized), nil); err == nil {
			meta.Table = table
		}
	}
	if meta.Table != nil && meta.ContentType == "" {
		meta.ContentType = chat.ContentTable
	}
	return meta
}

// wireHITL accepts both the older description-based prompt and the current
// message-based one.
type wireHITL struct {
	Kind        string            `json:"type"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Description string            `json:"description"`
	Options     []chat.HITLOption `json:"options"`
	Fields      []chat.HITLField  `json:"fields"`
	Metadata    map[string]any    `json:"metadata"`
}

func parseHITL(raw json.RawMessage) (*chat.HITLPrompt, error) {
	var wire wireHITL
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode hitl prompt: %w", err)
	}
	message := wire.Message
	if message == "" {
		message = wire.Description
	}
	kind := strings.TrimSpace(wire.Kind)
	switch kind {
	case "binary", "options", "form":
	default:
		// Older backends tag prompts as plain "hitl"; infer the variant.
		switch {
		case len(wire.Fields) > 0:
			kind = "form"
		case len(wire.Options) > 0:
			kind = "options"
		default:
			kind = "binary"
		}
	}
	return &chat.HITLPrompt{
		Kind:     kind,
		Title:    wire.Title,
		Message:  message,
		Options:  wire.Options,
		Fields:   wire.Fields,
		Metadata: wire.Metadata,
	}, nil
}

func parseSuggestions(raw json.RawMessage) []chat.Suggestion {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var structured []chat.Suggestion
	if err := json.Unmarshal(raw, &structured); err == nil {
		out := structured[:0]
		for _, s := range structured {
			if s.Query == "" && s.Label == "" {
				continue
			}
			if s.Query == "" {
				s.Query = s.Label
			}
			if s.Label == "" {
				s.Label = s.Query
			}
			out = append(out, s)
		}
		if len(out) > 0 {
			return out
		}
	}
	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		out := make([]chat.Suggestion, 0, len(plain))
		for _, q := range plain {
			q = strings.TrimSpace(q)
			if q == "" {
				continue
			}
			out = append(out, chat.Suggestion{Label: q, Query: q})
		}
		return out
	}
	return nil
}

// wireTable is the structured table form: columns as names or objects, rows
// as records or positional arrays.
type wireTable struct {
	Columns json.RawMessage   `json:"columns"`
	Rows    []json.RawMessage `json:"rows"`
}

func parseTablePayload(raw json.RawMessage) (*chat.TableData, error) {
	var wire wireTable
	if err := json.Unmarshal(raw, &wire); err != nil {
		// Bare row array without the wrapper object.
		return parseRowArray(raw, nil)
	}
	columns := parseColumnNames(wire.Columns)
	if len(wire.Rows) == 0 {
		if len(columns) == 0 {
			return nil, fmt.Errorf("table payload has no columns and no rows")
		}
		return &chat.TableData{Columns: columns, Rows: [][]string{}}, nil
	}

	// Positional rows need explicit columns; record rows can derive them.
	var positional [][]any
	if err := json.Unmarshal(mustJoinRows(wire.Rows), &positional); err == nil && len(columns) > 0 {
		table := &chat.TableData{Columns: columns}
		for _, row := range positional {
			cells := make([]string, len(columns))
			for i := range columns {
				if i < len(row) {
					cells[i] = Stringify(row[i])
				}
			}
			table.Rows = append(table.Rows, cells)
		}
		return table, nil
	}
	return parseRowArray(mustJoinRows(wire.Rows), columns)
}

func mustJoinRows(rows []json.RawMessage) json.RawMessage {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(row)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// parseRowArray normalizes an array of record rows. Without explicit
// columns the first row's key order fixes the schema; later rows are
// projected onto it, missing values becoming empty strings.
func parseRowArray(raw json.RawMessage, columns []string) (*chat.TableData, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode table rows: %w", err)
	}
	table := &chat.TableData{Columns: columns, Rows: [][]string{}}
	for _, rowRaw := range rows {
		record, keys, ok := coerceRecord(rowRaw)
		if !ok {
			continue
		}
		if len(table.Columns) == 0 {
			table.Columns = keys
		}
		cells := make([]string, len(table.Columns))
		for i, col := range table.Columns {
			if value, ok := record[col]; ok {
				cells[i] = Stringify(value)
			}
		}
		table.Rows = append(table.Rows, cells)
	}
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("table rows carry no columns")
	}
	return table, nil
}

func parseColumnNames(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	var objects []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &objects); err == nil {
		names := make([]string, 0, len(objects))
		for _, col := range objects {
			if col.Name != "" {
				names = append(names, col.Name)
			}
		}
		return names
	}
	return nil
}

// --- coercion helpers ---

// coerceRecord decodes a JSON object preserving its key order. Scalars and
// arrays report !ok: a table row must be a keyed record.
func coerceRecord(raw json.RawMessage) (map[string]any, []string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, nil, false
	}
	var record map[string]any
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, nil, false
	}
	keys, err := objectKeyOrder(trimmed)
	if err != nil {
		return nil, nil, false
	}
	return record, keys, true
}

// objectKeyOrder walks the token stream to recover top-level key order,
// which encoding/json maps discard.
func objectKeyOrder(raw []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil { // opening brace
		return nil, err
	}
	var keys []string
	depth := 0
	expectKey := true
	for dec.More() || depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch v := tok.(type) {
		case json.Delim:
			switch v {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
			if depth < 0 {
				return keys, nil
			}
		case string:
			if depth == 0 && expectKey {
				keys = append(keys, v)
				expectKey = false
				continue
			}
		}
		if depth == 0 {
			expectKey = true
		}
	}
	return keys, nil
}

func coerceString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}
	return string(bytes.TrimSpace(raw))
}

func coerceInt(raw json.RawMessage) int {
	if len(raw) == 0 || string(raw) == "null" {
		return 0
	}
	var asInt int
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return asInt
	}
	var asFloat float64
	if err := json.Unmarshal(raw, &asFloat); err == nil {
		return int(asFloat)
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if n, convErr := strconv.Atoi(strings.TrimSpace(asString)); convErr == nil {
			return n
		}
	}
	return 0
}

// Stringify renders one cell value as display text.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
