package stream

import "workbench/internal/chat"

// EventKind discriminates normalized stream events.
type EventKind string

const (
	EventStart    EventKind = "start"
	EventStep     EventKind = "step"
	EventText     EventKind = "text"
	EventTableRow EventKind = "tableRow"
	EventDone     EventKind = "done"
)

// DoneMeta 终止事件携带的最终元数据
// DoneMeta is the final metadata carried by a done event. Table is already
// normalized here; callers never see raw wire fields.
type DoneMeta struct {
	HITL        *chat.HITLPrompt
	ContentType chat.ContentType
	Suggestions []chat.Suggestion
	Table       *chat.TableData
	Extra       map[string]any
}

// Event is the normalized form of one wire frame. Exactly the fields for
// its Kind are populated:
//
//	start:    TotalSteps
//	step:     StepIndex, StepTitle
//	text:     Text
//	tableRow: Row, RowKeys
//	done:     Text (final text), Meta
type Event struct {
	Kind       EventKind
	TotalSteps int
	StepIndex  int
	StepTitle  string
	Text       string
	Row        map[string]any
	// RowKeys preserves the object key order of the wire frame; the first
	// row's key order fixes the table schema.
	RowKeys []string
	Meta    *DoneMeta
}
