package accumulate

import (
	"workbench/internal/chat"
	"workbench/internal/store"
	"workbench/internal/stream"
)

// stepKind stamps which phase the current step is in, so the UI can label
// the progress line while text or rows are arriving.
const (
	stepKindText  = "text"
	stepKindTable = "table"
)

// Accumulator 将归一化事件折叠进消息状态
// Accumulator folds normalized events into per-message mutable state and
// persists it to the message store. Application for a single message id is
// serialized by the store, so a later done can never land before an
// earlier text.
type Accumulator struct {
	store *store.Store
}

func New(s *store.Store) *Accumulator {
	return &Accumulator{store: s}
}

// Apply updates the message identified by messageID according to event.
// Unknown message ids are dropped: an aborted turn must not resurrect its
// abandoned placeholder.
func (a *Accumulator) Apply(messageID string, event stream.Event) {
	a.store.Mutate(messageID, func(msg *chat.Message) {
		switch event.Kind {
		case stream.EventStart:
			// First writer wins: a retried connection re-sending start
			// must not reset progress.
			if msg.Metadata.Step.Total == 0 && event.TotalSteps > 0 {
				msg.Metadata.Step.Total = event.TotalSteps
			}
			msg.Streaming = true
		case stream.EventStep:
			msg.Metadata.Step.Current = event.StepIndex
			msg.Metadata.Step.Title = event.StepTitle
		case stream.EventText:
			// Verbatim append, no trimming or whitespace dedup.
			msg.Content += event.Text
			msg.Metadata.Step.Title = stampTitle(msg.Metadata.Step.Title, stepKindText)
		case stream.EventTableRow:
			applyRow(msg, event)
			msg.Metadata.Step.Title = stampTitle(msg.Metadata.Step.Title, stepKindTable)
		case stream.EventDone:
			finalize(msg, event)
		}
	})
}

// applyRow captures columns from the first row's key order and projects
// every row onto that fixed set; missing keys become empty strings and
// rows keep arrival order.
func applyRow(msg *chat.Message, event stream.Event) {
	table := msg.Metadata.Table
	if table == nil {
		table = &chat.TableData{}
		msg.Metadata.Table = table
	}
	if len(table.Columns) == 0 {
		table.Columns = append(table.Columns, event.RowKeys...)
	}
	cells := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		if value, ok := event.Row[col]; ok {
			cells[i] = stream.Stringify(value)
		}
	}
	table.Rows = append(table.Rows, cells)
	if msg.ContentType != chat.ContentTable {
		msg.ContentType = chat.ContentTable
	}
}

// finalize closes out the message. Accumulated streaming content is
// authoritative: the final text only fills in when nothing streamed.
func finalize(msg *chat.Message, event stream.Event) {
	if msg.Content == "" {
		msg.Content = event.Text
	}
	if meta := event.Meta; meta != nil {
		if meta.Table != nil {
			msg.Metadata.Table = meta.Table
			msg.ContentType = chat.ContentTable
		}
		if meta.ContentType != "" {
			msg.ContentType = meta.ContentType
		}
		if meta.HITL != nil {
			msg.HITL = meta.HITL
		}
		if len(meta.Suggestions) > 0 {
			msg.Metadata.Suggestions = meta.Suggestions
		}
		if len(meta.Extra) > 0 {
			msg.Metadata.Extra = meta.Extra
		}
	}
	msg.Streaming = false
}

func stampTitle(current, kind string) string {
	if current != "" {
		return current
	}
	return kind
}
