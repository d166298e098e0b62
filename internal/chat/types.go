package chat

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// ContentType describes how message content should be rendered.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentMarkdown ContentType = "markdown"
	ContentTable    ContentType = "table"
	ContentCode     ContentType = "code"
)

// Session 会话元数据；同一时刻只有一个当前会话
// Session holds session metadata; exactly one session is current at a time.
type Session struct {
	ID          string `json:"id"`
	AgentKind   string `json:"agent"`
	Title       string `json:"title"`
	CreatedAt   string `json:"createdAt"`
	LastUpdated string `json:"lastUpdated"`
}

// StepProgress is the coarse "stage N of M" indicator for a long turn.
// Total is set at most once per message; the first start event wins.
type StepProgress struct {
	Current int    `json:"stepCurrent"`
	Total   int    `json:"stepTotal"`
	Title   string `json:"stepTitle,omitempty"`
}

// TableData accumulates streamed table rows. Columns are fixed by the first
// row that supplies them; later rows are projected onto that column set.
type TableData struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// HITLOption is one selectable choice on an option-style prompt.
type HITLOption struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Action string `json:"action,omitempty"`
	Style  string `json:"style,omitempty"`
}

// HITLField is one input field on a form-style prompt.
type HITLField struct {
	Name     string   `json:"name"`
	Label    string   `json:"label,omitempty"`
	Kind     string   `json:"type,omitempty"` // text | textarea | select | checkbox
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
	Default  string   `json:"default,omitempty"`
}

// HITLPrompt pauses the conversation until the human decides. Kind selects
// the variant: binary (yes/no), options (pick one), or form (fill fields).
// While attached to the latest agent message and unresolved it locks input
// for that session.
type HITLPrompt struct {
	Kind     string         `json:"type"`
	Title    string         `json:"title"`
	Message  string         `json:"message,omitempty"`
	Options  []HITLOption   `json:"options,omitempty"`
	Fields   []HITLField    `json:"fields,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Suggestion is a follow-up query offered after a turn completes.
type Suggestion struct {
	Label string `json:"label"`
	Query string `json:"query"`
}

// Metadata 消息派生数据：步骤进度、表格、建议
// Metadata carries per-message derived state: step progress, accumulated
// table, and follow-up suggestions.
type Metadata struct {
	Step        StepProgress   `json:"step"`
	Table       *TableData     `json:"table,omitempty"`
	Suggestions []Suggestion   `json:"suggestions,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// Message is one conversation entry. Agent messages are created as
// placeholders and mutated in place by accumulation until finalize; content
// is only ever appended to, never truncated.
type Message struct {
	ID          string      `json:"id"`
	Role        Role        `json:"role"`
	Content     string      `json:"content"`
	Timestamp   string      `json:"timestamp"`
	SessionID   string      `json:"sessionId"`
	Mode        string      `json:"mode,omitempty"`
	ContentType ContentType `json:"contentType"`
	Metadata    Metadata    `json:"metadata"`
	HITL        *HITLPrompt `json:"hitl,omitempty"`
	Streaming   bool        `json:"streaming,omitempty"`
}
