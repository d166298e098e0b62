package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"workbench/internal/chat"
	"workbench/internal/hitl"
	"workbench/internal/stats"
	"workbench/internal/store"
	"workbench/internal/turn"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// --- Tea Messages ---

// MessageAppliedMsg 某条消息折叠了一个新事件，需要重绘
// MessageAppliedMsg means a stream event landed on a message and the
// transcript should repaint.
type MessageAppliedMsg struct{ MessageID string }

// TurnDoneMsg 回合完成
// TurnDoneMsg indicates a turn is done
type TurnDoneMsg struct{ MessageID string }

// ActionResultMsg 决策提交完成
// ActionResultMsg carries the outcome of a decision submission.
type ActionResultMsg struct{ Err error }

// formState walks a form-style prompt one field at a time.
type formState struct {
	messageID string
	fields    []chat.HITLField
	index     int
	values    map[string]any
}

// App Bubble Tea 主 Model
// App is the main Bubble Tea model
type App struct {
	// 布局 / Layout
	width  int
	height int

	// 视图 / Views
	transcript viewport.Model
	input      textarea.Model

	// 协作对象 / Collaborators
	store      *store.Store
	runner     *turn.Runner
	dispatcher *hitl.Dispatcher
	tokens     *stats.Tokenizer
	applied    <-chan string

	// 状态 / State
	handle    *turn.Handle
	streaming bool
	form      *formState
	lastError string
	agentName string

	// 配置 / Config
	theme Theme
	keys  KeyMap
}

// NewApp creates the TUI model. applied receives message ids whenever the
// runner folds an event into the store.
func NewApp(st *store.Store, runner *turn.Runner, dispatcher *hitl.Dispatcher, agentName string, applied <-chan string) App {
	ta := textarea.New()
	ta.Placeholder = "Describe what you want to build..."
	ta.CharLimit = 8192
	ta.SetHeight(3)
	ta.Focus()

	return App{
		input:      ta,
		store:      st,
		runner:     runner,
		dispatcher: dispatcher,
		tokens:     stats.Default(),
		applied:    applied,
		agentName:  agentName,
		theme:      DarkTheme(),
		keys:       DefaultKeyMap(),
	}
}

func (a App) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, a.waitApplied())
}

func (a App) waitApplied() tea.Cmd {
	ch := a.applied
	return func() tea.Msg {
		id, ok := <-ch
		if !ok {
			return nil
		}
		return MessageAppliedMsg{MessageID: id}
	}
}

func waitTurn(handle *turn.Handle) tea.Cmd {
	return func() tea.Msg {
		handle.Wait()
		return TurnDoneMsg{MessageID: handle.MessageID}
	}
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if a.handle != nil {
				a.handle.Cancel()
			}
			return a, tea.Quit
		case "esc":
			if a.handle != nil && a.streaming {
				a.handle.Cancel()
			}
			return a, nil
		case "ctrl+n":
			a.store.StartSession(a.agentName, "New session")
			a.form = nil
			a.lastError = ""
			a.repaint()
			return a, nil
		case "ctrl+l":
			a.repaint()
			return a, nil
		case "enter":
			return a.submit()
		case "pgup":
			a.transcript.HalfViewUp()
			return a, nil
		case "pgdown":
			a.transcript.HalfViewDown()
			return a, nil
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.relayout()
		return a, nil

	case MessageAppliedMsg:
		a.repaint()
		return a, a.waitApplied()

	case TurnDoneMsg:
		a.streaming = false
		a.handle = nil
		a.repaint()
		return a, nil

	case ActionResultMsg:
		if msg.Err != nil {
			a.lastError = msg.Err.Error()
		}
		a.repaint()
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	a.transcript, cmd = a.transcript.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

// submit routes the typed line: a decision when a prompt is pending, a new
// turn otherwise.
func (a App) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(a.input.Value())
	if text == "" {
		return a, nil
	}

	if a.inputLocked() {
		return a.submitDecision(text)
	}

	a.input.Reset()
	a.lastError = ""
	a.streaming = true
	handle := a.runner.Start(context.Background(), text)
	a.handle = handle
	a.repaint()
	return a, waitTurn(handle)
}

func (a App) inputLocked() bool {
	return a.dispatcher.Locks().InputLocked(a.store, a.store.CurrentSessionID())
}

// submitDecision interprets the typed line against the pending prompt.
func (a App) submitDecision(text string) (tea.Model, tea.Cmd) {
	pending, ok := a.store.LatestHITLMessage(a.store.CurrentSessionID())
	if !ok {
		return a, nil
	}
	prompt := pending.HITL
	a.input.Reset()

	// "/edit" 是任何提示下的逃生口：立刻解锁输入。
	// "/edit" is the escape hatch under any prompt: unlock input right away.
	if text == "/edit" {
		return a, a.dispatchAction("edit_"+prompt.Kind, pending.ID, nil)
	}

	switch prompt.Kind {
	case "binary":
		lower := strings.ToLower(text)
		switch lower {
		case "y", "yes":
			return a, a.dispatchAction(optionAction(prompt, 0, "approve"), pending.ID, nil)
		case "n", "no":
			return a, a.dispatchAction(optionAction(prompt, 1, "reject"), pending.ID, nil)
		}
		a.lastError = "answer y or n (or /edit)"
		return a, nil

	case "options":
		n, err := strconv.Atoi(text)
		if err != nil || n < 1 || n > len(prompt.Options) {
			a.lastError = fmt.Sprintf("pick 1-%d (or /edit)", len(prompt.Options))
			return a, nil
		}
		return a, a.dispatchAction(optionAction(prompt, n-1, "select"), pending.ID, nil)

	case "form":
		if a.form == nil || a.form.messageID != pending.ID {
			a.form = &formState{
				messageID: pending.ID,
				fields:    prompt.Fields,
				values:    map[string]any{},
			}
		}
		return a.fillFormField(text)
	}

	return a, nil
}

func optionAction(prompt *chat.HITLPrompt, index int, fallback string) string {
	if index < len(prompt.Options) {
		opt := prompt.Options[index]
		if opt.Action != "" {
			return opt.Action
		}
		if opt.ID != "" {
			return opt.ID
		}
	}
	return fallback
}

func (a App) fillFormField(text string) (tea.Model, tea.Cmd) {
	field := a.form.fields[a.form.index]

	if text == "-" && field.Default != "" {
		text = field.Default
	}
	if field.Required && strings.TrimSpace(text) == "" {
		a.lastError = field.Name + " is required"
		return a, nil
	}

	if field.Kind == "checkbox" {
		a.form.values[field.Name] = strings.EqualFold(text, "y") || strings.EqualFold(text, "yes") || strings.EqualFold(text, "true")
	} else {
		a.form.values[field.Name] = text
	}
	a.form.index++
	a.lastError = ""

	if a.form.index < len(a.form.fields) {
		a.repaint()
		return a, nil
	}

	values := a.form.values
	messageID := a.form.messageID
	a.form = nil
	return a, a.dispatchAction("submit_form", messageID, values)
}

func (a App) dispatchAction(actionID, messageID string, payload map[string]any) tea.Cmd {
	dispatcher := a.dispatcher
	return func() tea.Msg {
		// Submit never fails hard: transport failures already land in the
		// store as the apology message.
		_, err := dispatcher.Submit(context.Background(), actionID, messageID, payload)
		return ActionResultMsg{Err: err}
	}
}

// --- Rendering ---

func (a *App) relayout() {
	inputHeight := 5
	statusHeight := 1
	panelHeight := a.height - inputHeight - statusHeight
	if panelHeight < 3 {
		panelHeight = 3
	}

	a.transcript = viewport.New(a.width, panelHeight)
	a.input.SetWidth(a.width - 4)
	a.repaint()
}

func (a *App) repaint() {
	a.transcript.SetContent(a.renderTranscript())
	a.transcript.GotoBottom()
}

func (a *App) renderTranscript() string {
	sessionID := a.store.CurrentSessionID()
	messages := a.store.MessagesForSession(sessionID)
	width := a.width
	if width <= 0 {
		width = 80
	}

	var parts []string
	for _, msg := range messages {
		parts = append(parts, a.renderMessage(msg, width))
	}
	return strings.Join(parts, "\n\n")
}

func (a *App) renderMessage(msg chat.Message, width int) string {
	var parts []string

	switch msg.Role {
	case chat.RoleUser:
		parts = append(parts, a.theme.UserStyle.Render("you ›")+" "+msg.Content)
	default:
		header := a.theme.TitleStyle.Render(a.agentName + " ›")
		if msg.Streaming {
			header += a.theme.MutedStyle.Render(" …")
		}
		parts = append(parts, header)

		if step := RenderStep(msg.Metadata.Step, a.theme); step != "" && msg.Streaming {
			parts = append(parts, step)
		}

		switch {
		case msg.ContentType == chat.ContentTable && msg.Metadata.Table != nil:
			if msg.Content != "" {
				parts = append(parts, a.theme.AgentStyle.Render(msg.Content))
			}
			parts = append(parts, RenderTable(msg.Metadata.Table, a.theme))
		case msg.ContentType == chat.ContentMarkdown && !msg.Streaming:
			parts = append(parts, RenderMarkdown(msg.Content, width))
		default:
			if msg.Content != "" {
				parts = append(parts, a.theme.AgentStyle.Render(msg.Content))
			}
		}

		if msg.HITL != nil && !msg.Streaming {
			parts = append(parts, RenderHITL(msg.HITL, a.theme, width))
		}
		if sugg := RenderSuggestions(msg.Metadata.Suggestions, a.theme); sugg != "" && !msg.Streaming {
			parts = append(parts, sugg)
		}
	}

	return strings.Join(parts, "\n")
}

func (a App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	inputStyle := a.theme.InputStyle.Width(a.width)
	inputView := a.input.View()
	if a.inputLocked() {
		inputStyle = a.theme.LockedStyle.Width(a.width)
		inputView = a.lockedInputView() + "\n" + inputView
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		a.transcript.View(),
		inputStyle.Render(inputView),
		a.renderStatusBar(),
	)
}

func (a App) lockedInputView() string {
	if a.form != nil && a.form.index < len(a.form.fields) {
		field := a.form.fields[a.form.index]
		label := field.Label
		if label == "" {
			label = field.Name
		}
		hint := label
		if field.Default != "" {
			hint += fmt.Sprintf(" (default %q, '-' to accept)", field.Default)
		}
		return a.theme.HITLTitleStyle.Render("✎ " + hint)
	}
	return a.theme.HITLTitleStyle.Render("⏸ decision required: reply to the prompt above, or /edit to take over")
}

func (a App) renderStatusBar() string {
	status := "ready"
	switch {
	case a.streaming:
		status = "streaming"
	case a.inputLocked():
		status = "awaiting decision"
	}

	sessionID := a.store.CurrentSessionID()
	tokenCount := a.tokens.CountTranscript(a.store.MessagesForSession(sessionID))

	left := fmt.Sprintf(" %s · %s", a.agentName, status)
	if a.lastError != "" {
		left += " · " + a.theme.ErrorStyle.Render(a.lastError)
	}
	right := fmt.Sprintf("%s · %d tok  ", shortID(sessionID), tokenCount)

	gap := a.width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}
	bar := left + strings.Repeat(" ", gap) + right
	return a.theme.StatusBarStyle.Width(a.width).Render(bar)
}

func shortID(id string) string {
	if len(id) > 16 {
		return id[:16]
	}
	if id == "" {
		return "no session"
	}
	return id
}

// Run 启动 Bubble Tea TUI
// Run starts the Bubble Tea TUI application
func Run(st *store.Store, runner *turn.Runner, dispatcher *hitl.Dispatcher, agentName string, applied <-chan string) error {
	app := NewApp(st, runner, dispatcher, agentName, applied)
	p := tea.NewProgram(app, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
