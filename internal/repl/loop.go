package repl

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"workbench/internal/chat"
	"workbench/internal/hitl"
	"workbench/internal/stats"
	"workbench/internal/store"
	"workbench/internal/turn"
)

// ANSI colors for the prompt and transcript.
const (
	ansiReset  = "\x1b[0m"
	ansiDim    = "\x1b[90m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiCyan   = "\x1b[36m"
	ansiRed    = "\x1b[31m"
	ansiBold   = "\x1b[1m"
)

// LineReader 抽象行输入；readline 不可用时由调用方退回基础实现
// LineReader abstracts line input; callers fall back to a plain reader when
// readline is unavailable.
type LineReader interface {
	ReadLine(prompt string) (string, error)
	Close() error
}

// Loop 持有 REPL 状态：存储、回合执行器、决策分发器与输出
// Loop holds REPL state: the store, turn runner, decision dispatcher and
// output sink.
type Loop struct {
	store      *store.Store
	runner     *turn.Runner
	dispatcher *hitl.Dispatcher
	tokens     *stats.Tokenizer
	applied    <-chan string
	agentName  string
	out        io.Writer
}

// NewLoop builds a REPL loop. applied receives message ids whenever the
// runner folds an event into the store.
func NewLoop(st *store.Store, runner *turn.Runner, dispatcher *hitl.Dispatcher, agentName string, applied <-chan string, out io.Writer) *Loop {
	if out == nil {
		out = os.Stdout
	}
	return &Loop{
		store:      st,
		runner:     runner,
		dispatcher: dispatcher,
		tokens:     stats.Default(),
		applied:    applied,
		agentName:  agentName,
		out:        out,
	}
}

// Run runs the REPL until the reader reports EOF or the user quits.
func (l *Loop) Run(ctx context.Context, reader LineReader) error {
	for {
		if l.inputLocked() {
			if err := l.handleDecision(ctx, reader); err != nil {
				return filterEOF(err)
			}
			continue
		}

		text, err := reader.ReadLine(l.prompt())
		if err != nil {
			return filterEOF(err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "/") {
			quit, err := l.runCommand(text)
			if err != nil {
				fmt.Fprintf(l.out, "%serror: %v%s\n", colorOr(ansiRed), err, colorOr(ansiReset))
			}
			if quit {
				return nil
			}
			continue
		}

		if err := l.runTurn(ctx, text); err != nil {
			fmt.Fprintf(l.out, "%serror: %v%s\n", colorOr(ansiRed), err, colorOr(ansiReset))
		}
	}
}

func (l *Loop) inputLocked() bool {
	return l.dispatcher.Locks().InputLocked(l.store, l.store.CurrentSessionID())
}

func (l *Loop) prompt() string {
	sessionID := l.store.CurrentSessionID()
	count := l.tokens.CountTranscript(l.store.MessagesForSession(sessionID))
	line1 := fmt.Sprintf("context: %d tokens · agent: %s", count, l.agentName)
	fmt.Fprintf(l.out, "%s%s%s\n", colorOr(ansiDim), line1, colorOr(ansiReset))
	return fmt.Sprintf("%s[%s] > %s", colorOr(ansiGreen), shortSession(sessionID), colorOr(ansiReset))
}

func shortSession(id string) string {
	if id == "" {
		return "new"
	}
	if len(id) > 14 {
		return id[:14]
	}
	return id
}

// runTurn submits one turn and echoes events as they fold into the message.
func (l *Loop) runTurn(ctx context.Context, text string) error {
	handle := l.runner.Start(ctx, text)

	printed := 0
	lastStep := 0
	for {
		select {
		case id, ok := <-l.applied:
			if !ok {
				handle.Wait()
				return l.printFinal(handle.MessageID, &printed)
			}
			if id != handle.MessageID {
				continue
			}
			printed, lastStep = l.printProgress(id, printed, lastStep)
		case <-handle.Done():
			return l.printFinal(handle.MessageID, &printed)
		}
	}
}

func (l *Loop) printProgress(messageID string, printed, lastStep int) (int, int) {
	msg, ok := l.store.Message(messageID)
	if !ok {
		return printed, lastStep
	}
	if step := msg.Metadata.Step; step.Current > lastStep && step.Total > 0 {
		label := fmt.Sprintf("[step %d/%d]", step.Current, step.Total)
		if step.Title != "" {
			label += " " + step.Title
		}
		if printed > 0 {
			fmt.Fprintln(l.out)
		}
		fmt.Fprintf(l.out, "%s%s%s\n", colorOr(ansiCyan), label, colorOr(ansiReset))
		lastStep = step.Current
	}
	if len(msg.Content) > printed {
		fmt.Fprint(l.out, msg.Content[printed:])
		printed = len(msg.Content)
	}
	return printed, lastStep
}

func (l *Loop) printFinal(messageID string, printed *int) error {
	msg, ok := l.store.Message(messageID)
	if !ok {
		return nil
	}
	if len(msg.Content) > *printed {
		fmt.Fprint(l.out, msg.Content[*printed:])
		*printed = len(msg.Content)
	}
	fmt.Fprintln(l.out)

	if msg.ContentType == chat.ContentTable && msg.Metadata.Table != nil {
		fmt.Fprintln(l.out)
		fmt.Fprintln(l.out, formatTable(msg.Metadata.Table))
	}
	if msg.HITL != nil {
		fmt.Fprintln(l.out)
		l.printHITL(msg.HITL)
	}
	if len(msg.Metadata.Suggestions) > 0 {
		fmt.Fprintln(l.out)
		for _, s := range msg.Metadata.Suggestions {
			fmt.Fprintf(l.out, "%s  ↳ %s%s\n", colorOr(ansiDim), s.Label, colorOr(ansiReset))
		}
	}
	return nil
}

func (l *Loop) printHITL(prompt *chat.HITLPrompt) {
	fmt.Fprintf(l.out, "%s⏸ %s%s\n", colorOr(ansiYellow), prompt.Title, colorOr(ansiReset))
	if prompt.Message != "" {
		fmt.Fprintln(l.out, prompt.Message)
	}
	switch prompt.Kind {
	case "binary":
		fmt.Fprintln(l.out, "  answer y / n (or /edit to take over)")
	case "options":
		for i, opt := range prompt.Options {
			fmt.Fprintf(l.out, "  %d. %s\n", i+1, opt.Label)
		}
		fmt.Fprintln(l.out, "  answer with a number (or /edit)")
	case "form":
		fmt.Fprintln(l.out, "  fill the fields when prompted (or /edit)")
	}
}

// handleDecision reads and submits one decision for the pending prompt.
func (l *Loop) handleDecision(ctx context.Context, reader LineReader) error {
	pending, ok := l.store.LatestHITLMessage(l.store.CurrentSessionID())
	if !ok {
		return nil
	}
	prompt := pending.HITL

	if prompt.Kind == "form" {
		return l.handleForm(ctx, reader, pending)
	}

	for {
		text, err := reader.ReadLine(fmt.Sprintf("%sdecision > %s", colorOr(ansiYellow), colorOr(ansiReset)))
		if err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "/edit" {
			return l.submit(ctx, "edit_"+prompt.Kind, pending.ID, nil)
		}

		switch prompt.Kind {
		case "binary":
			switch strings.ToLower(text) {
			case "y", "yes":
				return l.submit(ctx, optionAction(prompt, 0, "approve"), pending.ID, nil)
			case "n", "no":
				return l.submit(ctx, optionAction(prompt, 1, "reject"), pending.ID, nil)
			}
			fmt.Fprintln(l.out, "answer y or n (or /edit)")
		case "options":
			n, convErr := strconv.Atoi(text)
			if convErr != nil || n < 1 || n > len(prompt.Options) {
				fmt.Fprintf(l.out, "pick 1-%d (or /edit)\n", len(prompt.Options))
				continue
			}
			return l.submit(ctx, optionAction(prompt, n-1, "select"), pending.ID, nil)
		default:
			return l.submit(ctx, "acknowledge", pending.ID, nil)
		}
	}
}

func (l *Loop) handleForm(ctx context.Context, reader LineReader, pending chat.Message) error {
	values := map[string]any{}
	for _, field := range pending.HITL.Fields {
		label := field.Label
		if label == "" {
			label = field.Name
		}
		hint := label
		if field.Default != "" {
			hint += fmt.Sprintf(" [%s]", field.Default)
		}
		for {
			text, err := reader.ReadLine(fmt.Sprintf("%s%s > %s", colorOr(ansiYellow), hint, colorOr(ansiReset)))
			if err != nil {
				return err
			}
			text = strings.TrimSpace(text)
			if text == "/edit" {
				return l.submit(ctx, "edit_form", pending.ID, nil)
			}
			if text == "" && field.Default != "" {
				text = field.Default
			}
			if field.Required && text == "" {
				fmt.Fprintf(l.out, "%s is required\n", field.Name)
				continue
			}
			if field.Kind == "checkbox" {
				values[field.Name] = strings.EqualFold(text, "y") || strings.EqualFold(text, "yes") || strings.EqualFold(text, "true")
			} else {
				values[field.Name] = text
			}
			break
		}
	}
	return l.submit(ctx, "submit_form", pending.ID, values)
}

func (l *Loop) submit(ctx context.Context, actionID, messageID string, payload map[string]any) error {
	msg, err := l.dispatcher.Submit(ctx, actionID, messageID, payload)
	if err != nil {
		return err
	}
	drainApplied(l.applied)
	fmt.Fprintln(l.out)
	fmt.Fprintln(l.out, msg.Content)
	if msg.ContentType == chat.ContentTable && msg.Metadata.Table != nil {
		fmt.Fprintln(l.out, formatTable(msg.Metadata.Table))
	}
	return nil
}

// drainApplied discards repaint notifications that accumulated while a
// synchronous continuation streamed.
func drainApplied(ch <-chan string) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
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

func (l *Loop) runCommand(text string) (quit bool, err error) {
	fields := strings.Fields(text)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/new":
		l.store.StartSession(l.agentName, "New session")
		fmt.Fprintln(l.out, "started a new session")
		return false, nil
	case "/sessions":
		for _, sess := range l.store.Sessions() {
			marker := "  "
			if sess.ID == l.store.CurrentSessionID() {
				marker = "* "
			}
			fmt.Fprintf(l.out, "%s%s  %s  (%s)\n", marker, sess.ID, sess.Title, sess.LastUpdated)
		}
		return false, nil
	case "/use":
		if len(fields) < 2 {
			return false, fmt.Errorf("usage: /use <session-id>")
		}
		l.store.SetCurrentSession(fields[1])
		return false, nil
	case "/clear":
		l.store.ClearAll()
		fmt.Fprintln(l.out, "cleared all sessions")
		return false, nil
	case "/help":
		fmt.Fprintln(l.out, "commands:")
		for _, c := range []string{"/new", "/sessions", "/use <id>", "/clear", "/help", "/quit"} {
			fmt.Fprintf(l.out, "  %s\n", c)
		}
		return false, nil
	default:
		return false, fmt.Errorf("unknown command %s", fields[0])
	}
}

func formatTable(table *chat.TableData) string {
	if table == nil || len(table.Columns) == 0 {
		return ""
	}
	widths := make([]int, len(table.Columns))
	for i, col := range table.Columns {
		widths[i] = len([]rune(col))
	}
	for _, row := range table.Rows {
		for i, cell := range row {
			if i < len(widths) && len([]rune(cell)) > widths[i] {
				widths[i] = len([]rune(cell))
			}
		}
	}

	var b strings.Builder
	writeRow := func(cells []string) {
		for i := range widths {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			b.WriteString(cell)
			b.WriteString(strings.Repeat(" ", widths[i]-len([]rune(cell))))
			if i < len(widths)-1 {
				b.WriteString("  ")
			}
		}
		b.WriteString("\n")
	}
	writeRow(table.Columns)
	total := 0
	for _, w := range widths {
		total += w
	}
	total += 2 * (len(widths) - 1)
	b.WriteString(strings.Repeat("─", total))
	b.WriteString("\n")
	for _, row := range table.Rows {
		writeRow(row)
	}
	return strings.TrimRight(b.String(), "\n")
}

func filterEOF(err error) error {
	if err == io.EOF {
		return nil
	}
	return err
}

func colorOr(code string) string {
	if !useColor() {
		return ""
	}
	return code
}

func useColor() bool {
	if strings.TrimSpace(os.Getenv("NO_COLOR")) != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("WORKBENCH_NO_COLOR")) != "" {
		return false
	}
	return strings.ToLower(strings.TrimSpace(os.Getenv("TERM"))) != "dumb"
}
