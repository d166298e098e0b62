package tui

import (
	"fmt"
	"strings"

	"workbench/internal/chat"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderTable 渲染累积表格；列宽取表头与单元格的最大宽度
// RenderTable renders an accumulated table; column widths follow the widest
// of header and cells.
func RenderTable(table *chat.TableData, theme Theme) string {
	if table == nil || len(table.Columns) == 0 {
		return ""
	}

	widths := make([]int, len(table.Columns))
	for i, col := range table.Columns {
		widths[i] = lipgloss.Width(col)
	}
	for _, row := range table.Rows {
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			if w := lipgloss.Width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	head := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		head[i] = pad(col, widths[i])
	}
	b.WriteString(theme.TableHeadStyle.Render(strings.Join(head, "  ")))
	b.WriteString("\n")
	b.WriteString(theme.MutedStyle.Render(strings.Repeat("─", lineWidth(widths))))
	for _, row := range table.Rows {
		cells := make([]string, len(table.Columns))
		for i := range table.Columns {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			cells[i] = pad(cell, widths[i])
		}
		b.WriteString("\n")
		b.WriteString(theme.TableCellStyle.Render(strings.Join(cells, "  ")))
	}
	return b.String()
}

func pad(s string, width int) string {
	gap := width - lipgloss.Width(s)
	if gap <= 0 {
		return s
	}
	return s + strings.Repeat(" ", gap)
}

func lineWidth(widths []int) int {
	total := 0
	for _, w := range widths {
		total += w
	}
	if len(widths) > 1 {
		total += 2 * (len(widths) - 1)
	}
	return total
}

// RenderStep 渲染步骤进度行
// RenderStep renders the "stage N of M" progress line.
func RenderStep(step chat.StepProgress, theme Theme) string {
	if step.Total <= 0 {
		return ""
	}
	label := fmt.Sprintf("step %d/%d", step.Current, step.Total)
	if step.Title != "" {
		label += " · " + step.Title
	}
	return theme.StepStyle.Render("⟳ " + label)
}

// RenderHITL 渲染待决策提示框
// RenderHITL renders a pending decision prompt box.
func RenderHITL(prompt *chat.HITLPrompt, theme Theme, width int) string {
	if prompt == nil {
		return ""
	}

	var parts []string
	parts = append(parts, theme.HITLTitleStyle.Render("⏸ "+prompt.Title))
	if prompt.Message != "" {
		parts = append(parts, prompt.Message)
	}

	switch prompt.Kind {
	case "binary":
		parts = append(parts, theme.MutedStyle.Render("  answer y / n"))
	case "options":
		for i, opt := range prompt.Options {
			parts = append(parts, fmt.Sprintf("  %d. %s", i+1, opt.Label))
		}
		parts = append(parts, theme.MutedStyle.Render("  answer with a number"))
	case "form":
		for _, field := range prompt.Fields {
			label := field.Label
			if label == "" {
				label = field.Name
			}
			mark := ""
			if field.Required {
				mark = " *"
			}
			parts = append(parts, fmt.Sprintf("  %s%s", label, mark))
		}
		parts = append(parts, theme.MutedStyle.Render("  fill the fields one by one"))
	}

	box := theme.HITLBoxStyle
	if width > 4 {
		box = box.Width(width - 2)
	}
	return box.Render(strings.Join(parts, "\n"))
}

// RenderSuggestions 渲染追问建议
// RenderSuggestions renders follow-up suggestions.
func RenderSuggestions(suggestions []chat.Suggestion, theme Theme) string {
	if len(suggestions) == 0 {
		return ""
	}
	var parts []string
	for _, s := range suggestions {
		parts = append(parts, theme.SuggestionStyle.Render("  ↳ "+s.Label))
	}
	return strings.Join(parts, "\n")
}
