package tui

import "github.com/charmbracelet/lipgloss"

// Theme 定义 TUI 主题色彩和样式
// Theme defines TUI colors and styles
type Theme struct {
	// 基础色 / Base colors
	Primary lipgloss.Color
	Accent  lipgloss.Color
	Danger  lipgloss.Color
	Success lipgloss.Color
	Muted   lipgloss.Color
	Text    lipgloss.Color
	TextDim lipgloss.Color
	Border  lipgloss.Color

	// 预构建样式 / Pre-built styles
	TitleStyle      lipgloss.Style
	UserStyle       lipgloss.Style
	AgentStyle      lipgloss.Style
	StepStyle       lipgloss.Style
	StatusBarStyle  lipgloss.Style
	InputStyle      lipgloss.Style
	LockedStyle     lipgloss.Style
	ErrorStyle      lipgloss.Style
	SuccessStyle    lipgloss.Style
	MutedStyle      lipgloss.Style
	HITLBoxStyle    lipgloss.Style
	HITLTitleStyle  lipgloss.Style
	TableHeadStyle  lipgloss.Style
	TableCellStyle  lipgloss.Style
	SuggestionStyle lipgloss.Style
}

// DarkTheme 暗色主题（默认）
// DarkTheme is the default dark theme
func DarkTheme() Theme {
	t := Theme{
		Primary: lipgloss.Color("#7C3AED"),
		Accent:  lipgloss.Color("#F59E0B"),
		Danger:  lipgloss.Color("#EF4444"),
		Success: lipgloss.Color("#10B981"),
		Muted:   lipgloss.Color("#6B7280"),
		Text:    lipgloss.Color("#E5E7EB"),
		TextDim: lipgloss.Color("#9CA3AF"),
		Border:  lipgloss.Color("#374151"),
	}

	t.TitleStyle = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	t.UserStyle = lipgloss.NewStyle().
		Foreground(t.Accent).
		Bold(true)

	t.AgentStyle = lipgloss.NewStyle().
		Foreground(t.Text)

	t.StepStyle = lipgloss.NewStyle().
		Foreground(t.Primary)

	t.StatusBarStyle = lipgloss.NewStyle().
		Foreground(t.TextDim).
		Background(lipgloss.Color("#111827"))

	t.InputStyle = lipgloss.NewStyle().
		Foreground(t.Text).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Border)

	t.LockedStyle = lipgloss.NewStyle().
		Foreground(t.Accent).
		BorderTop(true).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(t.Accent)

	t.ErrorStyle = lipgloss.NewStyle().
		Foreground(t.Danger).
		Bold(true)

	t.SuccessStyle = lipgloss.NewStyle().
		Foreground(t.Success)

	t.MutedStyle = lipgloss.NewStyle().
		Foreground(t.Muted)

	t.HITLBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(t.Accent).
		Padding(0, 1)

	t.HITLTitleStyle = lipgloss.NewStyle().
		Foreground(t.Accent).
		Bold(true)

	t.TableHeadStyle = lipgloss.NewStyle().
		Foreground(t.Primary).
		Bold(true)

	t.TableCellStyle = lipgloss.NewStyle().
		Foreground(t.Text)

	t.SuggestionStyle = lipgloss.NewStyle().
		Foreground(t.TextDim).
		Italic(true)

	return t
}
