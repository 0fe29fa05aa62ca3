package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/core/ports"
)

const noMarginStyle = `{
	"document": {
		"margin": 0,
		"block_prefix": "",
		"block_suffix": ""
	}
}`

// markdownRenderer renders assistant replies. WithAutoStyle is avoided
// because its terminal query leaks escape sequences into the input.
type markdownRenderer struct {
	renderer *glamour.TermRenderer
}

func newMarkdownRenderer(width int) *markdownRenderer {
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithStylesFromJSONBytes([]byte(noMarginStyle)),
		glamour.WithWordWrap(max(width, 20)),
	)
	if err != nil {
		return &markdownRenderer{}
	}
	return &markdownRenderer{renderer: r}
}

func (r *markdownRenderer) Render(text string) string {
	if r == nil || r.renderer == nil {
		return text
	}
	out, err := r.renderer.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.showDetail {
		return m.viewDetail()
	}

	leftW, rightW := m.columnWidths()
	bodyH := max(m.height-6, 4)
	statusH := bodyH / 2
	chatH := bodyH - statusH

	left := m.theme.panel.Width(leftW - 2).Height(bodyH - 2).Render(m.viewSidebar(leftW - 4))
	status := m.theme.panel.Width(rightW - 2).Height(statusH - 2).Render(
		m.theme.title.Render("Progress") + "\n" + m.statusVP.View())
	chatPanel := m.theme.panel
	if m.controls.CanSubmitChat {
		chatPanel = m.theme.activePanel
	}
	chat := chatPanel.Width(rightW - 2).Height(chatH - 2).Render(
		m.theme.title.Render("Chat") + "\n" + m.chatVP.View())

	body := lipgloss.JoinHorizontal(lipgloss.Top, left, lipgloss.JoinVertical(lipgloss.Left, status, chat))

	parts := []string{m.viewHeader(), body}
	if m.notice != "" {
		parts = append(parts, m.theme.warn.Render(m.notice))
	}
	parts = append(parts, m.input.View(), m.theme.help.Render("enter send  /help commands  pgup/pgdn progress  ctrl+up/down chat  esc quit"))
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) viewHeader() string {
	var b strings.Builder
	b.WriteString(m.theme.title.Render("CV Analyzer"))
	b.WriteString("  ")
	b.WriteString(m.phaseLabel())
	if m.session.BatchID != "" {
		b.WriteString(m.theme.muted.Render("  batch " + m.session.BatchID.String()))
	}
	if m.session.HadQuotaError {
		b.WriteString("  ")
		b.WriteString(m.theme.badge.Render("AI usage limit"))
	}
	b.WriteString(m.theme.muted.Render(fmt.Sprintf("  report:%s web:%s", onOff(m.opts.GenerateReport), onOff(m.opts.WebSearch))))
	return b.String()
}

func (m Model) phaseLabel() string {
	switch m.session.Phase {
	case domain.PhaseUploading:
		return m.spinner.View() + m.theme.info.Render(" uploading")
	case domain.PhaseStreaming:
		return m.spinner.View() + m.theme.info.Render(" analyzing")
	case domain.PhaseCompleted:
		return m.theme.ok.Render("completed")
	case domain.PhaseFailed:
		return m.theme.danger.Render("failed")
	default:
		return m.theme.muted.Render("idle")
	}
}

func (m Model) viewSidebar(width int) string {
	var b strings.Builder
	b.WriteString(m.theme.title.Render("Queue"))
	b.WriteByte('\n')
	if m.deps.Queue == nil || m.deps.Queue.Len() == 0 {
		b.WriteString(m.theme.muted.Render("empty, use /add <path>"))
	} else {
		for i, f := range m.deps.Queue.Files() {
			fmt.Fprintf(&b, "%s %s\n", m.theme.muted.Render(fmt.Sprintf("%2d.", i+1)), truncate(f.Name, width-4))
		}
	}

	b.WriteString("\n\n")
	b.WriteString(m.theme.title.Render("Results"))
	b.WriteByte('\n')
	if len(m.results) == 0 {
		b.WriteString(m.theme.muted.Render("none yet"))
	}
	for i, r := range m.results {
		style := m.theme.ok
		switch {
		case r.IsError():
			style = m.theme.danger
		case r.StepWarnings():
			style = m.theme.warn
		}
		fmt.Fprintf(&b, "%s %s\n", m.theme.muted.Render(fmt.Sprintf("%2d.", i+1)), style.Render(truncate(r.Filename, width-4)))
		for _, field := range r.ExtractedFields() {
			fmt.Fprintf(&b, "    %s\n", m.theme.muted.Render(truncate(field.Label+": "+field.Value, width-4)))
		}
		if r.IsError() {
			fmt.Fprintf(&b, "    %s\n", m.theme.danger.Render(truncate(domain.FriendlyError(r.ErrorMessage), width-4)))
		}
	}
	return b.String()
}

func (m Model) viewDetail() string {
	title := m.theme.title.Render(m.detailTitle)
	body := m.theme.activePanel.Width(max(m.width-2, 20)).Render(m.detailVP.View())
	return lipgloss.JoinVertical(lipgloss.Left, title, body, m.theme.help.Render("esc close  up/down scroll"))
}

func (m Model) renderStatus(line ports.StatusLine) string {
	style := m.levelStyle(line.Level)
	text := line.Text
	if line.Filename != "" {
		text = line.Filename + ": " + text
	}
	out := style.Render(text)
	if line.Quota {
		out += " " + m.theme.badge.Render("limit")
	}
	if line.Detail != "" {
		for _, d := range strings.Split(line.Detail, "\n") {
			out += "\n  " + m.theme.muted.Render(d)
		}
	}
	return out
}

func (m Model) renderChat(line ports.ChatLine) string {
	switch line.Role {
	case ports.RoleUser:
		return m.theme.user.Render("You") + "\n" + m.theme.text.Render(line.Text)
	case ports.RoleAssistant:
		if line.Pending {
			return m.theme.assistant.Render("Assistant") + "\n" + m.theme.muted.Render(line.Text)
		}
		return m.theme.assistant.Render("Assistant") + "\n" + m.markdown.Render(line.Text)
	default:
		return m.levelStyle(line.Level).Render("* " + line.Text)
	}
}

func (m Model) levelStyle(level ports.Level) lipgloss.Style {
	switch level {
	case ports.LevelSuccess:
		return m.theme.ok
	case ports.LevelWarning:
		return m.theme.warn
	case ports.LevelError:
		return m.theme.danger
	case ports.LevelLoading:
		return m.theme.muted
	default:
		return m.theme.info
	}
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func truncate(s string, width int) string {
	if width <= 3 || lipgloss.Width(s) <= width {
		return s
	}
	r := []rune(s)
	if len(r) > width-3 {
		r = r[:width-3]
	}
	return string(r) + "..."
}
