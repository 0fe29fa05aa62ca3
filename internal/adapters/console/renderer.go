// Package console renders session output as plain lines for pipes, CI and --no-ui runs.
package console

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/core/ports"
)

type styles struct {
	time    lipgloss.Style
	info    lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	danger  lipgloss.Style
	muted   lipgloss.Style
	bold    lipgloss.Style
	user    lipgloss.Style
	bot     lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		time:    r.NewStyle().Foreground(lipgloss.Color("#6E7B88")),
		info:    r.NewStyle().Foreground(lipgloss.Color("#65B5FF")),
		success: r.NewStyle().Foreground(lipgloss.Color("#63C17A")),
		warning: r.NewStyle().Foreground(lipgloss.Color("#E7B65A")),
		danger:  r.NewStyle().Foreground(lipgloss.Color("#E06B75")),
		muted:   r.NewStyle().Foreground(lipgloss.Color("#8FA0B3")),
		bold:    r.NewStyle().Bold(true),
		user:    r.NewStyle().Bold(true).Foreground(lipgloss.Color("#9FD3FF")),
		bot:     r.NewStyle().Bold(true).Foreground(lipgloss.Color("#63C17A")),
	}
}

// Renderer implements every session sink by writing lines to w.
type Renderer struct {
	w      io.Writer
	styles styles
	now    func() time.Time

	mu       sync.Mutex
	controls domain.Controls
	session  domain.BatchSession
	finished chan domain.BatchSession
}

func NewRenderer(w io.Writer) *Renderer {
	return &Renderer{
		w:        w,
		styles:   newStyles(lipgloss.NewRenderer(w)),
		now:      time.Now,
		finished: make(chan domain.BatchSession, 1),
	}
}

func (r *Renderer) Sinks() ports.Sinks {
	return ports.Sinks{Status: r, Chat: r, Results: r, Controls: r}
}

// Finished receives the session once the batch reaches a terminal phase.
func (r *Renderer) Finished() <-chan domain.BatchSession {
	return r.finished
}

func (r *Renderer) LastControls() (domain.Controls, domain.BatchSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.controls, r.session
}

func (r *Renderer) ResetStatus() {
	r.println(r.styles.muted.Render(strings.Repeat("-", 60)))
}

func (r *Renderer) Status(line ports.StatusLine) {
	var b strings.Builder
	b.WriteString(r.styles.time.Render(r.now().Format("15:04:05")))
	b.WriteByte(' ')
	b.WriteString(r.levelStyle(line.Level).Render(levelIcon(line.Level)))
	b.WriteByte(' ')
	if line.Filename != "" {
		b.WriteString(r.styles.bold.Render(line.Filename))
		b.WriteString(": ")
	}
	b.WriteString(line.Text)
	if line.Quota {
		b.WriteString(" ")
		b.WriteString(r.styles.danger.Render("[AI usage limit]"))
	}
	r.println(b.String())
	if line.Detail != "" {
		for _, detail := range strings.Split(line.Detail, "\n") {
			r.println("           " + r.styles.muted.Render(detail))
		}
	}
}

func (r *Renderer) Chat(line ports.ChatLine) {
	switch line.Role {
	case ports.RoleUser:
		r.println(r.styles.user.Render("You: ") + line.Text)
	case ports.RoleAssistant:
		if line.Pending {
			r.println(r.styles.muted.Render("Assistant: " + line.Text))
			return
		}
		r.println(r.styles.bot.Render("Assistant: ") + line.Text)
	default:
		r.println(r.levelStyle(line.Level).Render("* " + line.Text))
	}
}

func (r *Renderer) BatchStarted(batchID domain.ID) {
	r.println(r.styles.info.Render(fmt.Sprintf("Batch %s started.", batchID)))
}

func (r *Renderer) Result(result domain.FileResult) {
	r.println(formatResult(result, r.styles))
}

func (r *Renderer) BatchFinished(session domain.BatchSession) {
	switch session.Phase {
	case domain.PhaseCompleted:
		text := fmt.Sprintf("Batch %s completed.", session.BatchID)
		if session.HadQuotaError {
			r.println(r.styles.warning.Render(text + " The AI usage limit was reached; some results may be incomplete."))
			return
		}
		r.println(r.styles.success.Render(text))
	default:
		r.println(r.styles.danger.Render(fmt.Sprintf("Batch %s failed.", session.BatchID)))
	}
}

func (r *Renderer) Controls(controls domain.Controls, session domain.BatchSession) {
	r.mu.Lock()
	r.controls = controls
	r.session = session
	r.mu.Unlock()

	if session.Phase != domain.PhaseCompleted && session.Phase != domain.PhaseFailed {
		return
	}
	select {
	case r.finished <- session:
	default:
	}
}

func (r *Renderer) println(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w, s)
}

func (r *Renderer) levelStyle(level ports.Level) lipgloss.Style {
	switch level {
	case ports.LevelSuccess:
		return r.styles.success
	case ports.LevelWarning:
		return r.styles.warning
	case ports.LevelError:
		return r.styles.danger
	case ports.LevelLoading:
		return r.styles.muted
	default:
		return r.styles.info
	}
}

func levelIcon(level ports.Level) string {
	switch level {
	case ports.LevelSuccess:
		return "[ok]"
	case ports.LevelWarning:
		return "[!!]"
	case ports.LevelError:
		return "[xx]"
	case ports.LevelLoading:
		return "[..]"
	default:
		return "[--]"
	}
}

// formatResult renders a result card as indented lines.
func formatResult(result domain.FileResult, s styles) string {
	var b strings.Builder

	status := s.success
	switch {
	case result.IsError():
		status = s.danger
	case result.StepWarnings():
		status = s.warning
	}
	fmt.Fprintf(&b, "%s %s", s.bold.Render("== "+result.Filename), status.Render("["+result.StatusFinal+"]"))
	if result.FileID != "" {
		fmt.Fprintf(&b, " %s", s.muted.Render("id="+result.FileID.String()))
	}

	if result.IsError() {
		fmt.Fprintf(&b, "\n   %s", s.danger.Render(domain.FriendlyError(result.ErrorMessage)))
		return b.String()
	}

	for _, field := range result.ExtractedFields() {
		fmt.Fprintf(&b, "\n   %s %s", s.muted.Render(field.Label+":"), field.Value)
	}
	if summary := strings.TrimSpace(result.WebSummary); summary != "" {
		fmt.Fprintf(&b, "\n   %s %s", s.muted.Render("Web:"), summary)
	}
	if len(result.Steps) > 0 {
		keys := make([]string, 0, len(result.Steps))
		for k := range result.Steps {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			text := fmt.Sprint(result.Steps[k])
			style := s.muted
			switch domain.ClassifyStepStatus(text) {
			case domain.StepFailed:
				style = s.danger
			case domain.StepWarning:
				style = s.warning
			}
			fmt.Fprintf(&b, "\n   %s", style.Render("step "+k+": "+text))
		}
	}
	if result.HasContent() {
		fmt.Fprintf(&b, "\n   %s", s.muted.Render("full text: cvclient content "+result.FileID.String()))
	}
	return b.String()
}
