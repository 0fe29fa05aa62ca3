// Package tui is the interactive terminal presentation of a batch session.
package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/core/ports"
)

const (
	statusLimit   = 500
	chatLimit     = 200
	actionTimeout = 10 * time.Second
)

// FileQueue is the subset of the upload queue the model edits.
type FileQueue interface {
	Add(files ...domain.UploadFile) (added, ignored int)
	Remove(index int) error
	Clear()
	Len() int
	Files() []domain.UploadFile
}

// PathLoader resolves user-typed paths into upload sources.
type PathLoader func(paths []string) ([]domain.UploadFile, []error)

type Deps struct {
	Service ports.BatchSessionService
	Content ports.ContentViewer
	Queue   FileQueue
	Load    PathLoader
	Options domain.UploadOptions
}

type actionMsg struct {
	action string
	err    error
}

type contentMsg struct {
	content domain.FullContent
	err     error
}

type downloadMsg struct {
	file domain.DownloadedFile
	err  error
}

type Model struct {
	theme theme
	deps  Deps

	width  int
	height int

	input    textinput.Model
	spinner  spinner.Model
	statusVP viewport.Model
	chatVP   viewport.Model
	detailVP viewport.Model
	markdown *markdownRenderer

	statusLines []ports.StatusLine
	chatLines   []ports.ChatLine
	results     []domain.FileResult

	controls domain.Controls
	session  domain.BatchSession
	opts     domain.UploadOptions

	detailTitle string
	showDetail  bool
	notice      string
	quitting    bool
}

func NewModel(deps Deps) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 2000
	ti.Placeholder = domain.PlaceholderIdle
	ti.Focus()

	sp := spinner.New(spinner.WithSpinner(spinner.Dot))

	m := Model{
		theme:    newTheme(),
		deps:     deps,
		input:    ti,
		spinner:  sp,
		statusVP: viewport.New(0, 0),
		chatVP:   viewport.New(0, 0),
		detailVP: viewport.New(0, 0),
		markdown: newMarkdownRenderer(80),
		opts:     deps.Options,
		controls: domain.Controls{CanUpload: true, ChatPlaceholder: domain.PlaceholderIdle},
		session:  domain.BatchSession{Phase: domain.PhaseIdle},
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case statusResetMsg:
		m.statusLines = nil
		m.refreshStatus()
		return m, nil

	case statusMsg:
		m.statusLines = appendCapped(m.statusLines, msg.line, statusLimit)
		m.refreshStatus()
		return m, nil

	case chatMsg:
		m.appendChat(msg.line)
		m.refreshChat()
		return m, nil

	case batchStartedMsg:
		m.results = nil
		if f, ok := m.deps.Content.(interface{ Forget() }); ok {
			f.Forget()
		}
		return m, nil

	case resultMsg:
		m.results = append(m.results, msg.result)
		return m, nil

	case batchFinishedMsg:
		m.session = msg.session
		return m, nil

	case controlsMsg:
		if m.session.Phase == domain.PhaseUploading && msg.session.Phase == domain.PhaseStreaming && m.deps.Queue != nil {
			m.deps.Queue.Clear()
		}
		m.controls = msg.controls
		m.session = msg.session
		m.input.Placeholder = msg.controls.ChatPlaceholder
		return m, nil

	case actionMsg:
		if msg.err != nil && !reportedBySession(msg.err) {
			m.notice = fmt.Sprintf("%s: %v", msg.action, msg.err)
		}
		return m, nil

	case contentMsg:
		if msg.err != nil {
			m.notice = "Could not load content: " + domain.FriendlyError(msg.err.Error())
			return m, nil
		}
		m.detailTitle = msg.content.OriginalName
		m.detailVP.SetContent(msg.content.Content)
		m.detailVP.GotoTop()
		m.showDetail = true
		return m, nil

	case downloadMsg:
		if msg.err != nil {
			m.notice = "Download failed: " + domain.FriendlyError(msg.err.Error())
			return m, nil
		}
		m.notice = fmt.Sprintf("Saved %s (%d bytes) to %s", msg.file.Name, msg.file.Bytes, msg.file.Path)
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showDetail {
		switch msg.String() {
		case "esc", "q":
			m.showDetail = false
			return m, nil
		case "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.detailVP, cmd = m.detailVP.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case "pgup", "pgdown":
		var cmd tea.Cmd
		m.statusVP, cmd = m.statusVP.Update(msg)
		return m, cmd
	case "ctrl+up", "ctrl+down":
		key := tea.KeyMsg{Type: tea.KeyUp}
		if msg.String() == "ctrl+down" {
			key = tea.KeyMsg{Type: tea.KeyDown}
		}
		var cmd tea.Cmd
		m.chatVP, cmd = m.chatVP.Update(key)
		return m, cmd
	case "enter":
		text := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		m.notice = ""
		if text == "" {
			return m, nil
		}
		if strings.HasPrefix(text, "/") {
			return m.runCommand(text)
		}
		return m.submitChat(text)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) runCommand(line string) (tea.Model, tea.Cmd) {
	name, rest, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(name) {
	case "add":
		return m.addFiles(strings.Fields(rest))
	case "rm", "remove":
		if !m.controls.CanUpload {
			m.notice = "The queue cannot change while a batch is in progress."
			return m, nil
		}
		n, err := strconv.Atoi(rest)
		if err != nil || m.deps.Queue == nil || m.deps.Queue.Remove(n-1) != nil {
			m.notice = "Usage: /rm <queued file number>"
		}
		return m, nil
	case "clear":
		if !m.controls.CanUpload {
			m.notice = "The queue cannot change while a batch is in progress."
			return m, nil
		}
		if m.deps.Queue != nil {
			m.deps.Queue.Clear()
		}
		return m, nil
	case "analyze", "start":
		return m.startBatch(rest)
	case "report":
		m.opts.GenerateReport = !m.opts.GenerateReport
		return m, nil
	case "web":
		m.opts.WebSearch = !m.opts.WebSearch
		return m, nil
	case "open", "content":
		result, ok := m.resultAt(rest)
		if !ok || !result.HasContent() {
			m.notice = "Usage: /open <result number> (results with extracted text only)"
			return m, nil
		}
		return m, m.contentCmd(result.FileID)
	case "download", "dl":
		result, ok := m.resultAt(rest)
		if !ok || result.FileID == "" {
			m.notice = "Usage: /download <result number>"
			return m, nil
		}
		return m, m.downloadCmd(result.FileID)
	case "quit", "exit":
		m.quitting = true
		return m, tea.Quit
	case "help":
		m.notice = helpText
		return m, nil
	default:
		m.notice = "Unknown command /" + name + ". Type /help."
		return m, nil
	}
}

const helpText = "/add <paths> /rm <n> /clear /analyze [instruction] /report /web /open <n> /download <n> /quit"

func (m Model) addFiles(paths []string) (tea.Model, tea.Cmd) {
	if !m.controls.CanUpload {
		m.notice = "The queue cannot change while a batch is in progress."
		return m, nil
	}
	if len(paths) == 0 || m.deps.Load == nil || m.deps.Queue == nil {
		m.notice = "Usage: /add <file or directory>..."
		return m, nil
	}
	files, errs := m.deps.Load(paths)
	added, ignored := m.deps.Queue.Add(files...)
	parts := []string{fmt.Sprintf("%d file(s) added", added)}
	if ignored > 0 {
		parts = append(parts, fmt.Sprintf("%d ignored (only .pdf, .docx, .zip)", ignored))
	}
	if len(errs) > 0 {
		parts = append(parts, fmt.Sprintf("%d unreadable", len(errs)))
	}
	m.notice = strings.Join(parts, ", ")
	return m, nil
}

func (m Model) startBatch(instruction string) (tea.Model, tea.Cmd) {
	if !m.controls.CanUpload {
		m.notice = "An analysis is already in progress."
		return m, nil
	}
	if m.deps.Queue == nil || m.deps.Queue.Len() == 0 {
		m.notice = "Add at least one file with /add before starting the analysis."
		return m, nil
	}
	files := m.deps.Queue.Files()
	opts := m.opts
	opts.Instruction = instruction
	svc := m.deps.Service
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionMsg{action: "analyze", err: svc.StartBatch(ctx, files, opts)}
	}
}

func (m Model) submitChat(text string) (tea.Model, tea.Cmd) {
	if !m.controls.CanSubmitChat {
		m.notice = m.controls.ChatPlaceholder
		return m, nil
	}
	svc := m.deps.Service
	return m, func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		return actionMsg{action: "chat", err: svc.SubmitChat(ctx, text)}
	}
}

func (m Model) contentCmd(fileID domain.ID) tea.Cmd {
	viewer := m.deps.Content
	if viewer == nil {
		return nil
	}
	return func() tea.Msg {
		content, err := viewer.FullContent(context.Background(), fileID)
		return contentMsg{content: content, err: err}
	}
}

func (m Model) downloadCmd(fileID domain.ID) tea.Cmd {
	viewer := m.deps.Content
	if viewer == nil {
		return nil
	}
	return func() tea.Msg {
		file, err := viewer.Download(context.Background(), fileID)
		return downloadMsg{file: file, err: err}
	}
}

func (m Model) resultAt(arg string) (domain.FileResult, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || n < 1 || n > len(m.results) {
		return domain.FileResult{}, false
	}
	return m.results[n-1], true
}

// appendChat replaces a pending placeholder with the next non-pending line.
func (m *Model) appendChat(line ports.ChatLine) {
	if n := len(m.chatLines); n > 0 && m.chatLines[n-1].Pending && !line.Pending {
		m.chatLines[n-1] = line
		return
	}
	m.chatLines = appendCapped(m.chatLines, line, chatLimit)
}

func (m *Model) layout() {
	_, rightW := m.columnWidths()
	bodyH := max(m.height-6, 4)
	statusH := bodyH / 2
	chatH := bodyH - statusH - 2

	m.statusVP.Width = max(rightW-4, 10)
	m.statusVP.Height = max(statusH-2, 1)
	m.chatVP.Width = max(rightW-4, 10)
	m.chatVP.Height = max(chatH-2, 1)
	m.detailVP.Width = max(m.width-4, 10)
	m.detailVP.Height = max(m.height-4, 1)
	m.input.Width = max(m.width-6, 10)
	m.markdown = newMarkdownRenderer(m.chatVP.Width)

	m.refreshStatus()
	m.refreshChat()
}

func (m Model) columnWidths() (int, int) {
	if m.width <= 0 {
		return 30, 60
	}
	left := max(m.width/3, 24)
	return left, max(m.width-left, 20)
}

func (m *Model) refreshStatus() {
	lines := make([]string, 0, len(m.statusLines))
	for _, line := range m.statusLines {
		lines = append(lines, m.renderStatus(line))
	}
	m.statusVP.SetContent(strings.Join(lines, "\n"))
	m.statusVP.GotoBottom()
}

func (m *Model) refreshChat() {
	lines := make([]string, 0, len(m.chatLines))
	for _, line := range m.chatLines {
		lines = append(lines, m.renderChat(line))
	}
	m.chatVP.SetContent(strings.Join(lines, "\n"))
	m.chatVP.GotoBottom()
}

func reportedBySession(err error) bool {
	return domain.IsKind(err, domain.ErrSessionBusy) ||
		domain.IsKind(err, domain.ErrInvalidInput) ||
		domain.IsKind(err, domain.ErrChatUnavailable)
}

func appendCapped[T any](items []T, item T, limit int) []T {
	items = append(items, item)
	if len(items) > limit {
		items = append(items[:0:0], items[len(items)-limit:]...)
	}
	return items
}
