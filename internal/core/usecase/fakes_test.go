package usecase

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/core/ports"
)

// manualScheduler runs posted tasks in order on the calling goroutine.
// Background work is held until runBackground, timers until advance.
type manualScheduler struct {
	queue      []func()
	draining   bool
	background []func() func()
	now        time.Duration
	timers     []*manualTimer
}

type manualTimer struct {
	due      time.Duration
	every    time.Duration
	fn       func()
	canceled bool
}

func (s *manualScheduler) Post(fn func()) {
	s.queue = append(s.queue, fn)
	if s.draining {
		return
	}
	s.draining = true
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		next()
	}
	s.draining = false
}

func (s *manualScheduler) Go(work func() func()) {
	s.background = append(s.background, work)
}

func (s *manualScheduler) AfterFunc(d time.Duration, fn func()) func() {
	t := &manualTimer{due: s.now + d, fn: fn}
	s.timers = append(s.timers, t)
	return func() { t.canceled = true }
}

func (s *manualScheduler) Every(d time.Duration, fn func()) func() {
	t := &manualTimer{due: s.now + d, every: d, fn: fn}
	s.timers = append(s.timers, t)
	return func() { t.canceled = true }
}

func (s *manualScheduler) runBackground() {
	for len(s.background) > 0 {
		work := s.background[0]
		s.background = s.background[1:]
		if cont := work(); cont != nil {
			s.Post(cont)
		}
	}
}

// advance moves the clock forward, firing due timers in deadline order.
func (s *manualScheduler) advance(d time.Duration) {
	target := s.now + d
	for {
		next := s.nextTimer(target)
		if next == nil {
			break
		}
		s.now = next.due
		if next.every > 0 {
			next.due += next.every
		} else {
			next.canceled = true
		}
		s.Post(next.fn)
	}
	s.now = target
}

func (s *manualScheduler) nextTimer(limit time.Duration) *manualTimer {
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.canceled {
			live = append(live, t)
		}
	}
	s.timers = live
	sort.SliceStable(s.timers, func(i, j int) bool { return s.timers[i].due < s.timers[j].due })
	if len(s.timers) == 0 || s.timers[0].due > limit {
		return nil
	}
	return s.timers[0]
}

func (s *manualScheduler) pendingTimers() int {
	n := 0
	for _, t := range s.timers {
		if !t.canceled && t.every == 0 {
			n++
		}
	}
	return n
}

type uploaderFake struct {
	batchID domain.ID
	err     error
	calls   [][]domain.UploadFile
	opts    []domain.UploadOptions
}

func (f *uploaderFake) Upload(_ context.Context, files []domain.UploadFile, opts domain.UploadOptions) (domain.ID, error) {
	f.calls = append(f.calls, files)
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return "", f.err
	}
	return f.batchID, nil
}

type channelFake struct {
	batchID  domain.ID
	handlers ports.ChannelHandlers
	state    domain.ChannelState
	closed   int
}

func (c *channelFake) State() domain.ChannelState { return c.state }

func (c *channelFake) Close() {
	c.closed++
	c.state = domain.ChannelClosed
}

func (c *channelFake) open() {
	c.state = domain.ChannelOpen
	c.handlers.OnOpen()
}

func (c *channelFake) send(raw string) {
	c.handlers.OnMessage([]byte(raw))
}

func (c *channelFake) fail(err error) {
	c.state = domain.ChannelClosed
	c.handlers.OnError(err)
}

type openerFake struct {
	err      error
	channels []*channelFake
}

func (f *openerFake) Open(_ context.Context, batchID domain.ID, handlers ports.ChannelHandlers) (ports.Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := &channelFake{batchID: batchID, handlers: handlers, state: domain.ChannelConnecting}
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *openerFake) last() *channelFake {
	if len(f.channels) == 0 {
		return nil
	}
	return f.channels[len(f.channels)-1]
}

type chatFake struct {
	reply    string
	err      error
	messages []string
	batchIDs []domain.ID
}

func (f *chatFake) SendChat(_ context.Context, batchID domain.ID, message string) (string, error) {
	f.batchIDs = append(f.batchIDs, batchID)
	f.messages = append(f.messages, message)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type recordingSinks struct {
	resets   int
	statuses []ports.StatusLine
	chats    []ports.ChatLine
	results  []domain.FileResult
	started  []domain.ID
	finished []domain.BatchSession
	controls []domain.Controls
}

func (r *recordingSinks) sinks() ports.Sinks {
	return ports.Sinks{Status: r, Chat: r, Results: r, Controls: r}
}

func (r *recordingSinks) ResetStatus()                 { r.resets++ }
func (r *recordingSinks) Status(line ports.StatusLine) { r.statuses = append(r.statuses, line) }
func (r *recordingSinks) Chat(line ports.ChatLine)     { r.chats = append(r.chats, line) }
func (r *recordingSinks) BatchStarted(id domain.ID)    { r.started = append(r.started, id) }
func (r *recordingSinks) Result(res domain.FileResult) { r.results = append(r.results, res) }
func (r *recordingSinks) BatchFinished(s domain.BatchSession) {
	r.finished = append(r.finished, s)
}

func (r *recordingSinks) Controls(c domain.Controls, _ domain.BatchSession) {
	r.controls = append(r.controls, c)
}

func (r *recordingSinks) lastControls() domain.Controls {
	if len(r.controls) == 0 {
		return domain.Controls{}
	}
	return r.controls[len(r.controls)-1]
}

func (r *recordingSinks) lastStatus() ports.StatusLine {
	if len(r.statuses) == 0 {
		return ports.StatusLine{}
	}
	return r.statuses[len(r.statuses)-1]
}

func (r *recordingSinks) lastChat() ports.ChatLine {
	if len(r.chats) == 0 {
		return ports.ChatLine{}
	}
	return r.chats[len(r.chats)-1]
}

func (r *recordingSinks) hasStatus(substr string) bool {
	for _, s := range r.statuses {
		if strings.Contains(s.Text, substr) {
			return true
		}
	}
	return false
}

type metricsFake struct {
	uploads     int
	events      []domain.EventType
	parseErrors int
	reconnects  int
	chats       int
	phases      []domain.Phase
}

func (m *metricsFake) ObserveUpload(time.Duration, error) { m.uploads++ }
func (m *metricsFake) ObserveEvent(t domain.EventType)    { m.events = append(m.events, t) }
func (m *metricsFake) ObserveParseError()                 { m.parseErrors++ }
func (m *metricsFake) ObserveReconnect()                  { m.reconnects++ }
func (m *metricsFake) ObserveChat(time.Duration, error)   { m.chats++ }
func (m *metricsFake) ObservePhase(p domain.Phase)        { m.phases = append(m.phases, p) }

func testFiles(names ...string) []domain.UploadFile {
	out := make([]domain.UploadFile, 0, len(names))
	for _, name := range names {
		out = append(out, domain.UploadFile{
			Name: name,
			Size: int64(len(name)),
			Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("data")), nil },
		})
	}
	return out
}
