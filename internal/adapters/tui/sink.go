package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/core/ports"
)

type statusMsg struct{ line ports.StatusLine }

type statusResetMsg struct{}

type chatMsg struct{ line ports.ChatLine }

type batchStartedMsg struct{ batchID domain.ID }

type resultMsg struct{ result domain.FileResult }

type batchFinishedMsg struct{ session domain.BatchSession }

type controlsMsg struct {
	controls domain.Controls
	session  domain.BatchSession
}

// Sink turns session notifications into program messages. Send blocks while
// Update runs, so controller methods must only be called from tea.Cmd goroutines.
type Sink struct {
	send func(tea.Msg)
}

func NewSink(send func(tea.Msg)) *Sink {
	return &Sink{send: send}
}

func (s *Sink) Sinks() ports.Sinks {
	return ports.Sinks{Status: s, Chat: s, Results: s, Controls: s}
}

func (s *Sink) ResetStatus()                           { s.send(statusResetMsg{}) }
func (s *Sink) Status(line ports.StatusLine)           { s.send(statusMsg{line: line}) }
func (s *Sink) Chat(line ports.ChatLine)               { s.send(chatMsg{line: line}) }
func (s *Sink) BatchStarted(batchID domain.ID)         { s.send(batchStartedMsg{batchID: batchID}) }
func (s *Sink) Result(result domain.FileResult)        { s.send(resultMsg{result: result}) }
func (s *Sink) BatchFinished(sess domain.BatchSession) { s.send(batchFinishedMsg{session: sess}) }

func (s *Sink) Controls(controls domain.Controls, session domain.BatchSession) {
	s.send(controlsMsg{controls: controls, session: session})
}
