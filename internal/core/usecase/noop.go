package usecase

import (
	"io"
	"log/slog"
	"time"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/core/ports"
)

type noopMetrics struct{}

func (noopMetrics) ObserveUpload(time.Duration, error) {}
func (noopMetrics) ObserveEvent(domain.EventType)      {}
func (noopMetrics) ObserveParseError()                 {}
func (noopMetrics) ObserveReconnect()                  {}
func (noopMetrics) ObserveChat(time.Duration, error)   {}
func (noopMetrics) ObservePhase(domain.Phase)          {}

type noopSink struct{}

func (noopSink) ResetStatus()                                  {}
func (noopSink) Status(ports.StatusLine)                       {}
func (noopSink) Chat(ports.ChatLine)                           {}
func (noopSink) BatchStarted(domain.ID)                        {}
func (noopSink) Result(domain.FileResult)                      {}
func (noopSink) BatchFinished(domain.BatchSession)             {}
func (noopSink) Controls(domain.Controls, domain.BatchSession) {}

func withNoopSinks(s ports.Sinks) ports.Sinks {
	if s.Status == nil {
		s.Status = noopSink{}
	}
	if s.Chat == nil {
		s.Chat = noopSink{}
	}
	if s.Results == nil {
		s.Results = noopSink{}
	}
	if s.Controls == nil {
		s.Controls = noopSink{}
	}
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
