package usecase

import (
	"log/slog"
	"time"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/core/ports"
)

const (
	DefaultHealthCheckInterval = 10 * time.Second
	DefaultReconnectBackoff    = 5 * time.Second
)

// reconnectTarget is the session view the supervisor polls.
type reconnectTarget interface {
	streaming() bool
	channelState() domain.ChannelState
	connectionLost(retryIn time.Duration)
	reconnect()
}

// ReconnectSupervisor re-opens a dropped push channel while a batch is streaming.
// All methods run on the scheduler loop.
type ReconnectSupervisor struct {
	sched    ports.Scheduler
	target   reconnectTarget
	interval time.Duration
	backoff  time.Duration
	logger   *slog.Logger

	stopTicker    func()
	cancelPending func()
}

func newReconnectSupervisor(sched ports.Scheduler, target reconnectTarget, interval, backoff time.Duration, logger *slog.Logger) *ReconnectSupervisor {
	if interval <= 0 {
		interval = DefaultHealthCheckInterval
	}
	if backoff <= 0 {
		backoff = DefaultReconnectBackoff
	}
	return &ReconnectSupervisor{
		sched:    sched,
		target:   target,
		interval: interval,
		backoff:  backoff,
		logger:   logger,
	}
}

// Start begins periodic health checks. Calling it twice keeps a single ticker.
func (s *ReconnectSupervisor) Start() {
	if s.stopTicker != nil {
		return
	}
	s.stopTicker = s.sched.Every(s.interval, s.Check)
}

// Stop halts health checks and drops any pending attempt.
func (s *ReconnectSupervisor) Stop() {
	if s.stopTicker != nil {
		s.stopTicker()
		s.stopTicker = nil
	}
	s.cancel()
}

func (s *ReconnectSupervisor) Running() bool {
	return s.stopTicker != nil
}

func (s *ReconnectSupervisor) Pending() bool {
	return s.cancelPending != nil
}

// Check runs one health probe.
func (s *ReconnectSupervisor) Check() {
	streaming := s.target.streaming()
	state := s.target.channelState()

	if !streaming || state == domain.ChannelOpen {
		s.cancel()
		return
	}
	if state != domain.ChannelClosed || s.cancelPending != nil {
		return
	}

	s.logger.Warn("push_channel_down", "reconnect_in", s.backoff.String())
	s.target.connectionLost(s.backoff)
	s.cancelPending = s.sched.AfterFunc(s.backoff, s.fire)
}

func (s *ReconnectSupervisor) fire() {
	s.cancelPending = nil
	if !s.target.streaming() {
		return
	}
	if s.target.channelState() == domain.ChannelOpen {
		return
	}
	s.target.reconnect()
}

func (s *ReconnectSupervisor) cancel() {
	if s.cancelPending != nil {
		s.cancelPending()
		s.cancelPending = nil
	}
}
