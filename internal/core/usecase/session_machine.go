package usecase

import (
	"errors"
	"fmt"

	"github.com/kirillkom/cvclient/internal/core/domain"
)

var errInvalidTransition = errors.New("invalid session transition")

// SessionMachine is the single source of truth for the batch lifecycle.
// It performs no I/O; callers apply side effects after each transition.
type SessionMachine struct {
	batchID           domain.ID
	phase             domain.Phase
	hadQuotaError     bool
	failedBeforeStart bool
	chatInFlight      bool
	fileCount         int
}

func NewSessionMachine() *SessionMachine {
	return &SessionMachine{phase: domain.PhaseIdle}
}

func (m *SessionMachine) Phase() domain.Phase {
	return m.phase
}

func (m *SessionMachine) BatchID() domain.ID {
	return m.batchID
}

func (m *SessionMachine) HadQuotaError() bool {
	return m.hadQuotaError
}

// StartUpload begins a new session. The previous batch id and quota flag are dropped here and only here.
func (m *SessionMachine) StartUpload(fileCount int) error {
	if fileCount <= 0 {
		return domain.WrapError(domain.ErrInvalidInput, "start upload", errors.New("file queue is empty"))
	}
	if m.phase.InFlight() {
		return domain.WrapError(domain.ErrSessionBusy, "start upload", fmt.Errorf("current phase is %s", m.phase))
	}
	*m = SessionMachine{
		phase:     domain.PhaseUploading,
		fileCount: fileCount,
	}
	return nil
}

func (m *SessionMachine) UploadSucceeded(batchID domain.ID) error {
	if m.phase != domain.PhaseUploading {
		return m.invalid("upload succeeded")
	}
	if batchID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "upload succeeded", errors.New("empty batch id"))
	}
	m.batchID = batchID
	m.phase = domain.PhaseStreaming
	return nil
}

func (m *SessionMachine) UploadFailed() error {
	if m.phase != domain.PhaseUploading {
		return m.invalid("upload failed")
	}
	m.phase = domain.PhaseFailed
	m.failedBeforeStart = true
	return nil
}

func (m *SessionMachine) BatchDone(quotaError bool) error {
	if m.phase != domain.PhaseStreaming {
		return m.invalid("batch done")
	}
	m.phase = domain.PhaseCompleted
	if quotaError {
		m.hadQuotaError = true
	}
	return nil
}

func (m *SessionMachine) BatchFailed() error {
	if m.phase != domain.PhaseStreaming {
		return m.invalid("batch failed")
	}
	m.phase = domain.PhaseFailed
	return nil
}

// MarkQuota records a quota condition observed outside batch_done. It never clears the flag.
func (m *SessionMachine) MarkQuota() {
	if m.phase == domain.PhaseIdle {
		return
	}
	m.hadQuotaError = true
}

func (m *SessionMachine) BeginChat() error {
	if !m.Controls().CanSubmitChat {
		return domain.WrapError(domain.ErrChatUnavailable, "begin chat", fmt.Errorf("phase %s, quota %t, in flight %t", m.phase, m.hadQuotaError, m.chatInFlight))
	}
	m.chatInFlight = true
	return nil
}

func (m *SessionMachine) EndChat() {
	m.chatInFlight = false
}

func (m *SessionMachine) Controls() domain.Controls {
	canUpload := !m.phase.InFlight()
	c := domain.Controls{
		CanUpload:               canUpload,
		CanSubmitNewInstruction: canUpload,
		CanSubmitChat:           m.phase == domain.PhaseCompleted && !m.hadQuotaError && m.batchID != "" && !m.chatInFlight,
	}

	switch m.phase {
	case domain.PhaseUploading, domain.PhaseStreaming:
		c.ChatPlaceholder = domain.PlaceholderInProgress
	case domain.PhaseCompleted:
		switch {
		case m.hadQuotaError:
			c.ChatPlaceholder = domain.PlaceholderQuota
		case m.chatInFlight:
			c.ChatPlaceholder = domain.PlaceholderChatPending
		default:
			c.ChatPlaceholder = domain.PlaceholderChatReady
		}
	case domain.PhaseFailed:
		if m.failedBeforeStart {
			c.ChatPlaceholder = domain.PlaceholderUploadFailed
		} else {
			c.ChatPlaceholder = domain.PlaceholderBatchFailed
		}
	default:
		c.ChatPlaceholder = domain.PlaceholderIdle
	}
	return c
}

func (m *SessionMachine) Snapshot() domain.BatchSession {
	return domain.BatchSession{
		BatchID:           m.batchID,
		Phase:             m.phase,
		HadQuotaError:     m.hadQuotaError,
		FailedBeforeStart: m.failedBeforeStart,
		ChatInFlight:      m.chatInFlight,
		FileCount:         m.fileCount,
	}
}

func (m *SessionMachine) invalid(transition string) error {
	return fmt.Errorf("%s from %s: %w", transition, m.phase, errInvalidTransition)
}
