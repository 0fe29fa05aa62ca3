package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type EventType string

const (
	EventStatus                   EventType = "status"
	EventWarning                  EventType = "warning"
	EventError                    EventType = "error"
	EventInitialInstructionResult EventType = "initial_instruction_result"
	EventFileStart                EventType = "file_start"
	EventFileDone                 EventType = "file_done"
	EventFileError                EventType = "file_error"
	EventStepStart                EventType = "step_start"
	EventStepDone                 EventType = "step_done"
	EventPause                    EventType = "pause"
	EventBatchDone                EventType = "batch_done"
	EventBatchFailed              EventType = "batch_failed"
)

// ErrorKindQuota is the explicit error kind a server may attach instead of relying on message text.
const ErrorKindQuota = "quota"

// Event is one decoded server-push message.
type Event struct {
	Type       EventType      `json:"type"`
	Message    string         `json:"message,omitempty"`
	Filename   string         `json:"filename,omitempty"`
	FileID     ID             `json:"file_id,omitempty"`
	Index      int            `json:"index,omitempty"`
	Total      int            `json:"total,omitempty"`
	Step       string         `json:"step,omitempty"`
	Status     string         `json:"status,omitempty"`
	Duration   float64        `json:"duration,omitempty"`
	Reply      string         `json:"reply,omitempty"`
	QuotaError *bool          `json:"quota_error,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	Summary    string         `json:"summary,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Result     *FileResult    `json:"result,omitempty"`
}

// DecodeEvent parses a push payload. Anything that is not a JSON object is an ErrMessageParse.
func DecodeEvent(raw []byte) (Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, WrapError(ErrMessageParse, "decode event", fmt.Errorf("payload is not a json object"))
	}
	var ev Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return Event{}, WrapError(ErrMessageParse, "decode event", err)
	}
	return ev, nil
}

// ExplicitQuota reports the server's own quota signal. ok is false when the
// event carries neither quota_error nor a quota error_kind.
func (e Event) ExplicitQuota() (quota, ok bool) {
	if e.ErrorKind == ErrorKindQuota {
		return true, true
	}
	if e.QuotaError != nil {
		return *e.QuotaError, true
	}
	return false, false
}

// IndicatesQuota prefers explicit fields and falls back to the message heuristic.
func (e Event) IndicatesQuota() bool {
	if quota, ok := e.ExplicitQuota(); ok {
		return quota
	}
	switch e.Type {
	case EventError, EventFileError:
		return LooksLikeQuotaMessage(e.Message)
	default:
		return false
	}
}

// ID is an opaque server identifier. Servers emit it either as a string or as a number.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		*id = ""
		return nil
	}
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*id = ID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = ID(n.String())
	return nil
}

func (id ID) String() string {
	return string(id)
}
