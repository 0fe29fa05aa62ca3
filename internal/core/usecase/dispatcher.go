package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/core/ports"
)

const parseErrorText = "Could not interpret server update."

// batchTransitions is what the dispatcher needs from the owner of the session.
type batchTransitions interface {
	closeChannel()
	batchDone(quotaError bool)
	batchFailed()
	quotaDetected()
}

// MessageDispatcher routes decoded push messages to sinks and session transitions.
type MessageDispatcher struct {
	sinks   ports.Sinks
	session batchTransitions
	metrics ports.SessionMetrics
	logger  *slog.Logger

	// suspectedQuota holds heuristic quota hits of the current batch. They only
	// count when batch_done carries no explicit quota signal.
	suspectedQuota bool
}

func newMessageDispatcher(sinks ports.Sinks, session batchTransitions, metrics ports.SessionMetrics, logger *slog.Logger) *MessageDispatcher {
	return &MessageDispatcher{
		sinks:   sinks,
		session: session,
		metrics: metrics,
		logger:  logger,
	}
}

// Dispatch handles one raw message. Malformed payloads are reported and dropped.
func (d *MessageDispatcher) Dispatch(raw []byte) {
	ev, err := domain.DecodeEvent(raw)
	if err != nil {
		d.metrics.ObserveParseError()
		d.logger.Warn("push_message_parse_failed", "error", err, "payload_bytes", len(raw))
		d.sinks.Status.Status(ports.StatusLine{Level: ports.LevelError, Text: parseErrorText})
		return
	}
	d.metrics.ObserveEvent(ev.Type)

	switch ev.Type {
	case domain.EventError:
		d.sinks.Status.Status(ports.StatusLine{
			Level:    ports.LevelError,
			Filename: ev.Filename,
			Text:     "ERROR: " + domain.FriendlyError(ev.Message),
			Quota:    ev.IndicatesQuota(),
		})
		d.noteQuota(ev)
	case domain.EventInitialInstructionResult:
		d.handleInstructionResult(ev)
	case domain.EventFileDone:
		d.handleFileDone(ev)
	case domain.EventFileError:
		d.handleFileError(ev)
	case domain.EventBatchDone:
		d.session.closeChannel()
		quota, explicit := ev.ExplicitQuota()
		if !explicit {
			quota = d.suspectedQuota
		}
		d.suspectedQuota = false
		d.sinks.Status.Status(ports.StatusLine{
			Level: ports.LevelSuccess,
			Text:  withDefault(ev.Message, "Batch analysis complete."),
			Quota: quota,
		})
		d.session.batchDone(quota)
	case domain.EventBatchFailed:
		d.session.closeChannel()
		quota := ev.IndicatesQuota()
		d.suspectedQuota = false
		d.sinks.Status.Status(ports.StatusLine{
			Level: ports.LevelError,
			Text:  "Batch analysis failed: " + domain.FriendlyError(ev.Message),
			Quota: quota,
		})
		if quota {
			d.session.quotaDetected()
		}
		d.session.batchFailed()
	default:
		d.sinks.Status.Status(FormatStatusLine(ev))
	}
}

// reset forgets heuristic hits of a previous batch.
func (d *MessageDispatcher) reset() {
	d.suspectedQuota = false
}

// noteQuota makes an explicit quota signal sticky right away. A heuristic hit
// is only remembered for batch_done.
func (d *MessageDispatcher) noteQuota(ev domain.Event) {
	if quota, explicit := ev.ExplicitQuota(); explicit {
		if quota {
			d.session.quotaDetected()
		}
		return
	}
	if ev.IndicatesQuota() {
		d.suspectedQuota = true
	}
}

func (d *MessageDispatcher) handleInstructionResult(ev domain.Event) {
	reply := strings.TrimSpace(ev.Reply)
	if reply == "" {
		reply = strings.TrimSpace(ev.Message)
	}
	if reply == "" {
		d.sinks.Chat.Chat(ports.ChatLine{Role: ports.RoleSystem, Level: ports.LevelWarning, Text: "The initial instruction produced no answer."})
		return
	}
	d.sinks.Chat.Chat(ports.ChatLine{Role: ports.RoleAssistant, Text: reply})
}

func (d *MessageDispatcher) handleFileDone(ev domain.Event) {
	if ev.Result == nil {
		d.logger.Warn("file_done_without_result", "filename", ev.Filename)
		d.sinks.Status.Status(ports.StatusLine{
			Level:    ports.LevelWarning,
			Filename: ev.Filename,
			Text:     fmt.Sprintf("File '%s' finished without a result.", ev.Filename),
		})
		return
	}

	result := *ev.Result
	if result.Filename == "" {
		result.Filename = ev.Filename
	}
	if result.FileID == "" {
		result.FileID = ev.FileID
	}
	d.sinks.Results.Result(result)

	level := ports.LevelSuccess
	switch {
	case result.IsError():
		level = ports.LevelError
	case result.StepWarnings():
		level = ports.LevelWarning
	}
	text := fmt.Sprintf("File '%s' processed. Status: %s", result.Filename, withDefault(result.StatusFinal, "unknown"))
	if result.StepWarnings() {
		text += " (some AI steps reported problems)"
	}
	d.sinks.Status.Status(ports.StatusLine{Level: level, Filename: result.Filename, Text: text})
}

func (d *MessageDispatcher) handleFileError(ev domain.Event) {
	d.sinks.Status.Status(ports.StatusLine{
		Level:    ports.LevelError,
		Filename: ev.Filename,
		Text:     fmt.Sprintf("Error processing '%s': %s", ev.Filename, domain.FriendlyError(ev.Message)),
		Quota:    ev.IndicatesQuota(),
	})
	d.sinks.Results.Result(domain.FileResult{
		Filename:     ev.Filename,
		FileID:       ev.FileID,
		StatusFinal:  domain.StatusFinalError,
		ErrorMessage: ev.Message,
	})
	d.noteQuota(ev)
}

// FormatStatusLine renders progress events that carry no session semantics.
func FormatStatusLine(ev domain.Event) ports.StatusLine {
	line := ports.StatusLine{Level: ports.LevelInfo, Filename: ev.Filename}
	switch ev.Type {
	case domain.EventStatus:
		line.Text = withDefault(ev.Message, "Working...")
	case domain.EventWarning:
		line.Level = ports.LevelWarning
		line.Text = "Warning: " + withDefault(ev.Message, "server reported a warning")
	case domain.EventFileStart:
		line.Level = ports.LevelLoading
		if ev.Total > 0 {
			line.Text = fmt.Sprintf("--- Starting analysis: %s (%d/%d) ---", ev.Filename, ev.Index, ev.Total)
		} else {
			line.Text = fmt.Sprintf("--- Starting analysis: %s ---", ev.Filename)
		}
	case domain.EventStepStart:
		line.Level = ports.LevelLoading
		line.Text = withDefault(ev.Step, "step") + "..."
	case domain.EventStepDone:
		line = formatStepDone(ev)
	case domain.EventPause:
		line.Text = withDefault(ev.Message, fmt.Sprintf("Pausing for %g seconds...", ev.Duration))
	default:
		line.Text = withDefault(ev.Message, fmt.Sprintf("Update (%s)", withDefault(string(ev.Type), "unknown")))
	}
	return line
}

func formatStepDone(ev domain.Event) ports.StatusLine {
	step := withDefault(ev.Step, "step")
	line := ports.StatusLine{Filename: ev.Filename}
	switch domain.ClassifyStepStatus(ev.Status) {
	case domain.StepFailed:
		line.Level = ports.LevelError
		line.Text = fmt.Sprintf("%s: failed (%s)", step, domain.FriendlyError(ev.Status))
		line.Quota = domain.LooksLikeQuotaMessage(ev.Status)
	case domain.StepSkipped:
		line.Level = ports.LevelInfo
		line.Text = fmt.Sprintf("%s: not requested", step)
	case domain.StepWarning:
		line.Level = ports.LevelWarning
		line.Text = fmt.Sprintf("%s: %s", step, ev.Status)
	default:
		line.Level = ports.LevelSuccess
		line.Text = fmt.Sprintf("%s: %s", step, withDefault(ev.Status, "OK"))
	}
	if ev.Summary != "" {
		line.Detail = ev.Summary
	} else if len(ev.Data) > 0 {
		line.Detail = formatStepData(ev.Data)
	}
	return line
}

func formatStepData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := data[k].(type) {
		case string:
			if v != "" {
				parts = append(parts, k+": "+v)
			}
		default:
			raw, err := json.Marshal(v)
			if err == nil && string(raw) != "null" {
				parts = append(parts, k+": "+string(raw))
			}
		}
	}
	return strings.Join(parts, "\n")
}

func withDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
