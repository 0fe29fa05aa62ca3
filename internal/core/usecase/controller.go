package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/core/ports"
)

var ErrControllerClosed = errors.New("batch controller closed")

const closeWait = 2 * time.Second

type ControllerConfig struct {
	HealthCheckInterval time.Duration
	ReconnectBackoff    time.Duration
	Metrics             ports.SessionMetrics
	Logger              *slog.Logger
}

// BatchController owns one batch session at a time. Every mutation runs on the
// scheduler loop; exported methods post to the loop and wait for the guard result.
type BatchController struct {
	uploader ports.BatchUploader
	opener   ports.ChannelOpener
	chat     ports.ChatClient
	sched    ports.Scheduler
	sinks    ports.Sinks
	metrics  ports.SessionMetrics
	logger   *slog.Logger

	machine    *SessionMachine
	dispatcher *MessageDispatcher
	supervisor *ReconnectSupervisor

	channel    ports.Channel
	generation uint64

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	snapshot  atomic.Pointer[domain.BatchSession]
}

func NewBatchController(
	uploader ports.BatchUploader,
	opener ports.ChannelOpener,
	chat ports.ChatClient,
	sched ports.Scheduler,
	sinks ports.Sinks,
	cfg ControllerConfig,
) *BatchController {
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = discardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &BatchController{
		uploader: uploader,
		opener:   opener,
		chat:     chat,
		sched:    sched,
		sinks:    withNoopSinks(sinks),
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		machine:  NewSessionMachine(),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.dispatcher = newMessageDispatcher(c.sinks, c, c.metrics, c.logger)
	c.supervisor = newReconnectSupervisor(sched, c, cfg.HealthCheckInterval, cfg.ReconnectBackoff, c.logger)
	snap := c.machine.Snapshot()
	c.snapshot.Store(&snap)
	return c
}

// StartBatch validates the request on the loop and uploads in the background.
// A nil error means the upload was started, not that it succeeded.
func (c *BatchController) StartBatch(ctx context.Context, files []domain.UploadFile, opts domain.UploadOptions) error {
	return c.call(ctx, func() error {
		if err := c.machine.StartUpload(len(files)); err != nil {
			c.sinks.Status.Status(ports.StatusLine{Level: ports.LevelWarning, Text: startRejectedText(err)})
			return err
		}
		c.closeChannel()
		c.supervisor.Stop()

		c.sinks.Status.ResetStatus()
		c.sinks.Status.Status(ports.StatusLine{
			Level: ports.LevelLoading,
			Text:  fmt.Sprintf("Starting upload and analysis of %d file(s)...", len(files)),
		})
		if instruction := strings.TrimSpace(opts.Instruction); instruction != "" {
			c.sinks.Status.Status(ports.StatusLine{
				Level: ports.LevelInfo,
				Text:  fmt.Sprintf("Initial instruction: %q", truncateRunes(instruction, 50)),
			})
		}
		c.publishControls()

		queued := append([]domain.UploadFile(nil), files...)
		started := time.Now()
		ctx := c.ctx
		c.sched.Go(func() func() {
			batchID, err := c.uploader.Upload(ctx, queued, opts)
			return func() { c.finishUpload(batchID, err, time.Since(started)) }
		})
		return nil
	})
}

// SubmitChat sends a follow-up question for the current batch.
func (c *BatchController) SubmitChat(ctx context.Context, message string) error {
	text := strings.TrimSpace(message)
	if text == "" {
		return domain.WrapError(domain.ErrInvalidInput, "submit chat", errors.New("message is empty"))
	}
	return c.call(ctx, func() error {
		batchID := c.machine.BatchID()
		if batchID == "" {
			c.sinks.Chat.Chat(ports.ChatLine{Role: ports.RoleSystem, Level: ports.LevelWarning, Text: domain.PlaceholderNoBatchForChat})
			return domain.WrapError(domain.ErrChatUnavailable, "submit chat", errors.New("no analyzed batch"))
		}
		if err := c.machine.BeginChat(); err != nil {
			c.sinks.Chat.Chat(ports.ChatLine{Role: ports.RoleSystem, Level: ports.LevelWarning, Text: c.machine.Controls().ChatPlaceholder})
			return err
		}

		c.sinks.Chat.Chat(ports.ChatLine{Role: ports.RoleUser, Text: text})
		c.sinks.Chat.Chat(ports.ChatLine{Role: ports.RoleAssistant, Level: ports.LevelLoading, Text: "Processing your question...", Pending: true})
		c.publishControls()

		started := time.Now()
		ctx := c.ctx
		c.sched.Go(func() func() {
			reply, err := c.chat.SendChat(ctx, batchID, text)
			return func() { c.finishChat(batchID, reply, err, time.Since(started)) }
		})
		return nil
	})
}

// Snapshot is safe to call from any goroutine.
func (c *BatchController) Snapshot() domain.BatchSession {
	return *c.snapshot.Load()
}

// Close stops the supervisor, closes the channel and cancels in-flight requests.
func (c *BatchController) Close() {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeWait)
		defer cancel()
		err := c.call(ctx, func() error {
			c.supervisor.Stop()
			c.closeChannel()
			return nil
		})
		if err != nil {
			c.logger.Warn("batch_controller_close_timeout", "error", err)
		}
		c.cancel()
		close(c.done)
	})
}

func (c *BatchController) call(ctx context.Context, fn func() error) error {
	select {
	case <-c.done:
		return ErrControllerClosed
	default:
	}
	result := make(chan error, 1)
	c.sched.Post(func() { result <- fn() })
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrControllerClosed
	}
}

func (c *BatchController) finishUpload(batchID domain.ID, err error, took time.Duration) {
	c.metrics.ObserveUpload(took, err)
	if c.machine.Phase() != domain.PhaseUploading {
		c.logger.Warn("stale_upload_result", "batch_id", batchID.String(), "phase", string(c.machine.Phase()))
		return
	}
	if err == nil && batchID == "" {
		err = domain.WrapError(domain.ErrUpload, "upload", errors.New("response has no batch id"))
	}
	if err != nil {
		c.logger.Error("batch_upload_failed", "error", err, "duration_ms", took.Milliseconds())
		_ = c.machine.UploadFailed()
		c.sinks.Status.Status(ports.StatusLine{
			Level: ports.LevelError,
			Text:  "Could not start the analysis: " + domain.FriendlyError(errorMessage(err)),
			Quota: domain.IsKind(err, domain.ErrQuota),
		})
		c.sinks.Chat.Chat(ports.ChatLine{Role: ports.RoleSystem, Level: ports.LevelError, Text: domain.PlaceholderUploadFailed})
		c.publishControls()
		return
	}

	if err := c.machine.UploadSucceeded(batchID); err != nil {
		c.logger.Error("batch_upload_transition_failed", "error", err)
		return
	}
	c.logger.Info("batch_upload_succeeded", "batch_id", batchID.String(), "duration_ms", took.Milliseconds())
	c.sinks.Status.Status(ports.StatusLine{
		Level: ports.LevelInfo,
		Text:  fmt.Sprintf("Files uploaded (batch %s). Waiting for progress updates...", batchID),
	})
	c.sinks.Results.BatchStarted(batchID)
	c.dispatcher.reset()
	c.openChannel()
	c.supervisor.Start()
	c.publishControls()
}

func (c *BatchController) finishChat(batchID domain.ID, reply string, err error, took time.Duration) {
	c.metrics.ObserveChat(took, err)
	current := batchID == c.machine.BatchID()
	if current {
		c.machine.EndChat()
	}

	if err != nil {
		c.logger.Warn("chat_request_failed", "batch_id", batchID.String(), "error", err)
		quota := domain.IsKind(err, domain.ErrQuota) || domain.LooksLikeQuotaMessage(errorMessage(err))
		c.sinks.Chat.Chat(ports.ChatLine{
			Role:  ports.RoleSystem,
			Level: ports.LevelError,
			Text:  "Error processing question: " + domain.FriendlyError(errorMessage(err)),
		})
		if quota && current {
			c.machine.MarkQuota()
		}
	} else {
		reply = strings.TrimSpace(reply)
		if reply == "" {
			reply = "The assistant returned no answer."
		}
		c.sinks.Chat.Chat(ports.ChatLine{Role: ports.RoleAssistant, Text: reply})
	}
	c.publishControls()
}

func (c *BatchController) openChannel() {
	c.closeChannel()
	gen := c.generation
	batchID := c.machine.BatchID()

	ch, err := c.opener.Open(c.ctx, batchID, ports.ChannelHandlers{
		OnOpen: func() {
			c.sched.Post(func() {
				if gen == c.generation {
					c.handleOpen()
				}
			})
		},
		OnMessage: func(raw []byte) {
			payload := append([]byte(nil), raw...)
			c.sched.Post(func() {
				if gen == c.generation {
					c.dispatcher.Dispatch(payload)
				}
			})
		},
		OnError: func(err error) {
			c.sched.Post(func() {
				if gen == c.generation {
					c.handleChannelError(err)
				}
			})
		},
	})
	if err != nil {
		c.handleChannelError(err)
		return
	}
	c.channel = ch
}

// closeChannel is idempotent. Bumping the generation drops callbacks already queued for the old channel.
func (c *BatchController) closeChannel() {
	c.generation++
	if c.channel == nil {
		return
	}
	c.channel.Close()
	c.channel = nil
}

func (c *BatchController) handleOpen() {
	c.logger.Info("push_channel_open", "batch_id", c.machine.BatchID().String())
	c.sinks.Status.Status(ports.StatusLine{Level: ports.LevelInfo, Text: "Connected to the analysis progress stream."})
}

func (c *BatchController) handleChannelError(err error) {
	if c.machine.Phase() != domain.PhaseStreaming {
		return
	}
	c.logger.Warn("push_channel_error", "batch_id", c.machine.BatchID().String(), "error", err)
	c.closeChannel()
	c.sinks.Status.Status(ports.StatusLine{
		Level: ports.LevelWarning,
		Text:  "Connection to the progress stream was interrupted.",
	})
}

func (c *BatchController) publishControls() {
	snap := c.machine.Snapshot()
	c.snapshot.Store(&snap)
	c.metrics.ObservePhase(snap.Phase)
	c.sinks.Controls.Controls(c.machine.Controls(), snap)
}

func (c *BatchController) batchDone(quotaError bool) {
	if err := c.machine.BatchDone(quotaError); err != nil {
		c.logger.Warn("batch_done_ignored", "error", err)
		return
	}
	c.supervisor.Stop()
	snap := c.machine.Snapshot()
	c.logger.Info("batch_done", "batch_id", snap.BatchID.String(), "quota_error", snap.HadQuotaError)
	if snap.HadQuotaError {
		c.sinks.Chat.Chat(ports.ChatLine{
			Role:  ports.RoleSystem,
			Level: ports.LevelError,
			Text:  "Chat is disabled for this batch because the AI usage limit was reached during the analysis.",
		})
	} else {
		c.sinks.Chat.Chat(ports.ChatLine{
			Role:  ports.RoleSystem,
			Level: ports.LevelSuccess,
			Text:  "Analysis complete. You can now ask questions about the processed files.",
		})
	}
	c.sinks.Results.BatchFinished(snap)
	c.publishControls()
}

func (c *BatchController) batchFailed() {
	if err := c.machine.BatchFailed(); err != nil {
		c.logger.Warn("batch_failed_ignored", "error", err)
		return
	}
	c.supervisor.Stop()
	snap := c.machine.Snapshot()
	c.logger.Error("batch_failed", "batch_id", snap.BatchID.String())
	c.sinks.Chat.Chat(ports.ChatLine{
		Role:  ports.RoleSystem,
		Level: ports.LevelError,
		Text:  "Chat is disabled because the batch analysis failed.",
	})
	c.sinks.Results.BatchFinished(snap)
	c.publishControls()
}

func (c *BatchController) quotaDetected() {
	if c.machine.HadQuotaError() {
		return
	}
	c.machine.MarkQuota()
	c.logger.Warn("ai_quota_detected", "batch_id", c.machine.BatchID().String())
	c.publishControls()
}

func (c *BatchController) streaming() bool {
	return c.machine.Phase() == domain.PhaseStreaming
}

func (c *BatchController) channelState() domain.ChannelState {
	if c.channel == nil {
		return domain.ChannelClosed
	}
	return c.channel.State()
}

func (c *BatchController) connectionLost(retryIn time.Duration) {
	c.sinks.Status.Status(ports.StatusLine{
		Level: ports.LevelWarning,
		Text:  fmt.Sprintf("Progress stream is down. Reconnecting in %s...", retryIn),
	})
}

func (c *BatchController) reconnect() {
	c.metrics.ObserveReconnect()
	c.logger.Info("push_channel_reconnect", "batch_id", c.machine.BatchID().String())
	c.openChannel()
}

func startRejectedText(err error) string {
	if domain.IsKind(err, domain.ErrSessionBusy) {
		return "An analysis is already in progress. Wait for it to finish."
	}
	return "Add at least one file before starting the analysis."
}

// errorMessage returns the innermost message, which is what the server sent.
func errorMessage(err error) string {
	for {
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			errs := u.Unwrap()
			if len(errs) == 0 {
				return err.Error()
			}
			err = errs[len(errs)-1]
		case interface{ Unwrap() error }:
			next := u.Unwrap()
			if next == nil {
				return err.Error()
			}
			err = next
		default:
			return err.Error()
		}
	}
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "..."
}
