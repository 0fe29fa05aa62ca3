package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/infrastructure/resilience"
)

const (
	KindBatchStarted  = "batch_started"
	KindFileResult    = "file_result"
	KindBatchFinished = "batch_finished"

	defaultBufferSize = 256
)

// Envelope is the JSON document published for every result sink notification.
type Envelope struct {
	Kind     string               `json:"kind"`
	BatchID  domain.ID            `json:"batch_id,omitempty"`
	Result   *domain.FileResult   `json:"result,omitempty"`
	Session  *domain.BatchSession `json:"session,omitempty"`
	Produced time.Time            `json:"produced_at"`
}

type publisher interface {
	Publish(subject string, data []byte) error
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	BufferSize           int
	ResilienceExecutor   *resilience.Executor
	Logger               *slog.Logger
}

// ResultPublisher forwards batch results to a NATS subject. Sink methods never block;
// envelopes are queued and published by a background goroutine.
type ResultPublisher struct {
	conn     *nats.Conn
	pub      publisher
	subject  string
	executor *resilience.Executor
	logger   *slog.Logger
	now      func() time.Time

	queue     chan Envelope
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	batchID domain.ID
	closed  bool
}

func Connect(url string, options Options) (*nats.Conn, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("cvclient"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

func NewResultPublisher(url, subject string, options Options) (*ResultPublisher, error) {
	conn, err := Connect(url, options)
	if err != nil {
		return nil, err
	}
	p := newResultPublisher(conn, subject, options)
	p.conn = conn
	return p, nil
}

func newResultPublisher(pub publisher, subject string, options Options) *ResultPublisher {
	size := options.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	p := &ResultPublisher{
		pub:      pub,
		subject:  subject,
		executor: options.ResilienceExecutor,
		logger:   logger,
		now:      time.Now,
		queue:    make(chan Envelope, size),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *ResultPublisher) BatchStarted(batchID domain.ID) {
	p.mu.Lock()
	p.batchID = batchID
	p.mu.Unlock()
	p.enqueue(Envelope{Kind: KindBatchStarted, BatchID: batchID})
}

func (p *ResultPublisher) Result(result domain.FileResult) {
	p.enqueue(Envelope{Kind: KindFileResult, BatchID: p.currentBatch(), Result: &result})
}

func (p *ResultPublisher) BatchFinished(session domain.BatchSession) {
	p.enqueue(Envelope{Kind: KindBatchFinished, BatchID: session.BatchID, Session: &session})
}

// Close flushes queued envelopes, waiting at most until ctx is done.
func (p *ResultPublisher) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()
	})

	var err error
	select {
	case <-p.done:
	case <-ctx.Done():
		err = fmt.Errorf("flush nats results: %w", ctx.Err())
	}
	if p.conn != nil {
		if flushErr := p.conn.FlushTimeout(2 * time.Second); flushErr != nil && err == nil && !errors.Is(flushErr, nats.ErrConnectionClosed) {
			err = fmt.Errorf("nats flush: %w", flushErr)
		}
		p.conn.Close()
	}
	return err
}

func (p *ResultPublisher) currentBatch() domain.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batchID
}

func (p *ResultPublisher) enqueue(env Envelope) {
	env.Produced = p.now().UTC()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- env:
	default:
		p.logger.Warn("nats_result_dropped", "kind", env.Kind, "batch_id", env.BatchID.String())
	}
}

func (p *ResultPublisher) run() {
	defer close(p.done)
	for env := range p.queue {
		if err := p.publish(context.Background(), env); err != nil {
			p.logger.Error("nats_publish_failed", "kind", env.Kind, "batch_id", env.BatchID.String(), "error", err)
		}
	}
}

func (p *ResultPublisher) publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	call := func(_ context.Context, _ int) error {
		if err := p.pub.Publish(p.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if p.executor != nil {
		err = p.executor.Do(ctx, resilience.Call{Operation: "nats.publish", Classify: classifyPublishError}, call)
	} else {
		err = call(ctx, 1)
	}
	if err != nil {
		return publishError(p.subject, err)
	}
	return nil
}

// Subscribe delivers envelopes published on subject until ctx is done.
// Messages that are not envelopes go to onError as ErrMessageParse.
func Subscribe(ctx context.Context, conn *nats.Conn, subject string, handler func(Envelope), onError func(error)) error {
	sub, err := conn.Subscribe(subject, envelopeHandler(ctx, handler, onError))
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	return nil
}

func envelopeHandler(ctx context.Context, handler func(Envelope), onError func(error)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		env, err := decodeEnvelope(msg.Data)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("subject %s: %w", msg.Subject, err))
			}
			return
		}
		handler(env)
	}
}

func decodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, domain.WrapError(domain.ErrMessageParse, "decode result envelope", err)
	}
	if env.Kind == "" {
		return Envelope{}, domain.WrapError(domain.ErrMessageParse, "decode result envelope", errors.New("missing kind"))
	}
	return env, nil
}
