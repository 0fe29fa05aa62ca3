package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/core/ports"
)

const streamPathPrefix = "/api/stream-processing/"

var ErrStreamEnded = errors.New("event stream ended")

// Opener connects to the batch progress stream. It never reconnects on its own.
type Opener struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpener expects an http.Client without a global Timeout; streams live as long as the batch.
func NewOpener(baseURL string, httpClient *http.Client, logger *slog.Logger) *Opener {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}
}

// Open returns immediately in the connecting state; the connection is made in the background.
func (o *Opener) Open(ctx context.Context, batchID domain.ID, handlers ports.ChannelHandlers) (ports.Channel, error) {
	if batchID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "open stream", errors.New("batch id is required"))
	}
	streamURL := o.baseURL + streamPathPrefix + url.PathEscape(batchID.String())

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		cancel()
		return nil, domain.WrapError(domain.ErrChannel, "open stream", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	ch := &Channel{
		batchID:  batchID,
		handlers: handlers,
		cancel:   cancel,
		done:     make(chan struct{}),
		logger:   o.logger,
	}
	ch.state.Store(int32(domain.ChannelConnecting))
	go ch.run(o.httpClient, req)
	return ch, nil
}

// Channel is one live event-stream connection.
type Channel struct {
	batchID  domain.ID
	handlers ports.ChannelHandlers
	cancel   context.CancelFunc
	done     chan struct{}
	logger   *slog.Logger

	state atomic.Int32

	mu     sync.Mutex
	closed bool
}

func (c *Channel) State() domain.ChannelState {
	return domain.ChannelState(c.state.Load())
}

// Close is idempotent. Once it returns no handler is invoked again.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.state.Store(int32(domain.ChannelClosed))
	c.cancel()
}

// Done is closed when the read loop exits.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) run(client *http.Client, req *http.Request) {
	defer close(c.done)
	defer c.cancel()

	resp, err := client.Do(req)
	if err != nil {
		c.fail(fmt.Errorf("connect: %w", err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.fail(fmt.Errorf("stream status %s: %s", resp.Status, strings.TrimSpace(string(body))))
		return
	}

	c.state.Store(int32(domain.ChannelOpen))
	c.emit(func() {
		if c.handlers.OnOpen != nil {
			c.handlers.OnOpen()
		}
	})

	reader := NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				err = ErrStreamEnded
			}
			c.fail(err)
			return
		}
		if strings.TrimSpace(ev.Data) == "" {
			continue
		}
		data := []byte(ev.Data)
		c.emit(func() {
			if c.handlers.OnMessage != nil {
				c.handlers.OnMessage(data)
			}
		})
	}
}

func (c *Channel) fail(err error) {
	c.state.Store(int32(domain.ChannelClosed))
	c.emit(func() {
		c.logger.Warn("event_stream_error", "batch_id", c.batchID.String(), "error", err)
		if c.handlers.OnError != nil {
			c.handlers.OnError(domain.WrapError(domain.ErrChannel, "event stream", err))
		}
	})
}

// emit runs fn unless the channel was closed. Handlers must not block.
func (c *Channel) emit(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	fn()
}
