package ports

import (
	"context"
	"io"
	"time"

	"github.com/kirillkom/cvclient/internal/core/domain"
)

// BatchUploader sends a batch of files and returns the server-issued batch id.
type BatchUploader interface {
	Upload(ctx context.Context, files []domain.UploadFile, opts domain.UploadOptions) (domain.ID, error)
}

// ChannelHandlers are the lifecycle callbacks of one push channel.
// They may be invoked from a transport goroutine.
type ChannelHandlers struct {
	OnOpen    func()
	OnMessage func(raw []byte)
	OnError   func(err error)
}

// Channel is one server-push connection scoped to a batch.
type Channel interface {
	State() domain.ChannelState
	// Close is idempotent. No handler fires after Close returns.
	Close()
}

// ChannelOpener establishes push channels. It never retries on its own.
type ChannelOpener interface {
	Open(ctx context.Context, batchID domain.ID, handlers ChannelHandlers) (Channel, error)
}

// ChatClient sends a follow-up question scoped to a batch.
type ChatClient interface {
	SendChat(ctx context.Context, batchID domain.ID, message string) (string, error)
}

// ContentClient reads extracted text and original files.
type ContentClient interface {
	FullContent(ctx context.Context, fileID domain.ID) (domain.FullContent, error)
	Download(ctx context.Context, fileID domain.ID) (string, io.ReadCloser, error)
}

// FileStore persists downloaded originals locally.
type FileStore interface {
	Save(ctx context.Context, name string, data io.Reader) (string, int64, error)
}

// Scheduler serializes every session mutation onto one goroutine.
type Scheduler interface {
	// Post queues fn on the loop.
	Post(fn func())
	// Go runs work off the loop and posts the continuation it returns.
	Go(work func() func())
	// AfterFunc posts fn once after d. The returned func cancels a pending call.
	AfterFunc(d time.Duration, fn func()) (cancel func())
	// Every posts fn every d until the returned func is called.
	Every(d time.Duration, fn func()) (stop func())
}

// SessionMetrics records client-side session telemetry.
type SessionMetrics interface {
	ObserveUpload(duration time.Duration, err error)
	ObserveEvent(eventType domain.EventType)
	ObserveParseError()
	ObserveReconnect()
	ObserveChat(duration time.Duration, err error)
	ObservePhase(phase domain.Phase)
}
