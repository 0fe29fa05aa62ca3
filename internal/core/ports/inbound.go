package ports

import (
	"context"

	"github.com/kirillkom/cvclient/internal/core/domain"
)

// BatchSessionService is the inbound contract presentations drive.
// Methods must not be called from inside a sink callback.
type BatchSessionService interface {
	StartBatch(ctx context.Context, files []domain.UploadFile, opts domain.UploadOptions) error
	SubmitChat(ctx context.Context, message string) error
	Snapshot() domain.BatchSession
	Close()
}

// ContentViewer reads extracted text and downloads originals for rendered results.
type ContentViewer interface {
	FullContent(ctx context.Context, fileID domain.ID) (domain.FullContent, error)
	Download(ctx context.Context, fileID domain.ID) (domain.DownloadedFile, error)
}
