package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/core/ports"
)

const DefaultContentCacheTTL = 10 * time.Minute

// ContentUseCase serves extracted text and original downloads for rendered results.
type ContentUseCase struct {
	client ports.ContentClient
	store  ports.FileStore
	cache  *gocache.Cache
}

func NewContentUseCase(client ports.ContentClient, store ports.FileStore, ttl time.Duration) *ContentUseCase {
	if ttl <= 0 {
		ttl = DefaultContentCacheTTL
	}
	return &ContentUseCase{
		client: client,
		store:  store,
		cache:  gocache.New(ttl, 2*ttl),
	}
}

// FullContent returns the extracted text, served from cache when the same file was viewed recently.
func (uc *ContentUseCase) FullContent(ctx context.Context, fileID domain.ID) (domain.FullContent, error) {
	if fileID == "" {
		return domain.FullContent{}, domain.WrapError(domain.ErrInvalidInput, "full content", errors.New("file id is required"))
	}
	key := fileID.String()
	if cached, ok := uc.cache.Get(key); ok {
		if content, ok := cached.(domain.FullContent); ok {
			return content, nil
		}
	}

	content, err := uc.client.FullContent(ctx, fileID)
	if err != nil {
		return domain.FullContent{}, fmt.Errorf("fetch full content: %w", err)
	}
	if content.FileID == "" {
		content.FileID = fileID
	}
	uc.cache.SetDefault(key, content)
	return content, nil
}

// Download saves the original file through the configured store.
func (uc *ContentUseCase) Download(ctx context.Context, fileID domain.ID) (domain.DownloadedFile, error) {
	if fileID == "" {
		return domain.DownloadedFile{}, domain.WrapError(domain.ErrInvalidInput, "download", errors.New("file id is required"))
	}
	name, body, err := uc.client.Download(ctx, fileID)
	if err != nil {
		return domain.DownloadedFile{}, fmt.Errorf("fetch original file: %w", err)
	}
	defer body.Close()

	if name == "" {
		name = fileID.String()
	}
	path, n, err := uc.store.Save(ctx, name, body)
	if err != nil {
		return domain.DownloadedFile{}, fmt.Errorf("save original file: %w", err)
	}
	return domain.DownloadedFile{
		FileID: fileID,
		Name:   name,
		Path:   path,
		Bytes:  n,
	}, nil
}

// Forget drops cached content, e.g. when a new batch replaces the rendered results.
func (uc *ContentUseCase) Forget() {
	uc.cache.Flush()
}
