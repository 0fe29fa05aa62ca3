package cvapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/infrastructure/resilience"
)

const (
	opUpload      = "upload"
	opChat        = "chat"
	opFullContent = "full_content"
	opDownload    = "download"
)

type Options struct {
	UploadTimeout   time.Duration
	ChatTimeout     time.Duration
	ContentTimeout  time.Duration
	DownloadTimeout time.Duration

	// ChatRate limits follow-up questions. Zero disables the limiter.
	ChatRate  rate.Limit
	ChatBurst int

	Executor   *resilience.Executor
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func DefaultOptions() Options {
	return Options{
		UploadTimeout:   120 * time.Second,
		ChatTimeout:     90 * time.Second,
		ContentTimeout:  30 * time.Second,
		DownloadTimeout: 300 * time.Second,
		ChatRate:        rate.Limit(1),
		ChatBurst:       2,
	}
}

// Client talks to the analysis server's REST endpoints.
type Client struct {
	baseURL     string
	opts        Options
	httpClient  *http.Client
	executor    *resilience.Executor
	chatLimiter *rate.Limiter
	logger      *slog.Logger
}

func New(baseURL string, opts Options) *Client {
	def := DefaultOptions()
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = def.UploadTimeout
	}
	if opts.ChatTimeout <= 0 {
		opts.ChatTimeout = def.ChatTimeout
	}
	if opts.ContentTimeout <= 0 {
		opts.ContentTimeout = def.ContentTimeout
	}
	if opts.DownloadTimeout <= 0 {
		opts.DownloadTimeout = def.DownloadTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Executor == nil {
		opts.Executor = resilience.NewExecutor(resilience.DefaultConfig(), opts.Logger)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: NewLoggingTransport(nil, opts.Logger)}
	}

	var limiter *rate.Limiter
	if opts.ChatRate > 0 {
		burst := opts.ChatBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.ChatRate, burst)
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		opts:        opts,
		httpClient:  httpClient,
		executor:    opts.Executor,
		chatLimiter: limiter,
		logger:      opts.Logger,
	}
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Upload sends the batch as one multipart request. It is never retried.
func (c *Client) Upload(ctx context.Context, files []domain.UploadFile, opts domain.UploadOptions) (domain.ID, error) {
	if len(files) == 0 {
		return "", domain.WrapError(domain.ErrInvalidInput, opUpload, errors.New("no files"))
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.UploadTimeout)
	defer cancel()

	var response struct {
		BatchID domain.ID `json:"batch_id"`
		Error   string    `json:"error"`
	}
	err := c.executor.Do(ctx, resilience.Call{Operation: opUpload, MaxAttempts: 1, Classify: classifyAPIError},
		func(ctx context.Context, _ int) error {
			body, contentType := uploadForm(files, opts)
			defer body.Close()
			return c.doJSON(ctx, http.MethodPost, "/upload", body, contentType, &response, opUpload)
		})
	if err != nil {
		return "", uploadError(err)
	}
	if response.Error != "" {
		return "", domain.WrapError(domain.ErrUpload, opUpload, errors.New(response.Error))
	}
	if response.BatchID == "" {
		return "", domain.WrapError(domain.ErrUpload, opUpload, errors.New("response has no batch id"))
	}
	return response.BatchID, nil
}

// SendChat asks a follow-up question. It is rate limited and never retried.
func (c *Client) SendChat(ctx context.Context, batchID domain.ID, message string) (string, error) {
	if batchID == "" || strings.TrimSpace(message) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, opChat, errors.New("batch id and message are required"))
	}
	if c.chatLimiter != nil {
		if err := c.chatLimiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("chat rate limit: %w", err)
		}
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.ChatTimeout)
	defer cancel()

	payload := map[string]any{
		"batch_id": batchID,
		"message":  message,
	}
	var response struct {
		Reply     string `json:"reply"`
		Error     string `json:"error"`
		ErrorKind string `json:"error_kind"`
	}
	err := c.executor.Do(ctx, resilience.Call{Operation: opChat, MaxAttempts: 1, Classify: classifyAPIError},
		func(ctx context.Context, _ int) error {
			return c.postJSON(ctx, "/api/chat", payload, &response, opChat)
		})
	if err != nil {
		return "", wrapKind(nil, opChat, err)
	}
	if response.Error != "" {
		kind := domain.ErrChatUnavailable
		if response.ErrorKind == domain.ErrorKindQuota || domain.LooksLikeQuotaMessage(response.Error) {
			kind = domain.ErrQuota
		}
		return "", domain.WrapError(kind, opChat, errors.New(response.Error))
	}
	return response.Reply, nil
}

func (c *Client) FullContent(ctx context.Context, fileID domain.ID) (domain.FullContent, error) {
	if fileID == "" {
		return domain.FullContent{}, domain.WrapError(domain.ErrInvalidInput, opFullContent, errors.New("file id is required"))
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.ContentTimeout)
	defer cancel()

	path := "/api/get-full-content/" + url.PathEscape(fileID.String())
	var response struct {
		domain.FullContent
		Error string `json:"error"`
	}
	err := c.executor.Do(ctx, resilience.Call{Operation: opFullContent, Classify: classifyAPIError},
		func(ctx context.Context, _ int) error {
			return c.doJSON(ctx, http.MethodGet, path, nil, "", &response, opFullContent)
		})
	if err != nil {
		return domain.FullContent{}, wrapKind(nil, opFullContent, err)
	}
	if response.Error != "" {
		return domain.FullContent{}, domain.WrapError(domain.ErrNotFound, opFullContent, errors.New(response.Error))
	}
	content := response.FullContent
	if content.FileID == "" {
		content.FileID = fileID
	}
	return content, nil
}

// Download returns the original file name and a body the caller must close.
func (c *Client) Download(ctx context.Context, fileID domain.ID) (string, io.ReadCloser, error) {
	if fileID == "" {
		return "", nil, domain.WrapError(domain.ErrInvalidInput, opDownload, errors.New("file id is required"))
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.DownloadTimeout)

	path := "/api/download-file/" + url.PathEscape(fileID.String())
	var resp *http.Response
	err := c.executor.Do(ctx, resilience.Call{Operation: opDownload, Classify: classifyAPIError},
		func(ctx context.Context, _ int) error {
			r, err := c.send(ctx, http.MethodGet, path, nil, "", opDownload)
			if err != nil {
				return err
			}
			resp = r
			return nil
		})
	if err != nil {
		cancel()
		return "", nil, wrapKind(nil, opDownload, err)
	}

	name := filenameFromDisposition(resp.Header.Get("Content-Disposition"))
	return name, &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
