package cvapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/infrastructure/resilience"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	exec := resilience.NewExecutor(resilience.Config{
		Retry:   resilience.RetryPolicy{Attempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond},
		Breaker: resilience.BreakerPolicy{Disabled: true},
	}, logger)
	return New(server.URL, Options{Executor: exec, Logger: logger})
}

func memFile(name, content string) domain.UploadFile {
	return domain.UploadFile{
		Name: name,
		Size: int64(len(content)),
		Open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(content)), nil },
	}
}

func TestUploadSendsMultipartForm(t *testing.T) {
	var (
		names       []string
		contents    []string
		report      string
		webSearch   string
		instruction string
		requestID   string
	)
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		requestID = r.Header.Get(requestIDHeader)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		for _, fh := range r.MultipartForm.File[uploadFileField] {
			names = append(names, fh.Filename)
			f, _ := fh.Open()
			raw, _ := io.ReadAll(f)
			_ = f.Close()
			contents = append(contents, string(raw))
		}
		report = r.FormValue(uploadReportField)
		webSearch = r.FormValue(uploadWebSearchField)
		instruction = r.FormValue(uploadInstructionField)
		_, _ = w.Write([]byte(`{"batch_id":"b1","files_received":[]}`))
	}))

	batchID, err := client.Upload(context.Background(),
		[]domain.UploadFile{memFile("a.pdf", "AAA"), memFile("dir/b.docx", "BBB")},
		domain.UploadOptions{GenerateReport: true, Instruction: "rank by Go"},
	)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if batchID != "b1" {
		t.Fatalf("unexpected batch id %q", batchID)
	}
	if len(names) != 2 || names[0] != "a.pdf" || names[1] != "b.docx" {
		t.Fatalf("unexpected file names %v", names)
	}
	if contents[0] != "AAA" || contents[1] != "BBB" {
		t.Fatalf("unexpected contents %v", contents)
	}
	if report != "true" || webSearch != "false" || instruction != "rank by Go" {
		t.Fatalf("unexpected flags report=%q web=%q instruction=%q", report, webSearch, instruction)
	}
	if requestID == "" {
		t.Fatalf("expected request id header")
	}
}

func TestUploadErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    error
		also    error
		message string
	}{
		{name: "server error json", status: http.StatusBadRequest, body: `{"error":"Nenhum arquivo válido foi salvo."}`, kind: domain.ErrUpload, message: "Nenhum arquivo válido"},
		{name: "missing batch id", status: http.StatusOK, body: `{"files_received":[]}`, kind: domain.ErrUpload, message: "no batch id"},
		{name: "error in ok body", status: http.StatusOK, body: `{"error":"boom"}`, kind: domain.ErrUpload, message: "boom"},
		{name: "quota", status: http.StatusTooManyRequests, body: `{"error":"slow down"}`, kind: domain.ErrUpload, also: domain.ErrQuota, message: "slow down"},
		{name: "unavailable", status: http.StatusServiceUnavailable, body: `{"error":"Modelo Gemini não inicializado."}`, kind: domain.ErrUpload, also: domain.ErrTemporary, message: "não inicializado"},
		{name: "internal error", status: http.StatusInternalServerError, body: `{"error":"disk full"}`, kind: domain.ErrUpload, message: "disk full"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				_, _ = io.Copy(io.Discard, r.Body)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))

			_, err := client.Upload(context.Background(), []domain.UploadFile{memFile("a.pdf", "x")}, domain.UploadOptions{})
			if !domain.IsKind(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			if tc.also != nil && !domain.IsKind(err, tc.also) {
				t.Fatalf("expected %v next to %v, got %v", tc.also, tc.kind, err)
			}
			if !strings.Contains(err.Error(), tc.message) {
				t.Fatalf("expected %q in error, got %v", tc.message, err)
			}
			if calls.Load() != 1 {
				t.Fatalf("upload must not be retried, got %d calls", calls.Load())
			}
		})
	}
}

func TestUploadConnectionRefusedIsUploadError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := New(url, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	_, err := client.Upload(context.Background(), []domain.UploadFile{memFile("a.pdf", "x")}, domain.UploadOptions{})
	if !domain.IsKind(err, domain.ErrUpload) || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected upload and temporary kinds, got %v", err)
	}
}

func TestUploadRejectsEmptyBatch(t *testing.T) {
	client := New("http://127.0.0.1:1", Options{})
	if _, err := client.Upload(context.Background(), nil, domain.UploadOptions{}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestSendChat(t *testing.T) {
	var payload map[string]string
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"reply":"Ana knows Go."}`))
	}))

	reply, err := client.SendChat(context.Background(), "b1", "who knows Go?")
	if err != nil {
		t.Fatalf("SendChat() error = %v", err)
	}
	if reply != "Ana knows Go." {
		t.Fatalf("unexpected reply %q", reply)
	}
	if payload["batch_id"] != "b1" || payload["message"] != "who knows Go?" {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestSendChatQuotaDetection(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   error
	}{
		{name: "explicit kind", status: http.StatusBadRequest, body: `{"error":"stop","error_kind":"quota"}`, kind: domain.ErrQuota},
		{name: "heuristic", status: http.StatusBadRequest, body: `{"error":"Limite de uso da IA atingido"}`, kind: domain.ErrQuota},
		{name: "too many requests", status: http.StatusTooManyRequests, body: `{}`, kind: domain.ErrQuota},
		{name: "not completed", status: http.StatusBadRequest, body: `{"error":"O processamento do lote não foi concluído com sucesso."}`, kind: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			_, err := client.SendChat(context.Background(), "b1", "hi")
			if err == nil {
				t.Fatalf("expected error")
			}
			if tc.kind != nil && !domain.IsKind(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
			if tc.kind == nil && domain.IsKind(err, domain.ErrQuota) {
				t.Fatalf("unexpected quota classification: %v", err)
			}
		})
	}
}

func TestFullContentRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/get-full-content/f1" {
			http.NotFound(w, r)
			return
		}
		if calls.Add(1) == 1 {
			http.Error(w, "try later", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"file_id":"f1","original_name":"cv.pdf","content":"Ana Souza"}`))
	}))

	content, err := client.FullContent(context.Background(), "f1")
	if err != nil {
		t.Fatalf("FullContent() error = %v", err)
	}
	if content.OriginalName != "cv.pdf" || content.Content != "Ana Souza" || content.FileID != "f1" {
		t.Fatalf("unexpected content %+v", content)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestFullContentNotFound(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"Arquivo não encontrado"}`))
	}))

	_, err := client.FullContent(context.Background(), "f404")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !strings.Contains(err.Error(), "Arquivo não encontrado") {
		t.Fatalf("expected server message in error, got %v", err)
	}
}

func TestDownloadReturnsNameAndBody(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/download-file/f1" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="../cv ana.pdf"`)
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))

	name, body, err := client.Download(context.Background(), "f1")
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	defer body.Close()
	if name != "cv ana.pdf" {
		t.Fatalf("unexpected name %q", name)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, body); err != nil {
		t.Fatalf("read body: %v", err)
	}
	if buf.String() != "%PDF-1.7" {
		t.Fatalf("unexpected body %q", buf.String())
	}
}

func TestChatRateLimiterHonoursContext(t *testing.T) {
	client := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"reply":"ok"}`))
	}))
	client.chatLimiter = rate.NewLimiter(rate.Limit(0.001), 1)

	if _, err := client.SendChat(context.Background(), "b1", "first"); err != nil {
		t.Fatalf("first chat: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := client.SendChat(ctx, "b1", "second"); err == nil {
		t.Fatalf("expected rate limiter to reject the second question")
	}
}
