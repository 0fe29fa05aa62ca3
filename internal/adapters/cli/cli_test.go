package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeServer struct {
	mu      sync.Mutex
	uploads int
	chats   []string
	fields  map[string]string
}

func (f *fakeServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		f.mu.Lock()
		f.uploads++
		f.fields = map[string]string{
			"gerar_relatorio": r.FormValue("gerar_relatorio"),
			"pesquisar_web":   r.FormValue("pesquisar_web"),
		}
		f.mu.Unlock()
		_, _ = io.WriteString(w, `{"batch_id":"b1"}`)
	})
	mux.HandleFunc("/api/stream-processing/b1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"file_start\",\"filename\":\"ana.pdf\",\"index\":1,\"total\":1}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"file_done\",\"filename\":\"ana.pdf\",\"result\":{\"filename\":\"ana.pdf\",\"file_id\":\"f1\",\"status_final\":\"Sucesso\",\"data\":{\"nome_completo\":\"Ana Souza\"}}}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"batch_done\",\"message\":\"All files processed.\"}\n\n")
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	mux.HandleFunc("/api/chat", func(w http.ResponseWriter, r *http.Request) {
		var payload struct {
			BatchID string `json:"batch_id"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(r.Body).Decode(&payload)
		f.mu.Lock()
		f.chats = append(f.chats, payload.BatchID+":"+payload.Message)
		f.mu.Unlock()
		if strings.Contains(payload.Message, "limit") {
			_, _ = io.WriteString(w, `{"error":"provider exhausted","error_kind":"quota"}`)
			return
		}
		_, _ = io.WriteString(w, `{"reply":"Ana Souza has five years of Go."}`)
	})
	mux.HandleFunc("/api/get-full-content/f1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"file_id":"f1","original_name":"ana.pdf","content":"Ana Souza\nSenior Go engineer"}`)
	})
	mux.HandleFunc("/api/download-file/f1", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="ana.pdf"`)
		_, _ = io.WriteString(w, "%PDF-1.4")
	})
	return mux
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, key := range []string{"CVCLIENT_CONFIG", "CVCLIENT_SERVER_URL", "CVCLIENT_METRICS_PORT", "CVCLIENT_EXPORT_DIR", "NATS_URL"} {
		t.Setenv(key, "")
	}
	t.Setenv("LOG_FILE", filepath.Join(t.TempDir(), "cvclient.log"))

	cmd := NewRootCommand("test")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeResume(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("%PDF-1.4 resume"), 0o644); err != nil {
		t.Fatalf("write resume: %v", err)
	}
	return path
}

func TestAnalyzePrintsResultsAndAnswers(t *testing.T) {
	fake := &fakeServer{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	exportDir := t.TempDir()
	out, err := runCLI(t, "analyze", "--no-ui", "--server", server.URL,
		"--web", "--export-dir", exportDir, "--ask", "who knows Go?",
		writeResume(t, "ana.pdf"))
	if err != nil {
		t.Fatalf("analyze error = %v\n%s", err, out)
	}

	for _, want := range []string{"Batch b1 started.", "ana.pdf", "Ana Souza", "Batch b1 completed.", "Assistant: Ana Souza has five years of Go.", "Workbook written:"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if fake.uploads != 1 {
		t.Fatalf("uploads = %d, want 1", fake.uploads)
	}
	if fake.fields["pesquisar_web"] != "true" || fake.fields["gerar_relatorio"] != "false" {
		t.Fatalf("unexpected upload flags %v", fake.fields)
	}
	if len(fake.chats) != 1 || fake.chats[0] != "b1:who knows Go?" {
		t.Fatalf("unexpected chats %v", fake.chats)
	}

	entries, err := os.ReadDir(exportDir)
	if err != nil || len(entries) != 1 || entries[0].Name() != "cv-results-b1.xlsx" {
		t.Fatalf("expected one workbook, got %v (err %v)", entries, err)
	}
}

func TestAnalyzeRejectsUnsupportedFiles(t *testing.T) {
	fake := &fakeServer{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	out, err := runCLI(t, "analyze", "--no-ui", "--server", server.URL, writeResume(t, "notes.txt"))
	if err == nil {
		t.Fatalf("expected error for unsupported files")
	}
	if !strings.Contains(out, "1 file(s) ignored") {
		t.Fatalf("expected ignored notice, got:\n%s", out)
	}
	if fake.uploads != 0 {
		t.Fatalf("nothing must be uploaded")
	}
}

func TestChatCommandReportsQuota(t *testing.T) {
	fake := &fakeServer{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	out, err := runCLI(t, "chat", "--server", server.URL, "--batch", "b1", "who", "knows", "Go?")
	if err != nil {
		t.Fatalf("chat error = %v", err)
	}
	if strings.TrimSpace(out) != "Ana Souza has five years of Go." {
		t.Fatalf("unexpected reply %q", out)
	}

	_, err = runCLI(t, "chat", "--server", server.URL, "--batch", "b1", "over", "the", "limit")
	if err == nil || !strings.Contains(err.Error(), "usage limit") {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestChatCommandRequiresBatch(t *testing.T) {
	if _, err := runCLI(t, "chat", "hello"); err == nil {
		t.Fatalf("expected error without --batch")
	}
}

func TestContentAndDownloadCommands(t *testing.T) {
	fake := &fakeServer{}
	server := httptest.NewServer(fake.handler(t))
	defer server.Close()

	out, err := runCLI(t, "content", "--server", server.URL, "f1")
	if err != nil {
		t.Fatalf("content error = %v", err)
	}
	if !strings.Contains(out, "== ana.pdf (f1)") || !strings.Contains(out, "Senior Go engineer") {
		t.Fatalf("unexpected content output:\n%s", out)
	}

	dir := t.TempDir()
	out, err = runCLI(t, "download", "--server", server.URL, "--dir", dir, "f1")
	if err != nil {
		t.Fatalf("download error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "ana.pdf"))
	if err != nil || string(data) != "%PDF-1.4" {
		t.Fatalf("downloaded file mismatch: %q (err %v), output %s", data, err, out)
	}
}

func TestRootWithoutTerminalNeedsPaths(t *testing.T) {
	if _, err := runCLI(t, "--no-ui"); err == nil || !strings.Contains(err.Error(), "no files given") {
		t.Fatalf("expected no files error, got %v", err)
	}
}

func TestResultsRequiresNATS(t *testing.T) {
	t.Setenv("NATS_URL", "")
	if _, err := runCLI(t, "results"); err == nil {
		t.Fatalf("expected error without NATS_URL")
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil || strings.TrimSpace(out) != "cvclient test" {
		t.Fatalf("version output %q err %v", out, err)
	}
}

func TestShouldUseUI(t *testing.T) {
	tests := []struct {
		isTTY bool
		noUI  bool
		want  bool
	}{
		{isTTY: true, noUI: false, want: true},
		{isTTY: true, noUI: true, want: false},
		{isTTY: false, noUI: false, want: false},
		{isTTY: false, noUI: true, want: false},
	}
	for _, tt := range tests {
		if got := shouldUseUI(tt.isTTY, tt.noUI); got != tt.want {
			t.Fatalf("shouldUseUI(%v, %v) = %v, want %v", tt.isTTY, tt.noUI, got, tt.want)
		}
	}
}

func TestIsTerminalFDRejectsRegularFile(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "fd")
	if err != nil {
		t.Fatalf("create temp: %v", err)
	}
	defer f.Close()
	if isTerminalFD(f) || isTerminalFD(nil) {
		t.Fatalf("regular files and nil are not terminals")
	}
}
