package cvapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kirillkom/cvclient/internal/core/domain"
)

const (
	uploadFileField        = "arquivo_cv"
	uploadReportField      = "gerar_relatorio"
	uploadWebSearchField   = "pesquisar_web"
	uploadInstructionField = "initial_instruction"
)

// HTTPStatusError is a non-2xx answer. Message is the server's {"error": ...} text when present.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Message    string
	ErrorKind  string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "api status error"
	}
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("%s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("%s status %d: %s", e.Operation, e.StatusCode, strings.TrimSpace(e.Message))
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any, operation string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", operation, err)
	}
	return c.doJSON(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json", out, operation)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, contentType string, out any, operation string) error {
	resp, err := c.send(ctx, method, path, body, contentType, operation)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", operation, err)
	}
	return nil
}

// send returns the response only for 2xx statuses; the caller owns the body.
func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string, operation string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", operation, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", operation, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		return nil, statusError(operation, resp)
	}
	return resp, nil
}

func statusError(operation string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	statusErr := &HTTPStatusError{
		Operation:  operation,
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
	}
	var payload struct {
		Error     string `json:"error"`
		ErrorKind string `json:"error_kind"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		statusErr.Message = payload.Error
		statusErr.ErrorKind = payload.ErrorKind
	} else {
		statusErr.Message = strings.TrimSpace(string(raw))
	}
	return statusErr
}

// uploadForm streams the multipart body so large batches are not buffered in memory.
func uploadForm(files []domain.UploadFile, opts domain.UploadOptions) (io.ReadCloser, string) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeUploadForm(mw, files, opts))
	}()
	return pr, mw.FormDataContentType()
}

func writeUploadForm(mw *multipart.Writer, files []domain.UploadFile, opts domain.UploadOptions) error {
	for _, f := range files {
		if err := writeUploadFile(mw, f); err != nil {
			return err
		}
	}
	if err := mw.WriteField(uploadReportField, strconv.FormatBool(opts.GenerateReport)); err != nil {
		return err
	}
	if err := mw.WriteField(uploadWebSearchField, strconv.FormatBool(opts.WebSearch)); err != nil {
		return err
	}
	if instruction := strings.TrimSpace(opts.Instruction); instruction != "" {
		if err := mw.WriteField(uploadInstructionField, instruction); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeUploadFile(mw *multipart.Writer, f domain.UploadFile) error {
	if f.Open == nil {
		return fmt.Errorf("file %q has no source", f.Name)
	}
	src, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %q: %w", f.Name, err)
	}
	defer src.Close()

	part, err := mw.CreateFormFile(uploadFileField, filepath.Base(f.Name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("read %q: %w", f.Name, err)
	}
	return nil
}

func filenameFromDisposition(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := params["filename"]
	if name == "" {
		return ""
	}
	return filepath.Base(name)
}
