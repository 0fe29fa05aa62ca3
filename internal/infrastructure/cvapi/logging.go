package cvapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-Id"

type loggingTransport struct {
	base   http.RoundTripper
	logger *slog.Logger
}

// NewLoggingTransport tags every request with an X-Request-Id and logs one line per round trip.
func NewLoggingTransport(base http.RoundTripper, logger *slog.Logger) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingTransport{base: base, logger: logger}
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	requestID := strings.TrimSpace(req.Header.Get(requestIDHeader))
	if requestID == "" {
		requestID = uuid.NewString()
		req = req.Clone(req.Context())
		req.Header.Set(requestIDHeader, requestID)
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)

	logAttrs := []any{
		"request_id", requestID,
		"method", req.Method,
		"path", req.URL.Path,
		"duration_ms", float64(time.Since(start).Microseconds()) / 1000.0,
	}
	if err != nil {
		logAttrs = append(logAttrs, "error", err)
		t.logger.Error("http_client_request", logAttrs...)
		return nil, err
	}
	logAttrs = append(logAttrs, "status", resp.StatusCode)

	switch {
	case resp.StatusCode >= 500:
		t.logger.Error("http_client_request", logAttrs...)
	case resp.StatusCode >= 400:
		t.logger.Warn("http_client_request", logAttrs...)
	default:
		t.logger.Info("http_client_request", logAttrs...)
	}
	return resp, nil
}
