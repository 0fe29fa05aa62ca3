package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// InstrumentTransport records outbound request counts, latency and concurrency.
func (m *ClientMetrics) InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		path := normalizePath(r.URL.Path)

		m.requestInFlight.Inc()
		defer m.requestInFlight.Dec()

		resp, err := next.RoundTrip(r)
		status := "error"
		if err == nil {
			status = strconv.Itoa(resp.StatusCode)
		}
		m.requestTotal.WithLabelValues(m.service, r.Method, path, status).Inc()
		m.requestDuration.WithLabelValues(m.service, r.Method, path).Observe(time.Since(start).Seconds())
		return resp, err
	})
}

func normalizePath(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/stream-processing/"):
		return "/api/stream-processing/{batch_id}"
	case strings.HasPrefix(path, "/api/get-full-content/"):
		return "/api/get-full-content/{file_id}"
	case strings.HasPrefix(path, "/api/download-file/"):
		return "/api/download-file/{file_id}"
	default:
		return path
	}
}
