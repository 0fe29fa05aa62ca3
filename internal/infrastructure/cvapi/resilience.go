package cvapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/infrastructure/resilience"
)

// classifyAPIError decides retries per failure: 408/502/503/504 and network
// errors are retried, 4xx answers never count against the breaker.
func classifyAPIError(err error) resilience.ErrorClassification {
	var (
		statusErr *HTTPStatusError
		netErr    net.Error
	)
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case errors.As(err, &statusErr):
		return resilience.ErrorClassification{
			Retryable:     retryableStatus[statusErr.StatusCode],
			RecordFailure: statusErr.StatusCode >= http.StatusInternalServerError,
		}
	case errors.As(err, &netErr):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

// wrapKind attaches the domain kind matching the failure; fallback is used when nothing more specific applies.
func wrapKind(fallback error, operation string, err error) error {
	if err == nil {
		return nil
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.ErrorKind == domain.ErrorKindQuota,
			domain.LooksLikeQuotaMessage(statusErr.Message):
			return domain.WrapError(domain.ErrQuota, operation, err)
		case statusErr.StatusCode == http.StatusNotFound:
			return domain.WrapError(domain.ErrNotFound, operation, err)
		}
	}

	if resilience.IsCircuitOpen(err) || classifyAPIError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	if fallback != nil {
		return domain.WrapError(fallback, operation, err)
	}
	return err
}

// uploadError tags every failed upload with ErrUpload and keeps the more
// specific kind (quota, temporary, not found) next to it.
func uploadError(err error) error {
	specific := wrapKind(nil, opUpload, err)
	if specific == err {
		return domain.WrapError(domain.ErrUpload, opUpload, err)
	}
	return fmt.Errorf("%w: %w", domain.ErrUpload, specific)
}

var retryableStatus = map[int]bool{
	http.StatusRequestTimeout:     true,
	http.StatusBadGateway:         true,
	http.StatusServiceUnavailable: true,
	http.StatusGatewayTimeout:     true,
}
