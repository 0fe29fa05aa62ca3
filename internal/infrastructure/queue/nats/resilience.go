package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/cvclient/internal/core/domain"
	"github.com/kirillkom/cvclient/internal/infrastructure/resilience"
)

// transientPublishErrors are connection states a later attempt can recover from.
var transientPublishErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrDisconnected,
	nats.ErrConnectionReconnecting,
	nats.ErrReconnectBufExceeded,
}

func isTransientPublishError(err error) bool {
	for _, target := range transientPublishErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// isEnvelopeError reports failures caused by the message itself rather than the broker.
func isEnvelopeError(err error) bool {
	return errors.Is(err, nats.ErrMaxPayload) || errors.Is(err, nats.ErrBadSubject)
}

func classifyPublishError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resilience.ErrorClassification{}
	case isEnvelopeError(err):
		return resilience.ErrorClassification{}
	case resilience.IsCircuitOpen(err), isTransientPublishError(err):
		return resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	default:
		return resilience.ErrorClassification{RecordFailure: true}
	}
}

// publishError tags a failed publish with the domain kind the caller logs.
func publishError(subject string, err error) error {
	if err == nil {
		return nil
	}
	op := "publish " + subject
	switch {
	case domain.IsKind(err, domain.ErrTemporary), domain.IsKind(err, domain.ErrInvalidInput):
		return err
	case isEnvelopeError(err):
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	case classifyPublishError(err).Retryable:
		return domain.WrapError(domain.ErrTemporary, op, err)
	default:
		return err
	}
}
