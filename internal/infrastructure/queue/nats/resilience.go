package nats

import (
	"context"
	"errors"

	"github.com/nats-io/nats.go"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
	"github.com/Maheswari-23/EVAssist/internal/infrastructure/resilience"
)

var (
	transientFault = resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	brokerFault    = resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	// messageFault is a bad subject or payload built by this process; the
	// broker is healthy, so the breaker ignores it.
	messageFault = resilience.ErrorClassification{Retryable: false, RecordFailure: false}
)

// connectionErrors clear up once the client reconnects.
var connectionErrors = []error{
	nats.ErrNoServers,
	nats.ErrTimeout,
	nats.ErrConnectionClosed,
	nats.ErrConnectionReconnecting,
	nats.ErrDisconnected,
	nats.ErrReconnectBufExceeded,
	nats.ErrSlowConsumer,
}

var messageErrors = []error{
	nats.ErrBadSubject,
	nats.ErrMaxPayload,
	nats.ErrInvalidMsg,
	nats.ErrHeadersNotSupported,
}

func classifyNATSError(err error) resilience.ErrorClassification {
	switch {
	case err == nil:
		return resilience.ErrorClassification{}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return messageFault
	case resilience.IsCircuitOpen(err), isAny(err, connectionErrors):
		return transientFault
	case isAny(err, messageErrors):
		return messageFault
	default:
		return brokerFault
	}
}

func isAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// wrapTemporaryIfNeeded marks failures a later ingest trigger can expect to
// succeed, so callers answer 503 rather than 500.
func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyNATSError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
