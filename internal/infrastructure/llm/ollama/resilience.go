package ollama

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
	"github.com/Maheswari-23/EVAssist/internal/infrastructure/resilience"
)

// HTTPStatusError is a non-2xx answer from the Ollama API. Body holds at most
// the first 2KiB of the response.
type HTTPStatusError struct {
	Operation  string
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "ollama status error"
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Sprintf("ollama %s status: %s", e.Operation, e.Status)
	}
	return fmt.Sprintf("ollama %s status: %s: %s", e.Operation, e.Status, strings.TrimSpace(e.Body))
}

// MalformedResponseError is a 2xx answer whose body does not fit the request:
// undecodable JSON, a vector count that differs from the inputs, or vectors of
// the wrong dimension. It points at the configured model, not at load.
type MalformedResponseError struct {
	Operation string
	Detail    string
	Err       error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ollama %s returned malformed output: %s: %v", e.Operation, e.Detail, e.Err)
	}
	return fmt.Sprintf("ollama %s returned malformed output: %s", e.Operation, e.Detail)
}

func (e *MalformedResponseError) Unwrap() error {
	return e.Err
}

var (
	overloaded = resilience.ErrorClassification{Retryable: true, RecordFailure: true}
	broken     = resilience.ErrorClassification{Retryable: false, RecordFailure: true}
	// misconfigured covers rejected requests and mismatched models. Retrying
	// cannot help and the server is healthy, so the breaker stays closed.
	misconfigured = resilience.ErrorClassification{Retryable: false, RecordFailure: false}
)

func classifyOllamaError(err error) resilience.ErrorClassification {
	if err == nil {
		return resilience.ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return misconfigured
	}
	if resilience.IsCircuitOpen(err) {
		return overloaded
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		if isRetryableHTTPStatus(statusErr.StatusCode) {
			return overloaded
		}
		return misconfigured
	}

	// A body cut off mid-stream is a connection fault even though it surfaces
	// while decoding.
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return overloaded
	}

	var malformed *MalformedResponseError
	if errors.As(err, &malformed) {
		return misconfigured
	}
	return broken
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	if classifyOllamaError(err).Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
