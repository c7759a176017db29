package httpadapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/Maheswari-23/EVAssist/internal/core/domain"
)

const (
	codeInvalidInput          = "invalid_input"
	codeStoreUnavailable      = "store_unavailable"
	codeIndexUnavailable      = "index_unavailable"
	codeEmbeddingUnavailable  = "embedding_unavailable"
	codeGenerationUnavailable = "generation_unavailable"
	codeTemporary             = "temporarily_unavailable"
	codeTimeout               = "timeout"
	codeInternal              = "internal_error"
)

// Generation is checked before the temporary kind so a retried LLM failure
// still reports as a bad gateway.
func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrGenerationUnavailable):
		return http.StatusBadGateway
	case domain.IsUpstreamUnavailable(err):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return codeInvalidInput
	case domain.IsKind(err, domain.ErrGenerationUnavailable):
		return codeGenerationUnavailable
	case domain.IsKind(err, domain.ErrStoreUnavailable):
		return codeStoreUnavailable
	case domain.IsKind(err, domain.ErrIndexUnavailable):
		return codeIndexUnavailable
	case domain.IsKind(err, domain.ErrEmbeddingUnavailable):
		return codeEmbeddingUnavailable
	case domain.IsKind(err, domain.ErrTemporary):
		return codeTemporary
	case errors.Is(err, context.DeadlineExceeded):
		return codeTimeout
	default:
		return codeInternal
	}
}

func publicMessage(code string) string {
	switch code {
	case codeInvalidInput:
		return "invalid request"
	case codeStoreUnavailable:
		return "catalog store unavailable"
	case codeIndexUnavailable:
		return "vector index unavailable"
	case codeEmbeddingUnavailable:
		return "embedding service unavailable"
	case codeGenerationUnavailable:
		return "answer generation failed"
	case codeTemporary:
		return "service temporarily unavailable"
	case codeTimeout:
		return "request timed out"
	default:
		return "internal error"
	}
}
