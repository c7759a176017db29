package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrTemporary    = errors.New("temporary failure")

	ErrStoreUnavailable      = errors.New("catalog store unavailable")
	ErrIndexUnavailable      = errors.New("vector index unavailable")
	ErrEmbeddingUnavailable  = errors.New("embedding model unavailable")
	ErrGenerationUnavailable = errors.New("language model unavailable")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// IsUpstreamUnavailable reports whether err names a failed collaborator.
func IsUpstreamUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrIndexUnavailable) ||
		errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrGenerationUnavailable)
}
