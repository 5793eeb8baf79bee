package embedding

import (
	"context"
	"errors"
	"fmt"

	"github.com/gitvec/gitvec/internal/config"
)

// Provider is the interface consumed by the vector calculation manager.
// EmbedBatch must return exactly one vector per input text, in input order.
type Provider interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	MaxBatchSize() int
}

// NewProvider builds the configured embedding provider.
func NewProvider(cfg *config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIClient(cfg)
	case "volcengine":
		return NewVolcEngineClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// TransientError marks a provider failure worth retrying: rate limits,
// timeouts, and server-side errors.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// classifyStatus wraps an HTTP-level failure, marking retryable statuses.
func classifyStatus(status int, err error) error {
	if status == 429 || status >= 500 {
		return &TransientError{Err: err}
	}
	return err
}

// classifyTransport wraps a transport failure. Network errors and context
// deadline hits are treated as transient; caller cancellation is not.
func classifyTransport(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return err
	}
	return &TransientError{Err: err}
}
