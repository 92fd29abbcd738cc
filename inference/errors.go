package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go/v2"
	"google.golang.org/genai"
)

var (
	// ErrAborted is returned when the call was cancelled through its context.
	ErrAborted = errors.New("inference aborted")
	// ErrEmptyResponse is returned when the backend answered without text.
	ErrEmptyResponse = errors.New("empty response from backend")
	// ErrUnknownProvider is returned for an unsupported provider name.
	ErrUnknownProvider = errors.New("unknown provider")
)

// Kind classifies backend failures.
type Kind int

const (
	Generic Kind = iota
	RateLimited
	Unauthorized
)

// String returns the error code reported to editor clients.
func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Unauthorized:
		return "unauthorized"
	default:
		return "api_error"
	}
}

// BackendError is a failure reported by the inference backend.
type BackendError struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
	Cause      error
}

func (e *BackendError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Cause
}

// IsRateLimited reports whether err is a rate limit rejection.
func IsRateLimited(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == RateLimited
}

// IsUnauthorized reports whether err is an authentication failure.
func IsUnauthorized(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Kind == Unauthorized
}

// classify maps a provider SDK error onto ErrAborted or a *BackendError.
// ctx is the caller's context: only its cancellation counts as an abort.
// A deadline from Options.Timeout is a retryable backend failure.
func classify(ctx context.Context, provider string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", ErrAborted, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &BackendError{Provider: provider, Message: "request timed out", Retryable: true, Cause: err}
	}

	be := &BackendError{Provider: provider, Message: err.Error(), Cause: err}
	var (
		oaiErr *openai.Error
		antErr *anthropic.Error
		genErr genai.APIError
		genPtr *genai.APIError
	)
	switch {
	case errors.As(err, &oaiErr):
		be.StatusCode = oaiErr.StatusCode
	case errors.As(err, &antErr):
		be.StatusCode = antErr.StatusCode
	case errors.As(err, &genErr):
		be.StatusCode = genErr.Code
		be.Message = genErr.Message
	case errors.As(err, &genPtr):
		be.StatusCode = genPtr.Code
		be.Message = genPtr.Message
	}

	switch {
	case be.StatusCode == http.StatusTooManyRequests:
		be.Kind = RateLimited
		be.Retryable = true
	case be.StatusCode == http.StatusUnauthorized || be.StatusCode == http.StatusForbidden:
		be.Kind = Unauthorized
	default:
		be.Kind = Generic
		be.Retryable = be.StatusCode >= 500
	}
	return be
}
