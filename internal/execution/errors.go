package execution

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/promptlint/promptlint/internal/models"
)

// ErrMissingAPIKey is returned when api_key_env names an unset variable.
var ErrMissingAPIKey = errors.New("missing API key")

// ProviderError is a classified provider failure.
type ProviderError struct {
	Kind     models.ErrorKind
	Provider string
	Model    string
	// StatusCode is the HTTP status when one was received.
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("%s/%s: %s", e.Provider, e.Model, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Transient builds a retryable error.
func Transient(provider, model string, err error) *ProviderError {
	return &ProviderError{Kind: models.ErrorKindTransient, Provider: provider, Model: model, Err: err}
}

// Permanent builds an error that retrying cannot fix.
func Permanent(provider, model string, err error) *ProviderError {
	return &ProviderError{Kind: models.ErrorKindPermanent, Provider: provider, Model: model, Err: err}
}

// ClassifyHTTPStatus maps a response status to an error kind. 429 and the
// gateway-style 5xx codes are transient; other 4xx and 5xx are permanent.
func ClassifyHTTPStatus(code int) models.ErrorKind {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		529: // overloaded
		return models.ErrorKindTransient
	}
	return models.ErrorKindPermanent
}

// classify wraps err for provider and model. statusCode is 0 when no response
// arrived; network failures and deadlines are transient.
func classify(provider, model string, statusCode int, err error) *ProviderError {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe
	}
	if errors.Is(err, context.Canceled) {
		return &ProviderError{Kind: models.ErrorKindCancelled, Provider: provider, Model: model, Err: err}
	}
	if statusCode != 0 {
		return &ProviderError{Kind: ClassifyHTTPStatus(statusCode), Provider: provider, Model: model, StatusCode: statusCode, Err: err}
	}
	// no response: network failure or deadline
	return Transient(provider, model, err)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return KindOf(err) == models.ErrorKindTransient
}

// KindOf returns the error kind carried by err. Unclassified errors are permanent.
func KindOf(err error) models.ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return models.ErrorKindCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrorKindTransient
	}
	return models.ErrorKindPermanent
}
