package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrUpstreamError  = errors.New("upstream error")
	ErrRateLimited    = errors.New("rate limited")
	ErrTransport      = errors.New("transport failure")

	// ErrNotConfigured means the payment backend is not set up. Informational, not actionable.
	ErrNotConfigured = errors.New("service not configured")

	// ErrAlreadyInFlight rejects a second request for an operation key that is still pending.
	ErrAlreadyInFlight = errors.New("operation already in flight")

	// Local validation, raised before any network call.
	ErrIncompleteSelection = errors.New("variant selection incomplete")
	ErrOutOfStock          = errors.New("selected variant is out of stock")
)

// CodeNotConfigured is the structured code the backend returns when checkout
// cannot be created because the payment provider has no credentials.
const CodeNotConfigured = "STRIPE_NOT_CONFIGURED"

// APIError represents a structured error from the storefront API or from
// local validation. Implements error interface and supports unwrapping.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // HTTP status, 0 for local errors
	Err        error  `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
		Err:        ErrNotFound,
	}
}

// NewValidationError creates a 400 error for invalid input.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: http.StatusBadRequest,
		Err:        ErrInvalidRequest,
	}
}

// NewUnauthorizedError creates a 401 error for auth failures.
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:       "UNAUTHORIZED",
		Message:    reason,
		StatusCode: http.StatusUnauthorized,
		Err:        ErrUnauthorized,
	}
}

// NewRateLimitError creates a 429 error for rate limiting.
func NewRateLimitError(service string) *APIError {
	return &APIError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("%s rate limit exceeded, please retry later", service),
		StatusCode: http.StatusTooManyRequests,
		Err:        ErrRateLimited,
	}
}

// NewNotConfiguredError wraps the backend's "payment provider unavailable" reply.
func NewNotConfiguredError(message string, statusCode int) *APIError {
	if message == "" {
		message = "checkout is not configured"
	}
	return &APIError{
		Code:       CodeNotConfigured,
		Message:    message,
		StatusCode: statusCode,
		Err:        ErrNotConfigured,
	}
}

// NewOperationalError wraps a structured API error that the shopper can act on
// (stock conflict, invalid variant, validation failure on the server).
func NewOperationalError(code, message string, statusCode int) *APIError {
	if code == "" {
		code = "API_ERROR"
	}
	if message == "" {
		message = fmt.Sprintf("request failed with status %d", statusCode)
	}
	return &APIError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        ErrUpstreamError,
	}
}

// NewTransportError covers network failures and non-2xx replies without a structured body.
// When statusCode is 0 the request never got a response.
func NewTransportError(statusCode int, err error) *APIError {
	msg := "storefront API unreachable"
	if statusCode > 0 {
		msg = fmt.Sprintf("request failed with status %d", statusCode)
	}
	wrapped := ErrTransport
	if err != nil {
		wrapped = fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return &APIError{
		Code:       "TRANSPORT_ERROR",
		Message:    msg,
		StatusCode: statusCode,
		Err:        wrapped,
	}
}

// NewInFlightError rejects a duplicate request for an operation that is still pending.
func NewInFlightError(op string) *APIError {
	return &APIError{
		Code:    "ALREADY_IN_FLIGHT",
		Message: fmt.Sprintf("%s is already in progress", op),
		Err:     ErrAlreadyInFlight,
	}
}

// NewIncompleteSelectionError lists the attribute keys the shopper still has to choose.
func NewIncompleteSelectionError(missing []string) *APIError {
	return &APIError{
		Code:    "SELECTION_INCOMPLETE",
		Message: fmt.Sprintf("choose a value for %v", missing),
		Err:     ErrIncompleteSelection,
	}
}

// NewOutOfStockError is raised locally when the resolved variant has no stock.
func NewOutOfStockError(label string) *APIError {
	msg := "this item is out of stock"
	if label != "" {
		msg = fmt.Sprintf("%s is out of stock", label)
	}
	return &APIError{
		Code:    "OUT_OF_STOCK",
		Message: msg,
		Err:     ErrOutOfStock,
	}
}

// NewInternalError creates a 500 error for unexpected failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// Kind is the presentation class of a failure.
type Kind int

const (
	KindNone Kind = iota
	// KindTransport: network unreachable or non-2xx without a structured body.
	KindTransport
	// KindConfiguration: backend not configured; shown on the informational channel.
	KindConfiguration
	// KindOperational: structured API error the shopper can act on.
	KindOperational
	// KindValidation: rejected locally before any request was sent.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTransport:
		return "transport"
	case KindConfiguration:
		return "configuration"
	case KindOperational:
		return "operational"
	case KindValidation:
		return "validation"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalText encodes the kind by name, so JSON consumers see "operational"
// rather than a number.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name written by MarshalText.
func (k *Kind) UnmarshalText(text []byte) error {
	for c := KindNone; c <= KindValidation; c++ {
		if c.String() == string(text) {
			*k = c
			return nil
		}
	}
	return fmt.Errorf("unknown kind %q", text)
}

// Informational reports whether failures of this kind must not read as errors.
func (k Kind) Informational() bool {
	return k == KindConfiguration
}

// Classify maps an error onto the failure taxonomy.
// Classification inspects structured codes and sentinels, never message text.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	switch {
	case errors.Is(err, ErrNotConfigured):
		return KindConfiguration
	case errors.Is(err, ErrIncompleteSelection),
		errors.Is(err, ErrOutOfStock),
		errors.Is(err, ErrAlreadyInFlight):
		return KindValidation
	case errors.Is(err, ErrTransport):
		return KindTransport
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == CodeNotConfigured {
			return KindConfiguration
		}
		return KindOperational
	}

	// Anything without structure (context cancellation, decode failures) is a transport problem.
	return KindTransport
}

// Message returns a shopper-facing message for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Something went wrong"
}
