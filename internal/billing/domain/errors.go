package billing

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures. Handlers map kinds to status codes.
type ErrorKind string

const (
	KindInvalidRange     ErrorKind = "invalid_range"
	KindConfiguration    ErrorKind = "configuration"
	KindMissingPrice     ErrorKind = "missing_price"
	KindInsufficientData ErrorKind = "insufficient_data"
)

var (
	// ErrInvalidRange is returned for malformed or future reporting periods.
	ErrInvalidRange = errors.New("billing: invalid range")
	// ErrConfiguration is returned when tariffs or allocation rules cannot serve a request.
	ErrConfiguration = errors.New("billing: configuration error")
	// ErrMissingPrice marks an hour without a usable spot price.
	ErrMissingPrice = errors.New("billing: missing price")
	// ErrInsufficientData is returned when a zone or report has no usable readings.
	ErrInsufficientData = errors.New("billing: insufficient data")
)

// Error carries a kind and a human readable detail.
type Error struct {
	Kind   ErrorKind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "billing: " + string(e.Kind)
	}
	return fmt.Sprintf("billing: %s: %s", e.Kind, e.Detail)
}

// Is lets errors.Is match an *Error against the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInvalidRange:
		return e.Kind == KindInvalidRange
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrMissingPrice:
		return e.Kind == KindMissingPrice
	case ErrInsufficientData:
		return e.Kind == KindInsufficientData
	}
	return false
}

func invalidRange(format string, args ...any) error {
	return &Error{Kind: KindInvalidRange, Detail: fmt.Sprintf(format, args...)}
}

func configurationError(format string, args ...any) error {
	return &Error{Kind: KindConfiguration, Detail: fmt.Sprintf(format, args...)}
}

func insufficientData(format string, args ...any) error {
	return &Error{Kind: KindInsufficientData, Detail: fmt.Sprintf(format, args...)}
}

// NewInvalidRange builds an invalid_range error for callers outside the domain.
func NewInvalidRange(format string, args ...any) error { return invalidRange(format, args...) }

// NewConfigurationError builds a configuration error for callers outside the domain.
func NewConfigurationError(format string, args ...any) error {
	return configurationError(format, args...)
}

// NewInsufficientData builds an insufficient_data error for callers outside the domain.
func NewInsufficientData(format string, args ...any) error {
	return insufficientData(format, args...)
}

// KindOf returns the kind of err, or "" when err is not a billing error.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	switch {
	case errors.Is(err, ErrInvalidRange):
		return KindInvalidRange
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrMissingPrice):
		return KindMissingPrice
	case errors.Is(err, ErrInsufficientData):
		return KindInsufficientData
	}
	return ""
}
