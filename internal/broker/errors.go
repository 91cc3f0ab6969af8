package broker

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Adapters map every broker-native failure onto one of these
// before returning, so callers match with errors.Is and never inspect
// broker-specific types.
var (
	ErrConnection        = errors.New("broker: connection error")
	ErrAuthentication    = errors.New("broker: authentication error")
	ErrValidation        = errors.New("broker: order validation failed")
	ErrOrderRejected     = errors.New("broker: order rejected")
	ErrOrderNotFound     = errors.New("broker: order not found")
	ErrInsufficientFunds = errors.New("broker: insufficient funds")
	ErrInvalidSymbol     = errors.New("broker: invalid symbol")
	ErrMarketClosed      = errors.New("broker: market closed")
	ErrTimeout           = errors.New("broker: timeout")
	ErrAPI               = errors.New("broker: api error")
	ErrUnsupported       = errors.New("broker: unsupported broker")
)

// Error is the uniform broker failure. Kind is one of the sentinels above;
// Details carries structured diagnosis fields (symbol, required/available
// amounts, venue error code).
type Error struct {
	Kind    error
	Broker  string
	Message string
	Code    string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Broker != "" {
		fmt.Fprintf(&b, " [%s]", e.Broker)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (code %s)", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Details) > 0 {
		fmt.Fprintf(&b, " %v", e.Details)
	}
	return b.String()
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.cause
}

// newError builds a taxonomy error. details may be nil.
func newError(kind error, brokerName, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Broker: brokerName, Message: message, Details: details}
}

func wrapError(kind error, brokerName string, cause error, details map[string]any) *Error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: kind, Broker: brokerName, Message: msg, Details: details, cause: cause}
}
