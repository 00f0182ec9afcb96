package broker

import "fmt"

// GatewayError represents a failed gateway call with enough context to
// decide whether a later tick should retry the same request.
type GatewayError struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Details     string `json:"details,omitempty"`
	IsRetryable bool   `json:"is_retryable"`
}

func (e *GatewayError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("gateway error [%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("gateway error [%s]: %s", e.Code, e.Message)
}

// Common gateway error instances
var (
	ErrConnectionFailed = &GatewayError{
		Code:        "CONNECTION_FAILED",
		Message:     "failed to connect to broker",
		IsRetryable: true,
	}
	ErrInsufficientBalance = &GatewayError{
		Code:        "INSUFFICIENT_BALANCE",
		Message:     "insufficient balance for requested volume",
		IsRetryable: false,
	}
	ErrInvalidVolume = &GatewayError{
		Code:        "INVALID_VOLUME",
		Message:     "volume violates the symbol's lot constraints",
		IsRetryable: false,
	}
	ErrTicketNotFound = &GatewayError{
		Code:        "TICKET_NOT_FOUND",
		Message:     "ticket is not known to the gateway",
		IsRetryable: false,
	}
	ErrRateLimited = &GatewayError{
		Code:        "RATE_LIMITED",
		Message:     "broker rate limit exceeded",
		IsRetryable: true,
	}
	ErrMarketClosed = &GatewayError{
		Code:        "MARKET_CLOSED",
		Message:     "market is closed for the symbol",
		IsRetryable: true,
	}
)

// NewGatewayError creates a GatewayError with optional details
func NewGatewayError(code, message string, retryable bool, details ...string) *GatewayError {
	e := &GatewayError{
		Code:        code,
		Message:     message,
		IsRetryable: retryable,
	}
	if len(details) > 0 {
		e.Details = details[0]
	}
	return e
}

// IsRetryableError reports whether err is a gateway error worth retrying
// on a later tick. Errors of unknown shape are treated as non-retryable.
func IsRetryableError(err error) bool {
	if gwErr, ok := err.(*GatewayError); ok {
		return gwErr.IsRetryable
	}
	return false
}
