package errors

import (
	"fmt"
	"strings"
)

// ErrorCategory represents different types of errors that can occur
type ErrorCategory string

const (
	// Critical errors that must stop the engine
	ErrorCategoryFatal         ErrorCategory = "FATAL"
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"
	ErrorCategoryCredentials   ErrorCategory = "CREDENTIALS"

	// Errors that leave the ledger untouched and wait for a later tick
	ErrorCategoryExecution ErrorCategory = "EXECUTION"
	ErrorCategoryMarket    ErrorCategory = "MARKET"
	ErrorCategoryAccount   ErrorCategory = "ACCOUNT"

	// Transient conditions
	ErrorCategoryNetwork   ErrorCategory = "NETWORK"
	ErrorCategoryTimeout   ErrorCategory = "TIMEOUT"
	ErrorCategoryRateLimit ErrorCategory = "RATE_LIMIT"

	ErrorCategoryValidation ErrorCategory = "VALIDATION"
	ErrorCategoryState      ErrorCategory = "STATE"
)

// EngineError represents a categorized error with context
type EngineError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

// Error implements the error interface
func (e *EngineError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

// Unwrap returns the underlying error for error unwrapping
func (e *EngineError) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether a later tick may retry the operation
func (e *EngineError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal returns whether this error should stop the engine
func (e *EngineError) IsFatal() bool {
	return e.Category == ErrorCategoryFatal ||
		e.Category == ErrorCategoryConfiguration ||
		e.Category == ErrorCategoryCredentials
}

// New creates a new categorized engine error
func New(category ErrorCategory, component, operation, message string) *EngineError {
	return &EngineError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: isRetryableCategory(category),
	}
}

// WrapError wraps an existing error with engine error context
func WrapError(err error, category ErrorCategory, component, operation string) *EngineError {
	if err == nil {
		return nil
	}

	return &EngineError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
		Retryable:  isRetryableCategory(category),
	}
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRetryable sets the retryable flag
func (e *EngineError) WithRetryable(retryable bool) *EngineError {
	e.Retryable = retryable
	return e
}

// isRetryableCategory determines if an error category is generally retryable
func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryNetwork, ErrorCategoryTimeout, ErrorCategoryRateLimit, ErrorCategoryMarket, ErrorCategoryAccount:
		return true
	case ErrorCategoryFatal, ErrorCategoryConfiguration, ErrorCategoryCredentials, ErrorCategoryValidation:
		return false
	default:
		return true
	}
}

// Categorize attempts to categorize a generic error by inspecting it
func Categorize(err error, component, operation string) *EngineError {
	if err == nil {
		return nil
	}

	if engineErr, ok := err.(*EngineError); ok {
		return engineErr
	}

	errMsg := strings.ToLower(err.Error())

	if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "context deadline exceeded") {
		return WrapError(err, ErrorCategoryTimeout, component, operation)
	}

	if strings.Contains(errMsg, "connection") || strings.Contains(errMsg, "network") ||
		strings.Contains(errMsg, "dns") || strings.Contains(errMsg, "dial") {
		return WrapError(err, ErrorCategoryNetwork, component, operation)
	}

	if strings.Contains(errMsg, "api key") || strings.Contains(errMsg, "api secret") ||
		strings.Contains(errMsg, "auth") || strings.Contains(errMsg, "signature") {
		return WrapError(err, ErrorCategoryCredentials, component, operation)
	}

	if strings.Contains(errMsg, "rate limit") || strings.Contains(errMsg, "too many requests") {
		return WrapError(err, ErrorCategoryRateLimit, component, operation)
	}

	if strings.Contains(errMsg, "insufficient") || strings.Contains(errMsg, "lot") ||
		strings.Contains(errMsg, "volume") {
		return WrapError(err, ErrorCategoryExecution, component, operation).WithRetryable(false)
	}

	return WrapError(err, ErrorCategoryExecution, component, operation)
}

// Common error constructors

func NewConfigError(component, operation, message string) *EngineError {
	return New(ErrorCategoryConfiguration, component, operation, message).WithRetryable(false)
}

func NewCredentialsError(component, operation, message string) *EngineError {
	return New(ErrorCategoryCredentials, component, operation, message).WithRetryable(false)
}

func NewValidationError(component, operation, message string) *EngineError {
	return New(ErrorCategoryValidation, component, operation, message).WithRetryable(false)
}

func NewExecutionError(component, operation string, err error) *EngineError {
	return WrapError(err, ErrorCategoryExecution, component, operation)
}

func NewMarketDataError(component, operation string, err error) *EngineError {
	return WrapError(err, ErrorCategoryMarket, component, operation)
}

func NewStateError(component, operation string, err error) *EngineError {
	return WrapError(err, ErrorCategoryState, component, operation)
}

func NewFatalError(component, operation, message string) *EngineError {
	return New(ErrorCategoryFatal, component, operation, message).WithRetryable(false)
}

// ErrorStats tracks how often each category shows up during a session
type ErrorStats struct {
	TotalErrors      int
	ErrorsByCategory map[ErrorCategory]int
	RecentErrors     []*EngineError
	MaxRecentErrors  int
}

// NewErrorStats creates a new error statistics tracker
func NewErrorStats(maxRecentErrors int) *ErrorStats {
	return &ErrorStats{
		ErrorsByCategory: make(map[ErrorCategory]int),
		RecentErrors:     make([]*EngineError, 0, maxRecentErrors),
		MaxRecentErrors:  maxRecentErrors,
	}
}

// RecordError records an error in the statistics
func (es *ErrorStats) RecordError(err *EngineError) {
	es.TotalErrors++
	es.ErrorsByCategory[err.Category]++

	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > es.MaxRecentErrors {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate returns the error rate for a specific category
func (es *ErrorStats) GetErrorRate(category ErrorCategory) float64 {
	if es.TotalErrors == 0 {
		return 0.0
	}
	return float64(es.ErrorsByCategory[category]) / float64(es.TotalErrors)
}

// HasRecentErrors checks whether the recent window holds at least count
// errors of the given category.
func (es *ErrorStats) HasRecentErrors(category ErrorCategory, count int) bool {
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Category == category {
			recentCount++
		}
	}
	return recentCount >= count
}
