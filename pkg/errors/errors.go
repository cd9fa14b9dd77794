// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed errors with rich context for the evaluation
// harness and its memory subsystem.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies errors for logging, metrics and recovery decisions.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeRateLimit indicates rate limiting was triggered.
	CodeRateLimit ErrorCode = "RATE_LIMITED"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeUnauthorized indicates authorization failed.
	CodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// CodeConfig indicates a fatal configuration problem detected at startup.
	CodeConfig ErrorCode = "CONFIG_ERROR"

	// CodeMemoryError indicates a memory store or retriever error.
	CodeMemoryError ErrorCode = "MEMORY_ERROR"

	// CodeLLMError indicates an LLM provider error.
	CodeLLMError ErrorCode = "LLM_ERROR"

	// CodeEnvironment indicates the task environment failed.
	CodeEnvironment ErrorCode = "ENVIRONMENT_ERROR"

	// CodeCheckpoint indicates a checkpoint could not be written.
	CodeCheckpoint ErrorCode = "CHECKPOINT_ERROR"

	// CodeParseFailure indicates generated output could not be parsed.
	CodeParseFailure ErrorCode = "PARSE_FAILURE"

	// CodeEmptyInput indicates there was nothing to work on.
	CodeEmptyInput ErrorCode = "EMPTY_INPUT"

	// CodeGenerationFailure indicates the generation call failed.
	CodeGenerationFailure ErrorCode = "GENERATION_FAILURE"

	// CodeStoreUnavailable indicates the memory store could not be used.
	CodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
)

// BankError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type BankError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
	StatusCode  int
}

// Error implements the error interface.
func (e *BankError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *BankError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *BankError) MarshalJSON() ([]byte, error) {
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Context     map[string]interface{} `json:"context,omitempty"`
		Attributes  map[string]string      `json:"attributes,omitempty"`
		StatusCode  int                    `json:"status_code"`
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         cause,
		Recoverable: e.Recoverable,
		Context:     e.Context,
		Attributes:  e.Attributes,
		StatusCode:  e.StatusCode,
	})
}

// New creates a new BankError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *BankError {
	return &BankError{
		Code:       code,
		Message:    msg,
		Err:        cause,
		Context:    make(map[string]interface{}),
		Attributes: make(map[string]string),
		StatusCode: codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
func (e *BankError) WithContext(key string, value interface{}) *BankError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
func (e *BankError) WithAttribute(key, value string) *BankError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *BankError) WithRecoverable(recoverable bool) *BankError {
	e.Recoverable = recoverable
	return e
}

// AsBankError returns err as a BankError, searching the wrap chain first
// and wrapping it as internal otherwise.
func AsBankError(err error) *BankError {
	if err == nil {
		return nil
	}
	var be *BankError
	if stderrors.As(err, &be) {
		return be
	}
	return New(CodeInternal, "wrapped error", err)
}

// HasCode reports whether any BankError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		if be, ok := err.(*BankError); ok && be.Code == code {
			return true
		}
		err = stderrors.Unwrap(err)
	}
	return false
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *BankError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// codeToStatusCode maps error codes to HTTP-like status codes.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeUnauthorized:
		return 401
	case CodeInvalidInput, CodeConfig, CodeEmptyInput:
		return 400
	case CodeTimeout:
		return 408
	case CodeRateLimit:
		return 429
	case CodeParseFailure:
		return 422
	case CodeStoreUnavailable, CodeEnvironment:
		return 503
	case CodeLLMError, CodeGenerationFailure:
		return 502
	default:
		return 500
	}
}
