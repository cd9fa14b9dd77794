// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/jllopis/reasoningbank/pkg/errors"
)

// CLIError wraps a BankError with a hint for the operator.
type CLIError struct {
	*errors.BankError
	Hint string
}

// NewCLIError creates a CLI error.
func NewCLIError(be *errors.BankError, hint string) *CLIError {
	return &CLIError{BankError: be, Hint: hint}
}

// Error returns the message followed by the hint.
func (e *CLIError) Error() string {
	if e.BankError == nil {
		return "unknown error"
	}
	msg := e.BankError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the BankError.
func (e *CLIError) Unwrap() error { return e.BankError }

// NewConfigError wraps a configuration failure. BankErrors keep their code.
func NewConfigError(err error, configPath string) *CLIError {
	var be *errors.BankError
	if !stderrors.As(err, &be) {
		be = errors.New(errors.CodeConfig, "configuration error", err)
	}
	be = be.WithContext("config_path", configPath)

	hint := "check the --set overrides and RBENCH_* environment variables"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors or invalid values", configPath)
	}
	return NewCLIError(be, hint)
}

// NewEnvironmentError wraps a failure to reach the simulator.
func NewEnvironmentError(err error, transport string) *CLIError {
	be := errors.New(errors.CodeEnvironment, "simulator unavailable", err).
		WithContext("transport", transport).
		WithRecoverable(true)
	hint := "check environment.command and that the simulator MCP server starts"
	if transport == "script" {
		hint = "check that environment.script points to a readable YAML script"
	}
	return NewCLIError(be, hint)
}

// NewInvalidArgumentError reports a bad flag or argument.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	be := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg)
	return NewCLIError(be, "run 'rbench help' for usage information")
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// printError writes err for humans or, with asJSON, as {"error": {...}}.
func printError(w io.Writer, err error, asJSON bool) {
	payload := errorPayload{Code: "UNKNOWN", Message: err.Error()}
	var cliErr *CLIError
	var be *errors.BankError
	switch {
	case stderrors.As(err, &cliErr) && cliErr.BankError != nil:
		payload = errorPayload{Code: string(cliErr.Code), Message: cliErr.BankError.Error(), Hint: cliErr.Hint}
	case stderrors.As(err, &be):
		payload = errorPayload{Code: string(be.Code), Message: be.Error()}
	}

	if asJSON {
		_ = json.NewEncoder(w).Encode(map[string]errorPayload{"error": payload})
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", payload.Code, payload.Message)
	if payload.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", payload.Hint)
	}
}
