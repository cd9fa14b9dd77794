// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"github.com/jllopis/reasoningbank/pkg/errors"
)

// WrapLLMError wraps a generation failure with the episode context.
func WrapLLMError(err error, episodeID string, step int) *errors.BankError {
	if err == nil {
		return nil
	}
	if be := errors.AsBankError(err); be != nil && be.Code == errors.CodeLLMError {
		return be.WithContext("episode_id", episodeID).WithContext("step", step)
	}
	return errors.New(errors.CodeLLMError, "LLM call failed", err).
		WithContext("episode_id", episodeID).
		WithContext("step", step).
		WithAttribute("episode.id", episodeID).
		WithRecoverable(true)
}

// WrapEnvError wraps an environment failure with the episode context.
func WrapEnvError(err error, episodeID, operation string) *errors.BankError {
	if err == nil {
		return nil
	}
	if be := errors.AsBankError(err); be != nil && be.Code == errors.CodeEnvironment {
		return be.WithContext("episode_id", episodeID)
	}
	return errors.New(errors.CodeEnvironment, "environment "+operation+" failed", err).
		WithContext("episode_id", episodeID).
		WithContext("operation", operation).
		WithAttribute("episode.id", episodeID).
		WithRecoverable(false)
}
