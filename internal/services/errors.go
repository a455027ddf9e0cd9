// Package services implements the business logic of the request pipeline:
// ingestion, payment verification, content generation, minting, and outcome
// dispatch. This file centralizes common service-level error values so that
// they can be consistently returned by service methods and checked by
// callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

var (
	// ErrEmptyPrompt is returned when an inbound event carries no usable
	// prompt text.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrPromptTooLong is returned when the prompt exceeds the configured
	// maximum length.
	ErrPromptTooLong = errors.New("prompt too long")

	// ErrInvalidReference is returned when the payment reference is not a
	// parseable memo token.
	ErrInvalidReference = errors.New("payment reference is not valid")

	// ErrUnexpectedState is returned when a pipeline step is handed a
	// request that is not in the state the step owns. This indicates a
	// dispatch bug, not a race; races surface as repo.ErrStateConflict.
	ErrUnexpectedState = errors.New("request in unexpected state")
)
