// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AccelByte/realtime-matchmaker/pkg/constants"
)

var (
	ErrAuthFailed       = errors.New("authentication failed")
	ErrStoreUnavailable = errors.New("queue store unavailable")
	ErrNoCapacity       = errors.New("no dedicated server capacity")
	ErrUnknownMode      = errors.New("unknown game mode")

	ErrSettingsGroupSize    = errors.New("group size cannot be lower than 1")
	ErrSettingsWindowWidth  = errors.New("window width cannot be lower than 0")
	ErrSettingsMaxQueueWait = errors.New("max queue wait ms must be greater than 0")
	ErrSettingsTickPeriod   = errors.New("tick period ms must be greater than 0")
	ErrSettingsMaxPops      = errors.New("max pops per tick cannot be lower than 1")

	ErrServerURLEmpty         = errors.New("server url cannot be empty")
	ErrServerCapacityNegative = errors.New("server capacity cannot be lower than 0")
)

// StoreFailureKind separates failures the breaker retries from failures that
// end the process.
type StoreFailureKind string

const (
	StoreFailureTransient StoreFailureKind = "transient"
	StoreFailureFatal     StoreFailureKind = "fatal"
)

// StoreFailure wraps a store error with its recovery class.
type StoreFailure struct {
	Kind StoreFailureKind
	Err  error
}

func (f *StoreFailure) Error() string {
	return fmt.Sprintf("store failure (%s): %v", f.Kind, f.Err)
}

func (f *StoreFailure) Unwrap() error {
	return f.Err
}

func NewTransientStoreFailure(err error) error {
	return &StoreFailure{Kind: StoreFailureTransient, Err: err}
}

func NewFatalStoreFailure(err error) error {
	return &StoreFailure{Kind: StoreFailureFatal, Err: err}
}

// IsTransientStoreFailure reports whether err is a retryable store failure.
func IsTransientStoreFailure(err error) bool {
	var failure *StoreFailure
	return errors.As(err, &failure) && failure.Kind == StoreFailureTransient
}

// ClassifyStoreError sorts a raw store error into the failure taxonomy.
// Script and type errors will not heal on retry; everything else is assumed
// to be connectivity and feeds the breaker.
func ClassifyStoreError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "WRONGTYPE") || strings.Contains(msg, "compiling script") || strings.Contains(msg, "running script") {
		return NewFatalStoreFailure(err)
	}
	return NewTransientStoreFailure(err)
}

// ValidationError rejects one field of a client command.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AllocError reports a failed dedicated server allocation. The popped group
// goes back to its queue with original timestamps.
type AllocError struct {
	Reason string
	Err    error
}

func (e *AllocError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("allocation failed: %s", e.Reason)
	}
	return fmt.Sprintf("allocation failed: %s: %v", e.Reason, e.Err)
}

func (e *AllocError) Unwrap() error {
	return e.Err
}

func NewAllocError(reason string, err error) error {
	return &AllocError{Reason: reason, Err: err}
}

// ClientErrorCode returns the code carried in an error frame for err.
// Errors without a client mapping report as internal.
func ClientErrorCode(err error) string {
	var validationErr *ValidationError
	switch {
	case errors.Is(err, ErrStoreUnavailable):
		return constants.ErrorCodeBusy
	case errors.Is(err, ErrAuthFailed):
		return constants.ErrorCodeAuth
	case errors.As(err, &validationErr):
		return constants.ErrorCodeValidation
	case errors.Is(err, ErrUnknownMode):
		return constants.ErrorCodeValidation
	default:
		return constants.ErrorCodeInternal
	}
}
