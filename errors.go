// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates a conversion did not complete in time.
	ErrTimeout = errors.New("conversion timeout")

	// ErrClosed indicates the controller has been closed.
	ErrClosed = errors.New("controller closed")

	// ErrFaulted indicates the module is faulted and must be reset.
	ErrFaulted = errors.New("module faulted")

	// ErrBusy indicates the module is not in a state to accept the request.
	ErrBusy = errors.New("module busy")

	// ErrComparison indicates the result was rejected by the comparison window.
	ErrComparison = errors.New("result outside comparison window")

	// ErrWrongModule indicates the hardware is not the addressed module.
	ErrWrongModule = errors.New("wrong module")

	// ErrNotValidated indicates a config that was not produced by Validate.
	ErrNotValidated = errors.New("config not validated")

	// ErrCalibration indicates the calibration readings were implausible.
	ErrCalibration = errors.New("calibration failed")

	// ErrWrongPin indicates a pin that cannot be routed to the module.
	ErrWrongPin = errors.New("wrong pin")
)

// Error is returned by failed module operations.
//
// Flags contains the error flags raised by the operation, which are also
// recorded in the module's registry.
type Error struct {
	Module ModuleID
	Op     string
	Flags  ErrorFlags
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Module, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// FlagsOf returns the error flags carried by err, or Clear if err does not
// wrap an *Error.
func FlagsOf(err error) ErrorFlags {
	var f ErrorFlags
	for err != nil {
		var ae *Error
		if !errors.As(err, &ae) {
			break
		}
		f |= ae.Flags
		err = ae.Err
	}
	return f
}

// ConfigError identifies the field of a Config that failed validation.
type ConfigError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}

// waitErr maps context expiry to ErrTimeout, leaving cancellation as is.
func waitErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return err
}

func wrongPin(p Pin, id ModuleID) error {
	return fmt.Errorf("%w: pin %d has no channel on %s", ErrWrongPin, p, id)
}
