// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

import (
	"context"
	"time"
)

// Hardware is the register level surface of one ADC module.
//
// The Controller serialises calls, so implementations need only guard
// against their own interrupt or notification paths.
type Hardware interface {
	// ID returns the module the hardware is addressed as.
	ID() ModuleID

	// SetClock selects the conversion clock source and divider.
	SetClock(ConversionSpeed) error

	// SetSampleTime selects the sample and hold duration.
	SetSampleTime(SamplingSpeed) error

	// SetResolution selects the conversion mode.
	SetResolution(Resolution) error

	// SetReference selects the voltage reference.
	SetReference(Reference) error

	// SetCompare enables hardware comparison of raw results, or disables it
	// if c is nil. Rejected results do not set Complete.
	SetCompare(c *Window) error

	// Start begins a conversion on the channel.
	// In continuous mode the hardware starts the next conversion after each
	// result until Stop is called.
	Start(ch Channel, continuous bool) error

	// Converting returns true while a conversion is in progress.
	Converting() bool

	// Complete returns true if a result is ready.
	Complete() bool

	// Result returns the latest result and clears Complete.
	Result() int32

	// Stop halts any conversion and leaves the module idle.
	Stop()
}

// Notifier is implemented by Hardware that signals conversion completion.
type Notifier interface {
	// Notify registers fn to be called when a conversion completes.
	// The returned function removes the registration.
	Notify(fn func()) (cancel func())
}

// Amplifier is implemented by Hardware with a programmable gain amplifier
// on its differential inputs.
type Amplifier interface {
	// SetGain sets the gain applied to differential conversions.
	SetGain(g int) error
}

// waiter blocks until a hardware condition holds, waking on completion
// notifications or, failing those, on a polling interval.
type waiter struct {
	poll time.Duration
	irq  <-chan struct{}
}

func (w waiter) until(ctx context.Context, cond func() bool) error {
	if cond() {
		return nil
	}
	t := time.NewTicker(w.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			if cond() {
				return nil
			}
			return ctx.Err()
		case <-w.irq:
		case <-t.C:
		}
		if cond() {
			return nil
		}
	}
}
