// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

import (
	"fmt"
	"strings"
)

// ErrorFlags is a set of error conditions recorded by a module.
//
// Flags accumulate across operations until explicitly cleared, so callers
// may check for errors periodically rather than after every call.
type ErrorFlags uint16

// Error conditions.
const (
	// Other is an error not covered by the other flags.
	Other ErrorFlags = 1 << iota
	// Calibration indicates a failed calibration.
	Calibration
	// WrongPin indicates a pin that cannot be read by the module.
	WrongPin
	// AnalogRead indicates an error during a single-ended read.
	AnalogRead
	// AnalogDifferentialRead indicates an error during a differential read.
	AnalogDifferentialRead
	// Continuous indicates an error in continuous single-ended mode.
	Continuous
	// ContinuousDifferential indicates an error in continuous differential mode.
	ContinuousDifferential
	// Comparison indicates a result rejected by the comparison window.
	Comparison
	// WrongModule indicates a module that does not exist or is misaddressed.
	WrongModule
	// Synchronization indicates a failed paired read.
	Synchronization

	// Clear is the empty set.
	Clear ErrorFlags = 0

	allFlags = Synchronization<<1 - 1
)

var flagNames = []struct {
	f    ErrorFlags
	name string
}{
	{Other, "Other"},
	{Calibration, "Calibration"},
	{WrongPin, "Wrong pin"},
	{AnalogRead, "Analog read"},
	{AnalogDifferentialRead, "Analog differential read"},
	{Continuous, "Continuous read"},
	{ContinuousDifferential, "Continuous differential read"},
	{Comparison, "Comparison"},
	{WrongModule, "Wrong module"},
	{Synchronization, "Synchronization"},
}

// Union returns the flags set in either f or o.
func (f ErrorFlags) Union(o ErrorFlags) ErrorFlags {
	return f | o
}

// Intersect returns the flags set in both f and o.
func (f ErrorFlags) Intersect(o ErrorFlags) ErrorFlags {
	return f & o
}

// Add sets the flags in o, the equivalent of f |= o.
func (f *ErrorFlags) Add(o ErrorFlags) {
	*f |= o
}

// Mask clears the flags not in o, the equivalent of f &= o.
func (f *ErrorFlags) Mask(o ErrorFlags) {
	*f &= o
}

// Any returns true if any flag is set.
func (f ErrorFlags) Any() bool {
	return f&allFlags != 0
}

// Has returns true if all the flags in o are set.
// Has(Clear) is always true.
func (f ErrorFlags) Has(o ErrorFlags) bool {
	return f&o == o
}

// Names returns the names of the set flags, in bit order.
func (f ErrorFlags) Names() []string {
	var nn []string
	for _, fn := range flagNames {
		if f&fn.f != 0 {
			nn = append(nn, fn.name)
		}
	}
	return nn
}

func (f ErrorFlags) String() string {
	if !f.Any() {
		return "Clear"
	}
	return strings.Join(f.Names(), ", ")
}

// Report returns the human readable report for the flags recorded by a
// module, or an empty string if no flags are set.
func (f ErrorFlags) Report(id ModuleID) string {
	if !f.Any() {
		return ""
	}
	return fmt.Sprintf("%s error: %s.", id, f)
}
