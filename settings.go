// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

import (
	"fmt"
	"time"
)

// ModuleID identifies a physical ADC module.
type ModuleID int

// Modules.
const (
	Module0 ModuleID = iota
	Module1

	// AnyModule lets the Device pick a module that can read the pin.
	AnyModule ModuleID = -1
)

func (id ModuleID) String() string {
	if id == AnyModule {
		return "ADCs"
	}
	return fmt.Sprintf("ADC%d", int(id))
}

// Resolution is the number of bits in a single-ended result.
type Resolution uint8

// Supported resolutions.
const (
	Bits8  Resolution = 8
	Bits10 Resolution = 10
	Bits12 Resolution = 12
	Bits16 Resolution = 16
)

// Max returns the largest single-ended result, 2^bits-1.
func (r Resolution) Max() int {
	return 1<<uint(r) - 1
}

// ConversionSpeed selects the conversion clock, ADCK.
//
// The speeds are ordered from slowest to fastest for the bus derived
// clocks, followed by the asynchronous clock variants.
type ConversionSpeed uint8

// Conversion speeds.
const (
	// VeryLowSpeed is the slowest clock within the datasheet limits for less than 16 bits.
	VeryLowSpeed ConversionSpeed = iota
	// LowSpeed is the slowest clock within the datasheet limits for all resolutions.
	LowSpeed
	// MediumSpeed lies between LowSpeed and HighSpeed.
	MediumSpeed
	// HighSpeed16Bits is the fastest clock within the datasheet limits for 16 bits.
	HighSpeed16Bits
	// HighSpeed is the fastest clock within the datasheet limits for less than 16 bits.
	HighSpeed
	// VeryHighSpeed may exceed the datasheet limits.
	VeryHighSpeed
	// Async2_4 is the 2.4MHz asynchronous clock.
	Async2_4
	// Async4_0 is the 4.0MHz asynchronous clock.
	Async4_0
	// Async5_2 is the 5.2MHz asynchronous clock.
	Async5_2
	// Async6_2 is the 6.2MHz asynchronous clock.
	Async6_2
)

var conversionNames = []string{
	"very low", "low", "medium", "high (16 bits)", "high", "very high",
	"async 2.4MHz", "async 4.0MHz", "async 5.2MHz", "async 6.2MHz",
}

// adckHz is the conversion clock frequency for each speed class.
var adckHz = []int64{
	1500000, 3000000, 6000000, 12000000, 18000000, 24000000,
	2400000, 4000000, 5200000, 6200000,
}

func (s ConversionSpeed) String() string {
	if int(s) < len(conversionNames) {
		return conversionNames[s]
	}
	return fmt.Sprintf("ConversionSpeed(%d)", s)
}

// Async returns true for the asynchronous clock variants.
func (s ConversionSpeed) Async() bool {
	return s >= Async2_4 && s <= Async6_2
}

// Hz returns the conversion clock frequency, or 0 for an unknown speed.
func (s ConversionSpeed) Hz() int64 {
	if int(s) < len(adckHz) {
		return adckHz[s]
	}
	return 0
}

// SamplingSpeed selects the sample and hold duration.
type SamplingSpeed uint8

// Sampling speeds.
const (
	// VeryLowSampling adds 24 ADCK cycles.
	VeryLowSampling SamplingSpeed = iota
	// LowSampling adds 16 ADCK cycles.
	LowSampling
	// MediumSampling adds 10 ADCK cycles.
	MediumSampling
	// HighSampling adds 6 ADCK cycles.
	HighSampling
	// VeryHighSampling adds no cycles.
	VeryHighSampling
)

const baseSampleCycles = 4

var samplingNames = []string{"very low", "low", "medium", "high", "very high"}

var extraSampleCycles = []int64{24, 16, 10, 6, 0}

func (s SamplingSpeed) String() string {
	if int(s) < len(samplingNames) {
		return samplingNames[s]
	}
	return fmt.Sprintf("SamplingSpeed(%d)", s)
}

// Cycles returns the number of ADCK cycles in the sample window.
func (s SamplingSpeed) Cycles() int64 {
	if int(s) < len(extraSampleCycles) {
		return baseSampleCycles + extraSampleCycles[s]
	}
	return 0
}

// SampleTime returns the sample window for the sampling speed when clocked
// by the conversion speed.
func SampleTime(c ConversionSpeed, s SamplingSpeed) time.Duration {
	hz := c.Hz()
	if hz == 0 {
		return 0
	}
	return time.Duration(s.Cycles() * int64(time.Second) / hz)
}

// ConversionTime estimates the duration of a single conversion, including
// the sample window.
func ConversionTime(r Resolution, c ConversionSpeed, s SamplingSpeed) time.Duration {
	hz := c.Hz()
	if hz == 0 {
		return 0
	}
	cycles := s.Cycles() + 2*int64(r) + 5
	return time.Duration(cycles * int64(time.Second) / hz)
}

// Reference selects the voltage reference for conversions.
type Reference uint8

// References.
const (
	// Vdd3V3 is the 3.3V supply.
	Vdd3V3 Reference = iota
	// Internal1V2 is the internal 1.2V reference.
	Internal1V2
	// External is the voltage applied to AREF.
	External
)

var referenceNames = []string{"3.3V", "1.2V", "external"}

func (r Reference) String() string {
	if int(r) < len(referenceNames) {
		return referenceNames[r]
	}
	return fmt.Sprintf("Reference(%d)", r)
}

// InternalSource identifies an internally routed signal.
type InternalSource uint8

// Internal sources.
const (
	TemperatureSensor InternalSource = iota
	VoltageReferenceOut
	Bandgap
	VrefHigh
	VrefLow
)

var sourceNames = []string{"temperature sensor", "VREF out", "bandgap", "VREFH", "VREFL"}

func (s InternalSource) String() string {
	if int(s) < len(sourceNames) {
		return sourceNames[s]
	}
	return fmt.Sprintf("InternalSource(%d)", s)
}
