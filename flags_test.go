// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warthog618/adc"
)

func TestErrorFlagsUnionIntersect(t *testing.T) {
	a := adc.WrongPin | adc.Calibration
	b := adc.Calibration | adc.Comparison
	assert.Equal(t, adc.WrongPin|adc.Calibration|adc.Comparison, a.Union(b))
	assert.Equal(t, adc.Calibration, a.Intersect(b))
	assert.Equal(t, adc.Clear, adc.WrongPin.Intersect(adc.Comparison))
}

func TestErrorFlagsAdd(t *testing.T) {
	var ab, ba adc.ErrorFlags
	ab.Add(adc.AnalogRead)
	ab.Add(adc.Synchronization)
	ba.Add(adc.Synchronization)
	ba.Add(adc.AnalogRead)
	assert.Equal(t, ab, ba)
	assert.True(t, ab.Has(adc.AnalogRead))
	assert.True(t, ab.Has(adc.Synchronization))
	assert.True(t, ab.Has(adc.AnalogRead|adc.Synchronization))
	assert.False(t, ab.Has(adc.AnalogRead|adc.Other))
	assert.True(t, ab.Has(adc.Clear))
}

func TestErrorFlagsMask(t *testing.T) {
	f := adc.WrongPin | adc.Calibration | adc.Continuous
	f.Mask(adc.Calibration | adc.Other)
	assert.Equal(t, adc.Calibration, f)
	f.Mask(adc.Clear)
	assert.Equal(t, adc.Clear, f)
	// clearing twice is the same as clearing once
	f.Mask(adc.Clear)
	assert.Equal(t, adc.Clear, f)
	assert.False(t, f.Any())
}

func TestErrorFlagsAny(t *testing.T) {
	assert.False(t, adc.Clear.Any())
	assert.True(t, adc.Other.Any())
	assert.True(t, adc.Synchronization.Any())
}

func TestErrorFlagsString(t *testing.T) {
	patterns := []struct {
		name string
		f    adc.ErrorFlags
		want string
	}{
		{"clear", adc.Clear, "Clear"},
		{"single", adc.WrongPin, "Wrong pin"},
		{"multiple", adc.Synchronization | adc.Other | adc.Comparison, "Other, Comparison, Synchronization"},
		{"all", adc.Other | adc.Calibration | adc.WrongPin | adc.AnalogRead |
			adc.AnalogDifferentialRead | adc.Continuous | adc.ContinuousDifferential |
			adc.Comparison | adc.WrongModule | adc.Synchronization,
			"Other, Calibration, Wrong pin, Analog read, Analog differential read, " +
				"Continuous read, Continuous differential read, Comparison, Wrong module, Synchronization"},
	}
	for _, p := range patterns {
		tf := func(t *testing.T) {
			assert.Equal(t, p.want, p.f.String())
		}
		t.Run(p.name, tf)
	}
}

func TestErrorFlagsReport(t *testing.T) {
	assert.Equal(t, "", adc.Clear.Report(adc.Module0))
	assert.Equal(t, "ADC0 error: Wrong pin.", adc.WrongPin.Report(adc.Module0))
	assert.Equal(t, "ADC1 error: Calibration, Comparison.",
		(adc.Comparison | adc.Calibration).Report(adc.Module1))
	assert.Equal(t, "ADCs error: Synchronization.", adc.Synchronization.Report(adc.AnyModule))
}

func TestFlagsOf(t *testing.T) {
	assert.Equal(t, adc.Clear, adc.FlagsOf(nil))
	assert.Equal(t, adc.Clear, adc.FlagsOf(adc.ErrTimeout))
	err := &adc.Error{Module: adc.Module1, Op: "read", Flags: adc.AnalogRead, Err: adc.ErrTimeout}
	assert.Equal(t, adc.AnalogRead, adc.FlagsOf(err))
	assert.Equal(t, "ADC1 read: conversion timeout", err.Error())
	nested := &adc.Error{Module: adc.AnyModule, Op: "synchronized read", Flags: adc.Synchronization, Err: err}
	assert.Equal(t, adc.AnalogRead|adc.Synchronization, adc.FlagsOf(nested))
}
