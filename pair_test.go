// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warthog618/adc"
	"github.com/warthog618/adc/sim"
	"periph.io/x/conn/v3/physic"
)

func newPair(t *testing.T, opts ...adc.Option) (*adc.Pair, [2]*sim.Module) {
	t.Helper()
	m0, hw0 := newController(t, &adc.Teensy31.Modules[0], opts...)
	m1, hw1 := newController(t, &adc.Teensy31.Modules[1], opts...)
	p, err := adc.NewPair(m0, m1)
	require.Nil(t, err)
	require.NotNil(t, p)
	return p, [2]*sim.Module{hw0, hw1}
}

func TestNewPair(t *testing.T) {
	p, _ := newPair(t)
	assert.Equal(t, adc.Module0, p.Module(adc.Module0).ID())
	assert.Equal(t, adc.Module1, p.Module(adc.Module1).ID())
	assert.Equal(t, adc.Clear, p.Errors())
	assert.Equal(t, "", p.ErrorReport())
}

func TestNewPairWrongOrder(t *testing.T) {
	m0, _ := newController(t, &adc.Teensy31.Modules[0])
	m1, _ := newController(t, &adc.Teensy31.Modules[1])
	p, err := adc.NewPair(m1, m0)
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, adc.ErrWrongModule))
	assert.Equal(t, adc.WrongModule, adc.FlagsOf(err))
}

func TestPairRead(t *testing.T) {
	p, hw := newPair(t)
	before := [2]uint64{hw[0].Conversions(), hw[1].Conversions()}
	hw[0].SetPin(pinA2, 1650*physic.MilliVolt)
	hw[1].SetPin(pinA2, 825*physic.MilliVolt)
	r, err := p.Read(context.Background(), pinA2, pinA2)
	require.Nil(t, err)
	assert.Equal(t, adc.PairResult{ADC0: 512, ADC1: 256}, r)
	assert.Equal(t, adc.Idle, p.Module(adc.Module0).State())
	assert.Equal(t, adc.Idle, p.Module(adc.Module1).State())
	assert.Equal(t, before[0]+4, hw[0].Conversions())
	assert.Equal(t, before[1]+4, hw[1].Conversions())

	// different pins on each
	hw[0].SetPin(pinA0, 3300*physic.MilliVolt)
	r, err = p.Read(context.Background(), pinA0, pinA2)
	require.Nil(t, err)
	assert.Equal(t, adc.PairResult{ADC0: 1023, ADC1: 256}, r)
	assert.Equal(t, adc.Clear, p.Errors())
}

func TestPairReadDifferential(t *testing.T) {
	p, hw := newPair(t)
	hw[0].SetPair(pinA10, pinA11, -1650*physic.MilliVolt)
	hw[1].SetPair(pinA10, pinA11, 825*physic.MilliVolt)
	r, err := p.ReadDifferential(context.Background(), pinA10, pinA11, pinA10, pinA11)
	require.Nil(t, err)
	assert.Equal(t, adc.PairResult{ADC0: -512, ADC1: 256}, r)
	assert.Equal(t, adc.Clear, p.Errors())
}

func TestPairReadWrongPin(t *testing.T) {
	p, hw := newPair(t)
	before := [2]uint64{hw[0].Conversions(), hw[1].Conversions()}
	_, err := p.Read(context.Background(), pinA2, pinA0)
	assert.True(t, errors.Is(err, adc.ErrWrongPin))
	assert.Equal(t, adc.Clear, p.Module(adc.Module0).Errors())
	assert.Equal(t, adc.WrongPin, p.Module(adc.Module1).Errors())
	assert.Equal(t, adc.Clear, p.Errors())
	assert.Equal(t, before[0], hw[0].Conversions())
	assert.Equal(t, before[1], hw[1].Conversions())

	_, err = p.ReadDifferential(context.Background(), pinA0, pinA11, pinA10, pinA11)
	assert.True(t, errors.Is(err, adc.ErrWrongPin))
	assert.Equal(t, adc.WrongPin, p.Module(adc.Module0).Errors())
}

func TestPairReadMemberBusy(t *testing.T) {
	p, hw := newPair(t, adc.WithTimeout(5*time.Second))
	m0, m1 := p.Module(adc.Module0), p.Module(adc.Module1)
	before := hw[0].Conversions()
	hw[1].Hold()
	done := make(chan error)
	go func() {
		_, err := m1.Read(context.Background(), pinA2)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return m1.State() == adc.SingleConversionInFlight
	}, time.Second, time.Millisecond)

	_, err := p.Read(context.Background(), pinA2, pinA2)
	assert.True(t, errors.Is(err, adc.ErrBusy))
	assert.Equal(t, adc.Synchronization, adc.FlagsOf(err))
	assert.Equal(t, adc.Synchronization, p.Errors())
	assert.Equal(t, adc.Synchronization, m0.Errors())
	assert.Equal(t, adc.Synchronization, m1.Errors())
	assert.Equal(t, adc.Idle, m0.State())
	assert.Equal(t, adc.SingleConversionInFlight, m1.State())
	assert.Equal(t, before, hw[0].Conversions())
	assert.Equal(t, "ADCs error: Synchronization.", p.ErrorReport())

	hw[1].Release()
	select {
	case err := <-done:
		assert.Nil(t, err)
	case <-time.After(time.Second):
		t.Fatal("read did not complete")
	}
	assert.Equal(t, adc.Synchronization, p.ResetErrors())
	assert.Equal(t, adc.Clear, p.Errors())
	m0.ResetErrors()
	m1.ResetErrors()
	_, err = p.Read(context.Background(), pinA2, pinA2)
	assert.Nil(t, err)
	assert.Equal(t, adc.Clear, p.Errors())
}

func TestPairReadMemberContinuous(t *testing.T) {
	p, _ := newPair(t)
	m0 := p.Module(adc.Module0)
	s, err := m0.StartContinuous(context.Background(), pinA0)
	require.Nil(t, err)
	defer s.Stop()
	_, err = p.Read(context.Background(), pinA2, pinA2)
	assert.True(t, errors.Is(err, adc.ErrBusy))
	assert.True(t, m0.Errors().Has(adc.Synchronization))
	assert.True(t, p.Module(adc.Module1).Errors().Has(adc.Synchronization))
	assert.Equal(t, adc.ContinuousConversionRunning, m0.State())
	assert.Equal(t, adc.Idle, p.Module(adc.Module1).State())
}

func TestPairReadMemberTimeout(t *testing.T) {
	m0, hw0 := newController(t, &adc.Teensy31.Modules[0])
	m1, hw1 := newController(t, &adc.Teensy31.Modules[1], adc.WithTimeout(5*time.Millisecond))
	p, err := adc.NewPair(m0, m1)
	require.Nil(t, err)
	hw1.Hold()
	_, err = p.Read(context.Background(), pinA2, pinA2)
	assert.True(t, errors.Is(err, adc.ErrTimeout))
	assert.Equal(t, adc.Synchronization, p.Errors())
	assert.Equal(t, adc.Synchronization, m0.Errors())
	assert.Equal(t, adc.Synchronization|adc.AnalogRead, m1.Errors())
	assert.Equal(t, adc.Idle, m0.State())
	assert.Equal(t, adc.Idle, m1.State())

	// members recover once the hardware does
	hw1.Release()
	hw0.SetPin(pinA2, 1650*physic.MilliVolt)
	v, err := m0.Read(context.Background(), pinA2)
	require.Nil(t, err)
	assert.Equal(t, 512, v)
	hw1.SetPin(pinA2, 825*physic.MilliVolt)
	r, err := p.Read(context.Background(), pinA2, pinA2)
	require.Nil(t, err)
	assert.Equal(t, adc.PairResult{ADC0: 512, ADC1: 256}, r)
}

func TestPairStartContinuous(t *testing.T) {
	p, hw := newPair(t)
	hw[0].SetPin(pinA2, 1650*physic.MilliVolt)
	hw[1].SetPin(pinA2, 825*physic.MilliVolt)
	s0, s1, err := p.StartContinuous(context.Background(), pinA2, pinA2, deep)
	require.Nil(t, err)
	assert.Equal(t, adc.ContinuousConversionRunning, p.Module(adc.Module0).State())
	assert.Equal(t, adc.ContinuousConversionRunning, p.Module(adc.Module1).State())
	assert.Equal(t, 512, nextSample(t, s0).Value)
	assert.Equal(t, 256, nextSample(t, s1).Value)

	// already running
	_, _, err = p.StartContinuous(context.Background(), pinA2, pinA2)
	assert.True(t, errors.Is(err, adc.ErrBusy))
	assert.True(t, p.Errors().Has(adc.Synchronization))

	require.Nil(t, p.StopContinuous(context.Background()))
	assert.Equal(t, adc.Idle, p.Module(adc.Module0).State())
	assert.Equal(t, adc.Idle, p.Module(adc.Module1).State())
	<-s0.Done()
	<-s1.Done()
}

func TestPairStartContinuousWrongPin(t *testing.T) {
	p, _ := newPair(t)
	_, _, err := p.StartContinuous(context.Background(), pinA2, pinA0)
	assert.True(t, errors.Is(err, adc.ErrWrongPin))
	assert.Equal(t, adc.WrongPin, p.Module(adc.Module1).Errors())
	assert.Equal(t, adc.Idle, p.Module(adc.Module0).State())
}

func TestPairReadComparison(t *testing.T) {
	cfg := adc.DefaultConfig()
	cfg.Compare = &adc.Window{Low: 100, High: 200, Inclusive: true}
	p, hw := newPair(t, adc.WithConfig(cfg))
	// each raw code lies outside the window but the mean does not
	hw[0].SetPinCodes(pinA2, 50, 250, 50, 250)
	hw[1].SetPinCodes(pinA2, 50)
	_, err := p.Read(context.Background(), pinA2, pinA2)
	assert.True(t, errors.Is(err, adc.ErrComparison))
	assert.Equal(t, adc.Synchronization, p.Errors())
	assert.Equal(t, adc.Comparison|adc.Synchronization, p.Module(adc.Module0).Errors())
	assert.Equal(t, adc.Synchronization, p.Module(adc.Module1).Errors())
	assert.Equal(t, adc.Idle, p.Module(adc.Module0).State())
	assert.Equal(t, adc.Idle, p.Module(adc.Module1).State())

	hw[0].SetPinCodes(pinA2, 250)
	hw[1].SetPinCodes(pinA2, 40)
	r, err := p.Read(context.Background(), pinA2, pinA2)
	require.Nil(t, err)
	assert.Equal(t, adc.PairResult{ADC0: 250, ADC1: 40}, r)
}

func TestPairStartContinuousDifferential(t *testing.T) {
	p, hw := newPair(t)
	hw[0].SetPair(pinA10, pinA11, -1650*physic.MilliVolt)
	hw[1].SetPair(pinA10, pinA11, 825*physic.MilliVolt)
	s0, s1, err := p.StartContinuousDifferential(context.Background(), pinA10, pinA11, pinA10, pinA11, deep)
	require.Nil(t, err)
	assert.Equal(t, adc.ContinuousConversionRunning, p.Module(adc.Module0).State())
	assert.Equal(t, adc.ContinuousConversionRunning, p.Module(adc.Module1).State())
	assert.True(t, s0.Channel().Differential)
	assert.Equal(t, -512, nextSample(t, s0).Value)
	assert.Equal(t, 256, nextSample(t, s1).Value)

	// already running
	_, _, err = p.StartContinuousDifferential(context.Background(), pinA10, pinA11, pinA10, pinA11)
	assert.True(t, errors.Is(err, adc.ErrBusy))
	assert.Equal(t, adc.Synchronization, p.Errors())

	require.Nil(t, p.StopContinuous(context.Background()))
	<-s0.Done()
	<-s1.Done()
	assert.Equal(t, adc.Idle, p.Module(adc.Module0).State())
	assert.Equal(t, adc.Idle, p.Module(adc.Module1).State())
}

func TestPairStartContinuousDifferentialWrongPin(t *testing.T) {
	p, _ := newPair(t)
	_, _, err := p.StartContinuousDifferential(context.Background(), pinA10, pinA11, pinA11, pinA10)
	assert.True(t, errors.Is(err, adc.ErrWrongPin))
	assert.Equal(t, adc.Clear, p.Module(adc.Module0).Errors())
	assert.Equal(t, adc.WrongPin, p.Module(adc.Module1).Errors())
	assert.Equal(t, adc.Idle, p.Module(adc.Module0).State())
	assert.Equal(t, adc.Idle, p.Module(adc.Module1).State())
}
