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

func openDevice(t *testing.T, b *adc.Board, opts ...adc.Option) (*adc.Device, []*sim.Module) {
	t.Helper()
	hws := []adc.Hardware(nil)
	sims := []*sim.Module(nil)
	for i := range b.Modules {
		hw := sim.New(&b.Modules[i], sim.WithInstant())
		hws = append(hws, hw)
		sims = append(sims, hw)
	}
	d, err := adc.Open(b, hws, opts...)
	require.Nil(t, err)
	require.NotNil(t, d)
	t.Cleanup(func() { d.Close() })
	return d, sims
}

func TestOpen(t *testing.T) {
	d, _ := openDevice(t, &adc.Teensy31)
	assert.Equal(t, &adc.Teensy31, d.Board())
	mm := d.Modules()
	require.Len(t, mm, 2)
	assert.Equal(t, adc.Module0, mm[0].ID())
	assert.Equal(t, adc.Module1, mm[1].ID())
	p, err := d.Pair()
	require.Nil(t, err)
	assert.Equal(t, mm[1], p.Module(adc.Module1))
	c, err := d.Module(adc.Module1)
	require.Nil(t, err)
	assert.Equal(t, mm[1], c)
	assert.Equal(t, adc.Clear, d.Errors())
}

func TestOpenSingleModule(t *testing.T) {
	d, _ := openDevice(t, &adc.TeensyLC)
	require.Len(t, d.Modules(), 1)
	p, err := d.Pair()
	assert.Nil(t, p)
	assert.True(t, errors.Is(err, adc.ErrWrongModule))
	assert.Equal(t, adc.WrongModule, d.Errors())

	d.ResetErrors()
	_, err = d.Module(adc.Module1)
	assert.True(t, errors.Is(err, adc.ErrWrongModule))
	assert.Equal(t, "ADC0 error: Wrong module.", d.ErrorReport())
}

func TestOpenMismatch(t *testing.T) {
	hw := sim.New(&adc.Teensy31.Modules[0], sim.WithInstant())
	d, err := adc.Open(&adc.Teensy31, []adc.Hardware{hw})
	assert.Nil(t, d)
	assert.NotNil(t, err)
}

func TestOpenEmptyBoard(t *testing.T) {
	d, err := adc.Open(&adc.Board{Name: "empty"}, nil)
	assert.Nil(t, d)
	assert.NotNil(t, err)
}

func TestOpenWrongModule(t *testing.T) {
	hw0 := sim.New(&adc.Teensy31.Modules[0], sim.WithInstant())
	hw1 := sim.New(&adc.Teensy31.Modules[1], sim.WithInstant())
	d, err := adc.Open(&adc.Teensy31, []adc.Hardware{hw1, hw0})
	assert.Nil(t, d)
	assert.True(t, errors.Is(err, adc.ErrWrongModule))
}

func TestDeviceRead(t *testing.T) {
	d, hw := openDevice(t, &adc.Teensy31)
	before := hw[0].Conversions()
	hw[0].SetPin(pinA0, 1650*physic.MilliVolt)
	v, err := d.Read(context.Background(), pinA0, adc.AnyModule)
	require.Nil(t, err)
	assert.Equal(t, 512, v)
	assert.Equal(t, before+4, hw[0].Conversions())

	hw[1].SetPin(pinA2, 825*physic.MilliVolt)
	v, err = d.Read(context.Background(), pinA2, adc.Module1)
	require.Nil(t, err)
	assert.Equal(t, 256, v)

	// explicit module that cannot read the pin
	_, err = d.Read(context.Background(), pinA0, adc.Module1)
	assert.True(t, errors.Is(err, adc.ErrWrongPin))
	assert.Equal(t, adc.WrongPin, d.Errors())
}

func TestDeviceReadLeastLoaded(t *testing.T) {
	d, hw := openDevice(t, &adc.Teensy31, adc.WithTimeout(5*time.Second))
	m0, _ := d.Module(adc.Module0)
	before := [2]uint64{hw[0].Conversions(), hw[1].Conversions()}
	hw[0].Hold()
	done := make(chan error)
	go func() {
		_, err := m0.Read(context.Background(), pinA0)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return m0.Load() == 1
	}, time.Second, time.Millisecond)

	hw[1].SetPin(pinA2, 1650*physic.MilliVolt)
	v, err := d.Read(context.Background(), pinA2, adc.AnyModule)
	require.Nil(t, err)
	assert.Equal(t, 512, v)
	assert.Equal(t, before[1]+4, hw[1].Conversions())
	assert.Equal(t, before[0], hw[0].Conversions())

	hw[0].Release()
	select {
	case err := <-done:
		assert.Nil(t, err)
	case <-time.After(time.Second):
		t.Fatal("read did not complete")
	}
}

func TestDeviceReadDifferential(t *testing.T) {
	d, hw := openDevice(t, &adc.Teensy31)
	hw[1].SetPair(pinA10, pinA11, -825*physic.MilliVolt)
	v, err := d.ReadDifferential(context.Background(), pinA10, pinA11, adc.Module1)
	require.Nil(t, err)
	assert.Equal(t, -256, v)

	_, err = d.ReadDifferential(context.Background(), pinA0, pinA11, adc.AnyModule)
	assert.True(t, errors.Is(err, adc.ErrWrongPin))
	var ae *adc.Error
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, adc.AnyModule, ae.Module)
}

func TestDeviceReadUnrouted(t *testing.T) {
	d, hw := openDevice(t, &adc.Teensy31)
	before := [2]uint64{hw[0].Conversions(), hw[1].Conversions()}
	_, err := d.Read(context.Background(), pinNone, adc.AnyModule)
	assert.True(t, errors.Is(err, adc.ErrWrongPin))
	assert.Equal(t, adc.WrongPin, adc.FlagsOf(err))
	for _, c := range d.Modules() {
		assert.Equal(t, adc.WrongPin, c.Errors())
		assert.Equal(t, adc.Idle, c.State())
	}
	assert.Equal(t, before[0], hw[0].Conversions())
	assert.Equal(t, before[1], hw[1].Conversions())
	assert.Equal(t, "ADC0 error: Wrong pin.\nADC1 error: Wrong pin.", d.ErrorReport())

	d.ResetErrors()
	assert.Equal(t, adc.Clear, d.Errors())
	assert.Equal(t, "", d.ErrorReport())
}

func TestDeviceErrorReport(t *testing.T) {
	d, hw := openDevice(t, &adc.Teensy31, adc.WithTimeout(5*time.Second))
	m1, _ := d.Module(adc.Module1)
	hw[1].Hold()
	done := make(chan error)
	go func() {
		_, err := m1.Read(context.Background(), pinA2)
		done <- err
	}()
	require.Eventually(t, func() bool {
		return m1.State() == adc.SingleConversionInFlight
	}, time.Second, time.Millisecond)
	p, err := d.Pair()
	require.Nil(t, err)
	_, err = p.Read(context.Background(), pinA2, pinA2)
	assert.True(t, errors.Is(err, adc.ErrBusy))
	hw[1].Release()
	<-done
	assert.Equal(t,
		"ADC0 error: Synchronization.\nADC1 error: Synchronization.\nADCs error: Synchronization.",
		d.ErrorReport())
}

func TestDeviceClose(t *testing.T) {
	d, _ := openDevice(t, &adc.Teensy31)
	require.Nil(t, d.Close())
	for _, c := range d.Modules() {
		_, err := c.Read(context.Background(), pinA2)
		assert.True(t, errors.Is(err, adc.ErrClosed))
	}
}
