// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package sim_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warthog618/adc"
	"github.com/warthog618/adc/sim"
	"periph.io/x/conn/v3/physic"
)

var (
	adc0 = &adc.Teensy31.Modules[0]
	ch5  = adc.Channel{Number: 5}
)

// convert performs a single instant conversion on the channel.
func convert(t *testing.T, m *sim.Module, ch adc.Channel) (int32, bool) {
	t.Helper()
	require.Nil(t, m.Start(ch, false))
	assert.False(t, m.Converting())
	if !m.Complete() {
		return 0, false
	}
	return m.Result(), true
}

func TestNew(t *testing.T) {
	m := sim.New(adc0)
	assert.Equal(t, adc.Module0, m.ID())
	s := m.Settings()
	assert.Equal(t, adc.MediumSpeed, s.Clock)
	assert.Equal(t, adc.MediumSampling, s.Sampling)
	assert.Equal(t, adc.Bits10, s.Resolution)
	assert.Equal(t, adc.Vdd3V3, s.Reference)
	assert.Nil(t, s.Compare)
	assert.Equal(t, 1, s.Gain)
	assert.False(t, m.Converting())
	assert.False(t, m.Complete())
	assert.Equal(t, uint64(0), m.Conversions())

	m.SetID(adc.Module1)
	assert.Equal(t, adc.Module1, m.ID())
}

func TestSettings(t *testing.T) {
	m := sim.New(adc0)
	require.Nil(t, m.SetClock(adc.HighSpeed))
	require.Nil(t, m.SetSampleTime(adc.VeryLowSampling))
	require.Nil(t, m.SetResolution(adc.Bits16))
	require.Nil(t, m.SetReference(adc.Internal1V2))
	c := &adc.Window{Low: 1, High: 2, Inside: true}
	require.Nil(t, m.SetCompare(c))
	s := m.Settings()
	assert.Equal(t, adc.HighSpeed, s.Clock)
	assert.Equal(t, adc.VeryLowSampling, s.Sampling)
	assert.Equal(t, adc.Bits16, s.Resolution)
	assert.Equal(t, adc.Internal1V2, s.Reference)
	assert.Equal(t, c, s.Compare)
	// a copy
	s.Compare.Low = 0
	assert.Equal(t, 1, m.Settings().Compare.Low)

	assert.NotNil(t, m.SetResolution(adc.Resolution(11)))
	lc := sim.New(&adc.TeensyLC.Modules[0])
	assert.NotNil(t, lc.SetReference(adc.Internal1V2))
}

func TestConvert(t *testing.T) {
	patterns := []struct {
		name string
		res  adc.Resolution
		ref  adc.Reference
		ch   adc.Channel
		volt physic.ElectricPotential
		code int32
	}{
		{"mid", adc.Bits10, adc.Vdd3V3, ch5, 1650 * physic.MilliVolt, 512},
		{"zero", adc.Bits10, adc.Vdd3V3, ch5, 0, 0},
		{"clamp high", adc.Bits10, adc.Vdd3V3, ch5, 4 * physic.Volt, 1023},
		{"clamp low", adc.Bits10, adc.Vdd3V3, ch5, -physic.Volt, 0},
		{"8 bit", adc.Bits8, adc.Vdd3V3, ch5, 825 * physic.MilliVolt, 64},
		{"16 bit", adc.Bits16, adc.Vdd3V3, ch5, 1650 * physic.MilliVolt, 32768},
		{"1v2", adc.Bits12, adc.Internal1V2, ch5, 600 * physic.MilliVolt, 2048},
		{"diff", adc.Bits10, adc.Vdd3V3, adc.Channel{Differential: true}, -1650 * physic.MilliVolt, -512},
		{"diff clamp", adc.Bits10, adc.Vdd3V3, adc.Channel{Differential: true}, -5 * physic.Volt, -1024},
	}
	for _, p := range patterns {
		tf := func(t *testing.T) {
			m := sim.New(adc0, sim.WithInstant())
			require.Nil(t, m.SetResolution(p.res))
			require.Nil(t, m.SetReference(p.ref))
			m.SetVoltage(p.ch, p.volt)
			v, ok := convert(t, m, p.ch)
			assert.True(t, ok)
			assert.Equal(t, p.code, v)
		}
		t.Run(p.name, tf)
	}
}

func TestWithLevel(t *testing.T) {
	m := sim.New(adc0, sim.WithInstant(), sim.WithLevel(825*physic.MilliVolt))
	v, ok := convert(t, m, ch5)
	assert.True(t, ok)
	assert.Equal(t, int32(256), v)
}

func TestInternalSources(t *testing.T) {
	m := sim.New(adc0, sim.WithInstant(), sim.WithExternalReference(2500*physic.MilliVolt))
	patterns := []struct {
		src  adc.InternalSource
		ref  adc.Reference
		code int32
	}{
		{adc.Bandgap, adc.Vdd3V3, 310},
		{adc.TemperatureSensor, adc.Vdd3V3, 223},
		{adc.VoltageReferenceOut, adc.Vdd3V3, 372},
		{adc.VrefHigh, adc.Vdd3V3, 1023},
		{adc.VrefHigh, adc.External, 1023},
		{adc.VrefLow, adc.Vdd3V3, 0},
		{adc.Bandgap, adc.External, 410},
	}
	for _, p := range patterns {
		ch, ok := adc0.RouteInternal(p.src)
		require.True(t, ok)
		require.Nil(t, m.SetReference(p.ref))
		v, ok := convert(t, m, ch)
		assert.True(t, ok)
		assert.Equal(t, p.code, v, p.src.String())
	}
	require.Nil(t, m.SetReference(adc.Vdd3V3))
	require.Nil(t, m.SetSource(adc.VrefHigh, 0))
	ch, _ := adc0.RouteInternal(adc.VrefHigh)
	v, _ := convert(t, m, ch)
	assert.Equal(t, int32(0), v)

	lc := sim.New(&adc.TeensyLC.Modules[0])
	assert.NotNil(t, lc.SetSource(adc.VoltageReferenceOut, 0))
}

func TestSetPin(t *testing.T) {
	m := sim.New(adc0, sim.WithInstant())
	require.Nil(t, m.SetPin(14, 3300*physic.MilliVolt))
	v, _ := convert(t, m, ch5)
	assert.Equal(t, int32(1023), v)
	assert.NotNil(t, m.SetPin(99, 0))
	assert.NotNil(t, m.SetPinCodes(99, 1))
	assert.NotNil(t, m.SetPair(14, 35, 0))

	require.Nil(t, m.SetPair(34, 35, -825*physic.MilliVolt))
	v, _ = convert(t, m, adc.Channel{Number: 0, Differential: true})
	assert.Equal(t, int32(-256), v)
}

func TestSetCodes(t *testing.T) {
	m := sim.New(adc0, sim.WithInstant())
	require.Nil(t, m.SetPinCodes(14, 1, 2, 3))
	for _, want := range []int32{1, 2, 3, 1, 2} {
		v, ok := convert(t, m, ch5)
		assert.True(t, ok)
		assert.Equal(t, want, v)
	}
	assert.Equal(t, uint64(5), m.Conversions())

	// signals see their conversion count
	m.SetSignal(ch5, func(n uint64) physic.ElectricPotential {
		return physic.ElectricPotential(n) * 3300 * physic.MilliVolt / 1024
	})
	for want := int32(0); want < 3; want++ {
		v, _ := convert(t, m, ch5)
		assert.Equal(t, want, v)
	}
}

func TestCompare(t *testing.T) {
	m := sim.New(adc0, sim.WithInstant())
	require.Nil(t, m.SetCompare(&adc.Window{Low: 0, High: 100, Inside: true, Inclusive: true}))
	require.Nil(t, m.SetPinCodes(14, 50, 200))
	v, ok := convert(t, m, ch5)
	assert.True(t, ok)
	assert.Equal(t, int32(50), v)
	_, ok = convert(t, m, ch5)
	assert.False(t, ok)
	assert.Equal(t, uint64(2), m.Conversions())
}

func TestSetGain(t *testing.T) {
	m := sim.New(adc0, sim.WithInstant())
	require.Nil(t, m.SetGain(8))
	assert.Equal(t, 8, m.Settings().Gain)
	diff := adc.Channel{Differential: true}
	m.SetVoltage(diff, -103125*physic.MicroVolt)
	v, _ := convert(t, m, diff)
	assert.Equal(t, int32(-256), v)
	// single-ended inputs are unaffected
	m.SetVoltage(ch5, 825*physic.MilliVolt)
	v, _ = convert(t, m, ch5)
	assert.Equal(t, int32(256), v)

	assert.NotNil(t, m.SetGain(3))
	assert.NotNil(t, m.SetGain(0))
	assert.Equal(t, 8, m.Settings().Gain)
	lc := sim.New(&adc.TeensyLC.Modules[0])
	assert.Nil(t, lc.SetGain(1))
	assert.NotNil(t, lc.SetGain(2))
}

func TestConversionTime(t *testing.T) {
	m := sim.New(adc0, sim.WithConversionTime(20*time.Millisecond))
	m.SetVoltage(ch5, 1650*physic.MilliVolt)
	require.Nil(t, m.Start(ch5, false))
	assert.True(t, m.Converting())
	assert.False(t, m.Complete())
	assert.Eventually(t, m.Complete, time.Second, time.Millisecond)
	assert.False(t, m.Converting())
	assert.Equal(t, int32(512), m.Result())
	assert.False(t, m.Complete())
}

func TestSpeedTiming(t *testing.T) {
	m := sim.New(adc0)
	require.Nil(t, m.SetResolution(adc.Bits16))
	require.Nil(t, m.SetClock(adc.VeryLowSpeed))
	require.Nil(t, m.SetSampleTime(adc.VeryLowSampling))
	d := adc.ConversionTime(adc.Bits16, adc.VeryLowSpeed, adc.VeryLowSampling)
	require.Greater(t, d, time.Duration(0))
	start := time.Now()
	require.Nil(t, m.Start(ch5, false))
	assert.Eventually(t, m.Complete, time.Second, 10*time.Microsecond)
	assert.GreaterOrEqual(t, time.Since(start), d)
}

func TestHold(t *testing.T) {
	m := sim.New(adc0, sim.WithInstant())
	m.Hold()
	require.Nil(t, m.Start(ch5, false))
	time.Sleep(time.Millisecond)
	assert.True(t, m.Converting())
	assert.False(t, m.Complete())
	assert.Equal(t, uint64(0), m.Conversions())
	m.Release()
	assert.False(t, m.Converting())
	assert.True(t, m.Complete())
	assert.Equal(t, uint64(1), m.Conversions())
}

func TestContinuous(t *testing.T) {
	m := sim.New(adc0, sim.WithInstant())
	require.Nil(t, m.SetPinCodes(14, 1, 2, 3))
	require.Nil(t, m.Start(ch5, true))
	ch, continuous := m.Channel()
	assert.Equal(t, ch5, ch)
	assert.True(t, continuous)
	for _, want := range []int32{1, 2, 3, 1} {
		assert.Eventually(t, m.Complete, time.Second, 10*time.Microsecond)
		assert.True(t, m.Converting())
		assert.Equal(t, want, m.Result())
	}
	m.Stop()
	assert.False(t, m.Converting())
	_, continuous = m.Channel()
	assert.False(t, continuous)
}

func TestNotify(t *testing.T) {
	m := sim.New(adc0, sim.WithConversionTime(time.Millisecond))
	fired := make(chan struct{}, 16)
	unnotify := m.Notify(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.Nil(t, m.Start(ch5, false))
	select {
	case <-fired:
		assert.True(t, m.Complete())
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}

	unnotify()
	require.Nil(t, m.Start(ch5, false))
	select {
	case <-fired:
		t.Fatal("notified after unregistering")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestClose(t *testing.T) {
	m := sim.New(adc0, sim.WithInstant())
	require.Nil(t, m.Close())
	assert.NotNil(t, m.Start(ch5, false))
	assert.False(t, m.Converting())
}
