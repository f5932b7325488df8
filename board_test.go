// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warthog618/adc"
)

func TestRoute(t *testing.T) {
	m0 := &adc.Teensy31.Modules[0]
	m1 := &adc.Teensy31.Modules[1]
	patterns := []struct {
		name string
		spec *adc.ModuleSpec
		pin  adc.Pin
		ch   adc.Channel
		ok   bool
	}{
		{"A0 on ADC0", m0, 14, adc.Channel{Number: 5}, true},
		{"A0 on ADC1", m1, 14, adc.Channel{}, false},
		{"A2 on ADC1", m1, 16, adc.Channel{Number: 8}, true},
		{"muxed", m1, 26, adc.Channel{Number: 5, MuxA: true}, true},
		{"diff pin single ended", m0, 34, adc.Channel{Number: 0}, true},
		{"unrouted", m0, 24, adc.Channel{}, false},
		{"beyond table", m0, 99, adc.Channel{}, false},
	}
	for _, p := range patterns {
		tf := func(t *testing.T) {
			ch, ok := p.spec.Route(p.pin)
			assert.Equal(t, p.ok, ok)
			if ok {
				assert.Equal(t, p.ch, ch)
			}
		}
		t.Run(p.name, tf)
	}
}

func TestRouteDifferential(t *testing.T) {
	m0 := &adc.Teensy31.Modules[0]
	ch, ok := m0.RouteDifferential(34, 35)
	assert.True(t, ok)
	assert.Equal(t, adc.Channel{Number: 0, Differential: true}, ch)
	ch, ok = adc.Teensy31.Modules[1].RouteDifferential(34, 35)
	assert.True(t, ok)
	assert.Equal(t, adc.Channel{Number: 3, Differential: true}, ch)
	_, ok = m0.RouteDifferential(35, 34)
	assert.False(t, ok)
	_, ok = m0.RouteDifferential(14, 35)
	assert.False(t, ok)
}

func TestRouteInternal(t *testing.T) {
	ch, ok := adc.Teensy31.Modules[0].RouteInternal(adc.VrefHigh)
	assert.True(t, ok)
	assert.Equal(t, adc.Channel{Number: 29}, ch)
	_, ok = adc.TeensyLC.Modules[0].RouteInternal(adc.VoltageReferenceOut)
	assert.False(t, ok)
}

func TestModuleCapabilities(t *testing.T) {
	lc := &adc.TeensyLC.Modules[0]
	assert.True(t, lc.HasReference(adc.Vdd3V3))
	assert.False(t, lc.HasReference(adc.Internal1V2))
	assert.True(t, lc.HasResolution(adc.Bits16))
	assert.False(t, lc.HasResolution(adc.Resolution(14)))
}

func TestBoard(t *testing.T) {
	b, ok := adc.BoardByName("Teensy31")
	assert.True(t, ok)
	assert.Equal(t, &adc.Teensy31, b)
	_, ok = adc.BoardByName("uno")
	assert.False(t, ok)

	m, ok := b.Module(adc.Module1)
	assert.True(t, ok)
	assert.Equal(t, adc.Module1, m.ID)
	_, ok = b.Module(adc.AnyModule)
	assert.False(t, ok)
	_, ok = adc.TeensyLC.Module(adc.Module1)
	assert.False(t, ok)

	p, ok := b.PinByName("a10")
	assert.True(t, ok)
	assert.Equal(t, adc.Pin(34), p)
	_, ok = b.PinByName("A99")
	assert.False(t, ok)

	nn := adc.TeensyLC.PinNames()
	assert.Equal(t, []string{"A0", "A1", "A2", "A3", "A4", "A5", "A6", "A7", "A8", "A9",
		"A10", "A11", "A12", "TEMP", "VREFH", "VREFL", "BANDGAP"}, nn)
}
