// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

import (
	"sort"
	"strings"
)

// Pin is a logical pin number on the board.
type Pin uint8

// Channel identifies the hardware input channel of a module.
type Channel struct {
	Number uint8
	// MuxA selects the A side of a multiplexed channel.
	MuxA bool
	// Differential selects the differential input of the channel.
	Differential bool
}

// DiffPair is a pair of pins wired for differential sensing.
type DiffPair struct {
	Pos     Pin
	Neg     Pin
	Channel uint8
}

// ModuleSpec describes the routing and capabilities of a module.
type ModuleSpec struct {
	ID          ModuleID
	Pins        map[Pin]Channel
	Sources     map[InternalSource]Channel
	Pairs       []DiffPair
	References  []Reference
	Resolutions []Resolution
	// PGA is true if the differential inputs have a programmable gain
	// amplifier.
	PGA bool
}

// Route returns the channel for a single-ended read of the pin.
func (m *ModuleSpec) Route(p Pin) (Channel, bool) {
	ch, ok := m.Pins[p]
	ch.Differential = false
	return ch, ok
}

// RouteDifferential returns the channel for a differential read of the pins.
func (m *ModuleSpec) RouteDifferential(pos, neg Pin) (Channel, bool) {
	for _, dp := range m.Pairs {
		if dp.Pos == pos && dp.Neg == neg {
			return Channel{Number: dp.Channel, Differential: true}, true
		}
	}
	return Channel{}, false
}

// RouteInternal returns the channel for an internal source.
func (m *ModuleSpec) RouteInternal(s InternalSource) (Channel, bool) {
	ch, ok := m.Sources[s]
	return ch, ok
}

// HasReference returns true if the reference is available to the module.
func (m *ModuleSpec) HasReference(r Reference) bool {
	for _, ref := range m.References {
		if ref == r {
			return true
		}
	}
	return false
}

// HasResolution returns true if the module supports the resolution.
func (m *ModuleSpec) HasResolution(r Resolution) bool {
	for _, res := range m.Resolutions {
		if res == r {
			return true
		}
	}
	return false
}

// Board describes the ADC modules of a microcontroller board.
type Board struct {
	Name    string
	Modules []ModuleSpec
	// Names maps pin names, in upper case, to pins.
	Names map[string]Pin
}

// Module returns the spec for the identified module.
func (b *Board) Module(id ModuleID) (*ModuleSpec, bool) {
	if id < 0 || int(id) >= len(b.Modules) {
		return nil, false
	}
	return &b.Modules[id], true
}

// PinByName returns the pin with the given name, e.g. "A10".
func (b *Board) PinByName(name string) (Pin, bool) {
	p, ok := b.Names[strings.ToUpper(name)]
	return p, ok
}

// PinNames returns the sorted names of the board's analog pins.
func (b *Board) PinNames() []string {
	nn := make([]string, 0, len(b.Names))
	for n := range b.Names {
		nn = append(nn, n)
	}
	sort.Slice(nn, func(i, j int) bool {
		if len(nn[i]) != len(nn[j]) {
			return len(nn[i]) < len(nn[j])
		}
		return nn[i] < nn[j]
	})
	return nn
}

// Routing table encoding, one entry per pin.
const (
	chanMask    = 0x1f
	chanInvalid = 0x1f
	chanDiff    = 0x40
	chanMuxA    = 0x80
)

func pinMap(tbl []uint8) map[Pin]Channel {
	pm := make(map[Pin]Channel)
	for p, v := range tbl {
		if v&chanMask == chanInvalid {
			continue
		}
		pm[Pin(p)] = Channel{Number: v & chanMask, MuxA: v&chanMuxA != 0}
	}
	return pm
}

var allResolutions = []Resolution{Bits8, Bits10, Bits12, Bits16}

// Teensy31 is a dual module board with a programmable gain amplifier on
// the differential inputs of each module.
//
// Pins 0-13 and 14-23 are A0-A13 and A0-A9, 34-37 are A10-A13 with A10/A11
// and A12/A13 wired as differential pairs, and 38-43 are the temperature
// sensor, VREF out, A14, bandgap, VREFH and VREFL.
var Teensy31 = Board{
	Name: "teensy31",
	Modules: []ModuleSpec{
		{
			ID: Module0,
			Pins: pinMap([]uint8{
				5, 14, 8, 9, 13, 12, 6, 7, 15, 4, 0, 19, 3, 31,
				5, 14, 8, 9, 13, 12, 6, 7, 15, 4,
				31, 31, 31, 31, 31, 31, 31, 31, 31, 31,
				0 + chanDiff, 19 + chanDiff, 3 + chanDiff, 31 + chanDiff,
				26, 22, 23, 27, 29, 30,
			}),
			Sources: map[InternalSource]Channel{
				TemperatureSensor:   {Number: 26},
				VoltageReferenceOut: {Number: 22},
				Bandgap:             {Number: 27},
				VrefHigh:            {Number: 29},
				VrefLow:             {Number: 30},
			},
			Pairs:       []DiffPair{{34, 35, 0}, {36, 37, 3}},
			References:  []Reference{Vdd3V3, Internal1V2, External},
			Resolutions: allResolutions,
			PGA:         true,
		},
		{
			ID: Module1,
			Pins: pinMap([]uint8{
				31, 31, 8, 9, 31, 31, 31, 31, 31, 31, 3, 31, 0, 19,
				31, 31, 8, 9, 31, 31, 31, 31, 31, 31,
				31, 31,
				5 + chanMuxA, 5, 4, 6, 7, 4 + chanMuxA, 31, 31,
				3 + chanDiff, 31 + chanDiff, 0 + chanDiff, 19 + chanDiff,
				26, 18, 31, 27, 29, 30,
			}),
			Sources: map[InternalSource]Channel{
				TemperatureSensor:   {Number: 26},
				VoltageReferenceOut: {Number: 18},
				Bandgap:             {Number: 27},
				VrefHigh:            {Number: 29},
				VrefLow:             {Number: 30},
			},
			Pairs:       []DiffPair{{34, 35, 3}, {36, 37, 0}},
			References:  []Reference{Vdd3V3, Internal1V2, External},
			Resolutions: allResolutions,
			PGA:         true,
		},
	},
	Names: map[string]Pin{
		"A0": 14, "A1": 15, "A2": 16, "A3": 17, "A4": 18,
		"A5": 19, "A6": 20, "A7": 21, "A8": 22, "A9": 23,
		"A10": 34, "A11": 35, "A12": 36, "A13": 37, "A14": 40,
		"TEMP": 38, "VREFOUT": 39, "BANDGAP": 41, "VREFH": 42, "VREFL": 43,
	},
}

// TeensyLC is a single module board without the 1.2V reference.
//
// Pins 24-26 are A10-A12 with A10/A11 wired as a differential pair.
var TeensyLC = Board{
	Name: "teensylc",
	Modules: []ModuleSpec{
		{
			ID: Module0,
			Pins: pinMap([]uint8{
				5, 14, 8, 9, 13, 12, 6, 7, 15, 11, 0, 4 + chanMuxA, 23, 31,
				5, 14, 8, 9, 13, 12, 6, 7, 15, 11,
				0 + chanDiff, 4 + chanMuxA + chanDiff, 23, 31, 31, 31, 31, 31, 31, 31,
				31, 31, 31, 31,
				26, 31, 31, 27, 29, 30,
			}),
			Sources: map[InternalSource]Channel{
				TemperatureSensor: {Number: 26},
				Bandgap:           {Number: 27},
				VrefHigh:          {Number: 29},
				VrefLow:           {Number: 30},
			},
			Pairs:       []DiffPair{{24, 25, 0}},
			References:  []Reference{Vdd3V3, External},
			Resolutions: allResolutions,
		},
	},
	Names: map[string]Pin{
		"A0": 14, "A1": 15, "A2": 16, "A3": 17, "A4": 18,
		"A5": 19, "A6": 20, "A7": 21, "A8": 22, "A9": 23,
		"A10": 24, "A11": 25, "A12": 26,
		"TEMP": 38, "BANDGAP": 41, "VREFH": 42, "VREFL": 43,
	},
}

// Boards lists the known boards.
var Boards = []*Board{&Teensy31, &TeensyLC}

// BoardByName returns the known board with the given name.
func BoardByName(name string) (*Board, bool) {
	for _, b := range Boards {
		if strings.EqualFold(b.Name, name) {
			return b, true
		}
	}
	return nil, false
}
