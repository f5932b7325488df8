// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

// Package sim provides a simulated ADC module.
//
// The simulation converts programmable input signals with timing derived
// from the configured speeds, and supports hardware comparison, differential
// gain, continuous conversion and completion notification. Conversions can be held in flight
// to exercise the timeout and busy paths of a controller.
package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/warthog618/adc"
	"periph.io/x/conn/v3/physic"
)

// Signal returns the voltage of an input for the nth conversion of that
// input.
type Signal func(n uint64) physic.ElectricPotential

// Level returns a Signal with a constant voltage.
func Level(v physic.ElectricPotential) Signal {
	return func(uint64) physic.ElectricPotential {
		return v
	}
}

type input struct {
	sig   Signal
	codes []int32
}

// Settings is the programmed configuration of the module.
type Settings struct {
	Clock      adc.ConversionSpeed
	Sampling   adc.SamplingSpeed
	Resolution adc.Resolution
	Reference  adc.Reference
	Compare    *adc.Window
	Gain       int
}

// Module is a simulated ADC module.
type Module struct {
	spec *adc.ModuleSpec

	mu       sync.Mutex
	id       adc.ModuleID
	instant  bool
	period   time.Duration
	level    physic.ElectricPotential
	extRef   physic.ElectricPotential
	settings Settings
	inputs   map[adc.Channel]input
	counts   map[adc.Channel]uint64

	// conversion in progress
	ch         adc.Channel
	continuous bool
	active     bool
	held       bool
	start      time.Time
	result     int32
	complete   bool
	readAt     time.Time
	total      uint64
	gen        uint64

	handlers map[int]func()
	nextH    int
	closed   bool
}

// Option modifies the creation of a Module.
type Option func(*Module)

// WithInstant completes each conversion as soon as it is started.
//
// In continuous mode the next conversion completes once the previous result
// has been read, and no sooner than 50µs after that read, so no results are
// lost.
func WithInstant() Option {
	return func(m *Module) {
		m.instant = true
	}
}

// WithConversionTime sets the duration of each conversion, in place of the
// duration derived from the speed settings.
func WithConversionTime(d time.Duration) Option {
	return func(m *Module) {
		m.period = d
	}
}

// WithLevel sets the voltage of inputs without a programmed signal.
// The default is 0V.
func WithLevel(v physic.ElectricPotential) Option {
	return func(m *Module) {
		m.level = v
	}
}

// WithExternalReference sets the voltage of the external reference.
// The default is 3.3V.
func WithExternalReference(v physic.ElectricPotential) Option {
	return func(m *Module) {
		m.extRef = v
	}
}

// Internal source levels.
const (
	TemperatureLevel = 719 * physic.MilliVolt
	BandgapLevel     = 1000 * physic.MilliVolt
	VrefOutLevel     = 1200 * physic.MilliVolt
)

// minNotifyPeriod limits the notification rate of instant continuous
// conversions.
const minNotifyPeriod = 50 * time.Microsecond

// maxCatchUp limits the conversions simulated in a single update.
const maxCatchUp = 64

// New creates a simulated module with the routing and capabilities of spec.
func New(spec *adc.ModuleSpec, opts ...Option) *Module {
	m := &Module{
		spec:   spec,
		id:     spec.ID,
		extRef: 3300 * physic.MilliVolt,
		settings: Settings{
			Clock:      adc.MediumSpeed,
			Sampling:   adc.MediumSampling,
			Resolution: adc.Bits10,
			Reference:  adc.Vdd3V3,
			Gain:       1,
		},
		inputs:   make(map[adc.Channel]input),
		counts:   make(map[adc.Channel]uint64),
		handlers: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(m)
	}
	levels := map[adc.InternalSource]Signal{
		adc.TemperatureSensor:   Level(TemperatureLevel),
		adc.Bandgap:             Level(BandgapLevel),
		adc.VoltageReferenceOut: Level(VrefOutLevel),
		adc.VrefLow:             Level(0),
		// called with mu held
		adc.VrefHigh: func(uint64) physic.ElectricPotential { return m.refVolts() },
	}
	for src, sig := range levels {
		if ch, ok := spec.RouteInternal(src); ok {
			m.inputs[ch] = input{sig: sig}
		}
	}
	return m
}

// ID returns the module the simulation is addressed as.
func (m *Module) ID() adc.ModuleID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// SetID changes the module the simulation is addressed as, to simulate
// misaddressed hardware.
func (m *Module) SetID(id adc.ModuleID) {
	m.mu.Lock()
	m.id = id
	m.mu.Unlock()
}

// SetClock sets the conversion speed.
func (m *Module) SetClock(s adc.ConversionSpeed) error {
	if s.Hz() == 0 {
		return fmt.Errorf("unknown conversion speed %d", s)
	}
	m.mu.Lock()
	m.settings.Clock = s
	m.mu.Unlock()
	return nil
}

// SetSampleTime sets the sampling speed.
func (m *Module) SetSampleTime(s adc.SamplingSpeed) error {
	if s.Cycles() == 0 {
		return fmt.Errorf("unknown sampling speed %d", s)
	}
	m.mu.Lock()
	m.settings.Sampling = s
	m.mu.Unlock()
	return nil
}

// SetResolution sets the conversion mode.
func (m *Module) SetResolution(r adc.Resolution) error {
	if !m.spec.HasResolution(r) {
		return fmt.Errorf("unsupported resolution %d", r)
	}
	m.mu.Lock()
	m.settings.Resolution = r
	m.mu.Unlock()
	return nil
}

// SetReference sets the voltage reference.
func (m *Module) SetReference(r adc.Reference) error {
	if !m.spec.HasReference(r) {
		return fmt.Errorf("reference %s not available", r)
	}
	m.mu.Lock()
	m.settings.Reference = r
	m.mu.Unlock()
	return nil
}

// SetCompare sets or clears the comparison window.
func (m *Module) SetCompare(c *adc.Window) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c == nil {
		m.settings.Compare = nil
		return nil
	}
	cc := *c
	m.settings.Compare = &cc
	return nil
}

// SetGain sets the gain applied to differential inputs.
func (m *Module) SetGain(g int) error {
	switch g {
	case 1:
	case 2, 4, 8, 16, 32, 64:
		if !m.spec.PGA {
			return fmt.Errorf("no programmable gain amplifier on %s", m.spec.ID)
		}
	default:
		return fmt.Errorf("unsupported gain %d", g)
	}
	m.mu.Lock()
	m.settings.Gain = g
	m.mu.Unlock()
	return nil
}

// Settings returns the programmed configuration.
func (m *Module) Settings() Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.settings
	if s.Compare != nil {
		c := *s.Compare
		s.Compare = &c
	}
	return s
}

// Start starts a conversion on the channel.
func (m *Module) Start(ch adc.Channel, continuous bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("%s closed", m.id)
	}
	m.ch = ch
	m.continuous = continuous
	m.active = true
	m.complete = false
	m.start = time.Now()
	m.readAt = time.Time{}
	m.gen++
	m.schedule()
	return nil
}

// Converting returns true while a conversion is in progress.
func (m *Module) Converting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update(time.Now())
	return m.active
}

// Complete returns true if a result is ready.
func (m *Module) Complete() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update(time.Now())
	return m.complete
}

// Result returns the latest result and clears Complete.
func (m *Module) Result() int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	m.update(now)
	if m.complete && m.continuous {
		m.readAt = now
	}
	m.complete = false
	return m.result
}

// Stop halts any conversion.
func (m *Module) Stop() {
	m.mu.Lock()
	m.active = false
	m.continuous = false
	m.complete = false
	m.gen++
	m.mu.Unlock()
}

// Close stops the module and drops any notification handlers.
func (m *Module) Close() error {
	m.mu.Lock()
	m.active = false
	m.closed = true
	m.handlers = make(map[int]func())
	m.gen++
	m.mu.Unlock()
	return nil
}

// Notify registers fn to be called when a conversion completes.
func (m *Module) Notify(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.nextH
	m.nextH++
	m.handlers[h] = fn
	return func() {
		m.mu.Lock()
		delete(m.handlers, h)
		m.mu.Unlock()
	}
}

// Hold prevents conversions from completing until Release is called.
func (m *Module) Hold() {
	m.mu.Lock()
	m.update(time.Now())
	m.held = true
	m.mu.Unlock()
}

// Release allows held conversions to complete, the conversion in progress
// completing one conversion time after the release.
func (m *Module) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.held = false
	m.start = time.Now()
	m.gen++
	m.schedule()
}

// Conversions returns the number of conversions performed.
func (m *Module) Conversions() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.update(time.Now())
	return m.total
}

// Channel returns the channel of the latest conversion, and whether it was
// started in continuous mode.
func (m *Module) Channel() (adc.Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ch, m.continuous
}

// SetSignal sets the signal on the channel.
func (m *Module) SetSignal(ch adc.Channel, sig Signal) {
	m.mu.Lock()
	m.inputs[ch] = input{sig: sig}
	m.counts[ch] = 0
	m.mu.Unlock()
}

// SetVoltage sets a constant voltage on the channel.
// Differential channels accept negative voltages.
func (m *Module) SetVoltage(ch adc.Channel, v physic.ElectricPotential) {
	m.SetSignal(ch, Level(v))
}

// SetCodes sets the raw results of successive conversions on the channel,
// repeating once exhausted.
func (m *Module) SetCodes(ch adc.Channel, codes ...int32) {
	m.mu.Lock()
	m.inputs[ch] = input{codes: append([]int32(nil), codes...)}
	m.counts[ch] = 0
	m.mu.Unlock()
}

// SetPin sets a constant voltage on the pin.
func (m *Module) SetPin(p adc.Pin, v physic.ElectricPotential) error {
	ch, ok := m.spec.Route(p)
	if !ok {
		return fmt.Errorf("pin %d has no channel on %s", p, m.spec.ID)
	}
	m.SetVoltage(ch, v)
	return nil
}

// SetPinCodes sets the raw results of successive conversions of the pin.
func (m *Module) SetPinCodes(p adc.Pin, codes ...int32) error {
	ch, ok := m.spec.Route(p)
	if !ok {
		return fmt.Errorf("pin %d has no channel on %s", p, m.spec.ID)
	}
	m.SetCodes(ch, codes...)
	return nil
}

// SetPair sets a constant voltage across the differential pair.
func (m *Module) SetPair(pos, neg adc.Pin, v physic.ElectricPotential) error {
	ch, ok := m.spec.RouteDifferential(pos, neg)
	if !ok {
		return fmt.Errorf("pins %d and %d are not a differential pair on %s", pos, neg, m.spec.ID)
	}
	m.SetVoltage(ch, v)
	return nil
}

// SetSource sets a constant voltage on the internal source, e.g. to
// simulate a calibration failure by grounding VrefHigh.
func (m *Module) SetSource(src adc.InternalSource, v physic.ElectricPotential) error {
	ch, ok := m.spec.RouteInternal(src)
	if !ok {
		return fmt.Errorf("%s not routed to %s", src, m.spec.ID)
	}
	m.SetVoltage(ch, v)
	return nil
}

func (m *Module) refVolts() physic.ElectricPotential {
	switch m.settings.Reference {
	case adc.Internal1V2:
		return 1200 * physic.MilliVolt
	case adc.External:
		return m.extRef
	default:
		return 3300 * physic.MilliVolt
	}
}

func (m *Module) duration() time.Duration {
	if m.instant {
		return 0
	}
	if m.period > 0 {
		return m.period
	}
	return adc.ConversionTime(m.settings.Resolution, m.settings.Clock, m.settings.Sampling)
}

// update performs the conversions due by now.
func (m *Module) update(now time.Time) {
	if !m.active || m.held {
		return
	}
	d := m.duration()
	for i := 0; m.active; i++ {
		if d > 0 && now.Before(m.start.Add(d)) {
			return
		}
		if d == 0 && m.continuous {
			// instant conversion waits for the result to be read
			if m.complete || now.Before(m.readAt.Add(minNotifyPeriod)) {
				return
			}
		}
		if i >= maxCatchUp {
			m.start = now
			return
		}
		accepted := m.convert()
		if !m.continuous {
			m.active = false
			return
		}
		m.start = m.start.Add(d)
		if d == 0 && accepted {
			return
		}
	}
}

// convert performs one conversion, returning true if the result passed the
// comparison.
func (m *Module) convert() bool {
	n := m.counts[m.ch]
	m.counts[m.ch]++
	m.total++
	v := m.code(m.ch, n)
	if c := m.settings.Compare; c != nil && !c.Accepts(int(v)) {
		return false
	}
	m.result = v
	m.complete = true
	return true
}

func (m *Module) code(ch adc.Channel, n uint64) int32 {
	in := m.inputs[ch]
	if len(in.codes) > 0 {
		return in.codes[n%uint64(len(in.codes))]
	}
	v := m.level
	if in.sig != nil {
		v = in.sig(n)
	}
	if ch.Differential {
		v *= physic.ElectricPotential(m.settings.Gain)
	}
	fs := int64(m.settings.Resolution.Max()) + 1
	c := int64(math.Round(float64(v) * float64(fs) / float64(m.refVolts())))
	lo := int64(0)
	if ch.Differential {
		lo = -fs
	}
	if c < lo {
		c = lo
	}
	if c > fs-1 {
		c = fs - 1
	}
	return int32(c)
}

// schedule arranges completion notification for the conversion in progress.
// Called with mu held.
func (m *Module) schedule() {
	if len(m.handlers) == 0 || !m.active || m.held {
		return
	}
	gen := m.gen
	time.AfterFunc(m.duration(), func() { m.fire(gen) })
}

func (m *Module) fire(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		return
	}
	m.update(time.Now())
	hh := make([]func(), 0, len(m.handlers))
	for _, h := range m.handlers {
		hh = append(hh, h)
	}
	if m.active && m.continuous && !m.held {
		d := m.duration()
		if d < minNotifyPeriod {
			d = minNotifyPeriod
		}
		time.AfterFunc(d, func() { m.fire(gen) })
	}
	m.mu.Unlock()
	for _, h := range hh {
		h()
	}
}
