// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
)

// State is the conversion mode of a module.
type State int

// States.
const (
	Idle State = iota
	ConfiguringCalibrating
	SingleConversionInFlight
	ContinuousConversionRunning
	ComparisonArmed
	Faulted
)

var stateNames = []string{
	"idle",
	"configuring",
	"single conversion",
	"continuous conversion",
	"comparison armed",
	"faulted",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Controller drives a single ADC module.
//
// Operations that access the hardware are serialised, and block until any
// prior operation completes or their context expires. Queries of the state,
// config and error flags may be made concurrently with them.
type Controller struct {
	id         ModuleID
	spec       *ModuleSpec
	hw         Hardware
	log        *zap.Logger
	w          waiter
	timeout    time.Duration
	calTimeout time.Duration
	extRef     physic.ElectricPotential
	initial    ValidatedConfig
	unnotify   func()

	// sem is held while an operation accesses the hardware.
	sem chan struct{}

	// load is the number of measurements requested or running.
	load int32

	mu       sync.RWMutex
	state    State
	cfg      ValidatedConfig
	lastGood ValidatedConfig
	cal      CalibrationResult
	flags    ErrorFlags
	stream   *Stream
	stale    bool
	closed   bool
}

// NewController creates a controller for the module described by spec,
// applies the initial configuration and calibrates the module.
//
// The controller takes ownership of hw, and closes it on Close if it
// implements io.Closer.
//
// A calibration failure does not fail the construction. It leaves the
// controller Faulted with the Calibration flag raised, to be inspected and
// Reset.
func NewController(spec *ModuleSpec, hw Hardware, opts ...Option) (*Controller, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if id := hw.ID(); id != spec.ID {
		return nil, &Error{
			Module: spec.ID,
			Op:     "new",
			Flags:  WrongModule,
			Err:    fmt.Errorf("%w: hardware is %s", ErrWrongModule, id),
		}
	}
	cfg := DefaultConfig()
	if o.cfg != nil {
		cfg = *o.cfg
	}
	v, err := Validate(spec, cfg)
	if err != nil {
		return nil, err
	}
	irq := make(chan struct{}, 1)
	c := &Controller{
		id:         spec.ID,
		spec:       spec,
		hw:         hw,
		log:        o.log.With(zap.Stringer("module", spec.ID)),
		w:          waiter{poll: o.poll, irq: irq},
		timeout:    o.timeout,
		calTimeout: o.calTimeout,
		extRef:     o.extRef,
		initial:    v,
		sem:        make(chan struct{}, 1),
		state:      Idle,
	}
	if n, ok := hw.(Notifier); ok {
		c.unnotify = n.Notify(func() {
			select {
			case irq <- struct{}{}:
			default:
			}
		})
	}
	c.sem <- struct{}{}
	c.configure("new", v, true)
	<-c.sem
	return c, nil
}

// ID returns the module the controller drives.
func (c *Controller) ID() ModuleID {
	return c.id
}

// Spec returns the routing and capabilities of the module.
func (c *Controller) Spec() *ModuleSpec {
	return c.spec
}

// State returns the current conversion mode.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Config returns the committed configuration.
func (c *Controller) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.Config()
}

// Calibration returns the latest successful calibration, and whether it is
// valid for the committed configuration.
func (c *Controller) Calibration() (CalibrationResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cal, c.cal.Covers(c.cfg.cfg)
}

// Errors returns the flags raised since they were last reset.
func (c *Controller) Errors() ErrorFlags {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.flags
}

// ResetErrors clears the error flags, returning the flags that were set.
func (c *Controller) ResetErrors() ErrorFlags {
	c.mu.Lock()
	f := c.flags
	c.flags = Clear
	c.mu.Unlock()
	if f.Any() {
		c.log.Debug("errors cleared", zap.Stringer("flags", f))
	}
	return f
}

// ErrorReport describes the raised error flags, or returns an empty string
// if none are raised.
func (c *Controller) ErrorReport() string {
	return c.Errors().Report(c.id)
}

// Load returns the number of measurements requested or running on the
// module.
func (c *Controller) Load() int {
	return int(atomic.LoadInt32(&c.load))
}

// Validate checks cfg against the module.
func (c *Controller) Validate(cfg Config) (ValidatedConfig, error) {
	return Validate(c.spec, cfg)
}

// ApplyConfig commits a validated configuration to the module,
// recalibrating if the speeds or reference changed.
//
// The module must be Idle.
func (c *Controller) ApplyConfig(ctx context.Context, v ValidatedConfig) error {
	const op = "apply config"
	if !v.valid {
		return c.fail(op, Other, ErrNotValidated)
	}
	if v.module != c.id {
		return c.fail(op, WrongModule, fmt.Errorf("%w: config is for %s", ErrWrongModule, v.module))
	}
	if err := c.acquire(ctx); err != nil {
		return c.fail(op, Clear, err)
	}
	defer c.release()
	if err := c.ready(op, Other); err != nil {
		return err
	}
	if err := c.drain(ctx, op, Other); err != nil {
		return err
	}
	return c.configure(op, v, false)
}

// Configure validates cfg and applies it to the module.
func (c *Controller) Configure(ctx context.Context, cfg Config) error {
	v, err := Validate(c.spec, cfg)
	if err != nil {
		return err
	}
	return c.ApplyConfig(ctx, v)
}

// Calibrate recalibrates the module at the committed configuration.
func (c *Controller) Calibrate(ctx context.Context) error {
	const op = "calibrate"
	if err := c.acquire(ctx); err != nil {
		return c.fail(op, Clear, err)
	}
	defer c.release()
	if err := c.ready(op, Other); err != nil {
		return err
	}
	if err := c.drain(ctx, op, Calibration); err != nil {
		return err
	}
	c.mu.RLock()
	v := c.cfg
	c.mu.RUnlock()
	return c.configure(op, v, true)
}

// Reset stops any conversion and reapplies the last configuration that was
// successfully applied, forcing a calibration.
//
// It is the only way out of Faulted.
func (c *Controller) Reset(ctx context.Context) error {
	const op = "reset"
	if err := c.acquire(ctx); err != nil {
		return c.fail(op, Clear, err)
	}
	defer c.release()
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return c.fail(op, Clear, ErrClosed)
	}
	c.stopStream()
	c.hw.Stop()
	c.mu.Lock()
	c.stale = false
	v := c.lastGood
	if !v.valid {
		v = c.initial
	}
	c.mu.Unlock()
	c.log.Info("reset")
	if id := c.hw.ID(); id != c.id {
		return c.fault(op, WrongModule, fmt.Errorf("%w: hardware is %s", ErrWrongModule, id))
	}
	return c.configure(op, v, true)
}

// Close stops any conversion and releases the hardware.
func (c *Controller) Close() error {
	c.sem <- struct{}{}
	defer c.release()
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return nil
	}
	c.stopStream()
	c.hw.Stop()
	if c.unnotify != nil {
		c.unnotify()
	}
	c.mu.Lock()
	c.closed = true
	c.setStateLocked(Idle)
	c.mu.Unlock()
	c.log.Debug("closed")
	if cl, ok := c.hw.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// Read performs a single-ended conversion of the pin.
//
// The result is averaged and corrected per the committed configuration and
// lies within [0, Resolution.Max()].
func (c *Controller) Read(ctx context.Context, pin Pin) (int, error) {
	const op = "read"
	ch, ok := c.spec.Route(pin)
	if !ok {
		return 0, c.fail(op, WrongPin, wrongPin(pin, c.id))
	}
	v, _, err := c.read(ctx, op, ch, AnalogRead)
	return v, err
}

// ReadDifferential performs a differential conversion of the pin pair.
//
// The result is signed and lies within [-(Resolution.Max()+1),
// Resolution.Max()].
func (c *Controller) ReadDifferential(ctx context.Context, pos, neg Pin) (int, error) {
	v, _, err := c.readDifferential(ctx, pos, neg)
	return v, err
}

func (c *Controller) readDifferential(ctx context.Context, pos, neg Pin) (int, Config, error) {
	const op = "read differential"
	ch, ok := c.spec.RouteDifferential(pos, neg)
	if !ok {
		return 0, Config{}, c.fail(op, WrongPin,
			fmt.Errorf("%w: pins %d and %d are not a differential pair on %s", ErrWrongPin, pos, neg, c.id))
	}
	return c.read(ctx, op, ch, AnalogDifferentialRead)
}

// ReadInternal performs a single-ended conversion of an internal source.
func (c *Controller) ReadInternal(ctx context.Context, src InternalSource) (int, error) {
	v, _, err := c.readInternal(ctx, src)
	return v, err
}

func (c *Controller) readInternal(ctx context.Context, src InternalSource) (int, Config, error) {
	const op = "read internal"
	ch, ok := c.spec.RouteInternal(src)
	if !ok {
		return 0, Config{}, c.fail(op, WrongPin, fmt.Errorf("%w: %s not routed to %s", ErrWrongPin, src, c.id))
	}
	return c.read(ctx, op, ch, AnalogRead)
}

// read performs a single conversion, returning the result and the config it
// was converted under.
func (c *Controller) read(ctx context.Context, op string, ch Channel, f ErrorFlags) (int, Config, error) {
	atomic.AddInt32(&c.load, 1)
	defer atomic.AddInt32(&c.load, -1)
	if err := c.acquire(ctx); err != nil {
		return 0, Config{}, c.fail(op, Clear, err)
	}
	defer c.release()
	if err := c.ready(op, Continuous); err != nil {
		return 0, Config{}, err
	}
	if err := c.drain(ctx, op, f); err != nil {
		return 0, Config{}, err
	}
	c.setState(SingleConversionInFlight)
	defer c.leave(SingleConversionInFlight)
	c.mu.RLock()
	v, cal := c.cfg, c.cal
	c.mu.RUnlock()
	acc := accumulator{n: v.averaging()}
	gated := hardwareWindow(v.cfg.Compare, v.averaging()) != nil
	for {
		if err := c.hw.Start(ch, false); err != nil {
			return 0, Config{}, c.hwFault(op, err)
		}
		raw, err := c.await(ctx, gated)
		if err != nil {
			return 0, Config{}, c.convErr(op, f, err)
		}
		if m, ok := acc.add(raw); ok {
			if err := checkMean(v.cfg.Compare, m); err != nil {
				return 0, Config{}, c.convErr(op, f, err)
			}
			return correct(cal, ch, m, v.cfg.Resolution), v.cfg, nil
		}
	}
}

// checkMean applies the window to an averaged raw result.
func checkMean(w *Window, m int) error {
	if w != nil && !w.Accepts(m) {
		return fmt.Errorf("%w: mean %d, window %s", ErrComparison, m, w)
	}
	return nil
}

func correct(cal CalibrationResult, ch Channel, v int, r Resolution) int {
	if ch.Differential {
		return cal.CorrectDifferential(v, r)
	}
	return cal.Correct(v, r)
}

// await waits for the started conversion to complete and returns the raw
// result.
//
// If the wait expires the hardware is left converting and the module is
// marked stale, so the result is drained before the next conversion.
func (c *Controller) await(ctx context.Context, gated bool) (int32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.w.until(ctx, func() bool { return !c.hw.Converting() }); err != nil {
		c.markStale()
		return 0, waitErr(err)
	}
	if !c.hw.Complete() {
		if gated {
			return 0, ErrComparison
		}
		return 0, errors.New("conversion ended without a result")
	}
	return c.hw.Result(), nil
}

func (c *Controller) convErr(op string, f ErrorFlags, err error) error {
	if errors.Is(err, ErrComparison) {
		return c.fail(op, Comparison, err)
	}
	return c.fail(op, f, err)
}

func (c *Controller) markStale() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

// drain discards the result of a conversion abandoned by an expired wait.
// Called with sem held.
func (c *Controller) drain(ctx context.Context, op string, f ErrorFlags) error {
	c.mu.RLock()
	stale := c.stale
	c.mu.RUnlock()
	if !stale {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.w.until(ctx, func() bool { return !c.hw.Converting() }); err != nil {
		return c.fail(op, f, waitErr(err))
	}
	if c.hw.Complete() {
		c.hw.Result()
	}
	c.mu.Lock()
	c.stale = false
	c.mu.Unlock()
	c.log.Debug("discarded stale result")
	return nil
}

// configure programs the hardware with v and calibrates if required.
// Called with sem held.
func (c *Controller) configure(op string, v ValidatedConfig, force bool) error {
	c.mu.Lock()
	recal := force || !c.cal.Covers(v.cfg)
	c.setStateLocked(ConfiguringCalibrating)
	c.mu.Unlock()
	if err := c.program(v.cfg); err != nil {
		return c.hwFault(op, err)
	}
	c.mu.Lock()
	c.cfg = v
	c.mu.Unlock()
	if recal {
		cal, err := calibrate(c.w, c.hw, c.spec, v.cfg, c.calTimeout)
		if err != nil {
			return c.fault(op, Calibration, err)
		}
		c.mu.Lock()
		c.cal = cal
		c.mu.Unlock()
		c.log.Info("calibrated",
			zap.Stringer("conversion", cal.Conversion),
			zap.Stringer("sampling", cal.Sampling),
			zap.Stringer("reference", cal.Reference),
			zap.Float64("offset", cal.Offset),
			zap.Float64("gain", cal.Gain))
	}
	c.mu.Lock()
	c.lastGood = v
	c.setStateLocked(Idle)
	c.mu.Unlock()
	return nil
}

func (c *Controller) program(cfg Config) error {
	if err := c.hw.SetReference(cfg.Reference); err != nil {
		return err
	}
	if err := c.hw.SetResolution(cfg.Resolution); err != nil {
		return err
	}
	if err := c.hw.SetClock(cfg.Conversion); err != nil {
		return err
	}
	if err := c.hw.SetSampleTime(cfg.Sampling); err != nil {
		return err
	}
	if a, ok := c.hw.(Amplifier); ok {
		if err := a.SetGain(cfg.gain()); err != nil {
			return err
		}
	} else if cfg.gain() > 1 {
		return fmt.Errorf("%s hardware has no programmable gain amplifier", c.id)
	}
	return c.hw.SetCompare(hardwareWindow(cfg.Compare, cfg.averaging()))
}

func (c *Controller) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return waitErr(ctx.Err())
	}
}

func (c *Controller) tryAcquire() bool {
	select {
	case c.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Controller) release() {
	<-c.sem
}

// ready checks the module can accept an operation, raising busy if a
// continuous conversion or comparison is running.
// Called with sem held.
func (c *Controller) ready(op string, busy ErrorFlags) error {
	c.mu.RLock()
	closed, st := c.closed, c.state
	c.mu.RUnlock()
	switch {
	case closed:
		return c.fail(op, Clear, ErrClosed)
	case st == Faulted:
		return c.fail(op, Clear, ErrFaulted)
	case st == ContinuousConversionRunning || st == ComparisonArmed:
		return c.fail(op, busy, fmt.Errorf("%w: %s", ErrBusy, st))
	}
	if id := c.hw.ID(); id != c.id {
		return c.fault(op, WrongModule, fmt.Errorf("%w: hardware is %s", ErrWrongModule, id))
	}
	return nil
}

// setStateLocked changes state, with mu held.
func (c *Controller) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.log.Debug("state change", zap.Stringer("from", c.state), zap.Stringer("to", s))
	c.state = s
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
}

// leave returns to Idle from s, unless the module has since left s.
func (c *Controller) leave(s State) {
	c.mu.Lock()
	if c.state == s {
		c.setStateLocked(Idle)
	}
	c.mu.Unlock()
}

// fail records the flags and returns the error for the operation.
func (c *Controller) fail(op string, f ErrorFlags, err error) error {
	if f.Any() {
		c.mu.Lock()
		c.flags.Add(f)
		c.mu.Unlock()
		c.log.Debug("error raised", zap.String("op", op), zap.Stringer("flags", f), zap.Error(err))
	}
	return &Error{Module: c.id, Op: op, Flags: f, Err: err}
}

// fault records the flags and leaves the module Faulted.
func (c *Controller) fault(op string, f ErrorFlags, err error) error {
	c.mu.Lock()
	c.flags.Add(f)
	c.setStateLocked(Faulted)
	c.mu.Unlock()
	c.log.Warn("module faulted", zap.String("op", op), zap.Stringer("flags", f), zap.Error(err))
	return &Error{Module: c.id, Op: op, Flags: f, Err: err}
}

func (c *Controller) hwFault(op string, err error) error {
	f := Other
	if errors.Is(err, ErrWrongModule) {
		f = WrongModule
	}
	return c.fault(op, f, err)
}
