// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Pair coordinates the two modules of a dual module board for synchronized
// conversions.
//
// Both conversions are started before either result is awaited, which is
// the extent of the synchronization.
type Pair struct {
	m   [2]*Controller
	log *zap.Logger

	mu    sync.Mutex
	flags ErrorFlags
}

// PairResult holds the results of a synchronized conversion.
type PairResult struct {
	ADC0 int
	ADC1 int
}

// NewPair creates a coordinator for the two modules.
func NewPair(m0, m1 *Controller, opts ...Option) (*Pair, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if m0.ID() != Module0 || m1.ID() != Module1 {
		return nil, &Error{
			Module: AnyModule,
			Op:     "new pair",
			Flags:  WrongModule,
			Err:    fmt.Errorf("%w: pair is %s and %s", ErrWrongModule, m0.ID(), m1.ID()),
		}
	}
	return &Pair{m: [2]*Controller{m0, m1}, log: o.log.With(zap.String("module", "pair"))}, nil
}

// Module returns the controller for the member module.
func (p *Pair) Module(id ModuleID) *Controller {
	if id == Module1 {
		return p.m[1]
	}
	return p.m[0]
}

// Errors returns the flags raised by the coordinator since they were last
// reset.
func (p *Pair) Errors() ErrorFlags {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flags
}

// ResetErrors clears the coordinator's error flags, returning the flags that
// were set.
func (p *Pair) ResetErrors() ErrorFlags {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.flags
	p.flags = Clear
	return f
}

// ErrorReport describes the flags raised on the coordinator.
func (p *Pair) ErrorReport() string {
	return p.Errors().Report(AnyModule)
}

// Read performs simultaneous single-ended conversions of pin0 on Module0 and
// pin1 on Module1.
//
// Both modules must be Idle, else the read fails with Synchronization raised
// and neither module is changed.
func (p *Pair) Read(ctx context.Context, pin0, pin1 Pin) (PairResult, error) {
	const op = "synchronized read"
	var ch [2]Channel
	for i, pin := range []Pin{pin0, pin1} {
		c, ok := p.m[i].spec.Route(pin)
		if !ok {
			return PairResult{}, p.m[i].fail(op, WrongPin,
				wrongPin(pin, p.m[i].id))
		}
		ch[i] = c
	}
	return p.read(ctx, op, ch, AnalogRead)
}

// ReadDifferential performs simultaneous differential conversions of the pin
// pairs, pos0/neg0 on Module0 and pos1/neg1 on Module1.
func (p *Pair) ReadDifferential(ctx context.Context, pos0, neg0, pos1, neg1 Pin) (PairResult, error) {
	const op = "synchronized read differential"
	var ch [2]Channel
	for i, pp := range [][2]Pin{{pos0, neg0}, {pos1, neg1}} {
		c, ok := p.m[i].spec.RouteDifferential(pp[0], pp[1])
		if !ok {
			return PairResult{}, p.m[i].fail(op, WrongPin,
				fmt.Errorf("%w: pins %d and %d are not a differential pair on %s", ErrWrongPin, pp[0], pp[1], p.m[i].id))
		}
		ch[i] = c
	}
	return p.read(ctx, op, ch, AnalogDifferentialRead)
}

func (p *Pair) read(ctx context.Context, op string, ch [2]Channel, f ErrorFlags) (PairResult, error) {
	for _, m := range p.m {
		atomic.AddInt32(&m.load, 1)
		defer atomic.AddInt32(&m.load, -1)
	}
	if err := p.claim(ctx, op, f); err != nil {
		return PairResult{}, err
	}
	defer p.m[1].release()
	defer p.m[0].release()
	for _, m := range p.m {
		m.setState(SingleConversionInFlight)
		defer m.leave(SingleConversionInFlight)
	}
	var v [2]ValidatedConfig
	var cal [2]CalibrationResult
	var acc [2]accumulator
	for i, m := range p.m {
		m.mu.RLock()
		v[i], cal[i] = m.cfg, m.cal
		m.mu.RUnlock()
		acc[i].n = v[i].averaging()
	}
	var res [2]int
	var done [2]bool
	// results still to come are drained before the members are next used
	abandon := func() {
		for i, m := range p.m {
			if !done[i] {
				m.markStale()
			}
		}
	}
	for !done[0] || !done[1] {
		for i, m := range p.m {
			if done[i] {
				continue
			}
			if err := m.hw.Start(ch[i], false); err != nil {
				abandon()
				m.hwFault(op, err)
				return PairResult{}, p.fail(op, err)
			}
		}
		for i, m := range p.m {
			if done[i] {
				continue
			}
			raw, err := m.await(ctx, hardwareWindow(v[i].cfg.Compare, v[i].averaging()) != nil)
			if err != nil {
				abandon()
				m.convErr(op, f, err)
				return PairResult{}, p.fail(op, err)
			}
			mean, ok := acc[i].add(raw)
			if !ok {
				continue
			}
			done[i] = true
			if err := checkMean(v[i].cfg.Compare, mean); err != nil {
				abandon()
				m.convErr(op, f, err)
				return PairResult{}, p.fail(op, err)
			}
			res[i] = correct(cal[i], ch[i], mean, v[i].cfg.Resolution)
		}
	}
	return PairResult{ADC0: res[0], ADC1: res[1]}, nil
}

// claim acquires both modules, which must be ready for a conversion.
// On success the caller must release both modules.
func (p *Pair) claim(ctx context.Context, op string, f ErrorFlags) error {
	m0, m1 := p.m[0], p.m[1]
	if !m0.tryAcquire() {
		return p.fail(op, fmt.Errorf("%w: %s", ErrBusy, m0.id))
	}
	if !m1.tryAcquire() {
		m0.release()
		return p.fail(op, fmt.Errorf("%w: %s", ErrBusy, m1.id))
	}
	for _, m := range p.m {
		err := p.ready(m)
		if err == nil {
			err = m.drain(ctx, op, f)
		}
		if err != nil {
			m1.release()
			m0.release()
			return p.fail(op, err)
		}
	}
	return nil
}

// ready checks the module is Idle and addressable, without raising flags.
func (p *Pair) ready(m *Controller) error {
	m.mu.RLock()
	closed, st := m.closed, m.state
	m.mu.RUnlock()
	switch {
	case closed:
		return fmt.Errorf("%w: %s", ErrClosed, m.id)
	case st != Idle:
		return fmt.Errorf("%w: %s %s", ErrBusy, m.id, st)
	}
	if id := m.hw.ID(); id != m.id {
		return m.fault("synchronize", WrongModule, fmt.Errorf("%w: hardware is %s", ErrWrongModule, id))
	}
	return nil
}

// fail raises Synchronization on the coordinator and both members.
func (p *Pair) fail(op string, err error) error {
	p.mu.Lock()
	p.flags.Add(Synchronization)
	p.mu.Unlock()
	for _, m := range p.m {
		m.fail(op, Synchronization, err)
	}
	p.log.Debug("synchronization failed", zap.String("op", op), zap.Error(err))
	return &Error{Module: AnyModule, Op: op, Flags: Synchronization, Err: err}
}

// StartContinuous starts continuous conversion of pin0 on Module0 and pin1
// on Module1.
//
// As for Read, both modules must be Idle or neither is started.
func (p *Pair) StartContinuous(ctx context.Context, pin0, pin1 Pin, opts ...StreamOption) (*Stream, *Stream, error) {
	const op = "synchronized start continuous"
	var ch [2]Channel
	for i, pin := range []Pin{pin0, pin1} {
		c, ok := p.m[i].spec.Route(pin)
		if !ok {
			return nil, nil, p.m[i].fail(op, WrongPin,
				wrongPin(pin, p.m[i].id))
		}
		ch[i] = c
	}
	return p.start(ctx, op, ch, Continuous, opts)
}

func (p *Pair) start(ctx context.Context, op string, ch [2]Channel, busy ErrorFlags, opts []StreamOption) (*Stream, *Stream, error) {
	if err := p.claim(ctx, op, busy); err != nil {
		return nil, nil, err
	}
	defer p.m[1].release()
	defer p.m[0].release()
	s0, err := p.m[0].startStreamLocked(ctx, op, ch[0], nil, busy, opts)
	if err != nil {
		return nil, nil, p.fail(op, err)
	}
	s1, err := p.m[1].startStreamLocked(ctx, op, ch[1], nil, busy, opts)
	if err != nil {
		p.m[0].stopStream()
		return nil, nil, p.fail(op, err)
	}
	return s0, s1, nil
}

// StartContinuousDifferential starts continuous differential conversion of
// pos0/neg0 on Module0 and pos1/neg1 on Module1.
func (p *Pair) StartContinuousDifferential(ctx context.Context, pos0, neg0, pos1, neg1 Pin, opts ...StreamOption) (*Stream, *Stream, error) {
	const op = "synchronized start continuous differential"
	var ch [2]Channel
	for i, pp := range [][2]Pin{{pos0, neg0}, {pos1, neg1}} {
		c, ok := p.m[i].spec.RouteDifferential(pp[0], pp[1])
		if !ok {
			return nil, nil, p.m[i].fail(op, WrongPin,
				fmt.Errorf("%w: pins %d and %d are not a differential pair on %s", ErrWrongPin, pp[0], pp[1], p.m[i].id))
		}
		ch[i] = c
	}
	return p.start(ctx, op, ch, ContinuousDifferential, opts)
}

// StopContinuous stops continuous conversion on both modules.
func (p *Pair) StopContinuous(ctx context.Context) error {
	return multierr.Combine(
		p.m[0].StopContinuous(ctx),
		p.m[1].StopContinuous(ctx))
}
