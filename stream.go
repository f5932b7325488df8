// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrStopped indicates the stream has been stopped and drained.
var ErrStopped = errors.New("stream stopped")

// Sample is a result delivered by a continuous conversion or an armed
// comparison.
type Sample struct {
	Value int
	// Seq is the position of the sample in its stream, starting from 1.
	Seq  uint64
	Time time.Time
}

const defaultBufferSize = 64

// StreamOption modifies a Stream.
type StreamOption func(*Stream)

// OnSample registers a handler called with each sample.
//
// The handler is called from the stream's goroutine so must not block, nor
// stop the stream.
func OnSample(fn func(Sample)) StreamOption {
	return func(s *Stream) {
		s.handler = fn
	}
}

// WithBufferSize sets the number of samples buffered for Read and Next.
// The size is rounded up to a power of two, and once the buffer is full the
// oldest sample is overwritten.
func WithBufferSize(n int) StreamOption {
	return func(s *Stream) {
		s.size = n
	}
}

// WithPeriod triggers a conversion every period, in place of the free
// running conversion of continuous mode, as a programmable delay block
// would.
//
// A trigger that arrives while a conversion is in progress is skipped.
// A period of zero or less leaves conversion free running.
func WithPeriod(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.period = d
		}
	}
}

// Stream delivers the results of a continuous conversion or armed
// comparison.
//
// Samples are both passed to any OnSample handler and buffered for Read and
// Next. A stream is not restartable; stopping it and starting another
// begins a fresh sequence.
type Stream struct {
	c       *Controller
	ch      Channel
	window  *Window
	armed   bool
	cfg     ValidatedConfig
	cal     CalibrationResult
	handler func(Sample)
	size    int
	period  time.Duration

	stop  chan struct{}
	done  chan struct{}
	ready chan struct{}

	mu      sync.Mutex
	buf     *ring
	seq     uint64
	dropped uint64
	skipped uint64
}

func newStream(c *Controller, ch Channel, window *Window, armed bool, opts []StreamOption) *Stream {
	c.mu.RLock()
	v, cal := c.cfg, c.cal
	c.mu.RUnlock()
	if window == nil {
		window = v.cfg.Compare
	}
	s := &Stream{
		c:      c,
		ch:     ch,
		window: window,
		armed:  armed,
		cfg:    v,
		cal:    cal,
		size:   defaultBufferSize,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		ready:  make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.buf = newRing(s.size)
	return s
}

// Channel returns the channel being converted.
func (s *Stream) Channel() Channel {
	return s.ch
}

// Ready returns true if a sample is buffered.
func (s *Stream) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.buf.empty()
}

// Read returns the oldest buffered sample, if any.
func (s *Stream) Read() (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.pop()
}

// Next returns the oldest buffered sample, waiting for one if necessary.
//
// Returns ErrStopped once the stream is stopped and the buffer drained.
func (s *Stream) Next(ctx context.Context) (Sample, error) {
	for {
		if smp, ok := s.Read(); ok {
			return smp, nil
		}
		select {
		case <-s.ready:
		case <-s.done:
			if smp, ok := s.Read(); ok {
				return smp, nil
			}
			return Sample{}, ErrStopped
		case <-ctx.Done():
			return Sample{}, ctx.Err()
		}
	}
}

// Done is closed when the stream stops.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Count returns the number of samples delivered.
func (s *Stream) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Dropped returns the number of buffered samples overwritten before being
// read.
func (s *Stream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Skipped returns the number of periodic triggers skipped as the prior
// conversion was still in progress.
func (s *Stream) Skipped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Stop stops the stream, returning the module to Idle.
// It is a no-op if the stream has already been stopped.
func (s *Stream) Stop() error {
	return s.c.stop(context.Background(), s)
}

func (s *Stream) run() {
	defer close(s.done)
	hw := s.c.hw
	acc := accumulator{n: s.cfg.averaging()}
	t := time.NewTicker(s.c.w.poll)
	defer t.Stop()
	var trigger <-chan time.Time
	if s.period > 0 {
		pt := time.NewTicker(s.period)
		defer pt.Stop()
		trigger = pt.C
	}
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if !hw.Complete() {
			select {
			case <-s.stop:
				return
			case <-s.c.w.irq:
			case <-t.C:
			case <-trigger:
				if err := s.trigger(); err != nil {
					s.c.log.Warn("trigger failed", zap.Uint8("channel", s.ch.Number), zap.Error(err))
					return
				}
			}
			continue
		}
		m, ok := acc.add(hw.Result())
		if !ok {
			continue
		}
		// the hardware can only gate raw results
		if s.window != nil && !s.window.Accepts(m) {
			continue
		}
		s.deliver(correct(s.cal, s.ch, m, s.cfg.cfg.Resolution))
	}
}

// trigger starts the next conversion of a periodic stream.
func (s *Stream) trigger() error {
	if s.c.hw.Converting() {
		s.mu.Lock()
		s.skipped++
		s.mu.Unlock()
		return nil
	}
	return s.c.hw.Start(s.ch, false)
}

func (s *Stream) deliver(v int) {
	s.mu.Lock()
	s.seq++
	smp := Sample{Value: v, Seq: s.seq, Time: time.Now()}
	if s.buf.push(smp) {
		s.dropped++
	}
	s.mu.Unlock()
	select {
	case s.ready <- struct{}{}:
	default:
	}
	if s.handler != nil {
		s.handler(smp)
	}
}

// halt stops the stream goroutine and waits for it to exit.
func (s *Stream) halt() {
	close(s.stop)
	<-s.done
}

// StartContinuous starts continuous conversion of the pin.
//
// The module remains in ContinuousConversionRunning until the stream is
// stopped.
func (c *Controller) StartContinuous(ctx context.Context, pin Pin, opts ...StreamOption) (*Stream, error) {
	const op = "start continuous"
	ch, ok := c.spec.Route(pin)
	if !ok {
		return nil, c.fail(op, WrongPin, wrongPin(pin, c.id))
	}
	return c.startStream(ctx, op, ch, nil, Continuous, opts)
}

// StartContinuousDifferential starts continuous conversion of the pin pair.
func (c *Controller) StartContinuousDifferential(ctx context.Context, pos, neg Pin, opts ...StreamOption) (*Stream, error) {
	const op = "start continuous differential"
	ch, ok := c.spec.RouteDifferential(pos, neg)
	if !ok {
		return nil, c.fail(op, WrongPin,
			fmt.Errorf("%w: pins %d and %d are not a differential pair on %s", ErrWrongPin, pos, neg, c.id))
	}
	return c.startStream(ctx, op, ch, nil, ContinuousDifferential, opts)
}

// ArmComparison starts continuous conversion of the pin, delivering only
// those results that lie inside, or outside, the inclusive range
// [low, high].
//
// The module remains in ComparisonArmed until disarmed.
func (c *Controller) ArmComparison(ctx context.Context, pin Pin, low, high int, inside bool, opts ...StreamOption) (*Stream, error) {
	const op = "arm comparison"
	ch, ok := c.spec.Route(pin)
	if !ok {
		return nil, c.fail(op, WrongPin, wrongPin(pin, c.id))
	}
	w := Window{Low: low, High: high, Inside: inside, Inclusive: true}
	c.mu.RLock()
	r := c.cfg.cfg.Resolution
	c.mu.RUnlock()
	if err := checkWindow(w, r); err != nil {
		return nil, c.fail(op, Comparison, err)
	}
	return c.startStream(ctx, op, ch, &w, Continuous, opts)
}

// StopContinuous stops any running continuous conversion or armed
// comparison, returning the module to Idle.
// It is a no-op if neither is running.
func (c *Controller) StopContinuous(ctx context.Context) error {
	return c.stop(ctx, nil)
}

// Disarm stops an armed comparison.
// It is equivalent to StopContinuous.
func (c *Controller) Disarm(ctx context.Context) error {
	return c.stop(ctx, nil)
}

// stop stops the running stream, if it is s, or any stream if s is nil.
func (c *Controller) stop(ctx context.Context, s *Stream) error {
	if err := c.acquire(ctx); err != nil {
		return c.fail("stop continuous", Clear, err)
	}
	defer c.release()
	c.mu.RLock()
	cur := c.stream
	c.mu.RUnlock()
	if s == nil || s == cur {
		c.stopStream()
	}
	return nil
}

func (c *Controller) startStream(ctx context.Context, op string, ch Channel, window *Window, busy ErrorFlags, opts []StreamOption) (*Stream, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, c.fail(op, Clear, err)
	}
	defer c.release()
	return c.startStreamLocked(ctx, op, ch, window, busy, opts)
}

// startStreamLocked is called with sem held.
func (c *Controller) startStreamLocked(ctx context.Context, op string, ch Channel, window *Window, busy ErrorFlags, opts []StreamOption) (*Stream, error) {
	if err := c.ready(op, busy); err != nil {
		return nil, err
	}
	if err := c.drain(ctx, op, busy); err != nil {
		return nil, err
	}
	armed := window != nil
	s := newStream(c, ch, window, armed, opts)
	if armed {
		if err := c.hw.SetCompare(hardwareWindow(window, s.cfg.averaging())); err != nil {
			return nil, c.hwFault(op, err)
		}
	}
	// periodic streams are triggered one conversion at a time
	if err := c.hw.Start(ch, s.period == 0); err != nil {
		return nil, c.hwFault(op, err)
	}
	st := ContinuousConversionRunning
	if armed {
		st = ComparisonArmed
	}
	c.mu.Lock()
	c.stream = s
	c.setStateLocked(st)
	c.mu.Unlock()
	atomic.AddInt32(&c.load, 1)
	go s.run()
	return s, nil
}

// stopStream stops the running stream, if any.
// Called with sem held.
func (c *Controller) stopStream() {
	c.mu.Lock()
	s := c.stream
	c.stream = nil
	c.mu.Unlock()
	if s == nil {
		return
	}
	s.halt()
	c.hw.Stop()
	atomic.AddInt32(&c.load, -1)
	c.log.Debug("stream stopped", zap.Uint64("samples", s.Count()), zap.Uint64("dropped", s.Dropped()))
	if s.armed {
		c.mu.RLock()
		cfg := c.cfg.cfg
		c.mu.RUnlock()
		if err := c.hw.SetCompare(hardwareWindow(cfg.Compare, cfg.averaging())); err != nil {
			c.hwFault("disarm", err)
			return
		}
	}
	c.mu.Lock()
	if c.state == ContinuousConversionRunning || c.state == ComparisonArmed {
		c.setStateLocked(Idle)
	}
	c.mu.Unlock()
}
