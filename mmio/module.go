// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

//go:build linux
// +build linux

// Package mmio provides ADC modules driven through memory mapped registers.
//
// Each module has a block of eight 32 bit registers:
//
//	0 CTRL    channel select, writing starts a conversion
//	1 STATUS  conversion complete and active flags
//	2 CFG     clock, sample time, mode, reference and gain selection
//	3 CMP     comparison control
//	4 CV1     comparison value 1
//	5 CV2     comparison value 2
//	6 RESULT  latest result, two's complement for differential conversions
//	7 ID      module number
//
// Completion interrupts may be delivered through a UIO device.
package mmio

import (
	"fmt"
	"os"
	"sync"

	"github.com/warthog618/adc"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// Register offsets, in words, within a module's register block.
const (
	regControl = iota
	regStatus
	regConfig
	regCompare
	regCV1
	regCV2
	regResult
	regID
	blockWords
)

// BlockSize is the size of a module's register block in bytes.
const BlockSize = blockWords * 4

// CTRL fields.
const (
	ctrlChannelMask = 0x3f
	ctrlChannelOff  = 0x3f // disables the module
	ctrlDiff        = 1 << 6
	ctrlMuxA        = 1 << 7
	ctrlContinuous  = 1 << 8
	ctrlIRQEnable   = 1 << 9
)

// STATUS fields.
const (
	statusComplete = 1 << 0
	statusActive   = 1 << 1
)

// CFG fields.
const (
	cfgClockShift  = 0
	cfgClockMask   = 0xf << cfgClockShift
	cfgSampleShift = 4
	cfgSampleMask  = 0x7 << cfgSampleShift
	cfgModeShift   = 8
	cfgModeMask    = 0x3 << cfgModeShift
	cfgRefShift    = 12
	cfgRefMask     = 0x3 << cfgRefShift
	cfgGainShift   = 16
	cfgGainMask    = 0x7 << cfgGainShift
)

// gains maps PGA gains to CFG gain values.
var gains = map[int]uint32{1: 0, 2: 1, 4: 2, 8: 3, 16: 4, 32: 5, 64: 6}

// CMP fields.
const (
	cmpEnable  = 1 << 0
	cmpRange   = 1 << 1
	cmpGreater = 1 << 2

	compareValueMask = 0xffff
)

// modes maps resolutions to CFG mode values.
var modes = map[adc.Resolution]uint32{
	adc.Bits8:  0,
	adc.Bits12: 1,
	adc.Bits10: 2,
	adc.Bits16: 3,
}

type options struct {
	offset int64
	length int
	block  int
	irq    string
}

// Option modifies the opening of a Module.
type Option func(*options)

// WithOffset sets the offset of the mapping into the device file.
// It must be a multiple of the page size.
func WithOffset(off int64) Option {
	return func(o *options) {
		o.offset = off
	}
}

// WithLength sets the length of the mapping.
// The default is one page.
func WithLength(n int) Option {
	return func(o *options) {
		o.length = n
	}
}

// WithBlock sets the index of the module's register block within the
// mapping. The default is the module number.
func WithBlock(n int) Option {
	return func(o *options) {
		o.block = n
	}
}

// WithIRQ sets the UIO device delivering completion interrupts.
func WithIRQ(path string) Option {
	return func(o *options) {
		o.irq = path
	}
}

// Module is an ADC module driven through memory mapped registers.
type Module struct {
	r    *regs
	base int

	irq     *watcher
	irqFile *os.File
	irqFd   int

	mu       sync.Mutex
	handlers map[int]func()
	nextH    int
	// irqErr is the first failure to reenable interrupts.
	irqErr error
}

// Open maps the registers of the module from the device file at path.
//
// The ID register must identify the module as id.
func Open(path string, id adc.ModuleID, opts ...Option) (*Module, error) {
	o := options{length: os.Getpagesize(), block: int(id)}
	for _, opt := range opts {
		opt(&o)
	}
	r, err := mapRegs(path, o.offset, o.length)
	if err != nil {
		return nil, err
	}
	m := &Module{
		r:        r,
		base:     o.block * blockWords,
		irqFd:    -1,
		handlers: make(map[int]func()),
	}
	if m.base < 0 || m.base+blockWords > len(r.mem) {
		r.close()
		return nil, fmt.Errorf("register block %d beyond %d byte mapping", o.block, o.length)
	}
	if got := m.ID(); got != id {
		r.close()
		return nil, fmt.Errorf("%w: registers identify as %s, not %s", adc.ErrWrongModule, got, id)
	}
	if o.irq != "" {
		if err := m.openIRQ(o.irq); err != nil {
			r.close()
			return nil, err
		}
	}
	return m, nil
}

// openIRQ enables interrupts from the UIO device and watches for them.
func (m *Module) openIRQ(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	fd := int(f.Fd())
	// enabled before the watch, which reports any interrupt already pending
	err = unix.SetNonblock(fd, true)
	if err == nil {
		err = enable(fd)
	}
	if err == nil {
		err = m.watch(fd, 4, true)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("interrupts from %s: %w", path, err)
	}
	m.irqFile = f
	return nil
}

// watch delivers interrupts signalled on fd to the Notify handlers.
func (m *Module) watch(fd, readSize int, rearm bool) error {
	w, err := newWatcher()
	if err != nil {
		return err
	}
	if err := w.register(fd, readSize, rearm, m.fire); err != nil {
		w.close()
		return err
	}
	m.irq = w
	m.irqFd = fd
	return nil
}

func (m *Module) fire(err error) {
	m.mu.Lock()
	if err != nil && m.irqErr == nil {
		// completion is still polled, so only report it
		m.irqErr = fmt.Errorf("reenabling interrupts: %w", err)
	}
	hh := make([]func(), 0, len(m.handlers))
	for _, h := range m.handlers {
		hh = append(hh, h)
	}
	m.mu.Unlock()
	for _, h := range hh {
		h()
	}
}

// Notify registers fn to be called on each completion interrupt.
//
// Without an interrupt source fn is never called.
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

// Close stops the module, and releases the interrupt source and registers.
//
// Any failure to reenable interrupts after servicing one is reported here.
func (m *Module) Close() error {
	if m.irq != nil {
		m.irq.unregister(m.irqFd)
		m.irq.close()
		m.irq = nil
	}
	m.mu.Lock()
	err := m.irqErr
	m.irqErr = nil
	m.mu.Unlock()
	if m.irqFile != nil {
		err = multierr.Append(err, m.irqFile.Close())
		m.irqFile = nil
	}
	if m.r.mem != nil {
		m.Stop()
	}
	return multierr.Append(err, m.r.close())
}

// ID returns the module number held in the ID register.
func (m *Module) ID() adc.ModuleID {
	return adc.ModuleID(m.r.read(m.base + regID))
}

// SetClock selects the conversion clock.
func (m *Module) SetClock(s adc.ConversionSpeed) error {
	if s.Hz() == 0 {
		return fmt.Errorf("unknown conversion speed %d", s)
	}
	m.r.modify(m.base+regConfig, cfgClockMask, uint32(s)<<cfgClockShift)
	return nil
}

// SetSampleTime selects the sample time.
func (m *Module) SetSampleTime(s adc.SamplingSpeed) error {
	if s.Cycles() == 0 {
		return fmt.Errorf("unknown sampling speed %d", s)
	}
	m.r.modify(m.base+regConfig, cfgSampleMask, uint32(s)<<cfgSampleShift)
	return nil
}

// SetResolution selects the conversion mode.
func (m *Module) SetResolution(r adc.Resolution) error {
	mode, ok := modes[r]
	if !ok {
		return fmt.Errorf("unsupported resolution %d", r)
	}
	m.r.modify(m.base+regConfig, cfgModeMask, mode<<cfgModeShift)
	return nil
}

// SetReference selects the voltage reference.
func (m *Module) SetReference(r adc.Reference) error {
	if r > adc.External {
		return fmt.Errorf("unknown reference %d", r)
	}
	m.r.modify(m.base+regConfig, cfgRefMask, uint32(r)<<cfgRefShift)
	return nil
}

// SetCompare programs the comparison, or disables it if c is nil.
//
// CV1, CV2 and the greater-than bit select which side of the window is
// accepted, and whether the limits are included.
func (m *Module) SetCompare(c *adc.Window) error {
	if c == nil {
		m.r.write(m.base+regCompare, 0)
		return nil
	}
	cv1, cv2 := compareValue(c.Low), compareValue(c.High)
	cmp := uint32(cmpEnable | cmpRange)
	switch {
	case c.Inside && c.Inclusive:
		cmp |= cmpGreater
	case c.Inside:
		cv1, cv2 = cv2, cv1
	case c.Inclusive:
		cmp |= cmpGreater
		cv1, cv2 = cv2, cv1
	}
	m.r.write(m.base+regCV1, cv1)
	m.r.write(m.base+regCV2, cv2)
	m.r.write(m.base+regCompare, cmp)
	return nil
}

// SetGain sets the gain of the amplifier on the differential inputs.
func (m *Module) SetGain(g int) error {
	v, ok := gains[g]
	if !ok {
		return fmt.Errorf("unsupported gain %d", g)
	}
	m.r.modify(m.base+regConfig, cfgGainMask, v<<cfgGainShift)
	return nil
}

func compareValue(v int) uint32 {
	if v < 0 {
		return 0
	}
	if v > compareValueMask {
		return compareValueMask
	}
	return uint32(v)
}

// Start starts a conversion on the channel.
func (m *Module) Start(ch adc.Channel, continuous bool) error {
	if ch.Number >= ctrlChannelOff {
		return fmt.Errorf("invalid channel %d", ch.Number)
	}
	ctrl := uint32(ch.Number) & ctrlChannelMask
	if ch.Differential {
		ctrl |= ctrlDiff
	}
	if ch.MuxA {
		ctrl |= ctrlMuxA
	}
	if continuous {
		ctrl |= ctrlContinuous
	}
	if m.irq != nil {
		ctrl |= ctrlIRQEnable
	}
	m.r.mu.Lock()
	m.r.mem[m.base+regStatus] &^= statusComplete
	m.r.mem[m.base+regControl] = ctrl
	m.r.mu.Unlock()
	return nil
}

// Converting returns true while a conversion is in progress.
func (m *Module) Converting() bool {
	return m.r.read(m.base+regStatus)&statusActive != 0
}

// Complete returns true if a result is ready.
func (m *Module) Complete() bool {
	return m.r.read(m.base+regStatus)&statusComplete != 0
}

// Result returns the latest result and clears the complete flag.
func (m *Module) Result() int32 {
	m.r.mu.Lock()
	v := m.r.mem[m.base+regResult]
	m.r.mem[m.base+regStatus] &^= statusComplete
	m.r.mu.Unlock()
	return int32(v)
}

// Stop disables the module.
func (m *Module) Stop() {
	m.r.write(m.base+regControl, ctrlChannelOff)
}
