// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Device is the set of ADC modules on a board.
type Device struct {
	board *Board
	mods  []*Controller
	pair  *Pair
	log   *zap.Logger
}

// Open creates controllers for the modules of the board, with hws providing
// the hardware for each module in order.
//
// The options apply to every controller.
func Open(board *Board, hws []Hardware, opts ...Option) (*Device, error) {
	if len(board.Modules) == 0 {
		return nil, fmt.Errorf("%s has no modules", board.Name)
	}
	if len(hws) != len(board.Modules) {
		return nil, fmt.Errorf("%s has %d modules but %d provided", board.Name, len(board.Modules), len(hws))
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	d := &Device{board: board, log: o.log.With(zap.String("board", board.Name))}
	for i := range board.Modules {
		c, err := NewController(&board.Modules[i], hws[i], opts...)
		if err != nil {
			return nil, multierr.Append(err, d.Close())
		}
		d.mods = append(d.mods, c)
	}
	if len(d.mods) == 2 {
		p, err := NewPair(d.mods[0], d.mods[1], opts...)
		if err != nil {
			return nil, multierr.Append(err, d.Close())
		}
		d.pair = p
	}
	d.log.Debug("opened", zap.Int("modules", len(d.mods)))
	return d, nil
}

// Board returns the board the device was opened for.
func (d *Device) Board() *Board {
	return d.board
}

// Modules returns the module controllers.
func (d *Device) Modules() []*Controller {
	mm := make([]*Controller, len(d.mods))
	copy(mm, d.mods)
	return mm
}

// Module returns the controller for the module.
//
// A module the board does not have raises WrongModule on the first module.
func (d *Device) Module(id ModuleID) (*Controller, error) {
	if id < 0 || int(id) >= len(d.mods) {
		return nil, d.mods[0].fail("select module", WrongModule,
			fmt.Errorf("%w: %s has no %s", ErrWrongModule, d.board.Name, id))
	}
	return d.mods[id], nil
}

// Pair returns the dual module coordinator.
func (d *Device) Pair() (*Pair, error) {
	if d.pair == nil {
		return nil, d.mods[0].fail("select pair", WrongModule,
			fmt.Errorf("%w: %s has a single module", ErrWrongModule, d.board.Name))
	}
	return d.pair, nil
}

// Read reads the pin on the module, or if id is AnyModule, on the least
// loaded module that can read the pin.
func (d *Device) Read(ctx context.Context, pin Pin, id ModuleID) (int, error) {
	c, err := d.pick("read", id, func(m *ModuleSpec) bool {
		_, ok := m.Route(pin)
		return ok
	}, func() error { return wrongPin(pin, id) })
	if err != nil {
		return 0, err
	}
	return c.Read(ctx, pin)
}

// ReadDifferential reads the pin pair on the module, or if id is
// AnyModule, on the least loaded module that can read the pair.
func (d *Device) ReadDifferential(ctx context.Context, pos, neg Pin, id ModuleID) (int, error) {
	c, err := d.pick("read differential", id, func(m *ModuleSpec) bool {
		_, ok := m.RouteDifferential(pos, neg)
		return ok
	}, func() error {
		return fmt.Errorf("%w: pins %d and %d are not a differential pair", ErrWrongPin, pos, neg)
	})
	if err != nil {
		return 0, err
	}
	return c.ReadDifferential(ctx, pos, neg)
}

// pick selects the module for a read.
func (d *Device) pick(op string, id ModuleID, routes func(*ModuleSpec) bool, unrouted func() error) (*Controller, error) {
	if id != AnyModule {
		return d.Module(id)
	}
	var best *Controller
	for _, c := range d.mods {
		if !routes(c.spec) {
			continue
		}
		if best == nil || c.Load() < best.Load() {
			best = c
		}
	}
	if best != nil {
		return best, nil
	}
	err := unrouted()
	for _, c := range d.mods {
		c.fail(op, WrongPin, err)
	}
	return nil, &Error{Module: AnyModule, Op: op, Flags: WrongPin, Err: err}
}

// Errors returns the union of the flags raised on all modules and the pair.
func (d *Device) Errors() ErrorFlags {
	var f ErrorFlags
	for _, c := range d.mods {
		f.Add(c.Errors())
	}
	if d.pair != nil {
		f.Add(d.pair.Errors())
	}
	return f
}

// ResetErrors clears the flags on all modules and the pair.
func (d *Device) ResetErrors() {
	for _, c := range d.mods {
		c.ResetErrors()
	}
	if d.pair != nil {
		d.pair.ResetErrors()
	}
}

// ErrorReport describes the flags raised on each module, one line per
// module with errors.
func (d *Device) ErrorReport() string {
	var lines []string
	for _, c := range d.mods {
		if r := c.ErrorReport(); r != "" {
			lines = append(lines, r)
		}
	}
	if d.pair != nil {
		if r := d.pair.ErrorReport(); r != "" {
			lines = append(lines, r)
		}
	}
	return strings.Join(lines, "\n")
}

// Close closes all the module controllers.
func (d *Device) Close() error {
	var err error
	for _, c := range d.mods {
		err = multierr.Append(err, c.Close())
	}
	return err
}
