// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

import (
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
)

const (
	defaultTimeout            = 100 * time.Millisecond
	defaultCalibrationTimeout = time.Second
	defaultPollInterval       = 20 * time.Microsecond
	defaultExternalReference  = 3300 * physic.MilliVolt
)

type options struct {
	log        *zap.Logger
	timeout    time.Duration
	calTimeout time.Duration
	poll       time.Duration
	extRef     physic.ElectricPotential
	cfg        *Config
}

func defaultOptions() options {
	return options{
		log:        zap.NewNop(),
		timeout:    defaultTimeout,
		calTimeout: defaultCalibrationTimeout,
		poll:       defaultPollInterval,
		extRef:     defaultExternalReference,
	}
}

// Option modifies the construction of a Controller, Pair or Device.
type Option func(*options)

// WithLogger sets the logger.
//
// The default discards all logging.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// WithTimeout sets the bound on the wait for each conversion to complete.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithCalibrationTimeout sets the bound on the calibration sequence.
func WithCalibrationTimeout(d time.Duration) Option {
	return func(o *options) {
		o.calTimeout = d
	}
}

// WithPollInterval sets the interval at which the completion status is
// polled when the hardware provides no notification, or misses one.
//
// An interval of zero or less is ignored.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.poll = d
		}
	}
}

// WithExternalReference sets the voltage applied to the external reference
// input, used to convert results to voltages.
func WithExternalReference(v physic.ElectricPotential) Option {
	return func(o *options) {
		o.extRef = v
	}
}

// WithConfig sets the initial configuration in place of DefaultConfig.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = &cfg
	}
}
