// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

import (
	"fmt"
	"time"
)

// Window is a comparison window that gates conversion results.
//
// With Inside set, results within [Low, High] are accepted, otherwise
// results outside that range are accepted. Without Inclusive the limits
// themselves are excluded from the accepted set when Inside, and included
// when outside.
type Window struct {
	Low       int
	High      int
	Inside    bool
	Inclusive bool
}

// Threshold returns a one-sided comparison that accepts results >= value
// if greaterThan, or < value otherwise.
func Threshold(value int, greaterThan bool) Window {
	if greaterThan {
		return Window{Low: value, High: int(^uint(0) >> 1), Inside: true, Inclusive: true}
	}
	return Window{Low: value, High: int(^uint(0) >> 1), Inside: false, Inclusive: false}
}

// Accepts returns true if the result passes the comparison.
func (c Window) Accepts(v int) bool {
	if c.Inside {
		if c.Inclusive {
			return v >= c.Low && v <= c.High
		}
		return v > c.Low && v < c.High
	}
	if c.Inclusive {
		return v <= c.Low || v >= c.High
	}
	return v < c.Low || v > c.High
}

func (c Window) String() string {
	lo, hi := "(", ")"
	if c.Inclusive {
		lo, hi = "[", "]"
	}
	if c.Inside {
		return fmt.Sprintf("inside %s%d,%d%s", lo, c.Low, c.High, hi)
	}
	return fmt.Sprintf("outside %s%d,%d%s", lo, c.Low, c.High, hi)
}

// Config is the set of conversion parameters applied to a module.
type Config struct {
	Resolution Resolution
	Conversion ConversionSpeed
	Sampling   SamplingSpeed
	Reference  Reference
	// Averaging is the number of raw samples averaged into each result.
	// 0 and 1 disable averaging.
	Averaging int
	// Compare, if set, gates single and continuous conversion results.
	// The window applies to the averaged result.
	Compare *Window
	// Gain is the programmable gain applied to differential inputs.
	// 0 and 1 disable amplification.
	Gain int
}

func (cfg Config) averaging() int {
	if cfg.Averaging < 1 {
		return 1
	}
	return cfg.Averaging
}

func (cfg Config) gain() int {
	if cfg.Gain < 1 {
		return 1
	}
	return cfg.Gain
}

// hardwareWindow returns the window to program into the hardware.
//
// The hardware compares each raw conversion, so it can only gate results
// that are not averaged. Averaged results are gated in software.
func hardwareWindow(w *Window, averaging int) *Window {
	if averaging > 1 {
		return nil
	}
	return w
}

// DefaultConfig is the configuration applied when a controller is created.
func DefaultConfig() Config {
	return Config{
		Resolution: Bits10,
		Conversion: MediumSpeed,
		Sampling:   MediumSampling,
		Reference:  Vdd3V3,
		Averaging:  4,
	}
}

// minSampleTime is the shortest sample window for each resolution.
var minSampleTime = map[Resolution]time.Duration{
	Bits8:  250 * time.Nanosecond,
	Bits10: 400 * time.Nanosecond,
	Bits12: 600 * time.Nanosecond,
	Bits16: 1250 * time.Nanosecond,
}

const (
	minADCKHz      = 1000000
	min16BitADCKHz = 2000000
	max16BitADCKHz = 12000000
)

// ValidatedConfig is a Config that has passed validation for a module.
//
// It can only be created by Validate and is consumed by
// Controller.ApplyConfig.
type ValidatedConfig struct {
	cfg    Config
	module ModuleID
	valid  bool
}

// Config returns a copy of the validated configuration.
func (v ValidatedConfig) Config() Config {
	cfg := v.cfg
	if v.cfg.Compare != nil {
		c := *v.cfg.Compare
		cfg.Compare = &c
	}
	return cfg
}

// Module returns the module the configuration was validated for.
func (v ValidatedConfig) Module() ModuleID {
	return v.module
}

// Valid returns true if the config was produced by Validate.
func (v ValidatedConfig) Valid() bool {
	return v.valid
}

func (v ValidatedConfig) averaging() int {
	return v.cfg.averaging()
}

// Validate checks that cfg can be applied to the module described by spec.
//
// On failure the returned error is a *ConfigError identifying the offending
// field.
func Validate(spec *ModuleSpec, cfg Config) (ValidatedConfig, error) {
	if !spec.HasResolution(cfg.Resolution) {
		return ValidatedConfig{}, &ConfigError{"Resolution", int(cfg.Resolution), "unsupported bit width"}
	}
	hz := cfg.Conversion.Hz()
	if hz == 0 {
		return ValidatedConfig{}, &ConfigError{"Conversion", cfg.Conversion, "unknown conversion speed"}
	}
	if cfg.Sampling.Cycles() == 0 {
		return ValidatedConfig{}, &ConfigError{"Sampling", cfg.Sampling, "unknown sampling speed"}
	}
	if hz < minADCKHz {
		return ValidatedConfig{}, &ConfigError{"Conversion", cfg.Conversion, "conversion clock below 1MHz"}
	}
	if cfg.Resolution == Bits16 && (hz < min16BitADCKHz || hz > max16BitADCKHz) {
		return ValidatedConfig{}, &ConfigError{"Conversion", cfg.Conversion,
			"conversion clock outside 2-12MHz required for 16 bits"}
	}
	st := SampleTime(cfg.Conversion, cfg.Sampling)
	if want := minSampleTime[cfg.Resolution]; st < want {
		return ValidatedConfig{}, &ConfigError{"Sampling", cfg.Sampling,
			fmt.Sprintf("sample window %v at %s conversion speed is shorter than %v required for %d bits",
				st, cfg.Conversion, want, cfg.Resolution)}
	}
	if !spec.HasReference(cfg.Reference) {
		return ValidatedConfig{}, &ConfigError{"Reference", cfg.Reference,
			fmt.Sprintf("not available on %s", spec.ID)}
	}
	switch cfg.Averaging {
	case 0, 1, 4, 8, 16, 32:
	default:
		return ValidatedConfig{}, &ConfigError{"Averaging", cfg.Averaging, "must be 1, 4, 8, 16 or 32"}
	}
	switch cfg.Gain {
	case 0, 1:
	case 2, 4, 8, 16, 32, 64:
		if !spec.PGA {
			return ValidatedConfig{}, &ConfigError{"Gain", cfg.Gain,
				fmt.Sprintf("no programmable gain amplifier on %s", spec.ID)}
		}
	default:
		return ValidatedConfig{}, &ConfigError{"Gain", cfg.Gain, "must be 1, 2, 4, 8, 16, 32 or 64"}
	}
	if c := cfg.Compare; c != nil {
		if err := checkWindow(*c, cfg.Resolution); err != nil {
			return ValidatedConfig{}, err
		}
	}
	v := ValidatedConfig{cfg: cfg, module: spec.ID, valid: true}
	// detach from the caller's Window
	v.cfg = v.Config()
	return v, nil
}

func checkWindow(c Window, r Resolution) error {
	if c.Low > c.High {
		return &ConfigError{"Compare", c, "low limit above high limit"}
	}
	if c.Low < 0 || c.Low > r.Max() {
		return &ConfigError{"Compare", c, fmt.Sprintf("low limit outside [0,%d]", r.Max())}
	}
	return nil
}
