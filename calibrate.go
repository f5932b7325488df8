// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

import (
	"context"
	"fmt"
	"math"
	"time"
)

// CalibrationResult holds the offset and gain corrections for a module,
// valid for the speeds and reference it was measured at.
type CalibrationResult struct {
	Conversion ConversionSpeed
	Sampling   SamplingSpeed
	Reference  Reference

	// Offset is the VREFL reading as a fraction of full scale.
	Offset float64

	// Gain scales offset corrected readings to full scale.
	Gain float64

	// Time is when the calibration completed.
	Time time.Time
}

// Covers returns true if the calibration is valid for the config.
//
// Resolution is not included as the corrections are held relative to full
// scale.
func (c CalibrationResult) Covers(cfg Config) bool {
	return c.Gain != 0 &&
		c.Conversion == cfg.Conversion &&
		c.Sampling == cfg.Sampling &&
		c.Reference == cfg.Reference
}

// Correct applies the calibration to a single-ended reading.
func (c CalibrationResult) Correct(raw int, r Resolution) int {
	if c.Gain == 0 {
		return raw
	}
	fs := r.Max()
	v := int(math.RoundToEven((float64(raw) - c.Offset*float64(fs+1)) * c.Gain))
	return clamp(v, 0, fs)
}

// CorrectDifferential applies the calibration to a differential reading.
//
// The offset cancels across the pair so only the gain is applied.
func (c CalibrationResult) CorrectDifferential(raw int, r Resolution) int {
	if c.Gain == 0 {
		return raw
	}
	fs := r.Max()
	v := int(math.RoundToEven(float64(raw) * c.Gain))
	return clamp(v, -(fs + 1), fs)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// calibrationSamples is the number of reads taken of each reference.
const calibrationSamples = 32

// Calibrate runs the calibration sequence on hw, which must already be
// programmed with cfg.
//
// The sequence cannot be cancelled, but fails with ErrTimeout if it takes
// longer than timeout. It does not alter the state of any Controller
// managing hw, so should only be called directly on otherwise idle hardware.
func Calibrate(hw Hardware, spec *ModuleSpec, cfg ValidatedConfig, timeout time.Duration) (CalibrationResult, error) {
	return calibrate(waiter{poll: defaultPollInterval}, hw, spec, cfg.cfg, timeout)
}

func calibrate(w waiter, hw Hardware, spec *ModuleSpec, cfg Config, timeout time.Duration) (CalibrationResult, error) {
	lo, ok := spec.RouteInternal(VrefLow)
	if !ok {
		return CalibrationResult{}, fmt.Errorf("%w: %s not routed to %s", ErrCalibration, VrefLow, spec.ID)
	}
	hi, ok := spec.RouteInternal(VrefHigh)
	if !ok {
		return CalibrationResult{}, fmt.Errorf("%w: %s not routed to %s", ErrCalibration, VrefHigh, spec.ID)
	}
	// comparison would gate the reference reads
	if w := hardwareWindow(cfg.Compare, cfg.averaging()); w != nil {
		if err := hw.SetCompare(nil); err != nil {
			return CalibrationResult{}, err
		}
		defer hw.SetCompare(w)
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	low, err := meanOf(ctx, w, hw, lo)
	if err != nil {
		return CalibrationResult{}, err
	}
	high, err := meanOf(ctx, w, hw, hi)
	if err != nil {
		return CalibrationResult{}, err
	}
	fs := float64(cfg.Resolution.Max())
	if low > fs/16 {
		return CalibrationResult{}, fmt.Errorf("%w: offset %.1f exceeds %.1f", ErrCalibration, low, fs/16)
	}
	span := high - low
	if span < fs/2 {
		return CalibrationResult{}, fmt.Errorf("%w: span %.1f below %.1f", ErrCalibration, span, fs/2)
	}
	return CalibrationResult{
		Conversion: cfg.Conversion,
		Sampling:   cfg.Sampling,
		Reference:  cfg.Reference,
		Offset:     low / (fs + 1),
		Gain:       fs / span,
		Time:       time.Now(),
	}, nil
}

func meanOf(ctx context.Context, w waiter, hw Hardware, ch Channel) (float64, error) {
	var sum int64
	for i := 0; i < calibrationSamples; i++ {
		if err := hw.Start(ch, false); err != nil {
			return 0, err
		}
		if err := w.until(ctx, func() bool { return !hw.Converting() }); err != nil {
			hw.Stop()
			return 0, waitErr(err)
		}
		if !hw.Complete() {
			return 0, fmt.Errorf("%w: no result from channel %d", ErrCalibration, ch.Number)
		}
		sum += int64(hw.Result())
	}
	return float64(sum) / calibrationSamples, nil
}
