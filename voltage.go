// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

package adc

import (
	"context"

	"periph.io/x/conn/v3/physic"
)

// Temperature sensor characteristics.
const (
	tempSensorV25   = 719 * physic.MilliVolt
	tempSensorSlope = 1715 * physic.MicroVolt // per degree
)

// ReferenceVoltage returns the voltage of the reference in use.
func (c *Controller) ReferenceVoltage() physic.ElectricPotential {
	return c.refVoltage(c.Config().Reference)
}

func (c *Controller) refVoltage(r Reference) physic.ElectricPotential {
	switch r {
	case Internal1V2:
		return 1200 * physic.MilliVolt
	case External:
		return c.extRef
	default:
		return 3300 * physic.MilliVolt
	}
}

// Voltage converts a result under the committed configuration to the
// voltage at the input.
func (c *Controller) Voltage(v int) physic.ElectricPotential {
	return c.volts(v, c.Config())
}

func (c *Controller) volts(v int, cfg Config) physic.ElectricPotential {
	ref := c.refVoltage(cfg.Reference)
	return physic.ElectricPotential(int64(v) * int64(ref) / int64(cfg.Resolution.Max()+1))
}

// ReadVoltage reads the pin and returns the voltage at the input.
func (c *Controller) ReadVoltage(ctx context.Context, pin Pin) (physic.ElectricPotential, error) {
	const op = "read"
	ch, ok := c.spec.Route(pin)
	if !ok {
		return 0, c.fail(op, WrongPin, wrongPin(pin, c.id))
	}
	v, cfg, err := c.read(ctx, op, ch, AnalogRead)
	if err != nil {
		return 0, err
	}
	return c.volts(v, cfg), nil
}

// ReadDifferentialVoltage reads the pin pair and returns the voltage across
// the inputs, removing any gain applied by the amplifier.
func (c *Controller) ReadDifferentialVoltage(ctx context.Context, pos, neg Pin) (physic.ElectricPotential, error) {
	v, cfg, err := c.readDifferential(ctx, pos, neg)
	if err != nil {
		return 0, err
	}
	return c.volts(v, cfg) / physic.ElectricPotential(cfg.gain()), nil
}

// ReadTemperature reads the internal temperature sensor.
func (c *Controller) ReadTemperature(ctx context.Context) (physic.Temperature, error) {
	v, cfg, err := c.readInternal(ctx, TemperatureSensor)
	if err != nil {
		return 0, err
	}
	return SensorTemperature(c.volts(v, cfg)), nil
}

// SensorTemperature converts the output of the internal temperature sensor
// to a temperature.
func SensorTemperature(v physic.ElectricPotential) physic.Temperature {
	// millidegrees relative to 25C
	dmc := int64(v-tempSensorV25) * 1000 / int64(tempSensorSlope)
	return physic.ZeroCelsius + 25*physic.Celsius - physic.Temperature(dmc)*physic.MilliKelvin
}
