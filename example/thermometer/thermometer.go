// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

//go:build linux
// +build linux

// A simple example that periodically reads the on-chip temperature sensor
// through ADC0.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/warthog618/adc"
	"github.com/warthog618/adc/mmio"
	"github.com/warthog618/adc/sim"
	"github.com/warthog618/config"
	"github.com/warthog618/config/blob"
	"github.com/warthog618/config/blob/decoder/json"
	"github.com/warthog618/config/dict"
	"github.com/warthog618/config/env"
	"github.com/warthog618/config/pflag"
	"periph.io/x/conn/v3/physic"
)

// This example reads the temperature sensor of ADC0 every period.
// The module is either simulated or mapped from the device named in the
// configuration (env, flag or config file). The defaults are defined in
// loadConfig.
func main() {
	cfg := loadConfig()
	board, ok := adc.BoardByName(cfg.MustGet("board").String())
	if !ok {
		panic("unknown board")
	}
	spec := &board.Modules[0]
	var hw adc.Hardware
	if dev := cfg.MustGet("device").String(); dev != "" {
		m, err := mmio.Open(dev, spec.ID)
		if err != nil {
			panic(err)
		}
		hw = m
	} else {
		s := sim.New(spec)
		s.SetSource(adc.TemperatureSensor, 700*physic.MilliVolt)
		hw = s
	}
	c, err := adc.NewController(spec, hw,
		adc.WithConfig(adc.Config{
			Resolution: adc.Bits16,
			Conversion: adc.LowSpeed,
			Sampling:   adc.VeryLowSampling,
			Reference:  adc.Vdd3V3,
			Averaging:  32,
		}))
	if err != nil {
		panic(err)
	}
	defer c.Close()
	period := cfg.MustGet("period").Duration()
	count := int(cfg.MustGet("count").Int())
	for i := 0; i < count; i++ {
		t, err := c.ReadTemperature(context.Background())
		if err != nil {
			fmt.Println(err)
		} else {
			fmt.Printf("%s\n", t)
		}
		time.Sleep(period)
	}
}

func loadConfig() *config.Config {
	defaultConfig := map[string]interface{}{
		"board":  "teensy31",
		"device": "",
		"period": "1s",
		"count":  10,
	}
	def := dict.New(dict.WithMap(defaultConfig))
	cfg := config.New(
		pflag.New(pflag.WithFlags(
			[]pflag.Flag{{Short: 'c', Name: "config-file"}})),
		env.New(env.WithEnvPrefix("THERMOMETER_")),
		config.WithDefault(def))
	cfg.Append(
		blob.NewConfigFile(cfg, "config.file", "thermometer.json", json.NewDecoder()))
	cfg = cfg.GetConfig("", config.WithMust)
	return cfg
}
