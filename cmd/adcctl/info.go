// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

//go:build linux
// +build linux

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/warthog618/adc"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Display the board and module configuration",
	Args:  cobra.NoArgs,
	RunE:  info,
}

func info(cmd *cobra.Command, args []string) error {
	return withDevice(cmd, func(d *adc.Device) error {
		b := d.Board()
		fmt.Printf("board %s: %d modules\n", b.Name, len(b.Modules))
		for _, m := range d.Modules() {
			printModule(b, m)
		}
		return nil
	})
}

func printModule(b *adc.Board, m *adc.Controller) {
	cfg := m.Config()
	fmt.Printf("%s: %s\n", m.ID(), m.State())
	fmt.Printf("  resolution: %d bits\n", cfg.Resolution)
	fmt.Printf("  conversion: %s (%s per result)\n", cfg.Conversion,
		adc.ConversionTime(cfg.Resolution, cfg.Conversion, cfg.Sampling))
	fmt.Printf("  sampling:   %s\n", cfg.Sampling)
	fmt.Printf("  reference:  %s (%s)\n", cfg.Reference, m.ReferenceVoltage())
	fmt.Printf("  averaging:  %d\n", cfg.Averaging)
	if cfg.Gain > 1 {
		fmt.Printf("  gain:       %d\n", cfg.Gain)
	}
	if cfg.Compare != nil {
		fmt.Printf("  compare:    %s\n", cfg.Compare)
	}
	if cal, ok := m.Calibration(); ok {
		fmt.Printf("  calibration: offset %+.5f gain %.5f\n", cal.Offset, cal.Gain)
	} else {
		fmt.Printf("  calibration: none\n")
	}
	var pins []string
	for _, n := range b.PinNames() {
		if _, ok := m.Spec().Route(b.Names[n]); ok {
			pins = append(pins, n)
		}
	}
	fmt.Printf("  pins: %s\n", strings.Join(pins, " "))
	if f := m.Errors(); f.Any() {
		fmt.Printf("  errors: %s\n", f)
	}
}
