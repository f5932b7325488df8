// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

//go:build linux
// +build linux

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/warthog618/adc"
	"go.uber.org/multierr"
)

func init() {
	rootCmd.AddCommand(calibrateCmd)
}

var calibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Calibrate the ADC modules",
	Long:  "Recalibrate each module for the current settings and display the result.",
	Args:  cobra.NoArgs,
	RunE:  calibrate,
}

func calibrate(cmd *cobra.Command, args []string) error {
	return withDevice(cmd, func(d *adc.Device) error {
		var errs error
		for _, m := range d.Modules() {
			if err := m.Calibrate(context.Background()); err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			cal, _ := m.Calibration()
			printCalibration(m.ID(), cal)
		}
		return errs
	})
}

func printCalibration(id adc.ModuleID, cal adc.CalibrationResult) {
	fmt.Printf("%s: offset %+.5f gain %.5f at %s\n",
		id, cal.Offset, cal.Gain, cal.Time.Format("15:04:05.000"))
}
