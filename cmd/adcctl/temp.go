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
)

func init() {
	rootCmd.AddCommand(tempCmd)
}

var tempCmd = &cobra.Command{
	Use:   "temp",
	Short: "Read the on-chip temperature sensor",
	Args:  cobra.NoArgs,
	RunE:  temp,
}

func temp(cmd *cobra.Command, args []string) error {
	return withDevice(cmd, func(d *adc.Device) error {
		for _, m := range d.Modules() {
			t, err := m.ReadTemperature(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("%s: %s\n", m.ID(), t)
		}
		return nil
	})
}
