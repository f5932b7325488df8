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
	readCmd.Flags().StringVarP(&readOpts.Module, "module", "m", "any", "module to read with (0, 1 or any)")
	readCmd.Flags().BoolVarP(&readOpts.Volts, "volts", "V", false, "also display the result as a voltage")
	readCmd.Flags().BoolVarP(&readOpts.Short, "short", "s", false, "single line output format")
	readCmd.SetHelpTemplate(readCmd.HelpTemplate() + extendedReadHelp)
	rootCmd.AddCommand(readCmd)
}

var (
	readCmd = &cobra.Command{
		Use:     "read <pin1>...",
		Short:   "Read the value of a pin or pins",
		Example: "  adcctl read A0 A10\n  adcctl read -m 1 -V TEMP",
		Args:    cobra.MinimumNArgs(1),
		RunE:    read,
	}
	readOpts = struct {
		Module string
		Volts  bool
		Short  bool
	}{}
)

var extendedReadHelp = `
Pins:
  Pins may be identified by name (A0-A20, TEMP, BANDGAP, VREFH, VREFL) or
  number.

With module any the least loaded module that can read the pin is used.
`

func read(cmd *cobra.Command, args []string) error {
	id, err := parseModule(readOpts.Module)
	if err != nil {
		return err
	}
	b, err := board()
	if err != nil {
		return err
	}
	pp, err := parsePins(b, args)
	if err != nil {
		return err
	}
	return withDevice(cmd, func(d *adc.Device) error {
		ctx := context.Background()
		vv := make([]int, len(pp))
		for i, p := range pp {
			v, err := d.Read(ctx, p, id)
			if err != nil {
				return err
			}
			vv[i] = v
		}
		if readOpts.Short {
			printValuesShort(vv)
			return nil
		}
		// modules share the one config so either converts to volts.
		m := d.Modules()[0]
		for i, p := range pp {
			if readOpts.Volts {
				fmt.Printf("%-7s %6d  %s\n", pinName(b, p)+":", vv[i], m.Voltage(vv[i]))
				continue
			}
			fmt.Printf("%-7s %6d\n", pinName(b, p)+":", vv[i])
		}
		return nil
	})
}

func printValuesShort(vv []int) {
	fmt.Printf("%d", vv[0])
	for _, v := range vv[1:] {
		fmt.Printf(" %d", v)
	}
	fmt.Println()
}
