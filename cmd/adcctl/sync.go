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
	syncCmd.Flags().BoolVarP(&syncOpts.Differential, "differential", "D", false, "read two differential pairs")
	syncCmd.Flags().UintVarP(&syncOpts.Num, "num-reads", "n", 1, "number of paired reads")
	syncCmd.SetHelpTemplate(syncCmd.HelpTemplate() + extendedSyncHelp)
	rootCmd.AddCommand(syncCmd)
}

var extendedSyncHelp = `
The first pin, or pair, is read by ADC0 and the second by ADC1, with both
conversions started together. Requires a board with two modules.
`

var (
	syncCmd = &cobra.Command{
		Use:     "sync <pin0> <pin1>",
		Short:   "Read two pins simultaneously",
		Example: "  adcctl sync A2 A3\n  adcctl sync -D A10 A11 A12 A13",
		Args:    cobra.RangeArgs(2, 4),
		RunE:    syncRead,
	}
	syncOpts = struct {
		Differential bool
		Num          uint
	}{}
)

func syncRead(cmd *cobra.Command, args []string) error {
	want := 2
	if syncOpts.Differential {
		want = 4
	}
	if len(args) != want {
		return fmt.Errorf("expected %d pins, got %d", want, len(args))
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
		p, err := d.Pair()
		if err != nil {
			return err
		}
		ctx := context.Background()
		for i := uint(0); i < syncOpts.Num; i++ {
			var r adc.PairResult
			if syncOpts.Differential {
				r, err = p.ReadDifferential(ctx, pp[0], pp[1], pp[2], pp[3])
			} else {
				r, err = p.Read(ctx, pp[0], pp[1])
			}
			if err != nil {
				return err
			}
			fmt.Printf("ADC0: %6d  ADC1: %6d\n", r.ADC0, r.ADC1)
		}
		return nil
	})
}
