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
	diffCmd.Flags().StringVarP(&diffOpts.Module, "module", "m", "any", "module to read with (0, 1 or any)")
	rootCmd.AddCommand(diffCmd)
}

var (
	diffCmd = &cobra.Command{
		Use:     "diff <pos> <neg>",
		Short:   "Read the difference between a pair of pins",
		Long:    "Perform a differential read of a pin pair. The result is signed.",
		Example: "  adcctl diff A10 A11",
		Args:    cobra.ExactArgs(2),
		RunE:    diff,
	}
	diffOpts = struct {
		Module string
	}{}
)

func diff(cmd *cobra.Command, args []string) error {
	id, err := parseModule(diffOpts.Module)
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
		v, err := d.ReadDifferential(context.Background(), pp[0], pp[1], id)
		if err != nil {
			return err
		}
		fmt.Printf("%s-%s: %d\n", pinName(b, pp[0]), pinName(b, pp[1]), v)
		return nil
	})
}
