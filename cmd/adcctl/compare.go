// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

//go:build linux
// +build linux

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/warthog618/adc"
)

func init() {
	compareCmd.Flags().StringVarP(&compareOpts.Module, "module", "m", "any", "module to convert with (0, 1 or any)")
	compareCmd.Flags().BoolVarP(&compareOpts.Outside, "outside", "o", false, "accept results outside the window")
	compareCmd.Flags().UintVarP(&compareOpts.Num, "num-samples", "n", 1, "exit after n samples, or never if 0")
	compareCmd.Flags().BoolVarP(&compareOpts.Push, "push", "p", false, "receive samples via a handler rather than polling")
	compareCmd.SetHelpTemplate(compareCmd.HelpTemplate() + extendedCompareHelp)
	rootCmd.AddCommand(compareCmd)
}

var extendedCompareHelp = `
The window limits are raw results and are inclusive.
Only results inside the window, or outside it with --outside, are displayed.
`

var (
	compareCmd = &cobra.Command{
		Use:     "compare <pin> <low> <high>",
		Short:   "Wait for a pin to enter or leave a window",
		Example: "  adcctl compare A0 200 800\n  adcctl compare -o -n 0 A0 200 800",
		Args:    cobra.ExactArgs(3),
		RunE:    compare,
	}
	compareOpts = struct {
		Module  string
		Outside bool
		Num     uint
		Push    bool
	}{}
)

func compare(cmd *cobra.Command, args []string) error {
	id, err := parseModule(compareOpts.Module)
	if err != nil {
		return err
	}
	b, err := board()
	if err != nil {
		return err
	}
	pin, err := parsePin(b, args[0])
	if err != nil {
		return err
	}
	low, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("can't parse low limit '%s'", args[1])
	}
	high, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("can't parse high limit '%s'", args[2])
	}
	return withDevice(cmd, func(d *adc.Device) error {
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		m, err := moduleFor(d, id, func(s *adc.ModuleSpec) bool {
			_, ok := s.Route(pin)
			return ok
		})
		if err != nil {
			return err
		}
		start := func(so ...adc.StreamOption) (*adc.Stream, error) {
			return m.ArmComparison(ctx, pin, low, high, !compareOpts.Outside, so...)
		}
		return streamSamples(ctx, start, compareOpts.Num, compareOpts.Push)
	})
}
