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
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/warthog618/adc"
)

func init() {
	contCmd.Flags().StringVarP(&contOpts.Module, "module", "m", "any", "module to convert with (0, 1 or any)")
	contCmd.Flags().UintVarP(&contOpts.Num, "num-samples", "n", 10, "exit after n samples, or never if 0")
	contCmd.Flags().BoolVarP(&contOpts.Push, "push", "p", false, "receive samples via a handler rather than polling")
	contCmd.Flags().IntVar(&contOpts.Buffer, "buffer", 64, "number of samples buffered")
	contCmd.Flags().DurationVar(&contOpts.Period, "period", 0, "trigger a conversion every period rather than free running")
	contCmd.SetHelpTemplate(contCmd.HelpTemplate() + extendedContHelp)
	rootCmd.AddCommand(contCmd)
}

var extendedContHelp = `
With two pins the pair is converted differentially.

With a period the conversions are timer triggered, else the module converts
back to back.

Samples are displayed as they arrive until the sample count is reached or
the command is interrupted.
`

var (
	contCmd = &cobra.Command{
		Use:     "cont <pin> [neg]",
		Short:   "Continuously convert a pin or pin pair",
		Example: "  adcctl cont -n 100 A0\n  adcctl cont -p A10 A11\n  adcctl cont --period 10ms A0",
		Args:    cobra.RangeArgs(1, 2),
		RunE:    cont,
	}
	contOpts = struct {
		Module string
		Num    uint
		Push   bool
		Buffer int
		Period time.Duration
	}{}
)

func cont(cmd *cobra.Command, args []string) error {
	id, err := parseModule(contOpts.Module)
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
		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
		defer cancel()
		m, err := moduleFor(d, id, func(s *adc.ModuleSpec) bool {
			if len(pp) == 2 {
				_, ok := s.RouteDifferential(pp[0], pp[1])
				return ok
			}
			_, ok := s.Route(pp[0])
			return ok
		})
		if err != nil {
			return err
		}
		start := func(so ...adc.StreamOption) (*adc.Stream, error) {
			so = append(so, adc.WithBufferSize(contOpts.Buffer), adc.WithPeriod(contOpts.Period))
			if len(pp) == 2 {
				return m.StartContinuousDifferential(ctx, pp[0], pp[1], so...)
			}
			return m.StartContinuous(ctx, pp[0], so...)
		}
		return streamSamples(ctx, start, contOpts.Num, contOpts.Push)
	})
}

// moduleFor returns the identified module, or for AnyModule the first
// module that routes the input.
func moduleFor(d *adc.Device, id adc.ModuleID, routes func(*adc.ModuleSpec) bool) (*adc.Controller, error) {
	if id != adc.AnyModule {
		return d.Module(id)
	}
	for _, m := range d.Modules() {
		if routes(m.Spec()) {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: no module can read the input", adc.ErrWrongPin)
}

// streamSamples prints the samples of the stream until num have been
// displayed or ctx is done.
func streamSamples(ctx context.Context, start func(...adc.StreamOption) (*adc.Stream, error), num uint, push bool) error {
	if !push {
		s, err := start()
		if err != nil {
			return err
		}
		defer s.Stop()
		for count := uint(0); num == 0 || count < num; count++ {
			smp, err := s.Next(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			printSample(smp)
		}
		return nil
	}
	var once sync.Once
	enough := make(chan struct{})
	var mu sync.Mutex
	count := uint(0)
	eh := func(smp adc.Sample) {
		mu.Lock()
		defer mu.Unlock()
		if num != 0 && count >= num {
			return
		}
		printSample(smp)
		count++
		if num != 0 && count >= num {
			once.Do(func() { close(enough) })
		}
	}
	s, err := start(adc.OnSample(eh))
	if err != nil {
		return err
	}
	defer s.Stop()
	select {
	case <-enough:
	case <-s.Done():
	case <-ctx.Done():
	}
	return nil
}

func printSample(smp adc.Sample) {
	fmt.Printf("sample:%6d %6d %s\n", smp.Seq, smp.Value, smp.Time.Format(time.RFC3339Nano))
}
