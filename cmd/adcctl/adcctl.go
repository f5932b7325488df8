// SPDX-License-Identifier: MIT
//
// Copyright © 2019 Kent Gibson <warthog618@gmail.com>.

//go:build linux
// +build linux

package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/warthog618/adc"
	"github.com/warthog618/adc/mmio"
	"github.com/warthog618/adc/sim"
	"github.com/warthog618/config"
	"github.com/warthog618/config/blob"
	"github.com/warthog618/config/blob/decoder/json"
	"github.com/warthog618/config/dict"
	"github.com/warthog618/config/env"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
)

var version = "undefined"

var rootCmd = &cobra.Command{
	Use:   "adcctl",
	Short: "adcctl is a utility to drive on-chip ADC modules",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	PersistentPreRunE: loadSettings,
	Version:           version,
}

var opts = struct {
	Board      string
	Backend    string
	Device     string
	IRQ        string
	Timeout    time.Duration
	Resolution uint
	Conversion string
	Sampling   string
	Reference  string
	Averaging  int
	Gain       int
	Level      int
	Verbose    bool
}{}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.Board, "board", "b", "teensy31", "board type (teensy31 or teensylc)")
	pf.StringVar(&opts.Backend, "backend", "sim", "hardware backend (sim or mmio)")
	pf.StringVarP(&opts.Device, "device", "d", "/dev/adc", "register window device for the mmio backend")
	pf.StringVar(&opts.IRQ, "irq", "", "UIO device for completion interrupts, with %d replaced by the module number")
	pf.DurationVarP(&opts.Timeout, "timeout", "t", 100*time.Millisecond, "conversion timeout")
	pf.UintVarP(&opts.Resolution, "resolution", "r", 10, "resolution in bits (8, 10, 12 or 16)")
	pf.StringVar(&opts.Conversion, "conversion", "medium", "conversion speed")
	pf.StringVar(&opts.Sampling, "sampling", "medium", "sampling speed")
	pf.StringVar(&opts.Reference, "reference", "3v3", "voltage reference (3v3, 1v2 or ext)")
	pf.IntVarP(&opts.Averaging, "averaging", "a", 4, "number of samples averaged (1, 4, 8, 16 or 32)")
	pf.IntVarP(&opts.Gain, "gain", "g", 1, "differential input gain (1, 2, 4, 8, 16, 32 or 64)")
	pf.IntVar(&opts.Level, "level", 1650, "input level of the sim backend in mV")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "log driver activity")
	rootCmd.SetHelpTemplate(rootCmd.HelpTemplate() + extendedRootHelp)
}

var extendedRootHelp = `
Configuration:
  Settings may also be provided through ADCCTL_ environment variables, e.g.
  ADCCTL_BOARD, or a JSON config file, adcctl.json by default or as named by
  ADCCTL_CONFIG_FILE. Flags override both.

Speeds:
  conversion: verylow, low, medium, high16, high, veryhigh,
              async2.4, async4.0, async5.2, async6.2
  sampling:   verylow, low, medium, high, veryhigh
`

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func logErr(cmd *cobra.Command, err error) {
	fmt.Fprintf(os.Stderr, "adcctl %s: %s\n", cmd.Name(), err)
}

func loadConfig() *config.Config {
	defaultConfig := map[string]interface{}{
		"board":      "teensy31",
		"backend":    "sim",
		"device":     "/dev/adc",
		"irq":        "",
		"timeout":    "100ms",
		"resolution": 10,
		"conversion": "medium",
		"sampling":   "medium",
		"reference":  "3v3",
		"averaging":  4,
		"gain":       1,
		"level":      1650,
	}
	def := dict.New(dict.WithMap(defaultConfig))
	cfg := config.New(
		env.New(env.WithEnvPrefix("ADCCTL_")),
		config.WithDefault(def))
	cfg.Append(
		blob.NewConfigFile(cfg, "config.file", "adcctl.json", json.NewDecoder()))
	cfg = cfg.GetConfig("", config.WithMust)
	return cfg
}

// loadSettings fills any flags not explicitly set from the config.
func loadSettings(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	flags := cmd.Flags()
	unset := func(name string) bool {
		return !flags.Changed(name)
	}
	if unset("board") {
		opts.Board = cfg.MustGet("board").String()
	}
	if unset("backend") {
		opts.Backend = cfg.MustGet("backend").String()
	}
	if unset("device") {
		opts.Device = cfg.MustGet("device").String()
	}
	if unset("irq") {
		opts.IRQ = cfg.MustGet("irq").String()
	}
	if unset("timeout") {
		opts.Timeout = cfg.MustGet("timeout").Duration()
	}
	if unset("resolution") {
		opts.Resolution = uint(cfg.MustGet("resolution").Uint())
	}
	if unset("conversion") {
		opts.Conversion = cfg.MustGet("conversion").String()
	}
	if unset("sampling") {
		opts.Sampling = cfg.MustGet("sampling").String()
	}
	if unset("reference") {
		opts.Reference = cfg.MustGet("reference").String()
	}
	if unset("averaging") {
		opts.Averaging = int(cfg.MustGet("averaging").Int())
	}
	if unset("gain") {
		opts.Gain = int(cfg.MustGet("gain").Int())
	}
	if unset("level") {
		opts.Level = int(cfg.MustGet("level").Int())
	}
	return nil
}

var conversionNames = map[string]adc.ConversionSpeed{
	"verylow":  adc.VeryLowSpeed,
	"low":      adc.LowSpeed,
	"medium":   adc.MediumSpeed,
	"high16":   adc.HighSpeed16Bits,
	"high":     adc.HighSpeed,
	"veryhigh": adc.VeryHighSpeed,
	"async2.4": adc.Async2_4,
	"async4.0": adc.Async4_0,
	"async5.2": adc.Async5_2,
	"async6.2": adc.Async6_2,
}

var samplingNames = map[string]adc.SamplingSpeed{
	"verylow":  adc.VeryLowSampling,
	"low":      adc.LowSampling,
	"medium":   adc.MediumSampling,
	"high":     adc.HighSampling,
	"veryhigh": adc.VeryHighSampling,
}

var referenceNames = map[string]adc.Reference{
	"3v3": adc.Vdd3V3,
	"1v2": adc.Internal1V2,
	"ext": adc.External,
}

func moduleConfig() (adc.Config, error) {
	cfg := adc.Config{
		Resolution: adc.Resolution(opts.Resolution),
		Averaging:  opts.Averaging,
		Gain:       opts.Gain,
	}
	var ok bool
	if cfg.Conversion, ok = conversionNames[strings.ToLower(opts.Conversion)]; !ok {
		return cfg, fmt.Errorf("unknown conversion speed '%s'", opts.Conversion)
	}
	if cfg.Sampling, ok = samplingNames[strings.ToLower(opts.Sampling)]; !ok {
		return cfg, fmt.Errorf("unknown sampling speed '%s'", opts.Sampling)
	}
	if cfg.Reference, ok = referenceNames[strings.ToLower(opts.Reference)]; !ok {
		return cfg, fmt.Errorf("unknown reference '%s'", opts.Reference)
	}
	return cfg, nil
}

func newLogger() *zap.Logger {
	if !opts.Verbose {
		return zap.NewNop()
	}
	log, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func board() (*adc.Board, error) {
	b, ok := adc.BoardByName(opts.Board)
	if !ok {
		return nil, fmt.Errorf("unknown board '%s'", opts.Board)
	}
	return b, nil
}

func openHardware(spec *adc.ModuleSpec) (adc.Hardware, error) {
	switch opts.Backend {
	case "sim":
		level := physic.ElectricPotential(opts.Level) * physic.MilliVolt
		return sim.New(spec, sim.WithLevel(level)), nil
	case "mmio":
		var mo []mmio.Option
		if opts.IRQ != "" {
			mo = append(mo, mmio.WithIRQ(fmt.Sprintf(opts.IRQ, int(spec.ID))))
		}
		m, err := mmio.Open(opts.Device, spec.ID, mo...)
		if err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown backend '%s'", opts.Backend)
	}
}

// openDevice opens the board's modules, configured per the settings.
func openDevice(log *zap.Logger) (*adc.Device, error) {
	b, err := board()
	if err != nil {
		return nil, err
	}
	cfg, err := moduleConfig()
	if err != nil {
		return nil, err
	}
	hws := make([]adc.Hardware, 0, len(b.Modules))
	for i := range b.Modules {
		hw, err := openHardware(&b.Modules[i])
		if err != nil {
			return nil, err
		}
		hws = append(hws, hw)
	}
	return adc.Open(b, hws,
		adc.WithLogger(log),
		adc.WithTimeout(opts.Timeout),
		adc.WithConfig(cfg))
}

// withDevice runs fn with the opened device, then reports any error flags
// raised.
func withDevice(cmd *cobra.Command, fn func(d *adc.Device) error) error {
	log := newLogger()
	defer log.Sync()
	d, err := openDevice(log)
	if err != nil {
		return err
	}
	defer d.Close()
	err = fn(d)
	if r := d.ErrorReport(); r != "" {
		logErr(cmd, errors.New(r))
	}
	return err
}

func parsePin(b *adc.Board, arg string) (adc.Pin, error) {
	if p, ok := b.PinByName(arg); ok {
		return p, nil
	}
	p, err := strconv.ParseUint(arg, 10, 8)
	if err != nil {
		return 0, fmt.Errorf("can't parse pin '%s'", arg)
	}
	return adc.Pin(p), nil
}

func parsePins(b *adc.Board, args []string) ([]adc.Pin, error) {
	pp := []adc.Pin(nil)
	for _, arg := range args {
		p, err := parsePin(b, arg)
		if err != nil {
			return nil, err
		}
		pp = append(pp, p)
	}
	return pp, nil
}

func parseModule(arg string) (adc.ModuleID, error) {
	switch strings.ToLower(arg) {
	case "any", "":
		return adc.AnyModule, nil
	case "0", "adc0":
		return adc.Module0, nil
	case "1", "adc1":
		return adc.Module1, nil
	}
	return 0, fmt.Errorf("unknown module '%s'", arg)
}

func pinName(b *adc.Board, p adc.Pin) string {
	for _, n := range b.PinNames() {
		if b.Names[n] == p {
			return n
		}
	}
	return strconv.Itoa(int(p))
}
