// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/spcs-instruments/pfex/lib/config"
	"github.com/spcs-instruments/pfex/lib/supervisor"
)

type options struct {
	path         string
	interpreter  string
	output       string
	email        string
	delayMinutes uint
	loops        int
	verbosity    int
	configPath   string

	address        string
	observeAddress string
	metricsAddress string

	showVersion bool
	help        bool

	flags *pflag.FlagSet
}

func parseOptions(args []string) (*options, error) {
	opts := &options{}
	flagSet := pflag.NewFlagSet("pfex", pflag.ContinueOnError)
	flagSet.StringVarP(&opts.path, "path", "p", "", "acquisition script to run (required)")
	flagSet.StringVar(&opts.interpreter, "interpreter", "python3", "interpreter for the script; empty runs the script directly")
	flagSet.StringVarP(&opts.output, "output", "o", "", "directory for snapshot files (default: current directory)")
	flagSet.StringVarP(&opts.email, "email", "e", "", "address to mail the final snapshot to")
	flagSet.UintVarP(&opts.delayMinutes, "delay", "d", 0, "minutes to wait before the first run")
	flagSet.IntVarP(&opts.loops, "loops", "l", 1, "number of consecutive runs")
	flagSet.IntVarP(&opts.verbosity, "verbosity", "v", 2, "0 error, 1 warn, 2 info, 3 debug (script output), 4 trace")
	flagSet.StringVar(&opts.configPath, "config", "", "YAML configuration file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&opts.address, "address", "", "instrument endpoint host:port")
	flagSet.StringVar(&opts.observeAddress, "observe-address", "", "observation endpoint for pfex-view; empty disables it")
	flagSet.StringVar(&opts.metricsAddress, "metrics-address", "", "Prometheus /metrics endpoint")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	flagSet.BoolVarP(&opts.help, "help", "h", false, "show help")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: pfex --path SCRIPT [flags]\n\nFlags:\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return &options{help: true}, nil
		}
		return nil, err
	}
	opts.flags = flagSet
	if opts.help {
		flagSet.Usage()
		return opts, nil
	}
	if opts.showVersion {
		return opts, nil
	}

	if opts.path == "" {
		return nil, errors.New("--path is required")
	}
	if flagSet.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", flagSet.Args())
	}
	if opts.loops < 1 {
		return nil, fmt.Errorf("--loops must be at least 1, got %d", opts.loops)
	}
	if opts.verbosity < 0 {
		return nil, fmt.Errorf("--verbosity must not be negative, got %d", opts.verbosity)
	}
	return opts, nil
}

// settings loads the configuration file and applies the flags given on
// the command line over it.
func (o *options) settings() (*config.Config, error) {
	var settings *config.Config
	var err error
	if o.configPath != "" {
		settings, err = config.LoadFile(o.configPath)
	} else {
		settings, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if o.output != "" {
		settings.Output.Directory = o.output
	}
	absolute, err := filepath.Abs(settings.Output.Directory)
	if err != nil {
		return nil, fmt.Errorf("resolving output directory: %w", err)
	}
	settings.Output.Directory = absolute

	if o.flags.Changed("interpreter") {
		settings.Run.Interpreter = o.interpreter
	}
	if o.flags.Changed("address") {
		settings.Ingest.Address = o.address
	}
	if o.flags.Changed("observe-address") {
		settings.Observe.Address = o.observeAddress
	}
	if o.flags.Changed("metrics-address") {
		settings.Metrics.Address = o.metricsAddress
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// command builds the acquisition command for the script.
func (o *options) command(settings *config.Config) (supervisor.Command, error) {
	script, err := filepath.Abs(o.path)
	if err != nil {
		return supervisor.Command{}, fmt.Errorf("resolving script path: %w", err)
	}
	if _, err := os.Stat(script); err != nil {
		return supervisor.Command{}, fmt.Errorf("acquisition script: %w", err)
	}

	if settings.Run.Interpreter == "" {
		return supervisor.Command{Path: script, Dir: filepath.Dir(script)}, nil
	}
	args := append(append([]string(nil), settings.Run.InterpreterArgs...), script)
	return supervisor.Command{
		Path: settings.Run.Interpreter,
		Args: args,
		Dir:  filepath.Dir(script),
	}, nil
}
