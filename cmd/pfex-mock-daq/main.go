// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// pfex-mock-daq is a scripted instrument. Run it as the acquisition
// script of pfex (pfex --interpreter "" --path pfex-mock-daq) or on its
// own against a listening pfex: it sends an experiment descriptor and
// then a device update per simulated instrument every interval, as
// described by a JSONC scenario file.
//
// The collector address comes from --address, then PFEX_ADDRESS (set by
// pfex for its child), then 127.0.0.1:7676.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/spcs-instruments/pfex/lib/clock"
	"github.com/spcs-instruments/pfex/lib/ingest"
	"github.com/spcs-instruments/pfex/lib/process"
	"github.com/spcs-instruments/pfex/lib/runstate"
	"github.com/spcs-instruments/pfex/lib/supervisor"
	"github.com/spcs-instruments/pfex/lib/version"
)

// errScenarioFailure is the scripted failure of fail_after.
var errScenarioFailure = errors.New("scripted acquisition failure")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errScenarioFailure) {
			os.Exit(3)
		}
		process.Fatal(err)
	}
}

func run(args []string) error {
	var scenarioPath string
	var address string
	var steps int
	var interval time.Duration
	var showVersion bool

	flagSet := pflag.NewFlagSet("pfex-mock-daq", pflag.ContinueOnError)
	flagSet.StringVarP(&scenarioPath, "scenario", "s", "", "JSONC scenario file (default: built-in two-device scan)")
	flagSet.StringVarP(&address, "address", "a", "", "collector address (default: $"+supervisor.AddressVariable+" or "+ingest.DefaultAddress+")")
	flagSet.IntVar(&steps, "steps", 0, "override the scenario's step count")
	flagSet.DurationVar(&interval, "interval", 0, "override the scenario's step interval")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("pfex-mock-daq %s\n", version.Full())
		return nil
	}

	scenario := DefaultScenario()
	if scenarioPath != "" {
		var err error
		if scenario, err = ReadScenario(scenarioPath); err != nil {
			return err
		}
	}
	if steps > 0 {
		scenario.Steps = steps
	}
	if interval > 0 {
		scenario.Interval = Duration(interval)
	}

	if address == "" {
		address = os.Getenv(supervisor.AddressVariable)
	}
	if address == "" {
		address = ingest.DefaultAddress
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	return play(ctx, scenario, player{
		address: address,
		clock:   clock.Real(),
		logger:  logger,
		stderr:  os.Stderr,
	})
}

type player struct {
	address string
	clock   clock.Clock
	logger  *slog.Logger
	stderr  io.Writer
}

// play runs the scenario against the collector at p.address.
func play(ctx context.Context, scenario *Scenario, p player) error {
	client, err := ingest.Dial(ctx, p.address)
	if err != nil {
		return err
	}
	defer client.Close()

	if spec := scenario.Experiment; spec != nil {
		reply, err := client.SendExperiment(ctx, runstate.ExperimentInfo{
			Name:                  spec.Name,
			Email:                 spec.Email,
			ExperimentName:        spec.ExperimentName,
			ExperimentDescription: spec.ExperimentDescription,
		})
		if err != nil {
			return err
		}
		p.logger.Info("experiment sent", "reply", reply)
	}

	ticker := p.clock.NewTicker(max(time.Duration(scenario.Interval), time.Millisecond))
	defer ticker.Stop()

	for step := 0; step < scenario.Steps; step++ {
		if step > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}

		for _, device := range scenario.Devices {
			reply, err := client.SendDevice(ctx, device.Name, device.Config, device.MeasurementsAt(step))
			if err != nil {
				return fmt.Errorf("step %d device %s: %w", step, device.Name, err)
			}
			if reply != ingest.AckDevice {
				p.logger.Warn("collector rejected update", "step", step, "device", device.Name, "reply", reply)
			}
		}
		p.logger.Info("step sent", "step", step+1, "of", scenario.Steps)

		if scenario.FailAfter > 0 && step+1 == scenario.FailAfter {
			fmt.Fprintln(p.stderr, supervisor.DefaultTracebackMarker)
			fmt.Fprintf(p.stderr, "  step %d\n", step+1)
			fmt.Fprintln(p.stderr, "RuntimeError: scripted acquisition failure")
			return errScenarioFailure
		}
	}
	return nil
}
