// Copyright 2026 The pfex Authors
// SPDX-License-Identifier: Apache-2.0

// pfex-view is a live terminal view of a pfex run. It connects to the
// observation endpoint pfex opens on observe.address (127.0.0.1:7677
// unless configured otherwise) and follows it across consecutive runs
// of a --loops invocation.
//
// Usage:
//
//	pfex-view [--address HOST:PORT] [--log-output FILE]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/spcs-instruments/pfex/lib/config"
	"github.com/spcs-instruments/pfex/lib/process"
	"github.com/spcs-instruments/pfex/lib/runview"
	"github.com/spcs-instruments/pfex/lib/version"
)

// defaultAddress is used when neither --address nor a configured
// observe.address is available.
const defaultAddress = config.DefaultObserveAddress

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var address string
	var logOutput string
	var showVersion bool

	flagSet := pflag.NewFlagSet("pfex-view", pflag.ContinueOnError)
	flagSet.StringVarP(&address, "address", "a", "", "observation endpoint (default: observe.address from the config, else "+defaultAddress+")")
	flagSet.StringVar(&logOutput, "log-output", "", "write JSON log records to this file")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	flagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "pfex-view: live terminal view of a pfex run.\n\nUsage:\n  pfex-view [flags]\n\nFlags:\n%s", flagSet.FlagUsages())
	}
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("pfex-view %s\n", version.Full())
		return nil
	}
	if flagSet.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", flagSet.Arg(0))
	}

	if address == "" {
		var err error
		if address, err = configuredAddress(); err != nil {
			return err
		}
	}

	logger := slog.New(slog.DiscardHandler)
	if logOutput != "" {
		file, err := os.OpenFile(logOutput, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log output: %w", err)
		}
		defer file.Close()
		logger = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := runview.Follow(ctx, runview.FollowConfig{Address: address, Logger: logger})

	program := tea.NewProgram(runview.NewModel(address, events, nil), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

// configuredAddress reads observe.address from the pfex configuration.
func configuredAddress() (string, error) {
	settings, err := config.Load()
	if err != nil {
		return "", err
	}
	if settings.Observe.Address != "" {
		return settings.Observe.Address, nil
	}
	return defaultAddress, nil
}
