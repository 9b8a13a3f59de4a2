// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/tracebuffer/lib/clock"
	"github.com/bureau-foundation/tracebuffer/lib/config"
	"github.com/bureau-foundation/tracebuffer/lib/flush"
	"github.com/bureau-foundation/tracebuffer/lib/pipeline"
	"github.com/bureau-foundation/tracebuffer/lib/transport"
	"github.com/bureau-foundation/tracebuffer/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		collector   string
		logLevel    string
		dryRun      bool
		showVersion bool
		load        loadOptions
	)

	flagSet := pflag.NewFlagSet("tracebuffer-agent", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to YAML config (default: $TRACEBUFFER_CONFIG, else built-in defaults)")
	flagSet.StringVar(&collector, "collector", "", "collector address, overriding transport.address")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flagSet.BoolVar(&dryRun, "dry-run", false, "count and log units at debug level instead of streaming them to the collector")
	flagSet.BoolVar(&showVersion, "version", false, "print version and exit")
	flagSet.IntVar(&load.Producers, "producers", 4, "concurrent producer goroutines")
	flagSet.IntVar(&load.Traces, "traces", 1000, "traces per producer")
	flagSet.IntVar(&load.Events, "events", 30, "events per trace")
	flagSet.IntVar(&load.AsyncEvery, "async-every", 10, "every Nth trace also runs an async sub-execution (0 disables)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if showVersion {
		fmt.Printf("tracebuffer-agent %s\n", version.Info())
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if err := load.validate(); err != nil {
		return err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	logger := newLogger(level)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if collector != "" {
		cfg.Transport.Address = collector
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	// The sender outlives the pipeline: Stop flushes into it, and
	// only then is its drain pass started.
	var (
		sender transport.Sender
		dryLog *flush.Log
		stream *transport.StreamSender
	)
	senderCancel := context.CancelFunc(func() {})
	senderDone := make(chan struct{})
	if dryRun {
		dryLog = flush.NewLog(logger.With("component", "dry-run"))
		sender = dryLog
		close(senderDone)
	} else {
		stream, err = pipeline.NewStreamSender(cfg, clk, logger)
		if err != nil {
			return fmt.Errorf("creating stream sender: %w", err)
		}
		sender = stream
		var senderContext context.Context
		senderContext, senderCancel = context.WithCancel(context.Background())
		go func() {
			defer close(senderDone)
			stream.Run(senderContext)
		}()
	}
	defer senderCancel()

	p, err := pipeline.New(cfg, sender, clk, logger)
	if err != nil {
		return err
	}
	if err := p.Start(ctx); err != nil {
		return err
	}

	logger.Info("tracebuffer agent running",
		"version", version.AgentVersion(),
		"environment", cfg.Environment,
		"shared", cfg.Shared.Enabled,
		"dry_run", dryRun,
		"producers", load.Producers,
		"traces_per_producer", load.Traces,
		"events_per_trace", load.Events,
		"transport_queue", humanize.IBytes(uint64(cfg.Transport.QueueBytes)),
		"max_frame", humanize.IBytes(uint64(cfg.Transport.MaxFrameBytes)),
	)

	load.Clock = clk
	result := runLoad(ctx, p, load)
	if ctx.Err() != nil {
		logger.Info("interrupted, shutting down")
	}

	p.Stop()
	senderCancel()
	<-senderDone

	stats := p.Stats()
	attrs := []any{
		"traces", result.Traces,
		"events", result.Events,
		"trace_engine", stats.Trace,
		"async_engine", stats.Async,
	}
	if dryLog != nil {
		attrs = append(attrs, "units", dryLog.Units(), "events_sent", dryLog.Events())
	}
	if stream != nil {
		attrs = append(attrs, "transport", stream.Stats())
	}
	logger.Info("load complete", attrs...)
	return nil
}

// loadConfig reads the --config file, else $TRACEBUFFER_CONFIG, else
// the defaults. Validation happens when the pipeline is built, after
// flag overrides.
func loadConfig(path string) (*config.Config, error) {
	switch {
	case path != "":
		return config.LoadFile(path)
	case os.Getenv("TRACEBUFFER_CONFIG") != "":
		return config.Load()
	default:
		return config.Parse(nil)
	}
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `tracebuffer-agent drives synthetic trace load through the buffering
pipeline and streams the resulting units to a collector socket.

Usage:
  tracebuffer-agent [flags]

Examples:
  # Stream to the collector configured in agent.yaml
  tracebuffer-agent --config agent.yaml

  # Exercise the pipeline without a collector
  tracebuffer-agent --dry-run --producers 8 --traces 5000

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
