package main

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/knight1/candecode/internal/classify"
	"github.com/knight1/candecode/internal/errors"
	"github.com/knight1/candecode/internal/metric"
	"github.com/knight1/candecode/internal/pipeline"
	"github.com/knight1/candecode/internal/signaldb"
	"github.com/knight1/candecode/internal/sink"
	"github.com/knight1/candecode/internal/transport"
)

func runLive(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, flags := newFlagSet("live", stderr)
	flags.addLiveFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	cfg, err := flags.loadConfig(fs)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := setupLogger(stderr, cfg.LogLevel, cfg.LogFormat, runID)

	db, err := signaldb.Load(cfg.DatabasePath)
	if err != nil {
		return err
	}
	logger.Info("loaded signal database", "path", db.Path(), "messages", db.Len())

	opts := cfg.SinkOptions(runID)
	if opts.BaseName == "" {
		opts.BaseName = sink.DefaultBaseName(time.Now())
	}
	if !opts.ToConsole && !opts.ToFile && !opts.ToCBOR {
		logger.Warn("no output enabled, decode-only dry run")
	}
	sinks, err := sink.Open(opts, stdout)
	if err != nil {
		return err
	}
	for _, path := range sinks.Paths() {
		logger.Info("writing decoded records", "path", path)
	}

	bus, err := transport.Open(cfg.Channel, logger)
	if err != nil {
		_ = sinks.Close()
		return err
	}
	logger.Info("CAN interface opened", "channel", cfg.Channel)

	reg := metric.NewRegistry()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := reg.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	driver := pipeline.New(classify.New(db), sinks,
		pipeline.Config{
			FlushInterval:  cfg.FlushIntervalDuration(),
			ReceiveTimeout: cfg.ReceiveTimeoutDuration(),
		},
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(reg.Metrics),
	)
	err = driver.RunLive(ctx, bus)
	if n := bus.Dropped(); n > 0 {
		logger.Warn("frames dropped on a full receive queue", "count", n)
	}
	return err
}
