package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/knight1/candecode/internal/canlog"
	"github.com/knight1/candecode/internal/classify"
	"github.com/knight1/candecode/internal/errors"
	"github.com/knight1/candecode/internal/metric"
	"github.com/knight1/candecode/internal/pipeline"
	"github.com/knight1/candecode/internal/signaldb"
	"github.com/knight1/candecode/internal/sink"
)

func runBatch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, flags := newFlagSet("batch", stderr)
	if err := parseFlags(fs, args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if fs.NArg() != 1 {
		return errors.WrapInvalid(fmt.Errorf("%w: expected one input log, got %d", errors.ErrInvalidConfig, fs.NArg()),
			"CLI", "runBatch", "parse arguments")
	}
	input := fs.Arg(0)

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

	in, err := openInput(input)
	if err != nil {
		return err
	}
	defer in.Close()

	opts := cfg.SinkOptions(runID)
	if opts.BaseName == "" {
		opts.BaseName = batchBaseName(input)
	}
	if !opts.ToConsole && !opts.ToFile && !opts.ToCBOR {
		opts.ToFile = true
	}
	sinks, err := sink.Open(opts, stdout)
	if err != nil {
		return err
	}
	for _, path := range sinks.Paths() {
		logger.Info("writing decoded records", "path", path)
	}

	scanner := canlog.NewScanner(in)
	driver := pipeline.New(classify.New(db), sinks, pipeline.DefaultConfig(),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metric.NewMetrics()),
	)
	sum := driver.RunBatch(ctx, scanner.Frames())
	if err := scanner.Err(); err != nil {
		return errors.WrapFatal(err, "CLI", "runBatch", "read "+input)
	}

	out := stdout
	if opts.ToConsole {
		out = stderr
	}
	printSummary(out, input, scanner, sum, sinks.Paths())
	return nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "CLI", "openInput", "open input log")
	}
	return f, nil
}

// batchBaseName derives the output name from the input log name.
func batchBaseName(input string) string {
	if input == "-" {
		return "stdin_decoded"
	}
	base := filepath.Base(input)
	return strings.TrimSuffix(base, filepath.Ext(base)) + "_decoded"
}
