// Command canemu emulates a CAN node for exercising candecode.
//
// Sensor mode sends a random cabinet temperature on 0x123. DBC mode
// encodes a message from a DBC file with a counter signal.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/knight1/candecode/internal/errors"
	"github.com/knight1/candecode/internal/signaldb"
	"github.com/knight1/candecode/internal/transport"
)

func main() {
	ctx, stop := interruptContext(context.Background())
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// interruptContext is cancelled by the first SIGINT or SIGTERM. Signal
// delivery is then restored to the default, so a second Ctrl-C kills a
// shutdown that hangs.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}

type options struct {
	mode     string
	channel  string
	dbc      string
	message  string
	counter  string
	set      map[string]string
	interval time.Duration
	count    int
	verbose  bool
}

func run(ctx context.Context, args []string, stderr io.Writer) error {
	var opts options
	fs := pflag.NewFlagSet("canemu", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.mode, "mode", "sensor", "what to emulate: sensor, dbc")
	fs.StringVar(&opts.channel, "channel", "vcan0", "CAN interface")
	fs.StringVar(&opts.dbc, "dbc", "", "DBC file (dbc mode)")
	fs.StringVar(&opts.message, "message", "TEST_MSG", "message name to encode (dbc mode)")
	fs.StringVar(&opts.counter, "counter", "ResponseID", "signal incremented on every frame, empty for none (dbc mode)")
	fs.StringToStringVar(&opts.set, "set", nil, "fixed signal values, NAME=VALUE (dbc mode)")
	fs.DurationVar(&opts.interval, "interval", time.Second, "time between frames")
	fs.IntVar(&opts.count, "count", 0, "frames to send, 0 for no limit")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "log every frame")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.interval <= 0 || opts.count < 0 {
		return fmt.Errorf("%w: interval must be positive and count non-negative", errors.ErrInvalidConfig)
	}

	level := slog.LevelWarn
	if opts.verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level})).
		With("service", "canemu", "mode", opts.mode)

	src, err := newSource(opts)
	if err != nil {
		return err
	}

	bus, err := transport.Open(opts.channel, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warn("closing transport failed", "error", err)
		}
	}()
	fmt.Fprintf(stderr, "Emulating %s on %s every %s\n", opts.mode, opts.channel, opts.interval)

	sent, err := emulate(ctx, bus, src, opts.interval, opts.count, logger)
	fmt.Fprintf(stderr, "Sent %d frames\n", sent)
	return err
}

func newSource(opts options) (source, error) {
	switch opts.mode {
	case "sensor":
		return sensorSource{rng: rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))}, nil
	case "dbc":
		if opts.dbc == "" {
			return nil, fmt.Errorf("%w: --dbc is required in dbc mode", errors.ErrInvalidConfig)
		}
		db, err := signaldb.Load(opts.dbc)
		if err != nil {
			return nil, err
		}
		msg, ok := db.MessageByName(opts.message)
		if !ok {
			return nil, fmt.Errorf("%w: no message %q in %s", errors.ErrInvalidConfig, opts.message, opts.dbc)
		}
		if opts.counter != "" {
			if _, ok := msg.Signal(opts.counter); !ok {
				return nil, fmt.Errorf("%w: no signal %q in %s", errors.ErrInvalidConfig, opts.counter, msg.Name)
			}
		}
		fixed, err := parseValues(opts.set)
		if err != nil {
			return nil, err
		}
		return dbcSource{msg: msg, counter: opts.counter, fixed: fixed}, nil
	default:
		return nil, fmt.Errorf("%w: unknown mode %q", errors.ErrInvalidConfig, opts.mode)
	}
}

func parseValues(set map[string]string) (map[string]float64, error) {
	out := make(map[string]float64, len(set))
	for name, text := range set {
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: --set %s=%s: %v", errors.ErrInvalidConfig, name, text, err)
		}
		out[name] = v
	}
	return out, nil
}
