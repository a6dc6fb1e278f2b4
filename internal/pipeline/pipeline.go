// Package pipeline drives frames from a source through the classifier
// into the sink set.
//
// Live mode receives from a transport with a bounded wait and flushes
// buffered sinks on a fixed interval; every receive timeout doubles as a
// flush tick. Batch mode walks a finite frame sequence synchronously and
// flushes once at the end. Both modes run on the caller's goroutine and
// stop cooperatively: cancellation is checked once per frame, so a frame
// in flight is always emitted completely.
package pipeline

import (
	"context"
	"iter"
	"log/slog"
	"time"

	"github.com/knight1/candecode/internal/classify"
	"github.com/knight1/candecode/internal/errors"
	"github.com/knight1/candecode/internal/frame"
	"github.com/knight1/candecode/internal/metric"
	"github.com/knight1/candecode/internal/sink"
)

// Clock supplies the current time for flush scheduling.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Receiver is the receive side of a transport.
type Receiver interface {
	Receive(ctx context.Context, timeout time.Duration) (f frame.Frame, ok bool, err error)
	Close() error
}

// Classifier turns a frame into a record.
type Classifier interface {
	Classify(f frame.Frame) classify.Record
}

// Config holds the timing parameters of live mode.
type Config struct {
	FlushInterval  time.Duration
	ReceiveTimeout time.Duration
}

// DefaultConfig flushes every two seconds and waits up to one second per
// receive.
func DefaultConfig() Config {
	return Config{FlushInterval: 2 * time.Second, ReceiveTimeout: time.Second}
}

// Option configures a Driver.
type Option func(*Driver)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(d *Driver) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithMetrics records pipeline counters into m.
func WithMetrics(m *metric.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// Driver owns the execution loop, the flush timer, and the sink set.
// A Driver runs one loop and is not safe for concurrent use.
type Driver struct {
	classifier Classifier
	sinks      *sink.Set
	cfg        Config

	clock   Clock
	logger  *slog.Logger
	metrics *metric.Metrics

	lastFlush time.Time
}

// New returns a Driver emitting into sinks. The driver takes ownership
// of sinks and closes them when its loop ends.
func New(c Classifier, sinks *sink.Set, cfg Config, opts ...Option) *Driver {
	d := &Driver{
		classifier: c,
		sinks:      sinks,
		cfg:        cfg,
		clock:      realClock{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.metrics == nil {
		d.metrics = metric.NewMetrics()
	}
	d.logger = d.logger.With("component", "pipeline")
	return d
}

// RunLive receives and dispatches frames until ctx is cancelled or rx is
// closed. On every exit path the sinks are flushed and closed before rx
// is closed. Only a receive failure other than a closed transport is
// returned.
func (d *Driver) RunLive(ctx context.Context, rx Receiver) error {
	defer d.shutdown(rx)

	d.lastFlush = d.clock.Now()
	for {
		if ctx.Err() != nil {
			d.logger.Info("stop requested")
			return nil
		}

		f, ok, err := rx.Receive(ctx, d.cfg.ReceiveTimeout)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			d.logger.Info("stop requested")
			return nil
		case errors.Is(err, errors.ErrTransportClosed):
			d.logger.Info("transport closed")
			return nil
		default:
			return errors.WrapTransient(err, "Driver", "RunLive", "receive frame")
		}

		if !ok {
			d.metrics.ReceiveTimeouts.Inc()
			d.flushIfDue()
			continue
		}
		if f.IsError {
			d.metrics.ErrorFrames.Inc()
			d.flushIfDue()
			continue
		}

		d.dispatch(f)
		d.flushIfDue()
	}
}

// RunBatch dispatches every frame of frames in order, then flushes and
// closes the sinks. Cancellation stops the walk early and is reported in
// the summary, not as an error.
func (d *Driver) RunBatch(ctx context.Context, frames iter.Seq[frame.Frame]) Summary {
	defer d.shutdown(nil)

	sum := newSummary()
	for f := range frames {
		if ctx.Err() != nil {
			sum.Interrupted = true
			d.logger.Info("stop requested", "frames", sum.Frames)
			break
		}
		if f.IsError {
			sum.ErrorFrames++
			d.metrics.ErrorFrames.Inc()
			continue
		}
		sum.add(d.dispatch(f))
	}
	return sum
}

func (d *Driver) dispatch(f frame.Frame) classify.Record {
	rec := d.classifier.Classify(f)
	d.metrics.Frames.WithLabelValues(rec.Kind.String()).Inc()

	if _, err := d.sinks.Emit(rec); err != nil {
		d.metrics.SinkErrors.Inc()
		d.logger.Warn("sink write failed", "can_id", frame.HexID(f.ID), "error", err)
	}
	return rec
}

func (d *Driver) flushIfDue() {
	if !d.sinks.Buffered() {
		return
	}
	now := d.clock.Now()
	if now.Sub(d.lastFlush) < d.cfg.FlushInterval {
		return
	}
	d.flush()
	d.lastFlush = now
}

func (d *Driver) flush() {
	d.metrics.Flushes.Inc()
	if err := d.sinks.Flush(); err != nil {
		d.metrics.SinkErrors.Inc()
		d.logger.Warn("flush failed", "error", err)
	}
}

// shutdown releases resources in order: sinks first, transport last.
// Failures are logged and swallowed.
func (d *Driver) shutdown(rx Receiver) {
	if d.sinks.Buffered() {
		d.flush()
	}
	if err := d.sinks.Close(); err != nil {
		d.logger.Warn("closing sinks failed", "error", err)
	}
	if rx != nil {
		if err := rx.Close(); err != nil {
			d.logger.Warn("closing transport failed", "error", err)
		}
	}
	d.logger.Info("shutdown complete")
}
