// Package sink renders decode records to the configured outputs: the
// console, a tidy or flat CSV file, and a CBOR record stream. A Set fans
// every record out to all active sinks in arrival order.
package sink

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/knight1/candecode/internal/classify"
	"github.com/knight1/candecode/internal/errors"
)

// Sink is one output.
type Sink interface {
	Emit(rec classify.Record, meta Meta) error
	Flush() error
	Close() error
}

// Options select and shape the outputs. They are fixed for the life of
// the process.
type Options struct {
	ToConsole   bool
	ToFile      bool
	ToCBOR      bool
	Flat        bool
	DropUnknown bool

	OutputDir   string
	BaseName    string
	Compression Compression
	Location    *time.Location
	RunID       string
}

// DefaultBaseName is the file base used when none is configured.
func DefaultBaseName(now time.Time) string {
	return "canlog_" + now.Format("20060102_150405")
}

// Set fans records out to every active sink.
type Set struct {
	sinks    []Sink
	paths    []string
	buffered bool
	drop     bool
	loc      *time.Location
}

// NewSet builds a Set over already opened sinks.
func NewSet(opts Options, sinks ...Sink) *Set {
	s := &Set{sinks: sinks, drop: opts.DropUnknown, loc: opts.Location}
	for _, sk := range sinks {
		if _, ok := sk.(*ConsoleSink); !ok {
			s.buffered = true
		}
	}
	return s
}

// Open creates the sinks selected by opts. File sinks are created under
// opts.OutputDir; the console sink writes to stdout.
func Open(opts Options, stdout io.Writer) (*Set, error) {
	var sinks []Sink
	var paths []string
	fail := func(err error) (*Set, error) {
		for _, sk := range sinks {
			_ = sk.Close()
		}
		return nil, err
	}

	if opts.ToFile || opts.ToCBOR {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return nil, errors.WrapFatal(err, "Set", "Open", "create output directory")
		}
	}

	r := Renderer{Flat: opts.Flat}
	if opts.ToConsole {
		sinks = append(sinks, NewConsoleSink(stdout, r))
	}
	if opts.ToFile {
		path := filepath.Join(opts.OutputDir, opts.BaseName+".csv"+opts.Compression.Ext())
		csvSink, err := CreateCSV(path, r, opts.Compression)
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, csvSink)
		paths = append(paths, path)
	}
	if opts.ToCBOR {
		path := filepath.Join(opts.OutputDir, opts.BaseName+".cbor")
		cborSink, err := CreateCBOR(path, StreamHeader{RunID: opts.RunID, Flat: opts.Flat})
		if err != nil {
			return fail(err)
		}
		sinks = append(sinks, cborSink)
		paths = append(paths, path)
	}

	s := NewSet(opts, sinks...)
	s.paths = paths
	return s, nil
}

// Paths lists the files being written.
func (s *Set) Paths() []string { return s.paths }

// Len is the number of active sinks.
func (s *Set) Len() int { return len(s.sinks) }

// Buffered reports whether any sink needs periodic flushing.
func (s *Set) Buffered() bool { return s.buffered }

// Emit renders rec to every sink. Unknown records are dropped when so
// configured. A failing sink does not stop the others.
func (s *Set) Emit(rec classify.Record) (emitted bool, err error) {
	if rec.Kind == classify.KindUnknown && s.drop {
		return false, nil
	}
	meta := NewMeta(rec, s.loc)
	var errs []error
	for _, sk := range s.sinks {
		if err := sk.Emit(rec, meta); err != nil {
			errs = append(errs, err)
		}
	}
	return true, errors.Join(errs...)
}

// Flush pushes buffered output of every sink to the OS.
func (s *Set) Flush() error {
	var errs []error
	for _, sk := range s.sinks {
		if err := sk.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close flushes and closes every sink, continuing past failures.
func (s *Set) Close() error {
	var errs []error
	for _, sk := range s.sinks {
		if err := sk.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ConsoleSink prints each output unit as soon as it is emitted.
type ConsoleSink struct {
	w io.Writer
	r Renderer
}

// NewConsoleSink returns a console sink writing to w.
func NewConsoleSink(w io.Writer, r Renderer) *ConsoleSink {
	return &ConsoleSink{w: w, r: r}
}

func (c *ConsoleSink) Emit(rec classify.Record, meta Meta) error {
	for _, line := range c.r.Lines(rec, meta) {
		if _, err := fmt.Fprintln(c.w, line); err != nil {
			return errors.WrapTransient(err, "ConsoleSink", "Emit", "write line")
		}
	}
	return nil
}

func (c *ConsoleSink) Flush() error { return nil }

func (c *ConsoleSink) Close() error { return nil }
