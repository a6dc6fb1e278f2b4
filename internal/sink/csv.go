package sink

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/knight1/candecode/internal/classify"
	"github.com/knight1/candecode/internal/errors"
)

// Compression selects an optional stream compressor for the CSV file.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
	CompressionZstd Compression = "zstd"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression validates a configured compression name. Empty means none.
func ParseCompression(name string) (Compression, error) {
	switch c := Compression(strings.ToLower(name)); c {
	case "", CompressionNone:
		return CompressionNone, nil
	case CompressionGzip, CompressionZstd, CompressionLZ4:
		return c, nil
	default:
		return "", fmt.Errorf("unknown compression %q", name)
	}
}

// Ext is the file name suffix added after .csv.
func (c Compression) Ext() string {
	switch c {
	case CompressionGzip:
		return ".gz"
	case CompressionZstd:
		return ".zst"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

type compressor interface {
	io.WriteCloser
	Flush() error
}

func newCompressor(c Compression, w io.Writer) (compressor, error) {
	switch c {
	case CompressionGzip:
		return gzip.NewWriter(w), nil
	case CompressionZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, nil
	}
}

// CSVSink appends rows to one CSV file for the life of the process. The
// header is written once at creation.
type CSVSink struct {
	path string
	file *os.File
	comp compressor
	w    *csv.Writer
	r    Renderer
}

// CreateCSV creates path, truncating any previous content, and writes
// the header for r's shape.
func CreateCSV(path string, r Renderer, c Compression) (*CSVSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "CSVSink", "CreateCSV", "create "+path)
	}

	s := &CSVSink{path: path, file: f, r: r}
	var out io.Writer = f
	comp, err := newCompressor(c, f)
	if err != nil {
		_ = f.Close()
		return nil, errors.WrapFatal(err, "CSVSink", "CreateCSV", "start "+string(c)+" compressor")
	}
	if comp != nil {
		s.comp = comp
		out = comp
	}
	s.w = csv.NewWriter(out)

	if err := s.w.Write(r.Header()); err != nil {
		_ = f.Close()
		return nil, errors.WrapFatal(err, "CSVSink", "CreateCSV", "write header")
	}
	return s, nil
}

// Path is the file being written.
func (s *CSVSink) Path() string { return s.path }

func (s *CSVSink) Emit(rec classify.Record, meta Meta) error {
	for _, row := range s.r.Rows(rec, meta) {
		if err := s.w.Write(row); err != nil {
			return errors.WrapTransient(err, "CSVSink", "Emit", "write row")
		}
	}
	return nil
}

// Flush hands buffered rows to the OS, through the compressor if any.
func (s *CSVSink) Flush() error {
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return errors.WrapTransient(err, "CSVSink", "Flush", "flush rows")
	}
	if s.comp != nil {
		if err := s.comp.Flush(); err != nil {
			return errors.WrapTransient(err, "CSVSink", "Flush", "flush compressor")
		}
	}
	return nil
}

// Close flushes, finishes the compressed stream and closes the file.
func (s *CSVSink) Close() error {
	if s.file == nil {
		return nil
	}
	var errs []error
	if err := s.Flush(); err != nil {
		errs = append(errs, err)
	}
	if s.comp != nil {
		if err := s.comp.Close(); err != nil {
			errs = append(errs, errors.WrapTransient(err, "CSVSink", "Close", "finish compressor"))
		}
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, errors.WrapTransient(err, "CSVSink", "Close", "close "+s.path))
	}
	s.file = nil
	return errors.Join(errs...)
}
