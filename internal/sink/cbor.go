package sink

import (
	"bufio"
	"os"

	"github.com/fxamacker/cbor/v2"

	"github.com/knight1/candecode/internal/classify"
	"github.com/knight1/candecode/internal/errors"
)

// StreamHeader is the first item of a CBOR record stream.
type StreamHeader struct {
	RunID string `cbor:"run_id"`
	Flat  bool   `cbor:"flat"`
}

// Item is one frame in a CBOR record stream. The format nests natively,
// so every frame is one item whatever the CSV shape.
type Item struct {
	Timestamp string         `cbor:"timestamp_iso"`
	ID        string         `cbor:"can_id_hex"`
	Message   string         `cbor:"message"`
	XRCC      uint8          `cbor:"xrcc"`
	Battery   uint8          `cbor:"battery"`
	Signals   map[string]any `cbor:"signals,omitempty"`
	Error     string         `cbor:"error,omitempty"`
	Comment   string         `cbor:"msg_comment,omitempty"`
}

// NewItem builds the CBOR item for rec.
func NewItem(rec classify.Record, meta Meta) Item {
	item := Item{
		Timestamp: meta.Timestamp,
		ID:        meta.ID,
		Message:   rec.Name(),
		XRCC:      rec.Fields.XRCC,
		Battery:   rec.Fields.Battery,
		Comment:   rec.Comment(),
	}
	switch rec.Kind {
	case classify.KindDecoded:
		item.Signals = make(map[string]any, len(rec.Signals))
		for _, sv := range rec.Signals {
			item.Signals[sv.Name] = sv.Value.Interface()
		}
	case classify.KindDecodeError:
		item.Error = rec.Reason
	}
	return item
}

// CBORSink writes a header item followed by one item per frame.
type CBORSink struct {
	path string
	file *os.File
	buf  *bufio.Writer
	enc  *cbor.Encoder
}

// CreateCBOR creates path and writes the stream header.
func CreateCBOR(path string, header StreamHeader) (*CBORSink, error) {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, errors.WrapFatal(err, "CBORSink", "CreateCBOR", "build encoder mode")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, errors.WrapFatal(err, "CBORSink", "CreateCBOR", "create "+path)
	}
	buf := bufio.NewWriter(f)
	s := &CBORSink{path: path, file: f, buf: buf, enc: mode.NewEncoder(buf)}
	if err := s.enc.Encode(header); err != nil {
		_ = f.Close()
		return nil, errors.WrapFatal(err, "CBORSink", "CreateCBOR", "write header")
	}
	return s, nil
}

// Path is the file being written.
func (s *CBORSink) Path() string { return s.path }

func (s *CBORSink) Emit(rec classify.Record, meta Meta) error {
	if err := s.enc.Encode(NewItem(rec, meta)); err != nil {
		return errors.WrapTransient(err, "CBORSink", "Emit", "encode item")
	}
	return nil
}

func (s *CBORSink) Flush() error {
	if err := s.buf.Flush(); err != nil {
		return errors.WrapTransient(err, "CBORSink", "Flush", "flush buffer")
	}
	return nil
}

func (s *CBORSink) Close() error {
	if s.file == nil {
		return nil
	}
	var errs []error
	if err := s.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := s.file.Close(); err != nil {
		errs = append(errs, errors.WrapTransient(err, "CBORSink", "Close", "close "+s.path))
	}
	s.file = nil
	return errors.Join(errs...)
}
