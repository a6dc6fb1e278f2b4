// Package classify turns one frame into exactly one decode record by
// walking the address candidates against the signal database.
package classify

import (
	"time"

	"github.com/knight1/candecode/internal/address"
	"github.com/knight1/candecode/internal/errors"
	"github.com/knight1/candecode/internal/frame"
	"github.com/knight1/candecode/internal/signaldb"
)

// Kind tags the active case of a Record.
type Kind int

const (
	KindDecoded Kind = iota
	KindUnknown
	KindDecodeError
)

// Sentinel message names used in outputs for the non-decoded kinds.
const (
	UnknownName     = "UNKNOWN"
	DecodeErrorName = "DECODE_ERROR"
)

func (k Kind) String() string {
	switch k {
	case KindDecoded:
		return "decoded"
	case KindUnknown:
		return "unknown"
	case KindDecodeError:
		return "decode_error"
	default:
		return "invalid"
	}
}

// Record is the outcome for one frame. Message and Signals are set only
// for KindDecoded, Reason only for KindDecodeError.
type Record struct {
	Kind      Kind
	ID        uint32
	Timestamp time.Time
	Fields    address.Fields

	Message *signaldb.Message
	Signals signaldb.SignalMap

	Reason string
}

// Name is the message name, or the sentinel for the non-decoded kinds.
func (r Record) Name() string {
	switch r.Kind {
	case KindDecoded:
		return r.Message.Name
	case KindUnknown:
		return UnknownName
	default:
		return DecodeErrorName
	}
}

// Comment is the message comment of a decoded record.
func (r Record) Comment() string {
	if r.Kind == KindDecoded {
		return r.Message.Comment
	}
	return ""
}

// Database is the part of the signal database the classifier needs.
type Database interface {
	Lookup(id uint32) (*signaldb.Message, bool)
	Decode(msg *signaldb.Message, payload []byte) (signaldb.SignalMap, error)
}

// Classifier resolves frames against a Database.
type Classifier struct {
	db Database
}

// New returns a Classifier over db.
func New(db Database) *Classifier {
	return &Classifier{db: db}
}

// Classify decodes f. The first candidate with a definition decides the
// outcome: a successful decode or a decode error. A decode error is
// never retried against the group candidate.
func (c *Classifier) Classify(f frame.Frame) Record {
	fields, candidates := address.Resolve(f.ID)
	rec := Record{ID: f.ID, Timestamp: f.Timestamp, Fields: fields}

	for _, id := range candidates {
		msg, ok := c.db.Lookup(id)
		if !ok {
			continue
		}
		signals, err := c.db.Decode(msg, f.Data)
		if err != nil {
			rec.Kind = KindDecodeError
			rec.Reason = reason(err)
			return rec
		}
		rec.Kind = KindDecoded
		rec.Message = msg
		rec.Signals = signals
		return rec
	}

	rec.Kind = KindUnknown
	return rec
}

func reason(err error) string {
	var failure *signaldb.DecodeFailure
	if errors.As(err, &failure) {
		return failure.Reason
	}
	return err.Error()
}
