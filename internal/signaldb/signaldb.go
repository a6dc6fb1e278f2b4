// Package signaldb loads a DBC message catalog and decodes payloads into
// named, scaled signal values. Grammar parsing and bit unpacking are
// delegated to go.einride.tech/can; this package only indexes the
// catalog by identifier and applies multiplexing and value descriptions.
package signaldb

import (
	"fmt"
	"math"
	"os"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/dbc"
	"go.einride.tech/can/pkg/descriptor"

	"github.com/knight1/candecode/internal/errors"
	"github.com/knight1/candecode/internal/frame"
)

// independentSignals is the pseudo message Vector tools use to park
// signals that belong to no frame.
const independentSignals = "VECTOR__INDEPENDENT_SIG_MSG"

// Signal is one signal of a message definition.
type Signal struct {
	Name    string
	Comment string
	Unit    string

	multiplexer bool
	multiplexed bool
	muxValue    uint64
	choices     map[int64]string
	desc        *descriptor.Signal
}

// Choice returns the label for a raw value, if the signal has one.
func (s *Signal) Choice(raw int64) (string, bool) {
	label, ok := s.choices[raw]
	return label, ok
}

func (s *Signal) raw(d can.Data) int64 {
	if s.desc.IsSigned {
		return s.desc.UnmarshalSigned(d)
	}
	return int64(s.desc.UnmarshalUnsigned(d))
}

// Message is a message definition. Signals keep the order of the DBC file.
type Message struct {
	ID       uint32
	Extended bool
	Name     string
	Comment  string
	Length   uint8
	Signals  []*Signal

	mux *Signal
}

// Signal returns the named signal definition.
func (m *Message) Signal(name string) (*Signal, bool) {
	for _, s := range m.Signals {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Database is a loaded catalog, read-only after Load.
type Database struct {
	path     string
	messages map[uint32]*Message
	byName   map[string]*Message
}

// Load reads and indexes a DBC file.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Database", "Load", "read "+path)
	}
	db, err := Parse(path, data)
	if err != nil {
		return nil, errors.WrapFatal(err, "Database", "Load", "parse "+path)
	}
	return db, nil
}

// Parse indexes DBC source held in memory. name is only used in parser
// error positions.
func Parse(name string, data []byte) (*Database, error) {
	p := dbc.NewParser(name, data)
	if err := p.Parse(); err != nil {
		return nil, err
	}

	db := &Database{
		path:     name,
		messages: make(map[uint32]*Message),
		byName:   make(map[string]*Message),
	}

	var comments []*dbc.CommentDef
	var valueDescs []*dbc.ValueDescriptionsDef
	for _, def := range p.Defs() {
		switch d := def.(type) {
		case *dbc.MessageDef:
			if string(d.Name) == independentSignals {
				continue
			}
			msg := newMessage(d)
			db.messages[msg.ID] = msg
			db.byName[msg.Name] = msg
		case *dbc.CommentDef:
			comments = append(comments, d)
		case *dbc.ValueDescriptionsDef:
			valueDescs = append(valueDescs, d)
		}
	}

	for _, c := range comments {
		msg, ok := db.messages[uint32(c.MessageID)&frame.MaskExtended]
		if !ok {
			continue
		}
		switch c.ObjectType {
		case dbc.ObjectTypeMessage:
			msg.Comment = c.Comment
		case dbc.ObjectTypeSignal:
			if sig, ok := msg.Signal(string(c.SignalName)); ok {
				sig.Comment = c.Comment
			}
		}
	}

	for _, v := range valueDescs {
		if v.ObjectType != dbc.ObjectTypeSignal {
			continue
		}
		msg, ok := db.messages[uint32(v.MessageID)&frame.MaskExtended]
		if !ok {
			continue
		}
		sig, ok := msg.Signal(string(v.SignalName))
		if !ok {
			continue
		}
		for _, vd := range v.ValueDescriptions {
			sig.choices[int64(vd.Value)] = vd.Description
		}
	}

	return db, nil
}

func newMessage(d *dbc.MessageDef) *Message {
	length := uint64(d.Size)
	if length > frame.MaxDataLength {
		length = frame.MaxDataLength
	}
	msg := &Message{
		ID:       uint32(d.MessageID) & frame.MaskExtended,
		Extended: uint32(d.MessageID)&frame.FlagExtended != 0,
		Name:     string(d.Name),
		Length:   uint8(length),
	}
	for _, sd := range d.Signals {
		sig := &Signal{
			Name:        string(sd.Name),
			Unit:        sd.Unit,
			multiplexer: sd.IsMultiplexerSwitch,
			multiplexed: sd.IsMultiplexed,
			muxValue:    uint64(sd.MultiplexerSwitch),
			choices:     make(map[int64]string),
			desc: &descriptor.Signal{
				Name:        string(sd.Name),
				Start:       uint8(sd.StartBit),
				Length:      uint8(sd.Size),
				IsBigEndian: sd.IsBigEndian,
				IsSigned:    sd.IsSigned,
				Scale:       sd.Factor,
				Offset:      sd.Offset,
				Unit:        sd.Unit,
			},
		}
		if sig.multiplexer {
			msg.mux = sig
		}
		msg.Signals = append(msg.Signals, sig)
	}
	return msg
}

// Path is the file the catalog was loaded from.
func (db *Database) Path() string { return db.path }

// Len is the number of message definitions.
func (db *Database) Len() int { return len(db.messages) }

// Lookup returns the definition registered for id.
func (db *Database) Lookup(id uint32) (*Message, bool) {
	msg, ok := db.messages[id]
	return msg, ok
}

// MessageByName returns the definition with the given name.
func (db *Database) MessageByName(name string) (*Message, bool) {
	msg, ok := db.byName[name]
	return msg, ok
}

// Decode unpacks payload according to msg. Scaling is applied and value
// descriptions replace numeric values. A payload that does not fit the
// definition yields a *DecodeFailure.
func (db *Database) Decode(msg *Message, payload []byte) (SignalMap, error) {
	if len(payload) < int(msg.Length) {
		return nil, &DecodeFailure{
			Message: msg.Name,
			Reason:  fmt.Sprintf("wrong data size: got %d, want %d bytes", len(payload), msg.Length),
		}
	}

	var data can.Data
	copy(data[:], payload)

	var muxValue uint64
	if msg.mux != nil {
		muxValue = msg.mux.desc.UnmarshalUnsigned(data)
	}

	out := make(SignalMap, 0, len(msg.Signals))
	selected := false
	for _, sig := range msg.Signals {
		if sig.multiplexed {
			if msg.mux == nil || sig.muxValue != muxValue {
				continue
			}
			selected = true
		}
		out = append(out, SignalValue{Name: sig.Name, Value: decodeSignal(sig, data)})
	}

	if msg.mux != nil && !selected && hasMultiplexed(msg) {
		return nil, &DecodeFailure{
			Message: msg.Name,
			Reason:  fmt.Sprintf("unknown multiplexer value %d for %s", muxValue, msg.mux.Name),
		}
	}
	return out, nil
}

func decodeSignal(sig *Signal, data can.Data) Value {
	if len(sig.choices) > 0 {
		if label, ok := sig.Choice(sig.raw(data)); ok {
			return Value{Label: label}
		}
	}
	return Value{Number: sig.desc.UnmarshalPhysical(data)}
}

func hasMultiplexed(msg *Message) bool {
	for _, sig := range msg.Signals {
		if sig.multiplexed {
			return true
		}
	}
	return false
}

// Encode packs physical values into a payload of msg.Length bytes.
// Signals missing from values are zero. Multiplexed signals are only
// packed when the multiplexer value in values selects them.
func (m *Message) Encode(values map[string]float64) []byte {
	var data can.Data
	var muxValue uint64
	if m.mux != nil {
		muxValue = uint64(toRaw(m.mux, values[m.mux.Name]))
	}
	for _, sig := range m.Signals {
		if sig.multiplexed && (m.mux == nil || sig.muxValue != muxValue) {
			continue
		}
		raw := toRaw(sig, values[sig.Name])
		if sig.desc.IsSigned {
			sig.desc.MarshalSigned(&data, raw)
		} else {
			sig.desc.MarshalUnsigned(&data, uint64(raw))
		}
	}
	return append([]byte(nil), data[:m.Length]...)
}

func toRaw(sig *Signal, physical float64) int64 {
	scale := sig.desc.Scale
	if scale == 0 {
		scale = 1
	}
	return int64(math.Round((physical - sig.desc.Offset) / scale))
}
