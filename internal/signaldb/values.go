package signaldb

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Value is a decoded signal value: a scaled number, or the label of a
// value description when the raw value has one.
type Value struct {
	Number float64
	Label  string
}

// IsLabel reports whether the value was resolved to a description.
func (v Value) IsLabel() bool { return v.Label != "" }

// String renders the value for text outputs.
func (v Value) String() string {
	if v.IsLabel() {
		return v.Label
	}
	return strconv.FormatFloat(v.Number, 'f', -1, 64)
}

// Interface returns the value as a plain string or float64, for encoders
// that work on generic values.
func (v Value) Interface() any {
	if v.IsLabel() {
		return v.Label
	}
	return v.Number
}

// MarshalJSON encodes labels as strings and numbers as numbers.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsLabel() {
		return json.Marshal(v.Label)
	}
	return []byte(strconv.FormatFloat(v.Number, 'f', -1, 64)), nil
}

// SignalValue is one entry of a SignalMap.
type SignalValue struct {
	Name  string
	Value Value
}

// SignalMap holds the decoded signals of one frame in definition order.
// Names are unique.
type SignalMap []SignalValue

// Get returns the value of the named signal.
func (m SignalMap) Get(name string) (Value, bool) {
	for _, sv := range m {
		if sv.Name == name {
			return sv.Value, true
		}
	}
	return Value{}, false
}

// MarshalJSON encodes the map as a compact JSON object preserving
// definition order.
func (m SignalMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, sv := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(sv.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := sv.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// DecodeFailure reports a payload that does not match its definition.
type DecodeFailure struct {
	Message string
	Reason  string
}

func (e *DecodeFailure) Error() string {
	return e.Message + ": " + e.Reason
}
