// Package frame holds the raw CAN frame as it leaves the transport or
// the log parser.
package frame

import (
	"fmt"
	"time"
)

// Identifier flag bits and masks as carried in a SocketCAN can_id word.
const (
	FlagExtended uint32 = 0x80000000
	FlagRemote   uint32 = 0x40000000
	FlagError    uint32 = 0x20000000

	MaskStandard uint32 = 0x000007FF
	MaskExtended uint32 = 0x1FFFFFFF
)

// MaxDataLength is the payload limit of a classical CAN frame.
const MaxDataLength = 8

// Frame is a single received CAN frame. It is not modified after the
// transport or parser creates it.
type Frame struct {
	ID        uint32
	Extended  bool
	Remote    bool
	IsError   bool
	Data      []byte
	Timestamp time.Time
}

// FromWire builds a Frame from a raw can_id word (identifier plus flag
// bits), a data length and a data buffer.
func FromWire(canID uint32, length uint8, data [8]byte, ts time.Time) Frame {
	if length > MaxDataLength {
		length = MaxDataLength
	}
	f := Frame{
		Extended:  canID&FlagExtended != 0,
		Remote:    canID&FlagRemote != 0,
		IsError:   canID&FlagError != 0,
		Data:      append([]byte(nil), data[:length]...),
		Timestamp: ts,
	}
	if f.Extended {
		f.ID = canID & MaskExtended
	} else {
		f.ID = canID & MaskStandard
	}
	return f
}

// WireID returns the identifier with the extended flag set when needed,
// the form the socket layer expects on send.
func (f Frame) WireID() uint32 {
	if f.Extended {
		return (f.ID & MaskExtended) | FlagExtended
	}
	return f.ID & MaskStandard
}

// HexID renders the identifier the way every output uses it: 0x123.
func HexID(id uint32) string {
	return fmt.Sprintf("0x%X", id)
}
