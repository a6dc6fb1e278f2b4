package main

import (
	"context"
	"encoding/binary"
	"log/slog"
	"maps"
	"math/rand/v2"
	"time"

	"github.com/knight1/candecode/internal/errors"
	"github.com/knight1/candecode/internal/frame"
	"github.com/knight1/candecode/internal/signaldb"
)

// sensorID is the identifier of the emulated temperature sensor.
const sensorID = 0x123

// counterWrap is the modulus of the dbc mode counter signal.
const counterWrap = 16

// sender is the send side of a transport.
type sender interface {
	Send(f frame.Frame) error
}

// source produces the frame for sequence number seq along with the
// physical values it carries.
type source interface {
	next(seq int) (frame.Frame, map[string]float64)
}

// sensorSource emits a random 20.00 to 30.00 degC temperature scaled by
// 100, big-endian in bytes 0 and 1 of an 8 byte payload.
type sensorSource struct {
	rng *rand.Rand
}

func (s sensorSource) next(int) (frame.Frame, map[string]float64) {
	celsius := 20 + s.rng.Float64()*10
	raw := uint16(celsius * 100)

	data := make([]byte, frame.MaxDataLength)
	binary.BigEndian.PutUint16(data, raw)
	return frame.Frame{ID: sensorID, Data: data}, map[string]float64{"Temperature": float64(raw) / 100}
}

// dbcSource encodes one message definition with a counter signal that
// wraps at 16 and fixed values for the other signals.
type dbcSource struct {
	msg     *signaldb.Message
	counter string
	fixed   map[string]float64
}

func (s dbcSource) next(seq int) (frame.Frame, map[string]float64) {
	values := maps.Clone(s.fixed)
	if values == nil {
		values = make(map[string]float64)
	}
	if s.counter != "" {
		values[s.counter] = float64(seq % counterWrap)
	}
	return frame.Frame{
		ID:       s.msg.ID,
		Extended: s.msg.Extended,
		Data:     s.msg.Encode(values),
	}, values
}

// emulate sends count frames from src, one per interval; count 0 runs
// until ctx is done. Failed sends are logged and skipped. It returns the
// number of frames sent.
func emulate(ctx context.Context, bus sender, src source, interval time.Duration, count int, logger *slog.Logger) (int, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sent := 0
	for seq := 0; count == 0 || seq < count; seq++ {
		f, values := src.next(seq)
		if err := bus.Send(f); err != nil {
			if errors.Is(err, errors.ErrTransportClosed) {
				return sent, err
			}
			logger.Warn("frame not sent", "can_id", frame.HexID(f.ID), "error", err)
		} else {
			sent++
			logger.Info("frame sent", "can_id", frame.HexID(f.ID), "values", values)
		}

		if count != 0 && seq+1 == count {
			break
		}
		select {
		case <-ctx.Done():
			return sent, nil
		case <-ticker.C:
		}
	}
	return sent, nil
}
