package transport

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brutella/can"

	"github.com/knight1/candecode/internal/errors"
	"github.com/knight1/candecode/internal/frame"
)

// receiveBuffer is the number of frames held between the socket reader
// and the pipeline before new frames are dropped.
const receiveBuffer = 4096

// SocketCAN is a Linux SocketCAN interface. The socket is read by a
// background goroutine that queues frames for Receive.
type SocketCAN struct {
	name   string
	bus    *can.Bus
	logger *slog.Logger

	frames    chan frame.Frame
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// Open binds to the named interface (can0, vcan0, ...).
func Open(name string, logger *slog.Logger) (*SocketCAN, error) {
	bus, err := can.NewBusForInterfaceWithName(name)
	if err != nil {
		return nil, errors.WrapFatal(err, "SocketCAN", "Open", "open interface "+name)
	}

	s := &SocketCAN{
		name:   name,
		bus:    bus,
		logger: logger.With("interface", name),
		frames: make(chan frame.Frame, receiveBuffer),
		done:   make(chan struct{}),
	}
	bus.Subscribe(s)

	go func() {
		err := bus.ConnectAndPublish()
		select {
		case <-s.done:
		default:
			s.logger.Warn("socket reader stopped", "error", err)
		}
		s.shutdown()
	}()

	return s, nil
}

// Handle is called by the socket reader for every received frame.
func (s *SocketCAN) Handle(f can.Frame) {
	fr := frame.FromWire(f.ID, f.Length, f.Data, time.Now())
	select {
	case s.frames <- fr:
	case <-s.done:
	default:
		if s.dropped.Add(1) == 1 {
			s.logger.Warn("receive queue full, dropping frames")
		}
	}
}

// Dropped is the number of frames lost to a full receive queue.
func (s *SocketCAN) Dropped() uint64 { return s.dropped.Load() }

func (s *SocketCAN) Receive(ctx context.Context, timeout time.Duration) (frame.Frame, bool, error) {
	f, ok, err := receive(ctx, s.frames, s.done, timeout)
	if errors.Is(err, errors.ErrTransportClosed) {
		return f, ok, errors.Wrap(err, "SocketCAN", "Receive", "read "+s.name)
	}
	return f, ok, err
}

func (s *SocketCAN) Send(f frame.Frame) error {
	if err := checkPayload(f); err != nil {
		return err
	}
	out := can.Frame{ID: f.WireID(), Length: uint8(len(f.Data))}
	copy(out.Data[:], f.Data)
	if err := s.bus.Publish(out); err != nil {
		return errors.WrapTransient(err, "SocketCAN", "Send", "write "+s.name)
	}
	return nil
}

func (s *SocketCAN) shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Close releases the socket. Safe to call more than once.
func (s *SocketCAN) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}
	s.shutdown()
	if err := s.bus.Disconnect(); err != nil {
		return errors.WrapTransient(err, "SocketCAN", "Close", "disconnect "+s.name)
	}
	return nil
}
