package transport

import (
	"context"
	"sync"
	"time"

	"github.com/knight1/candecode/internal/errors"
	"github.com/knight1/candecode/internal/frame"
)

// Loopback is an in-process bus: every frame sent is received once.
type Loopback struct {
	frames chan frame.Frame
	done   chan struct{}
	once   sync.Once
	now    func() time.Time
}

// NewLoopback creates a loopback bus queuing up to buffer frames.
func NewLoopback(buffer int) *Loopback {
	return &Loopback{
		frames: make(chan frame.Frame, buffer),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Send queues f, stamping it with the current time when it has none. It
// blocks while the queue is full.
func (l *Loopback) Send(f frame.Frame) error {
	if err := checkPayload(f); err != nil {
		return err
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = l.now()
	}
	f.Data = append([]byte(nil), f.Data...)

	select {
	case <-l.done:
		return errors.Wrap(errors.ErrTransportClosed, "Loopback", "Send", "queue frame")
	default:
	}
	select {
	case l.frames <- f:
		return nil
	case <-l.done:
		return errors.Wrap(errors.ErrTransportClosed, "Loopback", "Send", "queue frame")
	}
}

func (l *Loopback) Receive(ctx context.Context, timeout time.Duration) (frame.Frame, bool, error) {
	f, ok, err := receive(ctx, l.frames, l.done, timeout)
	if errors.Is(err, errors.ErrTransportClosed) {
		return f, ok, errors.Wrap(err, "Loopback", "Receive", "read frame")
	}
	return f, ok, err
}

// Close stops the bus. Frames still queued remain receivable.
func (l *Loopback) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
