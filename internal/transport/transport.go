// Package transport connects to a CAN bus. SocketCAN is the production
// transport; Loopback is an in-process bus for emulation and tests.
package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/knight1/candecode/internal/errors"
	"github.com/knight1/candecode/internal/frame"
)

// Bus is an open CAN channel.
type Bus interface {
	// Receive waits up to timeout for a frame. ok is false when the wait
	// timed out. A closed bus returns an error wrapping
	// errors.ErrTransportClosed.
	Receive(ctx context.Context, timeout time.Duration) (f frame.Frame, ok bool, err error)
	Send(f frame.Frame) error
	Close() error
}

func receive(ctx context.Context, frames <-chan frame.Frame, done <-chan struct{}, timeout time.Duration) (frame.Frame, bool, error) {
	// Frames already queued win over a pending close.
	select {
	case f := <-frames:
		return f, true, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case f := <-frames:
		return f, true, nil
	case <-done:
		return frame.Frame{}, false, errors.ErrTransportClosed
	case <-ctx.Done():
		return frame.Frame{}, false, ctx.Err()
	case <-timer.C:
		return frame.Frame{}, false, nil
	}
}

func checkPayload(f frame.Frame) error {
	if len(f.Data) > frame.MaxDataLength {
		return errors.WrapInvalid(fmt.Errorf("payload of %d bytes", len(f.Data)), "Bus", "Send", "validate frame")
	}
	return nil
}
