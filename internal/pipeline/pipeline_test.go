package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knight1/candecode/internal/address"
	"github.com/knight1/candecode/internal/classify"
	"github.com/knight1/candecode/internal/errors"
	"github.com/knight1/candecode/internal/frame"
	"github.com/knight1/candecode/internal/metric"
	"github.com/knight1/candecode/internal/signaldb"
	"github.com/knight1/candecode/internal/sink"
)

var epoch = time.Date(2024, 7, 8, 10, 0, 0, 0, time.UTC)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// events records flushes and closes across the sink and the receiver.
type events struct {
	clock *fakeClock
	log   []string
	at    []time.Duration
}

func (e *events) add(name string) {
	e.log = append(e.log, name)
	e.at = append(e.at, e.clock.Now().Sub(epoch))
}

func (e *events) count(name string) int {
	n := 0
	for _, l := range e.log {
		if l == name {
			n++
		}
	}
	return n
}

type recordingSink struct {
	ev      *events
	records []classify.Record
	emitErr error
}

func (s *recordingSink) Emit(rec classify.Record, _ sink.Meta) error {
	s.records = append(s.records, rec)
	return s.emitErr
}

func (s *recordingSink) Flush() error { s.ev.add("flush"); return nil }
func (s *recordingSink) Close() error { s.ev.add("close-sinks"); return nil }

type step struct {
	frame   *frame.Frame
	err     error
	advance time.Duration
}

type scriptedReceiver struct {
	ev       *events
	steps    []step
	calls    int
	cancelAt int
	cancel   context.CancelFunc
}

func (r *scriptedReceiver) Receive(_ context.Context, _ time.Duration) (frame.Frame, bool, error) {
	r.calls++
	if r.cancel != nil && r.calls == r.cancelAt {
		r.cancel()
	}
	if len(r.steps) == 0 {
		return frame.Frame{}, false, fmt.Errorf("read: %w", errors.ErrTransportClosed)
	}
	s := r.steps[0]
	r.steps = r.steps[1:]
	r.ev.clock.Advance(s.advance)
	if s.err != nil {
		return frame.Frame{}, false, s.err
	}
	if s.frame == nil {
		return frame.Frame{}, false, nil
	}
	f := *s.frame
	f.Timestamp = r.ev.clock.Now()
	return f, true, nil
}

func (r *scriptedReceiver) Close() error { r.ev.add("close-transport"); return nil }

// idClassifier decodes identifiers below 0x700 and reports the rest
// unknown.
type idClassifier struct{}

func (idClassifier) Classify(f frame.Frame) classify.Record {
	fields, _ := address.Resolve(f.ID)
	rec := classify.Record{ID: f.ID, Timestamp: f.Timestamp, Fields: fields}
	switch {
	case f.ID == 0x666:
		rec.Kind = classify.KindDecodeError
		rec.Reason = "wrong data size: got 1, want 2 bytes"
	case f.ID < 0x700:
		rec.Kind = classify.KindDecoded
		rec.Message = &signaldb.Message{ID: f.ID, Name: "Msg"}
	default:
		rec.Kind = classify.KindUnknown
	}
	return rec
}

type harness struct {
	clock   *fakeClock
	ev      *events
	sink    *recordingSink
	metrics *metric.Metrics
	driver  *Driver
}

func newHarness(t *testing.T, opts sink.Options) *harness {
	t.Helper()
	clock := &fakeClock{now: epoch}
	ev := &events{clock: clock}
	rs := &recordingSink{ev: ev}
	m := metric.NewMetrics()
	cfg := Config{FlushInterval: 2 * time.Second, ReceiveTimeout: time.Second}
	d := New(idClassifier{}, sink.NewSet(opts, rs), cfg, WithClock(clock), WithMetrics(m))
	return &harness{clock: clock, ev: ev, sink: rs, metrics: m, driver: d}
}

func (h *harness) receiver(steps ...step) *scriptedReceiver {
	return &scriptedReceiver{ev: h.ev, steps: steps}
}

func frameStep(id uint32, advance time.Duration) step {
	return step{frame: &frame.Frame{ID: id, Data: []byte{1, 2}}, advance: advance}
}

func timeoutStep(advance time.Duration) step {
	return step{advance: advance}
}

func TestRunLive_FlushCadence(t *testing.T) {
	h := newHarness(t, sink.Options{})

	// One frame every 100ms for 5s.
	var steps []step
	for range 50 {
		steps = append(steps, frameStep(0x123, 100*time.Millisecond))
	}

	require.NoError(t, h.driver.RunLive(context.Background(), h.receiver(steps...)))

	assert.Len(t, h.sink.records, 50)

	var flushes []time.Duration
	for i, name := range h.ev.log {
		if name == "flush" {
			flushes = append(flushes, h.ev.at[i])
		}
	}
	// Two interval flushes plus the shutdown flush.
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second}, flushes)
	assert.GreaterOrEqual(t, len(flushes), 2)
	assert.LessOrEqual(t, len(flushes), 5/2+1)
	assert.Equal(t, 3.0, testutil.ToFloat64(h.metrics.Flushes))
}

func TestRunLive_TimeoutDrivesFlush(t *testing.T) {
	h := newHarness(t, sink.Options{})

	rx := h.receiver(
		timeoutStep(time.Second),
		timeoutStep(time.Second),
		timeoutStep(time.Second),
		timeoutStep(time.Second),
	)
	require.NoError(t, h.driver.RunLive(context.Background(), rx))

	assert.Empty(t, h.sink.records)
	assert.Equal(t, 3, h.ev.count("flush"))
	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.ReceiveTimeouts))
}

func TestRunLive_NoFlushBeforeInterval(t *testing.T) {
	h := newHarness(t, sink.Options{})

	rx := h.receiver(
		frameStep(0x123, 500*time.Millisecond),
		timeoutStep(time.Second),
		frameStep(0x123, 400*time.Millisecond),
	)
	require.NoError(t, h.driver.RunLive(context.Background(), rx))

	// Only the shutdown flush.
	assert.Equal(t, 1, h.ev.count("flush"))
}

func TestRunLive_SkipsErrorFrames(t *testing.T) {
	h := newHarness(t, sink.Options{})

	rx := h.receiver(
		step{frame: &frame.Frame{ID: 0x004, IsError: true}},
		frameStep(0x123, 0),
	)
	require.NoError(t, h.driver.RunLive(context.Background(), rx))

	require.Len(t, h.sink.records, 1)
	assert.Equal(t, uint32(0x123), h.sink.records[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ErrorFrames))
}

func TestRunLive_ErrorFramesKeepFlushing(t *testing.T) {
	h := newHarness(t, sink.Options{})

	// A buffered record, then a bus storm of error frames every 100ms
	// for 5.5s with no timeouts in between.
	steps := []step{frameStep(0x123, 0)}
	for range 55 {
		steps = append(steps, step{frame: &frame.Frame{ID: 0x004, IsError: true}, advance: 100 * time.Millisecond})
	}
	require.NoError(t, h.driver.RunLive(context.Background(), h.receiver(steps...)))

	var flushes []time.Duration
	for i, name := range h.ev.log {
		if name == "flush" {
			flushes = append(flushes, h.ev.at[i])
		}
	}
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 5500 * time.Millisecond}, flushes)
	assert.Len(t, h.sink.records, 1)
	assert.Equal(t, 55.0, testutil.ToFloat64(h.metrics.ErrorFrames))
}

func TestRunLive_ShutdownOrder(t *testing.T) {
	h := newHarness(t, sink.Options{})

	require.NoError(t, h.driver.RunLive(context.Background(), h.receiver(frameStep(0x123, 0))))

	assert.Equal(t, []string{"flush", "close-sinks", "close-transport"}, h.ev.log)
}

func TestRunLive_ReceiveFailure(t *testing.T) {
	h := newHarness(t, sink.Options{})

	rx := h.receiver(
		frameStep(0x123, 0),
		step{err: fmt.Errorf("network is down")},
	)
	err := h.driver.RunLive(context.Background(), rx)

	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, []string{"flush", "close-sinks", "close-transport"}, h.ev.log)
}

func TestRunLive_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t, sink.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rx := h.receiver(frameStep(0x123, 0))
	require.NoError(t, h.driver.RunLive(ctx, rx))

	assert.Equal(t, 0, rx.calls)
	assert.Empty(t, h.sink.records)
	assert.Equal(t, []string{"flush", "close-sinks", "close-transport"}, h.ev.log)
}

func TestRunLive_CancelCompletesFrameInFlight(t *testing.T) {
	h := newHarness(t, sink.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rx := h.receiver(
		frameStep(0x120, 0),
		frameStep(0x121, 0),
		frameStep(0x122, 0),
	)
	rx.cancel = cancel
	rx.cancelAt = 2

	require.NoError(t, h.driver.RunLive(ctx, rx))

	ids := make([]uint32, 0, len(h.sink.records))
	for _, rec := range h.sink.records {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []uint32{0x120, 0x121}, ids)
	assert.Equal(t, 2, rx.calls)
}

func TestRunLive_SinkFailureDoesNotStop(t *testing.T) {
	h := newHarness(t, sink.Options{})
	h.sink.emitErr = fmt.Errorf("disk full")

	rx := h.receiver(frameStep(0x123, 0), frameStep(0x124, 0))
	require.NoError(t, h.driver.RunLive(context.Background(), rx))

	assert.Len(t, h.sink.records, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.SinkErrors))
}

func TestRunLive_DropUnknown(t *testing.T) {
	h := newHarness(t, sink.Options{DropUnknown: true})

	rx := h.receiver(frameStep(0x789, 0), frameStep(0x123, 0))
	require.NoError(t, h.driver.RunLive(context.Background(), rx))

	require.Len(t, h.sink.records, 1)
	assert.Equal(t, uint32(0x123), h.sink.records[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Frames.WithLabelValues("unknown")))
}

func TestRunLive_ConsoleOnlyNeverFlushes(t *testing.T) {
	clock := &fakeClock{now: epoch}
	ev := &events{clock: clock}
	m := metric.NewMetrics()
	var out bytes.Buffer
	set := sink.NewSet(sink.Options{Location: time.UTC}, sink.NewConsoleSink(&out, sink.Renderer{}))
	d := New(idClassifier{}, set, Config{FlushInterval: time.Second, ReceiveTimeout: time.Second},
		WithClock(clock), WithMetrics(m))

	rx := &scriptedReceiver{ev: ev, steps: []step{
		{frame: &frame.Frame{ID: 0x789}, advance: 3 * time.Second},
		timeoutStep(3 * time.Second),
	}}
	require.NoError(t, d.RunLive(context.Background(), rx))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.Flushes))
	assert.Equal(t, "2024-07-08T10:00:03 0x789 UNKNOWN xrcc=1 batt=1\n", out.String())
}

func TestRunBatch_Summary(t *testing.T) {
	h := newHarness(t, sink.Options{})

	input := []frame.Frame{
		{ID: 0x123, Timestamp: epoch.Add(1 * time.Second)},
		{ID: 0x789, Timestamp: epoch.Add(2 * time.Second)},
		{ID: 0x666, Timestamp: epoch.Add(3 * time.Second)},
		{ID: 0x001, IsError: true, Timestamp: epoch.Add(4 * time.Second)},
		{ID: 0x7A0, Timestamp: epoch.Add(5 * time.Second)},
		{ID: 0x789, Timestamp: epoch.Add(6 * time.Second)},
	}

	sum := h.driver.RunBatch(context.Background(), slices.Values(input))

	assert.Equal(t, 5, sum.Frames)
	assert.Equal(t, 1, sum.Decoded)
	assert.Equal(t, 3, sum.Unknown)
	assert.Equal(t, 1, sum.DecodeErrors)
	assert.Equal(t, 1, sum.ErrorFrames)
	assert.True(t, sum.HadErrors())
	assert.False(t, sum.Interrupted)
	assert.Equal(t, 5*time.Second, sum.Span())
	assert.Equal(t, []IDCount{{ID: 0x789, Count: 2}, {ID: 0x7A0, Count: 1}}, sum.SortedUnknown())

	ids := make([]uint32, 0, len(h.sink.records))
	for _, rec := range h.sink.records {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []uint32{0x123, 0x789, 0x666, 0x7A0, 0x789}, ids)
	assert.Equal(t, []string{"flush", "close-sinks"}, h.ev.log)
}

func TestRunBatch_Clean(t *testing.T) {
	h := newHarness(t, sink.Options{})

	sum := h.driver.RunBatch(context.Background(), slices.Values([]frame.Frame{
		{ID: 0x100, Timestamp: epoch},
		{ID: 0x101, Timestamp: epoch},
	}))

	assert.False(t, sum.HadErrors())
	assert.Equal(t, time.Duration(0), sum.Span())
	assert.Empty(t, sum.SortedUnknown())
}

func TestRunBatch_Cancelled(t *testing.T) {
	h := newHarness(t, sink.Options{})
	ctx, cancel := context.WithCancel(context.Background())

	frames := func(yield func(frame.Frame) bool) {
		for i := range uint32(10) {
			if i == 3 {
				cancel()
			}
			if !yield(frame.Frame{ID: 0x100 + i, Timestamp: epoch}) {
				return
			}
		}
	}

	sum := h.driver.RunBatch(ctx, frames)

	assert.True(t, sum.Interrupted)
	assert.Equal(t, 3, sum.Frames)
	assert.Equal(t, []string{"flush", "close-sinks"}, h.ev.log)
}
