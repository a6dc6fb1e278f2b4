package pipeline

import (
	"slices"
	"time"

	"github.com/knight1/candecode/internal/classify"
)

// Summary describes a finished batch run.
type Summary struct {
	Frames       int
	Decoded      int
	Unknown      int
	DecodeErrors int
	ErrorFrames  int

	// First and Last are the earliest and latest frame timestamps seen.
	First time.Time
	Last  time.Time

	// UnknownIDs counts frames per identifier that matched no definition.
	UnknownIDs map[uint32]int

	Interrupted bool
}

func newSummary() Summary {
	return Summary{UnknownIDs: make(map[uint32]int)}
}

func (s *Summary) add(rec classify.Record) {
	s.Frames++
	switch rec.Kind {
	case classify.KindDecoded:
		s.Decoded++
	case classify.KindUnknown:
		s.Unknown++
		s.UnknownIDs[rec.ID]++
	case classify.KindDecodeError:
		s.DecodeErrors++
	}

	ts := rec.Timestamp
	if s.First.IsZero() || ts.Before(s.First) {
		s.First = ts
	}
	if ts.After(s.Last) {
		s.Last = ts
	}
}

// HadErrors reports whether any frame was unknown or failed to decode.
func (s Summary) HadErrors() bool {
	return s.Unknown > 0 || s.DecodeErrors > 0
}

// Span is the capture duration covered by the frames.
func (s Summary) Span() time.Duration {
	if s.First.IsZero() {
		return 0
	}
	return s.Last.Sub(s.First)
}

// IDCount is an identifier with its frame count.
type IDCount struct {
	ID    uint32
	Count int
}

// SortedUnknown lists the unknown identifiers in ascending order.
func (s Summary) SortedUnknown() []IDCount {
	out := make([]IDCount, 0, len(s.UnknownIDs))
	for id, n := range s.UnknownIDs {
		out = append(out, IDCount{ID: id, Count: n})
	}
	slices.SortFunc(out, func(a, b IDCount) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}
