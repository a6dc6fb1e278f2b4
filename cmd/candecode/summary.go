package main

import (
	"fmt"
	"io"
	"time"

	"github.com/knight1/candecode/internal/canlog"
	"github.com/knight1/candecode/internal/frame"
	"github.com/knight1/candecode/internal/pipeline"
)

const rule = "==================================================="

func printSummary(w io.Writer, input string, sc *canlog.Scanner, sum pipeline.Summary, paths []string) {
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "📊 Batch Summary: %s (%s)\n", input, sc.Format())
	fmt.Fprintf(w, "   Lines read: %d (%d skipped)\n", sc.Lines(), sc.Skipped())
	fmt.Fprintf(w, "   Frames decoded: %d\n", sum.Decoded)
	fmt.Fprintf(w, "   Unknown frames: %d\n", sum.Unknown)
	fmt.Fprintf(w, "   Decode errors: %d\n", sum.DecodeErrors)
	if sum.ErrorFrames > 0 {
		fmt.Fprintf(w, "   Error frames skipped: %d\n", sum.ErrorFrames)
	}
	fmt.Fprintf(w, "   Total frames: %d\n", sum.Frames)
	if span := sum.Span(); span > 0 {
		fmt.Fprintf(w, "   Duration: %s (%.3f sec)\n", formatDuration(span), span.Seconds())
	}

	if unknown := sum.SortedUnknown(); len(unknown) > 0 {
		fmt.Fprintf(w, "\n🔸 Unknown CAN IDs (%d):\n", len(unknown))
		for _, u := range unknown {
			fmt.Fprintf(w, "  %-12s count: %d\n", frame.HexID(u.ID), u.Count)
		}
	}

	fmt.Fprintln(w, rule)
	for _, p := range paths {
		fmt.Fprintf(w, "Results saved to %s\n", p)
	}
	switch {
	case sum.Interrupted:
		fmt.Fprintln(w, "⚠️ Interrupted, output is partial.")
	case sum.HadErrors():
		fmt.Fprintln(w, "Decoding completed with errors!")
	default:
		fmt.Fprintln(w, "Decoding complete.")
	}
}

// formatDuration renders d for humans.
func formatDuration(d time.Duration) string {
	ms := float64(d) / float64(time.Millisecond)
	if ms < 1000 {
		return fmt.Sprintf("%.2f ms", ms)
	}

	seconds := ms / 1000
	if seconds < 60 {
		return fmt.Sprintf("%.2f sec", seconds)
	}

	minutes := seconds / 60
	if minutes < 60 {
		secs := int(seconds) % 60
		return fmt.Sprintf("%d min %d sec", int(minutes), secs)
	}

	hours := minutes / 60
	mins := int(minutes) % 60
	return fmt.Sprintf("%d hour %d min", int(hours), mins)
}
