package sink

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knight1/candecode/internal/classify"
	"github.com/knight1/candecode/internal/frame"
)

// TimestampLayout is the timestamp_iso rendering, second resolution.
const TimestampLayout = "2006-01-02T15:04:05"

// Column layouts of the two CSV shapes.
var (
	TidyHeader = []string{"timestamp_iso", "can_id_hex", "message", "xrcc", "battery", "signal", "value", "signal_comment", "msg_comment"}
	FlatHeader = []string{"timestamp_iso", "can_id_hex", "message", "xrcc", "battery", "signals_json", "msg_comment"}
)

// Meta carries the per-frame text fields shared by every output unit.
type Meta struct {
	Timestamp string
	ID        string
}

// NewMeta renders the shared fields of rec in loc.
func NewMeta(rec classify.Record, loc *time.Location) Meta {
	if loc == nil {
		loc = time.Local
	}
	return Meta{
		Timestamp: rec.Timestamp.In(loc).Format(TimestampLayout),
		ID:        frame.HexID(rec.ID),
	}
}

// Renderer turns a record into output units. It holds no per-frame
// state; everything it needs arrives as arguments.
type Renderer struct {
	Flat bool
}

// Header returns the CSV header for the renderer's shape.
func (r Renderer) Header() []string {
	if r.Flat {
		return FlatHeader
	}
	return TidyHeader
}

// Rows renders rec as CSV rows. Tidy mode yields one row per decoded
// signal; every other case yields exactly one row.
func (r Renderer) Rows(rec classify.Record, meta Meta) [][]string {
	prefix := []string{
		meta.Timestamp,
		meta.ID,
		rec.Name(),
		strconv.Itoa(int(rec.Fields.XRCC)),
		strconv.Itoa(int(rec.Fields.Battery)),
	}
	row := func(cells ...string) []string {
		out := make([]string, 0, len(prefix)+len(cells))
		return append(append(out, prefix...), cells...)
	}

	switch rec.Kind {
	case classify.KindDecoded:
		if r.Flat {
			return [][]string{row(signalsJSON(rec), rec.Comment())}
		}
		rows := make([][]string, 0, len(rec.Signals))
		for _, sv := range rec.Signals {
			rows = append(rows, row(sv.Name, sv.Value.String(), signalComment(rec, sv.Name), rec.Comment()))
		}
		return rows
	case classify.KindDecodeError:
		if r.Flat {
			return [][]string{row(errorJSON(rec.Reason), "")}
		}
		return [][]string{row("error", rec.Reason, "", "")}
	default:
		if r.Flat {
			return [][]string{row("{}", "")}
		}
		return [][]string{row("", "", "", "")}
	}
}

// Lines renders rec as human-readable console lines, one per output unit.
func (r Renderer) Lines(rec classify.Record, meta Meta) []string {
	prefix := fmt.Sprintf("%s %s %s xrcc=%d batt=%d",
		meta.Timestamp, meta.ID, rec.Name(), rec.Fields.XRCC, rec.Fields.Battery)

	switch rec.Kind {
	case classify.KindDecoded:
		if r.Flat {
			return []string{prefix + " signals=" + signalsJSON(rec)}
		}
		lines := make([]string, 0, len(rec.Signals))
		for _, sv := range rec.Signals {
			var b strings.Builder
			fmt.Fprintf(&b, "%s %s=%s", prefix, sv.Name, sv.Value)
			if c := signalComment(rec, sv.Name); c != "" {
				b.WriteString("  # " + c)
			}
			lines = append(lines, b.String())
		}
		return lines
	case classify.KindDecodeError:
		return []string{prefix + " error=" + rec.Reason}
	default:
		if r.Flat {
			return []string{prefix + " signals={}"}
		}
		return []string{prefix}
	}
}

func signalComment(rec classify.Record, name string) string {
	if sig, ok := rec.Message.Signal(name); ok {
		return sig.Comment
	}
	return ""
}

func signalsJSON(rec classify.Record) string {
	out, err := json.Marshal(rec.Signals)
	if err != nil {
		return "{}"
	}
	return string(out)
}

func errorJSON(reason string) string {
	out, _ := json.Marshal(map[string]string{"error": reason})
	return string(out)
}
