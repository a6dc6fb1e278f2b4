// Package canlog turns recorded CAN traffic into frames. Two capture
// formats are understood: candump log lines and SavvyCAN CSV exports.
// Lines that do not have the expected shape are skipped, never errored.
package canlog

import (
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/knight1/candecode/internal/errors"
	"github.com/knight1/candecode/internal/frame"
)

// Format identifies the capture format a row came from.
type Format int

const (
	FormatCandump Format = iota
	FormatSavvyCSV
)

func (f Format) String() string {
	switch f {
	case FormatCandump:
		return "candump"
	case FormatSavvyCSV:
		return "savvycan-csv"
	default:
		return "unknown"
	}
}

// Row is one log line split into its text fields, before any numeric
// conversion.
type Row struct {
	Format    Format
	Timestamp string
	Channel   string
	ID        string
	Data      string

	// Extended is only meaningful for SavvyCAN rows, which carry it as
	// a column. candump rows signal it through the identifier width.
	Extended bool
}

// (1700000000.123456) can0 123#0BB8000000000000
// Trailing fields such as the R/T direction flag are ignored.
var candumpLine = regexp.MustCompile(`^\s*\(([\d.]+)\)\s+([\w-]+)\s+([0-9A-Fa-f]+)#([0-9A-Fa-f]*)(?:\s|$)`)

// ParseLine extracts a Row from a candump log line. ok is false when the
// line does not match.
func ParseLine(line string) (Row, bool) {
	m := candumpLine.FindStringSubmatch(line)
	if m == nil {
		return Row{}, false
	}
	return Row{
		Format:    FormatCandump,
		Timestamp: m[1],
		Channel:   m[2],
		ID:        m[3],
		Data:      m[4],
	}, true
}

// ParseSavvyCSVLine parses a SavvyCAN export line in the format:
// Time Stamp,ID,Extended,Dir,Bus,LEN,D1,D2,D3,D4,D5,D6,D7,D8
func ParseSavvyCSVLine(line string) (Row, bool) {
	fields := strings.Split(line, ",")
	if len(fields) < 6 {
		return Row{}, false
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	length, err := strconv.Atoi(fields[5])
	if err != nil || length < 0 || length > frame.MaxDataLength || len(fields) < 6+length {
		return Row{}, false
	}

	var data strings.Builder
	for i := 0; i < length; i++ {
		b, err := strconv.ParseUint(fields[6+i], 16, 8)
		if err != nil {
			return Row{}, false
		}
		fmt.Fprintf(&data, "%02X", b)
	}

	id := strings.TrimPrefix(strings.TrimPrefix(fields[1], "0x"), "0X")
	return Row{
		Format:    FormatSavvyCSV,
		Timestamp: fields[0],
		Channel:   "bus" + fields[4],
		ID:        id,
		Data:      data.String(),
		Extended:  strings.EqualFold(fields[2], "true"),
	}, true
}

// Frame converts the row's text fields into a frame.
func (r Row) Frame() (frame.Frame, error) {
	id, err := strconv.ParseUint(r.ID, 16, 32)
	if err != nil || uint32(id) > frame.MaskExtended {
		return frame.Frame{}, errors.WrapInvalid(errors.ErrParsingFailed, "Row", "Frame",
			fmt.Sprintf("parse identifier %q", r.ID))
	}

	payload, err := hex.DecodeString(r.Data)
	if err != nil || len(payload) > frame.MaxDataLength {
		return frame.Frame{}, errors.WrapInvalid(errors.ErrParsingFailed, "Row", "Frame",
			fmt.Sprintf("parse payload of %s", frame.HexID(uint32(id))))
	}

	ts, err := r.time()
	if err != nil {
		return frame.Frame{}, err
	}

	extended := uint32(id) > frame.MaskStandard
	if r.Format == FormatSavvyCSV {
		extended = extended || r.Extended
	} else {
		extended = extended || len(r.ID) > 3
	}

	return frame.Frame{
		ID:        uint32(id),
		Extended:  extended,
		Data:      payload,
		Timestamp: ts,
	}, nil
}

func (r Row) time() (time.Time, error) {
	switch r.Format {
	case FormatSavvyCSV:
		// SavvyCAN timestamps are microseconds.
		if us, err := strconv.ParseInt(r.Timestamp, 10, 64); err == nil {
			return time.UnixMicro(us), nil
		}
		us, err := strconv.ParseFloat(r.Timestamp, 64)
		if err != nil {
			return time.Time{}, errors.WrapInvalid(errors.ErrParsingFailed, "Row", "time",
				fmt.Sprintf("parse timestamp %q", r.Timestamp))
		}
		return time.UnixMicro(int64(us)), nil
	default:
		return parseEpochSeconds(r.Timestamp)
	}
}

// parseEpochSeconds parses "seconds.fraction" without going through a
// float so microsecond timestamps survive exactly.
func parseEpochSeconds(text string) (time.Time, error) {
	whole, frac, _ := strings.Cut(text, ".")
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return time.Time{}, errors.WrapInvalid(errors.ErrParsingFailed, "Row", "time",
			fmt.Sprintf("parse timestamp %q", text))
	}
	var nsec int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		if nsec, err = strconv.ParseInt(frac, 10, 64); err != nil {
			return time.Time{}, errors.WrapInvalid(errors.ErrParsingFailed, "Row", "time",
				fmt.Sprintf("parse timestamp %q", text))
		}
	}
	return time.Unix(sec, nsec), nil
}
