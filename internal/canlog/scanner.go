package canlog

import (
	"bufio"
	"bytes"
	"io"
	"iter"
	"strings"

	"github.com/knight1/candecode/internal/frame"
)

// Scanner reads a capture line by line and yields frames in file order.
// The format is detected from the first non-empty line: a SavvyCAN
// header switches to CSV, anything else is treated as candump.
type Scanner struct {
	sc       *bufio.Scanner
	format   Format
	detected bool

	frame      frame.Frame
	lines      int
	skipped    int
	discarding bool
}

// maxLineLength bounds a single capture line. Longer lines are skipped
// and counted rather than ending the scan.
const maxLineLength = 1 << 20

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	s := &Scanner{sc: bufio.NewScanner(r)}
	s.sc.Buffer(make([]byte, 0, 64*1024), maxLineLength)
	s.sc.Split(s.split)
	return s
}

// split is bufio.ScanLines, except that a line that does not fit in
// maxLineLength is dropped up to and including its newline.
func (s *Scanner) split(data []byte, atEOF bool) (int, []byte, error) {
	if s.discarding {
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			s.discarding = false
			return i + 1, nil, nil
		}
		if atEOF {
			s.discarding = false
		}
		return len(data), nil, nil
	}

	advance, token, err := bufio.ScanLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) >= maxLineLength {
		s.discarding = true
		s.lines++
		s.skipped++
		return len(data), nil, nil
	}
	return advance, token, err
}

// Scan advances to the next frame. It returns false at end of input or
// on a read error; Err distinguishes the two.
func (s *Scanner) Scan() bool {
	for s.sc.Scan() {
		line := s.sc.Text()
		s.lines++

		if strings.TrimSpace(line) == "" {
			continue
		}

		if !s.detected {
			s.detected = true
			if strings.Contains(line, "Time Stamp") || strings.Contains(line, "ID,Extended") {
				s.format = FormatSavvyCSV
				continue
			}
			s.format = FormatCandump
		}

		row, ok := s.parse(line)
		if !ok {
			s.skipped++
			continue
		}
		f, err := row.Frame()
		if err != nil {
			s.skipped++
			continue
		}
		s.frame = f
		return true
	}
	return false
}

func (s *Scanner) parse(line string) (Row, bool) {
	if s.format == FormatSavvyCSV {
		return ParseSavvyCSVLine(line)
	}
	return ParseLine(line)
}

// Frame returns the frame produced by the last successful Scan.
func (s *Scanner) Frame() frame.Frame { return s.frame }

// Err returns the first read error, if any.
func (s *Scanner) Err() error { return s.sc.Err() }

// Format reports the detected capture format.
func (s *Scanner) Format() Format { return s.format }

// Lines is the number of lines read so far.
func (s *Scanner) Lines() int { return s.lines }

// Skipped is the number of non-empty lines that did not yield a frame.
func (s *Scanner) Skipped() int { return s.skipped }

// Frames adapts the scanner to a range-over-func sequence.
func (s *Scanner) Frames() iter.Seq[frame.Frame] {
	return func(yield func(frame.Frame) bool) {
		for s.Scan() {
			if !yield(s.frame) {
				return
			}
		}
	}
}
