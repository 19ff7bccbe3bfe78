package stream

import (
	"bufio"
	"bytes"
	"io"
)

// maxLineSize bounds a single record. Gemini chunks are well below this.
const maxLineSize = 1 << 20

// Scanner reads record payloads from a line-oriented stream. Lines are split
// on "\n" and trimmed; blank lines and lines without the "data: " prefix are
// skipped. A final line without a trailing newline is still returned.
type Scanner struct {
	sc      *bufio.Scanner
	payload []byte
	skipped int
}

// NewScanner returns a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Scanner{sc: sc}
}

// Scan advances to the next record. It returns false at end of input or on a
// read error, see Err.
func (s *Scanner) Scan() bool {
	for s.sc.Scan() {
		line := bytes.TrimSpace(s.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !bytes.HasPrefix(line, []byte(DataPrefix)) {
			s.skipped++
			continue
		}
		s.payload = line[len(DataPrefix):]
		return true
	}
	s.payload = nil
	return false
}

// Payload returns the current record without its prefix. The slice is only
// valid until the next call to Scan.
func (s *Scanner) Payload() []byte {
	return s.payload
}

// Skipped counts non-blank lines that carried no record.
func (s *Scanner) Skipped() int {
	return s.skipped
}

// Err returns the first read error. End of input is not an error.
func (s *Scanner) Err() error {
	return s.sc.Err()
}
