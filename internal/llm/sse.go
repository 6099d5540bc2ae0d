package llm

import (
	"bufio"
	"io"
	"strings"
)

// sseScanner reads the data lines of a Server-Sent Events stream.
type sseScanner struct {
	scanner *bufio.Scanner
	data    string
}

func newSSEScanner(r io.Reader) *sseScanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseScanner{scanner: s}
}

// Next advances to the next data payload. Comments, event names and blank
// lines are skipped. It returns false at the end of the stream or on the
// "[DONE]" sentinel.
func (s *sseScanner) Next() bool {
	for s.scanner.Scan() {
		line := strings.TrimRight(s.scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return false
		}
		if data == "" {
			continue
		}
		s.data = data
		return true
	}
	return false
}

// Data returns the current payload.
func (s *sseScanner) Data() string { return s.data }

// Err returns the first read error, if any.
func (s *sseScanner) Err() error { return s.scanner.Err() }
