package sshterminal

import "sync"

// DefaultScrollbackSize is the scrollback kept per terminal (256 KB).
const DefaultScrollbackSize = 256 * 1024

// Scrollback keeps the most recent maxLen bytes of terminal output.
type Scrollback struct {
	mu     sync.Mutex
	data   []byte
	maxLen int
}

// NewScrollback creates a buffer holding at most maxLen bytes. If
// maxLen <= 0, DefaultScrollbackSize is used.
func NewScrollback(maxLen int) *Scrollback {
	if maxLen <= 0 {
		maxLen = DefaultScrollbackSize
	}
	return &Scrollback{maxLen: maxLen}
}

// Write appends p, trimming from the front past maxLen.
func (s *Scrollback) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, p...)
	if over := len(s.data) - s.maxLen; over > 0 {
		s.data = append(s.data[:0], s.data[over:]...)
	}
	return len(p), nil
}

// Snapshot returns a copy of the buffered output.
func (s *Scrollback) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out
}

// Len returns the number of buffered bytes.
func (s *Scrollback) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}
