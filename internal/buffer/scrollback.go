// Package buffer provides the bounded scrollback kept for each session.
package buffer

import (
	"strings"
	"sync"

	"github.com/charmbracelet/x/ansi"
)

// DefaultCapacity is the number of output chunks retained per session.
const DefaultCapacity = 5000

// Scrollback is a thread-safe ring of output chunks. The cap counts chunks,
// not bytes: once it is reached every append evicts the oldest chunk.
//
// Newly attached viewers receive a Snapshot so they can see output produced
// before they connected.
type Scrollback struct {
	chunks [][]byte
	head   int // index of the oldest chunk
	size   int // number of retained chunks
	bytes  int
	mu     sync.RWMutex
}

// NewScrollback creates a Scrollback holding at most capacity chunks.
// Non-positive capacities fall back to DefaultCapacity.
func NewScrollback(capacity int) *Scrollback {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Scrollback{
		chunks: make([][]byte, capacity),
	}
}

// Append stores a copy of chunk, evicting the oldest chunk when full.
// Empty chunks are ignored.
func (s *Scrollback) Append(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	c := make([]byte, len(chunk))
	copy(c, chunk)

	s.mu.Lock()
	defer s.mu.Unlock()

	capacity := len(s.chunks)
	if s.size == capacity {
		s.bytes -= len(s.chunks[s.head])
		s.chunks[s.head] = c
		s.head = (s.head + 1) % capacity
	} else {
		s.chunks[(s.head+s.size)%capacity] = c
		s.size++
	}
	s.bytes += len(c)
}

// Snapshot returns every retained chunk concatenated in the order written.
func (s *Scrollback) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Scrollback) snapshotLocked() []byte {
	out := make([]byte, 0, s.bytes)
	capacity := len(s.chunks)
	for i := 0; i < s.size; i++ {
		out = append(out, s.chunks[(s.head+i)%capacity]...)
	}
	return out
}

// Tail returns the last n non-blank lines of the retained output with
// terminal escape sequences removed.
func (s *Scrollback) Tail(n int) []string {
	if n <= 0 {
		return []string{}
	}
	var lines []string
	for _, line := range strings.Split(string(s.Snapshot()), "\n") {
		line = strings.TrimRight(line, "\r")
		// A bare carriage return redraws the line; keep what is visible last.
		if i := strings.LastIndexByte(line, '\r'); i >= 0 {
			line = line[i+1:]
		}
		line = strings.TrimRight(ansi.Strip(line), " \t")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	if lines == nil {
		return []string{}
	}
	return lines
}

// Len returns the number of retained chunks.
func (s *Scrollback) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Size returns the number of retained bytes.
func (s *Scrollback) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bytes
}

// Cap returns the maximum number of chunks retained.
func (s *Scrollback) Cap() int {
	return len(s.chunks)
}
