// Package recording writes session terminal traffic as asciinema v2 casts.
package recording

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event codes defined by the asciicast v2 format.
const (
	EventOutput = "o"
	EventInput  = "i"
	EventResize = "r"
)

// Header is the first line of an asciicast v2 file.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is one [offset, code, data] line of a cast.
type Event struct {
	Offset float64
	Code   string
	Data   string
}

// MarshalJSON encodes the event as a three element array.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Offset, e.Code, e.Data})
}

// Recorder appends events to a cast. It is safe for concurrent use; the
// session's read loop writes output while viewer pumps write input.
type Recorder struct {
	mu     sync.Mutex
	w      io.Writer
	file   *os.File // only set if we own the file
	start  time.Time
	closed bool
}

// Create opens dir/<sessionID>.cast and writes the header.
func Create(dir, sessionID, title string, cols, rows int) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording dir: %w", err)
	}
	f, err := os.Create(Path(dir, sessionID))
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}
	r, err := newRecorder(f, title, cols, rows)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.file = f
	return r, nil
}

// newRecorder records to w and writes the header.
func newRecorder(w io.Writer, title string, cols, rows int) (*Recorder, error) {
	r := &Recorder{w: w, start: time.Now()}
	if err := r.writeHeader(cols, rows, title); err != nil {
		return nil, err
	}
	return r, nil
}

// Path returns the file path of a session's cast in dir.
func Path(dir, sessionID string) string {
	return filepath.Join(dir, sessionID+".cast")
}

func (r *Recorder) writeHeader(cols, rows int, title string) error {
	h := Header{
		Version:   2,
		Width:     cols,
		Height:    rows,
		Timestamp: r.start.Unix(),
		Title:     title,
		Env:       map[string]string{"TERM": os.Getenv("TERM"), "SHELL": os.Getenv("SHELL")},
	}
	data, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal cast header: %w", err)
	}
	if _, err := r.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write cast header: %w", err)
	}
	return nil
}

// Output records terminal output.
func (r *Recorder) Output(data []byte) error {
	return r.write(EventOutput, string(data))
}

// Input records viewer keystrokes.
func (r *Recorder) Input(data []byte) error {
	return r.write(EventInput, string(data))
}

// Resize records a terminal size change.
func (r *Recorder) Resize(cols, rows int) error {
	return r.write(EventResize, fmt.Sprintf("%dx%d", cols, rows))
}

func (r *Recorder) write(code, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}

	line, err := json.Marshal(Event{
		Offset: time.Since(r.start).Seconds(),
		Code:   code,
		Data:   data,
	})
	if err != nil {
		return fmt.Errorf("marshal cast event: %w", err)
	}
	if _, err := r.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write cast event: %w", err)
	}
	return nil
}

// Close stops recording and closes the file if the recorder owns it.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
