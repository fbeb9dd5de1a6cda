package session

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// asciicastHeader is the first line of an asciicast v2 recording file.
type asciicastHeader struct {
	Version   int    `json:"version"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Timestamp int64  `json:"timestamp"`
}

// Recording captures every output chunk of a session to an asciicast file
// with monotonic, recording-relative timestamps.
type Recording struct {
	mu      sync.Mutex
	w       *bufio.Writer
	f       *os.File
	clock   clockwork.Clock
	start   time.Time
	path    string
	stopped bool
}

// SessionRecording describes a finalized recording, returned by Stop.
type SessionRecording struct {
	Path     string
	Duration time.Duration
}

// StartRecording creates path and writes the asciicast header line.
func StartRecording(path string, cols, rows int, clock clockwork.Clock) (*Recording, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, trace.Wrap(err, "creating recording file %s", path)
	}
	w := bufio.NewWriter(f)
	now := clock.Now()

	header := asciicastHeader{Version: 2, Width: cols, Height: rows, Timestamp: now.Unix()}
	line, err := json.Marshal(header)
	if err != nil {
		f.Close()
		return nil, trace.Wrap(err)
	}
	if _, err := w.Write(append(line, '\n')); err != nil {
		f.Close()
		return nil, trace.Wrap(err)
	}

	return &Recording{w: w, f: f, clock: clock, start: now, path: path}, nil
}

// Append writes one output event line: [elapsed_seconds, "o", text].
func (r *Recording) Append(text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return trace.BadParameter("recording already stopped")
	}

	elapsed := r.clock.Now().Sub(r.start).Seconds()
	event := []interface{}{elapsed, "o", text}
	line, err := json.Marshal(event)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = r.w.Write(append(line, '\n'))
	return trace.Wrap(err)
}

// Stop flushes and closes the recording file, returning its descriptor.
func (r *Recording) Stop() (*SessionRecording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, trace.BadParameter("recording already stopped")
	}
	r.stopped = true

	if err := r.w.Flush(); err != nil {
		r.f.Close()
		return nil, trace.Wrap(err)
	}
	if err := r.f.Close(); err != nil {
		return nil, trace.Wrap(err)
	}

	return &SessionRecording{Path: r.path, Duration: r.clock.Now().Sub(r.start)}, nil
}
