package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/klpod221/kerminal/internal/bufpool"
	"github.com/klpod221/kerminal/lib/eventbus"
)

// Topic names published on the event bus. Terminal-output-shaped topics are
// suffixed with the terminal id; everything else is global.
const (
	TopicOutput        = "terminal-output:"
	TopicTitleChanged  = "terminal-title-changed:"
	TopicExited        = "terminal-exited:"
	TopicLatency       = "terminal-latency:"
)

// TerminalOutput, TerminalExited, TerminalTitleChanged, and TerminalLatency
// are the payload shapes published on the bus, named after the operations in
// the external interface surface. Readiness is observable via the
// TerminalTitleChanged event Spawn always publishes on success; there is no
// separate ready event in the public surface.
type TerminalOutput struct {
	ID    string
	Bytes []byte
}

type TerminalExited struct {
	ID     string
	Code   int
	Reason string
}

type TerminalTitleChanged struct {
	ID    string
	Title string
}

type TerminalLatency struct {
	ID string
	MS int64
}

// Config configures a Session.
type Config struct {
	ID                string
	ScrollbackCapacity int
	ReadChunkSize      int
	Bus                *eventbus.Bus
	Clock              clockwork.Clock
	Log                logrus.FieldLogger
}

func (c *Config) CheckAndSetDefaults() error {
	if c.Bus == nil {
		return trace.BadParameter("session.Config: Bus is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.ScrollbackCapacity <= 0 {
		c.ScrollbackCapacity = 10_000
	}
	if c.ReadChunkSize <= 0 {
		c.ReadChunkSize = 4096
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = logrus.StandardLogger()
	}
	return nil
}

// Session owns one PTY or SSH channel: its state machine, scrollback,
// writer serialization against resize, and output publication.
type Session struct {
	Config
	log logrus.FieldLogger

	tracker      *tracker
	scrollback   *scrollback
	chunkPool    bufpool.SlicePool
	titleScanner *titleScanner

	writeMu   sync.Mutex // serializes Write/WriteBatch against Resize
	transport Transport

	title   string
	titleMu sync.RWMutex

	recording   *Recording
	recordingMu sync.Mutex

	cancelReader context.CancelFunc
	readerDone   chan struct{}
}

// New constructs a Session in state Idle. Call Spawn to connect it.
func New(cfg Config) (*Session, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Session{
		Config:       cfg,
		log:          cfg.Log.WithField(trace.Component, "session").WithField("terminal_id", cfg.ID),
		tracker:      newTracker(),
		scrollback:   newScrollback(cfg.ScrollbackCapacity),
		chunkPool:    bufpool.NewSliceSyncPool(int64(cfg.ReadChunkSize)),
		titleScanner: newTitleScanner(),
		readerDone:   make(chan struct{}),
	}, nil
}

// ID returns the session's terminal id.
func (s *Session) ID() string { return s.Config.ID }

// State returns the current state.
func (s *Session) State() State { return s.tracker.Get() }

// Spawn transitions Idle -> Connecting, obtains a transport from spawner,
// and on success transitions to Ready and starts the reader loop.
func (s *Session) Spawn(ctx context.Context, spawner Spawner, params SpawnParams, title string) error {
	if err := s.tracker.transition(StateConnecting); err != nil {
		return trace.Wrap(err)
	}

	transport, err := spawner.Spawn(ctx, params)
	if err != nil {
		_ = s.tracker.transition(StateErrored)
		_ = s.tracker.transition(StateExited)
		return trace.Wrap(ErrSpawnFailed, "%v", err)
	}

	s.transport = transport
	if title == "" {
		title = defaultTitle()
	}
	s.setTitle(title)

	if err := s.tracker.transition(StateReady); err != nil {
		transport.Close()
		return trace.Wrap(err)
	}

	readerCtx, cancel := context.WithCancel(context.Background())
	s.cancelReader = cancel
	go s.readLoop(readerCtx)

	s.Bus.Publish(TopicTitleChanged+s.ID(), TerminalTitleChanged{ID: s.ID(), Title: title})
	return nil
}

func (s *Session) setTitle(title string) {
	s.titleMu.Lock()
	s.title = title
	s.titleMu.Unlock()
}

// Title returns the session's current display title.
func (s *Session) Title() string {
	s.titleMu.RLock()
	defer s.titleMu.RUnlock()
	return s.title
}

// handleTitleSequence is the titleScanner callback: it publishes
// TerminalTitleChanged only when the discovered title actually differs from
// the session's current one, so a shell that re-sends the same title on
// every prompt doesn't spam the bus.
func (s *Session) handleTitleSequence(title string) {
	s.titleMu.Lock()
	if title == s.title {
		s.titleMu.Unlock()
		return
	}
	s.title = title
	s.titleMu.Unlock()
	s.Bus.Publish(TopicTitleChanged+s.ID(), TerminalTitleChanged{ID: s.ID(), Title: title})
}

// readLoop is the sole writer of the scrollback. It drains the transport in
// fixed-size chunks, appends to scrollback, and publishes TerminalOutput
// until the transport closes, the context is cancelled, or a read error
// occurs, in which case an abnormal transition to Errored is made (unless
// the session is already closing, in which case the close is expected).
func (s *Session) readLoop(ctx context.Context) {
	defer close(s.readerDone)

	buf := s.chunkPool.Get()
	defer s.chunkPool.Put(buf)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := s.transport.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			s.scrollback.Append(chunk)
			s.Bus.Publish(TopicOutput+s.ID(), TerminalOutput{ID: s.ID(), Bytes: append([]byte(nil), buf[:n]...)})
			s.appendRecording(chunk)
			s.titleScanner.Scan(buf[:n], s.handleTitleSequence)
		}
		if err != nil {
			s.handleTransportError(err)
			return
		}
	}
}

func (s *Session) appendRecording(chunk string) {
	s.recordingMu.Lock()
	rec := s.recording
	s.recordingMu.Unlock()
	if rec != nil {
		if err := rec.Append(chunk); err != nil {
			s.log.WithError(err).Warn("failed to append to session recording")
		}
	}
}

func (s *Session) handleTransportError(err error) {
	current := s.tracker.Get()
	if current == StateClosing {
		// expected: Close() is draining the reader down.
		return
	}
	if transitionErr := s.tracker.transition(StateErrored); transitionErr != nil {
		s.log.WithError(transitionErr).Warn("could not transition to errored")
	}
	_ = s.tracker.transition(StateExited)
	s.Bus.Publish(TopicExited+s.ID(), TerminalExited{ID: s.ID(), Code: -1, Reason: err.Error()})
}

// Write appends bytes to the underlying transport's input, serialized
// against Resize.
func (s *Session) Write(b []byte) error {
	if s.tracker.Get() != StateReady {
		return trace.Wrap(ErrWriteAfterClose)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.transport.Write(b)
	return trace.Wrap(err)
}

// WriteBatch performs every write in chunks under a single lock acquisition
// so a concurrent resize cannot interleave between them. An empty batch is
// a no-op.
func (s *Session) WriteBatch(chunks [][]byte) error {
	if len(chunks) == 0 {
		return nil
	}
	if s.tracker.Get() != StateReady {
		return trace.Wrap(ErrWriteAfterClose)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, c := range chunks {
		if _, err := s.transport.Write(c); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// Resize updates the transport's window size, serialized against writes.
// It transitions Ready -> Resizing -> Ready around the call.
func (s *Session) Resize(cols, rows int) error {
	resizer, ok := s.transport.(Resizer)
	if !ok {
		return trace.BadParameter("transport does not support resize")
	}
	if err := s.tracker.transition(StateResizing); err != nil {
		return trace.Wrap(err)
	}
	defer s.tracker.transition(StateReady)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return trace.Wrap(resizer.Resize(cols, rows))
}

// Close transitions Closing -> Exited: cancels the reader, closes the
// transport, drains pending output up to deadline, then finalizes.
func (s *Session) Close(deadline time.Duration) error {
	current := s.tracker.Get()
	if current == StateExited {
		return nil
	}
	if err := s.tracker.transition(StateClosing); err != nil {
		return trace.Wrap(ErrAlreadyClosed, "%v", err)
	}

	if s.cancelReader != nil {
		s.cancelReader()
	}
	if s.transport != nil {
		s.transport.Close()
	}

	select {
	case <-s.readerDone:
	case <-s.Clock.After(deadline):
		s.log.Warn("reader did not drain before close deadline")
	}

	s.recordingMu.Lock()
	rec := s.recording
	s.recordingMu.Unlock()
	if rec != nil {
		if _, err := rec.Stop(); err != nil {
			s.log.WithError(err).Warn("failed to finalize session recording")
		}
	}

	if err := s.tracker.transition(StateExited); err != nil {
		return trace.Wrap(err)
	}
	s.Bus.Publish(TopicExited+s.ID(), TerminalExited{ID: s.ID(), Code: 0, Reason: "closed"})
	return nil
}

// Buffer returns the full scrollback contents as a string.
func (s *Session) Buffer() string { return s.scrollback.String() }

// HasBuffer reports whether any output has been captured yet.
func (s *Session) HasBuffer() bool { return s.scrollback.HasBuffer() }

// StartRecording begins capturing output to path in asciicast format.
func (s *Session) StartRecording(path string, cols, rows int) error {
	rec, err := StartRecording(path, cols, rows, s.Clock)
	if err != nil {
		return trace.Wrap(err)
	}
	s.recordingMu.Lock()
	s.recording = rec
	s.recordingMu.Unlock()
	return nil
}

// StopRecording finalizes the active recording, if any.
func (s *Session) StopRecording() (*SessionRecording, error) {
	s.recordingMu.Lock()
	rec := s.recording
	s.recording = nil
	s.recordingMu.Unlock()
	if rec == nil {
		return nil, trace.BadParameter("no recording in progress")
	}
	return rec.Stop()
}

// StartLatencyProbe runs a latency probe loop if the transport supports it,
// publishing TerminalLatency events and transitioning to Errored on a
// missed deadline. It returns immediately if the transport cannot be
// pinged (e.g. a local PTY session).
func (s *Session) StartLatencyProbe(ctx context.Context, interval, deadline time.Duration) {
	pinger, ok := s.transport.(Pinger)
	if !ok {
		return
	}
	go func() {
		err := runLatencyProbe(ctx, LatencyProbeConfig{
			Pinger:   pinger,
			Interval: interval,
			Deadline: deadline,
			Clock:    s.Clock,
			OnLatency: func(d time.Duration) {
				s.Bus.Publish(TopicLatency+s.ID(), TerminalLatency{ID: s.ID(), MS: d.Milliseconds()})
			},
			OnMissed: func(err error) {
				s.handleTransportError(err)
			},
		})
		if err != nil {
			s.log.WithError(err).Debug("latency probe loop ended")
		}
	}()
}
