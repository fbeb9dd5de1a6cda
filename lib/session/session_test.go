package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/klpod221/kerminal/lib/eventbus"
)

func newTestBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	bus, err := eventbus.New(eventbus.Config{QueueSize: 64})
	require.NoError(t, err)
	t.Cleanup(bus.Close)
	return bus
}

func TestSpawnTransitionsToReadyAndPublishesTitle(t *testing.T) {
	bus := newTestBus(t)
	sub := bus.Subscribe(TopicTitleChanged + "x")
	defer sub.Cancel()

	sess, err := New(Config{ID: "x", Bus: bus, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	tr := newFakeTransport()
	err = sess.Spawn(context.Background(), &fakeSpawner{transport: tr}, SpawnParams{Kind: KindLocal}, "my-title")
	require.NoError(t, err)
	require.Equal(t, StateReady, sess.State())
	require.Equal(t, "my-title", sess.Title())

	select {
	case ev := <-sub.C:
		payload := ev.Payload.(TerminalTitleChanged)
		require.Equal(t, "my-title", payload.Title)
	case <-time.After(time.Second):
		t.Fatal("expected title changed event")
	}
}

func TestOutputOSCSequenceUpdatesTitleAndPublishes(t *testing.T) {
	bus := newTestBus(t)
	sub := bus.Subscribe(TopicTitleChanged + "x")
	defer sub.Cancel()

	sess, err := New(Config{ID: "x", Bus: bus, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	tr := newFakeTransport()
	require.NoError(t, sess.Spawn(context.Background(), &fakeSpawner{transport: tr}, SpawnParams{Kind: KindLocal}, "initial"))

	// drain the title-changed event published by Spawn itself
	select {
	case <-sub.C:
	case <-time.After(time.Second):
		t.Fatal("expected spawn's title changed event")
	}

	tr.pushOutput("prompt> \x1b]0;new-title\x07rest of output")

	select {
	case ev := <-sub.C:
		payload := ev.Payload.(TerminalTitleChanged)
		require.Equal(t, "new-title", payload.Title)
	case <-time.After(time.Second):
		t.Fatal("expected OSC-driven title changed event")
	}
	require.Equal(t, "new-title", sess.Title())
}

func TestOutputOSCSequenceSplitAcrossReadsStillUpdatesTitle(t *testing.T) {
	bus := newTestBus(t)
	sub := bus.Subscribe(TopicTitleChanged + "x")
	defer sub.Cancel()

	sess, err := New(Config{ID: "x", Bus: bus, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	tr := newFakeTransport()
	require.NoError(t, sess.Spawn(context.Background(), &fakeSpawner{transport: tr}, SpawnParams{Kind: KindLocal}, "initial"))

	select {
	case <-sub.C:
	case <-time.After(time.Second):
		t.Fatal("expected spawn's title changed event")
	}

	tr.pushOutput("\x1b]2;split-")
	tr.pushOutput("title\x1b\\")

	select {
	case ev := <-sub.C:
		payload := ev.Payload.(TerminalTitleChanged)
		require.Equal(t, "split-title", payload.Title)
	case <-time.After(time.Second):
		t.Fatal("expected title changed event for split OSC sequence")
	}
}

func TestRepeatedIdenticalTitleDoesNotRepublish(t *testing.T) {
	bus := newTestBus(t)
	sub := bus.Subscribe(TopicTitleChanged + "x")
	defer sub.Cancel()

	sess, err := New(Config{ID: "x", Bus: bus, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	tr := newFakeTransport()
	require.NoError(t, sess.Spawn(context.Background(), &fakeSpawner{transport: tr}, SpawnParams{Kind: KindLocal}, "same"))

	select {
	case <-sub.C:
	case <-time.After(time.Second):
		t.Fatal("expected spawn's title changed event")
	}

	tr.pushOutput("\x1b]0;same\x07")
	tr.pushOutput("\x1b]0;same\x07more output to flush the loop")

	select {
	case ev := <-sub.C:
		t.Fatalf("unexpected title changed event: %+v", ev.Payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSpawnFailureTransitionsToExitedViaErrored(t *testing.T) {
	bus := newTestBus(t)
	sess, err := New(Config{ID: "y", Bus: bus, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	err = sess.Spawn(context.Background(), &fakeSpawner{failSpawn: errors.New("boom")}, SpawnParams{Kind: KindLocal}, "")
	require.ErrorIs(t, err, ErrSpawnFailed)
	require.Equal(t, StateExited, sess.State())
}

func TestOutputIsAppendedToScrollbackAndPublished(t *testing.T) {
	bus := newTestBus(t)
	sub := bus.Subscribe(TopicOutput + "z")
	defer sub.Cancel()

	sess, err := New(Config{ID: "z", Bus: bus, Clock: clockwork.NewFakeClock(), ReadChunkSize: 64})
	require.NoError(t, err)

	tr := newFakeTransport()
	require.NoError(t, sess.Spawn(context.Background(), &fakeSpawner{transport: tr}, SpawnParams{Kind: KindLocal}, "t"))

	tr.pushOutput("hello\n")

	select {
	case ev := <-sub.C:
		payload := ev.Payload.(TerminalOutput)
		require.Equal(t, "hello\n", string(payload.Bytes))
	case <-time.After(time.Second):
		t.Fatal("expected output event")
	}
	require.Eventually(t, func() bool { return sess.HasBuffer() }, time.Second, time.Millisecond)
	require.Equal(t, "hello\n", sess.Buffer())
}

func TestWriteAfterCloseIsRejected(t *testing.T) {
	bus := newTestBus(t)
	sess, err := New(Config{ID: "w", Bus: bus, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	tr := newFakeTransport()
	require.NoError(t, sess.Spawn(context.Background(), &fakeSpawner{transport: tr}, SpawnParams{Kind: KindLocal}, "t"))
	require.NoError(t, sess.Close(time.Second))

	err = sess.Write([]byte("x"))
	require.ErrorIs(t, err, ErrWriteAfterClose)
}

func TestResizeRoundTripsThroughResizingState(t *testing.T) {
	bus := newTestBus(t)
	sess, err := New(Config{ID: "r", Bus: bus, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	tr := newFakeTransport()
	require.NoError(t, sess.Spawn(context.Background(), &fakeSpawner{transport: tr}, SpawnParams{Kind: KindLocal}, "t"))

	require.NoError(t, sess.Resize(120, 40))
	require.Equal(t, StateReady, sess.State())
	require.Equal(t, [][2]int{{120, 40}}, tr.resizes)
}

func TestWriteBatchSendsAllChunksUnderOneLock(t *testing.T) {
	bus := newTestBus(t)
	sess, err := New(Config{ID: "b", Bus: bus, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	tr := newFakeTransport()
	require.NoError(t, sess.Spawn(context.Background(), &fakeSpawner{transport: tr}, SpawnParams{Kind: KindLocal}, "t"))

	require.NoError(t, sess.WriteBatch([][]byte{[]byte("a"), []byte("b"), []byte("c")}))
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, tr.writesSnapshot())
}

func TestCloseIsIdempotent(t *testing.T) {
	bus := newTestBus(t)
	sess, err := New(Config{ID: "c", Bus: bus, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	tr := newFakeTransport()
	require.NoError(t, sess.Spawn(context.Background(), &fakeSpawner{transport: tr}, SpawnParams{Kind: KindLocal}, "t"))

	require.NoError(t, sess.Close(time.Second))
	require.NoError(t, sess.Close(time.Second))
	require.Equal(t, StateExited, sess.State())
}

func TestTransportErrorTransitionsToErroredThenExited(t *testing.T) {
	bus := newTestBus(t)
	sub := bus.Subscribe(TopicExited + "e")
	defer sub.Cancel()

	sess, err := New(Config{ID: "e", Bus: bus, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	tr := newFakeTransport()
	require.NoError(t, sess.Spawn(context.Background(), &fakeSpawner{transport: tr}, SpawnParams{Kind: KindLocal}, "t"))

	tr.errCh <- errors.New("connection reset")

	select {
	case ev := <-sub.C:
		payload := ev.Payload.(TerminalExited)
		require.Equal(t, "connection reset", payload.Reason)
	case <-time.After(time.Second):
		t.Fatal("expected exited event")
	}
	require.Eventually(t, func() bool { return sess.State() == StateExited }, time.Second, time.Millisecond)
}

func TestRecordingCapturesOutputEvents(t *testing.T) {
	bus := newTestBus(t)
	sess, err := New(Config{ID: "rec", Bus: bus, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	tr := newFakeTransport()
	require.NoError(t, sess.Spawn(context.Background(), &fakeSpawner{transport: tr}, SpawnParams{Kind: KindLocal}, "t"))

	path := t.TempDir() + "/session.cast"
	require.NoError(t, sess.StartRecording(path, 80, 24))

	tr.pushOutput("echo hi\n")
	require.Eventually(t, func() bool { return sess.HasBuffer() }, time.Second, time.Millisecond)

	rec, err := sess.StopRecording()
	require.NoError(t, err)
	require.Equal(t, path, rec.Path)
}
