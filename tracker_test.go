package focuswatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focuswatch/focuswatch/internal/icon"
	"github.com/focuswatch/focuswatch/internal/source"
)

var errScriptDone = errors.New("script exhausted")

// scriptedSource plays back a fixed signal sequence, then either fails with
// errScriptDone or idles like a quiet desktop until stopped.
type scriptedSource struct {
	signals   []source.Signal
	icons     []*icon.Image
	idleAtEnd bool
	panicMsg  string

	idx    int
	closed atomic.Bool
}

func (s *scriptedSource) InitialSnapshot() (*source.Signal, error) {
	return nil, nil
}

func (s *scriptedSource) Next(stop *atomic.Bool, pollInterval time.Duration) (source.Signal, error) {
	if s.idx >= len(s.signals) {
		if s.panicMsg != "" {
			panic(s.panicMsg)
		}
		if !s.idleAtEnd {
			return source.Signal{}, errScriptDone
		}
		for {
			if stop != nil && stop.Load() {
				return source.Signal{}, errScriptDone
			}
			time.Sleep(pollInterval)
		}
	}

	sig := s.signals[s.idx]
	s.idx++
	return sig, nil
}

func (s *scriptedSource) Icon(opts source.Options) (*icon.Image, error) {
	if len(s.icons) == 0 {
		return nil, nil
	}
	img := s.icons[0]
	s.icons = s.icons[1:]
	return img, nil
}

func (s *scriptedSource) Close() error {
	s.closed.Store(true)
	return nil
}

// installSource points the tracker at a scripted source for the duration of
// the test.
func installSource(t *testing.T, src *scriptedSource) {
	t.Helper()

	orig := newSource
	newSource = func() (source.Source, error) { return src, nil }
	t.Cleanup(func() { newSource = orig })
}

func focusSignal(proc, title string) source.Signal {
	return source.Signal{
		Kind: source.ActiveWindowChanged,
		Identity: source.Identity{
			ProcessName: &proc,
			WindowTitle: &title,
		},
	}
}

func TestTrackDeliversEventsInOrder(t *testing.T) {
	src := &scriptedSource{
		signals: []source.Signal{
			focusSignal("firefox", "Mozilla Firefox"),
			focusSignal("code", "main.go"),
		},
	}
	installSource(t, src)

	var titles []string
	err := New().Track(func(w FocusedWindow) error {
		titles = append(titles, *w.WindowTitle)
		return nil
	})

	require.ErrorIs(t, err, errScriptDone)
	assert.Equal(t, []string{"Mozilla Firefox", "main.go"}, titles)
	assert.True(t, src.closed.Load(), "the platform source must be closed when tracking ends")
}

func TestTrackStopsOnHandlerRequest(t *testing.T) {
	src := &scriptedSource{
		signals: []source.Signal{
			focusSignal("a", "1"),
			focusSignal("b", "2"),
			focusSignal("c", "3"),
		},
	}
	installSource(t, src)

	var seen int
	err := New().Track(func(FocusedWindow) error {
		seen++
		if seen == 2 {
			return ErrStopTracking
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, seen)
}

func TestTrackPropagatesSourceCreationError(t *testing.T) {
	orig := newSource
	newSource = func() (source.Source, error) { return nil, ErrNotInteractiveSession }
	t.Cleanup(func() { newSource = orig })

	err := New().Track(func(FocusedWindow) error { return nil })
	assert.ErrorIs(t, err, ErrNotInteractiveSession)
}

func TestTrackWithStopObservesFlag(t *testing.T) {
	src := &scriptedSource{idleAtEnd: true}
	installSource(t, src)

	tr := NewWithConfig(DefaultConfig().WithPollInterval(10 * time.Millisecond))

	stop := &atomic.Bool{}
	done := make(chan error, 1)
	go func() {
		done <- tr.TrackWithStop(func(FocusedWindow) error { return nil }, stop)
	}()

	stop.Store(true)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("tracking loop ignored the stop flag")
	}
}

func TestTrackContextCancellation(t *testing.T) {
	src := &scriptedSource{
		signals:   []source.Signal{focusSignal("term", "zsh")},
		idleAtEnd: true,
	}
	installSource(t, src)

	tr := NewWithConfig(DefaultConfig().WithPollInterval(10 * time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())

	received := make(chan FocusedWindow, 1)
	done := make(chan error, 1)
	go func() {
		done <- tr.TrackContext(ctx, func(w FocusedWindow) error {
			select {
			case received <- w:
			default:
			}
			return nil
		})
	}()

	select {
	case w := <-received:
		assert.Equal(t, "zsh", *w.WindowTitle)
	case <-time.After(time.Second):
		t.Fatal("no event before cancellation")
	}

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("TrackContext did not return after cancellation")
	}
}

func TestTrackContextSurfacesWorkerError(t *testing.T) {
	src := &scriptedSource{}
	installSource(t, src)

	err := New().TrackContext(context.Background(), func(FocusedWindow) error { return nil })
	assert.ErrorIs(t, err, errScriptDone)
}

func TestTrackContextRecoversWorkerPanic(t *testing.T) {
	src := &scriptedSource{panicMsg: "connection state corrupted"}
	installSource(t, src)

	err := New().TrackContext(context.Background(), func(FocusedWindow) error { return nil })

	var panicErr *PanicError
	require.ErrorAs(t, err, &panicErr)
	assert.Equal(t, "connection state corrupted", panicErr.Value)
}

func TestSubscribeDeliversInOrderAndCloses(t *testing.T) {
	src := &scriptedSource{
		signals: []source.Signal{
			focusSignal("a", "1"),
			focusSignal("b", "2"),
			focusSignal("c", "3"),
		},
	}
	installSource(t, src)

	sub := New().Subscribe()
	defer sub.Close()

	var titles []string
	for w := range sub.Events() {
		titles = append(titles, *w.WindowTitle)
	}

	assert.Equal(t, []string{"1", "2", "3"}, titles)
	assert.ErrorIs(t, sub.Err(), errScriptDone)
}

func TestSubscribeCloseStopsWorker(t *testing.T) {
	src := &scriptedSource{
		signals:   []source.Signal{focusSignal("a", "1")},
		idleAtEnd: true,
	}
	installSource(t, src)

	tr := NewWithConfig(DefaultConfig().WithPollInterval(10 * time.Millisecond))
	sub := tr.Subscribe()

	select {
	case _, ok := <-sub.Events():
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("no event from subscription")
	}

	sub.Close()
	sub.Close() // idempotent

	select {
	case _, ok := <-sub.Events():
		assert.False(t, ok, "event channel must be closed after Close")
	case <-time.After(time.Second):
		t.Fatal("event channel not closed after Close")
	}

	assert.Eventually(t, src.closed.Load, time.Second, 5*time.Millisecond,
		"the platform source must be closed once the worker observes the stop")
}

func TestSubscribeErrVisibleOnceEventsClose(t *testing.T) {
	// The terminal error must be readable the moment the event channel
	// closes, on every run, not just after a settling delay.
	src := &scriptedSource{}
	installSource(t, src)

	for i := 0; i < 200; i++ {
		sub := New().Subscribe()
		for range sub.Events() {
		}
		require.ErrorIs(t, sub.Err(), errScriptDone, "iteration %d", i)
	}
}

func TestSubscribeSlowConsumerDoesNotBlockWorker(t *testing.T) {
	const n = 50

	signals := make([]source.Signal, n)
	for i := range signals {
		signals[i] = focusSignal("app", fmt.Sprintf("window %d", i))
	}
	src := &scriptedSource{signals: signals}
	installSource(t, src)

	sub := New().Subscribe()
	defer sub.Close()

	// Let the worker run the whole script before reading anything; the
	// dispatcher buffers events without bound.
	time.Sleep(50 * time.Millisecond)

	var got int
	for w := range sub.Events() {
		assert.Equal(t, fmt.Sprintf("window %d", got), *w.WindowTitle)
		got++
	}
	assert.Equal(t, n, got)
}
