package source

import (
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/focuswatch/focuswatch/internal/icon"
)

// errScriptDone terminates a scripted run once all signals were consumed.
var errScriptDone = errors.New("script exhausted")

// fakeSource feeds a scripted signal sequence into the engine. Icons are
// popped from a queue, one per extraction, so tests can verify exactly when
// the pipeline runs.
type fakeSource struct {
	initial   *Signal
	signals   []Signal
	icons     []*icon.Image
	iconErr   error
	iconCalls int

	// blockWhenDone makes Next behave like a quiet desktop after the script
	// ends: poll the stop flag and sleep, never returning a signal.
	blockWhenDone bool

	idx    int
	closed bool
}

func (f *fakeSource) InitialSnapshot() (*Signal, error) {
	return f.initial, nil
}

func (f *fakeSource) Next(stop *atomic.Bool, pollInterval time.Duration) (Signal, error) {
	if f.idx >= len(f.signals) {
		if !f.blockWhenDone {
			return Signal{}, errScriptDone
		}
		for {
			if stopped(stop) {
				return Signal{}, errStopped
			}
			time.Sleep(pollInterval)
		}
	}

	sig := f.signals[f.idx]
	f.idx++
	return sig, nil
}

func (f *fakeSource) Icon(opts Options) (*icon.Image, error) {
	f.iconCalls++
	if f.iconErr != nil {
		return nil, f.iconErr
	}
	if len(f.icons) == 0 {
		return nil, errors.New("icon queue empty")
	}
	img := f.icons[0]
	f.icons = f.icons[1:]
	return img, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func activeSignal(proc, title string) Signal {
	return Signal{
		Kind:     ActiveWindowChanged,
		Identity: Identity{ProcessName: strPtr(proc), WindowTitle: strPtr(title)},
	}
}

func titleSignal(proc, title string) Signal {
	return Signal{
		Kind:     TitleChanged,
		Identity: Identity{ProcessName: strPtr(proc), WindowTitle: strPtr(title)},
	}
}

func testIcon(seed byte) *icon.Image {
	return &icon.Image{
		Width:  2,
		Height: 2,
		Pixels: []byte{
			seed, 1, 2, 3, 4, 5, 6, 7,
			8, 9, 10, 11, 12, 13, 14, 15,
		},
	}
}

// collect runs the engine over the scripted source and returns the emitted
// events.
func collect(t *testing.T, src *fakeSource) []Event {
	t.Helper()

	var events []Event
	err := Run(src, Options{PollInterval: 5 * time.Millisecond}, nil, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	require.ErrorIs(t, err, errScriptDone)
	return events
}

func TestScenarioThreeEventsTwoIconFetches(t *testing.T) {
	src := &fakeSource{
		signals: []Signal{
			activeSignal("a", "A1"),
			titleSignal("a", "A2"),
			activeSignal("b", "B1"),
		},
		icons: []*icon.Image{testIcon(0xA0), testIcon(0xB0)},
	}

	events := collect(t, src)

	require.Len(t, events, 3)
	assert.Equal(t, "A1", *events[0].WindowTitle)
	assert.Equal(t, "A2", *events[1].WindowTitle)
	assert.Equal(t, "B1", *events[2].WindowTitle)

	// The icon pipeline ran for "a" and "b", never for the title change.
	assert.Equal(t, 2, src.iconCalls)
	assert.True(t, events[0].Icon.Equal(testIcon(0xA0)))
	assert.True(t, events[2].Icon.Equal(testIcon(0xB0)))
}

func TestTitleChangeReusesCachedIconVerbatim(t *testing.T) {
	src := &fakeSource{
		signals: []Signal{
			activeSignal("editor", "main.go"),
			titleSignal("editor", "other.go"),
		},
		icons: []*icon.Image{testIcon(0x42)},
	}

	events := collect(t, src)

	require.Len(t, events, 2)
	require.Equal(t, 1, src.iconCalls)
	require.NotNil(t, events[0].Icon)
	assert.Same(t, events[0].Icon, events[1].Icon)
	assert.Equal(t, events[0].Icon.Pixels, events[1].Icon.Pixels)
}

func TestDedupSuppressesRepeatedPairs(t *testing.T) {
	src := &fakeSource{
		signals: []Signal{
			activeSignal("term", "zsh"),
			activeSignal("term", "zsh"),
			activeSignal("term", "zsh"),
			titleSignal("term", "zsh"),
			activeSignal("term", "vim"),
		},
		icons: []*icon.Image{testIcon(1), testIcon(2), testIcon(3)},
	}

	events := collect(t, src)

	require.Len(t, events, 2)
	assert.Equal(t, "zsh", *events[0].WindowTitle)
	assert.Equal(t, "vim", *events[1].WindowTitle)

	// No two adjacent events share the same (process, title) pair.
	for i := 1; i < len(events); i++ {
		same := strEqual(events[i].ProcessName, events[i-1].ProcessName) &&
			strEqual(events[i].WindowTitle, events[i-1].WindowTitle)
		assert.False(t, same, "adjacent events %d and %d have identical identity", i-1, i)
	}
}

func TestFirstSignalAlwaysReported(t *testing.T) {
	// Even a bare title change fires when nothing was observed before.
	src := &fakeSource{
		signals: []Signal{titleSignal("app", "hello")},
	}

	events := collect(t, src)

	require.Len(t, events, 1)
	assert.Equal(t, "hello", *events[0].WindowTitle)
	assert.Nil(t, events[0].Icon)
	assert.Zero(t, src.iconCalls, "a title-only signal must not trigger icon extraction")
}

func TestInitialSnapshotFiresImmediately(t *testing.T) {
	initial := activeSignal("desktop", "Home")
	src := &fakeSource{
		initial: &initial,
		icons:   []*icon.Image{testIcon(7)},
	}

	events := collect(t, src)

	require.Len(t, events, 1)
	assert.Equal(t, "Home", *events[0].WindowTitle)
	assert.Equal(t, 1, src.iconCalls)
}

func TestIconFailureCachesAbsence(t *testing.T) {
	src := &fakeSource{
		signals: []Signal{
			activeSignal("ghost", "win"),
			titleSignal("ghost", "win 2"),
		},
		iconErr: fmt.Errorf("window vanished"),
	}

	events := collect(t, src)

	require.Len(t, events, 2)
	assert.Nil(t, events[0].Icon)
	assert.Nil(t, events[1].Icon)
	// The title change must not speculatively refetch after a failure.
	assert.Equal(t, 1, src.iconCalls)
}

func TestHandlerErrorsAreAbsorbed(t *testing.T) {
	src := &fakeSource{
		signals: []Signal{
			activeSignal("a", "1"),
			activeSignal("b", "2"),
		},
		icons: []*icon.Image{testIcon(1), testIcon(2)},
	}

	var calls int
	err := Run(src, Options{PollInterval: time.Millisecond}, nil, func(Event) error {
		calls++
		return fmt.Errorf("consumer hiccup %d", calls)
	})

	require.ErrorIs(t, err, errScriptDone)
	assert.Equal(t, 2, calls, "a failing handler must not abort the loop")
}

func TestHandlerStopEndsLoopCleanly(t *testing.T) {
	src := &fakeSource{
		signals: []Signal{
			activeSignal("a", "1"),
			activeSignal("b", "2"),
		},
		icons: []*icon.Image{testIcon(1), testIcon(2)},
	}

	var calls int
	err := Run(src, Options{PollInterval: time.Millisecond}, nil, func(Event) error {
		calls++
		return ErrStopTracking
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestCancellationBoundedByPollInterval(t *testing.T) {
	const pollInterval = 50 * time.Millisecond

	src := &fakeSource{blockWhenDone: true}
	stop := &atomic.Bool{}
	stop.Store(true)

	done := make(chan error, 1)
	start := time.Now()
	go func() {
		done <- Run(src, Options{PollInterval: pollInterval}, stop, func(Event) error {
			return nil
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
		assert.Less(t, time.Since(start), pollInterval+100*time.Millisecond)
	case <-time.After(2 * time.Second):
		t.Fatal("tracking loop did not observe the stop flag")
	}
}
