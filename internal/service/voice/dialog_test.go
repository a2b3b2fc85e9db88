package voice

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/chat"
	"github.com/nyai-sathi/voice-chat/backend/internal/model/speech"
	speechsvc "github.com/nyai-sathi/voice-chat/backend/internal/service/speech"
)

const waitFor = time.Second

type fakeTimer struct {
	clock   *fakeClock
	at      time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now + d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and runs the timers that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.at <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].at < due[j].at })
	for _, t := range due {
		t.fn()
	}
}

func (c *fakeClock) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	active := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			active++
		}
	}
	return active
}

type fakeOutput struct {
	mu      sync.Mutex
	spoken  []string
	pending []func(error)
	cancels int
}

func (o *fakeOutput) Acquire(context.Context) error { return nil }
func (o *fakeOutput) Release()                      {}
func (o *fakeOutput) Voices() []speech.Voice        { return nil }

func (o *fakeOutput) Speak(u speech.Utterance, done func(error)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.spoken = append(o.spoken, u.Text)
	o.pending = append(o.pending, done)
}

func (o *fakeOutput) Cancel() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.cancels++
	o.pending = nil
}

func (o *fakeOutput) finishNext() bool {
	o.mu.Lock()
	if len(o.pending) == 0 {
		o.mu.Unlock()
		return false
	}
	done := o.pending[0]
	o.pending = o.pending[1:]
	o.mu.Unlock()
	done(nil)
	return true
}

func (o *fakeOutput) lastSpoken() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.spoken) == 0 {
		return ""
	}
	return o.spoken[len(o.spoken)-1]
}

func (o *fakeOutput) cancelCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancels
}

type fakeInput struct {
	mu         sync.Mutex
	acquireErr error
	acquires   int
	releases   int
	starts     []speech.CaptureOptions
	stops      int
	sink       speechsvc.CaptureSink
}

func (i *fakeInput) Acquire(context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.acquires++
	return i.acquireErr
}

func (i *fakeInput) Release() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.releases++
}

func (i *fakeInput) StartCapture(opts speech.CaptureOptions, sink speechsvc.CaptureSink) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.starts = append(i.starts, opts)
	i.sink = sink
	return nil
}

func (i *fakeInput) StopCapture() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.stops++
}

func (i *fakeInput) setAcquireErr(err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.acquireErr = err
}

func (i *fakeInput) startCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.starts)
}

func (i *fakeInput) stopCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.stops
}

func (i *fakeInput) releaseCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.releases
}

func (i *fakeInput) transcript(text string) {
	i.mu.Lock()
	sink := i.sink
	i.mu.Unlock()
	sink.Transcript(text)
}

type harness struct {
	t       *testing.T
	dialog  *Dialog
	out     *fakeOutput
	in      *fakeInput
	clock   *fakeClock
	submits chan string

	mu        sync.Mutex
	submitErr error
	closes    int
}

func newHarness(t *testing.T, configure ...func(*Config, *fakeInput)) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		out:     &fakeOutput{},
		in:      &fakeInput{},
		clock:   &fakeClock{},
		submits: make(chan string, 4),
	}
	cfg := Config{
		Output:  h.out,
		Input:   h.in,
		Profile: speech.DesktopProfile(),
		Clock:   h.clock,
		Submit: func(_ context.Context, text string) error {
			h.submits <- text
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.submitErr
		},
		OnClose: func() {
			h.mu.Lock()
			h.closes++
			h.mu.Unlock()
		},
	}
	for _, fn := range configure {
		fn(&cfg, h.in)
	}

	dialog, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	h.dialog = dialog
	t.Cleanup(dialog.Close)
	return h
}

// settle waits until the dialog goroutine has drained its queue.
func (h *harness) settle() {
	h.t.Helper()
	for i := 0; i < 100; i++ {
		empty := make(chan bool, 1)
		posted := h.dialog.post(func() {
			h.dialog.queueMu.Lock()
			empty <- len(h.dialog.queue) == 0
			h.dialog.queueMu.Unlock()
		})
		if !posted {
			return
		}
		select {
		case done := <-empty:
			if done {
				return
			}
		case <-h.dialog.Done():
			return
		case <-time.After(waitFor):
			h.t.Fatal("dialog did not settle")
		}
	}
}

func (h *harness) waitState(state State) {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.dialog.State() == state }, waitFor, time.Millisecond,
		"expected state %s, got %s", state, h.dialog.State())
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.settle()
}

func (h *harness) finishSpeech() {
	h.t.Helper()
	require.True(h.t, h.out.finishNext(), "no utterance pending")
	h.settle()
}

// toListening drives a freshly opened dialog through the greeting.
func (h *harness) toListening() {
	h.t.Helper()
	require.Eventually(h.t, func() bool { return h.clock.Active() > 0 }, waitFor, time.Millisecond)
	h.advance(greetingDelay)
	assert.Contains(h.t, h.out.lastSpoken(), GreetingText)
	h.finishSpeech()
	h.waitState(StateListening)
}

func (h *harness) expectSubmit(want string) {
	h.t.Helper()
	select {
	case got := <-h.submits:
		assert.Equal(h.t, want, got)
	case <-time.After(waitFor):
		h.t.Fatalf("expected submit of %q", want)
	}
}

func (h *harness) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closes
}

func TestDialogStartsInGreetingAndListens(t *testing.T) {
	h := newHarness(t)
	assert.Equal(t, StateGreeting, h.dialog.State())

	h.toListening()
	require.Equal(t, 1, h.in.startCount())
	assert.True(t, h.in.starts[0].Continuous)
	assert.Equal(t, "en-IN", h.in.starts[0].Lang)
	assert.True(t, h.dialog.Snapshot().Capturing)
}

func TestDialogSubmitsAfterPause(t *testing.T) {
	h := newHarness(t)
	h.toListening()

	h.in.transcript("hello")
	h.settle()
	h.advance(2 * time.Second)

	h.expectSubmit("hello")
	assert.Equal(t, StateProcessing, h.dialog.State())
	assert.False(t, h.dialog.Snapshot().Capturing)
}

func TestDialogDebounceRestartsOnTranscriptChange(t *testing.T) {
	h := newHarness(t)
	h.toListening()

	h.in.transcript("what is")
	h.settle()
	h.advance(time.Second)
	h.in.transcript("what is bail")
	h.settle()
	h.advance(time.Second)
	assert.Equal(t, StateListening, h.dialog.State())

	h.advance(600 * time.Millisecond)
	h.expectSubmit("what is bail")
}

func TestDialogToggleMicSubmitsEarly(t *testing.T) {
	h := newHarness(t)
	h.toListening()

	h.in.transcript("section 420")
	h.settle()
	h.dialog.ToggleMic()
	h.settle()

	h.expectSubmit("section 420")
	assert.Equal(t, StateProcessing, h.dialog.State())
}

func TestDialogReceivedClosesAfterDelay(t *testing.T) {
	h := newHarness(t)
	h.toListening()
	h.in.transcript("hello")
	h.settle()
	h.advance(2 * time.Second)
	h.expectSubmit("hello")

	h.dialog.ResponseArrived(chat.Message{Text: "Hi there", IsUser: true})
	h.settle()
	assert.Equal(t, StateProcessing, h.dialog.State(), "user messages are not replies")

	h.dialog.ResponseArrived(chat.Message{Text: "Section 302 deals with..."})
	h.settle()
	assert.Equal(t, StateReceived, h.dialog.State())
	assert.Equal(t, ConfirmationText, h.out.lastSpoken())

	h.finishSpeech()
	h.advance(2 * time.Second)
	assert.Equal(t, StateReceived, h.dialog.State())

	h.clock.Advance(500 * time.Millisecond)
	select {
	case <-h.dialog.Done():
	case <-time.After(waitFor):
		t.Fatal("dialog did not close after the confirmation")
	}
	assert.Equal(t, StateClosed, h.dialog.State())
	assert.Equal(t, 1, h.closeCount())
	assert.Equal(t, 1, h.in.releaseCount())
	assert.Zero(t, h.clock.Active())
}

func TestDialogSubmitErrorApologisesAndListensAgain(t *testing.T) {
	h := newHarness(t)
	h.mu.Lock()
	h.submitErr = errors.New("request already in flight")
	h.mu.Unlock()
	h.toListening()

	h.in.transcript("hello")
	h.settle()
	h.advance(2 * time.Second)
	h.expectSubmit("hello")

	h.waitState(StateError)
	h.settle()
	assert.Equal(t, ApologyText, h.out.lastSpoken())

	h.finishSpeech()
	assert.Equal(t, StateListening, h.dialog.State())
	assert.Empty(t, h.dialog.Snapshot().Transcript)
	assert.Equal(t, 2, h.in.startCount())
}

func TestDialogPermissionDenied(t *testing.T) {
	h := newHarness(t, func(_ *Config, in *fakeInput) {
		in.acquireErr = speechsvc.ErrPermissionDenied
	})

	h.waitState(StatePermissionDenied)
	h.settle()
	assert.Zero(t, h.in.startCount(), "no capture before permission")
	assert.Equal(t, PermissionText, h.out.lastSpoken())

	h.in.setAcquireErr(nil)
	h.dialog.RetryPermission()
	h.waitState(StateGreeting)
	h.toListening()
	assert.Equal(t, 1, h.in.startCount())
}

func TestDialogManualTextWhilePermissionDenied(t *testing.T) {
	h := newHarness(t, func(_ *Config, in *fakeInput) {
		in.acquireErr = speechsvc.ErrPermissionDenied
	})
	h.waitState(StatePermissionDenied)

	h.dialog.SubmitText("  What is bail?  ")
	h.settle()
	h.expectSubmit("What is bail?")
	assert.Equal(t, StateProcessing, h.dialog.State())
}

func TestDialogWatchdogFallsBackToManualInput(t *testing.T) {
	h := newHarness(t)
	h.toListening()
	watchdog := speech.DesktopProfile().WatchdogInterval

	h.advance(watchdog)
	h.advance(watchdog)
	assert.Equal(t, StateListening, h.dialog.State())
	assert.Equal(t, 3, h.in.startCount(), "each stall restarts capture")

	h.advance(watchdog)
	snap := h.dialog.Snapshot()
	assert.Equal(t, StateManualInput, snap.State)
	assert.True(t, snap.ManualInput)
	assert.Equal(t, ManualInputText, snap.Text)

	h.in.transcript("still listening")
	h.settle()
	assert.Equal(t, "still listening", h.dialog.Snapshot().Transcript)

	h.dialog.SubmitText("typed question")
	h.settle()
	h.expectSubmit("typed question")
	assert.Equal(t, StateProcessing, h.dialog.State())
}

func TestDialogCloseReleasesEverything(t *testing.T) {
	h := newHarness(t)
	h.toListening()
	h.in.transcript("half a sentence")
	h.settle()
	require.Positive(t, h.clock.Active())

	cancelsBefore := h.out.cancelCount()
	h.dialog.Close()

	assert.Equal(t, StateClosed, h.dialog.State())
	assert.Zero(t, h.clock.Active())
	assert.Greater(t, h.out.cancelCount(), cancelsBefore)
	assert.Equal(t, 1, h.in.stopCount())
	assert.Equal(t, 1, h.in.releaseCount())
	assert.Equal(t, 1, h.closeCount())

	h.in.transcript("late words")
	h.dialog.ToggleMic()
	h.dialog.Close()
	assert.Equal(t, 1, h.closeCount())
	assert.Empty(t, h.submits)
}

func TestDialogCloseDuringGreeting(t *testing.T) {
	h := newHarness(t)
	require.Eventually(t, func() bool { return h.clock.Active() > 0 }, waitFor, time.Millisecond)

	h.dialog.Close()
	assert.Zero(t, h.clock.Active())
	assert.Equal(t, 1, h.in.stopCount(), "capture stop is issued even when idle")
	assert.Positive(t, h.out.cancelCount())
	assert.Zero(t, h.in.startCount())
}

func TestDialogUnsupported(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *fakeInput) {
		cfg.Unsupported = true
	})

	h.waitState(StateUnsupported)
	assert.Equal(t, UnsupportedText, h.dialog.Snapshot().Text)
	assert.Zero(t, h.in.acquires)

	h.dialog.ToggleMic()
	h.settle()
	assert.Equal(t, StateUnsupported, h.dialog.State())
}

func TestDialogConstrainedProfile(t *testing.T) {
	h := newHarness(t, func(cfg *Config, _ *fakeInput) {
		cfg.Profile = speech.ConstrainedProfile()
	})
	h.toListening()

	assert.Contains(t, h.out.spoken[0], speech.ConstrainedProfile().Guidance)
	require.Equal(t, 1, h.in.startCount())
	assert.False(t, h.in.starts[0].Continuous)

	h.in.transcript("bail")
	h.settle()
	h.advance(2 * time.Second)
	assert.Equal(t, StateListening, h.dialog.State())
	h.advance(500 * time.Millisecond)
	h.expectSubmit("bail")
}

func TestDialogObserverSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var states []State
	h := newHarness(t, func(cfg *Config, _ *fakeInput) {
		cfg.OnStateChange = func(s Snapshot) {
			mu.Lock()
			defer mu.Unlock()
			if len(states) == 0 || states[len(states)-1] != s.State {
				states = append(states, s.State)
			}
		}
	})
	h.toListening()
	h.dialog.Close()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{StateGreeting, StateListening, StateClosed}, states)
}
