package voice

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/chat"
	"github.com/nyai-sathi/voice-chat/backend/internal/model/speech"
	speechsvc "github.com/nyai-sathi/voice-chat/backend/internal/service/speech"
)

// greetingDelay lets the client show the dialog before it starts talking.
const greetingDelay = 500 * time.Millisecond

// Config wires a dialog to its devices and to the chat controller.
type Config struct {
	Output speechsvc.SpeechOutput
	Input  speechsvc.SpeechInput
	// Microphone shares the input acquisition with other owners. Defaults to
	// a microphone owned by this dialog alone.
	Microphone *speechsvc.SharedMicrophone
	Profile    speech.RecognitionProfile
	Pitch      float32
	Clock      Clock
	// Unsupported marks a client without speech recognition.
	Unsupported bool

	// Submit sends the transcript to the active session. A returned error
	// moves the dialog to the error state.
	Submit func(ctx context.Context, text string) error
	// OnStateChange observes every snapshot change. It runs on the dialog
	// goroutine and must not call Close.
	OnStateChange func(Snapshot)
	// OnClose runs once after the dialog has shut down.
	OnClose func()
}

type timerKind int

const (
	timerGreeting timerKind = iota
	timerDebounce
	timerWatchdog
	timerClose
	timerCount
)

// Dialog is one open voice assistant session. All state is owned by a single
// goroutine; device callbacks and public methods post work to it.
type Dialog struct {
	cfg        Config
	clock      Clock
	synth      *speechsvc.Synthesizer
	recognizer *speechsvc.Recognizer
	mic        *speechsvc.SharedMicrophone

	ctx    context.Context
	cancel context.CancelFunc

	queueMu sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}

	snapMu   sync.RWMutex
	snapshot Snapshot

	// Owned by the dialog goroutine.
	state       State
	text        string
	transcript  string
	manual      bool
	stalls      int
	micHeld     bool
	acquiring   bool
	timers      [timerCount]Timer
	timerGen    [timerCount]uint64
	speechGen   uint64
	afterSpeech func()
	submitGen   uint64
}

// Open starts a dialog in the greeting state.
func Open(ctx context.Context, cfg Config) (*Dialog, error) {
	if cfg.Output == nil || cfg.Input == nil {
		return nil, errors.New("voice dialog requires speech output and input")
	}
	if cfg.Submit == nil {
		return nil, errors.New("voice dialog requires a submit function")
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock()
	}
	if cfg.Profile.Name == "" {
		cfg.Profile = speech.DesktopProfile()
	}
	if cfg.Microphone == nil {
		cfg.Microphone = speechsvc.NewSharedMicrophone(cfg.Input)
	}

	dctx, cancel := context.WithCancel(ctx)
	d := &Dialog{
		cfg:    cfg,
		clock:  cfg.Clock,
		mic:    cfg.Microphone,
		ctx:    dctx,
		cancel: cancel,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		state:  StateGreeting,
		text:   GreetingText,
	}
	d.synth = speechsvc.NewSynthesizer(cfg.Output, speechsvc.SynthesizerOptions{
		ChunkWords: cfg.Profile.ChunkWords,
		Pitch:      cfg.Pitch,
	})
	d.recognizer = speechsvc.NewRecognizer(cfg.Input, speechsvc.RecognizerEvents{
		OnTranscript: func(text string) { d.post(func() { d.handleTranscript(text) }) },
		OnEnd:        func() { d.post(d.handleCaptureEnd) },
		OnError:      func(err error) { d.post(func() { d.handleCaptureError(err) }) },
	})
	d.snapshot = d.currentSnapshot()

	log.Printf("[voice] dialog opened profile=%s continuous=%t", cfg.Profile.Name, cfg.Profile.Continuous)
	go d.run()
	d.post(d.begin)
	return d, nil
}

// Snapshot returns the latest observable state.
func (d *Dialog) Snapshot() Snapshot {
	d.snapMu.RLock()
	defer d.snapMu.RUnlock()
	return d.snapshot
}

// State returns the current dialog state.
func (d *Dialog) State() State {
	return d.Snapshot().State
}

// Done is closed once the dialog has shut down.
func (d *Dialog) Done() <-chan struct{} {
	return d.done
}

// Close stops capture and synthesis, clears every timer and releases the
// microphone. It blocks until the dialog has shut down and is idempotent.
func (d *Dialog) Close() {
	d.post(func() { d.shutdown("closed by user") })
	<-d.done
}

// ToggleMic stops capture and submits the transcript, or restarts capture.
func (d *Dialog) ToggleMic() {
	d.post(d.handleToggle)
}

// SubmitText sends typed text, bypassing voice capture.
func (d *Dialog) SubmitText(text string) {
	d.post(func() { d.handleManualText(text) })
}

// RetryPermission requests microphone access again after a denial.
func (d *Dialog) RetryPermission() {
	d.post(d.handleRetry)
}

// ResponseArrived signals that the active session received an assistant message.
func (d *Dialog) ResponseArrived(msg chat.Message) {
	if msg.IsUser {
		return
	}
	d.post(d.handleResponse)
}

func (d *Dialog) post(fn func()) bool {
	d.queueMu.Lock()
	if d.stopped {
		d.queueMu.Unlock()
		return false
	}
	d.queue = append(d.queue, fn)
	d.queueMu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	return true
}

func (d *Dialog) run() {
	defer close(d.done)
	for {
		<-d.wake
		for {
			d.queueMu.Lock()
			if len(d.queue) == 0 {
				stopped := d.stopped
				d.queueMu.Unlock()
				if stopped {
					return
				}
				break
			}
			fn := d.queue[0]
			d.queue[0] = nil
			d.queue = d.queue[1:]
			d.queueMu.Unlock()

			fn()
			d.publish()
		}
	}
}

func (d *Dialog) currentSnapshot() Snapshot {
	return Snapshot{
		State:       d.state,
		Text:        d.text,
		Transcript:  d.transcript,
		ManualInput: d.manual,
		Capturing:   d.recognizer.Listening(),
	}
}

func (d *Dialog) publish() {
	snap := d.currentSnapshot()

	d.snapMu.Lock()
	changed := snap != d.snapshot
	d.snapshot = snap
	d.snapMu.Unlock()

	if changed && d.cfg.OnStateChange != nil {
		d.cfg.OnStateChange(snap)
	}
}

func (d *Dialog) closed() bool {
	return d.state == StateClosed
}

func (d *Dialog) begin() {
	if d.cfg.OnStateChange != nil {
		d.cfg.OnStateChange(d.snapshot)
	}
	if d.cfg.Unsupported {
		d.enterUnsupported()
		return
	}
	d.acquireMicrophone()
}

func (d *Dialog) acquireMicrophone() {
	if d.acquiring {
		return
	}
	d.acquiring = true
	go func() {
		err := d.mic.Acquire(d.ctx)
		accepted := d.post(func() { d.handlePermission(err) })
		if !accepted && err == nil {
			d.mic.Release()
		}
	}()
}

func (d *Dialog) handlePermission(err error) {
	d.acquiring = false
	if d.closed() {
		if err == nil {
			d.mic.Release()
		}
		return
	}

	awaiting := d.state == StateGreeting || d.state == StatePermissionDenied
	switch {
	case err == nil:
		d.micHeld = true
		if awaiting {
			d.state = StateGreeting
			d.text = GreetingText
			d.arm(timerGreeting, greetingDelay, d.greet)
		}
	case errors.Is(err, speechsvc.ErrUnsupported):
		if awaiting {
			d.enterUnsupported()
		}
	default:
		log.Printf("[voice] microphone unavailable: %v", err)
		if awaiting {
			d.enterPermissionDenied()
		}
	}
}

func (d *Dialog) greet() {
	if d.state != StateGreeting {
		return
	}
	text := GreetingText
	if d.cfg.Profile.Guidance != "" {
		text += " " + d.cfg.Profile.Guidance
	}
	d.text = text
	d.speak(text, d.startListening)
}

func (d *Dialog) enterUnsupported() {
	d.state = StateUnsupported
	d.text = UnsupportedText
}

func (d *Dialog) enterPermissionDenied() {
	d.stopCapture()
	d.stopTimer(timerDebounce)
	d.stopTimer(timerWatchdog)
	if d.micHeld {
		d.mic.Release()
		d.micHeld = false
	}
	d.state = StatePermissionDenied
	d.text = PermissionText
	d.speak(PermissionText, nil)
}

func (d *Dialog) handleRetry() {
	if d.state != StatePermissionDenied {
		return
	}
	d.stopSpeech()
	d.acquireMicrophone()
}

func (d *Dialog) listeningState() State {
	if d.manual {
		return StateManualInput
	}
	return StateListening
}

func (d *Dialog) startListening() {
	if d.closed() {
		return
	}
	d.state = d.listeningState()
	if d.manual {
		d.text = ManualInputText
	} else {
		d.text = ""
	}
	d.transcript = ""
	d.recognizer.Reset()
	d.stopTimer(timerDebounce)
	d.startCapture()
}

func (d *Dialog) startCapture() {
	opts := speech.CaptureOptions{
		Continuous: d.cfg.Profile.Continuous,
		Lang:       d.cfg.Profile.Language,
	}
	if err := d.recognizer.Start(opts); err != nil {
		log.Printf("[voice] capture failed to start: %v", err)
		d.recordStall()
	}
	d.arm(timerWatchdog, d.cfg.Profile.WatchdogInterval, d.handleWatchdog)
}

func (d *Dialog) stopCapture() {
	d.recognizer.Stop()
}

func (d *Dialog) recordStall() {
	d.stalls++
	if d.cfg.Profile.MaxStalls > 0 && d.stalls >= d.cfg.Profile.MaxStalls && !d.manual {
		log.Printf("[voice] %d stalled captures, offering manual input", d.stalls)
		d.manual = true
		if d.state.listening() {
			d.state = StateManualInput
			d.text = ManualInputText
		}
	}
}

func (d *Dialog) handleTranscript(text string) {
	if !d.state.listening() {
		return
	}
	d.transcript = text
	d.stalls = 0
	d.arm(timerDebounce, d.cfg.Profile.DebounceDelay, d.handleDebounce)
	d.arm(timerWatchdog, d.cfg.Profile.WatchdogInterval, d.handleWatchdog)
}

func (d *Dialog) handleDebounce() {
	if !d.state.listening() {
		return
	}
	if strings.TrimSpace(d.transcript) == "" {
		return
	}
	d.submit(d.transcript)
}

func (d *Dialog) handleWatchdog() {
	if !d.state.listening() {
		return
	}
	log.Printf("[voice] no progress in %s, restarting capture", d.cfg.Profile.WatchdogInterval)
	d.recordStall()
	d.startCapture()
}

func (d *Dialog) handleCaptureEnd() {
	if !d.state.listening() {
		return
	}
	if strings.TrimSpace(d.transcript) != "" {
		// The pending debounce submits what was heard.
		return
	}
	d.startCapture()
}

func (d *Dialog) handleCaptureError(err error) {
	if !d.state.listening() {
		return
	}
	if errors.Is(err, speechsvc.ErrPermissionDenied) {
		d.enterPermissionDenied()
		return
	}
	log.Printf("[voice] recognition error: %v", err)
	d.recordStall()
	if d.cfg.Profile.MaxStalls <= 0 || d.stalls < d.cfg.Profile.MaxStalls {
		d.startCapture()
	}
}

func (d *Dialog) handleToggle() {
	switch {
	case d.state.listening():
		if d.recognizer.Listening() {
			d.stopCapture()
			d.stopTimer(timerWatchdog)
			d.stopTimer(timerDebounce)
			if strings.TrimSpace(d.transcript) != "" {
				d.submit(d.transcript)
			}
			return
		}
		d.startListening()
	case d.state == StateGreeting && d.micHeld, d.state == StateError:
		d.stopSpeech()
		d.stopTimer(timerGreeting)
		d.startListening()
	}
}

func (d *Dialog) handleManualText(text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	switch d.state {
	case StateListening, StateManualInput, StatePermissionDenied, StateGreeting, StateError:
		d.stopSpeech()
		d.stopTimer(timerGreeting)
		d.submit(strings.TrimSpace(text))
	}
}

func (d *Dialog) submit(text string) {
	d.stopCapture()
	d.stopTimer(timerDebounce)
	d.stopTimer(timerWatchdog)
	d.state = StateProcessing
	d.text = ProcessingText
	d.transcript = text

	d.submitGen++
	gen := d.submitGen
	log.Printf("[voice] submitting transcript (%d chars)", len(text))
	go func() {
		err := d.cfg.Submit(d.ctx, text)
		d.post(func() { d.handleSubmitted(gen, err) })
	}()
}

func (d *Dialog) handleSubmitted(gen uint64, err error) {
	if gen != d.submitGen || d.state != StateProcessing || err == nil {
		return
	}
	log.Printf("[voice] submit failed: %v", err)
	d.state = StateError
	d.text = ApologyText
	d.speak(ApologyText, d.startListening)
}

func (d *Dialog) handleResponse() {
	if d.state != StateProcessing {
		return
	}
	d.state = StateReceived
	d.text = ConfirmationText
	d.speak(ConfirmationText, func() {
		d.arm(timerClose, d.cfg.Profile.CloseDelay, func() {
			d.shutdown("reply received")
		})
	})
}

// speak reads text aloud and runs then once it finishes, unless another
// utterance or a close superseded it.
func (d *Dialog) speak(text string, then func()) {
	d.speechGen++
	gen := d.speechGen
	d.afterSpeech = then
	d.synth.Speak(text, func() {
		d.post(func() { d.handleSpoken(gen) })
	})
}

func (d *Dialog) handleSpoken(gen uint64) {
	if gen != d.speechGen || d.closed() {
		return
	}
	then := d.afterSpeech
	d.afterSpeech = nil
	if then != nil {
		then()
	}
}

func (d *Dialog) stopSpeech() {
	d.speechGen++
	d.afterSpeech = nil
	d.synth.Stop()
}

func (d *Dialog) arm(kind timerKind, delay time.Duration, fn func()) {
	d.stopTimer(kind)
	if delay <= 0 {
		return
	}
	gen := d.timerGen[kind]
	d.timers[kind] = d.clock.AfterFunc(delay, func() {
		d.post(func() {
			if d.timerGen[kind] != gen || d.closed() {
				return
			}
			d.timers[kind] = nil
			fn()
		})
	})
}

func (d *Dialog) stopTimer(kind timerKind) {
	d.timerGen[kind]++
	if d.timers[kind] != nil {
		d.timers[kind].Stop()
		d.timers[kind] = nil
	}
}

func (d *Dialog) shutdown(reason string) {
	if d.closed() {
		return
	}

	for kind := timerKind(0); kind < timerCount; kind++ {
		d.stopTimer(kind)
	}
	d.stopSpeech()
	d.cfg.Output.Cancel()
	if d.recognizer.Listening() {
		d.recognizer.Stop()
	} else {
		d.cfg.Input.StopCapture()
	}
	if d.micHeld {
		d.mic.Release()
		d.micHeld = false
	}
	d.cancel()

	d.state = StateClosed
	d.text = ""
	d.publish()

	// Work already queued still runs and sees the closed state.
	d.queueMu.Lock()
	d.stopped = true
	d.queueMu.Unlock()

	log.Printf("[voice] dialog closed: %s", reason)
	if d.cfg.OnClose != nil {
		d.cfg.OnClose()
	}
}
