package speech

import (
	"fmt"
	"sync"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/speech"
)

// RecognizerEvents receives recognizer notifications. Nil callbacks are skipped.
type RecognizerEvents struct {
	OnTranscript func(text string)
	OnEnd        func()
	OnError      func(err error)
}

// Recognizer exposes a live transcript and listening flag over a SpeechInput.
// Events from a capture session that was stopped or replaced are dropped.
type Recognizer struct {
	input  SpeechInput
	events RecognizerEvents

	mu         sync.Mutex
	transcript string
	listening  bool
	session    uint64
}

// NewRecognizer creates a recognizer over input.
func NewRecognizer(input SpeechInput, events RecognizerEvents) *Recognizer {
	return &Recognizer{input: input, events: events}
}

// Transcript returns the latest transcript.
func (r *Recognizer) Transcript() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transcript
}

// Listening reports whether a capture session is running.
func (r *Recognizer) Listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listening
}

// Reset clears the transcript.
func (r *Recognizer) Reset() {
	r.mu.Lock()
	r.transcript = ""
	r.mu.Unlock()
}

// Start begins a capture session, replacing a running one.
func (r *Recognizer) Start(opts speech.CaptureOptions) error {
	r.mu.Lock()
	wasListening := r.listening
	r.session++
	id := r.session
	r.listening = true
	r.mu.Unlock()

	if wasListening {
		r.input.StopCapture()
	}

	sink := CaptureSink{
		Transcript: func(text string) { r.handleTranscript(id, text) },
		Ended:      func() { r.handleEnd(id) },
		Failed:     func(err error) { r.handleError(id, err) },
	}
	if err := r.input.StartCapture(opts, sink); err != nil {
		r.mu.Lock()
		if r.session == id {
			r.listening = false
		}
		r.mu.Unlock()
		return fmt.Errorf("start capture: %w", err)
	}
	return nil
}

// Stop ends the running capture session. It is a no-op when not listening.
func (r *Recognizer) Stop() {
	r.mu.Lock()
	if !r.listening {
		r.mu.Unlock()
		return
	}
	r.listening = false
	r.session++
	r.mu.Unlock()

	r.input.StopCapture()
}

func (r *Recognizer) handleTranscript(id uint64, text string) {
	r.mu.Lock()
	if id != r.session || !r.listening {
		r.mu.Unlock()
		return
	}
	r.transcript = text
	r.mu.Unlock()

	if r.events.OnTranscript != nil {
		r.events.OnTranscript(text)
	}
}

func (r *Recognizer) handleEnd(id uint64) {
	r.mu.Lock()
	if id != r.session || !r.listening {
		r.mu.Unlock()
		return
	}
	r.listening = false
	r.mu.Unlock()

	if r.events.OnEnd != nil {
		r.events.OnEnd()
	}
}

func (r *Recognizer) handleError(id uint64, err error) {
	r.mu.Lock()
	if id != r.session || !r.listening {
		r.mu.Unlock()
		return
	}
	r.listening = false
	r.mu.Unlock()

	if r.events.OnError != nil {
		r.events.OnError(err)
	}
}
