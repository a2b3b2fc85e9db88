// Package speech adapts the client's speech synthesis and recognition engines.
package speech

import (
	"context"
	"errors"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/speech"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrUnsupported      = errors.New("speech recognition is not supported on this device")
)

// SpeechOutput is a speech synthesis engine.
type SpeechOutput interface {
	Acquire(ctx context.Context) error
	Release()
	// Speak queues one utterance; done is called once when it ends or fails.
	Speak(u speech.Utterance, done func(error))
	// Cancel drops the queued and current utterances.
	Cancel()
	Voices() []speech.Voice
}

// SpeechInput is a speech recognition engine with microphone access.
type SpeechInput interface {
	// Acquire obtains microphone access. It returns ErrPermissionDenied or
	// ErrUnsupported when capture is impossible.
	Acquire(ctx context.Context) error
	Release()
	StartCapture(opts speech.CaptureOptions, sink CaptureSink) error
	StopCapture()
}

// CaptureSink receives the events of one capture session. Transcript carries
// the full, possibly partial, transcript so far.
type CaptureSink struct {
	Transcript func(text string)
	Ended      func()
	Failed     func(err error)
}
