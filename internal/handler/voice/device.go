package voice

import (
	"context"
	"errors"
	"sync"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/speech"
	speechsvc "github.com/nyai-sathi/voice-chat/backend/internal/service/speech"
)

var errBridgeClosed = errors.New("voice bridge closed")

// Recognition error codes reported by the browser that mean the microphone
// cannot be used at all.
var deniedCodes = map[string]bool{
	"not-allowed":         true,
	"service-not-allowed": true,
	"audio-capture":       true,
}

// remoteOutput is the browser's speech synthesis engine.
type remoteOutput struct {
	c *connection

	mu      sync.Mutex
	pending map[string]func(error)
	voices  []speech.Voice
}

func newRemoteOutput(c *connection) *remoteOutput {
	return &remoteOutput{c: c, pending: make(map[string]func(error))}
}

func (o *remoteOutput) Acquire(context.Context) error { return nil }
func (o *remoteOutput) Release()                      {}

func (o *remoteOutput) Speak(u speech.Utterance, done func(error)) {
	o.mu.Lock()
	o.pending[u.ID] = done
	o.mu.Unlock()

	if err := o.c.send("speak", u); err != nil {
		o.finish(u.ID, err)
	}
}

// Cancel drops every pending utterance without completing it.
func (o *remoteOutput) Cancel() {
	o.mu.Lock()
	o.pending = make(map[string]func(error))
	o.mu.Unlock()

	o.c.send("cancel_speech", nil)
}

func (o *remoteOutput) Voices() []speech.Voice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]speech.Voice(nil), o.voices...)
}

func (o *remoteOutput) setVoices(voices []speech.Voice) {
	o.mu.Lock()
	o.voices = append([]speech.Voice(nil), voices...)
	o.mu.Unlock()
}

func (o *remoteOutput) finish(id string, err error) {
	o.mu.Lock()
	done, ok := o.pending[id]
	delete(o.pending, id)
	o.mu.Unlock()

	if ok {
		done(err)
	}
}

// remoteInput is the browser's speech recognition engine and microphone.
type remoteInput struct {
	c *connection

	mu         sync.Mutex
	supported  bool
	permission chan bool
	sink       *speechsvc.CaptureSink
}

func newRemoteInput(c *connection) *remoteInput {
	return &remoteInput{c: c, supported: true}
}

func (i *remoteInput) setSupported(supported bool) {
	i.mu.Lock()
	i.supported = supported
	i.mu.Unlock()
}

// Acquire asks the browser for microphone access and waits for its answer.
func (i *remoteInput) Acquire(ctx context.Context) error {
	i.mu.Lock()
	if !i.supported {
		i.mu.Unlock()
		return speechsvc.ErrUnsupported
	}
	answer := make(chan bool, 1)
	i.permission = answer
	i.mu.Unlock()

	if err := i.c.send("request_microphone", nil); err != nil {
		return err
	}

	select {
	case granted := <-answer:
		if !granted {
			return speechsvc.ErrPermissionDenied
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-i.c.ctx.Done():
		return errBridgeClosed
	}
}

func (i *remoteInput) Release() {
	i.c.send("release_microphone", nil)
}

func (i *remoteInput) StartCapture(opts speech.CaptureOptions, sink speechsvc.CaptureSink) error {
	i.mu.Lock()
	i.sink = &sink
	i.mu.Unlock()

	if err := i.c.send("start_listening", opts); err != nil {
		i.mu.Lock()
		i.sink = nil
		i.mu.Unlock()
		return err
	}
	return nil
}

func (i *remoteInput) StopCapture() {
	i.mu.Lock()
	i.sink = nil
	i.mu.Unlock()

	i.c.send("stop_listening", nil)
}

func (i *remoteInput) answerPermission(granted bool) {
	i.mu.Lock()
	answer := i.permission
	i.permission = nil
	i.mu.Unlock()

	if answer != nil {
		answer <- granted
	}
}

func (i *remoteInput) currentSink() *speechsvc.CaptureSink {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sink
}

func (i *remoteInput) transcript(text string) {
	if sink := i.currentSink(); sink != nil && sink.Transcript != nil {
		sink.Transcript(text)
	}
}

func (i *remoteInput) ended() {
	if sink := i.currentSink(); sink != nil && sink.Ended != nil {
		sink.Ended()
	}
}

func (i *remoteInput) failed(code string) {
	sink := i.currentSink()
	if sink == nil || sink.Failed == nil {
		return
	}
	if deniedCodes[code] {
		sink.Failed(speechsvc.ErrPermissionDenied)
		return
	}
	sink.Failed(errors.New("recognition error: " + code))
}
