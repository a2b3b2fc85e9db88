package speech

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/nyai-sathi/voice-chat/backend/internal/model/speech"
)

// SynthesizerOptions tunes utterance construction.
type SynthesizerOptions struct {
	ChunkWords int
	Pitch      float32
}

// Synthesizer reads text aloud through a SpeechOutput, one chunk at a time.
// Starting a new playback cancels the previous one.
type Synthesizer struct {
	output SpeechOutput
	opts   SynthesizerOptions

	mu      sync.Mutex
	current *Playback
}

// NewSynthesizer creates a synthesizer over output.
func NewSynthesizer(output SpeechOutput, opts SynthesizerOptions) *Synthesizer {
	if opts.ChunkWords <= 0 {
		opts.ChunkWords = DefaultChunkWords
	}
	if opts.Pitch <= 0 {
		opts.Pitch = 1
	}
	return &Synthesizer{output: output, opts: opts}
}

// Utterances prepares the chunks Speak would play for text.
func (s *Synthesizer) Utterances(text string) []speech.Utterance {
	cleaned := CleanForSpeech(text)
	lang := DetectLanguage(cleaned)
	voice := PreferredVoice(s.output.Voices(), lang)
	prefix := uuid.NewString()

	chunks := ChunkWords(cleaned, s.opts.ChunkWords)
	utterances := make([]speech.Utterance, 0, len(chunks))
	for i, chunk := range chunks {
		utterances = append(utterances, speech.Utterance{
			ID:    fmt.Sprintf("%s-%d", prefix, i),
			Text:  chunk,
			Lang:  lang.Locale(),
			Rate:  lang.Rate(),
			Pitch: s.opts.Pitch,
			Voice: voice,
		})
	}
	return utterances
}

// Speak starts reading text. onDone runs exactly once: after the last chunk
// or when the playback is cancelled.
func (s *Synthesizer) Speak(text string, onDone func()) *Playback {
	playback := &Playback{
		output:     s.output,
		utterances: s.Utterances(text),
		onDone:     onDone,
	}

	s.mu.Lock()
	previous := s.current
	s.current = playback
	s.mu.Unlock()

	if previous != nil {
		previous.Cancel()
	}
	playback.next()
	return playback
}

// Stop cancels the current playback, if any.
func (s *Synthesizer) Stop() {
	s.mu.Lock()
	current := s.current
	s.current = nil
	s.mu.Unlock()

	if current != nil {
		current.Cancel()
	}
}

// Playback is one text being read aloud.
type Playback struct {
	output     SpeechOutput
	utterances []speech.Utterance
	onDone     func()

	mu    sync.Mutex
	index int
	done  bool
}

// Done reports whether the playback finished or was cancelled.
func (p *Playback) Done() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Cancel stops the playback and runs onDone if it has not run yet.
func (p *Playback) Cancel() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	p.done = true
	p.mu.Unlock()

	p.output.Cancel()
	p.finish()
}

func (p *Playback) next() {
	p.mu.Lock()
	if p.done {
		p.mu.Unlock()
		return
	}
	if p.index >= len(p.utterances) {
		p.done = true
		p.mu.Unlock()
		p.finish()
		return
	}
	idx := p.index
	utterance := p.utterances[idx]
	p.mu.Unlock()

	p.output.Speak(utterance, func(err error) {
		p.chunkEnded(idx, err)
	})
}

func (p *Playback) chunkEnded(idx int, err error) {
	p.mu.Lock()
	if p.done || idx != p.index {
		p.mu.Unlock()
		return
	}
	if err != nil {
		log.Printf("[speech] chunk %d/%d failed, skipping: %v", idx+1, len(p.utterances), err)
	}
	p.index++
	p.mu.Unlock()

	p.next()
}

func (p *Playback) finish() {
	if p.onDone != nil {
		p.onDone()
	}
}
