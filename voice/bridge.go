// Package voice turns recorded speech into text turns and speaks prompts back.
// The dialogue engine never sees audio: a bridge submits transcripts through the
// same path as typed replies.
package voice

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mbolis/voiceform/dialogue"
	"github.com/mbolis/voiceform/log"
)

type State string

const (
	Idle         State = "idle"
	Recording    State = "recording"
	Transcribing State = "transcribing"
	ReplyPending State = "reply_pending"
)

type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// SubmitFunc feeds a transcript into the dialogue as the reply to the current question.
type SubmitFunc func(ctx context.Context, text string) (dialogue.Result, error)

var (
	ErrPlaybackPending = errors.New("voice: reply playback in progress")
	ErrBusy            = errors.New("voice: transcription in progress")
	ErrCancelled       = errors.New("voice: recording cancelled")
	ErrNoReply         = errors.New("voice: no reply audio")
)

// TranscriptionError means the captured audio could not be turned into text.
// The session is left untouched and the respondent can type instead.
type TranscriptionError struct {
	Err error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription failed: %v", e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

type Bridge struct {
	stt Transcriber
	tts Synthesizer

	mu      sync.Mutex
	state   State
	enabled bool
	cancel  context.CancelFunc
	// gen changes whenever an in-flight transcription is abandoned
	gen   uint64
	reply []byte

	level atomic.Uint64
}

func NewBridge(stt Transcriber, tts Synthesizer) *Bridge {
	return &Bridge{stt: stt, tts: tts, state: Idle}
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Bridge) Status() dialogue.VoiceStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return dialogue.VoiceStatus{Enabled: b.enabled, State: string(b.state), Level: b.Level()}
}

// ToggleVoice switches spoken prompts on or off and returns the new setting.
// Turning voice off drops any pending reply audio.
func (b *Bridge) ToggleVoice() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.enabled = !b.enabled
	if !b.enabled && b.state == ReplyPending {
		b.state = Idle
		b.reply = nil
	}
	return b.enabled
}

// ToggleRecording starts a capture when idle. When recording, it stops the
// capture, transcribes audio and submits the text. A nil result means only the
// bridge state changed.
func (b *Bridge) ToggleRecording(ctx context.Context, audio []byte, filename string, submit SubmitFunc) (*dialogue.Result, error) {
	b.mu.Lock()
	switch b.state {
	case Idle:
		b.state = Recording
		b.level.Store(0)
		b.mu.Unlock()
		return nil, nil
	case Transcribing:
		b.mu.Unlock()
		return nil, ErrBusy
	case ReplyPending:
		b.mu.Unlock()
		return nil, ErrPlaybackPending
	}

	b.state = Transcribing
	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	gen := b.gen
	b.mu.Unlock()
	defer cancel()

	text, err := b.stt.Transcribe(ctx, audio, filename)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("no speech detected")
	}

	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		return nil, ErrCancelled
	}
	if err != nil {
		b.toIdle()
		b.mu.Unlock()
		return nil, &TranscriptionError{Err: err}
	}
	b.mu.Unlock()

	res, err := submit(ctx, text)
	if err != nil {
		b.mu.Lock()
		b.toIdle()
		b.mu.Unlock()
		return nil, err
	}

	b.speak(ctx, gen, res.Prompt)
	return &res, nil
}

// speak synthesizes the next prompt when voice is on. Failures only cost the audio.
func (b *Bridge) speak(ctx context.Context, gen uint64, prompt string) {
	b.mu.Lock()
	enabled := b.enabled
	b.mu.Unlock()

	var audio []byte
	if enabled && prompt != "" && b.tts != nil {
		var err error
		audio, err = b.tts.Synthesize(ctx, prompt)
		if err != nil {
			log.WithError(err).Warn("speech synthesis failed, falling back to text")
			audio = nil
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.gen != gen {
		return
	}
	b.toIdle()
	if len(audio) > 0 && b.enabled {
		b.state = ReplyPending
		b.reply = audio
	}
}

// CancelRecording drops the current capture, or abandons an in-flight transcription.
func (b *Bridge) CancelRecording() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Recording:
		b.toIdle()
	case Transcribing:
		b.gen++
		if b.cancel != nil {
			b.cancel()
		}
		b.toIdle()
	}
}

// ReportLevel records the current input level in [0, 1]. It never takes the bridge lock.
func (b *Bridge) ReportLevel(level float64) {
	if math.IsNaN(level) || level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	b.level.Store(math.Float64bits(level))
}

func (b *Bridge) Level() float64 {
	return math.Float64frombits(b.level.Load())
}

// FinishPlayback ends (or skips) playback of the reply audio.
func (b *Bridge) FinishPlayback() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == ReplyPending {
		b.toIdle()
	}
}

// ReplyAudio returns the synthesized prompt awaiting playback.
func (b *Bridge) ReplyAudio() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != ReplyPending || len(b.reply) == 0 {
		return nil, ErrNoReply
	}
	return b.reply, nil
}

// toIdle resets the bridge; the caller holds the lock.
func (b *Bridge) toIdle() {
	b.state = Idle
	b.cancel = nil
	b.reply = nil
	b.level.Store(0)
}
