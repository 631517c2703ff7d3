package voice

import "sync"

// Registry keeps one bridge per session for the lifetime of the process.
type Registry struct {
	stt Transcriber
	tts Synthesizer

	mu      sync.Mutex
	bridges map[string]*Bridge
}

func NewRegistry(stt Transcriber, tts Synthesizer) *Registry {
	return &Registry{stt: stt, tts: tts, bridges: map[string]*Bridge{}}
}

// Enabled reports whether a speech to text backend is configured.
func (r *Registry) Enabled() bool {
	return r != nil && r.stt != nil
}

func (r *Registry) Get(sessionID string) *Bridge {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := r.bridges[sessionID]
	if b == nil {
		b = NewBridge(r.stt, r.tts)
		r.bridges[sessionID] = b
	}
	return b
}

// Peek returns the bridge of a session without creating one.
func (r *Registry) Peek(sessionID string) (*Bridge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bridges[sessionID]
	return b, ok
}

// Drop cancels any in-flight work and forgets the session's bridge.
func (r *Registry) Drop(sessionID string) {
	if b := r.take(sessionID); b != nil {
		b.CancelRecording()
	}
}

// Forget removes the session's bridge but lets a turn it is running finish.
func (r *Registry) Forget(sessionID string) {
	r.take(sessionID)
}

func (r *Registry) take(sessionID string) *Bridge {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bridges[sessionID]
	delete(r.bridges, sessionID)
	return b
}
