package session

import (
	"context"

	"github.com/mbolis/voiceform/dialogue"
	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/voice"
)

func (c *Controller) bridge(ctx context.Context, sessionID string) (*voice.Bridge, error) {
	if !c.voices.Enabled() {
		return nil, ErrVoiceUnavailable
	}
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Terminal() {
		// finished sessions keep no bridge
		return nil, &dialogue.StaleTurnError{Cursor: sess.Cursor}
	}
	return c.voices.Get(sessionID), nil
}

func (c *Controller) ToggleVoice(ctx context.Context, sessionID string) (dialogue.Snapshot, error) {
	b, err := c.bridge(ctx, sessionID)
	if err != nil {
		return dialogue.Snapshot{}, err
	}
	b.ToggleVoice()
	return c.voiceSnapshot(ctx, sessionID)
}

// ToggleRecording starts a capture, or stops it and answers the current
// question with the transcript of audio.
func (c *Controller) ToggleRecording(ctx context.Context, sessionID string, audio []byte, filename string) (dialogue.Result, error) {
	b, err := c.bridge(ctx, sessionID)
	if err != nil {
		return dialogue.Result{}, err
	}

	res, err := b.ToggleRecording(ctx, audio, filename, func(ctx context.Context, text string) (dialogue.Result, error) {
		sess, err := c.store.GetSession(ctx, sessionID)
		if err != nil {
			return dialogue.Result{}, err
		}
		form, err := c.store.GetForm(ctx, sess.FormID)
		if err != nil {
			return dialogue.Result{}, err
		}
		if sess.Terminal() || sess.Cursor >= len(form.Questions) {
			return dialogue.Result{}, &dialogue.StaleTurnError{Cursor: sess.Cursor}
		}
		return c.SubmitAnswer(ctx, sessionID, form.Questions[sess.Cursor].ID, model.Input{Text: text})
	})
	if err != nil {
		return dialogue.Result{}, err
	}
	if res != nil {
		res.Snapshot = c.decorate(res.Snapshot)
		return *res, nil
	}

	snap, err := c.voiceSnapshot(ctx, sessionID)
	if err != nil {
		return dialogue.Result{}, err
	}
	return dialogue.Result{Snapshot: snap}, nil
}

func (c *Controller) CancelRecording(ctx context.Context, sessionID string) (dialogue.Snapshot, error) {
	b, err := c.bridge(ctx, sessionID)
	if err != nil {
		return dialogue.Snapshot{}, err
	}
	b.CancelRecording()
	return c.voiceSnapshot(ctx, sessionID)
}

// ReportLevel only touches the bridge; there is no snapshot to build on this path.
func (c *Controller) ReportLevel(sessionID string, level float64) error {
	if !c.voices.Enabled() {
		return ErrVoiceUnavailable
	}
	b, ok := c.voices.Peek(sessionID)
	if !ok {
		return nil
	}
	b.ReportLevel(level)
	return nil
}

func (c *Controller) FinishPlayback(ctx context.Context, sessionID string) (dialogue.Snapshot, error) {
	b, err := c.bridge(ctx, sessionID)
	if err != nil {
		return dialogue.Snapshot{}, err
	}
	b.FinishPlayback()
	return c.voiceSnapshot(ctx, sessionID)
}

func (c *Controller) ReplyAudio(ctx context.Context, sessionID string) ([]byte, error) {
	b, err := c.bridge(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return b.ReplyAudio()
}

func (c *Controller) voiceSnapshot(ctx context.Context, sessionID string) (dialogue.Snapshot, error) {
	snap, err := c.Snapshot(ctx, sessionID)
	if err != nil {
		return dialogue.Snapshot{}, err
	}
	c.publish(ctx, snap)
	return snap, nil
}
