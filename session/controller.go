// Package session owns a respondent session from start to its terminal state
// and fires the completion side effects exactly once.
package session

import (
	"context"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/mbolis/voiceform/dialogue"
	"github.com/mbolis/voiceform/log"
	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/notify"
	"github.com/mbolis/voiceform/store"
	"github.com/mbolis/voiceform/voice"
)

const RedactedText = "[redacted]"

// Welcome is shown before the first question.
type Welcome struct {
	FormID        int            `json:"formId"`
	Title         string         `json:"title"`
	Description   string         `json:"description"`
	Branding      model.Branding `json:"branding"`
	QuestionCount int            `json:"questionCount"`
}

// Dispatcher delivers completions without blocking the caller.
type Dispatcher interface {
	Dispatch(c notify.Completion)
}

type Controller struct {
	store  store.Store
	engine *dialogue.Engine
	notify Dispatcher
	voices *voice.Registry
	hub    Broadcaster
}

func NewController(s store.Store, engine *dialogue.Engine, notifier Dispatcher, voices *voice.Registry, hub Broadcaster) *Controller {
	if hub == nil {
		hub = NewHub()
	}
	return &Controller{store: s, engine: engine, notify: notifier, voices: voices, hub: hub}
}

// Start opens a new session on a published form. When the form is over its
// monthly quota nothing is written and an OverLimitError comes back together
// with an OverLimit snapshot.
func (c *Controller) Start(ctx context.Context, formID int) (Welcome, dialogue.Snapshot, error) {
	form, err := c.store.GetForm(ctx, formID)
	if err != nil {
		return Welcome{}, dialogue.Snapshot{}, err
	}
	switch form.Status {
	case model.FormPublished:
	case model.FormClosed:
		return Welcome{}, dialogue.Snapshot{}, ErrFormClosed
	default:
		return Welcome{}, dialogue.Snapshot{}, store.ErrNotFound
	}

	welcome := Welcome{
		FormID:        form.ID,
		Title:         form.Title,
		Description:   form.Description,
		Branding:      form.Branding,
		QuestionCount: len(form.Questions),
	}

	now := c.engine.Now()
	if !form.Unlimited() {
		// counting and creating must not interleave with another start of the same form
		unlock, err := c.engine.Locker().Lock(ctx, fmt.Sprintf("form:%d", form.ID))
		if err != nil {
			return Welcome{}, dialogue.Snapshot{}, err
		}
		defer unlock()

		count, err := c.store.CountMonthlyResponses(ctx, form.ID, now)
		if err != nil {
			return Welcome{}, dialogue.Snapshot{}, err
		}
		if count >= form.ResponseLimit {
			log.WithFields(log.Fields{"form": form.ID, "count": count, "limit": form.ResponseLimit}).
				Info("form over monthly limit")
			snap := dialogue.Snapshot{
				State:          dialogue.State{Kind: dialogue.OverLimit},
				IsOverLimit:    true,
				TranscriptTail: []model.Message{},
			}
			return welcome, snap, &OverLimitError{FormID: form.ID, Count: count, Limit: form.ResponseLimit}
		}
	}

	sess := model.Session{
		ID:        uuid.Must(uuid.NewV4()).String(),
		FormID:    form.ID,
		StartedAt: now,
	}
	res, err := c.engine.Begin(ctx, form, sess)
	if err != nil {
		return Welcome{}, dialogue.Snapshot{}, err
	}
	if res.Completed() {
		c.notifyOnce(ctx, form, sess.ID)
	}

	snap := c.decorate(res.Snapshot)
	c.publish(ctx, snap)
	return welcome, snap, nil
}

// SubmitAnswer runs one dialogue turn and completes the session after the last question.
func (c *Controller) SubmitAnswer(ctx context.Context, sessionID string, questionID int, in model.Input) (dialogue.Result, error) {
	res, err := c.engine.Submit(ctx, sessionID, questionID, in)
	if err != nil {
		return dialogue.Result{}, err
	}
	if res.Completed() {
		// may run inside the bridge's own turn, whose spoken reply must not be cut
		c.voices.Forget(sessionID)
		if form, err := c.formOf(ctx, sessionID); err == nil {
			c.notifyOnce(ctx, form, sessionID)
		}
	}

	res.Snapshot = c.decorate(res.Snapshot)
	if !res.Replayed {
		c.publish(ctx, res.Snapshot)
	}
	return res, nil
}

// Complete marks the session completed once every required question has an
// answer. Calling it again is harmless; the notification still fires only once.
func (c *Controller) Complete(ctx context.Context, sessionID string) (dialogue.Snapshot, error) {
	unlock, err := c.engine.Locker().Lock(ctx, sessionID)
	if err != nil {
		return dialogue.Snapshot{}, err
	}
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		unlock()
		return dialogue.Snapshot{}, err
	}
	form, err := c.store.GetForm(ctx, sess.FormID)
	if err != nil {
		unlock()
		return dialogue.Snapshot{}, err
	}

	switch sess.Status {
	case model.Abandoned:
		unlock()
		return dialogue.Snapshot{}, &model.ValidationError{Field: "session", Reason: "session was abandoned"}
	case model.InProgress:
		if err := c.finish(ctx, form, sess); err != nil {
			unlock()
			return dialogue.Snapshot{}, err
		}
	}
	unlock()

	c.voices.Drop(sessionID)
	c.notifyOnce(ctx, form, sessionID)
	snap, err := c.Snapshot(ctx, sessionID)
	if err != nil {
		return dialogue.Snapshot{}, err
	}
	c.publish(ctx, snap)
	return snap, nil
}

func (c *Controller) finish(ctx context.Context, form model.Form, sess model.Session) error {
	answers, err := c.store.ListAnswers(ctx, sess.ID)
	if err != nil {
		return err
	}
	answered := map[int]bool{}
	for _, a := range answers {
		answered[a.QuestionID] = !a.Value.Empty()
	}
	for i, q := range form.Questions {
		if q.Required && !answered[q.ID] {
			return &model.ValidationError{
				Field:  fmt.Sprintf("questions[%d]", i),
				Reason: "required question not answered",
			}
		}
	}

	now := c.engine.Now()
	sess.Status = model.Completed
	sess.CompletedAt = &now
	sess.Cursor = len(form.Questions)
	sess.FollowUps = 0
	sess.PendingFollowUp = false
	return c.store.Atomic(ctx, func(r store.Repos) error {
		if _, err := r.AppendMessage(ctx, sess.ID, model.Message{
			Role: model.RoleAssistant,
			Text: dialogue.ClosingMessage,
		}); err != nil {
			return err
		}
		return r.UpdateSession(ctx, sess)
	})
}

// notifyOnce hands the completion to the dispatcher if no one did it before.
// The payload is loaded before the session is marked, so a failed read leaves
// the notification for a later attempt. Failures here never undo the completion.
func (c *Controller) notifyOnce(ctx context.Context, form model.Form, sessionID string) {
	fields := log.Fields{"form": form.ID, "session": sessionID}

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		log.WithError(err).WithFields(fields).Error("could not load completed session")
		return
	}
	if sess.NotifiedAt != nil {
		return
	}
	answers, err := c.store.ListAnswers(ctx, sessionID)
	if err != nil {
		log.WithError(err).WithFields(fields).Error("could not load answers for notification")
		return
	}

	completion := notify.Completion{
		FormID:       form.ID,
		FormTitle:    form.Title,
		SessionID:    sessionID,
		Answers:      JoinAnswers(form, answers),
		Integrations: form.Integrations,
	}
	if sess.CompletedAt != nil {
		completion.CompletedAt = *sess.CompletedAt
	}

	first, err := c.store.MarkNotified(ctx, sessionID, c.engine.Now())
	if err != nil {
		log.WithError(err).WithFields(fields).Error("could not record completion notification")
		return
	}
	if first && c.notify != nil {
		c.notify.Dispatch(completion)
	}
}

// JoinAnswers pairs answers with their question text, in form order.
func JoinAnswers(form model.Form, answers []model.Answer) []model.AnsweredField {
	byQuestion := make(map[int]model.Answer, len(answers))
	for _, a := range answers {
		byQuestion[a.QuestionID] = a
	}
	out := make([]model.AnsweredField, 0, len(answers))
	for _, q := range form.Questions {
		if a, ok := byQuestion[q.ID]; ok {
			out = append(out, model.AnsweredField{QuestionID: q.ID, Question: q.Text, Value: a.Value})
		}
	}
	return out
}

// Abandon stops an in-progress session, keeping its answers. Terminal sessions are left alone.
func (c *Controller) Abandon(ctx context.Context, sessionID string) (dialogue.Snapshot, error) {
	unlock, err := c.engine.Locker().Lock(ctx, sessionID)
	if err != nil {
		return dialogue.Snapshot{}, err
	}
	sess, err := c.store.GetSession(ctx, sessionID)
	if err == nil && sess.Status == model.InProgress {
		sess.Status = model.Abandoned
		err = c.store.UpdateSession(ctx, sess)
	}
	unlock()
	if err != nil {
		return dialogue.Snapshot{}, err
	}

	c.voices.Drop(sessionID)
	snap, err := c.Snapshot(ctx, sessionID)
	if err != nil {
		return dialogue.Snapshot{}, err
	}
	c.publish(ctx, snap)
	return snap, nil
}

func (c *Controller) Snapshot(ctx context.Context, sessionID string) (dialogue.Snapshot, error) {
	snap, err := c.engine.Snapshot(ctx, sessionID)
	if err != nil {
		return dialogue.Snapshot{}, err
	}
	return c.decorate(snap), nil
}

// Subscribe streams snapshots published after every change of the session.
func (c *Controller) Subscribe(ctx context.Context, sessionID string) (<-chan dialogue.Snapshot, func()) {
	return c.hub.Subscribe(ctx, sessionID)
}

// Transcript returns the whole conversation of a session.
func (c *Controller) Transcript(ctx context.Context, sessionID string) ([]model.Message, error) {
	if _, err := c.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return c.store.GetTranscript(ctx, sessionID)
}

// RedactTranscript blanks the text of the given messages. Only finished
// sessions can be redacted, live transcripts are append-only.
func (c *Controller) RedactTranscript(ctx context.Context, sessionID string, seqs []int) ([]model.Message, error) {
	unlock, err := c.engine.Locker().Lock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Terminal() {
		return nil, &model.ValidationError{Field: "session", Reason: "session is still in progress"}
	}

	redact := make(map[int]bool, len(seqs))
	for _, s := range seqs {
		redact[s] = true
	}

	var out []model.Message
	err = c.store.Atomic(ctx, func(r store.Repos) error {
		messages, err := r.GetTranscript(ctx, sessionID)
		if err != nil {
			return err
		}
		for i := range messages {
			if redact[messages[i].Seq] {
				messages[i].Text = RedactedText
			}
		}
		if err := r.ReplaceTranscript(ctx, sessionID, messages); err != nil {
			return err
		}
		out, err = r.GetTranscript(ctx, sessionID)
		return err
	})
	return out, err
}

func (c *Controller) formOf(ctx context.Context, sessionID string) (model.Form, error) {
	sess, err := c.store.GetSession(ctx, sessionID)
	if err != nil {
		return model.Form{}, err
	}
	return c.store.GetForm(ctx, sess.FormID)
}

func (c *Controller) decorate(snap dialogue.Snapshot) dialogue.Snapshot {
	if c.voices == nil {
		return snap
	}
	if b, ok := c.voices.Peek(snap.SessionID); ok {
		status := b.Status()
		snap.Voice = &status
	}
	return snap
}

func (c *Controller) publish(ctx context.Context, snap dialogue.Snapshot) {
	if err := c.hub.Publish(ctx, snap); err != nil {
		log.WithError(err).WithField("session", snap.SessionID).Warn("snapshot publish failed")
	}
}
