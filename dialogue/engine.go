// Package dialogue drives a session through the questions of a form, one turn at a time.
package dialogue

import (
	"context"
	"time"

	"github.com/mbolis/voiceform/log"
	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/store"
)

const (
	TranscriptTail = 10
	ClosingMessage = "Thank you! Your answers have been recorded."
)

// Snapshot is the state handed back to the presentation layer after every operation.
type Snapshot struct {
	SessionID       string              `json:"sessionId,omitempty"`
	Status          model.SessionStatus `json:"status,omitempty"`
	State           State               `json:"state"`
	CurrentQuestion *model.Question     `json:"currentQuestion,omitempty"`
	Progress        int                 `json:"progress"`
	TranscriptTail  []model.Message     `json:"transcriptTail"`
	IsOverLimit     bool                `json:"isOverLimit"`
	Voice           *VoiceStatus        `json:"voice,omitempty"`
}

// VoiceStatus is filled in by the session layer when a voice bridge is attached.
type VoiceStatus struct {
	Enabled bool    `json:"enabled"`
	State   string  `json:"state"`
	Level   float64 `json:"level"`
}

// Result of a turn. Prompt is the assistant text now awaiting the respondent.
type Result struct {
	Snapshot
	Prompt string `json:"prompt,omitempty"`
	// Replayed is set when the submission repeated an already accepted reply.
	Replayed bool `json:"replayed,omitempty"`
}

func (r Result) Completed() bool {
	return r.State.Kind == Completed
}

type Engine struct {
	store  store.Store
	policy FollowUpPolicy
	locker Locker
	now    func() time.Time
}

type Option func(*Engine)

func WithPolicy(p FollowUpPolicy) Option {
	return func(e *Engine) { e.policy = p }
}

func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  s,
		policy: NeverFollowUp,
		locker: NewKeyedMutex(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Locker() Locker {
	return e.locker
}

func (e *Engine) Now() time.Time {
	return e.now().UTC()
}

// Begin persists a new session and moves it from Welcome to AwaitingAnswer(0),
// writing the first prompt. A form without questions completes immediately.
func (e *Engine) Begin(ctx context.Context, form model.Form, sess model.Session) (Result, error) {
	sess.Status = model.InProgress
	sess.Cursor = 0

	var prompt model.Message
	if len(form.Questions) > 0 {
		prompt = questionPrompt(form.Questions[0])
	} else {
		now := e.Now()
		sess.Status = model.Completed
		sess.CompletedAt = &now
		prompt = model.Message{Role: model.RoleAssistant, Text: ClosingMessage}
	}

	err := e.store.Atomic(ctx, func(r store.Repos) error {
		created := sess
		if sess.Status == model.Completed {
			created.Status = model.InProgress
		}
		if err := r.CreateSession(ctx, created); err != nil {
			return err
		}
		if sess.Status == model.Completed {
			if err := r.UpdateSession(ctx, sess); err != nil {
				return err
			}
		}
		_, err := r.AppendMessage(ctx, sess.ID, prompt)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	snap, err := e.snapshot(ctx, form, sess)
	if err != nil {
		return Result{}, err
	}
	return Result{Snapshot: snap, Prompt: prompt.Text}, nil
}

// Submit runs one turn: the answer for questionID is validated, stored and the
// engine decides between an adaptive follow-up, the next question, or completion.
// Writes of a turn are atomic; on any error nothing is persisted.
func (e *Engine) Submit(ctx context.Context, sessionID string, questionID int, in model.Input) (Result, error) {
	unlock, err := e.locker.Lock(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	form, err := e.store.GetForm(ctx, sess.FormID)
	if err != nil {
		return Result{}, err
	}

	idx := form.QuestionIndex(questionID)
	if idx < 0 {
		return Result{}, &model.ValidationError{Field: "questionId", Reason: "not a question of this form"}
	}
	question := form.Questions[idx]
	value, parseErr := model.ParseInput(question, in)

	transcript, err := e.store.GetTranscript(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	answers, err := e.store.ListAnswers(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}
	previous, answered := answerFor(answers, questionID)

	// a repeat of the last accepted reply is a no-op, wherever the cursor is
	if parseErr == nil && answered && isReplay(transcript, questionID, previous, value) {
		snap, err := e.snapshotWith(ctx, form, sess, transcript)
		if err != nil {
			return Result{}, err
		}
		return Result{Snapshot: snap, Prompt: lastPrompt(transcript), Replayed: true}, nil
	}
	if sess.Terminal() || idx != sess.Cursor {
		return Result{}, &StaleTurnError{QuestionID: questionID, Cursor: sess.Cursor}
	}
	if parseErr != nil {
		return Result{}, parseErr
	}

	stored := value
	if sess.PendingFollowUp {
		stored = previous.Merge(value)
	}

	decision := e.decide(ctx, form, sess, question, stored, value, transcript)

	next := sess
	var prompt model.Message
	switch {
	case !decision.Advances():
		next.FollowUps++
		next.PendingFollowUp = true
		prompt = model.Message{
			Role:       model.RoleAssistant,
			Text:       decision.FollowUp,
			QuestionID: &question.ID,
			Adaptive:   true,
		}
	case idx+1 < len(form.Questions):
		next.Cursor = idx + 1
		next.FollowUps = 0
		next.PendingFollowUp = false
		prompt = questionPrompt(form.Questions[idx+1])
	default:
		now := e.Now()
		next.Cursor = len(form.Questions)
		next.FollowUps = 0
		next.PendingFollowUp = false
		next.Status = model.Completed
		next.CompletedAt = &now
		prompt = model.Message{Role: model.RoleAssistant, Text: ClosingMessage}
	}

	reply := model.Message{
		Role:       model.RoleUser,
		Text:       value.String(),
		QuestionID: &question.ID,
	}
	err = e.store.Atomic(ctx, func(r store.Repos) error {
		if _, err := r.UpsertAnswer(ctx, sessionID, questionID, stored); err != nil {
			return err
		}
		if _, err := r.AppendMessage(ctx, sessionID, reply); err != nil {
			return err
		}
		if _, err := r.AppendMessage(ctx, sessionID, prompt); err != nil {
			return err
		}
		return r.UpdateSession(ctx, next)
	})
	if err != nil {
		return Result{}, err
	}

	log.WithFields(log.Fields{
		"session":  sessionID,
		"question": questionID,
		"from":     StateOf(sess).String(),
		"to":       StateOf(next).String(),
		"followUp": !decision.Advances(),
	}).Debug("turn accepted")

	snap, err := e.snapshot(ctx, form, next)
	if err != nil {
		return Result{}, err
	}
	return Result{Snapshot: snap, Prompt: prompt.Text}, nil
}

func (e *Engine) decide(ctx context.Context, form model.Form, sess model.Session, q model.Question, stored, reply model.Value, transcript []model.Message) Decision {
	if !form.AI.Adaptive || sess.FollowUps >= form.AI.MaxFollowUps || reply.Empty() {
		return Advance()
	}
	d, err := e.policy.Decide(ctx, FollowUpRequest{
		Form:           form,
		Question:       q,
		Value:          stored,
		Reply:          reply,
		FollowUpsAsked: sess.FollowUps,
		Transcript:     transcript,
	})
	if err != nil {
		log.WithError(err).WithField("session", sess.ID).Warn("follow-up policy failed, advancing")
		return Advance()
	}
	return d
}

// Snapshot loads the current state of a session.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	form, err := e.store.GetForm(ctx, sess.FormID)
	if err != nil {
		return Snapshot{}, err
	}
	return e.snapshot(ctx, form, sess)
}

func (e *Engine) snapshot(ctx context.Context, form model.Form, sess model.Session) (Snapshot, error) {
	transcript, err := e.store.GetTranscript(ctx, sess.ID)
	if err != nil {
		return Snapshot{}, err
	}
	return e.snapshotWith(ctx, form, sess, transcript)
}

func (e *Engine) snapshotWith(ctx context.Context, form model.Form, sess model.Session, transcript []model.Message) (Snapshot, error) {
	answers, err := e.store.ListAnswers(ctx, sess.ID)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		SessionID:      sess.ID,
		Status:         sess.Status,
		State:          StateOf(sess),
		Progress:       Progress(len(answers), len(form.Questions), sess.Status == model.Completed),
		TranscriptTail: tail(transcript, TranscriptTail),
	}
	if sess.Status == model.InProgress && sess.Cursor < len(form.Questions) {
		q := form.Questions[sess.Cursor]
		snap.CurrentQuestion = &q
	}
	return snap, nil
}

func questionPrompt(q model.Question) model.Message {
	id := q.ID
	return model.Message{Role: model.RoleAssistant, Text: q.Prompt(), QuestionID: &id}
}

func answerFor(answers []model.Answer, questionID int) (model.Value, bool) {
	for _, a := range answers {
		if a.QuestionID == questionID {
			return a.Value, true
		}
	}
	return model.Value{}, false
}

// isReplay reports whether value repeats the reply accepted for the question.
// Stored values are compared in full; text merged from a follow-up also
// matches its latest part, which the transcript keeps verbatim.
func isReplay(transcript []model.Message, questionID int, stored, value model.Value) bool {
	if value.Equal(stored) {
		return true
	}
	if value.Kind != model.KindText || stored.Kind != model.KindText {
		return false
	}
	for i := len(transcript) - 1; i >= 0; i-- {
		m := transcript[i]
		if m.Role != model.RoleUser || m.QuestionID == nil || *m.QuestionID != questionID {
			continue
		}
		return m.Text == value.Text
	}
	return false
}

func lastPrompt(transcript []model.Message) string {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == model.RoleAssistant {
			return transcript[i].Text
		}
	}
	return ""
}

func tail(messages []model.Message, n int) []model.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
