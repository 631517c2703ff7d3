// Package memory is an in-process implementation of the store ports.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/store"
)

var _ store.Store = (*Store)(nil)

type Store struct {
	mu          sync.Mutex
	forms       map[int]model.Form
	sessions    map[string]model.Session
	answers     map[string]map[int]model.Answer
	order       map[string][]int
	transcripts map[string][]model.Message

	// Fault, when set, is consulted before every write and before listing
	// answers; a non-nil result fails the call as if the backing store were
	// unavailable.
	Fault func(op string) error
}

func New() *Store {
	return &Store{
		forms:       map[int]model.Form{},
		sessions:    map[string]model.Session{},
		answers:     map[string]map[int]model.Answer{},
		order:       map[string][]int{},
		transcripts: map[string][]model.Message{},
	}
}

// PutForm registers a form definition, assigning question ids when missing.
func (s *Store) PutForm(f model.Form) model.Form {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ID == 0 {
		f.ID = len(s.forms) + 1
	}
	if f.Status == "" {
		f.Status = model.FormPublished
	}
	for i := range f.Questions {
		if f.Questions[i].ID == 0 {
			f.Questions[i].ID = f.ID*1000 + i + 1
		}
	}
	s.forms[f.ID] = f
	return f
}

func (s *Store) GetForm(ctx context.Context, formID int) (model.Form, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.forms[formID]
	if !ok {
		return model.Form{}, store.ErrNotFound
	}
	return f, nil
}

func (s *Store) CountMonthlyResponses(ctx context.Context, formID int, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, to := store.MonthBounds(now)
	n := 0
	for _, sess := range s.sessions {
		started := sess.StartedAt.UTC()
		if sess.FormID == formID && !started.Before(from) && started.Before(to) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Atomic(ctx context.Context, fn func(store.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	saved := s.snapshot()
	if err := fn(&tx{s}); err != nil {
		s.restore(saved)
		return err
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s}).CreateSession(ctx, sess)
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s}).GetSession(ctx, sessionID)
}

func (s *Store) UpdateSession(ctx context.Context, sess model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s}).UpdateSession(ctx, sess)
}

func (s *Store) MarkNotified(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s}).MarkNotified(ctx, sessionID, at)
}

func (s *Store) UpsertAnswer(ctx context.Context, sessionID string, questionID int, value model.Value) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s}).UpsertAnswer(ctx, sessionID, questionID, value)
}

func (s *Store) ListAnswers(ctx context.Context, sessionID string) ([]model.Answer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s}).ListAnswers(ctx, sessionID)
}

func (s *Store) GetTranscript(ctx context.Context, sessionID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s}).GetTranscript(ctx, sessionID)
}

func (s *Store) AppendMessage(ctx context.Context, sessionID string, m model.Message) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s}).AppendMessage(ctx, sessionID, m)
}

func (s *Store) ReplaceTranscript(ctx context.Context, sessionID string, messages []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (&tx{s}).ReplaceTranscript(ctx, sessionID, messages)
}

type state struct {
	sessions    map[string]model.Session
	answers     map[string]map[int]model.Answer
	order       map[string][]int
	transcripts map[string][]model.Message
}

func (s *Store) snapshot() state {
	st := state{
		sessions:    make(map[string]model.Session, len(s.sessions)),
		answers:     make(map[string]map[int]model.Answer, len(s.answers)),
		order:       make(map[string][]int, len(s.order)),
		transcripts: make(map[string][]model.Message, len(s.transcripts)),
	}
	for k, v := range s.sessions {
		st.sessions[k] = v
	}
	for k, v := range s.answers {
		inner := make(map[int]model.Answer, len(v))
		for q, a := range v {
			inner[q] = a
		}
		st.answers[k] = inner
	}
	for k, v := range s.order {
		st.order[k] = append([]int(nil), v...)
	}
	for k, v := range s.transcripts {
		st.transcripts[k] = append([]model.Message(nil), v...)
	}
	return st
}

func (s *Store) restore(st state) {
	s.sessions = st.sessions
	s.answers = st.answers
	s.order = st.order
	s.transcripts = st.transcripts
}

// tx operates on the store data; the caller holds the lock.
type tx struct {
	s *Store
}

func (t *tx) fault(op string) error {
	if t.s.Fault == nil {
		return nil
	}
	return store.Wrap(op, t.s.Fault(op))
}

func (t *tx) CreateSession(ctx context.Context, sess model.Session) error {
	if err := t.fault("create_session"); err != nil {
		return err
	}
	t.s.sessions[sess.ID] = sess
	return nil
}

func (t *tx) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	sess, ok := t.s.sessions[sessionID]
	if !ok {
		return model.Session{}, store.ErrNotFound
	}
	return sess, nil
}

func (t *tx) UpdateSession(ctx context.Context, sess model.Session) error {
	if err := t.fault("update_session"); err != nil {
		return err
	}
	if _, ok := t.s.sessions[sess.ID]; !ok {
		return store.ErrNotFound
	}
	t.s.sessions[sess.ID] = sess
	return nil
}

func (t *tx) MarkNotified(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	if err := t.fault("mark_notified"); err != nil {
		return false, err
	}
	sess, ok := t.s.sessions[sessionID]
	if !ok {
		return false, store.ErrNotFound
	}
	if sess.NotifiedAt != nil {
		return false, nil
	}
	sess.NotifiedAt = &at
	t.s.sessions[sessionID] = sess
	return true, nil
}

func (t *tx) UpsertAnswer(ctx context.Context, sessionID string, questionID int, value model.Value) (string, error) {
	if err := t.fault("upsert_answer"); err != nil {
		return "", err
	}
	byQuestion := t.s.answers[sessionID]
	if byQuestion == nil {
		byQuestion = map[int]model.Answer{}
		t.s.answers[sessionID] = byQuestion
	}

	a, ok := byQuestion[questionID]
	if !ok {
		a = model.Answer{
			ID:         uuid.Must(uuid.NewV4()).String(),
			SessionID:  sessionID,
			QuestionID: questionID,
		}
		t.s.order[sessionID] = append(t.s.order[sessionID], questionID)
	}
	a.Value = value
	a.UpdatedAt = time.Now().UTC()
	byQuestion[questionID] = a
	return a.ID, nil
}

func (t *tx) ListAnswers(ctx context.Context, sessionID string) ([]model.Answer, error) {
	if err := t.fault("list_answers"); err != nil {
		return nil, err
	}
	out := make([]model.Answer, 0, len(t.s.order[sessionID]))
	for _, q := range t.s.order[sessionID] {
		out = append(out, t.s.answers[sessionID][q])
	}
	return out, nil
}

func (t *tx) GetTranscript(ctx context.Context, sessionID string) ([]model.Message, error) {
	return append([]model.Message(nil), t.s.transcripts[sessionID]...), nil
}

func (t *tx) AppendMessage(ctx context.Context, sessionID string, m model.Message) (model.Message, error) {
	if err := t.fault("append_message"); err != nil {
		return model.Message{}, err
	}
	log := t.s.transcripts[sessionID]
	m.SessionID = sessionID
	m.Seq = len(log) + 1
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV4()).String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	t.s.transcripts[sessionID] = append(log, m)
	return m, nil
}

func (t *tx) ReplaceTranscript(ctx context.Context, sessionID string, messages []model.Message) error {
	if err := t.fault("replace_transcript"); err != nil {
		return err
	}
	log := make([]model.Message, len(messages))
	for i, m := range messages {
		m.SessionID = sessionID
		m.Seq = i + 1
		if m.ID == "" {
			m.ID = uuid.Must(uuid.NewV4()).String()
		}
		log[i] = m
	}
	t.s.transcripts[sessionID] = log
	return nil
}
