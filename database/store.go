package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofrs/uuid"
	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/store"
)

var _ store.Store = (*Store)(nil)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements the runtime store ports on sqlite.
type Store struct {
	repos
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{repos: repos{db}, db: db}
}

func (s *Store) Atomic(ctx context.Context, fn func(store.Repos) error) error {
	return s.inTx(ctx, func(q querier) error {
		return fn(&repos{q})
	})
}

func (s *Store) inTx(ctx context.Context, fn func(querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Wrap("db.begin_tx", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return store.Wrap("db.commit", tx.Commit())
}

func (s *Store) GetForm(ctx context.Context, formID int) (model.Form, error) {
	return getForm(ctx, s.db, formID)
}

func (s *Store) CountMonthlyResponses(ctx context.Context, formID int, now time.Time) (int, error) {
	from, to := store.MonthBounds(now)

	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM session
		WHERE form_id = ?
			AND started_at >= ?
			AND started_at < ?`,
		formID, from, to,
	).Scan(&n)
	return n, store.Wrap("db.count_monthly_responses", err)
}

type repos struct {
	q querier
}

func (r *repos) CreateSession(ctx context.Context, s model.Session) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO session (id, form_id, status, started_at, cursor)
		VALUES (?, ?, ?, ?, ?)`,
		s.ID, s.FormID, s.Status, s.StartedAt.UTC(), s.Cursor,
	)
	return store.Wrap("db.insert_session", err)
}

func (r *repos) GetSession(ctx context.Context, sessionID string) (model.Session, error) {
	var s model.Session
	var completedAt, notifiedAt sql.NullTime
	err := r.q.QueryRowContext(ctx, `
		SELECT id, form_id, status, started_at, completed_at,
			cursor, follow_ups, pending_follow_up, notified_at
		FROM session
		WHERE id = ?`,
		sessionID,
	).Scan(
		&s.ID, &s.FormID, &s.Status, &s.StartedAt, &completedAt,
		&s.Cursor, &s.FollowUps, &s.PendingFollowUp, &notifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Session{}, store.ErrNotFound
	}
	if err != nil {
		return model.Session{}, store.Wrap("db.get_session", err)
	}
	if completedAt.Valid {
		s.CompletedAt = &completedAt.Time
	}
	if notifiedAt.Valid {
		s.NotifiedAt = &notifiedAt.Time
	}
	return s, nil
}

func (r *repos) UpdateSession(ctx context.Context, s model.Session) error {
	var completedAt any
	if s.CompletedAt != nil {
		completedAt = s.CompletedAt.UTC()
	}
	res, err := r.q.ExecContext(ctx, `
		UPDATE session
		SET
			status = ?,
			completed_at = ?,
			cursor = ?,
			follow_ups = ?,
			pending_follow_up = ?
		WHERE id = ?`,
		s.Status, completedAt, s.Cursor, s.FollowUps, s.PendingFollowUp,
		s.ID,
	)
	if err != nil {
		return store.Wrap("db.update_session", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Wrap("db.update_session.verify", err)
	}
	if n < 1 {
		return store.ErrNotFound
	}
	return nil
}

func (r *repos) MarkNotified(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE session
		SET notified_at = ?
		WHERE id = ?
			AND notified_at IS NULL`,
		at.UTC(), sessionID,
	)
	if err != nil {
		return false, store.Wrap("db.mark_notified", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, store.Wrap("db.mark_notified.verify", err)
	}
	if n == 1 {
		return true, nil
	}

	// either already notified or missing
	if _, err := r.GetSession(ctx, sessionID); err != nil {
		return false, err
	}
	return false, nil
}

func (r *repos) UpsertAnswer(ctx context.Context, sessionID string, questionID int, value model.Value) (string, error) {
	valueJson, err := json.Marshal(value)
	if err != nil {
		return "", store.Wrap("db.upsert_answer.encode_value", err)
	}

	var id string
	err = r.q.QueryRowContext(ctx, `
		INSERT INTO answer (id, session_id, question_id, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, question_id) DO UPDATE
		SET
			value = excluded.value,
			updated_at = excluded.updated_at
		RETURNING id`,
		uuid.Must(uuid.NewV4()).String(),
		sessionID,
		questionID,
		string(valueJson),
		time.Now().UTC(),
	).Scan(&id)
	return id, store.Wrap("db.upsert_answer", err)
}

func (r *repos) ListAnswers(ctx context.Context, sessionID string) ([]model.Answer, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT a.id, a.session_id, a.question_id, a.value, a.updated_at
		FROM answer a
		INNER JOIN form_question q ON (q.id = a.question_id)
		WHERE a.session_id = ?
		ORDER BY q.position`,
		sessionID,
	)
	if err != nil {
		return nil, store.Wrap("db.list_answers", err)
	}
	defer rows.Close()

	answers := []model.Answer{}
	for rows.Next() {
		var a model.Answer
		var value string
		err = rows.Scan(&a.ID, &a.SessionID, &a.QuestionID, &value, &a.UpdatedAt)
		if err != nil {
			return nil, store.Wrap("db.list_answers.scan", err)
		}
		err = json.Unmarshal([]byte(value), &a.Value)
		if err != nil {
			return nil, store.Wrap("db.list_answers.parse_value", err)
		}
		answers = append(answers, a)
	}
	return answers, store.Wrap("db.list_answers.rows", rows.Err())
}

func (r *repos) GetTranscript(ctx context.Context, sessionID string) ([]model.Message, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, session_id, seq, role, text, created_at, question_id, adaptive
		FROM message
		WHERE session_id = ?
		ORDER BY seq`,
		sessionID,
	)
	if err != nil {
		return nil, store.Wrap("db.get_transcript", err)
	}
	defer rows.Close()

	messages := []model.Message{}
	for rows.Next() {
		var m model.Message
		var questionID sql.NullInt64
		err = rows.Scan(&m.ID, &m.SessionID, &m.Seq, &m.Role, &m.Text, &m.CreatedAt, &questionID, &m.Adaptive)
		if err != nil {
			return nil, store.Wrap("db.get_transcript.scan", err)
		}
		if questionID.Valid {
			id := int(questionID.Int64)
			m.QuestionID = &id
		}
		messages = append(messages, m)
	}
	return messages, store.Wrap("db.get_transcript.rows", rows.Err())
}

func (r *repos) AppendMessage(ctx context.Context, sessionID string, m model.Message) (model.Message, error) {
	m.SessionID = sessionID
	if m.ID == "" {
		m.ID = uuid.Must(uuid.NewV4()).String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	m.CreatedAt = m.CreatedAt.UTC()

	err := r.q.QueryRowContext(ctx, `
		INSERT INTO message (id, session_id, seq, role, text, created_at, question_id, adaptive)
		SELECT ?, ?, COALESCE(MAX(seq), 0) + 1, ?, ?, ?, ?, ?
		FROM message
		WHERE session_id = ?
		RETURNING seq`,
		m.ID, sessionID, m.Role, m.Text, m.CreatedAt, nullableInt(m.QuestionID), m.Adaptive,
		sessionID,
	).Scan(&m.Seq)
	if err != nil {
		return model.Message{}, store.Wrap("db.append_message", err)
	}
	return m, nil
}

func (r *repos) ReplaceTranscript(ctx context.Context, sessionID string, messages []model.Message) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM message WHERE session_id = ?`, sessionID)
	if err != nil {
		return store.Wrap("db.replace_transcript.delete", err)
	}

	for i, m := range messages {
		if m.ID == "" {
			m.ID = uuid.Must(uuid.NewV4()).String()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		_, err := r.q.ExecContext(ctx, `
			INSERT INTO message (id, session_id, seq, role, text, created_at, question_id, adaptive)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			m.ID, sessionID, i+1, m.Role, m.Text, m.CreatedAt.UTC(), nullableInt(m.QuestionID), m.Adaptive,
		)
		if err != nil {
			return store.Wrap("db.replace_transcript.insert", err)
		}
	}
	return nil
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
