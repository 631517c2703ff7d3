package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrConflict is returned when a form was modified since it was read.
	ErrConflict = errors.New("form version conflict")
	// ErrPublished is returned when editing the questions of a non-draft form.
	ErrPublished = errors.New("form is not a draft")
)

func getForm(ctx context.Context, q querier, formID int) (model.Form, error) {
	f := model.Form{ID: formID}
	var branding, ai, integrations string
	var plan sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT f.version, f.owner, f.title, f.description, f.status,
			f.branding, f.ai, f.integrations, o.plan
		FROM form f
		LEFT OUTER JOIN owner o ON (o.username = f.owner)
		WHERE f.id = ?`,
		formID,
	).Scan(
		&f.Version, &f.Owner, &f.Title, &f.Description, &f.Status,
		&branding, &ai, &integrations, &plan,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Form{}, store.ErrNotFound
	}
	if err != nil {
		return model.Form{}, store.Wrap("db.get_form", err)
	}

	if err := decodeColumns(
		column{"branding", branding, &f.Branding},
		column{"ai", ai, &f.AI},
		column{"integrations", integrations, &f.Integrations},
	); err != nil {
		return model.Form{}, store.Wrap("db.get_form", err)
	}
	f.ResponseLimit = model.PlanLimit(plan.String)

	rows, err := q.QueryContext(ctx, `
		SELECT id, type, text, placeholder, required, options
		FROM form_question
		WHERE form_id = ?
		ORDER BY position`,
		formID,
	)
	if err != nil {
		return model.Form{}, store.Wrap("db.get_form.questions", err)
	}
	defer rows.Close()

	f.Questions = []model.Question{}
	for rows.Next() {
		var qu model.Question
		var opts string
		err = rows.Scan(&qu.ID, &qu.Type, &qu.Text, &qu.Placeholder, &qu.Required, &opts)
		if err != nil {
			return model.Form{}, store.Wrap("db.get_form.questions.scan", err)
		}
		if err := decodeColumns(column{"options", opts, &qu.Options}); err != nil {
			return model.Form{}, store.Wrap("db.get_form.questions", err)
		}
		f.Questions = append(f.Questions, qu)
	}
	return f, store.Wrap("db.get_form.questions.rows", rows.Err())
}

type column struct {
	name string
	raw  string
	dst  any
}

func decodeColumns(cols ...column) error {
	for _, c := range cols {
		if c.raw == "" {
			continue
		}
		if err := json.Unmarshal([]byte(c.raw), c.dst); err != nil {
			return fmt.Errorf("parse %s: %w", c.name, err)
		}
	}
	return nil
}

func encode(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func (s *Store) CreateForm(ctx context.Context, owner string, f model.Form) (int, error) {
	var formID int
	err := s.inTx(ctx, func(q querier) error {
		branding, ai, integrations, err := encodeSettings(f)
		if err != nil {
			return err
		}
		err = q.QueryRowContext(ctx, `
			INSERT INTO form (owner, title, description, status, branding, ai, integrations)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			RETURNING id`,
			owner, f.Title, f.Description, model.FormDraft, branding, ai, integrations,
		).Scan(&formID)
		if err != nil {
			return store.Wrap("db.insert_form", err)
		}
		return insertQuestions(ctx, q, formID, f.Questions)
	})
	return formID, err
}

func encodeSettings(f model.Form) (branding, ai, integrations string, err error) {
	if f.Integrations == nil {
		f.Integrations = []model.Webhook{}
	}
	if branding, err = encode(f.Branding); err != nil {
		return
	}
	if ai, err = encode(f.AI); err != nil {
		return
	}
	integrations, err = encode(f.Integrations)
	return
}

func insertQuestions(ctx context.Context, q querier, formID int, questions []model.Question) error {
	for i, qu := range questions {
		opts := qu.Options
		if opts == nil {
			opts = []model.Option{}
		}
		optionsJson, err := encode(opts)
		if err != nil {
			return store.Wrap("db.insert_form.questions.encode_options", err)
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO form_question (form_id, position, type, text, placeholder, required, options)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			formID, i, qu.Type, qu.Text, qu.Placeholder, qu.Required, optionsJson,
		)
		if err != nil {
			return store.Wrap("db.insert_form.questions.insert", err)
		}
	}
	return nil
}

// ListForms returns the forms of an owner, without questions.
func (s *Store) ListForms(ctx context.Context, owner string) ([]model.Form, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.version, f.owner, f.title, f.description, f.status, o.plan
		FROM form f
		LEFT OUTER JOIN owner o ON (o.username = f.owner)
		WHERE f.owner = ?
		ORDER BY f.id`,
		owner,
	)
	if err != nil {
		return nil, store.Wrap("db.list_forms", err)
	}
	defer rows.Close()

	forms := []model.Form{}
	for rows.Next() {
		var f model.Form
		var plan sql.NullString
		err = rows.Scan(&f.ID, &f.Version, &f.Owner, &f.Title, &f.Description, &f.Status, &plan)
		if err != nil {
			return nil, store.Wrap("db.list_forms.scan", err)
		}
		f.ResponseLimit = model.PlanLimit(plan.String)
		forms = append(forms, f)
	}
	return forms, store.Wrap("db.list_forms.rows", rows.Err())
}

// UpdateForm replaces title, settings and questions of a draft form.
// f.Version must match the stored version (optimistic lock).
func (s *Store) UpdateForm(ctx context.Context, f model.Form) error {
	return s.inTx(ctx, func(q querier) error {
		current, err := getForm(ctx, q, f.ID)
		if err != nil {
			return err
		}
		if current.Status != model.FormDraft {
			return ErrPublished
		}

		branding, ai, integrations, err := encodeSettings(f)
		if err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `
			UPDATE form
			SET
				title = ?,
				description = ?,
				branding = ?,
				ai = ?,
				integrations = ?,
				version = version+1
			WHERE id = ?
				AND version = ?`,
			f.Title, f.Description, branding, ai, integrations,
			f.ID, f.Version,
		)
		if err != nil {
			return store.Wrap("db.update_form", err)
		}
		// optimistic lock
		n, err := res.RowsAffected()
		if err != nil {
			return store.Wrap("db.update_form.verify", err)
		}
		if n < 1 {
			return ErrConflict
		}

		// recreate all questions
		_, err = q.ExecContext(ctx, `DELETE FROM form_question WHERE form_id = ?`, f.ID)
		if err != nil {
			return store.Wrap("db.update_form.delete_questions", err)
		}
		return insertQuestions(ctx, q, f.ID, f.Questions)
	})
}

// SetFormStatus moves a form to published or closed. Questions are frozen from then on.
func (s *Store) SetFormStatus(ctx context.Context, formID int, status model.FormStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE form
		SET
			status = ?,
			version = version+1
		WHERE id = ?`,
		status, formID,
	)
	if err != nil {
		return store.Wrap("db.set_form_status", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Wrap("db.set_form_status.verify", err)
	}
	if n < 1 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteForm(ctx context.Context, formID int) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM form WHERE id = ?`, formID)
	if err != nil {
		return store.Wrap("db.delete_form", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return store.Wrap("db.delete_form.verify", err)
	}
	if n < 1 {
		return store.ErrNotFound
	}
	return nil
}

// ListResponses returns every session of a form with its answers joined to the question text.
func (s *Store) ListResponses(ctx context.Context, formID int) ([]model.Response, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			s.id, s.status, s.started_at, s.completed_at, s.cursor,
			q.id, q.text, a.value
		FROM session s
		LEFT OUTER JOIN answer a ON (a.session_id = s.id)
		LEFT OUTER JOIN form_question q ON (q.id = a.question_id)
		WHERE s.form_id = ?
		ORDER BY s.started_at, s.id, q.position`,
		formID,
	)
	if err != nil {
		return nil, store.Wrap("db.list_responses", err)
	}
	defer rows.Close()

	responses := []model.Response{}
	for rows.Next() {
		var sess model.Session
		var completedAt sql.NullTime
		var questionID sql.NullInt64
		var question, value sql.NullString
		err = rows.Scan(
			&sess.ID, &sess.Status, &sess.StartedAt, &completedAt, &sess.Cursor,
			&questionID, &question, &value,
		)
		if err != nil {
			return nil, store.Wrap("db.list_responses.scan", err)
		}
		sess.FormID = formID
		if completedAt.Valid {
			sess.CompletedAt = &completedAt.Time
		}

		last := len(responses) - 1
		if last < 0 || responses[last].Session.ID != sess.ID {
			responses = append(responses, model.Response{Session: sess, Answers: []model.AnsweredField{}})
			last++
		}
		if !questionID.Valid {
			continue
		}

		field := model.AnsweredField{QuestionID: int(questionID.Int64), Question: question.String}
		if err := json.Unmarshal([]byte(value.String), &field.Value); err != nil {
			return nil, store.Wrap("db.list_responses.parse_value", err)
		}
		responses[last].Answers = append(responses[last].Answers, field)
	}
	return responses, store.Wrap("db.list_responses.rows", rows.Err())
}

// CreateOwner registers a form owner with a bcrypt password hash.
func (s *Store) CreateOwner(ctx context.Context, username, password, plan string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO owner (username, password_hash, plan) VALUES (?, ?, ?)
		ON CONFLICT (username) DO UPDATE
		SET
			password_hash = excluded.password_hash,
			plan = excluded.plan`,
		username, hash, plan,
	)
	return store.Wrap("db.insert_owner", err)
}
