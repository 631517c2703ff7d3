// Package store declares the persistence ports used by the form runtime.
// Adapters live in store/memory (tests, single process) and database (sqlite).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbolis/voiceform/model"
)

// ErrNotFound indicates a requested form or session does not exist.
var ErrNotFound = errors.New("not found")

// PersistenceError wraps a backing store failure. The operation may be retried.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Wrap turns a non-nil infrastructure error into a PersistenceError.
// ErrNotFound and errors that already are PersistenceErrors pass through.
func Wrap(op string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}
	var perr *PersistenceError
	if errors.As(err, &perr) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

type FormRepository interface {
	GetForm(ctx context.Context, formID int) (model.Form, error)
}

type UsageCounter interface {
	// CountMonthlyResponses counts sessions of the form started in the calendar month of now.
	CountMonthlyResponses(ctx context.Context, formID int, now time.Time) (int, error)
}

type SessionRepository interface {
	CreateSession(ctx context.Context, s model.Session) error
	GetSession(ctx context.Context, sessionID string) (model.Session, error)
	UpdateSession(ctx context.Context, s model.Session) error
	// MarkNotified sets the notification timestamp if it is not set yet and
	// reports whether this call was the one that set it.
	MarkNotified(ctx context.Context, sessionID string, at time.Time) (bool, error)
}

type AnswerRepository interface {
	// UpsertAnswer stores the value for (session, question), replacing any previous value.
	UpsertAnswer(ctx context.Context, sessionID string, questionID int, value model.Value) (string, error)
	ListAnswers(ctx context.Context, sessionID string) ([]model.Answer, error)
}

type TranscriptRepository interface {
	GetTranscript(ctx context.Context, sessionID string) ([]model.Message, error)
	// AppendMessage assigns the next sequence number and returns the stored message.
	AppendMessage(ctx context.Context, sessionID string, m model.Message) (model.Message, error)
	ReplaceTranscript(ctx context.Context, sessionID string, messages []model.Message) error
}

// Repos is the set of repositories usable inside a unit of work.
type Repos interface {
	SessionRepository
	AnswerRepository
	TranscriptRepository
}

type Store interface {
	FormRepository
	UsageCounter
	Repos

	// Atomic runs fn in a single unit of work: either every write made
	// through the given Repos is committed, or none is.
	Atomic(ctx context.Context, fn func(Repos) error) error
}

// MonthBounds returns the first instant of now's calendar month (UTC) and of the next one.
func MonthBounds(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}
