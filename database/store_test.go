package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "voiceform.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewStore(db)
	require.NoError(t, s.CreateOwner(context.Background(), "ada", "lovelace", "free"))
	return s
}

func publishedForm(t *testing.T, s *Store) model.Form {
	t.Helper()
	ctx := context.Background()
	id, err := s.CreateForm(ctx, "ada", model.Form{
		Title:    "Lead capture",
		Branding: model.Branding{PrimaryColor: "#123456"},
		Questions: []model.Question{
			{Text: "What is your name?", Type: model.ShortText, Required: true},
			{Text: "Pick a plan", Type: model.SingleChoice, Options: []model.Option{{Text: "free"}, {Text: "pro"}}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.SetFormStatus(ctx, id, model.FormPublished))

	f, err := s.GetForm(ctx, id)
	require.NoError(t, err)
	return f
}

func newSession(t *testing.T, s *Store, formID int, id string, startedAt time.Time) model.Session {
	t.Helper()
	sess := model.Session{ID: id, FormID: formID, Status: model.InProgress, StartedAt: startedAt}
	require.NoError(t, s.CreateSession(context.Background(), sess))
	return sess
}

func TestForms_CRUD(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	id, err := s.CreateForm(ctx, "ada", model.Form{
		Title:     "Feedback",
		Questions: []model.Question{{Text: "How was it?", Type: model.Rating}},
	})
	require.NoError(t, err)

	f, err := s.GetForm(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "ada", f.Owner)
	assert.Equal(t, model.FormDraft, f.Status)
	assert.Equal(t, 100, f.ResponseLimit)
	require.Len(t, f.Questions, 1)
	assert.Equal(t, model.Rating, f.Questions[0].Type)

	f.Title = "Product feedback"
	f.Questions = append(f.Questions, model.Question{Text: "Anything else?", Type: model.LongText})
	require.NoError(t, s.UpdateForm(ctx, f))

	// stale version
	err = s.UpdateForm(ctx, f)
	assert.ErrorIs(t, err, ErrConflict)

	f, err = s.GetForm(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Product feedback", f.Title)
	assert.Len(t, f.Questions, 2)

	forms, err := s.ListForms(ctx, "ada")
	require.NoError(t, err)
	assert.Len(t, forms, 1)

	require.NoError(t, s.SetFormStatus(ctx, id, model.FormPublished))
	f, err = s.GetForm(ctx, id)
	require.NoError(t, err)
	assert.ErrorIs(t, s.UpdateForm(ctx, f), ErrPublished)

	require.NoError(t, s.DeleteForm(ctx, id))
	_, err = s.GetForm(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.DeleteForm(ctx, id), store.ErrNotFound)
}

func TestRepos_UpsertAnswerKeepsOnePerQuestion(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	f := publishedForm(t, s)
	newSession(t, s, f.ID, "s1", time.Now())

	q := f.Questions[0].ID
	first, err := s.UpsertAnswer(ctx, "s1", q, model.Value{Kind: model.KindText, Text: "Alice"})
	require.NoError(t, err)
	second, err := s.UpsertAnswer(ctx, "s1", q, model.Value{Kind: model.KindText, Text: "Alice\nSmith"})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	answers, err := s.ListAnswers(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "Alice\nSmith", answers[0].Value.Text)
}

func TestRepos_TranscriptSequence(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	f := publishedForm(t, s)
	newSession(t, s, f.ID, "s1", time.Now())
	newSession(t, s, f.ID, "s2", time.Now())

	q := f.Questions[0].ID
	for _, m := range []model.Message{
		{Role: model.RoleAssistant, Text: "What is your name?", QuestionID: &q},
		{Role: model.RoleUser, Text: "Alice", QuestionID: &q},
	} {
		_, err := s.AppendMessage(ctx, "s1", m)
		require.NoError(t, err)
	}
	other, err := s.AppendMessage(ctx, "s2", model.Message{Role: model.RoleAssistant, Text: "What is your name?"})
	require.NoError(t, err)
	assert.Equal(t, 1, other.Seq)

	messages, err := s.GetTranscript(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, 1, messages[0].Seq)
	assert.Equal(t, 2, messages[1].Seq)
	require.NotNil(t, messages[1].QuestionID)
	assert.Equal(t, q, *messages[1].QuestionID)

	messages[1].Text = "[redacted]"
	require.NoError(t, s.ReplaceTranscript(ctx, "s1", messages))
	messages, err = s.GetTranscript(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "[redacted]", messages[1].Text)
	assert.Equal(t, 2, messages[1].Seq)
}

func TestRepos_MarkNotifiedOnce(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	f := publishedForm(t, s)
	newSession(t, s, f.ID, "s1", time.Now())

	first, err := s.MarkNotified(ctx, "s1", time.Now())
	require.NoError(t, err)
	assert.True(t, first)

	again, err := s.MarkNotified(ctx, "s1", time.Now())
	require.NoError(t, err)
	assert.False(t, again)

	_, err = s.MarkNotified(ctx, "missing", time.Now())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_AtomicRollsBack(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	f := publishedForm(t, s)
	newSession(t, s, f.ID, "s1", time.Now())

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(r store.Repos) error {
		if _, err := r.AppendMessage(ctx, "s1", model.Message{Role: model.RoleUser, Text: "Alice"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	messages, err := s.GetTranscript(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestStore_CountMonthlyResponses(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	f := publishedForm(t, s)

	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	newSession(t, s, f.ID, "feb", time.Date(2024, 2, 29, 23, 59, 0, 0, time.UTC))
	newSession(t, s, f.ID, "mar1", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	newSession(t, s, f.ID, "mar2", time.Date(2024, 3, 31, 23, 0, 0, 0, time.UTC))

	n, err := s.CountMonthlyResponses(ctx, f.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_ListResponses(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	f := publishedForm(t, s)
	newSession(t, s, f.ID, "s1", time.Now().Add(-time.Minute))
	newSession(t, s, f.ID, "s2", time.Now())

	_, err := s.UpsertAnswer(ctx, "s1", f.Questions[1].ID, model.Value{Kind: model.KindChoices, Choices: []string{"pro"}})
	require.NoError(t, err)
	_, err = s.UpsertAnswer(ctx, "s1", f.Questions[0].ID, model.Value{Kind: model.KindText, Text: "Alice"})
	require.NoError(t, err)

	responses, err := s.ListResponses(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, responses, 2)

	assert.Equal(t, "s1", responses[0].Session.ID)
	require.Len(t, responses[0].Answers, 2)
	assert.Equal(t, "What is your name?", responses[0].Answers[0].Question)
	assert.Equal(t, "Alice", responses[0].Answers[0].Value.Text)
	assert.Equal(t, []string{"pro"}, responses[0].Answers[1].Value.Choices)

	assert.Equal(t, "s2", responses[1].Session.ID)
	assert.Empty(t, responses[1].Answers)
}
