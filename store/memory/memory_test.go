package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAtomic_RestoresOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	f := s.PutForm(model.Form{Title: "t", Questions: []model.Question{{Text: "q", Type: model.ShortText}}})
	require.NoError(t, s.CreateSession(ctx, model.Session{ID: "s1", FormID: f.ID, Status: model.InProgress}))

	boom := errors.New("boom")
	err := s.Atomic(ctx, func(r store.Repos) error {
		_, err := r.UpsertAnswer(ctx, "s1", f.Questions[0].ID, model.Value{Kind: model.KindText, Text: "a"})
		require.NoError(t, err)
		_, err = r.AppendMessage(ctx, "s1", model.Message{Role: model.RoleUser, Text: "a"})
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	answers, err := s.ListAnswers(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, answers)
	messages, err := s.GetTranscript(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestFault_WrapsAsPersistenceError(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.Fault = func(op string) error {
		if op == "append_message" {
			return errors.New("disk full")
		}
		return nil
	}

	_, err := s.AppendMessage(ctx, "s1", model.Message{Role: model.RoleUser, Text: "a"})
	var perr *store.PersistenceError
	assert.ErrorAs(t, err, &perr)
}

func TestCountMonthlyResponses(t *testing.T) {
	ctx := context.Background()
	s := New()
	f := s.PutForm(model.Form{Title: "t"})
	now := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	for i, started := range []time.Time{
		time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC),
	} {
		id := string(rune('a' + i))
		require.NoError(t, s.CreateSession(ctx, model.Session{ID: id, FormID: f.ID, StartedAt: started}))
	}

	n, err := s.CountMonthlyResponses(ctx, f.ID, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
