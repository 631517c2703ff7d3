package followup

import (
	"context"
	"errors"
	"testing"

	"github.com/mbolis/voiceform/dialogue"
	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(qt model.QuestionType, reply string) dialogue.FollowUpRequest {
	v := model.Value{Kind: model.KindText, Text: reply}
	return dialogue.FollowUpRequest{
		Form:     model.Form{AI: model.AIConfig{Adaptive: true, MaxFollowUps: 1}},
		Question: model.Question{ID: 1, Text: "What are you looking for?", Type: qt},
		Value:    v,
		Reply:    v,
	}
}

func TestRules(t *testing.T) {
	r := NewRules()
	ctx := context.Background()

	d, err := r.Decide(ctx, request(model.ShortText, "Not sure"))
	require.NoError(t, err)
	assert.False(t, d.Advances())

	d, _ = r.Decide(ctx, request(model.ShortText, "Alice"))
	assert.True(t, d.Advances())

	d, _ = r.Decide(ctx, request(model.LongText, "a demo"))
	assert.False(t, d.Advances())

	d, _ = r.Decide(ctx, request(model.LongText, "a demo of the voice forms for our sales team"))
	assert.True(t, d.Advances())

	d, _ = r.Decide(ctx, request(model.Rating, "idk"))
	assert.True(t, d.Advances())
}

type chatFunc func(ctx context.Context, messages []openai.ChatMessage) (string, error)

func (f chatFunc) Chat(ctx context.Context, messages []openai.ChatMessage, _ int, _ float64) (string, error) {
	return f(ctx, messages)
}

func TestLLM_AsksFollowUp(t *testing.T) {
	var seen []openai.ChatMessage
	p := NewLLM(chatFunc(func(_ context.Context, m []openai.ChatMessage) (string, error) {
		seen = m
		return `"Which product are you most interested in?"`, nil
	}), nil)

	req := request(model.LongText, "a demo")
	req.Transcript = []model.Message{
		{Role: model.RoleAssistant, Text: "What are you looking for?"},
		{Role: model.RoleUser, Text: "a demo"},
	}
	d, err := p.Decide(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Which product are you most interested in?", d.FollowUp)

	require.Len(t, seen, 4)
	assert.Equal(t, "system", seen[0].Role)
	assert.Contains(t, seen[3].Content, "Answer: a demo")
}

func TestLLM_Advance(t *testing.T) {
	p := NewLLM(chatFunc(func(context.Context, []openai.ChatMessage) (string, error) {
		return "advance", nil
	}), nil)

	d, err := p.Decide(context.Background(), request(model.ShortText, "Alice"))
	require.NoError(t, err)
	assert.True(t, d.Advances())
}

func TestLLM_NonTextUsesFallback(t *testing.T) {
	called := false
	p := NewLLM(chatFunc(func(context.Context, []openai.ChatMessage) (string, error) {
		called = true
		return "", nil
	}), dialogue.PolicyFunc(func(context.Context, dialogue.FollowUpRequest) (dialogue.Decision, error) {
		return dialogue.AskFollowUp("Why that rating?"), nil
	}))

	d, err := p.Decide(context.Background(), request(model.Rating, "2"))
	require.NoError(t, err)
	assert.Equal(t, "Why that rating?", d.FollowUp)
	assert.False(t, called)
}

func TestLLM_Error(t *testing.T) {
	p := NewLLM(chatFunc(func(context.Context, []openai.ChatMessage) (string, error) {
		return "", errors.New("boom")
	}), nil)

	_, err := p.Decide(context.Background(), request(model.ShortText, "Alice"))
	assert.Error(t, err)
}
