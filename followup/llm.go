package followup

import (
	"context"
	"fmt"
	"strings"

	"github.com/mbolis/voiceform/dialogue"
	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/openai"
)

// Chatter is the chat completion port used by LLM.
type Chatter interface {
	Chat(ctx context.Context, messages []openai.ChatMessage, maxTokens int, temperature float64) (string, error)
}

var _ Chatter = (*openai.Client)(nil)
var _ dialogue.FollowUpPolicy = (*LLM)(nil)

// advanceToken is what the model is told to answer when no follow-up is needed.
const advanceToken = "ADVANCE"

const systemPrompt = `You are a friendly interviewer filling in a form through conversation.
Tone: %s.
Given the question and the respondent's answer, decide whether a single short follow-up
question would make the answer clearly more useful. Only ask when the answer is vague,
incomplete or ambiguous. Reply with ONLY the follow-up question, or with ` + advanceToken + ` when
the answer is good enough.`

// recentTurns is how much of the transcript goes into the prompt.
const recentTurns = 6

// LLM asks a chat model whether to follow up.
type LLM struct {
	chat     Chatter
	fallback dialogue.FollowUpPolicy
}

// NewLLM returns a policy backed by chat. Answers to non text questions are
// decided by fallback, which may be nil to always advance on them.
func NewLLM(chat Chatter, fallback dialogue.FollowUpPolicy) *LLM {
	if fallback == nil {
		fallback = dialogue.NeverFollowUp
	}
	return &LLM{chat: chat, fallback: fallback}
}

func (p *LLM) Decide(ctx context.Context, req dialogue.FollowUpRequest) (dialogue.Decision, error) {
	if req.Question.Type != model.ShortText && req.Question.Type != model.LongText {
		return p.fallback.Decide(ctx, req)
	}

	tone := req.Form.AI.Tone
	if tone == "" {
		tone = "warm and concise"
	}

	messages := []openai.ChatMessage{{Role: "system", Content: fmt.Sprintf(systemPrompt, tone)}}
	turns := req.Transcript
	if len(turns) > recentTurns {
		turns = turns[len(turns)-recentTurns:]
	}
	for _, m := range turns {
		messages = append(messages, openai.ChatMessage{Role: string(m.Role), Content: m.Text})
	}
	messages = append(messages, openai.ChatMessage{
		Role:    "user",
		Content: fmt.Sprintf("Question: %s\nAnswer: %s", req.Question.Text, req.Value.String()),
	})

	out, err := p.chat.Chat(ctx, messages, 80, 0.3)
	if err != nil {
		return dialogue.Decision{}, fmt.Errorf("follow-up: %w", err)
	}

	out = strings.Trim(strings.TrimSpace(out), `"`)
	if out == "" || strings.EqualFold(out, advanceToken) {
		return dialogue.Advance(), nil
	}
	return dialogue.AskFollowUp(out), nil
}
