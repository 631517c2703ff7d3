// Package followup holds the adaptive follow-up policies the dialogue engine can be configured with.
package followup

import (
	"context"
	"strings"

	"github.com/mbolis/voiceform/dialogue"
	"github.com/mbolis/voiceform/model"
)

var _ dialogue.FollowUpPolicy = (*Rules)(nil)

// Rules asks for more detail when a free text answer is too short or vague.
type Rules struct {
	// MinWords applies to long text answers.
	MinWords int
	// Vague answers are matched case insensitively against the whole reply.
	Vague []string
	Prompt string
}

var defaultVague = []string{
	"idk", "i don't know", "not sure", "maybe", "n/a", "na", "nothing", "no idea", "whatever", "-", "?",
}

func NewRules() *Rules {
	return &Rules{
		MinWords: 4,
		Vague:    defaultVague,
		Prompt:   "Could you tell me a little more about that?",
	}
}

func (r *Rules) Decide(ctx context.Context, req dialogue.FollowUpRequest) (dialogue.Decision, error) {
	q := req.Question
	if q.Type != model.ShortText && q.Type != model.LongText {
		return dialogue.Advance(), nil
	}

	reply := strings.ToLower(strings.TrimSpace(req.Reply.Text))
	for _, v := range r.Vague {
		if reply == v {
			return dialogue.AskFollowUp(r.Prompt), nil
		}
	}
	if q.Type == model.LongText && len(strings.Fields(req.Value.Text)) < r.MinWords {
		return dialogue.AskFollowUp(r.Prompt), nil
	}
	return dialogue.Advance(), nil
}
