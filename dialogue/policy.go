package dialogue

import (
	"context"

	"github.com/mbolis/voiceform/model"
)

// FollowUpRequest carries what a policy may look at to decide the next step.
type FollowUpRequest struct {
	Form     model.Form
	Question model.Question
	// Value is the answer so far, including earlier follow-up replies.
	Value model.Value
	// Reply is the value of the reply just received.
	Reply          model.Value
	FollowUpsAsked int
	Transcript     []model.Message
}

// Decision is either Advance (empty FollowUp) or a follow-up question to ask.
type Decision struct {
	FollowUp string
}

func Advance() Decision {
	return Decision{}
}

func AskFollowUp(text string) Decision {
	return Decision{FollowUp: text}
}

func (d Decision) Advances() bool {
	return d.FollowUp == ""
}

// FollowUpPolicy decides whether an accepted answer warrants an adaptive follow-up.
type FollowUpPolicy interface {
	Decide(ctx context.Context, req FollowUpRequest) (Decision, error)
}

// PolicyFunc adapts a function to FollowUpPolicy.
type PolicyFunc func(ctx context.Context, req FollowUpRequest) (Decision, error)

func (f PolicyFunc) Decide(ctx context.Context, req FollowUpRequest) (Decision, error) {
	return f(ctx, req)
}

// NeverFollowUp always advances.
var NeverFollowUp FollowUpPolicy = PolicyFunc(func(context.Context, FollowUpRequest) (Decision, error) {
	return Advance(), nil
})
