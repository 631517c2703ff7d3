package dialogue

import (
	"fmt"
	"math"

	"github.com/mbolis/voiceform/model"
)

type StateKind string

const (
	Welcome        StateKind = "welcome"
	AwaitingAnswer StateKind = "awaiting_answer"
	Completed      StateKind = "completed"
	Abandoned      StateKind = "abandoned"
	OverLimit      StateKind = "over_limit"
)

// State is the engine state of a session. Question is meaningful only for AwaitingAnswer.
type State struct {
	Kind     StateKind `json:"kind"`
	Question int       `json:"question"`
}

func (s State) String() string {
	if s.Kind == AwaitingAnswer {
		return fmt.Sprintf("%s(%d)", s.Kind, s.Question)
	}
	return string(s.Kind)
}

func StateOf(s model.Session) State {
	switch s.Status {
	case model.Completed:
		return State{Kind: Completed}
	case model.Abandoned:
		return State{Kind: Abandoned}
	}
	return State{Kind: AwaitingAnswer, Question: s.Cursor}
}

// Progress is the share of answered questions, in percent.
// It reaches 100 only once the session is completed.
func Progress(answered, total int, completed bool) int {
	if completed {
		return 100
	}
	if total <= 0 || answered <= 0 {
		return 0
	}
	p := int(math.Round(100 * float64(answered) / float64(total)))
	if p > 99 {
		p = 99
	}
	return p
}

// StaleTurnError rejects a submission for a question that is not the current one.
type StaleTurnError struct {
	QuestionID int
	Cursor     int
}

func (e *StaleTurnError) Error() string {
	return fmt.Sprintf("stale turn: question %d is not awaiting an answer (cursor at %d)", e.QuestionID, e.Cursor)
}
