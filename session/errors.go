package session

import (
	"errors"
	"fmt"
)

// OverLimitError is returned by Start when the form used up its monthly responses.
type OverLimitError struct {
	FormID int
	Count  int
	Limit  int
}

func (e *OverLimitError) Error() string {
	return fmt.Sprintf("form %d is over its monthly limit (%d/%d responses)", e.FormID, e.Count, e.Limit)
}

var (
	ErrFormClosed       = errors.New("form is closed")
	ErrVoiceUnavailable = errors.New("voice input is not configured")
)
