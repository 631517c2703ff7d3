package httpx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
	"github.com/mbolis/voiceform/database"
	"github.com/mbolis/voiceform/dialogue"
	"github.com/mbolis/voiceform/log"
	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/session"
	"github.com/mbolis/voiceform/store"
	"github.com/mbolis/voiceform/voice"
)

// Will log an error, and send an HTTP response with status 500 and default text
func LogInternalError(w http.ResponseWriter, code string, err error) {
	log.Errorf("%s: %s", code, err)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// Will log an error code at the given level, and send
// an HTTP response with status and default text
func LogStatus(w http.ResponseWriter, status int, level log.Level, code string) {
	log.Log(level, code)
	http.Error(w, http.StatusText(status), status)
}

// Will log an error code and message at the given level,
// and send an HTTP response with the given status and formatted message
func LogStatusMsg(w http.ResponseWriter, status int, level log.Level, code string, msg string, args ...any) {
	errMsg := fmt.Sprintf(msg, args...)
	log.Log(level, code+":", errMsg)
	http.Error(w, errMsg, status)
}

// StatusFor maps a runtime error to the HTTP status the client should see.
// Zero means the error is unexpected.
func StatusFor(err error) int {
	var (
		validation    *model.ValidationError
		stale         *dialogue.StaleTurnError
		overLimit     *session.OverLimitError
		transcription *voice.TranscriptionError
		persistence   *store.PersistenceError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	case errors.As(err, &stale),
		errors.Is(err, database.ErrConflict),
		errors.Is(err, database.ErrPublished),
		errors.Is(err, voice.ErrPlaybackPending),
		errors.Is(err, voice.ErrBusy),
		errors.Is(err, voice.ErrCancelled):
		return http.StatusConflict
	case errors.As(err, &overLimit):
		return http.StatusPaymentRequired
	case errors.As(err, &transcription):
		return http.StatusBadGateway
	case errors.As(err, &persistence):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrNotFound), errors.Is(err, voice.ErrNoReply):
		return http.StatusNotFound
	case errors.Is(err, session.ErrFormClosed):
		return http.StatusGone
	case errors.Is(err, session.ErrVoiceUnavailable):
		return http.StatusNotImplemented
	}
	return 0
}

// ErrorBody is the JSON shape of every domain error response.
type ErrorBody struct {
	Error    string             `json:"error"`
	Field    string             `json:"field,omitempty"`
	Cursor   *int               `json:"cursor,omitempty"`
	Snapshot *dialogue.Snapshot `json:"snapshot,omitempty"`
}

// Will send a JSON error response for known runtime errors, logging at debug
// level (warn for retryable failures); anything else is an internal error.
func LogError(w http.ResponseWriter, r *http.Request, code string, err error) {
	LogErrorSnapshot(w, r, code, err, nil)
}

// Like LogError, attaching the snapshot the client should render.
func LogErrorSnapshot(w http.ResponseWriter, r *http.Request, code string, err error, snap *dialogue.Snapshot) {
	status := StatusFor(err)
	if status == 0 {
		LogInternalError(w, code, err)
		return
	}

	level := log.DebugLevel
	if status >= 500 {
		level = log.WarnLevel
	}
	log.Logf(level, "%s: %s", code, err)

	body := ErrorBody{Error: err.Error(), Snapshot: snap}
	var validation *model.ValidationError
	if errors.As(err, &validation) {
		body.Field = validation.Field
	}
	var stale *dialogue.StaleTurnError
	if errors.As(err, &stale) {
		body.Cursor = &stale.Cursor
	}

	render.Status(r, status)
	render.JSON(w, r, body)
}
