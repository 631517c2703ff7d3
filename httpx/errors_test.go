package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/go-chi/render"
	"github.com/mbolis/voiceform/database"
	"github.com/mbolis/voiceform/dialogue"
	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/session"
	"github.com/mbolis/voiceform/store"
	"github.com/mbolis/voiceform/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	for _, tt := range []struct {
		err    error
		status int
	}{
		{&model.ValidationError{Field: "text", Reason: "expected text"}, http.StatusUnprocessableEntity},
		{&dialogue.StaleTurnError{QuestionID: 1, Cursor: 2}, http.StatusConflict},
		{fmt.Errorf("update: %w", database.ErrConflict), http.StatusConflict},
		{voice.ErrPlaybackPending, http.StatusConflict},
		{&session.OverLimitError{FormID: 1, Count: 100, Limit: 100}, http.StatusPaymentRequired},
		{&voice.TranscriptionError{Err: errors.New("timeout")}, http.StatusBadGateway},
		{store.Wrap("db.append_message", errors.New("disk I/O error")), http.StatusServiceUnavailable},
		{store.ErrNotFound, http.StatusNotFound},
		{session.ErrFormClosed, http.StatusGone},
		{session.ErrVoiceUnavailable, http.StatusNotImplemented},
		{errors.New("boom"), 0},
	} {
		assert.Equal(t, tt.status, StatusFor(tt.err), "%v", tt.err)
	}
}

func TestLogError_StaleTurnCarriesCursor(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/sessions/s1/answers", nil)

	LogError(w, r, "submit_answer", &dialogue.StaleTurnError{QuestionID: 1001, Cursor: 2})

	require.Equal(t, http.StatusConflict, w.Code)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Cursor)
	assert.Equal(t, 2, *body.Cursor)
}

func TestLogError_Unexpected(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	LogError(w, r, "anything", errors.New("boom"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

func TestResponseBuffer(t *testing.T) {
	buf := NewResponseBuffer()
	assert.Equal(t, 0, buf.Status())

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	render.JSON(buf, r, map[string]string{"ok": "yes"})
	assert.Equal(t, http.StatusOK, buf.Status())

	buf.WriteHeader(http.StatusTeapot)
	assert.Equal(t, http.StatusOK, buf.Status(), "status is fixed once the body is written")

	w := httptest.NewRecorder()
	require.NoError(t, buf.Flush(w))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("content-type"))
	assert.JSONEq(t, `{"ok":"yes"}`, w.Body.String())
}
