package routes

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/goccy/go-json"
	"github.com/mbolis/voiceform/app"
	"github.com/mbolis/voiceform/dialogue"
	"github.com/mbolis/voiceform/httpx"
	"github.com/mbolis/voiceform/log"
	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/session"
)

// Recordings larger than this are rejected before reaching speech-to-text.
const maxAudioBytes = 25 << 20

func StartSession(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		formID, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
			return
		}

		welcome, snap, err := app.Sessions.Start(r.Context(), formID)
		var overLimit *session.OverLimitError
		if errors.As(err, &overLimit) {
			httpx.LogErrorSnapshot(w, r, "start_session.over_limit", err, &snap)
			return
		}
		if err != nil {
			httpx.LogError(w, r, "start_session", err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"welcome":  welcome,
			"snapshot": snap,
		})
	}
}

func GetSession(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := app.Sessions.Snapshot(r.Context(), chi.URLParam(r, "sid"))
		if err != nil {
			httpx.LogError(w, r, "get_session", err)
			return
		}
		render.JSON(w, r, snap)
	}
}

type answerRequest struct {
	QuestionID int         `json:"questionId"`
	Value      model.Input `json:"value"`
}

func SubmitAnswer(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := answerRequest{}
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		res, err := app.Sessions.SubmitAnswer(r.Context(), chi.URLParam(r, "sid"), req.QuestionID, req.Value)
		if err != nil {
			httpx.LogError(w, r, "submit_answer", err)
			return
		}
		render.JSON(w, r, res)
	}
}

func CompleteSession(app app.App) http.HandlerFunc {
	return sessionAction(app.Sessions.Complete, "complete_session")
}

func AbandonSession(app app.App) http.HandlerFunc {
	return sessionAction(app.Sessions.Abandon, "abandon_session")
}

func ToggleVoice(app app.App) http.HandlerFunc {
	return sessionAction(app.Sessions.ToggleVoice, "toggle_voice")
}

func CancelRecording(app app.App) http.HandlerFunc {
	return sessionAction(app.Sessions.CancelRecording, "cancel_recording")
}

func FinishPlayback(app app.App) http.HandlerFunc {
	return sessionAction(app.Sessions.FinishPlayback, "finish_playback")
}

func sessionAction(action func(ctx context.Context, sessionID string) (dialogue.Snapshot, error), code string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := action(r.Context(), chi.URLParam(r, "sid"))
		if err != nil {
			httpx.LogError(w, r, code, err)
			return
		}
		render.JSON(w, r, snap)
	}
}

// ToggleRecording starts recording on an empty body; a body carrying the
// recorded audio (raw, or multipart field "audio") stops it and submits the
// transcribed reply.
func ToggleRecording(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		audio, filename, err := readAudio(r)
		if err != nil {
			httpx.LogStatusMsg(w, http.StatusBadRequest, log.DebugLevel, "request.read_audio", "%s", err)
			return
		}

		res, err := app.Sessions.ToggleRecording(r.Context(), chi.URLParam(r, "sid"), audio, filename)
		if err != nil {
			httpx.LogError(w, r, "toggle_recording", err)
			return
		}
		render.JSON(w, r, res)
	}
}

func readAudio(r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxAudioBytes)

	if strings.HasPrefix(r.Header.Get("content-type"), "multipart/") {
		file, header, err := r.FormFile("audio")
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", nil
		}
		if err != nil {
			return nil, "", err
		}
		defer file.Close()

		audio, err := io.ReadAll(file)
		return audio, header.Filename, err
	}

	audio, err := io.ReadAll(r.Body)
	return audio, "", err
}

type levelRequest struct {
	Level float64 `json:"level"`
}

func ReportLevel(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := levelRequest{}
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		if err := app.Sessions.ReportLevel(chi.URLParam(r, "sid"), req.Level); err != nil {
			httpx.LogError(w, r, "report_level", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func ReplyAudio(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		audio, err := app.Sessions.ReplyAudio(r.Context(), chi.URLParam(r, "sid"))
		if err != nil {
			httpx.LogError(w, r, "reply_audio", err)
			return
		}

		w.Header().Set("content-type", "audio/mpeg")
		w.Header().Set("content-length", strconv.Itoa(len(audio)))
		w.Header().Set("cache-control", "no-store")
		w.Write(audio)
	}
}

// SessionEvents streams a snapshot for every state change of the session as
// server-sent events, starting with the current one.
func SessionEvents(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			httpx.LogStatus(w, http.StatusNotImplemented, log.WarnLevel, "session_events.flusher")
			return
		}

		sessionID := chi.URLParam(r, "sid")
		updates, cancel := app.Sessions.Subscribe(r.Context(), sessionID)
		defer cancel()

		snap, err := app.Sessions.Snapshot(r.Context(), sessionID)
		if err != nil {
			httpx.LogError(w, r, "session_events", err)
			return
		}

		w.Header().Set("content-type", "text/event-stream")
		w.Header().Set("cache-control", "no-cache")
		w.Header().Set("connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		for {
			if err := writeEvent(w, snap); err != nil {
				log.Debugf("session_events.write: %s", err)
				return
			}
			flusher.Flush()
			if snap.State.Kind == dialogue.Completed || snap.State.Kind == dialogue.Abandoned {
				return
			}

			select {
			case <-r.Context().Done():
				return
			case next, ok := <-updates:
				if !ok {
					return
				}
				snap = next
			}
		}
	}
}

func writeEvent(w io.Writer, snap dialogue.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}
