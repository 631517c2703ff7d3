package routes

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/mbolis/voiceform/app"
	"github.com/mbolis/voiceform/httpx"
	"github.com/mbolis/voiceform/log"
	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/routes/middlewares"
	"github.com/mbolis/voiceform/store"
)

func CreateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form := model.Form{}
		err := render.DecodeJSON(r.Body, &form)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if err := form.Validate(); err != nil {
			httpx.LogError(w, r, "create_form.validate", err)
			return
		}

		formID, err := app.Forms.CreateForm(r.Context(), middlewares.Owner(r), form)
		if err != nil {
			httpx.LogError(w, r, "db.insert_form", err)
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, map[string]any{
			"id": formID,
		})
	}
}

func ListForms(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		forms, err := app.Forms.ListForms(r.Context(), middlewares.Owner(r))
		if err != nil {
			httpx.LogError(w, r, "db.get_forms", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"forms": forms,
		})
	}
}

func GetFormById(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, ok := ownedForm(app, w, r)
		if !ok {
			return
		}
		render.JSON(w, r, form)
	}
}

func UpdateForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, ok := ownedForm(app, w, r)
		if !ok {
			return
		}

		form := model.Form{}
		err := render.DecodeJSON(r.Body, &form)
		if err != nil {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}
		if err := form.Validate(); err != nil {
			httpx.LogError(w, r, "update_form.validate", err)
			return
		}
		form.ID = current.ID

		if err := app.Forms.UpdateForm(r.Context(), form); err != nil {
			httpx.LogError(w, r, "db.update_form", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// SetFormStatus publishes or closes a form.
func SetFormStatus(app app.App, status model.FormStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, ok := ownedForm(app, w, r)
		if !ok {
			return
		}
		if status == model.FormPublished && len(form.Questions) == 0 {
			httpx.LogError(w, r, "publish_form.validate",
				&model.ValidationError{Field: "questions", Reason: "a published form needs at least one question"})
			return
		}

		if err := app.Forms.SetFormStatus(r.Context(), form.ID, status); err != nil {
			httpx.LogError(w, r, "db.set_form_status", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func DeleteForm(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, ok := ownedForm(app, w, r)
		if !ok {
			return
		}

		if err := app.Forms.DeleteForm(r.Context(), form.ID); err != nil {
			httpx.LogError(w, r, "db.delete_form", err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func GetFormResponses(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		form, ok := ownedForm(app, w, r)
		if !ok {
			return
		}

		responses, err := app.Forms.ListResponses(r.Context(), form.ID)
		if err != nil {
			httpx.LogError(w, r, "db.get_responses", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"responses": responses,
		})
	}
}

func GetTranscript(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := ownedSession(app, w, r)
		if !ok {
			return
		}

		messages, err := app.Sessions.Transcript(r.Context(), sessionID)
		if err != nil {
			httpx.LogError(w, r, "db.get_transcript", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"messages": messages,
		})
	}
}

type redactRequest struct {
	Seqs []int `json:"seqs"`
}

func RedactTranscript(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := ownedSession(app, w, r)
		if !ok {
			return
		}

		req := redactRequest{}
		if err := render.DecodeJSON(r.Body, &req); err != nil || len(req.Seqs) == 0 {
			httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.parse_body")
			return
		}

		messages, err := app.Sessions.RedactTranscript(r.Context(), sessionID, req.Seqs)
		if err != nil {
			httpx.LogError(w, r, "redact_transcript", err)
			return
		}

		render.JSON(w, r, map[string]any{
			"messages": messages,
		})
	}
}

// ownedForm loads the form named in the URL, answering 404 when it belongs to someone else.
func ownedForm(app app.App, w http.ResponseWriter, r *http.Request) (model.Form, bool) {
	formID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		httpx.LogStatus(w, http.StatusBadRequest, log.DebugLevel, "request.get_url_param.id")
		return model.Form{}, false
	}

	form, err := loadOwned(r.Context(), app, middlewares.Owner(r), formID)
	if err != nil {
		httpx.LogError(w, r, "db.get_form", err)
		return model.Form{}, false
	}
	return form, true
}

func ownedSession(app app.App, w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := chi.URLParam(r, "sid")
	sess, err := app.Forms.GetSession(r.Context(), sessionID)
	if err == nil {
		_, err = loadOwned(r.Context(), app, middlewares.Owner(r), sess.FormID)
	}
	if err != nil {
		httpx.LogError(w, r, "db.get_session", err)
		return "", false
	}
	return sessionID, true
}

func loadOwned(ctx context.Context, app app.App, owner string, formID int) (model.Form, error) {
	form, err := app.Forms.GetForm(ctx, formID)
	if err != nil {
		return model.Form{}, err
	}
	if form.Owner != owner {
		return model.Form{}, store.ErrNotFound
	}
	return form, nil
}
