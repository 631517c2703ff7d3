package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mbolis/voiceform/app"
	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/routes/middlewares"
)

func Wire(app app.App) http.Handler {
	root := chi.NewRouter()
	root.Use(middleware.RequestID, middleware.Logger, middleware.Recoverer)

	root.Mount("/api", apiRouter(app))

	return root
}

func apiRouter(app app.App) http.Handler {
	api := chi.NewRouter()

	api.Post(`/forms/{id:^\d+$}/sessions`, StartSession(app))

	api.Route("/sessions/{sid}", func(r chi.Router) {
		r.Get("/", GetSession(app))
		r.Get("/events", SessionEvents(app))
		r.Post("/answers", SubmitAnswer(app))
		r.Post("/complete", CompleteSession(app))
		r.Post("/abandon", AbandonSession(app))

		// voice
		r.Post("/voice", ToggleVoice(app))
		r.Post("/recording", ToggleRecording(app))
		r.Delete("/recording", CancelRecording(app))
		r.Put("/level", ReportLevel(app))
		r.Post("/playback/done", FinishPlayback(app))
		r.Get("/reply.mp3", ReplyAudio(app))
	})

	api.Route("/admin", func(r chi.Router) {
		r.Use(middlewares.CookieAuth(app.BearerServer), middlewares.Admin(app.TokenSecret))

		// CRUD form
		r.Post("/forms", CreateForm(app))
		r.Get("/forms", ListForms(app))
		r.Get(`/forms/{id:^\d+$}`, GetFormById(app))
		r.Put(`/forms/{id:^\d+$}`, UpdateForm(app))
		r.Delete(`/forms/{id:^\d+$}`, DeleteForm(app))

		r.Post(`/forms/{id:^\d+$}/publish`, SetFormStatus(app, model.FormPublished))
		r.Post(`/forms/{id:^\d+$}/close`, SetFormStatus(app, model.FormClosed))
		r.Get(`/forms/{id:^\d+$}/responses`, GetFormResponses(app))

		r.Get("/sessions/{sid}/transcript", GetTranscript(app))
		r.Post("/sessions/{sid}/redact", RedactTranscript(app))
	})

	api.Post("/login", Login(app))
	api.Post("/refresh", Refresh(app))
	api.Post("/logout", Logout(app))

	return api
}
