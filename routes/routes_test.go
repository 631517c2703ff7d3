package routes

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/goccy/go-json"
	"github.com/mbolis/voiceform/app"
	"github.com/mbolis/voiceform/config"
	"github.com/mbolis/voiceform/database"
	"github.com/mbolis/voiceform/dialogue"
	"github.com/mbolis/voiceform/httpx"
	"github.com/mbolis/voiceform/model"
	"github.com/mbolis/voiceform/notify"
	"github.com/mbolis/voiceform/session"
	"github.com/mbolis/voiceform/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type discard struct{}

func (discard) Dispatch(notify.Completion) {}

type client struct {
	t     *testing.T
	srv   *httptest.Server
	token string
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(filepath.Join(t.TempDir(), "voiceform.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	forms := database.NewStore(db)
	require.NoError(t, forms.CreateOwner(ctx, "ada", "lovelace", "free"))
	require.NoError(t, forms.CreateOwner(ctx, "bob", "builder", "pro"))

	cfg := config.Default()
	cfg.TokenSecret = "test-secret"

	engine := dialogue.NewEngine(forms)
	app := app.App{
		BearerServer: httpx.NewBearerServer(db, cfg),
		Config:       cfg,
		Forms:        forms,
		Sessions:     session.NewController(forms, engine, discard{}, voice.NewRegistry(nil, nil), nil),
	}

	srv := httptest.NewServer(Wire(app))
	t.Cleanup(srv.Close)
	return srv
}

func login(t *testing.T, srv *httptest.Server, user, pass string) *client {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/login", nil)
	require.NoError(t, err)
	req.SetBasicAuth(user, pass)

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tokens))
	require.NotEmpty(t, tokens.AccessToken)

	var cookie bool
	for _, c := range resp.Cookies() {
		if c.Name == "access_token" {
			cookie = c.HttpOnly
		}
	}
	assert.True(t, cookie, "access token cookie")

	return &client{t: t, srv: srv, token: tokens.AccessToken}
}

func (c *client) do(method, path string, body any, out any) int {
	c.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.srv.URL+path, r)
	require.NoError(c.t, err)
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("authorization", "Bearer "+c.token)
	}

	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func publishForm(t *testing.T, admin *client) int {
	t.Helper()
	var created struct {
		ID int `json:"id"`
	}
	status := admin.do(http.MethodPost, "/api/admin/forms", model.Form{
		Title: "Lead capture",
		Questions: []model.Question{
			{Text: "What is your name?", Type: model.ShortText, Required: true},
			{Text: "What is your email?", Type: model.Email, Required: true},
		},
	}, &created)
	require.Equal(t, http.StatusCreated, status)

	status = admin.do(http.MethodPost, "/api/admin/forms/"+strconv.Itoa(created.ID)+"/publish", nil, nil)
	require.Equal(t, http.StatusNoContent, status)
	return created.ID
}

type started struct {
	Welcome  session.Welcome   `json:"welcome"`
	Snapshot dialogue.Snapshot `json:"snapshot"`
}

func TestAdmin_RequiresToken(t *testing.T) {
	srv := newServer(t)
	anon := &client{t: t, srv: srv}

	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodGet, "/api/admin/forms", nil, nil))
	assert.Equal(t, http.StatusUnauthorized, anon.do(http.MethodPost, "/api/admin/forms", model.Form{Title: "x"}, nil))
}

func TestAdmin_FormsAreScopedToOwner(t *testing.T) {
	srv := newServer(t)
	ada := login(t, srv, "ada", "lovelace")
	bob := login(t, srv, "bob", "builder")
	formID := publishForm(t, ada)
	path := "/api/admin/forms/" + strconv.Itoa(formID)

	var form model.Form
	assert.Equal(t, http.StatusOK, ada.do(http.MethodGet, path, nil, &form))
	assert.Equal(t, model.FormPublished, form.Status)

	assert.Equal(t, http.StatusNotFound, bob.do(http.MethodGet, path, nil, nil))
	assert.Equal(t, http.StatusNotFound, bob.do(http.MethodDelete, path, nil, nil))

	var list struct {
		Forms []model.Form `json:"forms"`
	}
	assert.Equal(t, http.StatusOK, bob.do(http.MethodGet, "/api/admin/forms", nil, &list))
	assert.Empty(t, list.Forms)

	// published forms are frozen
	form.Title = "Renamed"
	assert.Equal(t, http.StatusConflict, ada.do(http.MethodPut, path, form, nil))
}

func TestAdmin_RejectsInvalidForm(t *testing.T) {
	srv := newServer(t)
	ada := login(t, srv, "ada", "lovelace")

	var body httpx.ErrorBody
	status := ada.do(http.MethodPost, "/api/admin/forms", model.Form{
		Title:     "Broken",
		Questions: []model.Question{{Text: "Pick one", Type: model.SingleChoice}},
	}, &body)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "questions[0].options", body.Field)
}

func TestSession_FullConversation(t *testing.T) {
	srv := newServer(t)
	ada := login(t, srv, "ada", "lovelace")
	formID := publishForm(t, ada)
	anon := &client{t: t, srv: srv}

	var start started
	status := anon.do(http.MethodPost, "/api/forms/"+strconv.Itoa(formID)+"/sessions", nil, &start)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "Lead capture", start.Welcome.Title)
	assert.Equal(t, 2, start.Welcome.QuestionCount)
	require.NotNil(t, start.Snapshot.CurrentQuestion)
	sid := start.Snapshot.SessionID
	q := start.Snapshot.CurrentQuestion.ID

	// a required question cannot be skipped
	var verr httpx.ErrorBody
	status = anon.do(http.MethodPost, "/api/sessions/"+sid+"/answers", answerRequest{
		QuestionID: q,
		Value:      model.Input{Text: "  "},
	}, &verr)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "value", verr.Field)

	var res dialogue.Result
	status = anon.do(http.MethodPost, "/api/sessions/"+sid+"/answers", answerRequest{
		QuestionID: q,
		Value:      model.Input{Text: "Alice"},
	}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 50, res.Progress)
	require.NotNil(t, res.CurrentQuestion)
	emailQ := res.CurrentQuestion.ID

	// the first question is no longer current
	var stale httpx.ErrorBody
	status = anon.do(http.MethodPost, "/api/sessions/"+sid+"/answers", answerRequest{
		QuestionID: q,
		Value:      model.Input{Text: "Bob"},
	}, &stale)
	assert.Equal(t, http.StatusConflict, status)
	require.NotNil(t, stale.Cursor)
	assert.Equal(t, 1, *stale.Cursor)

	status = anon.do(http.MethodPost, "/api/sessions/"+sid+"/answers", answerRequest{
		QuestionID: emailQ,
		Value:      model.Input{Text: "alice at example"},
	}, &verr)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "text", verr.Field)

	status = anon.do(http.MethodPost, "/api/sessions/"+sid+"/answers", answerRequest{
		QuestionID: emailQ,
		Value:      model.Input{Text: "alice@example.com"},
	}, &res)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, res.Completed())
	assert.Equal(t, 100, res.Progress)

	var responses struct {
		Responses []model.Response `json:"responses"`
	}
	status = ada.do(http.MethodGet, "/api/admin/forms/"+strconv.Itoa(formID)+"/responses", nil, &responses)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, responses.Responses, 1)
	assert.Equal(t, model.Completed, responses.Responses[0].Session.Status)
	require.Len(t, responses.Responses[0].Answers, 2)
	assert.Equal(t, "alice@example.com", responses.Responses[0].Answers[1].Value.Text)

	var transcript struct {
		Messages []model.Message `json:"messages"`
	}
	status = ada.do(http.MethodGet, "/api/admin/sessions/"+sid+"/transcript", nil, &transcript)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, transcript.Messages, 5)
}

func TestSession_ClosedFormIsGone(t *testing.T) {
	srv := newServer(t)
	ada := login(t, srv, "ada", "lovelace")
	formID := publishForm(t, ada)
	require.Equal(t, http.StatusNoContent,
		ada.do(http.MethodPost, "/api/admin/forms/"+strconv.Itoa(formID)+"/close", nil, nil))

	anon := &client{t: t, srv: srv}
	assert.Equal(t, http.StatusGone, anon.do(http.MethodPost, "/api/forms/"+strconv.Itoa(formID)+"/sessions", nil, nil))
	assert.Equal(t, http.StatusNotFound, anon.do(http.MethodPost, "/api/forms/999/sessions", nil, nil))
}

func TestSession_VoiceUnavailable(t *testing.T) {
	srv := newServer(t)
	ada := login(t, srv, "ada", "lovelace")
	formID := publishForm(t, ada)
	anon := &client{t: t, srv: srv}

	var start started
	require.Equal(t, http.StatusCreated,
		anon.do(http.MethodPost, "/api/forms/"+strconv.Itoa(formID)+"/sessions", nil, &start))

	assert.Equal(t, http.StatusNotImplemented,
		anon.do(http.MethodPost, "/api/sessions/"+start.Snapshot.SessionID+"/voice", nil, nil))
}

func TestSession_Unknown(t *testing.T) {
	srv := newServer(t)
	anon := &client{t: t, srv: srv}
	assert.Equal(t, http.StatusNotFound, anon.do(http.MethodGet, "/api/sessions/nope", nil, nil))
}
