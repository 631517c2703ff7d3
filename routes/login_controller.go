package routes

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mbolis/voiceform/app"
	"github.com/mbolis/voiceform/httpx"
	"github.com/mbolis/voiceform/log"
)

var reRefresh = regexp.MustCompile(`(?i)^refresh\s+(.*)`)

// Login exchanges basic auth credentials of a form owner for a token pair.
// The tokens are also set as cookies for browser clients.
func Login(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "login.basic_auth")
			return
		}

		issueTokens(app, w, r, url.Values{
			"grant_type": {"password"},
			"username":   {user},
			"password":   {pass},
		})
	}
}

func Refresh(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		match := reRefresh.FindStringSubmatch(r.Header.Get("authorization"))
		if len(match) == 0 {
			httpx.LogStatus(w, http.StatusUnauthorized, log.DebugLevel, "refresh.token")
			return
		}

		issueTokens(app, w, r, url.Values{
			"grant_type":    {"refresh_token"},
			"refresh_token": {match[1]},
		})
	}
}

func Logout(app app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, name := range []string{"access_token", "refresh_token"} {
			http.SetCookie(w, &http.Cookie{Path: "/", Name: name, Value: "", MaxAge: -1})
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func issueTokens(app app.App, w http.ResponseWriter, r *http.Request, form url.Values) {
	body := form.Encode()
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, "/", strings.NewReader(body))
	if err != nil {
		httpx.LogInternalError(w, "token.new_request", err)
		return
	}
	req.Header.Set("content-type", "application/x-www-form-urlencoded")
	req.Header.Set("content-length", strconv.Itoa(len(body)))

	resp := httpx.NewResponseBuffer()
	app.UserCredentials(resp, req)

	if resp.Status() == http.StatusOK {
		var tokens struct {
			AccessToken  string `json:"access_token"`
			RefreshToken string `json:"refresh_token"`
			ExpiresIn    int    `json:"expires_in"`
		}
		if err := json.Unmarshal(resp.Body(), &tokens); err == nil {
			http.SetCookie(w, &http.Cookie{
				Path: "/", Name: "access_token", Value: tokens.AccessToken,
				MaxAge: tokens.ExpiresIn, HttpOnly: true, SameSite: http.SameSiteStrictMode,
			})
			http.SetCookie(w, &http.Cookie{
				Path: "/", Name: "refresh_token", Value: tokens.RefreshToken,
				MaxAge: int(app.RefreshTTL.Seconds()), HttpOnly: true, SameSite: http.SameSiteStrictMode,
			})
		}
	} else {
		log.Debugf("token.%s: status %d", form.Get("grant_type"), resp.Status())
	}
	resp.Flush(w)
}
