package app

import (
	"github.com/go-chi/oauth"
	"github.com/mbolis/voiceform/config"
	"github.com/mbolis/voiceform/database"
	"github.com/mbolis/voiceform/session"
)

// App bundles what request handlers need.
type App struct {
	*oauth.BearerServer
	config.Config
	Forms    *database.Store
	Sessions *session.Controller
}
