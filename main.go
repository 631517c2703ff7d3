package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mbolis/voiceform/app"
	"github.com/mbolis/voiceform/config"
	"github.com/mbolis/voiceform/database"
	"github.com/mbolis/voiceform/dialogue"
	"github.com/mbolis/voiceform/followup"
	"github.com/mbolis/voiceform/httpx"
	"github.com/mbolis/voiceform/log"
	"github.com/mbolis/voiceform/notify"
	"github.com/mbolis/voiceform/openai"
	"github.com/mbolis/voiceform/redisstate"
	"github.com/mbolis/voiceform/routes"
	"github.com/mbolis/voiceform/session"
	"github.com/mbolis/voiceform/voice"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatal("main.config:", err)
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}

	db, err := database.Open(cfg.DBUrl)
	if err != nil {
		log.Fatal("main.db.open:", err)
	}
	defer db.Close()

	forms := database.NewStore(db)
	if cfg.Admin.User != "" && cfg.Admin.Password != "" {
		err := forms.CreateOwner(context.Background(), cfg.Admin.User, cfg.Admin.Password, cfg.Admin.Plan)
		if err != nil {
			log.Fatal("main.db.create_owner:", err)
		}
	}

	engineOpts := []dialogue.Option{}
	var hub session.Broadcaster
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := client.Ping(context.Background()).Err(); err != nil {
			log.Fatal("main.redis.ping:", err)
		}
		engineOpts = append(engineOpts, dialogue.WithLocker(redisstate.NewLocker(client)))
		hub = redisstate.NewPublisher(client)
	}

	voices := voice.NewRegistry(nil, nil)
	var chat followup.Chatter
	if cfg.OpenAI.APIKey != "" {
		client, err := openai.New(openai.Config{
			APIKey:     cfg.OpenAI.APIKey,
			BaseURL:    cfg.OpenAI.BaseURL,
			ChatModel:  cfg.OpenAI.ChatModel,
			STTModel:   cfg.OpenAI.STTModel,
			TTSModel:   cfg.OpenAI.TTSModel,
			Voice:      cfg.OpenAI.Voice,
			RatePerSec: cfg.OpenAI.RatePerSec,
		})
		if err != nil {
			log.Fatal("main.openai:", err)
		}
		voices = voice.NewRegistry(client, client)
		chat = client
	}

	switch cfg.FollowUps {
	case config.FollowUpsRules:
		engineOpts = append(engineOpts, dialogue.WithPolicy(followup.NewRules()))
	case config.FollowUpsLLM:
		engineOpts = append(engineOpts, dialogue.WithPolicy(followup.NewLLM(chat, followup.NewRules())))
	}

	fanout := notify.NewFanout(cfg.NotifyTimeout,
		notify.Log,
		notify.NewWebhook(notify.WithGlobal(cfg.Webhooks...)),
	)
	defer fanout.Wait()

	engine := dialogue.NewEngine(forms, engineOpts...)

	app := app.App{
		BearerServer: httpx.NewBearerServer(db, cfg),
		Config:       cfg,
		Forms:        forms,
		Sessions:     session.NewController(forms, engine, fanout, voices, hub),
	}

	handler := routes.Wire(app)

	err = runServer(cfg, handler)
	if !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("main.server:", err)
	}
	log.Info("Waiting for pending notifications")
}

func runServer(cfg config.Config, handler http.Handler) error {
	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     handler,
		IdleTimeout: time.Minute,
		ReadTimeout: 30 * time.Second,
		// no WriteTimeout: session event streams stay open
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil {
			log.Warn("main.server.shutdown:", err)
		}
	}()

	log.Info("Listening on " + cfg.Url())
	return srv.ListenAndServe()
}
