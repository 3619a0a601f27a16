// Command scorewatch watches the BeatLeader live score feed for accuracies
// whose digits read 727 and announces each catch on Twitch chat and Twitter.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Bootstraps OAuth sessions for both platforms and keeps them refreshed.
//   - Consumes the score feed and fans matched scores out to the notifiers.
//   - Exposes an HTTP server with /healthz, /readyz, /status, /metrics, and
//     the OAuth bootstrap endpoints.
//
// Shutdown is graceful on SIGINT/SIGTERM: the feed stops first, then
// in-flight notifications drain.
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/scorewatch/scorewatch/auth"
	"github.com/scorewatch/scorewatch/beatleader"
	"github.com/scorewatch/scorewatch/chat"
	"github.com/scorewatch/scorewatch/config"
	"github.com/scorewatch/scorewatch/db"
	"github.com/scorewatch/scorewatch/dispatch"
	"github.com/scorewatch/scorewatch/server"
	"github.com/scorewatch/scorewatch/social"
	"github.com/scorewatch/scorewatch/telemetry"
	"github.com/scorewatch/scorewatch/twitchapi"
)

func main() {
	// .env is a local dev convenience only; production relies on real env.
	_ = godotenv.Load()

	initLogging()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing("scorewatch", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := &db.TokenStore{DB: database}

	// The IRC client is constructed before the session so the refresh hook
	// closes over a fixed pointer; the hook may fire from the refresher
	// goroutine at any time after NewSession. It starts with an empty token
	// and receives the real one through the hook on every credential change.
	ircClient := chat.NewIRC(cfg.TwitchBotUsername, "")

	// Twitch session. The refresh hook hot-swaps the IRC token so the chat
	// connection survives rotation.
	twitchSession := auth.NewSession("twitch", cfg.TwitchUserID, store,
		twitchapi.SessionRefreshFunc(cfg.TwitchClientID, cfg.TwitchClientSecret),
		auth.WithRefreshHook(func(cred auth.Credential) {
			ircClient.SetIRCToken("oauth:" + cred.AccessToken)
		}))

	twitterOAuth := social.NewOAuthConfig(cfg.TwitterClientID, cfg.TwitterClientSecret, cfg.TwitterRedirectURI, cfg.TwitterScopes)
	twitterSession := auth.NewSession("twitter", "bot", store, social.RefreshFunc(twitterOAuth))

	for _, s := range []*auth.Session{twitchSession, twitterSession} {
		if err := s.Bootstrap(ctx); err != nil {
			if errors.Is(err, auth.ErrNotAuthorized) {
				slog.Warn("no stored credential, authorize via /auth/"+s.Provider()+"/start",
					slog.String("provider", s.Provider()))
				continue
			}
			slog.Error("session bootstrap failed", slog.String("provider", s.Provider()), slog.Any("err", err))
			os.Exit(1)
		}
	}
	auth.StartRefresher(ctx, twitchSession, 5*time.Minute, 15*time.Minute)
	auth.StartRefresher(ctx, twitterSession, 10*time.Minute, 20*time.Minute)

	// Prime the chat token; Token refreshes first when the stored credential
	// is already stale. Without a credential the client connects with an
	// empty token and the hook installs a real one after the OAuth bootstrap
	// flow completes.
	if tok, err := twitchSession.Token(ctx); err != nil {
		slog.Warn("twitch chat starting without a token", slog.Any("err", err))
	} else {
		ircClient.SetIRCToken("oauth:" + tok)
	}
	go chat.Run(ctx, ircClient, cfg.TwitchChannel)

	helix := &twitchapi.HelixClient{Tokens: twitchSession, ClientID: cfg.TwitchClientID}

	dispatcher := &dispatch.Dispatcher{
		Profiles: &beatleader.Client{BaseURL: cfg.APIBaseURL},
		Chat:     &chat.Notifier{Helix: helix, Speaker: ircClient, OperatorChannel: cfg.TwitchChannel},
		Social:   &social.Notifier{Tokens: twitterSession},
		DB:       database,
	}

	handlers := server.NewHandlers(database, cfg, twitchSession, twitterSession, twitterOAuth)

	feed := &beatleader.Feed{
		URL:            cfg.FeedURL,
		Handler:        dispatcher.HandleScore,
		ReconnectDelay: cfg.ReconnectDelay,
		OnStateChange: func(connected bool) {
			handlers.NoteFeedConnected(connected)
			state := "disconnected"
			if connected {
				state = "connected"
			}
			kvCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := db.SetKV(kvCtx, database, "feed_state", state); err != nil {
				slog.Warn("feed state update failed", slog.Any("err", err))
			}
		},
	}
	go feed.Run(ctx)

	go func() {
		if err := server.Start(ctx, handlers, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down, draining in-flight notifications")
	dispatcher.Wait()
}

// initLogging configures slog from LOG_LEVEL and LOG_FORMAT (text | json).
func initLogging() {
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	var handler slog.Handler
	if strings.ToLower(os.Getenv("LOG_FORMAT")) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
}
