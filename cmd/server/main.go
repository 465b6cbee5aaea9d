package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"sprintplanner/internal/aiclient"
	"sprintplanner/internal/app"
	"sprintplanner/internal/config"
	"sprintplanner/internal/identity"
	"sprintplanner/internal/relay"
	"sprintplanner/internal/server"
	"sprintplanner/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	relayTimeout, err := config.ParseRelayTimeout(cfg.RelayTimeout)
	if err != nil {
		log.Fatalf("failed to parse relay timeout: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	verifier, err := identity.NewVerifier(identity.Config{
		JWKSURL:  cfg.IdentityJWKSURL,
		Issuer:   cfg.IdentityIssuer,
		Audience: cfg.IdentityAudience,
	})
	if err != nil {
		log.Fatalf("failed to init identity verifier: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                    appCore,
		Verifier:               verifier,
		Relay:                  relay.New(cfg.AIServerURL, relayTimeout),
		AI:                     aiclient.NewClient(cfg.AIServerURL),
		RedisAddr:              cfg.RedisAddr,
		RedisPassword:          cfg.RedisPassword,
		CookieSecure:           cfg.CookieSecure,
		ChatRateLimitPerMinute: cfg.ChatRateLimitPerMinute,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:        addr,
		Handler:     httpServer.Router(),
		ReadTimeout: 15 * time.Second,
		// Streaming responses outlive a fixed write timeout; the relay
		// enforces its own per-exchange deadline instead.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
