package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"thirdcoast.systems/reelwatch/cmd/web/auth"
	"thirdcoast.systems/reelwatch/cmd/web/internal/dispatch"
	"thirdcoast.systems/reelwatch/cmd/web/internal/web"
	"thirdcoast.systems/reelwatch/internal/application"
	"thirdcoast.systems/reelwatch/internal/config"
	"thirdcoast.systems/reelwatch/internal/db"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting web service")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer dbc.Close()

	application.LogToolVersions(ctx, *conf, slog.Default())

	proc, err := application.NewProcessor(*conf, dbc, slog.Default())
	if err != nil {
		slog.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}

	if conf.APIJWTSecret == "" {
		slog.Warn("API_JWT_SECRET not set; /api endpoints are disabled")
	}
	if conf.WebhookVerifyToken == "" {
		slog.Warn("WEBHOOK_VERIFY_TOKEN not set; webhook verification will be refused")
	}

	// Background runs stop with the process, not with the webhook request.
	dispatcher := dispatch.New(ctx, proc, slog.Default().With("component", "dispatch"))

	e, err := web.NewWebserver(web.Options{
		VerifyToken: conf.WebhookVerifyToken,
		Verifier:    auth.NewVerifier(conf.APIJWTSecret),
		Webhooks:    dispatcher,
		Runner:      proc,
		DB:          dbc.Pool,
	})
	if err != nil {
		slog.Error("failed to create webserver", "error", err)
		os.Exit(1)
	}

	addr := ":" + strconv.Itoa(conf.WebServerPort)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
		if err := dispatcher.Wait(shutdownCtx); err != nil {
			slog.Warn("background runs still in flight at shutdown", "count", dispatcher.InFlight())
		}
	}()

	slog.Info("Listening", "addr", addr)
	if err := e.Start(addr); err != nil {
		// Echo returns an error on Shutdown; treat it as normal if context is done.
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			<-shutdownDone
			return
		}
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
