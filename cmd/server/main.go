package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"levelverse.io/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to levelverse.yaml (optional; LV_* env vars override it)")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
	)
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", "levelverse").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.Listen = *addr
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		logger = logger.Level(lvl)
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup")
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           rt.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	// Hijacked websocket connections are not tracked by Shutdown; StopAll in
	// rt.Close ends their presence sessions.
	srv.RegisterOnShutdown(rt.presence.StopAll)

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info().Str("addr", cfg.Listen).Str("store", cfg.Store.Backend).Str("default_level", cfg.DefaultLevelID).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		rt.Close()
		logger.Fatal().Err(err).Msg("ListenAndServe")
	}
	rt.Close()
	logger.Info().Msg("stopped")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
