package main

import (
	"context"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/samber/oops"

	"levelverse.io/internal/accounts"
	"levelverse.io/internal/analytics"
	"levelverse.io/internal/config"
	"levelverse.io/internal/hooks"
	"levelverse.io/internal/levels"
	plog "levelverse.io/internal/persistence/log"
	"levelverse.io/internal/persistence/r2s3"
	"levelverse.io/internal/presence"
	"levelverse.io/internal/protocol"
	"levelverse.io/internal/store"
	"levelverse.io/internal/store/memstore"
	"levelverse.io/internal/store/sqlitestore"
	"levelverse.io/internal/transport/ws"
)

// runtime owns every long-lived component of a server process.
type runtime struct {
	cfg config.Config
	log zerolog.Logger

	store    store.Store
	levels   *levels.Service
	accounts *accounts.Service
	presence *presence.Manager
	ws       *ws.Server

	mirror   *r2s3.Mirror
	httpSink *analytics.HTTP
	closers  []io.Closer
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memstore.New(), nil
	case config.BackendSQLite:
		st, err := sqlitestore.Open(cfg.Path)
		if err != nil {
			return nil, oops.Wrapf(err, "open sqlite store %s", cfg.Path)
		}
		return st, nil
	}
	return nil, oops.Errorf("unknown store backend %q", cfg.Backend)
}

func buildRuntime(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*runtime, error) {
	rt := &runtime{cfg: cfg, log: logger}

	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, err
	}
	rt.store = st
	if c, ok := st.(io.Closer); ok {
		rt.closers = append(rt.closers, c)
	}

	rt.mirror, err = buildMirror(cfg, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	logOpts := plog.WriterOptions{Layout: cfg.LogRotateLayout}
	if rt.mirror != nil {
		logOpts.OnClose = rt.mirror.Enqueue
	}

	var trackers analytics.Multi
	if cfg.Analytics.JSONL {
		j := analytics.NewJSONL(cfg.DataDir, logOpts, logger)
		rt.closers = append(rt.closers, j)
		trackers = append(trackers, j)
	}
	if cfg.Analytics.HTTPEndpoint != "" {
		h, err := analytics.NewHTTP(analytics.HTTPConfig{
			Endpoint:      cfg.Analytics.HTTPEndpoint,
			Token:         cfg.Analytics.HTTPToken,
			BatchSize:     cfg.Analytics.BatchSize,
			FlushInterval: cfg.Analytics.FlushInterval(),
			QueueSize:     cfg.Analytics.QueueSize,
			Logger:        logger,
		})
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.httpSink = h
		rt.closers = append(rt.closers, h)
		trackers = append(trackers, h)
	}
	var tracker analytics.Tracker = analytics.Nop{}
	if len(trackers) > 0 {
		tracker = trackers
	}

	registry := hooks.NewRegistry(logger)
	if cfg.Activity.Enabled {
		a := hooks.NewActivityLog(cfg.DataDir, logOpts, logger)
		a.Register(registry)
		rt.closers = append(rt.closers, a)
	}

	rt.levels = levels.NewService(levels.Config{
		DefaultLevelID:        cfg.DefaultLevelID,
		DefaultSpawn:          cfg.Spawn(),
		TransactionalCascades: cfg.TransactionalCascades,
	}, st, tracker, logger)
	if created, err := rt.levels.EnsureDefaultLevel(ctx, cfg.DefaultLevelName); err != nil {
		rt.Close()
		return nil, err
	} else if created {
		logger.Info().Str("level_id", cfg.DefaultLevelID).Msg("bootstrap: default level created")
	}

	rt.presence = presence.NewManager(rt.levels, registry, logger)
	rt.levels.SetNotifier(rt.presence)
	rt.accounts = accounts.NewService(accounts.Config{
		DefaultLevelID: cfg.DefaultLevelID,
		DefaultSpawn:   cfg.Spawn(),
		ForbiddenIPs:   cfg.ForbiddenIPs,
	}, st, tracker, logger)

	validator, err := protocol.NewValidator()
	if err != nil {
		rt.Close()
		return nil, oops.Wrapf(err, "protocol schemas")
	}
	rt.ws = ws.NewServer(ws.Config{
		Levels:            rt.levels,
		Presence:          rt.presence,
		Logins:            rt.accounts,
		Auth:              accounts.TokenAuthenticator{Store: st},
		Validator:         validator,
		Logger:            logger,
		TrustForwardedFor: cfg.TrustForwardedFor,
	})
	return rt, nil
}

func (rt *runtime) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", rt.metricsHandler)
	mux.HandleFunc("/v1/ws", rt.ws.Handler())
	return mux
}

// Close stops presence sessions (firing their leave hooks) before the sinks
// they write to, and the mirror last so it receives the final segments.
func (rt *runtime) Close() {
	if rt.presence != nil {
		rt.presence.StopAll()
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i].Close(); err != nil {
			rt.log.Warn().Err(err).Msg("shutdown: close failed")
		}
	}
	rt.closers = nil
	if rt.mirror != nil {
		rt.mirror.Close()
	}
}
