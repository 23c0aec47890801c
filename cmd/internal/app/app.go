// Package app wires the Courier server runtime: config, logging, storage,
// the fanout engine, HTTP routes, and the realtime gateway.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"courier/cmd/internal/auth"
	"courier/cmd/internal/chat"
	"courier/cmd/internal/httpapi"
	"courier/cmd/internal/realtime"
)

// App is the Courier server runtime: it owns the store, the fanout engine,
// and HTTP server wiring.
type App struct {
	cfg Config
	log Logger

	store chat.Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	engine  *realtime.Engine
	ws      *realtime.WSGateway
	api     *httpapi.Handler
	metrics http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	store, dbPool, dbEnabled, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	rtMetrics, metricsHandler := newMetrics()

	presence := realtime.NewPresence(log)
	engine := realtime.NewEngine(log, presence, store, rtMetrics, cfg.FanoutQueue)
	ws := realtime.NewWSGateway(log, presence, engine, store, rtMetrics)

	gate, err := auth.FromEnvSpec(log, cfg.AuthKeys)
	if err != nil {
		closeStore(store, dbPool)
		return nil, err
	}

	blobs, err := httpapi.NewDiskStorage(cfg.MediaDir, cfg.MediaBaseURL)
	if err != nil {
		closeStore(store, dbPool)
		return nil, err
	}

	api := httpapi.NewHandler(log, store, engine, presence, gate, blobs)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		engine:    engine,
		ws:        ws,
		api:       api,
		metrics:   metricsHandler,
	}, nil
}

// Run starts the fanout engine and the HTTP server, and blocks until context
// cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	engineCtx, stopEngine := context.WithCancel(context.Background())
	defer stopEngine()
	go a.engine.Run(engineCtx)

	root := a.routes()

	handler := WithRequestLogging(root, a.log)
	handler = WithCORS(handler, CORSPolicy{
		AllowedOrigins:   a.cfg.CORSAllowedOrigins,
		AllowCredentials: a.cfg.CORSAllowCredentials,
		MaxAgeSeconds:    a.cfg.CORSMaxAgeSeconds,
	})

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	stopEngine()
	closeStore(a.store, a.dbPool)

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and in-memory dev store.
func newStore(ctx context.Context, cfg Config, log Logger) (chat.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return chat.NewMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store")

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore.Close() is a no-op
	store, err := chat.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	return store, pool, true, nil
}

func closeStore(store chat.Store, pool *pgxpool.Pool) {
	if store != nil {
		_ = store.Close()
	}
	if pool != nil {
		pool.Close()
	}
}
