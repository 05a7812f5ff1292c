// Package app wires the room server runtime: config, logging, stores, HTTP
// routes and the realtime gateway.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"arcfeed/cmd/internal/auth"
	"arcfeed/cmd/internal/metrics"
	"arcfeed/cmd/internal/realtime"
	"arcfeed/cmd/internal/rooms"
	"arcfeed/cmd/internal/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the room server runtime: it owns HTTP wiring and the gateway
// dependencies.
type App struct {
	cfg Config
	log Logger

	store     realtime.MessageStore
	storeKind string

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics *metrics.Registry
	server  *metrics.Server

	ws    *realtime.WSGateway
	rooms *rooms.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	hasher, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	if err != nil {
		return nil, err
	}
	principals, err := auth.ParseTokens(cfg.Tokens)
	if err != nil {
		return nil, err
	}
	authn := auth.NewStaticAuthenticator(hasher, principals)
	if authn.Len() == 0 {
		log.Warn("auth.tokens.empty", "hint", "set ARC_TOKENS; every request will be rejected")
	}

	seed, err := rooms.ParseRooms(cfg.Rooms)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, log: log}
	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	dir, err := a.newDirectory(ctx, seed)
	if err != nil {
		a.closeStore()
		return nil, err
	}

	a.metrics = metrics.NewRegistry()
	a.server = metrics.NewServer(a.metrics)

	hub := realtime.NewHub(log, a.server)
	wsCfg := cfg.WS
	wsCfg.Observer = a.server
	a.ws = realtime.NewWSGateway(log, hub, a.store, authn, dir, wsCfg)

	a.rooms, err = rooms.NewHandler(log, dir, a.store, hub, authn, rooms.NewMediaStore(cfg.MediaMaxBytes))
	if err != nil {
		a.closeStore()
		return nil, err
	}

	log.Info("app.ready", "store", a.storeKind, "rooms", len(seed), "tokens", authn.Len(), "token_hmac", hasher.HMAC())
	return a, nil
}

// openStore picks Postgres, then SQLite, then the in-memory store.
func (a *App) openStore(ctx context.Context) error {
	switch {
	case a.cfg.DatabaseURL != "":
		pool, err := NewDBPool(ctx, a.cfg)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		// The app owns the pool; PostgresStore.Close is a no-op.
		st, err := realtime.NewPostgresStore(pool, realtime.WithSchema(a.cfg.DBSchema))
		if err != nil {
			pool.Close()
			return err
		}
		a.store, a.storeKind, a.dbPool, a.dbEnabled = st, "postgres", pool, true

	case a.cfg.SQLitePath != "":
		st, err := realtime.NewSQLiteStore(a.cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("open sqlite: %w", err)
		}
		a.store, a.storeKind = st, "sqlite"

	default:
		a.store, a.storeKind = realtime.NewInMemoryStore(), "memory"
	}
	a.log.Info("store.open", "kind", a.storeKind)
	return nil
}

func (a *App) newDirectory(ctx context.Context, seed []rooms.Room) (rooms.Directory, error) {
	if a.dbPool == nil {
		return rooms.NewMemoryDirectory(seed...), nil
	}
	dir, err := rooms.NewPostgresDirectory(a.dbPool, a.cfg.DBSchema)
	if err != nil {
		return nil, err
	}
	for _, r := range seed {
		if err := dir.Upsert(ctx, r); err != nil {
			return nil, err
		}
	}
	return dir, nil
}

func (a *App) closeStore() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("store.close.fail", "err", err)
		}
	}
	if a.dbPool != nil {
		a.dbPool.Close()
	}
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	var h http.Handler = mux
	h = WithSecurityHeaders(h)
	h = WithCORS(h, a.cfg, a.log)
	return WithRequestLogging(h, a.log, a.server)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "store", a.storeKind)

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
		a.closeStore()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		a.closeStore()
		return err
	}

	a.closeStore()
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
