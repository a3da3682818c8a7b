// Package app wires config, storage, the chat service and the HTTP surface
// into one runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ETdoFresh/codex-webapp-sub000/internal/auditlog"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/chat"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/config"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/httpapi"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/lockfile"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/monitor"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/store"
	"github.com/ETdoFresh/codex-webapp-sub000/internal/workspace"
)

const shutdownGrace = 5 * time.Second

type Options struct {
	Config *config.Config

	Version   string
	Commit    string
	BuildTime string
}

type App struct {
	cfg *config.Config
	log *slog.Logger

	version string

	lock    *lockfile.Lock
	store   *store.Store
	ws      *workspace.Manager
	audit   *auditlog.Store
	chat    *chat.Service
	monitor *monitor.Service
	handler http.Handler
}

func New(opts Options) (*App, error) {
	if opts.Config == nil {
		return nil, errors.New("missing config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}

	logger, err := newLogger(strings.TrimSpace(opts.Config.LogFormat), strings.TrimSpace(opts.Config.LogLevel))
	if err != nil {
		return nil, err
	}

	dataDir := strings.TrimSpace(opts.Config.DataDir)
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}
	dataDir, err = filepath.Abs(dataDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock, err := lockfile.Acquire(filepath.Join(dataDir, "codex-webapp.lock"))
	if err != nil {
		if errors.Is(err, lockfile.ErrAlreadyLocked) {
			return nil, fmt.Errorf("data dir %s is in use by another instance: %w", dataDir, err)
		}
		return nil, fmt.Errorf("acquire data dir lock: %w", err)
	}

	st, err := store.Open(filepath.Join(dataDir, "codex-webapp.db"))
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("open store: %w", err)
	}

	ws, err := workspace.NewManager(filepath.Join(dataDir, "workspaces"))
	if err != nil {
		_ = st.Close()
		_ = lock.Release()
		return nil, fmt.Errorf("init workspaces: %w", err)
	}

	audit, err := auditlog.New(auditlog.Options{Logger: logger, DataDir: dataDir})
	if err != nil {
		_ = st.Close()
		_ = lock.Release()
		return nil, fmt.Errorf("init audit log: %w", err)
	}

	chatSvc, err := chat.NewService(chat.Options{
		Logger:     logger,
		Store:      st,
		Workspaces: ws,
		Audit:      audit,
		Chat:       opts.Config.Chat,
	})
	if err != nil {
		_ = st.Close()
		_ = lock.Release()
		return nil, err
	}

	mon := monitor.NewService(logger)

	handler, err := httpapi.NewHandler(httpapi.Options{
		Logger:  logger,
		Store:   st,
		Chat:    chatSvc,
		Monitor: mon,
		Audit:   audit,
		Version: strings.TrimSpace(opts.Version),
	})
	if err != nil {
		_ = st.Close()
		_ = lock.Release()
		return nil, err
	}

	return &App{
		cfg:     opts.Config,
		log:     logger,
		version: strings.TrimSpace(opts.Version),
		lock:    lock,
		store:   st,
		ws:      ws,
		audit:   audit,
		chat:    chatSvc,
		monitor: mon,
		handler: handler,
	}, nil
}

// Handler exposes the HTTP surface. Used by tests.
func (a *App) Handler() http.Handler {
	if a == nil {
		return nil
	}
	return a.handler
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully and
// closes the store.
func (a *App) Run(ctx context.Context) error {
	if a == nil {
		return errors.New("nil app")
	}
	defer func() {
		if err := a.store.Close(); err != nil {
			a.log.Warn("close store failed", "error", err)
		}
		if err := a.lock.Release(); err != nil {
			a.log.Warn("release data dir lock failed", "error", err)
		}
	}()

	addr := strings.TrimSpace(a.cfg.ListenAddr)
	if addr == "" {
		addr = config.DefaultListenAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("listening", "addr", addr, "version", a.version)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return srv.Close()
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func newLogger(format string, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		lvl = slog.LevelInfo
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level: %s", level)
	}

	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		h = slog.NewJSONHandler(os.Stdout, opts)
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", format)
	}

	return slog.New(h), nil
}
