package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alexjbarnes/cloudsync/internal/config"
	"github.com/alexjbarnes/cloudsync/internal/filesync"
	"github.com/alexjbarnes/cloudsync/internal/localstore"
	"github.com/alexjbarnes/cloudsync/internal/logging"
	"github.com/alexjbarnes/cloudsync/internal/state"
	"github.com/alexjbarnes/cloudsync/internal/storage"
)

// app holds everything a command needs for one invocation.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	state   *state.State
	store   *localstore.Store
	backend *storage.Backend
	svc     *filesync.Service
}

// openApp loads configuration, opens the state database and backend,
// and takes the store lock. Callers must call close.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Debug("cloudsync starting",
		slog.String("version", Version),
		slog.String("backend", cfg.Backend),
		slog.String("local_dir", cfg.LocalDir),
	)

	var st *state.State
	if cfg.StatePath != "" {
		st, err = state.LoadAt(cfg.StatePath)
	} else {
		st, err = state.Load()
	}

	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, state: st}

	a.backend, err = storage.Open(ctx, cfg, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	opts := []localstore.Option{
		localstore.WithPatterns(cfg.Patterns...),
		localstore.WithServiceType(a.backend.ServiceType()),
	}

	if cfg.StatePath != "" {
		opts = append(opts, localstore.WithIgnored(cfg.StatePath))
	}

	a.store, err = localstore.New(cfg.LocalDir, st, logger, opts...)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	if err := a.store.Lock(); err != nil {
		if errors.Is(err, localstore.ErrLocked) {
			err = fmt.Errorf("another cloudsync process is using %s", cfg.LocalDir)
		}

		a.store = nil
		a.close()

		return nil, err
	}

	a.svc = filesync.NewService(a.backend, a.store, logger, filesync.WithConcurrency(cfg.Concurrency))

	return a, nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Unlock(); err != nil {
			a.logger.Warn("releasing store lock", slog.String("error", err.Error()))
		}
	}

	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			a.logger.Warn("closing backend", slog.String("error", err.Error()))
		}
	}

	if a.state != nil {
		if err := a.state.Close(); err != nil {
			a.logger.Warn("closing state", slog.String("error", err.Error()))
		}
	}
}

// descriptorsFor returns the local descriptors for names. Names unknown
// locally get a bare descriptor so remote-only files can still be
// addressed.
func (a *app) descriptorsFor(ctx context.Context, names []string) ([]filesync.Descriptor, error) {
	found, err := a.store.Lookup(ctx, names)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(found))
	for _, d := range found {
		known[d.Filename] = true
	}

	for _, n := range names {
		if !known[n] {
			found = append(found, filesync.Descriptor{Filename: n})
			known[n] = true
		}
	}

	return found, nil
}

// outcomeError logs every error in o and returns a summary error when
// the pass did not succeed.
func (a *app) outcomeError(op string, o filesync.Outcome) error {
	for _, err := range o.Errors {
		a.logger.Error(op+" failed", slog.String("error", err.Error()))
	}

	if o.OK {
		return nil
	}

	return fmt.Errorf("%s finished with %d error(s)", op, len(o.Errors))
}
