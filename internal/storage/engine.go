package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/storage/memory"
	"github.com/yndnr/captoken-go/internal/storage/sqlstore"
)

// Backend names.
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and configures the store backend.
type Config struct {
	// Backend is one of memory, badger, sqlite or postgres.
	Backend string

	Badger BadgerConfig

	// DSN is the SQL data source for the sqlite and postgres backends.
	DSN             string
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns a Badger configuration rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		Backend: BackendBadger,
		Badger:  DefaultBadgerConfig(dataDir + "/badger"),
	}
}

// Engine owns the opened backend. Store is always set; the SQL and Badger
// handles are set only for their backends.
type Engine struct {
	Store   service.Store
	Backend string

	badger *BadgerStore
	sql    *sqlstore.Store
	logger *slog.Logger
}

// Open opens the configured backend.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{Backend: cfg.Backend, logger: logger}

	switch cfg.Backend {
	case BackendMemory:
		e.Store = memory.New()
	case BackendBadger, "":
		e.Backend = BackendBadger
		s, err := OpenBadger(cfg.Badger, logger)
		if err != nil {
			return nil, err
		}
		e.Store, e.badger = s, s
	case BackendSQLite, BackendPostgres:
		s, err := sqlstore.Open(ctx, sqlstore.Config{
			Dialect:         cfg.Backend,
			DSN:             cfg.DSN,
			MaxOpenConns:    cfg.MaxOpenConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
		}, logger)
		if err != nil {
			return nil, err
		}
		e.Store, e.sql = s, s
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}

	logger.Info("storage engine ready", "backend", e.Backend)
	return e, nil
}

// Directory returns the SQL entity directory, or nil for other backends.
func (e *Engine) Directory() service.Directory {
	if e.sql == nil {
		return nil
	}
	return e.sql.Directory()
}

// AuditWriter returns the SQL audit log writer, or nil for other backends.
func (e *Engine) AuditWriter() *sqlstore.AuditWriter {
	if e.sql == nil {
		return nil
	}
	return e.sql.AuditWriter()
}

// Backups returns the Badger store as a backup source, or nil.
func (e *Engine) Backups() *BadgerStore {
	return e.badger
}

// ErrBackupUnsupported is returned by Backup for backends without a
// native backup stream.
var ErrBackupUnsupported = errors.New("storage: backend has no backup stream")

// Backup streams a native backup of the store to w.
func (e *Engine) Backup(w io.Writer) (uint64, error) {
	if e.badger == nil {
		return 0, ErrBackupUnsupported
	}
	return e.badger.Backup(w)
}

// GC runs value log GC where the backend has one.
func (e *Engine) GC(ctx context.Context) (int, error) {
	if e.badger == nil {
		return 0, nil
	}
	return e.badger.GC(ctx)
}

// RegisterMetrics registers backend gauges with reg.
func (e *Engine) RegisterMetrics(reg prometheus.Registerer) {
	if e.badger != nil {
		e.badger.RegisterMetrics(reg)
	}
}

// Ping reports store health.
func (e *Engine) Ping(ctx context.Context) error {
	if err := e.Store.Ping(ctx); err != nil {
		var de *domain.DomainError
		if errors.As(err, &de) {
			return err
		}
		return domain.ErrStoreUnavailable.WithCause(err)
	}
	return nil
}

// Close closes the backend.
func (e *Engine) Close() error {
	err := e.Store.Close()
	e.logger.Info("storage engine closed", "backend", e.Backend)
	return err
}
