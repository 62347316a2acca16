package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/storage/txretry"
)

// Supported dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// Config configures a SQL store.
type Config struct {
	// Dialect is "sqlite" or "postgres".
	Dialect string

	// DSN is the driver data source. For SQLite a file path or ":memory:".
	DSN string

	// MaxOpenConns bounds the pool. SQLite always uses a single connection.
	MaxOpenConns int

	// ConnMaxLifetime recycles pooled connections.
	ConnMaxLifetime time.Duration

	// Conflict bounds the backoff between replays of a conditional write
	// that raced. Replays continue until the caller's context ends.
	Conflict txretry.Policy
}

// Store implements service.Store on database/sql.
type Store struct {
	db      *sql.DB
	dialect  string
	conflict txretry.Policy
	logger   *slog.Logger
}

var _ service.Store = (*Store)(nil)

// Open connects, applies migrations and returns the store.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("sqlstore: dsn is required")
	}

	var driver string
	switch cfg.Dialect {
	case DialectSQLite, "":
		cfg.Dialect = DialectSQLite
		driver = "sqlite"
	case DialectPostgres:
		driver = "pgx"
	default:
		return nil, fmt.Errorf("sqlstore: unknown dialect %q", cfg.Dialect)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}

	if cfg.Dialect == DialectSQLite {
		// One connection serializes writers and keeps ":memory:" databases
		// shared across calls.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	s := &Store{db: db, dialect: cfg.Dialect, conflict: cfg.Conflict, logger: logger}

	if cfg.Dialect == DialectSQLite {
		for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
			if _, err := db.ExecContext(ctx, pragma); err != nil {
				db.Close()
				return nil, fmt.Errorf("sqlstore: %s: %w", pragma, err)
			}
		}
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: %w", err)
	}

	logger.Info("sql store opened", "dialect", cfg.Dialect)
	return s, nil
}

// DB exposes the underlying pool for components sharing the connection.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return domain.ErrStoreUnavailable.WithCause(err)
	}
	return nil
}

// Close closes the pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// errRetry signals that a guarded write lost a race and the transaction
// should be replayed against fresh rows.
var errRetry = errors.New("sqlstore: retry")

// write runs fn in a transaction and replays it when fn reports errRetry.
// A guarded write only misses when another writer committed, so replays
// continue until fn commits or ctx ends.
func (s *Store) write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	conflicts, err := s.conflict.Do(ctx, isRetry, func() error { return s.inTx(ctx, fn) })
	if ctxErr := ctx.Err(); ctxErr != nil && (isRetry(err) || errors.Is(err, ctxErr)) {
		s.logger.Warn("sql write abandoned", "conflicts", conflicts, "error", ctxErr)
		return domain.ErrStoreUnavailable.WithDetails("conditional write unresolved").WithCause(ctxErr)
	}
	return storeErr(err)
}

func isRetry(err error) bool { return errors.Is(err, errRetry) }

// lockFor returns the row-lock suffix for a read made inside a write
// transaction. PostgreSQL serializes competing writers on the lock; SQLite
// already runs one writer at a time.
func (s *Store) lockFor(q queryer) string {
	if _, inTx := q.(*sql.Tx); inTx && s.dialect == DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// storeErr passes domain errors through and wraps driver failures.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.DomainError
	if errors.As(err, &de) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.ErrStoreUnavailable.WithCause(err)
}

// isUniqueViolation reports a unique constraint failure in either dialect.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// affected reports whether exactly one row changed.
func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// scanBodies decodes the single body column of each row with decode.
func scanBodies(rows *sql.Rows, decode func(body string) error) error {
	defer rows.Close()
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return err
		}
		if err := decode(body); err != nil {
			return err
		}
	}
	return rows.Err()
}

func marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// partitionClause restricts a query to the sweep partitions.
func partitionClause(f service.SweepFilter) (string, []any) {
	if f.Partitions == nil {
		return "", nil
	}
	if len(f.Partitions) == 0 {
		return " AND 1 = 0", nil
	}
	marks := make([]string, len(f.Partitions))
	args := make([]any, len(f.Partitions))
	for i, p := range f.Partitions {
		marks[i] = "?"
		args[i] = p
	}
	return " AND part IN (" + strings.Join(marks, ", ") + ")", args
}

func limitClause(limit int) string {
	if limit <= 0 {
		return ""
	}
	return " LIMIT " + strconv.Itoa(limit)
}
