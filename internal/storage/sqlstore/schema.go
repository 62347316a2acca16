package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/yndnr/captoken-go/internal/core/domain"
)

// migrations are applied in order. Each entry is one schema version.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS tokens (
			id              TEXT PRIMARY KEY,
			value_hash      TEXT NOT NULL UNIQUE,
			organization_id TEXT NOT NULL,
			kind            TEXT NOT NULL,
			subject_id      TEXT NOT NULL,
			target_id       TEXT NOT NULL,
			status          TEXT NOT NULL,
			use_count       BIGINT NOT NULL DEFAULT 0,
			record_seq      BIGINT NOT NULL DEFAULT 0,
			expires_at      BIGINT NOT NULL,
			part            INTEGER NOT NULL DEFAULT 0,
			body            TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS tokens_org ON tokens (organization_id, kind)`,
		`CREATE INDEX IF NOT EXISTS tokens_expiry ON tokens (status, expires_at)`,
		`CREATE TABLE IF NOT EXISTS records (
			token_id   TEXT NOT NULL,
			seq        BIGINT NOT NULL,
			id         TEXT NOT NULL UNIQUE,
			presenter  TEXT NOT NULL DEFAULT '',
			valid      INTEGER NOT NULL,
			created_at BIGINT NOT NULL,
			body       TEXT NOT NULL,
			PRIMARY KEY (token_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS records_presenter ON records (token_id, presenter, valid)`,
		`CREATE TABLE IF NOT EXISTS requests (
			id               TEXT PRIMARY KEY,
			token_id         TEXT NOT NULL UNIQUE,
			organization_id  TEXT NOT NULL,
			session_id       TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL,
			expires_at       BIGINT NOT NULL,
			reminder_count   INTEGER NOT NULL DEFAULT 0,
			max_reminders    INTEGER NOT NULL DEFAULT 0,
			part             INTEGER NOT NULL DEFAULT 0,
			body             TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS requests_status ON requests (status, expires_at)`,
		`CREATE INDEX IF NOT EXISTS requests_session ON requests (session_id)`,
		`CREATE TABLE IF NOT EXISTS attendance_sessions (
			id              TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			status          TEXT NOT NULL,
			body            TEXT NOT NULL
		)`,
	},
	{
		`CREATE TABLE IF NOT EXISTS entities (
			entity_type     TEXT NOT NULL,
			entity_id       TEXT NOT NULL,
			organization_id TEXT NOT NULL,
			name            TEXT NOT NULL DEFAULT '',
			address         TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (organization_id, entity_type, entity_id)
		)`,
		`CREATE TABLE IF NOT EXISTS enrollments (
			organization_id TEXT NOT NULL,
			target_type     TEXT NOT NULL,
			target_id       TEXT NOT NULL,
			entity_type     TEXT NOT NULL,
			entity_id       TEXT NOT NULL,
			PRIMARY KEY (organization_id, target_type, target_id, entity_type, entity_id)
		)`,
		`CREATE TABLE IF NOT EXISTS audit_log (
			id              TEXT PRIMARY KEY,
			action          TEXT NOT NULL,
			outcome         TEXT NOT NULL,
			code            TEXT NOT NULL DEFAULT '',
			organization_id TEXT NOT NULL DEFAULT '',
			token_id        TEXT NOT NULL DEFAULT '',
			kind            TEXT NOT NULL DEFAULT '',
			actor           TEXT NOT NULL DEFAULT '',
			client_ip       TEXT NOT NULL DEFAULT '',
			detail          TEXT NOT NULL DEFAULT '',
			created_at      BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS audit_log_token ON audit_log (token_id, created_at)`,
	},
	{
		`ALTER TABLE requests ADD COLUMN next_reminder_at BIGINT NOT NULL DEFAULT 0`,
		`CREATE INDEX IF NOT EXISTS requests_reminder ON requests (status, next_reminder_at)`,
	},
}

// backfills run after the statements of the version they are keyed by.
var backfills = map[int]func(s *Store, ctx context.Context, tx *sql.Tx) error{
	3: (*Store).backfillNextReminder,
}

// migrate brings the schema to the latest version.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to init schema_version table: %w", err)
	}

	var current int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	for v := current; v < len(migrations); v++ {
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range migrations[v] {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("migration %d: %w", v+1, err)
				}
			}
			if fill := backfills[v+1]; fill != nil {
				if err := fill(s, ctx, tx); err != nil {
					return fmt.Errorf("migration %d backfill: %w", v+1, err)
				}
			}
			_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO schema_version (version) VALUES (?)`), v+1)
			return err
		})
		if err != nil {
			return err
		}
		s.logger.Info("schema migrated", "version", v+1)
	}
	return nil
}

// backfillNextReminder computes next_reminder_at for pending requests stored
// before the column existed.
func (s *Store) backfillNextReminder(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, s.rebind(`SELECT body FROM requests WHERE status = ?`), string(domain.RequestPending))
	if err != nil {
		return err
	}
	var pending []*domain.Request
	err = scanBodies(rows, func(body string) error {
		r, err := decodeRequest(body)
		if err != nil {
			return err
		}
		pending = append(pending, r)
		return nil
	})
	if err != nil {
		return err
	}
	for _, r := range pending {
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE requests SET next_reminder_at = ? WHERE id = ?`),
			r.NextReminderAt(), r.ID); err != nil {
			return err
		}
	}
	return nil
}
