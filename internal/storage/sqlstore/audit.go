package sqlstore

import (
	"context"
	"database/sql"

	"github.com/yndnr/captoken-go/internal/core/domain"
)

// AuditWriter appends audit entries to the audit_log table.
type AuditWriter struct {
	s *Store
}

// AuditWriter returns an audit writer sharing this store's connection.
func (s *Store) AuditWriter() *AuditWriter {
	return &AuditWriter{s: s}
}

// Write stores a batch of entries in one transaction.
func (w *AuditWriter) Write(ctx context.Context, entries []*domain.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	query := w.s.rebind(`
		INSERT INTO audit_log (id, action, outcome, code, organization_id, token_id, kind,
			actor, client_ip, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	return storeErr(w.s.inTx(ctx, func(tx *sql.Tx) error {
		for _, e := range entries {
			_, err := tx.ExecContext(ctx, query,
				e.ID, e.Action, string(e.Outcome), e.Code, e.OrganizationID, e.TokenID, string(e.Kind),
				e.Actor, e.ClientIP, e.Detail, e.CreatedAt)
			if err != nil {
				return err
			}
		}
		return nil
	}))
}

// List returns the audit entries of a token, oldest first.
func (w *AuditWriter) List(ctx context.Context, tokenID string) ([]*domain.AuditEntry, error) {
	rows, err := w.s.db.QueryContext(ctx, w.s.rebind(`
		SELECT id, action, outcome, code, organization_id, token_id, kind, actor, client_ip, detail, created_at
		FROM audit_log WHERE token_id = ? ORDER BY created_at, id`), tokenID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var out []*domain.AuditEntry
	for rows.Next() {
		var (
			e       domain.AuditEntry
			outcome string
			kind    string
		)
		if err := rows.Scan(&e.ID, &e.Action, &outcome, &e.Code, &e.OrganizationID, &e.TokenID, &kind,
			&e.Actor, &e.ClientIP, &e.Detail, &e.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		e.Outcome = domain.AuditOutcome(outcome)
		e.Kind = domain.Kind(kind)
		out = append(out, &e)
	}
	return out, storeErr(rows.Err())
}
