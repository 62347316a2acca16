package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
)

// tokenRow persists the fields Token keeps out of its JSON form.
type tokenRow struct {
	*domain.Token
	ValueHash   string `json:"value_hash"`
	SealedValue []byte `json:"sealed_value,omitempty"`
}

func encodeToken(t *domain.Token) (string, error) {
	return marshal(tokenRow{Token: t, ValueHash: t.ValueHash, SealedValue: t.SealedValue})
}

func decodeToken(body string) (*domain.Token, error) {
	row := tokenRow{Token: &domain.Token{}}
	if err := json.Unmarshal([]byte(body), &row); err != nil {
		return nil, err
	}
	row.Token.ValueHash = row.ValueHash
	row.Token.SealedValue = row.SealedValue
	return row.Token, nil
}

// tokenState is a token with the guard columns it was read with.
type tokenState struct {
	t        *domain.Token
	useCount int64
	status   domain.Status
}

func (s *Store) readToken(ctx context.Context, q queryer, where string, arg any) (*tokenState, error) {
	var (
		body     string
		useCount int64
		status   string
	)
	err := q.QueryRowContext(ctx, s.rebind(`SELECT body, use_count, status FROM tokens WHERE `+where+` = ?`+s.lockFor(q)), arg).
		Scan(&body, &useCount, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	t, err := decodeToken(body)
	if err != nil {
		return nil, err
	}
	return &tokenState{t: t, useCount: useCount, status: domain.Status(status)}, nil
}

// saveToken writes t only if the row still carries the guard columns of
// prev. It returns errRetry when another writer got there first.
func (s *Store) saveToken(ctx context.Context, tx *sql.Tx, t *domain.Token, prev *tokenState) error {
	body, err := encodeToken(t)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE tokens SET body = ?, status = ?, use_count = ?
		WHERE id = ? AND use_count = ? AND status = ?`),
		body, string(t.Status), t.UseCount, t.ID, prev.useCount, string(prev.status))
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return errRetry
	}
	return nil
}

// CreateToken stores a new token and its optional request.
func (s *Store) CreateToken(ctx context.Context, t *domain.Token, req *domain.Request) error {
	if req != nil {
		if err := req.Validate(); err != nil {
			return err
		}
	}
	body, err := encodeToken(t)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM tokens WHERE value_hash = ?`), t.ValueHash).Scan(&one)
		if err == nil {
			return domain.ErrTokenHashConflict
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		_, err = tx.ExecContext(ctx, s.rebind(`
			INSERT INTO tokens (id, value_hash, organization_id, kind, subject_id, target_id,
				status, use_count, expires_at, part, body)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			t.ID, t.ValueHash, t.Scope.OrganizationID, string(t.Kind), t.Scope.SubjectID, t.Scope.TargetID,
			string(t.Status), t.UseCount, t.ExpiresAt, t.Partition, body)
		if isUniqueViolation(err) {
			return domain.ErrTokenHashConflict
		}
		if err != nil {
			return err
		}
		if req != nil {
			return s.insertRequest(ctx, tx, req)
		}
		return nil
	})
	return storeErr(err)
}

// GetToken retrieves a token by ID.
func (s *Store) GetToken(ctx context.Context, id string) (*domain.Token, error) {
	st, err := s.readToken(ctx, s.db, "id", id)
	if err != nil {
		return nil, storeErr(err)
	}
	return st.t, nil
}

// GetTokenByHash retrieves a token by value hash.
func (s *Store) GetTokenByHash(ctx context.Context, hash string) (*domain.Token, error) {
	st, err := s.readToken(ctx, s.db, "value_hash", hash)
	if err != nil {
		return nil, storeErr(err)
	}
	return st.t, nil
}

// ListTokens returns tokens matching filter, newest first.
func (s *Store) ListTokens(ctx context.Context, f service.TokenFilter) ([]*domain.Token, error) {
	var (
		conds []string
		args  []any
	)
	add := func(col, val string) {
		if val != "" {
			conds = append(conds, col+" = ?")
			args = append(args, val)
		}
	}
	add("organization_id", f.OrganizationID)
	add("kind", string(f.Kind))
	add("subject_id", f.SubjectID)
	add("target_id", f.TargetID)
	add("status", string(f.Status))

	query := `SELECT body FROM tokens`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id DESC` + limitClause(f.Limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, storeErr(err)
	}
	var out []*domain.Token
	err = scanBodies(rows, func(body string) error {
		t, err := decodeToken(body)
		if err != nil {
			return err
		}
		out = append(out, t)
		return nil
	})
	return out, storeErr(err)
}

// ConsumeToken spends one use and appends the record atomically.
func (s *Store) ConsumeToken(ctx context.Context, p service.ConsumeParams) (*domain.Token, error) {
	var out *domain.Token
	err := s.write(ctx, func(tx *sql.Tx) error {
		st, err := s.readToken(ctx, tx, "id", p.TokenID)
		if err != nil {
			return err
		}
		if err := service.CheckConsumable(st.t, p.Now); err != nil {
			return err
		}

		var req *requestState
		if p.RequestID != "" {
			req, err = s.readRequest(ctx, tx, p.RequestID)
			if errors.Is(err, domain.ErrRequestNotFound) {
				return domain.ErrRequestClosed
			}
			if err != nil {
				return err
			}
			if req.r.Status != domain.RequestPending {
				return domain.ErrRequestClosed
			}
		}

		if p.UniquePresenter && p.Record != nil && p.Record.Presenter != "" {
			var one int
			err := tx.QueryRowContext(ctx, s.rebind(`
				SELECT 1 FROM records WHERE token_id = ? AND presenter = ? AND valid = 1 LIMIT 1`),
				p.TokenID, p.Record.Presenter).Scan(&one)
			if err == nil {
				return domain.ErrAlreadyCheckedIn
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return err
			}
		}

		t := st.t
		service.ApplyUse(t, p.Now)
		if err := s.saveToken(ctx, tx, t, st); err != nil {
			return err
		}
		if p.Record != nil {
			if err := s.appendRecord(ctx, tx, p.Record); err != nil {
				return err
			}
		}
		if req != nil {
			req.r.Status = domain.RequestSigned
			req.r.ResolvedAt = p.Now.UnixMilli()
			if err := s.saveRequest(ctx, tx, req.r, domain.RequestPending, req.r.ReminderCount); err != nil {
				return err
			}
		}
		out = t
		return nil
	})
	return out, err
}

// RevokeToken marks a token revoked. Terminal tokens are left unchanged.
func (s *Store) RevokeToken(ctx context.Context, id string, at time.Time) (*domain.Token, bool, error) {
	var (
		out     *domain.Token
		changed bool
	)
	err := s.write(ctx, func(tx *sql.Tx) error {
		st, err := s.readToken(ctx, tx, "id", id)
		if err != nil {
			return err
		}
		out, changed = st.t, false
		if st.t.Status != domain.StatusActive || st.t.RevokedAt != 0 {
			return nil
		}
		st.t.Status = domain.StatusRevoked
		st.t.RevokedAt = at.UnixMilli()
		if err := s.saveToken(ctx, tx, st.t, st); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return out, changed, err
}

// ExpireTokens transitions active tokens past their expiry. Each row is
// moved by its own guarded update, so concurrent sweepers never report the
// same token twice.
func (s *Store) ExpireTokens(ctx context.Context, f service.SweepFilter) ([]*domain.Token, error) {
	now := f.Now.UnixMilli()
	clause, pargs := partitionClause(f)
	args := append([]any{string(domain.StatusActive), now}, pargs...)

	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT body FROM tokens WHERE status = ? AND expires_at < ?`+clause+
		` ORDER BY expires_at`+limitClause(f.Limit)), args...)
	if err != nil {
		return nil, storeErr(err)
	}
	var due []*domain.Token
	if err := scanBodies(rows, func(body string) error {
		t, err := decodeToken(body)
		if err != nil {
			return err
		}
		due = append(due, t)
		return nil
	}); err != nil {
		return nil, storeErr(err)
	}

	changed := make([]*domain.Token, 0, len(due))
	for _, t := range due {
		if t.RevokedAt != 0 {
			continue
		}
		t.Status = domain.StatusExpired
		body, err := encodeToken(t)
		if err != nil {
			return changed, err
		}
		res, err := s.db.ExecContext(ctx, s.rebind(`
			UPDATE tokens SET status = ?, body = ? WHERE id = ? AND status = ? AND expires_at < ?`),
			string(domain.StatusExpired), body, t.ID, string(domain.StatusActive), now)
		if err != nil {
			return changed, storeErr(err)
		}
		if ok, err := affected(res); err != nil {
			return changed, storeErr(err)
		} else if ok {
			changed = append(changed, t)
		}
	}
	return changed, nil
}

// ============================================================================
// Records
// ============================================================================

// appendRecord takes the next per-token sequence and stores r. The sequence
// bump locks the token row, serializing appends for one token.
func (s *Store) appendRecord(ctx context.Context, tx *sql.Tx, r *domain.Record) error {
	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE tokens SET record_seq = record_seq + 1 WHERE id = ?`), r.TokenID)
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return domain.ErrTokenNotFound
	}
	var seq int64
	if err := tx.QueryRowContext(ctx, s.rebind(`SELECT record_seq FROM tokens WHERE id = ?`), r.TokenID).Scan(&seq); err != nil {
		return err
	}
	r.Sequence = seq

	body, err := marshal(r)
	if err != nil {
		return err
	}
	valid := 0
	if r.Valid {
		valid = 1
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO records (token_id, seq, id, presenter, valid, created_at, body)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		r.TokenID, seq, r.ID, r.Presenter, valid, r.CreatedAt, body)
	return err
}

// AppendRecord stores a rejected attempt.
func (s *Store) AppendRecord(ctx context.Context, r *domain.Record) error {
	return storeErr(s.inTx(ctx, func(tx *sql.Tx) error {
		return s.appendRecord(ctx, tx, r)
	}))
}

// ListRecords returns the records of a token by sequence.
func (s *Store) ListRecords(ctx context.Context, tokenID string) ([]*domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT body FROM records WHERE token_id = ? ORDER BY seq`), tokenID)
	if err != nil {
		return nil, storeErr(err)
	}
	out := []*domain.Record{}
	err = scanBodies(rows, func(body string) error {
		r := &domain.Record{}
		if err := json.Unmarshal([]byte(body), r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, storeErr(err)
}
