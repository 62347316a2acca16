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

type requestState struct {
	r *domain.Request
}

func decodeRequest(body string) (*domain.Request, error) {
	r := &domain.Request{}
	if err := json.Unmarshal([]byte(body), r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) readRequest(ctx context.Context, q queryer, id string) (*requestState, error) {
	var body string
	err := q.QueryRowContext(ctx, s.rebind(`SELECT body FROM requests WHERE id = ?`+s.lockFor(q)), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	r, err := decodeRequest(body)
	if err != nil {
		return nil, err
	}
	return &requestState{r: r}, nil
}

func (s *Store) insertRequest(ctx context.Context, tx *sql.Tx, r *domain.Request) error {
	body, err := marshal(r)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO requests (id, token_id, organization_id, session_id, status, expires_at,
			reminder_count, max_reminders, next_reminder_at, part, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.ID, r.TokenID, r.OrganizationID, r.SessionID, string(r.Status), r.ExpiresAt,
		r.ReminderCount, r.MaxReminders, r.NextReminderAt(), r.Partition, body)
	if isUniqueViolation(err) {
		return domain.ErrInternalServer.WithDetails("duplicate request")
	}
	return err
}

// saveRequest writes r only while the row is still in status from with
// reminder count fromCount. It returns errRetry otherwise.
func (s *Store) saveRequest(ctx context.Context, tx *sql.Tx, r *domain.Request, from domain.RequestStatus, fromCount int) error {
	body, err := marshal(r)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.rebind(`
		UPDATE requests SET status = ?, reminder_count = ?, next_reminder_at = ?, body = ?
		WHERE id = ? AND status = ? AND reminder_count = ?`),
		string(r.Status), r.ReminderCount, r.NextReminderAt(), body, r.ID, string(from), fromCount)
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

// CreateRequest stores a request.
func (s *Store) CreateRequest(ctx context.Context, r *domain.Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return storeErr(s.inTx(ctx, func(tx *sql.Tx) error {
		return s.insertRequest(ctx, tx, r)
	}))
}

// GetRequest retrieves a request by ID.
func (s *Store) GetRequest(ctx context.Context, id string) (*domain.Request, error) {
	st, err := s.readRequest(ctx, s.db, id)
	if err != nil {
		return nil, storeErr(err)
	}
	return st.r, nil
}

// GetRequestByToken retrieves the request bound to a token.
func (s *Store) GetRequestByToken(ctx context.Context, tokenID string) (*domain.Request, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT body FROM requests WHERE token_id = ?`), tokenID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrRequestNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	r, err := decodeRequest(body)
	return r, storeErr(err)
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]*domain.Request, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, storeErr(err)
	}
	var out []*domain.Request
	err = scanBodies(rows, func(body string) error {
		r, err := decodeRequest(body)
		if err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, storeErr(err)
}

// ListRequests returns requests matching filter, newest first.
func (s *Store) ListRequests(ctx context.Context, f service.RequestFilter) ([]*domain.Request, error) {
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
	add("session_id", f.SessionID)
	add("status", string(f.Status))

	query := `SELECT body FROM requests`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	return s.queryRequests(ctx, query+` ORDER BY id DESC`+limitClause(f.Limit), args...)
}

// ResolveRequest moves a pending request to a terminal status.
func (s *Store) ResolveRequest(ctx context.Context, id string, to domain.RequestStatus, at time.Time, reason string) (*domain.Request, error) {
	var out *domain.Request
	err := s.write(ctx, func(tx *sql.Tx) error {
		st, err := s.readRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		r := st.r
		if r.Status != domain.RequestPending {
			return domain.ErrRequestClosed
		}
		r.Status = to
		r.ResolvedAt = at.UnixMilli()
		if to == domain.RequestDeclined {
			r.DeclineReason = reason
		}
		if err := s.saveRequest(ctx, tx, r, domain.RequestPending, r.ReminderCount); err != nil {
			return err
		}
		out = r
		return nil
	})
	return out, err
}

// ExpireRequests transitions pending requests past their expiry.
func (s *Store) ExpireRequests(ctx context.Context, f service.SweepFilter) ([]*domain.Request, error) {
	now := f.Now.UnixMilli()
	clause, pargs := partitionClause(f)
	args := append([]any{string(domain.RequestPending), now}, pargs...)

	due, err := s.queryRequests(ctx, `SELECT body FROM requests WHERE status = ? AND expires_at < ?`+
		clause+` ORDER BY expires_at`+limitClause(f.Limit), args...)
	if err != nil {
		return nil, err
	}

	changed := make([]*domain.Request, 0, len(due))
	for _, r := range due {
		r.Status = domain.RequestExpired
		r.ResolvedAt = now
		body, err := marshal(r)
		if err != nil {
			return changed, err
		}
		res, err := s.db.ExecContext(ctx, s.rebind(`
			UPDATE requests SET status = ?, next_reminder_at = 0, body = ? WHERE id = ? AND status = ?`),
			string(domain.RequestExpired), body, r.ID, string(domain.RequestPending))
		if err != nil {
			return changed, storeErr(err)
		}
		if ok, err := affected(res); err != nil {
			return changed, storeErr(err)
		} else if ok {
			changed = append(changed, r)
		}
	}
	return changed, nil
}

// ListReminderDue returns pending requests whose next reminder is due,
// earliest first.
func (s *Store) ListReminderDue(ctx context.Context, f service.SweepFilter) ([]*domain.Request, error) {
	now := f.Now.UnixMilli()
	clause, pargs := partitionClause(f)
	args := append([]any{string(domain.RequestPending), now, now}, pargs...)

	return s.queryRequests(ctx, `
		SELECT body FROM requests
		WHERE status = ? AND expires_at > ? AND next_reminder_at > 0 AND next_reminder_at <= ?`+clause+
		` ORDER BY next_reminder_at, id`+limitClause(f.Limit), args...)
}

// ClaimReminder takes the next reminder slot if the count is unchanged.
func (s *Store) ClaimReminder(ctx context.Context, id string, expectedCount int, at time.Time) (bool, error) {
	claimed := false
	err := storeErr(s.inTx(ctx, func(tx *sql.Tx) error {
		st, err := s.readRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		r := st.r
		if r.Status != domain.RequestPending || r.ReminderCount != expectedCount ||
			r.ReminderCount >= r.MaxReminders || at.UnixMilli() >= r.ExpiresAt {
			return nil
		}
		r.ReminderCount++
		r.LastReminderAt = at.UnixMilli()
		err = s.saveRequest(ctx, tx, r, domain.RequestPending, expectedCount)
		if errors.Is(err, errRetry) {
			return nil
		}
		if err != nil {
			return err
		}
		claimed = true
		return nil
	}))
	return claimed, err
}

// ReleaseReminder gives back a claimed slot.
func (s *Store) ReleaseReminder(ctx context.Context, id string, claimedCount int, previousAt int64) error {
	return storeErr(s.inTx(ctx, func(tx *sql.Tx) error {
		st, err := s.readRequest(ctx, tx, id)
		if err != nil {
			return err
		}
		r := st.r
		if r.ReminderCount != claimedCount {
			return nil
		}
		status := r.Status
		r.ReminderCount--
		r.LastReminderAt = previousAt
		err = s.saveRequest(ctx, tx, r, status, claimedCount)
		if errors.Is(err, errRetry) {
			return nil
		}
		return err
	}))
}

// ============================================================================
// Attendance sessions
// ============================================================================

// CreateAttendanceSession stores a session.
func (s *Store) CreateAttendanceSession(ctx context.Context, sess *domain.AttendanceSession) error {
	body, err := marshal(sess)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO attendance_sessions (id, organization_id, status, body) VALUES (?, ?, ?, ?)`),
		sess.ID, sess.OrganizationID, string(sess.Status), body)
	if isUniqueViolation(err) {
		return domain.ErrSessionState.WithDetails("duplicate session id")
	}
	return storeErr(err)
}

// GetAttendanceSession retrieves a session by ID.
func (s *Store) GetAttendanceSession(ctx context.Context, id string) (*domain.AttendanceSession, error) {
	var body string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT body FROM attendance_sessions WHERE id = ?`), id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	sess := &domain.AttendanceSession{}
	if err := json.Unmarshal([]byte(body), sess); err != nil {
		return nil, storeErr(err)
	}
	return sess, nil
}

// TransitionAttendanceSession moves a session from -> to.
func (s *Store) TransitionAttendanceSession(ctx context.Context, id string, from, to domain.SessionStatus, at time.Time) (*domain.AttendanceSession, error) {
	sess, err := s.GetAttendanceSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess.Status != from {
		return nil, domain.ErrSessionState.WithDetails("session is " + string(sess.Status))
	}
	sess.Status = to
	switch to {
	case domain.SessionActive:
		sess.LaunchedAt = at.UnixMilli()
	case domain.SessionClosed, domain.SessionCancelled:
		sess.ClosedAt = at.UnixMilli()
	}
	body, err := marshal(sess)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE attendance_sessions SET status = ?, body = ? WHERE id = ? AND status = ?`),
		string(to), body, id, string(from))
	if err != nil {
		return nil, storeErr(err)
	}
	ok, err := affected(res)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, domain.ErrSessionState.WithDetails("session changed concurrently")
	}
	return sess, nil
}
