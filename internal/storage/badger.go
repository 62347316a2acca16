package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
)

// Key layout. IDs are ULID based, so a prefix scan returns rows in
// creation order.
const (
	pfxToken      = "t/"  // t/{token_id} -> tokenRow
	pfxHash       = "h/"  // h/{value_hash} -> token_id
	pfxOrgToken   = "o/"  // o/{org}/{token_id} -> empty
	pfxRecord     = "r/"  // r/{token_id}/{seq:020d} -> Record
	pfxRecordSeq  = "rs/" // rs/{token_id} -> uint64 last sequence
	pfxRequest    = "q/"  // q/{request_id} -> Request
	pfxReqByToken = "qt/" // qt/{token_id} -> request_id
	pfxSessionReq = "sq/" // sq/{session_id}/{request_id} -> empty
	pfxSession    = "s/"  // s/{session_id} -> AttendanceSession
)

// tokenRow persists the fields Token keeps out of its JSON form.
type tokenRow struct {
	*domain.Token
	ValueHash   string `json:"value_hash"`
	SealedValue []byte `json:"sealed_value,omitempty"`
}

// BadgerStore implements service.Store on an embedded Badger database.
// Every conditional update runs in a serializable transaction and is
// retried when it loses a write conflict.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger

	lastGCTime atomic.Int64 // Unix milliseconds
	gcRuns     atomic.Uint64

	metricsLSMSize      prometheus.Gauge
	metricsValueLogSize prometheus.Gauge
	metricsLastGCTime   prometheus.Gauge

	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

var _ service.Store = (*BadgerStore)(nil)

// OpenBadger opens or creates a Badger store.
func OpenBadger(cfg BadgerConfig, logger *slog.Logger) (*BadgerStore, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir).
		WithInMemory(cfg.InMemory).
		WithLogger(&badgerLogger{logger: logger}).
		WithDetectConflicts(true).
		WithSyncWrites(cfg.SyncWrites && !cfg.InMemory)
	if cfg.InMemory {
		opts.Dir, opts.ValueDir = "", ""
	}
	if cfg.CacheSize > 0 {
		opts.BlockCacheSize = cfg.CacheSize
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	if cfg.NumMemtables > 0 {
		opts.NumMemtables = cfg.NumMemtables
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		cfg:    cfg,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go s.gcLoop()

	logger.Info("badger store opened",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"gc_interval", cfg.GCInterval)
	return s, nil
}

// Ping reports whether the database is open.
func (s *BadgerStore) Ping(context.Context) error {
	if s.db.IsClosed() {
		return domain.ErrStoreUnavailable.WithDetails("badger closed")
	}
	return nil
}

// Close stops background GC and closes the database.
func (s *BadgerStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
		if cerr := s.db.Close(); cerr != nil {
			err = fmt.Errorf("close db: %w", cerr)
		}
		s.logger.Info("badger store closed")
	})
	return err
}

// Backup writes a full backup of the database to w.
func (s *BadgerStore) Backup(w io.Writer) (uint64, error) {
	return s.db.Backup(w, 0)
}

// Restore loads a backup stream written by Backup.
func (s *BadgerStore) Restore(r io.Reader) error {
	if err := s.db.Load(r, 256); err != nil {
		return fmt.Errorf("load backup: %w", err)
	}
	return nil
}

// ============================================================================
// Transactions
// ============================================================================

// update runs fn in a read-write transaction. A write conflict means another
// transaction committed, so fn is replayed until it commits or ctx ends.
func (s *BadgerStore) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	conflicts, err := s.cfg.Conflict.Do(ctx, isConflict, func() error { return s.db.Update(fn) })
	if ctxErr := ctx.Err(); ctxErr != nil && isConflictOrCtx(err) {
		s.logger.Warn("badger transaction abandoned", "conflicts", conflicts, "error", ctxErr)
		return domain.ErrStoreUnavailable.WithDetails("transaction conflict unresolved").WithCause(ctxErr)
	}
	return storeErr(err)
}

func isConflict(err error) bool { return errors.Is(err, badger.ErrConflict) }

func isConflictOrCtx(err error) bool {
	return isConflict(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (s *BadgerStore) view(fn func(txn *badger.Txn) error) error {
	return storeErr(s.db.View(fn))
}

// storeErr passes domain errors through and wraps engine failures.
func storeErr(err error) error {
	if err == nil {
		return nil
	}
	var de *domain.DomainError
	if errors.As(err, &de) {
		return err
	}
	return domain.ErrStoreUnavailable.WithCause(err)
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if err != nil {
		return err
	}
	return item.Value(func(b []byte) error { return json.Unmarshal(b, v) })
}

func setJSON(txn *badger.Txn, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set([]byte(key), b)
}

func exists(txn *badger.Txn, key string) (bool, error) {
	_, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// scan calls fn for each key under prefix until fn returns false.
func scan(txn *badger.Txn, prefix string, values bool, fn func(key string, val []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = values
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		var val []byte
		if values {
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			val = v
		}
		more, err := fn(string(item.Key()), val)
		if err != nil {
			return err
		}
		if !more {
			break
		}
	}
	return nil
}

// ============================================================================
// Tokens
// ============================================================================

func getToken(txn *badger.Txn, id string) (*domain.Token, error) {
	row := tokenRow{Token: &domain.Token{}}
	err := getJSON(txn, pfxToken+id, &row)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.token(), nil
}

func decodeToken(b []byte) (*domain.Token, error) {
	row := tokenRow{Token: &domain.Token{}}
	if err := json.Unmarshal(b, &row); err != nil {
		return nil, err
	}
	return row.token(), nil
}

func (r tokenRow) token() *domain.Token {
	r.Token.ValueHash = r.ValueHash
	r.Token.SealedValue = r.SealedValue
	return r.Token
}

func putToken(txn *badger.Txn, t *domain.Token) error {
	return setJSON(txn, pfxToken+t.ID, tokenRow{Token: t, ValueHash: t.ValueHash, SealedValue: t.SealedValue})
}

// CreateToken stores a new token and its optional request.
func (s *BadgerStore) CreateToken(ctx context.Context, t *domain.Token, req *domain.Request) error {
	if req != nil {
		if err := req.Validate(); err != nil {
			return err
		}
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		taken, err := exists(txn, pfxHash+t.ValueHash)
		if err != nil {
			return err
		}
		if taken {
			return domain.ErrTokenHashConflict
		}
		if dup, err := exists(txn, pfxToken+t.ID); err != nil || dup {
			if dup {
				return domain.ErrInternalServer.WithDetails("duplicate token id")
			}
			return err
		}

		if err := putToken(txn, t); err != nil {
			return err
		}
		if err := txn.Set([]byte(pfxHash+t.ValueHash), []byte(t.ID)); err != nil {
			return err
		}
		if err := txn.Set([]byte(pfxOrgToken+t.Scope.OrganizationID+"/"+t.ID), nil); err != nil {
			return err
		}
		if req != nil {
			return putNewRequest(txn, req)
		}
		return nil
	})
}

// GetToken retrieves a token by ID.
func (s *BadgerStore) GetToken(_ context.Context, id string) (*domain.Token, error) {
	var t *domain.Token
	err := s.view(func(txn *badger.Txn) error {
		var err error
		t, err = getToken(txn, id)
		return err
	})
	return t, err
}

// GetTokenByHash retrieves a token by value hash.
func (s *BadgerStore) GetTokenByHash(_ context.Context, hash string) (*domain.Token, error) {
	var t *domain.Token
	err := s.view(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(pfxHash + hash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrTokenNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		t, err = getToken(txn, string(id))
		return err
	})
	return t, err
}

// ListTokens returns tokens matching filter, newest first.
func (s *BadgerStore) ListTokens(_ context.Context, f service.TokenFilter) ([]*domain.Token, error) {
	var out []*domain.Token
	err := s.view(func(txn *badger.Txn) error {
		if f.OrganizationID != "" {
			prefix := pfxOrgToken + f.OrganizationID + "/"
			var ids []string
			if err := scan(txn, prefix, false, func(key string, _ []byte) (bool, error) {
				ids = append(ids, key[len(prefix):])
				return true, nil
			}); err != nil {
				return err
			}
			for _, id := range ids {
				t, err := getToken(txn, id)
				if err != nil {
					return err
				}
				if f.MatchToken(t) {
					out = append(out, t)
				}
			}
			return nil
		}
		return scan(txn, pfxToken, true, func(_ string, val []byte) (bool, error) {
			t, err := decodeToken(val)
			if err != nil {
				return false, err
			}
			if f.MatchToken(t) {
				out = append(out, t)
			}
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ConsumeToken spends one use and appends the record atomically.
func (s *BadgerStore) ConsumeToken(ctx context.Context, p service.ConsumeParams) (*domain.Token, error) {
	var out *domain.Token
	err := s.update(ctx, func(txn *badger.Txn) error {
		t, err := getToken(txn, p.TokenID)
		if err != nil {
			return err
		}
		if err := service.CheckConsumable(t, p.Now); err != nil {
			return err
		}

		var req *domain.Request
		if p.RequestID != "" {
			req, err = getRequest(txn, p.RequestID)
			if errors.Is(err, domain.ErrRequestNotFound) {
				return domain.ErrRequestClosed
			}
			if err != nil {
				return err
			}
			if req.Status != domain.RequestPending {
				return domain.ErrRequestClosed
			}
		}

		if p.UniquePresenter && p.Record != nil && p.Record.Presenter != "" {
			dup := false
			err := scan(txn, recordPrefix(p.TokenID), true, func(_ string, val []byte) (bool, error) {
				var r domain.Record
				if err := json.Unmarshal(val, &r); err != nil {
					return false, err
				}
				dup = r.Valid && r.Presenter == p.Record.Presenter
				return !dup, nil
			})
			if err != nil {
				return err
			}
			if dup {
				return domain.ErrAlreadyCheckedIn
			}
		}

		service.ApplyUse(t, p.Now)
		if err := putToken(txn, t); err != nil {
			return err
		}
		if p.Record != nil {
			if err := appendRecord(txn, p.Record); err != nil {
				return err
			}
		}
		if req != nil {
			req.Status = domain.RequestSigned
			req.ResolvedAt = p.Now.UnixMilli()
			if err := setJSON(txn, pfxRequest+req.ID, req); err != nil {
				return err
			}
		}
		out = t
		return nil
	})
	return out, err
}

// RevokeToken marks a token revoked. Terminal tokens are left unchanged.
func (s *BadgerStore) RevokeToken(ctx context.Context, id string, at time.Time) (*domain.Token, bool, error) {
	var (
		out     *domain.Token
		changed bool
	)
	err := s.update(ctx, func(txn *badger.Txn) error {
		t, err := getToken(txn, id)
		if err != nil {
			return err
		}
		out, changed = t, false
		if t.Status != domain.StatusActive || t.RevokedAt != 0 {
			return nil
		}
		t.Status = domain.StatusRevoked
		t.RevokedAt = at.UnixMilli()
		changed = true
		return putToken(txn, t)
	})
	return out, changed, err
}

// ExpireTokens transitions active tokens past their expiry.
func (s *BadgerStore) ExpireTokens(ctx context.Context, f service.SweepFilter) ([]*domain.Token, error) {
	now := f.Now.UnixMilli()
	var changed []*domain.Token
	err := s.update(ctx, func(txn *badger.Txn) error {
		changed = changed[:0]
		if err := scan(txn, pfxToken, true, func(_ string, val []byte) (bool, error) {
			t, err := decodeToken(val)
			if err != nil {
				return false, err
			}
			if t.Status == domain.StatusActive && t.RevokedAt == 0 && t.ExpiresAt < now && f.InPartition(t.Partition) {
				changed = append(changed, t)
			}
			return f.Limit <= 0 || len(changed) < f.Limit, nil
		}); err != nil {
			return err
		}
		for _, t := range changed {
			t.Status = domain.StatusExpired
			if err := putToken(txn, t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// ============================================================================
// Records
// ============================================================================

func recordPrefix(tokenID string) string {
	return pfxRecord + tokenID + "/"
}

// appendRecord assigns the next sequence of the token and stores r.
func appendRecord(txn *badger.Txn, r *domain.Record) error {
	var seq uint64
	item, err := txn.Get([]byte(pfxRecordSeq + r.TokenID))
	switch {
	case err == nil:
		b, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		seq = binary.BigEndian.Uint64(b)
	case !errors.Is(err, badger.ErrKeyNotFound):
		return err
	}
	seq++

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	if err := txn.Set([]byte(pfxRecordSeq+r.TokenID), buf[:]); err != nil {
		return err
	}
	r.Sequence = int64(seq)
	return setJSON(txn, fmt.Sprintf("%s%020d", recordPrefix(r.TokenID), seq), r)
}

// AppendRecord stores a rejected attempt.
func (s *BadgerStore) AppendRecord(ctx context.Context, r *domain.Record) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		ok, err := exists(txn, pfxToken+r.TokenID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrTokenNotFound
		}
		return appendRecord(txn, r)
	})
}

// ListRecords returns the records of a token by sequence.
func (s *BadgerStore) ListRecords(_ context.Context, tokenID string) ([]*domain.Record, error) {
	out := []*domain.Record{}
	err := s.view(func(txn *badger.Txn) error {
		return scan(txn, recordPrefix(tokenID), true, func(_ string, val []byte) (bool, error) {
			r := &domain.Record{}
			if err := json.Unmarshal(val, r); err != nil {
				return false, err
			}
			out = append(out, r)
			return true, nil
		})
	})
	return out, err
}

// ============================================================================
// Requests
// ============================================================================

func getRequest(txn *badger.Txn, id string) (*domain.Request, error) {
	r := &domain.Request{}
	err := getJSON(txn, pfxRequest+id, r)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrRequestNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func putNewRequest(txn *badger.Txn, r *domain.Request) error {
	if dup, err := exists(txn, pfxRequest+r.ID); err != nil || dup {
		if dup {
			return domain.ErrInternalServer.WithDetails("duplicate request id")
		}
		return err
	}
	if err := setJSON(txn, pfxRequest+r.ID, r); err != nil {
		return err
	}
	if err := txn.Set([]byte(pfxReqByToken+r.TokenID), []byte(r.ID)); err != nil {
		return err
	}
	if r.SessionID != "" {
		return txn.Set([]byte(pfxSessionReq+r.SessionID+"/"+r.ID), nil)
	}
	return nil
}

// CreateRequest stores a request.
func (s *BadgerStore) CreateRequest(ctx context.Context, r *domain.Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		return putNewRequest(txn, r)
	})
}

// GetRequest retrieves a request by ID.
func (s *BadgerStore) GetRequest(_ context.Context, id string) (*domain.Request, error) {
	var r *domain.Request
	err := s.view(func(txn *badger.Txn) error {
		var err error
		r, err = getRequest(txn, id)
		return err
	})
	return r, err
}

// GetRequestByToken retrieves the request bound to a token.
func (s *BadgerStore) GetRequestByToken(_ context.Context, tokenID string) (*domain.Request, error) {
	var r *domain.Request
	err := s.view(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(pfxReqByToken + tokenID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.ErrRequestNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		r, err = getRequest(txn, string(id))
		return err
	})
	return r, err
}

// ListRequests returns requests matching filter, newest first.
func (s *BadgerStore) ListRequests(_ context.Context, f service.RequestFilter) ([]*domain.Request, error) {
	var out []*domain.Request
	err := s.view(func(txn *badger.Txn) error {
		if f.SessionID != "" {
			prefix := pfxSessionReq + f.SessionID + "/"
			var ids []string
			if err := scan(txn, prefix, false, func(key string, _ []byte) (bool, error) {
				ids = append(ids, key[len(prefix):])
				return true, nil
			}); err != nil {
				return err
			}
			for _, id := range ids {
				r, err := getRequest(txn, id)
				if err != nil {
					return err
				}
				if f.MatchRequest(r) {
					out = append(out, r)
				}
			}
			return nil
		}
		return scan(txn, pfxRequest, true, func(_ string, val []byte) (bool, error) {
			r := &domain.Request{}
			if err := json.Unmarshal(val, r); err != nil {
				return false, err
			}
			if f.MatchRequest(r) {
				out = append(out, r)
			}
			return true, nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ResolveRequest moves a pending request to a terminal status.
func (s *BadgerStore) ResolveRequest(ctx context.Context, id string, to domain.RequestStatus, at time.Time, reason string) (*domain.Request, error) {
	var out *domain.Request
	err := s.update(ctx, func(txn *badger.Txn) error {
		r, err := getRequest(txn, id)
		if err != nil {
			return err
		}
		if r.Status != domain.RequestPending {
			return domain.ErrRequestClosed
		}
		r.Status = to
		r.ResolvedAt = at.UnixMilli()
		if to == domain.RequestDeclined {
			r.DeclineReason = reason
		}
		out = r
		return setJSON(txn, pfxRequest+id, r)
	})
	return out, err
}

// ExpireRequests transitions pending requests past their expiry.
func (s *BadgerStore) ExpireRequests(ctx context.Context, f service.SweepFilter) ([]*domain.Request, error) {
	now := f.Now.UnixMilli()
	var changed []*domain.Request
	err := s.update(ctx, func(txn *badger.Txn) error {
		changed = changed[:0]
		if err := scan(txn, pfxRequest, true, func(_ string, val []byte) (bool, error) {
			r := &domain.Request{}
			if err := json.Unmarshal(val, r); err != nil {
				return false, err
			}
			if r.Status == domain.RequestPending && r.ExpiresAt < now && f.InPartition(r.Partition) {
				changed = append(changed, r)
			}
			return f.Limit <= 0 || len(changed) < f.Limit, nil
		}); err != nil {
			return err
		}
		for _, r := range changed {
			r.Status = domain.RequestExpired
			r.ResolvedAt = now
			if err := setJSON(txn, pfxRequest+r.ID, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// ListReminderDue returns pending requests whose next reminder is due.
func (s *BadgerStore) ListReminderDue(_ context.Context, f service.SweepFilter) ([]*domain.Request, error) {
	var out []*domain.Request
	err := s.view(func(txn *badger.Txn) error {
		return scan(txn, pfxRequest, true, func(_ string, val []byte) (bool, error) {
			r := &domain.Request{}
			if err := json.Unmarshal(val, r); err != nil {
				return false, err
			}
			if f.InPartition(r.Partition) && r.ReminderDue(f.Now) {
				out = append(out, r)
			}
			return f.Limit <= 0 || len(out) < f.Limit, nil
		})
	})
	return out, err
}

// ClaimReminder takes the next reminder slot if the count is unchanged.
func (s *BadgerStore) ClaimReminder(ctx context.Context, id string, expectedCount int, at time.Time) (bool, error) {
	claimed := false
	err := s.update(ctx, func(txn *badger.Txn) error {
		claimed = false
		r, err := getRequest(txn, id)
		if err != nil {
			return err
		}
		if r.Status != domain.RequestPending || r.ReminderCount != expectedCount ||
			r.ReminderCount >= r.MaxReminders || at.UnixMilli() >= r.ExpiresAt {
			return nil
		}
		r.ReminderCount++
		r.LastReminderAt = at.UnixMilli()
		claimed = true
		return setJSON(txn, pfxRequest+id, r)
	})
	return claimed, err
}

// ReleaseReminder gives back a claimed slot.
func (s *BadgerStore) ReleaseReminder(ctx context.Context, id string, claimedCount int, previousAt int64) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		r, err := getRequest(txn, id)
		if err != nil {
			return err
		}
		if r.ReminderCount != claimedCount {
			return nil
		}
		r.ReminderCount--
		r.LastReminderAt = previousAt
		return setJSON(txn, pfxRequest+id, r)
	})
}

// ============================================================================
// Attendance sessions
// ============================================================================

// CreateAttendanceSession stores a session.
func (s *BadgerStore) CreateAttendanceSession(ctx context.Context, sess *domain.AttendanceSession) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		dup, err := exists(txn, pfxSession+sess.ID)
		if err != nil {
			return err
		}
		if dup {
			return domain.ErrSessionState.WithDetails("duplicate session id")
		}
		return setJSON(txn, pfxSession+sess.ID, sess)
	})
}

func getSession(txn *badger.Txn, id string) (*domain.AttendanceSession, error) {
	sess := &domain.AttendanceSession{}
	err := getJSON(txn, pfxSession+id, sess)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// GetAttendanceSession retrieves a session by ID.
func (s *BadgerStore) GetAttendanceSession(_ context.Context, id string) (*domain.AttendanceSession, error) {
	var sess *domain.AttendanceSession
	err := s.view(func(txn *badger.Txn) error {
		var err error
		sess, err = getSession(txn, id)
		return err
	})
	return sess, err
}

// TransitionAttendanceSession moves a session from -> to.
func (s *BadgerStore) TransitionAttendanceSession(ctx context.Context, id string, from, to domain.SessionStatus, at time.Time) (*domain.AttendanceSession, error) {
	var out *domain.AttendanceSession
	err := s.update(ctx, func(txn *badger.Txn) error {
		sess, err := getSession(txn, id)
		if err != nil {
			return err
		}
		if sess.Status != from {
			return domain.ErrSessionState.WithDetails("session is " + string(sess.Status))
		}
		sess.Status = to
		switch to {
		case domain.SessionActive:
			sess.LaunchedAt = at.UnixMilli()
		case domain.SessionClosed, domain.SessionCancelled:
			sess.ClosedAt = at.UnixMilli()
		}
		out = sess
		return setJSON(txn, pfxSession+id, sess)
	})
	return out, err
}

// ============================================================================
// Maintenance
// ============================================================================

// GC rewrites value log files until Badger reports nothing to reclaim.
func (s *BadgerStore) GC(ctx context.Context) (int, error) {
	if s.cfg.InMemory {
		return 0, nil
	}
	threshold := s.cfg.GCThreshold
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.5
	}

	runs := 0
	for ctx.Err() == nil {
		err := s.db.RunValueLogGC(threshold)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			return runs, fmt.Errorf("gc: %w", err)
		}
		runs++
	}

	s.lastGCTime.Store(time.Now().UnixMilli())
	s.gcRuns.Add(uint64(runs))
	if runs > 0 {
		s.logger.Info("badger gc completed", "files_rewritten", runs)
	}
	return runs, nil
}

// Stats returns storage statistics.
func (s *BadgerStore) Stats() KVStats {
	lsm, vlog := s.db.Size()
	return KVStats{
		LSMSize:      uint64(lsm),
		ValueLogSize: uint64(vlog),
		LastGCTime:   s.lastGCTime.Load(),
		GCRuns:       s.gcRuns.Load(),
	}
}

// RegisterMetrics registers Badger size gauges with registry and keeps
// them current until the store is closed.
func (s *BadgerStore) RegisterMetrics(registry prometheus.Registerer) *BadgerStore {
	s.metricsLSMSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "captoken",
		Subsystem: "badger",
		Name:      "lsm_size_bytes",
		Help:      "Badger LSM tree size in bytes",
	})
	s.metricsValueLogSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "captoken",
		Subsystem: "badger",
		Name:      "value_log_size_bytes",
		Help:      "Badger value log size in bytes",
	})
	s.metricsLastGCTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "captoken",
		Subsystem: "badger",
		Name:      "last_gc_timestamp_seconds",
		Help:      "Unix timestamp of the last Badger GC run",
	})
	registry.MustRegister(s.metricsLSMSize, s.metricsValueLogSize, s.metricsLastGCTime)

	go s.metricsUpdateLoop()
	return s
}

func (s *BadgerStore) metricsUpdateLoop() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			st := s.Stats()
			s.metricsLSMSize.Set(float64(st.LSMSize))
			s.metricsValueLogSize.Set(float64(st.ValueLogSize))
			if st.LastGCTime > 0 {
				s.metricsLastGCTime.Set(float64(st.LastGCTime) / 1000.0)
			}
		case <-s.stopCh:
			return
		}
	}
}

func (s *BadgerStore) gcLoop() {
	defer close(s.doneCh)

	interval, err := time.ParseDuration(s.cfg.GCInterval)
	if err != nil || interval <= 0 {
		s.logger.Warn("invalid gc_interval, using default 10m", "value", s.cfg.GCInterval)
		interval = 10 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
			if _, err := s.GC(ctx); err != nil {
				s.logger.Error("auto gc failed", "error", err)
			}
			cancel()
		case <-s.stopCh:
			return
		}
	}
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
