package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/pkg/cmap"
)

// Store provides in-memory token storage with multiple indexes.
type Store struct {
	// Primary indexes
	tokens   *cmap.Map[*domain.Token]
	requests *cmap.Map[*domain.Request]
	sessions *cmap.Map[*domain.AttendanceSession]

	// Secondary indexes
	hashes         *cmap.Map[string] // value hash -> token ID
	requestByToken *cmap.Map[string] // token ID -> request ID
	orgTokens      *Index            // organization -> token IDs
	sessionReqs    *Index            // attendance session -> request IDs

	// records is append-only per token, guarded by mu.
	records map[string][]*domain.Record

	// Global lock for operations requiring atomicity across indexes
	mu sync.RWMutex
}

var _ service.Store = (*Store)(nil)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		tokens:         cmap.New[*domain.Token](),
		requests:       cmap.New[*domain.Request](),
		sessions:       cmap.New[*domain.AttendanceSession](),
		hashes:         cmap.New[string](),
		requestByToken: cmap.New[string](),
		orgTokens:      NewIndex(),
		sessionReqs:    NewIndex(),
		records:        make(map[string][]*domain.Record),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ============================================================================
// Tokens
// ============================================================================

// CreateToken stores a new token and its optional request.
func (s *Store) CreateToken(_ context.Context, t *domain.Token, req *domain.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hashes.Has(t.ValueHash) {
		return domain.ErrTokenHashConflict
	}
	if s.tokens.Has(t.ID) {
		return domain.ErrInternalServer.WithDetails("duplicate token id")
	}

	s.tokens.Set(t.ID, t.Clone())
	s.hashes.Set(t.ValueHash, t.ID)
	s.orgTokens.Add(t.Scope.OrganizationID, t.ID)

	if req != nil {
		s.putRequest(req.Clone())
	}
	return nil
}

// GetToken retrieves a token by ID.
func (s *Store) GetToken(_ context.Context, id string) (*domain.Token, error) {
	t, ok := s.tokens.Get(id)
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	return t.Clone(), nil
}

// GetTokenByHash retrieves a token by value hash.
func (s *Store) GetTokenByHash(ctx context.Context, hash string) (*domain.Token, error) {
	id, ok := s.hashes.Get(hash)
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	return s.GetToken(ctx, id)
}

// ListTokens returns tokens matching filter, newest first.
func (s *Store) ListTokens(_ context.Context, f service.TokenFilter) ([]*domain.Token, error) {
	var out []*domain.Token
	collect := func(t *domain.Token) {
		if f.MatchToken(t) {
			out = append(out, t.Clone())
		}
	}

	if f.OrganizationID != "" {
		for _, id := range s.orgTokens.Get(f.OrganizationID) {
			if t, ok := s.tokens.Get(id); ok {
				collect(t)
			}
		}
	} else {
		s.tokens.Range(func(_ string, t *domain.Token) bool {
			collect(t)
			return true
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ConsumeToken spends one use and appends the record atomically.
func (s *Store) ConsumeToken(_ context.Context, p service.ConsumeParams) (*domain.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tokens.Get(p.TokenID)
	if !ok {
		return nil, domain.ErrTokenNotFound
	}
	if err := service.CheckConsumable(cur, p.Now); err != nil {
		return nil, err
	}

	var req *domain.Request
	if p.RequestID != "" {
		r, ok := s.requests.Get(p.RequestID)
		if !ok || r.Status != domain.RequestPending {
			return nil, domain.ErrRequestClosed
		}
		req = r.Clone()
	}

	if p.UniquePresenter && p.Record != nil && p.Record.Presenter != "" {
		for _, r := range s.records[p.TokenID] {
			if r.Valid && r.Presenter == p.Record.Presenter {
				return nil, domain.ErrAlreadyCheckedIn
			}
		}
	}

	next := cur.Clone()
	service.ApplyUse(next, p.Now)
	s.tokens.Set(next.ID, next)

	if p.Record != nil {
		s.appendLocked(p.Record)
	}
	if req != nil {
		req.Status = domain.RequestSigned
		req.ResolvedAt = p.Now.UnixMilli()
		s.requests.Set(req.ID, req)
	}
	return next.Clone(), nil
}

// RevokeToken marks a token revoked. Terminal tokens are left unchanged.
func (s *Store) RevokeToken(_ context.Context, id string, at time.Time) (*domain.Token, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.tokens.Get(id)
	if !ok {
		return nil, false, domain.ErrTokenNotFound
	}
	if cur.Status != domain.StatusActive || cur.RevokedAt != 0 {
		return cur.Clone(), false, nil
	}

	next := cur.Clone()
	next.Status = domain.StatusRevoked
	next.RevokedAt = at.UnixMilli()
	s.tokens.Set(id, next)
	return next.Clone(), true, nil
}

// ExpireTokens transitions active tokens past their expiry.
func (s *Store) ExpireTokens(_ context.Context, f service.SweepFilter) ([]*domain.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := f.Now.UnixMilli()
	var due []*domain.Token
	s.tokens.Range(func(_ string, t *domain.Token) bool {
		if t.Status == domain.StatusActive && t.RevokedAt == 0 && t.ExpiresAt < now && f.InPartition(t.Partition) {
			due = append(due, t)
		}
		return f.Limit <= 0 || len(due) < f.Limit
	})

	changed := make([]*domain.Token, 0, len(due))
	for _, t := range due {
		next := t.Clone()
		next.Status = domain.StatusExpired
		s.tokens.Set(next.ID, next)
		changed = append(changed, next.Clone())
	}
	return changed, nil
}

// ============================================================================
// Records
// ============================================================================

// AppendRecord stores a rejected attempt.
func (s *Store) AppendRecord(_ context.Context, r *domain.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tokens.Has(r.TokenID) {
		return domain.ErrTokenNotFound
	}
	s.appendLocked(r)
	return nil
}

func (s *Store) appendLocked(r *domain.Record) {
	r.Sequence = int64(len(s.records[r.TokenID]) + 1)
	s.records[r.TokenID] = append(s.records[r.TokenID], r.Clone())
}

// ListRecords returns the records of a token by sequence.
func (s *Store) ListRecords(_ context.Context, tokenID string) ([]*domain.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	recs := s.records[tokenID]
	out := make([]*domain.Record, len(recs))
	for i, r := range recs {
		out[i] = r.Clone()
	}
	return out, nil
}

// ============================================================================
// Requests
// ============================================================================

func (s *Store) putRequest(r *domain.Request) {
	s.requests.Set(r.ID, r)
	s.requestByToken.Set(r.TokenID, r.ID)
	s.sessionReqs.Add(r.SessionID, r.ID)
}

// CreateRequest stores a request.
func (s *Store) CreateRequest(_ context.Context, r *domain.Request) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.requests.Has(r.ID) {
		return domain.ErrInternalServer.WithDetails("duplicate request id")
	}
	s.putRequest(r.Clone())
	return nil
}

// GetRequest retrieves a request by ID.
func (s *Store) GetRequest(_ context.Context, id string) (*domain.Request, error) {
	r, ok := s.requests.Get(id)
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	return r.Clone(), nil
}

// GetRequestByToken retrieves the request bound to a token.
func (s *Store) GetRequestByToken(ctx context.Context, tokenID string) (*domain.Request, error) {
	id, ok := s.requestByToken.Get(tokenID)
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	return s.GetRequest(ctx, id)
}

// ListRequests returns requests matching filter, newest first.
func (s *Store) ListRequests(_ context.Context, f service.RequestFilter) ([]*domain.Request, error) {
	var out []*domain.Request
	if f.SessionID != "" {
		for _, id := range s.sessionReqs.Get(f.SessionID) {
			if r, ok := s.requests.Get(id); ok && f.MatchRequest(r) {
				out = append(out, r.Clone())
			}
		}
	} else {
		s.requests.Range(func(_ string, r *domain.Request) bool {
			if f.MatchRequest(r) {
				out = append(out, r.Clone())
			}
			return true
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ResolveRequest moves a pending request to a terminal status.
func (s *Store) ResolveRequest(_ context.Context, id string, to domain.RequestStatus, at time.Time, reason string) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.requests.Get(id)
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	if cur.Status != domain.RequestPending {
		return nil, domain.ErrRequestClosed
	}
	next := cur.Clone()
	next.Status = to
	next.ResolvedAt = at.UnixMilli()
	if to == domain.RequestDeclined {
		next.DeclineReason = reason
	}
	s.requests.Set(id, next)
	return next.Clone(), nil
}

// ExpireRequests transitions pending requests past their expiry.
func (s *Store) ExpireRequests(_ context.Context, f service.SweepFilter) ([]*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := f.Now.UnixMilli()
	var due []*domain.Request
	s.requests.Range(func(_ string, r *domain.Request) bool {
		if r.Status == domain.RequestPending && r.ExpiresAt < now && f.InPartition(r.Partition) {
			due = append(due, r)
		}
		return f.Limit <= 0 || len(due) < f.Limit
	})

	changed := make([]*domain.Request, 0, len(due))
	for _, r := range due {
		next := r.Clone()
		next.Status = domain.RequestExpired
		next.ResolvedAt = now
		s.requests.Set(next.ID, next)
		changed = append(changed, next.Clone())
	}
	return changed, nil
}

// ListReminderDue returns pending requests whose next reminder is due.
func (s *Store) ListReminderDue(_ context.Context, f service.SweepFilter) ([]*domain.Request, error) {
	var out []*domain.Request
	s.requests.Range(func(_ string, r *domain.Request) bool {
		if f.InPartition(r.Partition) && r.ReminderDue(f.Now) {
			out = append(out, r.Clone())
		}
		return f.Limit <= 0 || len(out) < f.Limit
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ClaimReminder takes the next reminder slot if the count is unchanged.
func (s *Store) ClaimReminder(_ context.Context, id string, expectedCount int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.requests.Get(id)
	if !ok {
		return false, domain.ErrRequestNotFound
	}
	if cur.Status != domain.RequestPending || cur.ReminderCount != expectedCount ||
		cur.ReminderCount >= cur.MaxReminders || at.UnixMilli() >= cur.ExpiresAt {
		return false, nil
	}
	next := cur.Clone()
	next.ReminderCount++
	next.LastReminderAt = at.UnixMilli()
	s.requests.Set(id, next)
	return true, nil
}

// ReleaseReminder gives back a claimed slot.
func (s *Store) ReleaseReminder(_ context.Context, id string, claimedCount int, previousAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.requests.Get(id)
	if !ok {
		return domain.ErrRequestNotFound
	}
	if cur.ReminderCount != claimedCount {
		return nil
	}
	next := cur.Clone()
	next.ReminderCount--
	next.LastReminderAt = previousAt
	s.requests.Set(id, next)
	return nil
}

// ============================================================================
// Attendance sessions
// ============================================================================

// CreateAttendanceSession stores a session.
func (s *Store) CreateAttendanceSession(_ context.Context, sess *domain.AttendanceSession) error {
	if !s.sessions.SetIfAbsent(sess.ID, sess.Clone()) {
		return domain.ErrSessionState.WithDetails("duplicate session id")
	}
	return nil
}

// GetAttendanceSession retrieves a session by ID.
func (s *Store) GetAttendanceSession(_ context.Context, id string) (*domain.AttendanceSession, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// TransitionAttendanceSession moves a session from -> to.
func (s *Store) TransitionAttendanceSession(_ context.Context, id string, from, to domain.SessionStatus, at time.Time) (*domain.AttendanceSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions.Get(id)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if cur.Status != from {
		return nil, domain.ErrSessionState.WithDetails("session is " + string(cur.Status))
	}
	next := cur.Clone()
	next.Status = to
	switch to {
	case domain.SessionActive:
		next.LaunchedAt = at.UnixMilli()
	case domain.SessionClosed, domain.SessionCancelled:
		next.ClosedAt = at.UnixMilli()
	}
	s.sessions.Set(id, next)
	return next.Clone(), nil
}
