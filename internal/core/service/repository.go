package service

import (
	"context"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
)

// TokenRepository stores tokens. Implementations enforce use accounting
// atomically: ConsumeToken is the only way a use is spent.
type TokenRepository interface {
	// CreateToken persists t and, when req is non-nil, its request in the
	// same transaction. A value hash collision returns ErrTokenHashConflict.
	CreateToken(ctx context.Context, t *domain.Token, req *domain.Request) error

	// GetToken returns the token by ID or ErrTokenNotFound.
	GetToken(ctx context.Context, id string) (*domain.Token, error)

	// GetTokenByHash returns the token by value hash or ErrTokenNotFound.
	GetTokenByHash(ctx context.Context, hash string) (*domain.Token, error)

	// ListTokens returns tokens matching filter, newest first.
	ListTokens(ctx context.Context, filter TokenFilter) ([]*domain.Token, error)

	// ConsumeToken spends one use and appends p.Record in one atomic step.
	// When the token is no longer usable at p.Now it returns the state
	// error (AlreadyConsumed, Exhausted, Revoked, Expired). When
	// p.RequestID is set the request moves pending -> signed, or the call
	// fails with ErrRequestClosed and nothing is spent.
	ConsumeToken(ctx context.Context, p ConsumeParams) (*domain.Token, error)

	// RevokeToken marks the token revoked. changed is false when the token
	// already had a terminal status.
	RevokeToken(ctx context.Context, id string, at time.Time) (t *domain.Token, changed bool, err error)

	// ExpireTokens moves active tokens with expires_at < now to expired and
	// returns only the tokens it changed.
	ExpireTokens(ctx context.Context, f SweepFilter) ([]*domain.Token, error)
}

// RecordRepository stores consumption records. Records are append-only.
type RecordRepository interface {
	// AppendRecord stores a rejected attempt without spending a use.
	AppendRecord(ctx context.Context, r *domain.Record) error

	// ListRecords returns the records of a token by sequence.
	ListRecords(ctx context.Context, tokenID string) ([]*domain.Record, error)
}

// RequestRepository stores pending signature requests.
type RequestRepository interface {
	CreateRequest(ctx context.Context, r *domain.Request) error
	GetRequest(ctx context.Context, id string) (*domain.Request, error)
	GetRequestByToken(ctx context.Context, tokenID string) (*domain.Request, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]*domain.Request, error)

	// ResolveRequest moves a pending request to a terminal status. It fails
	// with ErrRequestClosed when the request is no longer pending.
	ResolveRequest(ctx context.Context, id string, to domain.RequestStatus, at time.Time, reason string) (*domain.Request, error)

	// ExpireRequests moves pending requests with expires_at < now to expired
	// and returns only the requests it changed.
	ExpireRequests(ctx context.Context, f SweepFilter) ([]*domain.Request, error)

	// ListReminderDue returns pending requests whose reminder is due at f.Now.
	ListReminderDue(ctx context.Context, f SweepFilter) ([]*domain.Request, error)

	// ClaimReminder increments reminder_count from expectedCount and stamps
	// last_reminder_at, only while the request is pending and under its cap.
	ClaimReminder(ctx context.Context, id string, expectedCount int, at time.Time) (bool, error)

	// ReleaseReminder undoes a claim whose notification could not be sent.
	ReleaseReminder(ctx context.Context, id string, claimedCount int, previousAt int64) error
}

// AttendanceRepository stores attendance sessions.
type AttendanceRepository interface {
	CreateAttendanceSession(ctx context.Context, s *domain.AttendanceSession) error
	GetAttendanceSession(ctx context.Context, id string) (*domain.AttendanceSession, error)

	// TransitionAttendanceSession moves the session from -> to. It fails
	// with ErrSessionState when the session is not in from.
	TransitionAttendanceSession(ctx context.Context, id string, from, to domain.SessionStatus, at time.Time) (*domain.AttendanceSession, error)
}

// Store is the full storage surface used by the services.
type Store interface {
	TokenRepository
	RecordRepository
	RequestRepository
	AttendanceRepository

	// Ping reports whether the store can answer.
	Ping(ctx context.Context) error
	Close() error
}

// ConsumeParams describes one atomic consumption.
type ConsumeParams struct {
	TokenID string
	Now     time.Time
	// Record is appended as a valid record with the next sequence.
	Record *domain.Record
	// RequestID, when set, is resolved pending -> signed.
	RequestID string
	// UniquePresenter rejects a second valid record by the same presenter
	// with ErrAlreadyCheckedIn.
	UniquePresenter bool
}

// TokenFilter selects tokens for listing.
type TokenFilter struct {
	OrganizationID string
	Kind           domain.Kind
	SubjectID      string
	TargetID       string
	Status         domain.Status
	Limit          int
}

// RequestFilter selects requests for listing.
type RequestFilter struct {
	OrganizationID string
	SessionID      string
	Status         domain.RequestStatus
	Limit          int
}

// SweepFilter bounds one sweep step.
type SweepFilter struct {
	Now time.Time
	// Partitions restricts the step to these partitions. Nil means all.
	Partitions []int
	// Limit caps the rows handled per step. Zero means no cap.
	Limit int
}

// InPartition reports whether p is selected by f.
func (f SweepFilter) InPartition(p int) bool {
	if f.Partitions == nil {
		return true
	}
	for _, x := range f.Partitions {
		if x == p {
			return true
		}
	}
	return false
}

// MatchToken reports whether t matches f.
func (f TokenFilter) MatchToken(t *domain.Token) bool {
	switch {
	case f.OrganizationID != "" && t.Scope.OrganizationID != f.OrganizationID:
		return false
	case f.Kind != "" && t.Kind != f.Kind:
		return false
	case f.SubjectID != "" && t.Scope.SubjectID != f.SubjectID:
		return false
	case f.TargetID != "" && t.Scope.TargetID != f.TargetID:
		return false
	case f.Status != "" && t.Status != f.Status:
		return false
	}
	return true
}

// MatchRequest reports whether r matches f.
func (f RequestFilter) MatchRequest(r *domain.Request) bool {
	switch {
	case f.OrganizationID != "" && r.OrganizationID != f.OrganizationID:
		return false
	case f.SessionID != "" && r.SessionID != f.SessionID:
		return false
	case f.Status != "" && r.Status != f.Status:
		return false
	}
	return true
}

// CheckConsumable evaluates the conditional-update predicate of
// ConsumeToken against a snapshot. Stores that cannot express the predicate
// in a single statement call it inside their transaction.
func CheckConsumable(t *domain.Token, now time.Time) error {
	if s := t.State(now); s != domain.StatusActive {
		return domain.StateError(s)
	}
	return nil
}

// ApplyUse mutates t to account for one use at now.
func ApplyUse(t *domain.Token, now time.Time) {
	t.Status = t.StatusAfterUse()
	t.UseCount++
	t.LastUsedAt = now.UnixMilli()
	if t.OneShot {
		t.Consumed = true
	}
}
