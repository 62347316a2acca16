package service

import (
	"context"
	"errors"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/telemetry/logger"
)

// AttendanceService runs electronic attendance campaigns: one attendance
// signature token per enrolled attendee of a class session.
type AttendanceService struct {
	tokens *TokenService
	store  Store
}

// NewAttendanceService creates an AttendanceService.
func NewAttendanceService(tokens *TokenService) *AttendanceService {
	return &AttendanceService{tokens: tokens, store: tokens.store}
}

// CreateSessionRequest contains parameters for a new attendance session.
type CreateSessionRequest struct {
	OrganizationID string
	TargetType     string
	TargetID       string
	Title          string
	Anchor         domain.ProximityAnchor
	// TokenTTL defaults to the attendance signature kind TTL.
	TokenTTL  time.Duration
	CreatedBy string
}

// CreateSession creates a draft session.
func (a *AttendanceService) CreateSession(ctx context.Context, req *CreateSessionRequest) (*domain.AttendanceSession, error) {
	ttl := req.TokenTTL
	if ttl <= 0 {
		ttl = a.tokens.cfg.Kinds[domain.KindAttendanceSignature].TTL
	}
	sess, err := domain.NewAttendanceSession(req.OrganizationID, req.TargetType, req.TargetID, req.Anchor, ttl, a.tokens.clock.Now())
	if err != nil {
		return nil, err
	}
	sess.Title = req.Title
	sess.CreatedBy = req.CreatedBy
	if err := sess.Validate(); err != nil {
		return nil, err
	}

	if d := a.tokens.directory; d != nil {
		if _, err := d.Lookup(ctx, sess.OrganizationID, sess.TargetType, sess.TargetID); err != nil {
			return nil, scopeError(err, "unknown target "+sess.TargetType+"/"+sess.TargetID)
		}
	}

	if err := a.store.CreateAttendanceSession(ctx, sess); err != nil {
		return nil, err
	}
	logger.L(ctx).Info("attendance session created", "session_id", sess.ID, "target_id", sess.TargetID)
	return sess, nil
}

// GetSession returns a session. orgID, when set, must own it.
func (a *AttendanceService) GetSession(ctx context.Context, id, orgID string) (*domain.AttendanceSession, error) {
	sess, err := a.store.GetAttendanceSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if orgID != "" && sess.OrganizationID != orgID {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

// LaunchResult is the outcome of launching a session.
type LaunchResult struct {
	Session *domain.AttendanceSession `json:"session"`
	Items   []BulkIssueItem           `json:"items"`
}

// LaunchSession activates a draft session and issues one attendance
// signature per enrolled attendee. Issuance is per attendee: failures are
// reported in the items without undoing the launch.
func (a *AttendanceService) LaunchSession(ctx context.Context, id, orgID, actor string) (*LaunchResult, error) {
	sess, err := a.GetSession(ctx, id, orgID)
	if err != nil {
		return nil, err
	}
	if !sess.CanTransition(domain.SessionActive) {
		return nil, domain.ErrSessionState.WithDetails("cannot launch a " + string(sess.Status) + " session")
	}
	if a.tokens.directory == nil {
		return nil, domain.ErrDirectoryUnavailable.WithDetails("enrollment requires a directory")
	}
	sess, err = a.store.TransitionAttendanceSession(ctx, id, domain.SessionDraft, domain.SessionActive, a.tokens.clock.Now())
	if err != nil {
		return nil, err
	}

	policy := a.tokens.cfg.Kinds[domain.KindAttendanceSignature].Policy()
	policy.TTL = time.Duration(sess.TokenTTL) * time.Millisecond
	if policy.IdentityMode == "" {
		policy.IdentityMode = domain.IdentityAnonymous
	}

	anchor := sess.Anchor.Clone()
	items, err := a.tokens.IssueBulk(ctx, &BulkIssueRequest{
		Template: IssueRequest{
			Kind: domain.KindAttendanceSignature,
			Scope: domain.Scope{
				OrganizationID: sess.OrganizationID,
				SubjectType:    domain.EntityStudent,
				TargetType:     sess.TargetType,
				TargetID:       sess.TargetID,
			},
			Policy:    &policy,
			Anchor:    anchor,
			SessionID: sess.ID,
			IssuedBy:  actor,
		},
	})
	if err != nil {
		logger.L(ctx).Error("attendance launch issuance failed", "session_id", sess.ID, "error", err)
		return &LaunchResult{Session: sess, Items: items}, err
	}

	a.audit(ctx, sess, "launch")
	return &LaunchResult{Session: sess, Items: items}, nil
}

// CloseSession ends an active session: outstanding requests are expired
// and their tokens revoked.
func (a *AttendanceService) CloseSession(ctx context.Context, id, orgID string) (*domain.AttendanceSession, error) {
	return a.finish(ctx, id, orgID, domain.SessionClosed, domain.RequestExpired)
}

// CancelSession abandons a draft or active session. Outstanding requests
// are cancelled.
func (a *AttendanceService) CancelSession(ctx context.Context, id, orgID string) (*domain.AttendanceSession, error) {
	return a.finish(ctx, id, orgID, domain.SessionCancelled, domain.RequestCancelled)
}

func (a *AttendanceService) finish(ctx context.Context, id, orgID string, to domain.SessionStatus, requestTo domain.RequestStatus) (*domain.AttendanceSession, error) {
	sess, err := a.GetSession(ctx, id, orgID)
	if err != nil {
		return nil, err
	}
	if !sess.CanTransition(to) {
		return nil, domain.ErrSessionState.WithDetails("cannot move a " + string(sess.Status) + " session to " + string(to))
	}

	now := a.tokens.clock.Now()
	sess, err = a.store.TransitionAttendanceSession(ctx, id, sess.Status, to, now)
	if err != nil {
		return nil, err
	}

	pending, err := a.store.ListRequests(ctx, RequestFilter{
		OrganizationID: sess.OrganizationID,
		SessionID:      sess.ID,
		Status:         domain.RequestPending,
	})
	if err != nil {
		return sess, err
	}
	closed := 0
	for _, r := range pending {
		if _, err := a.store.ResolveRequest(ctx, r.ID, requestTo, now, "session "+string(to)); err != nil {
			if !errors.Is(err, domain.ErrRequestClosed) {
				logger.L(ctx).Warn("request not closed", "request_id", r.ID, "error", err)
			}
			continue
		}
		a.tokens.revokeQuietly(ctx, r.TokenID, now)
		closed++
	}

	a.audit(ctx, sess, string(to))
	logger.L(ctx).Info("attendance session finished",
		"session_id", sess.ID,
		"status", sess.Status,
		"requests_closed", closed,
	)
	return sess, nil
}

func (a *AttendanceService) audit(ctx context.Context, sess *domain.AttendanceSession, op string) {
	e := domain.NewAuditEntry(domain.AuditSessionOp, nil, nil, a.tokens.clock.Now())
	e.OrganizationID = sess.OrganizationID
	e.Kind = domain.KindAttendanceSignature
	e.Actor = logger.ActorFromContext(ctx)
	e.Detail = sess.ID + " " + op
	a.tokens.audit.Record(e)
}
