package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/telemetry/logger"
)

// IssueRequest contains parameters for issuing a token.
type IssueRequest struct {
	Kind  domain.Kind
	Scope domain.Scope

	// Policy overrides the kind defaults when set.
	Policy *domain.Policy

	// Anchor is the geofence of QR check-in and attendance signature tokens.
	Anchor *domain.ProximityAnchor

	SessionID   string
	DocumentRef string

	// Recipient overrides the recipient derived from the subject.
	Recipient *domain.Recipient

	// Reminders overrides the kind reminder defaults.
	Reminders *domain.ReminderPolicy

	// IssuedBy is the staff key ID, or "system".
	IssuedBy string
}

// IssueResult is the outcome of one issuance. Value is the only copy of the
// plaintext ever handed out.
type IssueResult struct {
	Value   string          `json:"value"`
	Link    string          `json:"link,omitempty"`
	Token   *domain.Token   `json:"token"`
	Request *domain.Request `json:"request,omitempty"`
}

// Issue creates a token. Signature kinds also get a pending request and the
// recipient is notified.
func (s *TokenService) Issue(ctx context.Context, req *IssueRequest) (*IssueResult, error) {
	if !req.Kind.IsValid() {
		return nil, domain.ErrPolicyViolation.WithDetails("unknown token kind " + string(req.Kind))
	}

	defaults := s.cfg.Kinds[req.Kind]
	policy := defaults.Policy()
	if req.Policy != nil {
		policy = *req.Policy
	}
	if policy.IdentityMode == "" {
		policy.IdentityMode = domain.IdentityAnonymous
	}
	if err := policy.Validate(req.Kind); err != nil {
		return nil, err
	}
	if err := req.Anchor.Validate(); err != nil {
		return nil, err
	}

	subject, err := s.checkScope(ctx, req.Scope)
	if err != nil {
		return nil, err
	}

	reminders := defaults.Reminders()
	if req.Reminders != nil {
		reminders = *req.Reminders
	}
	recipient := s.recipientFor(req, subject)

	res, err := s.create(ctx, req, policy, recipient, reminders)
	if err != nil {
		logger.L(ctx).Error("token issuance failed",
			"kind", req.Kind,
			"organization_id", req.Scope.OrganizationID,
			"error", err,
		)
		return nil, err
	}

	s.metrics.TokenIssued(string(req.Kind))
	s.record(ctx, domain.AuditIssue, res.Token, nil, "")
	logger.L(ctx).Info("token issued",
		"token_id", res.Token.ID,
		"kind", res.Token.Kind,
		"organization_id", res.Token.Scope.OrganizationID,
		"expires_at", res.Token.ExpiresAt,
	)

	vars := map[string]string{
		"token_id":   res.Token.ID,
		"kind":       string(res.Token.Kind),
		"link":       res.Link,
		"expires_at": strconv.FormatInt(res.Token.ExpiresAt, 10),
	}
	if res.Request != nil {
		vars["request_id"] = res.Request.ID
		_ = s.notify(ctx, recipient, TemplateSignRequest, vars)
	} else if req.Kind == domain.KindLearnerAccess {
		_ = s.notify(ctx, recipient, TemplateIssued, vars)
	}
	return res, nil
}

func (s *TokenService) recipientFor(req *IssueRequest, subject *domain.Entity) domain.Recipient {
	if req.Recipient != nil {
		return *req.Recipient
	}
	if subject != nil {
		return subject.Recipient(domain.RecipientTypeFor(subject.Type))
	}
	return domain.Recipient{
		SubjectType:   req.Scope.SubjectType,
		SubjectID:     req.Scope.SubjectID,
		RecipientType: domain.RecipientTypeFor(req.Scope.SubjectType),
	}
}

// create persists a new token, regenerating the value on hash collision.
func (s *TokenService) create(ctx context.Context, req *IssueRequest, policy domain.Policy, recipient domain.Recipient, reminders domain.ReminderPolicy) (*IssueResult, error) {
	now := s.clock.Now()

	id, err := domain.NewID(domain.TokenIDPrefix, now)
	if err != nil {
		return nil, err
	}
	t := &domain.Token{
		ID:                   id,
		Kind:                 req.Kind,
		Scope:                req.Scope,
		IssuedAt:             now.UnixMilli(),
		ExpiresAt:            now.Add(policy.TTL).UnixMilli(),
		OneShot:              policy.OneShot,
		Unlimited:            policy.Unlimited,
		MaxUses:              policy.MaxUses,
		IdentityMode:         policy.IdentityMode,
		ConsumeOnFailedCheck: policy.ConsumeOnFailedCheck,
		Status:               domain.StatusActive,
		IssuedBy:             req.IssuedBy,
		Partition:            domain.PartitionOf(req.Scope.OrganizationID, s.cfg.Partitions),
	}
	if t.IssuedBy == "" {
		t.IssuedBy = "system"
	}

	anchor := req.Anchor.Clone()
	if anchor != nil && anchor.AllowedRadiusMeters == 0 {
		anchor.AllowedRadiusMeters = domain.DefaultAllowedRadiusMeters
	}
	switch req.Kind {
	case domain.KindLearnerAccess:
		t.Payload.Access = &domain.AccessPayload{AccessURL: s.cfg.Kinds[req.Kind].LinkBaseURL}
	case domain.KindQRCheckIn:
		t.Payload.CheckIn = &domain.CheckInPayload{Anchor: anchor, SessionID: req.SessionID}
	case domain.KindAttendanceSignature, domain.KindDocumentSignature:
		t.Payload.Signature = &domain.SignaturePayload{
			DocumentRef: req.DocumentRef,
			SessionID:   req.SessionID,
			Anchor:      anchor,
		}
	}

	var pending *domain.Request
	if req.Kind.IsSignature() {
		pending, err = domain.NewRequest(t, recipient, reminders, now)
		if err != nil {
			return nil, err
		}
		t.Payload.Signature.RequestID = pending.ID
	}

	for attempt := 0; attempt < s.cfg.MaxIssueRetries; attempt++ {
		value, hash, err := domain.GenerateTokenValue(req.Kind)
		if err != nil {
			return nil, err
		}
		t.ValueHash = hash
		if s.values != nil {
			sealed, err := s.values.Encrypt([]byte(value), []byte(t.ID))
			if err != nil {
				return nil, domain.ErrInternalServer.WithCause(err)
			}
			t.SealedValue = sealed
		}

		err = s.store.CreateToken(ctx, t, pending)
		if errors.Is(err, domain.ErrTokenHashConflict) {
			logger.L(ctx).Warn("token value collision, regenerating", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		return &IssueResult{
			Value:   value,
			Link:    s.link(req.Kind, value),
			Token:   t.Clone(),
			Request: pending,
		}, nil
	}
	return nil, domain.ErrTokenHashConflict.WithDetails("value generation retries exhausted")
}

// BulkIssueRequest issues the same kind and policy to several subjects.
type BulkIssueRequest struct {
	// Template carries kind, policy, target and payload. Its subject is
	// replaced per item.
	Template IssueRequest

	// SubjectIDs lists the subjects. Empty means every subject enrolled in
	// the template target.
	SubjectIDs []string
}

// BulkIssueItem is the outcome for one subject.
type BulkIssueItem struct {
	SubjectID string       `json:"subject_id"`
	Result    *IssueResult `json:"result,omitempty"`
	Err       error        `json:"-"`
}

// IssueBulk issues one token per subject. Items are independent: a failure
// for one subject does not undo the others.
func (s *TokenService) IssueBulk(ctx context.Context, req *BulkIssueRequest) ([]BulkIssueItem, error) {
	tmpl := req.Template
	type subject struct{ typ, id string }
	var subjects []subject

	if len(req.SubjectIDs) > 0 {
		for _, id := range req.SubjectIDs {
			subjects = append(subjects, subject{typ: tmpl.Scope.SubjectType, id: id})
		}
	} else {
		if s.directory == nil {
			return nil, domain.ErrBadRequest.WithDetails("subject_ids required without a directory")
		}
		enrolled, err := s.directory.Enrolled(ctx, tmpl.Scope.OrganizationID, tmpl.Scope.TargetType, tmpl.Scope.TargetID)
		if err != nil {
			return nil, scopeError(err, "unknown target "+tmpl.Scope.TargetType+"/"+tmpl.Scope.TargetID)
		}
		for _, e := range enrolled {
			subjects = append(subjects, subject{typ: e.Type, id: e.ID})
		}
	}

	if len(subjects) == 0 {
		return nil, domain.ErrBadRequest.WithDetails("no subjects")
	}
	if len(subjects) > s.cfg.MaxBulkSubjects {
		return nil, domain.ErrPolicyViolation.WithDetails("too many subjects in one bulk issuance")
	}

	items := make([]BulkIssueItem, 0, len(subjects))
	failed := 0
	for _, sub := range subjects {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		one := tmpl
		one.Scope.SubjectType = sub.typ
		one.Scope.SubjectID = sub.id
		one.Recipient = nil

		res, err := s.Issue(ctx, &one)
		if err != nil {
			failed++
		}
		items = append(items, BulkIssueItem{SubjectID: sub.id, Result: res, Err: err})
	}

	logger.L(ctx).Info("bulk issuance completed",
		"kind", tmpl.Kind,
		"target_id", tmpl.Scope.TargetID,
		"issued", len(items)-failed,
		"failed", failed,
	)
	return items, nil
}

// RevokeRequest identifies a token to revoke by ID or value.
type RevokeRequest struct {
	TokenID        string
	Value          string
	OrganizationID string
}

// Revoke administratively ends a token. Revoking twice is a no-op, and a
// signature token's pending request is cancelled with it.
func (s *TokenService) Revoke(ctx context.Context, req *RevokeRequest) (*domain.Token, error) {
	var (
		t   *domain.Token
		err error
	)
	switch {
	case req.TokenID != "":
		t, err = s.store.GetToken(ctx, req.TokenID)
	case req.Value != "":
		t, err = s.lookup(ctx, req.Value)
	default:
		return nil, domain.ErrBadRequest.WithDetails("token_id or value required")
	}
	if err != nil {
		return nil, err
	}
	if req.OrganizationID != "" && t.Scope.OrganizationID != req.OrganizationID {
		return nil, domain.ErrTokenNotFound
	}

	now := s.clock.Now()
	revoked, changed, err := s.store.RevokeToken(ctx, t.ID, now)
	if err != nil {
		return nil, err
	}
	if !changed {
		return revoked, nil
	}

	if reqID := revoked.Payload.RequestID(); reqID != "" {
		if _, err := s.store.ResolveRequest(ctx, reqID, domain.RequestCancelled, now, "token revoked"); err != nil &&
			!errors.Is(err, domain.ErrRequestClosed) {
			logger.L(ctx).Warn("request cancellation failed", "request_id", reqID, "error", err)
		}
	}

	s.metrics.TokenRevoked(string(revoked.Kind))
	s.record(ctx, domain.AuditRevoke, revoked, nil, "")
	logger.L(ctx).Info("token revoked", "token_id", revoked.ID, "kind", revoked.Kind)
	return revoked, nil
}
