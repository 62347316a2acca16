package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/telemetry/logger"
)

// SignatureRequest contains parameters for signing through a signature token.
type SignatureRequest struct {
	Value   string
	OrgHint string

	// Assertion is the signer's bearer identity assertion. It is required
	// when the token is bound to an authenticated identity.
	Assertion string

	Signature domain.SignatureEvidence
	Client    domain.ClientInfo
	Geo       *domain.Geolocation
}

// CaptureSignature records a signature and resolves the pending request in
// one atomic step. A token can be signed once; retries get
// ErrTokenAlreadyConsumed and never a second record.
func (s *TokenService) CaptureSignature(ctx context.Context, req *SignatureRequest) (*domain.Record, error) {
	kind, _ := domain.ParseTokenValue(req.Value)
	t, rec, err := s.capture(ctx, req)

	s.metrics.TokenConsumed(kindLabel(t, kind), outcome(err))
	s.record(ctx, domain.AuditSign, t, err, "")
	if err != nil {
		if !domain.IsLinkInvalid(err) {
			logger.L(ctx).Warn("signature rejected", "error", err)
		}
		return nil, err
	}
	logger.L(ctx).Info("signature captured",
		"token_id", t.ID,
		"kind", t.Kind,
		"request_id", t.Payload.RequestID(),
	)
	return rec, nil
}

func (s *TokenService) capture(ctx context.Context, req *SignatureRequest) (*domain.Token, *domain.Record, error) {
	t, err := s.lookup(ctx, req.Value)
	if err != nil {
		return nil, nil, err
	}
	if !t.VisibleTo(req.OrgHint) {
		return t, nil, domain.ErrTokenNotFound
	}
	if !t.Kind.IsSignature() {
		return t, nil, domain.ErrTokenKindMismatch
	}

	now := s.clock.Now()
	if err := t.CheckUsable(now, req.OrgHint); err != nil {
		return t, nil, err
	}
	pending, err := s.pendingRequest(ctx, t.Payload.RequestID())
	if err != nil {
		return t, nil, err
	}

	rec, err := domain.NewRecord(t, now)
	if err != nil {
		return t, nil, err
	}
	rec.Presenter = t.Scope.SubjectID
	rec.Client = req.Client.Truncated()
	rec.Geolocation = req.Geo

	if t.IdentityMode == domain.IdentityAuthenticated {
		signer, err := s.verifySigner(ctx, req.Assertion)
		if err != nil {
			return t, nil, s.reject(ctx, t, rec, err, now)
		}
		if signer != t.Scope.SubjectID {
			return t, nil, s.reject(ctx, t, rec, domain.ErrIdentityMismatch, now)
		}
		rec.Presenter = signer
	}

	ev := req.Signature
	switch {
	case ev.Data == "":
		return t, nil, s.reject(ctx, t, rec, domain.ErrSignatureMissing, now)
	case len(ev.Data) > domain.MaxSignatureBytes:
		return t, nil, domain.ErrBadRequest.WithDetails("signature too large")
	case s.cfg.RequireAttestation && !ev.Attested:
		return t, nil, s.reject(ctx, t, rec, domain.ErrAttestationRequired, now)
	}

	if t.Kind == domain.KindAttendanceSignature {
		res, perr := s.proximity.VerifyProximity(t.Anchor(), req.Geo)
		applyProximity(rec, res)
		if t.Anchor() != nil {
			s.metrics.ProximityChecked(string(t.Kind), distanceOrNone(res), perr == nil)
		}
		if perr != nil {
			return t, nil, s.reject(ctx, t, rec, perr, now)
		}
	}

	rec.Signature = &ev
	rec.Valid = true
	if s.evidence != nil {
		rec.IntegritySeal = s.evidence.Seal(evidenceFields(rec, pending.ID)...)
	}

	updated, err := s.store.ConsumeToken(ctx, ConsumeParams{
		TokenID:   t.ID,
		Now:       now,
		Record:    rec,
		RequestID: pending.ID,
	})
	if err != nil {
		return t, nil, err
	}
	return updated, rec, nil
}

func (s *TokenService) verifySigner(ctx context.Context, assertion string) (string, error) {
	if s.identity == nil || assertion == "" {
		return "", domain.ErrIdentityInvalid.WithDetails("identity assertion required")
	}
	return s.identity.VerifyIdentity(ctx, assertion)
}

// evidenceFields lists the sealed fields of a signing record, in a fixed
// order. Changing the order invalidates existing seals.
func evidenceFields(r *domain.Record, requestID string) []string {
	f := []string{
		r.ID,
		r.TokenID,
		requestID,
		r.Presenter,
		strconv.FormatInt(r.CreatedAt, 10),
		r.Signature.Data,
		r.Signature.SignerName,
		r.Signature.SignerEmail,
		strconv.FormatBool(r.Signature.Attested),
		r.Client.IP,
		r.Client.UserAgent,
		r.Client.Fingerprint,
	}
	if g := r.Geolocation; g != nil {
		f = append(f,
			strconv.FormatFloat(g.Latitude, 'f', -1, 64),
			strconv.FormatFloat(g.Longitude, 'f', -1, 64),
			strconv.FormatFloat(g.Accuracy, 'f', -1, 64),
		)
	}
	return f
}

// EvidenceFields exposes the sealed fields of a signing record for
// verification tools.
func EvidenceFields(r *domain.Record, requestID string) []string {
	if r.Signature == nil {
		return nil
	}
	return evidenceFields(r, requestID)
}

// Decline lets the recipient refuse a signature request. The request is
// declined and the token revoked.
func (s *TokenService) Decline(ctx context.Context, value, orgHint, reason string) (*domain.Request, error) {
	t, err := s.lookup(ctx, value)
	if err == nil && !t.VisibleTo(orgHint) {
		err = domain.ErrTokenNotFound
	}
	if err == nil && !t.Kind.IsSignature() {
		err = domain.ErrTokenKindMismatch
	}
	now := s.clock.Now()
	if err == nil {
		err = t.CheckUsable(now, orgHint)
	}
	var req *domain.Request
	if err == nil {
		if len(reason) > 1024 {
			reason = reason[:1024]
		}
		req, err = s.store.ResolveRequest(ctx, t.Payload.RequestID(), domain.RequestDeclined, now, reason)
		if errors.Is(err, domain.ErrRequestNotFound) {
			err = domain.ErrRequestClosed
		}
	}
	s.record(ctx, domain.AuditDecline, t, err, "")
	if err != nil {
		return nil, err
	}

	s.revokeQuietly(ctx, t.ID, now)
	logger.L(ctx).Info("signature request declined", "request_id", req.ID, "token_id", t.ID)
	return req, nil
}

// CancelRequest lets staff withdraw a pending request.
func (s *TokenService) CancelRequest(ctx context.Context, id, orgID string) (*domain.Request, error) {
	req, err := s.store.GetRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if orgID != "" && req.OrganizationID != orgID {
		return nil, domain.ErrRequestNotFound
	}

	now := s.clock.Now()
	req, err = s.store.ResolveRequest(ctx, id, domain.RequestCancelled, now, "")
	if err != nil {
		return nil, err
	}
	s.revokeQuietly(ctx, req.TokenID, now)

	entry := domain.NewAuditEntry(domain.AuditCancel, nil, nil, now)
	entry.OrganizationID = req.OrganizationID
	entry.TokenID = req.TokenID
	entry.Kind = req.Kind
	entry.Actor = logger.ActorFromContext(ctx)
	entry.Detail = req.ID
	s.audit.Record(entry)

	logger.L(ctx).Info("signature request cancelled", "request_id", req.ID)
	return req, nil
}

// revokeQuietly revokes the token behind a resolved request.
func (s *TokenService) revokeQuietly(ctx context.Context, tokenID string, now time.Time) {
	t, changed, err := s.store.RevokeToken(ctx, tokenID, now)
	if err != nil {
		logger.L(ctx).Warn("token revocation failed", "token_id", tokenID, "error", err)
		return
	}
	if changed {
		s.metrics.TokenRevoked(string(t.Kind))
	}
}
