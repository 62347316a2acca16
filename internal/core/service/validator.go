package service

import (
	"context"
	"errors"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/telemetry/logger"
)

// ValidationOutcome is a successful validation.
type ValidationOutcome struct {
	Token *domain.Token `json:"token"`
	Scope domain.Scope  `json:"scope"`
	// RemainingUses is -1 for unlimited tokens.
	RemainingUses int64 `json:"remaining_uses"`
	// Request is the pending request of a signature token.
	Request *domain.Request `json:"request,omitempty"`
}

// Validate checks a presented value without consuming it. The error is the
// precise reason; presenting clients must only see domain.PublicError(err).
// Every attempt is audited.
func (s *TokenService) Validate(ctx context.Context, value, orgHint string) (*ValidationOutcome, error) {
	kind, _ := domain.ParseTokenValue(value)
	t, out, err := s.validate(ctx, value, orgHint)

	s.metrics.TokenValidated(kindLabel(t, kind), outcomeValid(err))
	s.record(ctx, domain.AuditValidate, t, err, "")
	if err != nil && !domain.IsLinkInvalid(err) {
		logger.L(ctx).Error("token validation failed", "error", err)
	}
	return out, err
}

func (s *TokenService) validate(ctx context.Context, value, orgHint string) (*domain.Token, *ValidationOutcome, error) {
	t, err := s.lookup(ctx, value)
	if err != nil {
		return nil, nil, err
	}
	if err := t.CheckUsable(s.clock.Now(), orgHint); err != nil {
		return t, nil, err
	}

	out := &ValidationOutcome{
		Token:         t,
		Scope:         t.Scope,
		RemainingUses: t.RemainingUses(),
	}
	if reqID := t.Payload.RequestID(); reqID != "" {
		req, err := s.pendingRequest(ctx, reqID)
		if err != nil {
			return t, nil, err
		}
		out.Request = req
	}
	return t, out, nil
}

// pendingRequest loads a request that must still be pending.
func (s *TokenService) pendingRequest(ctx context.Context, id string) (*domain.Request, error) {
	req, err := s.store.GetRequest(ctx, id)
	if errors.Is(err, domain.ErrRequestNotFound) {
		return nil, domain.ErrRequestClosed
	}
	if err != nil {
		return nil, err
	}
	if req.Status != domain.RequestPending {
		return nil, domain.ErrRequestClosed
	}
	return req, nil
}

func outcomeValid(err error) string {
	if err == nil {
		return "valid"
	}
	return outcome(err)
}
