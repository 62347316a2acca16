package service

import (
	"context"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/telemetry/logger"
)

// ConsumeRequest contains parameters for presenting a non-signature token.
type ConsumeRequest struct {
	Value   string
	OrgHint string

	// Presenter identifies who is checking in. Required for QR check-in.
	Presenter string

	Client domain.ClientInfo
	Geo    *domain.Geolocation
}

// Consume spends one use of a learner access or QR check-in token and
// returns the valid record. Failed proximity checks leave a rejected record
// and spend a use only when the token says so.
func (s *TokenService) Consume(ctx context.Context, req *ConsumeRequest) (*domain.Record, error) {
	kind, _ := domain.ParseTokenValue(req.Value)
	t, rec, err := s.consume(ctx, req)

	s.metrics.TokenConsumed(kindLabel(t, kind), outcome(err))
	s.record(ctx, domain.AuditConsume, t, err, "")
	if err != nil {
		if !domain.IsLinkInvalid(err) {
			logger.L(ctx).Warn("token consumption rejected", "error", err)
		}
		return nil, err
	}
	logger.L(ctx).Info("token consumed",
		"token_id", t.ID,
		"kind", t.Kind,
		"sequence", rec.Sequence,
	)
	return rec, nil
}

func (s *TokenService) consume(ctx context.Context, req *ConsumeRequest) (*domain.Token, *domain.Record, error) {
	t, err := s.lookup(ctx, req.Value)
	if err != nil {
		return nil, nil, err
	}
	if !t.VisibleTo(req.OrgHint) {
		return t, nil, domain.ErrTokenNotFound
	}
	if t.Kind.IsSignature() {
		return t, nil, domain.ErrTokenKindMismatch
	}

	now := s.clock.Now()
	if err := t.CheckUsable(now, req.OrgHint); err != nil {
		return t, nil, err
	}

	if t.Kind == domain.KindQRCheckIn && req.Presenter == "" {
		return t, nil, domain.ErrBadRequest.WithDetails("presenter is required")
	}
	if len(req.Presenter) > domain.MaxPresenterLength {
		return t, nil, domain.ErrBadRequest.WithDetails("presenter too long")
	}

	rec, err := domain.NewRecord(t, now)
	if err != nil {
		return t, nil, err
	}
	rec.Presenter = req.Presenter
	rec.Client = req.Client.Truncated()
	rec.Geolocation = req.Geo

	res, perr := s.proximity.VerifyProximity(t.Anchor(), req.Geo)
	applyProximity(rec, res)
	if t.Anchor() != nil {
		s.metrics.ProximityChecked(string(t.Kind), distanceOrNone(res), perr == nil)
	}
	if perr != nil {
		return t, nil, s.reject(ctx, t, rec, perr, now)
	}

	rec.Valid = true
	updated, err := s.store.ConsumeToken(ctx, ConsumeParams{
		TokenID:         t.ID,
		Now:             now,
		Record:          rec,
		UniquePresenter: t.Kind == domain.KindQRCheckIn,
	})
	if err != nil {
		return t, nil, err
	}
	return updated, rec, nil
}

// reject stores a rejected attempt. When the token spends uses on failed
// checks the attempt goes through the same atomic path as a success. The
// returned error is always cause.
func (s *TokenService) reject(ctx context.Context, t *domain.Token, rec *domain.Record, cause error, now time.Time) error {
	rec.Reject(cause)

	var err error
	if t.ConsumeOnFailedCheck && !t.Kind.IsSignature() {
		_, err = s.store.ConsumeToken(ctx, ConsumeParams{TokenID: t.ID, Now: now, Record: rec})
	} else {
		err = s.store.AppendRecord(ctx, rec)
	}
	if err != nil {
		logger.L(ctx).Warn("rejected attempt not recorded",
			"token_id", t.ID,
			"cause", domain.GetErrorCode(cause),
			"error", err,
		)
	}
	return cause
}

func distanceOrNone(res *ProximityResult) float64 {
	if res == nil || !res.Measured {
		return -1
	}
	return res.DistanceMeters
}
