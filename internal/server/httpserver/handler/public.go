package handler

import (
	"net/http"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
)

// Peek handles GET /tokens/{value}. It validates without consuming.
func (h *Handler) Peek(w http.ResponseWriter, r *http.Request) {
	out, err := h.tokens.Validate(r.Context(), r.PathValue("value"), r.URL.Query().Get("org"))
	if err != nil {
		h.handlePublicError(w, r, err)
		return
	}

	resp := &PeekResponse{
		Kind:          out.Token.Kind,
		Scope:         out.Scope,
		ExpiresAt:     out.Token.ExpiresAt,
		RemainingUses: out.RemainingUses,
		Anchor:        out.Token.Payload.Anchor(),
	}
	if sig := out.Token.Payload.Signature; sig != nil {
		resp.DocumentRef = sig.DocumentRef
	}
	if out.Request != nil {
		resp.RequestStatus = out.Request.Status
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}

// Present handles POST /tokens/{value}/consume. Signature tokens are
// signed; the other kinds are consumed.
func (h *Handler) Present(w http.ResponseWriter, r *http.Request) {
	var body PresentRequest
	if err := decode(r, &body); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	value := r.PathValue("value")
	client := clientInfo(r, body.Fingerprint)

	var (
		rec *domain.Record
		err error
	)
	if kind, ok := domain.ParseTokenValue(value); ok && kind.IsSignature() {
		req := &service.SignatureRequest{
			Value:     value,
			OrgHint:   body.OrganizationID,
			Assertion: bearer(r),
			Client:    client,
			Geo:       body.Geolocation,
		}
		if body.Signature != nil {
			req.Signature = *body.Signature
		}
		rec, err = h.tokens.CaptureSignature(r.Context(), req)
	} else {
		rec, err = h.tokens.Consume(r.Context(), &service.ConsumeRequest{
			Value:     value,
			OrgHint:   body.OrganizationID,
			Presenter: body.Presenter,
			Client:    client,
			Geo:       body.Geolocation,
		})
	}
	if err != nil {
		h.handlePublicError(w, r, err)
		return
	}

	h.writeJSON(w, r, http.StatusOK, &PresentResponse{
		RecordID:         rec.ID,
		Kind:             rec.Kind,
		Sequence:         rec.Sequence,
		CreatedAt:        rec.CreatedAt,
		LocationVerified: rec.LocationVerified,
		DistanceMeters:   rec.DistanceMeters,
	})
}

// Decline handles POST /tokens/{value}/decline.
func (h *Handler) Decline(w http.ResponseWriter, r *http.Request) {
	var body DeclineRequest
	if err := decode(r, &body); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	req, err := h.tokens.Decline(r.Context(), r.PathValue("value"), body.OrganizationID, body.Reason)
	if err != nil {
		h.handlePublicError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"request_id": req.ID,
		"status":     req.Status,
	})
}
