package handler

import (
	"net/http"
	"strconv"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
)

// Issue handles POST /tokens.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	var body IssueTokenRequest
	if err := decode(r, &body); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	org, err := orgScope(r, body.Scope.OrganizationID, domain.ErrPermissionDenied)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	body.Scope.OrganizationID = org
	res, err := h.tokens.Issue(r.Context(), body.toService(actor(r)))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, res)
}

// IssueBulk handles POST /tokens/bulk.
func (h *Handler) IssueBulk(w http.ResponseWriter, r *http.Request) {
	var body BulkIssueRequest
	if err := decode(r, &body); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	org, err := orgScope(r, body.Scope.OrganizationID, domain.ErrPermissionDenied)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	body.Scope.OrganizationID = org
	items, err := h.tokens.IssueBulk(r.Context(), &service.BulkIssueRequest{
		Template:   *body.IssueTokenRequest.toService(actor(r)),
		SubjectIDs: body.SubjectIDs,
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, newBulkResponse(items))
}

// RevokeByValue handles POST /tokens/{value}/revoke.
func (h *Handler) RevokeByValue(w http.ResponseWriter, r *http.Request) {
	h.revoke(w, r, &service.RevokeRequest{Value: r.PathValue("value")})
}

// RevokeByID handles POST /admin/v1/tokens/{id}/revoke.
func (h *Handler) RevokeByID(w http.ResponseWriter, r *http.Request) {
	h.revoke(w, r, &service.RevokeRequest{TokenID: r.PathValue("id")})
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request, req *service.RevokeRequest) {
	var body OrgRequest
	if err := decode(r, &body); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	org, err := orgScope(r, body.OrganizationID, domain.ErrTokenNotFound)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	req.OrganizationID = org
	t, err := h.tokens.Revoke(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, t)
}

// GetToken handles GET /admin/v1/tokens/{id}.
func (h *Handler) GetToken(w http.ResponseWriter, r *http.Request) {
	org, err := orgScope(r, r.URL.Query().Get("org"), domain.ErrTokenNotFound)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	t, err := h.tokens.GetToken(r.Context(), r.PathValue("id"), org)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, t)
}

// ListRecords handles GET /admin/v1/tokens/{id}/records.
func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	org, err := orgScope(r, r.URL.Query().Get("org"), domain.ErrTokenNotFound)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	recs, err := h.tokens.ListRecords(r.Context(), r.PathValue("id"), org)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, &ListRecordsResponse{Items: recs, Total: len(recs)})
}

// ListTokens handles GET /admin/v1/tokens. The org parameter is required.
func (h *Handler) ListTokens(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	org, err := orgScope(r, q.Get("org"), domain.ErrPermissionDenied)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	filter := service.TokenFilter{
		OrganizationID: org,
		Kind:           domain.Kind(q.Get("kind")),
		SubjectID:      q.Get("subject_id"),
		TargetID:       q.Get("target_id"),
		Status:         domain.Status(q.Get("status")),
		Limit:          100,
	}
	if filter.OrganizationID == "" {
		h.handleServiceError(w, r, domain.ErrBadRequest.WithDetails("org is required"))
		return
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			h.handleServiceError(w, r, domain.ErrBadRequest.WithDetails("limit must be between 1 and 1000"))
			return
		}
		filter.Limit = n
	}
	tokens, err := h.tokens.ListTokens(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, &ListTokensResponse{Items: tokens, Total: len(tokens)})
}
