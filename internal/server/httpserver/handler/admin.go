package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/telemetry/logger"
)

// CancelRequest handles POST /admin/v1/requests/{id}/cancel.
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	var body OrgRequest
	if err := decode(r, &body); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	org, err := orgScope(r, body.OrganizationID, domain.ErrRequestNotFound)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	req, err := h.tokens.CancelRequest(r.Context(), r.PathValue("id"), org)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, req)
}

// CreateSession handles POST /admin/v1/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var body CreateSessionRequest
	if err := decode(r, &body); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	org, err := orgScope(r, body.OrganizationID, domain.ErrPermissionDenied)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	sess, err := h.attendance.CreateSession(r.Context(), &service.CreateSessionRequest{
		OrganizationID: org,
		TargetType:     body.TargetType,
		TargetID:       body.TargetID,
		Title:          body.Title,
		Anchor:         body.Anchor,
		TokenTTL:       time.Duration(body.TokenTTLSeconds) * time.Second,
		CreatedBy:      actor(r),
	})
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, sess)
}

// GetSession handles GET /admin/v1/sessions/{id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	org, err := orgScope(r, r.URL.Query().Get("org"), domain.ErrSessionNotFound)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	sess, err := h.attendance.GetSession(r.Context(), r.PathValue("id"), org)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, sess)
}

// LaunchSession handles POST /admin/v1/sessions/{id}/launch.
func (h *Handler) LaunchSession(w http.ResponseWriter, r *http.Request) {
	var body OrgRequest
	if err := decode(r, &body); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	org, err := orgScope(r, body.OrganizationID, domain.ErrSessionNotFound)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	res, err := h.attendance.LaunchSession(r.Context(), r.PathValue("id"), org, actor(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, &LaunchSessionResponse{
		Session:           res.Session,
		BulkIssueResponse: *newBulkResponse(res.Items),
	})
}

// CloseSession handles POST /admin/v1/sessions/{id}/close.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	h.finishSession(w, r, h.attendance.CloseSession)
}

// CancelSession handles POST /admin/v1/sessions/{id}/cancel.
func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	h.finishSession(w, r, h.attendance.CancelSession)
}

func (h *Handler) finishSession(w http.ResponseWriter, r *http.Request, transition func(context.Context, string, string) (*domain.AttendanceSession, error)) {
	var body OrgRequest
	if err := decode(r, &body); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	org, err := orgScope(r, body.OrganizationID, domain.ErrSessionNotFound)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	sess, err := transition(r.Context(), r.PathValue("id"), org)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, sess)
}

// Sweep handles POST /admin/v1/sweep and runs one sweep cycle now.
func (h *Handler) Sweep(w http.ResponseWriter, r *http.Request) {
	if h.sweeper == nil {
		h.handleServiceError(w, r, domain.ErrBadRequest.WithDetails("sweeper disabled"))
		return
	}
	report, err := h.sweeper.SweepOnce(r.Context())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, report)
}

// CreateBackup handles POST /admin/v1/backups.
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil || h.backupSrc == nil {
		h.handleServiceError(w, r, domain.ErrBadRequest.WithDetails("backups are not enabled"))
		return
	}
	info, err := h.backups.Create(h.backupSrc)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	logger.L(r.Context()).Info("backup created", "backup_id", info.ID, "size", info.Size)
	h.writeJSON(w, r, http.StatusCreated, info)
}

// ListBackups handles GET /admin/v1/backups.
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	if h.backups == nil {
		h.handleServiceError(w, r, domain.ErrBadRequest.WithDetails("backups are not enabled"))
		return
	}
	infos, err := h.backups.List()
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, &ListBackupsResponse{Items: infos, Total: len(infos)})
}
