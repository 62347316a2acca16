package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/storage/snapshot"
	"github.com/yndnr/captoken-go/internal/telemetry/logger"
)

// maxBodyBytes bounds request bodies. Signature images dominate.
const maxBodyBytes = 2 << 20

// retryAfterSeconds is advertised when the store is unavailable.
const retryAfterSeconds = "5"

// Pinger reports backend readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds the services the handlers call. Sweeper, Ready and Backups
// are optional.
type Config struct {
	Tokens     *service.TokenService
	Attendance *service.AttendanceService
	Sweeper    *service.Sweeper
	Ready      Pinger

	Backups      *snapshot.Manager
	BackupSource snapshot.Source

	Logger *slog.Logger
}

// Handler serves the captoken HTTP API.
type Handler struct {
	tokens     *service.TokenService
	attendance *service.AttendanceService
	sweeper    *service.Sweeper
	ready      Pinger
	backups    *snapshot.Manager
	backupSrc  snapshot.Source
	logger     *slog.Logger
}

// New creates a Handler.
func New(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		tokens:     cfg.Tokens,
		attendance: cfg.Attendance,
		sweeper:    cfg.Sweeper,
		ready:      cfg.Ready,
		backups:    cfg.Backups,
		backupSrc:  cfg.BackupSource,
		logger:     cfg.Logger,
	}
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	WriteJSON(w, r, status, data)
}

// WriteJSON writes a success envelope.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := logger.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(NewResponse(requestID, data)); err != nil {
		logger.L(r.Context()).Error("failed to encode response", "error", err)
	}
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := logger.RequestIDFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(NewErrorResponse(requestID, code, message, details))
}

// handleServiceError converts staff-facing service errors to responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if de := asDomain(err); de != nil {
		status := StatusForCode(de.Code)
		if status >= 500 {
			logger.L(r.Context()).Error("request failed", "error", err)
		}
		WriteError(w, r, status, de.Code, de.Message, detailsOf(de))
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		WriteError(w, r, http.StatusServiceUnavailable, domain.ErrStoreUnavailable.Code, domain.ErrStoreUnavailable.Message, nil)
		return
	}

	logger.L(r.Context()).Error("internal error", "error", err)
	WriteError(w, r, http.StatusInternalServerError, domain.ErrInternalServer.Code, domain.ErrInternalServer.Message, nil)
}

// handlePublicError converts errors for presenting clients. Token-state
// failures collapse into one answer so existence is never revealed.
func (h *Handler) handlePublicError(w http.ResponseWriter, r *http.Request, err error) {
	h.handleServiceError(w, r, domain.PublicError(err))
}

func detailsOf(de *domain.DomainError) any {
	if de.Details == "" {
		return nil
	}
	return map[string]string{"reason": de.Details}
}

// StatusForCode maps a CT-<FAMILY>-<HTTP><n> code to its HTTP status.
func StatusForCode(code string) int {
	i := strings.LastIndex(code, "-")
	if i < 0 || len(code)-i-1 < 3 {
		return http.StatusInternalServerError
	}
	n, err := strconv.Atoi(code[i+1 : i+4])
	if err != nil || n < 400 || n > 599 {
		return http.StatusInternalServerError
	}
	return n
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return domain.ErrBadRequest.WithDetails(err.Error())
	}
	return nil
}

// actor returns the staff key ID of the request.
func actor(r *http.Request) string {
	if a := logger.ActorFromContext(r.Context()); a != "" {
		return a
	}
	return "system"
}

// orgScope resolves the organization of a staff call against the tenant
// binding of its key. A key naming another tenant gets mismatch.
func orgScope(r *http.Request, requested string, mismatch error) (string, error) {
	org, ok := service.StaffKeyFromContext(r.Context()).ResolveOrganization(requested)
	if !ok {
		return "", mismatch
	}
	return org, nil
}

// clientInfo builds the device evidence of a presenting client.
func clientInfo(r *http.Request, fingerprint string) domain.ClientInfo {
	return domain.ClientInfo{
		IP:          service.ClientIPFromContext(r.Context()),
		UserAgent:   r.UserAgent(),
		Fingerprint: fingerprint,
	}.Truncated()
}

// bearer returns the Authorization bearer credential, if any.
func bearer(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func asDomain(err error) *domain.DomainError {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return de
	}
	return nil
}
