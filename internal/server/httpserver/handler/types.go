package handler

import (
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/storage/snapshot"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// PolicyBody overrides the kind policy of an issuance.
type PolicyBody struct {
	TTLSeconds           int64  `json:"ttl_seconds"`
	MaxUses              int64  `json:"max_uses,omitempty"`
	OneShot              bool   `json:"one_shot,omitempty"`
	Unlimited            bool   `json:"unlimited,omitempty"`
	IdentityMode         string `json:"identity_mode,omitempty"`
	ConsumeOnFailedCheck bool   `json:"consume_on_failed_check,omitempty"`
}

// RemindersBody overrides the kind reminder defaults.
type RemindersBody struct {
	Frequency    string `json:"frequency"`
	MaxReminders int    `json:"max_reminders"`
}

// IssueTokenRequest is the request body for POST /tokens.
type IssueTokenRequest struct {
	Kind        string                  `json:"kind"`
	Scope       domain.Scope            `json:"scope"`
	Policy      *PolicyBody             `json:"policy,omitempty"`
	Anchor      *domain.ProximityAnchor `json:"anchor,omitempty"`
	SessionID   string                  `json:"session_id,omitempty"`
	DocumentRef string                  `json:"document_ref,omitempty"`
	Recipient   *domain.Recipient       `json:"recipient,omitempty"`
	Reminders   *RemindersBody          `json:"reminders,omitempty"`
}

// toService converts the body into a service request.
func (b *IssueTokenRequest) toService(issuedBy string) *service.IssueRequest {
	req := &service.IssueRequest{
		Kind:        domain.Kind(b.Kind),
		Scope:       b.Scope,
		Anchor:      b.Anchor,
		SessionID:   b.SessionID,
		DocumentRef: b.DocumentRef,
		Recipient:   b.Recipient,
		IssuedBy:    issuedBy,
	}
	if p := b.Policy; p != nil {
		req.Policy = &domain.Policy{
			TTL:                  time.Duration(p.TTLSeconds) * time.Second,
			MaxUses:              p.MaxUses,
			OneShot:              p.OneShot,
			Unlimited:            p.Unlimited,
			IdentityMode:         domain.IdentityMode(p.IdentityMode),
			ConsumeOnFailedCheck: p.ConsumeOnFailedCheck,
		}
	}
	if b.Reminders != nil {
		rp := domain.ReminderPolicyFor(domain.ReminderFrequency(b.Reminders.Frequency), b.Reminders.MaxReminders)
		req.Reminders = &rp
	}
	return req
}

// BulkIssueRequest is the request body for POST /tokens/bulk. Without
// subject_ids every subject enrolled in the target is issued a token.
type BulkIssueRequest struct {
	IssueTokenRequest
	SubjectIDs []string `json:"subject_ids,omitempty"`
}

// ErrorBody describes a failed item.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BulkItem is the outcome for one subject.
type BulkItem struct {
	SubjectID string     `json:"subject_id"`
	Value     string     `json:"value,omitempty"`
	Link      string     `json:"link,omitempty"`
	TokenID   string     `json:"token_id,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

// BulkIssueResponse is the response body for bulk issuance and session launch.
type BulkIssueResponse struct {
	Items  []BulkItem `json:"items"`
	Issued int        `json:"issued"`
	Failed int        `json:"failed"`
}

func newBulkResponse(items []service.BulkIssueItem) *BulkIssueResponse {
	out := &BulkIssueResponse{Items: make([]BulkItem, 0, len(items))}
	for _, it := range items {
		item := BulkItem{SubjectID: it.SubjectID}
		if it.Err != nil {
			out.Failed++
			code, msg := domain.ErrInternalServer.Code, domain.ErrInternalServer.Message
			if de := asDomain(it.Err); de != nil {
				code, msg = de.Code, de.Error()
			}
			item.Error = &ErrorBody{Code: code, Message: msg}
		} else if it.Result != nil {
			out.Issued++
			item.Value = it.Result.Value
			item.Link = it.Result.Link
			item.TokenID = it.Result.Token.ID
			if it.Result.Request != nil {
				item.RequestID = it.Result.Request.ID
			}
		}
		out.Items = append(out.Items, item)
	}
	return out
}

// OrgRequest carries the organization of a staff action.
type OrgRequest struct {
	OrganizationID string `json:"organization_id"`
}

// PeekResponse is the response body for GET /tokens/{value}.
type PeekResponse struct {
	Kind          domain.Kind             `json:"kind"`
	Scope         domain.Scope            `json:"scope"`
	ExpiresAt     int64                   `json:"expires_at"`
	RemainingUses int64                   `json:"remaining_uses"`
	Anchor        *domain.ProximityAnchor `json:"anchor,omitempty"`
	DocumentRef   string                  `json:"document_ref,omitempty"`
	RequestStatus domain.RequestStatus    `json:"request_status,omitempty"`
}

// PresentRequest is the request body for POST /tokens/{value}/consume.
// Signature tokens require Signature; the others ignore it.
type PresentRequest struct {
	OrganizationID string                    `json:"organization_id,omitempty"`
	Presenter      string                    `json:"presenter,omitempty"`
	Fingerprint    string                    `json:"fingerprint,omitempty"`
	Geolocation    *domain.Geolocation       `json:"geolocation,omitempty"`
	Signature      *domain.SignatureEvidence `json:"signature,omitempty"`
}

// PresentResponse is the response body of a successful presentation.
type PresentResponse struct {
	RecordID         string      `json:"record_id"`
	Kind             domain.Kind `json:"kind"`
	Sequence         int64       `json:"sequence"`
	CreatedAt        int64       `json:"created_at"`
	LocationVerified bool        `json:"location_verified"`
	DistanceMeters   *float64    `json:"distance_meters,omitempty"`
}

// DeclineRequest is the request body for POST /tokens/{value}/decline.
type DeclineRequest struct {
	OrganizationID string `json:"organization_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// CreateSessionRequest is the request body for POST /admin/v1/sessions.
type CreateSessionRequest struct {
	OrganizationID  string                 `json:"organization_id"`
	TargetType      string                 `json:"target_type"`
	TargetID        string                 `json:"target_id"`
	Title           string                 `json:"title,omitempty"`
	Anchor          domain.ProximityAnchor `json:"anchor"`
	TokenTTLSeconds int64                  `json:"token_ttl_seconds,omitempty"`
}

// LaunchSessionResponse is the response body for session launch.
type LaunchSessionResponse struct {
	Session *domain.AttendanceSession `json:"session"`
	BulkIssueResponse
}

// ListTokensResponse is the response body for GET /admin/v1/tokens.
type ListTokensResponse struct {
	Items []*domain.Token `json:"items"`
	Total int             `json:"total"`
}

// ListRecordsResponse is the response body for token records.
type ListRecordsResponse struct {
	Items []*domain.Record `json:"items"`
	Total int              `json:"total"`
}

// ListBackupsResponse is the response body for GET /admin/v1/backups.
type ListBackupsResponse struct {
	Items []*snapshot.Info `json:"items"`
	Total int              `json:"total"`
}
