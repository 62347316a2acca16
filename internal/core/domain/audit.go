package domain

import "time"

// AuditOutcome is the result of an audited attempt.
type AuditOutcome string

const (
	AuditSuccess  AuditOutcome = "success"
	AuditRejected AuditOutcome = "rejected"
	AuditError    AuditOutcome = "error"
)

// Audit actions.
const (
	AuditIssue     = "token.issue"
	AuditValidate  = "token.validate"
	AuditConsume   = "token.consume"
	AuditSign      = "token.sign"
	AuditRevoke    = "token.revoke"
	AuditDecline   = "request.decline"
	AuditCancel    = "request.cancel"
	AuditExpire    = "token.expire"
	AuditReminder  = "request.reminder"
	AuditSessionOp = "session.transition"
)

// AuditEntry is one line of the audit trail. Every validation attempt is
// audited with its precise outcome, including those that clients only see
// as "link invalid".
type AuditEntry struct {
	// ID format: cta-{ulid_lowercase}.
	ID             string       `json:"id"`
	Action         string       `json:"action"`
	Outcome        AuditOutcome `json:"outcome"`
	Code           string       `json:"code,omitempty"`
	OrganizationID string       `json:"organization_id,omitempty"`
	TokenID        string       `json:"token_id,omitempty"`
	Kind           Kind         `json:"kind,omitempty"`
	Actor          string       `json:"actor,omitempty"`
	ClientIP       string       `json:"client_ip,omitempty"`
	Detail         string       `json:"detail,omitempty"`
	CreatedAt      int64        `json:"created_at"`
}

// NewAuditEntry creates an entry with a generated ID. The outcome and code
// are derived from err.
func NewAuditEntry(action string, t *Token, err error, now time.Time) *AuditEntry {
	e := &AuditEntry{
		Action:    action,
		Outcome:   AuditSuccess,
		CreatedAt: now.UnixMilli(),
	}
	if id, idErr := NewID(AuditIDPrefix, now); idErr == nil {
		e.ID = id
	}
	if t != nil {
		e.TokenID = t.ID
		e.Kind = t.Kind
		e.OrganizationID = t.Scope.OrganizationID
	}
	if err != nil {
		e.Outcome = AuditRejected
		e.Code = GetErrorCode(err)
		if e.Code == "" || e.Code == ErrStoreUnavailable.Code || e.Code == ErrInternalServer.Code {
			e.Outcome = AuditError
		}
	}
	return e
}
