package domain

import (
	"strings"
	"time"
)

// RequestStatus is the lifecycle status of a pending signature request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestSigned    RequestStatus = "signed"
	RequestExpired   RequestStatus = "expired"
	RequestDeclined  RequestStatus = "declined"
	RequestCancelled RequestStatus = "cancelled"
)

// IsValid reports whether s is a known request status.
func (s RequestStatus) IsValid() bool {
	switch s {
	case RequestPending, RequestSigned, RequestExpired, RequestDeclined, RequestCancelled:
		return true
	}
	return false
}

// RecipientType classifies who a request is addressed to.
type RecipientType string

const (
	RecipientStudent RecipientType = "student"
	RecipientFunder  RecipientType = "funder"
	RecipientTeacher RecipientType = "teacher"
	RecipientOther   RecipientType = "other"
)

// Recipient is the addressee of notifications about a token or request.
type Recipient struct {
	SubjectType   string        `json:"subject_type,omitempty"`
	SubjectID     string        `json:"subject_id,omitempty"`
	Name          string        `json:"name,omitempty"`
	Address       string        `json:"address,omitempty"`
	RecipientType RecipientType `json:"recipient_type,omitempty"`
}

// ReminderFrequency is the user-facing reminder setting.
type ReminderFrequency string

const (
	ReminderDaily  ReminderFrequency = "daily"
	ReminderWeekly ReminderFrequency = "weekly"
	ReminderNone   ReminderFrequency = "none"
)

// ReminderPolicy caps and spaces reminder notifications for one request.
type ReminderPolicy struct {
	MaxReminders int           `json:"max_reminders"`
	Interval     time.Duration `json:"interval"`
}

// ReminderPolicyFor maps a frequency to a reminder policy using maxReminders
// as the cap. Unknown frequencies disable reminders.
func ReminderPolicyFor(f ReminderFrequency, maxReminders int) ReminderPolicy {
	switch f {
	case ReminderDaily:
		return ReminderPolicy{MaxReminders: maxReminders, Interval: 24 * time.Hour}
	case ReminderWeekly:
		return ReminderPolicy{MaxReminders: maxReminders, Interval: 7 * 24 * time.Hour}
	}
	return ReminderPolicy{}
}

// Request is the pending action behind a signature token. It moves
// pending -> {signed, expired, declined, cancelled} exactly once; reminders
// are a counter on the side, not a state.
type Request struct {
	// ID format: ctq-{ulid_lowercase}.
	ID             string        `json:"id"`
	TokenID        string        `json:"token_id"`
	OrganizationID string        `json:"organization_id"`
	Kind           Kind          `json:"kind"`
	Recipient      Recipient     `json:"recipient"`
	Status         RequestStatus `json:"status"`

	// Timestamps are Unix milliseconds.
	CreatedAt  int64 `json:"created_at"`
	ExpiresAt  int64 `json:"expires_at"`
	ResolvedAt int64 `json:"resolved_at,omitempty"`

	ReminderCount int `json:"reminder_count"`
	MaxReminders  int `json:"max_reminders"`
	// ReminderInterval is in milliseconds.
	ReminderInterval int64 `json:"reminder_interval"`
	LastReminderAt   int64 `json:"last_reminder_at,omitempty"`

	// SessionID links attendance signature requests to their session.
	SessionID string `json:"session_id,omitempty"`

	// DeclineReason is set when the recipient declined.
	DeclineReason string `json:"decline_reason,omitempty"`

	Partition int `json:"partition"`
}

// NewRequest creates a pending request bound to token.
func NewRequest(t *Token, recipient Recipient, reminders ReminderPolicy, now time.Time) (*Request, error) {
	id, err := NewID(RequestIDPrefix, now)
	if err != nil {
		return nil, err
	}
	var sessionID string
	if t.Payload.Signature != nil {
		sessionID = t.Payload.Signature.SessionID
	}
	return &Request{
		ID:               id,
		SessionID:        sessionID,
		TokenID:          t.ID,
		OrganizationID:   t.Scope.OrganizationID,
		Kind:             t.Kind,
		Recipient:        recipient,
		Status:           RequestPending,
		CreatedAt:        now.UnixMilli(),
		ExpiresAt:        t.ExpiresAt,
		MaxReminders:     reminders.MaxReminders,
		ReminderInterval: reminders.Interval.Milliseconds(),
		Partition:        t.Partition,
	}, nil
}

// NextReminderAt returns when the next reminder falls due in Unix
// milliseconds, or 0 when no further reminder will be sent.
func (r *Request) NextReminderAt() int64 {
	if r.Status != RequestPending || r.ReminderCount >= r.MaxReminders || r.ReminderInterval <= 0 {
		return 0
	}
	last := r.LastReminderAt
	if last == 0 {
		last = r.CreatedAt
	}
	return last + r.ReminderInterval
}

// ReminderDue reports whether a reminder may be sent at now.
func (r *Request) ReminderDue(now time.Time) bool {
	ms := now.UnixMilli()
	next := r.NextReminderAt()
	return next != 0 && ms < r.ExpiresAt && ms >= next
}

// Validate validates request fields.
func (r *Request) Validate() error {
	var violations []string
	if r.TokenID == "" {
		violations = append(violations, "token_id is required")
	}
	if r.OrganizationID == "" {
		violations = append(violations, "organization_id is required")
	}
	if !r.Status.IsValid() {
		violations = append(violations, "invalid status")
	}
	if r.MaxReminders < 0 {
		violations = append(violations, "max_reminders must not be negative")
	}
	if len(violations) > 0 {
		return ErrPolicyViolation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

// Clone creates a copy of the request.
func (r *Request) Clone() *Request {
	c := *r
	return &c
}
