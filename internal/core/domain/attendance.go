package domain

import (
	"strings"
	"time"
)

// SessionStatus is the lifecycle status of an attendance session.
type SessionStatus string

const (
	SessionDraft     SessionStatus = "draft"
	SessionActive    SessionStatus = "active"
	SessionClosed    SessionStatus = "closed"
	SessionCancelled SessionStatus = "cancelled"
)

// AttendanceSession is an electronic attendance campaign over one class
// session. Launching it issues one attendance signature per enrolled
// attendee; closing it ends every outstanding request.
type AttendanceSession struct {
	// ID format: cts-{ulid_lowercase}.
	ID             string          `json:"id"`
	OrganizationID string          `json:"organization_id"`
	TargetType     string          `json:"target_type"`
	TargetID       string          `json:"target_id"`
	Title          string          `json:"title,omitempty"`
	Anchor         ProximityAnchor `json:"anchor"`
	Status         SessionStatus   `json:"status"`

	// TTL of the signature tokens issued at launch, in milliseconds.
	TokenTTL int64 `json:"token_ttl"`

	CreatedBy  string `json:"created_by,omitempty"`
	CreatedAt  int64  `json:"created_at"`
	LaunchedAt int64  `json:"launched_at,omitempty"`
	ClosedAt   int64  `json:"closed_at,omitempty"`
}

// NewAttendanceSession creates a draft session.
func NewAttendanceSession(orgID, targetType, targetID string, anchor ProximityAnchor, ttl time.Duration, now time.Time) (*AttendanceSession, error) {
	id, err := NewID(SessionIDPrefix, now)
	if err != nil {
		return nil, err
	}
	if anchor.AllowedRadiusMeters == 0 {
		anchor.AllowedRadiusMeters = DefaultAllowedRadiusMeters
	}
	return &AttendanceSession{
		ID:             id,
		OrganizationID: orgID,
		TargetType:     targetType,
		TargetID:       targetID,
		Anchor:         anchor,
		Status:         SessionDraft,
		TokenTTL:       ttl.Milliseconds(),
		CreatedAt:      now.UnixMilli(),
	}, nil
}

// Validate validates session fields.
func (s *AttendanceSession) Validate() error {
	var violations []string
	if s.OrganizationID == "" {
		violations = append(violations, "organization_id is required")
	}
	if s.TargetType == "" || s.TargetID == "" {
		violations = append(violations, "target is required")
	}
	if s.TokenTTL <= 0 {
		violations = append(violations, "token_ttl must be positive")
	}
	if err := s.Anchor.Validate(); err != nil {
		violations = append(violations, err.(*DomainError).Details)
	}
	if len(violations) > 0 {
		return ErrSessionValidation.WithDetails(strings.Join(violations, "; "))
	}
	return nil
}

// CanTransition reports whether the session may move from its status to next.
func (s *AttendanceSession) CanTransition(next SessionStatus) bool {
	switch s.Status {
	case SessionDraft:
		return next == SessionActive || next == SessionCancelled
	case SessionActive:
		return next == SessionClosed || next == SessionCancelled
	}
	return false
}

// Clone creates a deep copy of the session.
func (s *AttendanceSession) Clone() *AttendanceSession {
	c := *s
	if a := s.Anchor.Clone(); a != nil {
		c.Anchor = *a
	}
	return &c
}
