package service

import (
	"context"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
)

// Directory resolves the organizations, subjects and targets that token
// scopes refer to.
type Directory interface {
	// Organization returns the organization or ErrEntityNotFound.
	Organization(ctx context.Context, orgID string) (*domain.Entity, error)

	// Lookup returns the entity of entityType owned by orgID, or
	// ErrEntityNotFound when it does not exist in that organization.
	Lookup(ctx context.Context, orgID, entityType, id string) (*domain.Entity, error)

	// Enrolled returns the subjects enrolled in a target.
	Enrolled(ctx context.Context, orgID, targetType, targetID string) ([]*domain.Entity, error)
}

// Notification templates.
const (
	TemplateIssued          = "token.issued"
	TemplateSignRequest     = "request.created"
	TemplateReminder        = "request.reminder"
	TemplateTokenExpired    = "token.expired"
	TemplateRequestExpired  = "request.expired"
	TemplateRequestDeclined = "request.declined"
)

// Notifier delivers notifications. Callers treat failures as best effort.
type Notifier interface {
	Send(ctx context.Context, to domain.Recipient, template string, vars map[string]string) error
}

// AuditSink receives audit entries. Record must not block or fail the caller.
type AuditSink interface {
	Record(e *domain.AuditEntry)
}

// Metrics receives service counters.
type Metrics interface {
	TokenIssued(kind string)
	TokenValidated(kind, outcome string)
	TokenConsumed(kind, outcome string)
	TokenRevoked(kind string)
	ProximityChecked(kind string, distance float64, passed bool)
	SweepCompleted(tokens, requests, reminders, failures int, d time.Duration)
}

// ValueSealer encrypts token plaintexts at rest so reminder links can be
// rebuilt. additionalData binds the ciphertext to its token.
type ValueSealer interface {
	Encrypt(plaintext, additionalData []byte) ([]byte, error)
	Decrypt(ciphertext, additionalData []byte) ([]byte, error)
}

// EvidenceSealer computes integrity seals over signing evidence.
type EvidenceSealer interface {
	Seal(fields ...string) string
}

// IdentityVerifier turns a bearer assertion into the signer's subject ID.
type IdentityVerifier interface {
	VerifyIdentity(ctx context.Context, assertion string) (subjectID string, err error)
}

type nopNotifier struct{}

func (nopNotifier) Send(context.Context, domain.Recipient, string, map[string]string) error {
	return nil
}

type nopAudit struct{}

func (nopAudit) Record(*domain.AuditEntry) {}

type nopMetrics struct{}

func (nopMetrics) TokenIssued(string)                               {}
func (nopMetrics) TokenValidated(string, string)                    {}
func (nopMetrics) TokenConsumed(string, string)                     {}
func (nopMetrics) TokenRevoked(string)                              {}
func (nopMetrics) ProximityChecked(string, float64, bool)           {}
func (nopMetrics) SweepCompleted(int, int, int, int, time.Duration) {}
