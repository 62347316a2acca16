package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/telemetry/logger"
	"github.com/yndnr/captoken-go/pkg/clock"
)

// KindPolicy holds the issuance defaults of one token kind.
type KindPolicy struct {
	TTL                  time.Duration
	MaxUses              int64
	OneShot              bool
	Unlimited            bool
	IdentityMode         domain.IdentityMode
	ConsumeOnFailedCheck bool

	// Reminder settings, signature kinds only.
	MaxReminders      int
	ReminderFrequency domain.ReminderFrequency

	// LinkBaseURL is prefixed to token values to build links. Empty
	// disables links for the kind.
	LinkBaseURL string
}

// Policy returns the validity policy described by p.
func (p KindPolicy) Policy() domain.Policy {
	return domain.Policy{
		TTL:                  p.TTL,
		MaxUses:              p.MaxUses,
		OneShot:              p.OneShot,
		Unlimited:            p.Unlimited,
		IdentityMode:         p.IdentityMode,
		ConsumeOnFailedCheck: p.ConsumeOnFailedCheck,
	}
}

// Reminders returns the reminder policy described by p.
func (p KindPolicy) Reminders() domain.ReminderPolicy {
	return domain.ReminderPolicyFor(p.ReminderFrequency, p.MaxReminders)
}

// Scope ID formats.
const (
	ScopeIDAny  = "any"
	ScopeIDUUID = "uuid"
)

// TokenServiceConfig holds configuration for TokenService.
type TokenServiceConfig struct {
	Kinds map[domain.Kind]KindPolicy

	// MaxAccuracyTolerance caps how much reported GPS inaccuracy widens the
	// geofence, in meters (default: 50).
	MaxAccuracyTolerance float64

	// Partitions is the number of sweeper partitions (default: 1).
	Partitions int

	// MaxIssueRetries bounds value regeneration on hash collision (default: 3).
	MaxIssueRetries int

	// RequireAttestation rejects signatures without the attestation flag.
	RequireAttestation bool

	// MaxBulkSubjects bounds one bulk issuance (default: 500).
	MaxBulkSubjects int

	// ScopeIDFormat is "any" or "uuid" (organization IDs must be UUIDs).
	ScopeIDFormat string
}

// DefaultTokenServiceConfig returns default configuration.
func DefaultTokenServiceConfig() *TokenServiceConfig {
	day := 24 * time.Hour
	return &TokenServiceConfig{
		Kinds: map[domain.Kind]KindPolicy{
			domain.KindLearnerAccess: {
				TTL: 30 * day, Unlimited: true, IdentityMode: domain.IdentityAnonymous,
			},
			domain.KindQRCheckIn: {
				TTL: 4 * time.Hour, MaxUses: 200, IdentityMode: domain.IdentityAnonymous,
			},
			domain.KindAttendanceSignature: {
				TTL: day, OneShot: true, IdentityMode: domain.IdentityAnonymous,
				MaxReminders: 3, ReminderFrequency: domain.ReminderDaily,
			},
			domain.KindDocumentSignature: {
				TTL: 30 * day, OneShot: true, IdentityMode: domain.IdentityAnonymous,
				MaxReminders: 3, ReminderFrequency: domain.ReminderWeekly,
			},
		},
		MaxAccuracyTolerance: 50,
		Partitions:           1,
		MaxIssueRetries:      3,
		RequireAttestation:   true,
		MaxBulkSubjects:      500,
		ScopeIDFormat:        ScopeIDAny,
	}
}

// TokenService issues, validates and consumes capability tokens.
type TokenService struct {
	store     Store
	clock     clock.Clock
	directory Directory
	notifier  Notifier
	audit     AuditSink
	metrics   Metrics
	values    ValueSealer
	evidence  EvidenceSealer
	identity  IdentityVerifier
	proximity *ProximityVerifier
	cfg       *TokenServiceConfig
}

// TokenServiceOption configures optional collaborators.
type TokenServiceOption func(*TokenService)

// WithClock sets the time source.
func WithClock(c clock.Clock) TokenServiceOption {
	return func(s *TokenService) { s.clock = c }
}

// WithDirectory sets the entity directory used to check scopes.
func WithDirectory(d Directory) TokenServiceOption {
	return func(s *TokenService) { s.directory = d }
}

// WithNotifier sets the notification dispatcher.
func WithNotifier(n Notifier) TokenServiceOption {
	return func(s *TokenService) { s.notifier = n }
}

// WithAudit sets the audit sink.
func WithAudit(a AuditSink) TokenServiceOption {
	return func(s *TokenService) { s.audit = a }
}

// WithMetrics sets the metrics receiver.
func WithMetrics(m Metrics) TokenServiceOption {
	return func(s *TokenService) { s.metrics = m }
}

// WithValueSealer enables at-rest encryption of token values.
func WithValueSealer(v ValueSealer) TokenServiceOption {
	return func(s *TokenService) { s.values = v }
}

// WithEvidenceSealer enables integrity seals on signing records.
func WithEvidenceSealer(e EvidenceSealer) TokenServiceOption {
	return func(s *TokenService) { s.evidence = e }
}

// WithIdentityVerifier sets the verifier for authenticated signing.
func WithIdentityVerifier(v IdentityVerifier) TokenServiceOption {
	return func(s *TokenService) { s.identity = v }
}

// NewTokenService creates a new TokenService.
func NewTokenService(store Store, cfg *TokenServiceConfig, opts ...TokenServiceOption) *TokenService {
	if cfg == nil {
		cfg = DefaultTokenServiceConfig()
	}
	if cfg.MaxIssueRetries <= 0 {
		cfg.MaxIssueRetries = 3
	}
	if cfg.Partitions <= 0 {
		cfg.Partitions = 1
	}
	if cfg.MaxBulkSubjects <= 0 {
		cfg.MaxBulkSubjects = 500
	}

	s := &TokenService{
		store:    store,
		clock:    clock.Real(),
		notifier: nopNotifier{},
		audit:    nopAudit{},
		metrics:  nopMetrics{},
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.proximity = NewProximityVerifier(cfg.MaxAccuracyTolerance)
	return s
}

// Config returns the service configuration.
func (s *TokenService) Config() *TokenServiceConfig {
	return s.cfg
}

// Now returns the service clock time.
func (s *TokenService) Now() time.Time {
	return s.clock.Now()
}

// GetToken returns a token for staff. orgID, when set, must own the token.
func (s *TokenService) GetToken(ctx context.Context, id, orgID string) (*domain.Token, error) {
	t, err := s.store.GetToken(ctx, id)
	if err != nil {
		return nil, err
	}
	if orgID != "" && t.Scope.OrganizationID != orgID {
		return nil, domain.ErrTokenNotFound
	}
	return t, nil
}

// ListRecords returns the records of a token for staff.
func (s *TokenService) ListRecords(ctx context.Context, tokenID, orgID string) ([]*domain.Record, error) {
	if _, err := s.GetToken(ctx, tokenID, orgID); err != nil {
		return nil, err
	}
	return s.store.ListRecords(ctx, tokenID)
}

// ListTokens returns tokens matching filter.
func (s *TokenService) ListTokens(ctx context.Context, filter TokenFilter) ([]*domain.Token, error) {
	return s.store.ListTokens(ctx, filter)
}

// lookup resolves a presented value. Malformed values never reach the store.
func (s *TokenService) lookup(ctx context.Context, value string) (*domain.Token, error) {
	kind, ok := domain.ParseTokenValue(value)
	if !ok {
		return nil, domain.ErrTokenMalformed
	}
	t, err := s.store.GetTokenByHash(ctx, domain.HashTokenValue(value))
	if err != nil {
		return nil, err
	}
	if t.Kind != kind {
		return nil, domain.ErrTokenNotFound
	}
	return t, nil
}

// link builds the public link for value, or "" when the kind has none.
func (s *TokenService) link(kind domain.Kind, value string) string {
	base := s.cfg.Kinds[kind].LinkBaseURL
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/" + value
}

// openValue recovers the plaintext of a sealed token value.
func (s *TokenService) openValue(t *domain.Token) (string, bool) {
	if s.values == nil || len(t.SealedValue) == 0 {
		return "", false
	}
	b, err := s.values.Decrypt(t.SealedValue, []byte(t.ID))
	if err != nil {
		return "", false
	}
	return string(b), true
}

func (s *TokenService) validateScopeIDs(scope domain.Scope) error {
	if s.cfg.ScopeIDFormat != ScopeIDUUID {
		return nil
	}
	if _, err := uuid.Parse(scope.OrganizationID); err != nil {
		return domain.ErrInvalidScope.WithDetails("organization_id must be a UUID")
	}
	return nil
}

// checkScope confirms the scope entities exist in the scope organization.
// It returns the subject entity, or nil when no directory is configured.
func (s *TokenService) checkScope(ctx context.Context, scope domain.Scope) (*domain.Entity, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := s.validateScopeIDs(scope); err != nil {
		return nil, err
	}
	if s.directory == nil {
		return nil, nil
	}

	if _, err := s.directory.Organization(ctx, scope.OrganizationID); err != nil {
		return nil, scopeError(err, "unknown organization")
	}
	subject, err := s.directory.Lookup(ctx, scope.OrganizationID, scope.SubjectType, scope.SubjectID)
	if err != nil {
		return nil, scopeError(err, "unknown subject "+scope.SubjectType+"/"+scope.SubjectID)
	}
	if _, err := s.directory.Lookup(ctx, scope.OrganizationID, scope.TargetType, scope.TargetID); err != nil {
		return nil, scopeError(err, "unknown target "+scope.TargetType+"/"+scope.TargetID)
	}
	return subject, nil
}

func scopeError(err error, details string) error {
	if errors.Is(err, domain.ErrEntityNotFound) {
		return domain.ErrInvalidScope.WithDetails(details)
	}
	return domain.ErrDirectoryUnavailable.WithCause(err)
}

// notify sends a notification and logs failures. It never fails the caller.
func (s *TokenService) notify(ctx context.Context, to domain.Recipient, template string, vars map[string]string) error {
	if to.Address == "" && to.SubjectID == "" {
		return nil
	}
	err := s.notifier.Send(ctx, to, template, vars)
	if err != nil {
		logger.L(ctx).Warn("notification failed",
			"template", template,
			"subject_id", to.SubjectID,
			"error", err,
		)
	}
	return err
}

// record sends an audit entry for an attempt on t.
func (s *TokenService) record(ctx context.Context, action string, t *domain.Token, err error, detail string) {
	e := domain.NewAuditEntry(action, t, err, s.clock.Now())
	e.Actor = logger.ActorFromContext(ctx)
	e.ClientIP = ClientIPFromContext(ctx)
	e.Detail = detail
	s.audit.Record(e)
}

// outcome is the metrics label of err.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := domain.GetErrorCode(err); code != "" {
		return code
	}
	return "error"
}

func kindLabel(t *domain.Token, fallback domain.Kind) string {
	if t != nil {
		return string(t.Kind)
	}
	if fallback != "" {
		return string(fallback)
	}
	return "unknown"
}

type clientIPKey struct{}

// WithClientIP attaches the presenting client's IP to ctx for auditing.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

type staffKeyKey struct{}

// WithStaffKey attaches the authenticated staff API key to ctx.
func WithStaffKey(ctx context.Context, k *domain.APIKey) context.Context {
	return context.WithValue(ctx, staffKeyKey{}, k)
}

// StaffKeyFromContext returns the staff API key in ctx, or nil.
func StaffKeyFromContext(ctx context.Context) *domain.APIKey {
	k, _ := ctx.Value(staffKeyKey{}).(*domain.APIKey)
	return k
}

// ClientIPFromContext returns the client IP in ctx, or "".
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
