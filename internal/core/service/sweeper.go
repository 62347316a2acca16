package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/telemetry/logger"
)

// Locker grants leadership over a sweep partition to one instance at a time.
type Locker interface {
	// TryLock acquires the lock, or renews it when this instance already
	// holds it. It reports whether the lock is held on return.
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Unlock releases the lock if this instance holds it.
	Unlock(ctx context.Context, key string) error
}

// SweeperConfig holds configuration for the Sweeper.
type SweeperConfig struct {
	// Interval between sweep cycles (default: 1m).
	Interval time.Duration

	// BatchSize caps the rows handled per step and cycle (default: 500).
	BatchSize int

	// LockTTL is the leader lock lease (default: 3x Interval).
	LockTTL time.Duration

	// LockPrefix namespaces partition lock keys.
	LockPrefix string
}

// DefaultSweeperConfig returns default configuration.
func DefaultSweeperConfig() *SweeperConfig {
	return &SweeperConfig{
		Interval:   time.Minute,
		BatchSize:  500,
		LockTTL:    3 * time.Minute,
		LockPrefix: "captoken:sweeper:",
	}
}

// SweepReport summarizes one sweep cycle.
type SweepReport struct {
	Partitions       []int `json:"partitions"`
	ExpiredTokens    int   `json:"expired_tokens"`
	ExpiredRequests  int   `json:"expired_requests"`
	RemindersSent    int   `json:"reminders_sent"`
	ReminderFailures int   `json:"reminder_failures"`
	Failures         int   `json:"failures"`
}

// Sweeper moves expired tokens and requests to their terminal state and
// sends due reminders. Expiry is also evaluated lazily on every read, so a
// late sweep never lets an expired token through.
type Sweeper struct {
	svc    *TokenService
	locker Locker
	cfg    *SweeperConfig

	mu   sync.Mutex
	held map[int]bool
}

// NewSweeper creates a sweeper. A nil locker makes this instance the
// leader of every partition.
func NewSweeper(svc *TokenService, locker Locker, cfg *SweeperConfig) *Sweeper {
	if cfg == nil {
		cfg = DefaultSweeperConfig()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 3 * cfg.Interval
	}
	return &Sweeper{svc: svc, locker: locker, cfg: cfg, held: make(map[int]bool)}
}

// Run sweeps every interval until ctx is cancelled, then releases held locks.
func (w *Sweeper) Run(ctx context.Context) error {
	log := logger.L(ctx).With("component", "sweeper")
	log.Info("sweeper started", "interval", w.cfg.Interval.String())

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			log.Error("sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.release(context.Background())
			log.Info("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce runs one cycle over the partitions this instance leads.
func (w *Sweeper) SweepOnce(ctx context.Context) (*SweepReport, error) {
	start := time.Now()
	report := &SweepReport{Partitions: w.acquire(ctx)}
	if len(report.Partitions) == 0 {
		return report, nil
	}

	s := w.svc
	log := logger.L(ctx).With("component", "sweeper")
	f := SweepFilter{Now: s.clock.Now(), Partitions: report.Partitions, Limit: w.cfg.BatchSize}

	tokens, err := s.store.ExpireTokens(ctx, f)
	if err != nil {
		report.Failures++
		log.Error("token expiry step failed", "error", err)
	}
	for _, t := range tokens {
		report.ExpiredTokens++
		s.record(ctx, domain.AuditExpire, t, nil, "")
		_ = s.notify(ctx, s.tokenRecipient(ctx, t), TemplateTokenExpired, map[string]string{
			"token_id": t.ID,
			"kind":     string(t.Kind),
		})
	}

	requests, err := s.store.ExpireRequests(ctx, f)
	if err != nil {
		report.Failures++
		log.Error("request expiry step failed", "error", err)
	}
	for _, r := range requests {
		report.ExpiredRequests++
		_ = s.notify(ctx, r.Recipient, TemplateRequestExpired, map[string]string{
			"request_id": r.ID,
			"kind":       string(r.Kind),
		})
	}

	due, err := s.store.ListReminderDue(ctx, f)
	if err != nil {
		report.Failures++
		log.Error("reminder listing failed", "error", err)
	}
	for _, r := range due {
		sent, err := w.remind(ctx, r, f.Now)
		switch {
		case err != nil:
			report.ReminderFailures++
			log.Warn("reminder not sent", "request_id", r.ID, "error", err)
		case sent:
			report.RemindersSent++
		}
	}

	s.metrics.SweepCompleted(report.ExpiredTokens, report.ExpiredRequests,
		report.RemindersSent, report.Failures+report.ReminderFailures, time.Since(start))
	if report.ExpiredTokens+report.ExpiredRequests+report.RemindersSent > 0 {
		log.Info("sweep completed",
			"expired_tokens", report.ExpiredTokens,
			"expired_requests", report.ExpiredRequests,
			"reminders", report.RemindersSent,
		)
	}
	return report, nil
}

// remind claims the next reminder slot before sending, so concurrent
// sweepers can never exceed the cap. A failed send gives the slot back.
func (w *Sweeper) remind(ctx context.Context, r *domain.Request, now time.Time) (bool, error) {
	s := w.svc
	claimed, err := s.store.ClaimReminder(ctx, r.ID, r.ReminderCount, now)
	if err != nil || !claimed {
		return false, err
	}

	vars := map[string]string{
		"request_id":      r.ID,
		"kind":            string(r.Kind),
		"reminder":        strconv.Itoa(r.ReminderCount + 1),
		"max_reminders":   strconv.Itoa(r.MaxReminders),
		"expires_at":      strconv.FormatInt(r.ExpiresAt, 10),
		"organization_id": r.OrganizationID,
	}
	if t, err := s.store.GetToken(ctx, r.TokenID); err == nil {
		if value, ok := s.openValue(t); ok {
			vars["link"] = s.link(t.Kind, value)
		}
	}

	if err := s.notifier.Send(ctx, r.Recipient, TemplateReminder, vars); err != nil {
		if rerr := s.store.ReleaseReminder(ctx, r.ID, r.ReminderCount+1, r.LastReminderAt); rerr != nil {
			logger.L(ctx).Error("reminder claim not released", "request_id", r.ID, "error", rerr)
		}
		return false, err
	}

	entry := domain.NewAuditEntry(domain.AuditReminder, nil, nil, now)
	entry.OrganizationID = r.OrganizationID
	entry.TokenID = r.TokenID
	entry.Kind = r.Kind
	entry.Detail = r.ID
	s.audit.Record(entry)
	return true, nil
}

// acquire returns the partitions this instance leads for this cycle.
func (w *Sweeper) acquire(ctx context.Context) []int {
	n := w.svc.cfg.Partitions
	owned := make([]int, 0, n)
	if w.locker == nil {
		for p := 0; p < n; p++ {
			owned = append(owned, p)
		}
		return owned
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for p := 0; p < n; p++ {
		ok, err := w.locker.TryLock(ctx, w.lockKey(p), w.cfg.LockTTL)
		if err != nil {
			logger.L(ctx).Warn("sweeper lock failed", "partition", p, "error", err)
			ok = false
		}
		if ok {
			owned = append(owned, p)
			w.held[p] = true
		} else {
			delete(w.held, p)
		}
	}
	return owned
}

func (w *Sweeper) release(ctx context.Context) {
	if w.locker == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for p := range w.held {
		if err := w.locker.Unlock(ctx, w.lockKey(p)); err != nil {
			logger.L(ctx).Warn("sweeper unlock failed", "partition", p, "error", err)
		}
		delete(w.held, p)
	}
}

func (w *Sweeper) lockKey(partition int) string {
	return w.cfg.LockPrefix + strconv.Itoa(partition)
}

// tokenRecipient resolves the notification recipient of a token subject.
func (s *TokenService) tokenRecipient(ctx context.Context, t *domain.Token) domain.Recipient {
	if s.directory != nil {
		e, err := s.directory.Lookup(ctx, t.Scope.OrganizationID, t.Scope.SubjectType, t.Scope.SubjectID)
		if err == nil {
			return e.Recipient(domain.RecipientTypeFor(e.Type))
		}
	}
	return domain.Recipient{
		SubjectType:   t.Scope.SubjectType,
		SubjectID:     t.Scope.SubjectID,
		RecipientType: domain.RecipientTypeFor(t.Scope.SubjectType),
	}
}
