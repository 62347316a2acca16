package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/storage/memory"
	"github.com/yndnr/captoken-go/pkg/clock"
	"github.com/yndnr/captoken-go/pkg/crypto/adaptive"
	"github.com/yndnr/captoken-go/pkg/crypto/seal"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeDirectory struct {
	entities map[string]*domain.Entity // type/id
	enrolled map[string][]*domain.Entity
	fail     error
}

func newFakeDirectory() *fakeDirectory {
	d := &fakeDirectory{
		entities: make(map[string]*domain.Entity),
		enrolled: make(map[string][]*domain.Entity),
	}
	d.add(domain.EntityOrganization, "org-a", "org-a")
	d.add(domain.EntityOrganization, "org-b", "org-b")
	d.add(domain.EntityClassSession, "c1", "org-a")
	d.add(domain.EntityDocument, "doc1", "org-a")
	d.add(domain.EntityTraining, "tr1", "org-a")
	for _, id := range []string{"s1", "s2", "s3"} {
		e := d.add(domain.EntityStudent, id, "org-a")
		d.enrolled["c1"] = append(d.enrolled["c1"], e)
	}
	d.add(domain.EntityStudent, "sb", "org-b")
	return d
}

func (d *fakeDirectory) add(typ, id, org string) *domain.Entity {
	e := &domain.Entity{Type: typ, ID: id, OrganizationID: org, Name: id, Address: id + "@example.org"}
	d.entities[typ+"/"+id] = e
	return e
}

func (d *fakeDirectory) Organization(ctx context.Context, orgID string) (*domain.Entity, error) {
	return d.Lookup(ctx, orgID, domain.EntityOrganization, orgID)
}

func (d *fakeDirectory) Lookup(_ context.Context, orgID, typ, id string) (*domain.Entity, error) {
	if d.fail != nil {
		return nil, d.fail
	}
	e, ok := d.entities[typ+"/"+id]
	if !ok || e.OrganizationID != orgID {
		return nil, domain.ErrEntityNotFound
	}
	return e, nil
}

func (d *fakeDirectory) Enrolled(_ context.Context, orgID, _, targetID string) ([]*domain.Entity, error) {
	var out []*domain.Entity
	for _, e := range d.enrolled[targetID] {
		if e.OrganizationID == orgID {
			out = append(out, e)
		}
	}
	return out, nil
}

type sentNotification struct {
	to       domain.Recipient
	template string
	vars     map[string]string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	fail error
}

func (n *recordingNotifier) Send(_ context.Context, to domain.Recipient, template string, vars map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, sentNotification{to: to, template: template, vars: vars})
	return nil
}

func (n *recordingNotifier) count(template string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.template == template {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) last(template string) (sentNotification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].template == template {
			return n.sent[i], true
		}
	}
	return sentNotification{}, false
}

type recordingAudit struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (a *recordingAudit) Record(e *domain.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, e)
}

func (a *recordingAudit) codes(action string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.entries {
		if e.Action == action {
			out = append(out, e.Code)
		}
	}
	return out
}

type harness struct {
	svc      *service.TokenService
	store    *memory.Store
	clock    *clock.FakeClock
	dir      *fakeDirectory
	notifier *recordingNotifier
	audit    *recordingAudit
	identity *service.JWTIdentityVerifier
	sealer   *seal.Sealer
}

func (h *harness) evidenceSealer() *seal.Sealer { return h.sealer }

func newHarness(t testing.TB, mutate ...func(*service.TokenServiceConfig)) *harness {
	t.Helper()
	cfg := service.DefaultTokenServiceConfig()
	for kind, p := range cfg.Kinds {
		p.LinkBaseURL = "https://links.example.org/" + string(kind)
		cfg.Kinds[kind] = p
	}
	for _, m := range mutate {
		m(cfg)
	}

	cipher, err := adaptive.New(make([]byte, 32))
	if err != nil {
		t.Fatalf("adaptive.New: %v", err)
	}
	sealer, err := seal.New(make([]byte, 32))
	if err != nil {
		t.Fatalf("seal.New: %v", err)
	}

	h := &harness{
		store:    memory.New(),
		clock:    clock.Fake(t0),
		dir:      newFakeDirectory(),
		notifier: &recordingNotifier{},
		audit:    &recordingAudit{},
		sealer:   sealer,
	}
	h.identity = service.NewJWTIdentityVerifier(service.JWTIdentityConfig{Secret: []byte("test-secret"), Issuer: "idp"}, h.clock)
	h.svc = service.NewTokenService(h.store, cfg,
		service.WithClock(h.clock),
		service.WithDirectory(h.dir),
		service.WithNotifier(h.notifier),
		service.WithAudit(h.audit),
		service.WithValueSealer(cipher),
		service.WithEvidenceSealer(sealer),
		service.WithIdentityVerifier(h.identity),
	)
	return h
}

func scopeFor(subject, targetType, target string) domain.Scope {
	return domain.Scope{
		OrganizationID: "org-a",
		SubjectType:    domain.EntityStudent,
		SubjectID:      subject,
		TargetType:     targetType,
		TargetID:       target,
	}
}

func ptr(f float64) *float64 { return &f }

// parisAnchor is the geofence used by the proximity examples.
func parisAnchor() *domain.ProximityAnchor {
	return &domain.ProximityAnchor{
		Latitude:            ptr(48.8566),
		Longitude:           ptr(2.3522),
		AllowedRadiusMeters: 100,
		RequireGeolocation:  true,
	}
}

func (h *harness) issue(t *testing.T, req *service.IssueRequest) *service.IssueResult {
	t.Helper()
	res, err := h.svc.Issue(context.Background(), req)
	if err != nil {
		t.Fatalf("Issue(%s): %v", req.Kind, err)
	}
	return res
}

func wantErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("err = %v, want %v", err, target)
	}
}
