package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
)

func TestSweepOnce_ExpiresIdempotently(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	access := learnerAccess()
	access.Policy = &domain.Policy{TTL: time.Hour, Unlimited: true}
	la := h.issue(t, access)
	doc := documentSignature()
	doc.Policy = &domain.Policy{TTL: time.Hour, OneShot: true}
	ds := h.issue(t, doc)
	qr := qrCheckIn(5)
	qr.Policy.TTL = 4 * time.Hour
	h.issue(t, qr)

	sw := service.NewSweeper(h.svc, nil, nil)
	h.clock.Advance(90 * time.Minute)

	first, err := sw.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if first.ExpiredTokens != 2 || first.ExpiredRequests != 1 {
		t.Errorf("first sweep = %+v, want 2 tokens and 1 request", first)
	}

	second, err := sw.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("second SweepOnce() error = %v", err)
	}
	if second.ExpiredTokens != 0 || second.ExpiredRequests != 0 {
		t.Errorf("second sweep = %+v, want nothing to do", second)
	}

	tok, _ := h.store.GetToken(ctx, la.Token.ID)
	if tok.Status != domain.StatusExpired {
		t.Errorf("learner access status = %s, want expired", tok.Status)
	}
	req, _ := h.store.GetRequest(ctx, ds.Request.ID)
	if req.Status != domain.RequestExpired {
		t.Errorf("request status = %s, want expired", req.Status)
	}
	if got := h.notifier.count(service.TemplateTokenExpired); got != 2 {
		t.Errorf("token expired notifications = %d, want 2", got)
	}
	if got := h.notifier.count(service.TemplateRequestExpired); got != 1 {
		t.Errorf("request expired notifications = %d, want 1", got)
	}
	if got := len(h.audit.codes(domain.AuditExpire)); got != 2 {
		t.Errorf("expire audit entries = %d, want 2", got)
	}
}

func TestSweepOnce_NotifiesEveryExpiredKind(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	qr := qrCheckIn(30)
	qr.Policy.TTL = time.Minute
	res := h.issue(t, qr)

	h.clock.Advance(2 * time.Minute)
	report, err := service.NewSweeper(h.svc, nil, nil).SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if report.ExpiredTokens != 1 {
		t.Fatalf("ExpiredTokens = %d, want 1", report.ExpiredTokens)
	}
	if got := h.notifier.count(service.TemplateTokenExpired); got != 1 {
		t.Errorf("token expired notifications = %d, want 1", got)
	}
	sent, ok := h.notifier.last(service.TemplateTokenExpired)
	if !ok || sent.vars["token_id"] != res.Token.ID || sent.vars["kind"] != string(domain.KindQRCheckIn) {
		t.Errorf("token expired notification = %+v", sent)
	}
}

func TestSweepOnce_ReminderCap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.issue(t, documentSignature())
	sw := service.NewSweeper(h.svc, nil, nil)

	sent := 0
	for day := 0; day < 6*7; day++ {
		h.clock.Advance(24 * time.Hour)
		report, err := sw.SweepOnce(ctx)
		if err != nil {
			t.Fatalf("SweepOnce() error = %v", err)
		}
		sent += report.RemindersSent
	}
	if sent != 3 {
		t.Errorf("reminders sent = %d, want 3", sent)
	}
	if got := h.notifier.count(service.TemplateReminder); got != 3 {
		t.Errorf("reminder notifications = %d, want 3", got)
	}
	n, _ := h.notifier.last(service.TemplateReminder)
	if n.vars["link"] != res.Link || n.vars["reminder"] != "3" {
		t.Errorf("last reminder vars = %v", n.vars)
	}
	req, _ := h.store.GetRequest(ctx, res.Request.ID)
	if req.ReminderCount != 3 {
		t.Errorf("ReminderCount = %d, want 3", req.ReminderCount)
	}
}

func TestSweepOnce_FailedReminderReleasesClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.issue(t, documentSignature())
	sw := service.NewSweeper(h.svc, nil, nil)

	h.notifier.fail = errors.New("smtp down")
	h.clock.Advance(8 * 24 * time.Hour)
	report, err := sw.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if report.ReminderFailures != 1 || report.RemindersSent != 0 {
		t.Errorf("report = %+v, want one failure", report)
	}
	req, _ := h.store.GetRequest(ctx, res.Request.ID)
	if req.ReminderCount != 0 || req.LastReminderAt != 0 {
		t.Errorf("request after failed send = count %d last %d, want released", req.ReminderCount, req.LastReminderAt)
	}

	h.notifier.fail = nil
	report, _ = sw.SweepOnce(ctx)
	if report.RemindersSent != 1 {
		t.Errorf("retry sweep reminders = %d, want 1", report.RemindersSent)
	}
}

func TestSweepOnce_NoReminderAfterSigning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res := h.issue(t, documentSignature())
	if _, err := h.svc.CaptureSignature(ctx, &service.SignatureRequest{Value: res.Value, Signature: evidence()}); err != nil {
		t.Fatalf("CaptureSignature() error = %v", err)
	}
	sw := service.NewSweeper(h.svc, nil, nil)
	h.clock.Advance(8 * 24 * time.Hour)
	report, _ := sw.SweepOnce(ctx)
	if report.RemindersSent != 0 {
		t.Errorf("reminders after signing = %d, want 0", report.RemindersSent)
	}
}

type fakeLocker struct {
	mu     sync.Mutex
	owners map[string]string
	id     string
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if owner, ok := l.owners[key]; ok && owner != l.id {
		return false, nil
	}
	l.owners[key] = l.id
	return true, nil
}

func (l *fakeLocker) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owners[key] == l.id {
		delete(l.owners, key)
	}
	return nil
}

func TestSweepOnce_PartitionLeadership(t *testing.T) {
	h := newHarness(t, func(c *service.TokenServiceConfig) { c.Partitions = 4 })
	ctx := context.Background()
	owners := make(map[string]string)
	// Another instance leads partitions 0 and 1.
	owners["captoken:sweeper:0"] = "other"
	owners["captoken:sweeper:1"] = "other"

	sw := service.NewSweeper(h.svc, &fakeLocker{owners: owners, id: "me"}, nil)
	report, err := sw.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce() error = %v", err)
	}
	if len(report.Partitions) != 2 || report.Partitions[0] != 2 || report.Partitions[1] != 3 {
		t.Errorf("Partitions = %v, want [2 3]", report.Partitions)
	}
}

func TestSweeperRun_StopsOnCancel(t *testing.T) {
	h := newHarness(t)
	sw := service.NewSweeper(h.svc, nil, &service.SweeperConfig{Interval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}
