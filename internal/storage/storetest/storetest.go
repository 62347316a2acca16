// Package storetest holds the behavior every service.Store implementation
// must share. Backends run it from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
)

// Opener returns an empty store. It is called once per subtest.
type Opener func(t *testing.T) service.Store

// Run runs the store contract against stores returned by open.
func Run(t *testing.T, open Opener) {
	cases := []struct {
		name string
		fn   func(t *testing.T, store service.Store)
	}{
		{"CreateAndLookup", testCreateAndLookup},
		{"ConsumeOneShotRace", testConsumeOneShotRace},
		{"ConsumeMultiUseExhausts", testConsumeMultiUseExhausts},
		{"UniquePresenter", testUniquePresenter},
		{"ConsumeResolvesRequest", testConsumeResolvesRequest},
		{"RevokeIdempotent", testRevokeIdempotent},
		{"ExpireIdempotent", testExpireIdempotent},
		{"ReminderClaim", testReminderClaim},
		{"ReminderDueLimit", testReminderDueLimit},
		{"AttendanceTransitions", testAttendanceTransitions},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := open(t)
			t.Cleanup(func() { _ = store.Close() })
			tc.fn(t, store)
		})
	}
}

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newToken(t *testing.T, kind domain.Kind, maxUses int64) *domain.Token {
	t.Helper()
	id, err := domain.NewID(domain.TokenIDPrefix, testNow)
	if err != nil {
		t.Fatalf("NewID: %v", err)
	}
	_, hash, err := domain.GenerateTokenValue(kind)
	if err != nil {
		t.Fatalf("GenerateTokenValue: %v", err)
	}
	tok := &domain.Token{
		ID:        id,
		ValueHash: hash,
		Kind:      kind,
		Scope: domain.Scope{
			OrganizationID: "org-a", SubjectType: "student", SubjectID: "s1",
			TargetType: "class_session", TargetID: "c1",
		},
		IssuedAt:  testNow.UnixMilli(),
		ExpiresAt: testNow.Add(time.Hour).UnixMilli(),
		Status:    domain.StatusActive,
	}
	switch {
	case maxUses == 1:
		tok.OneShot = true
	case maxUses > 1:
		tok.MaxUses = maxUses
	default:
		tok.Unlimited = true
	}
	return tok
}

func newRecord(t *testing.T, tok *domain.Token, presenter string) *domain.Record {
	t.Helper()
	r, err := domain.NewRecord(tok, testNow)
	if err != nil {
		t.Fatalf("NewRecord: %v", err)
	}
	r.Presenter = presenter
	r.Valid = true
	return r
}

func testCreateAndLookup(t *testing.T, store service.Store) {
	ctx := context.Background()
	tok := newToken(t, domain.KindQRCheckIn, 10)

	if err := store.CreateToken(ctx, tok, nil); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	got, err := store.GetTokenByHash(ctx, tok.ValueHash)
	if err != nil {
		t.Fatalf("GetTokenByHash: %v", err)
	}
	if got.ID != tok.ID {
		t.Errorf("GetTokenByHash ID = %q, want %q", got.ID, tok.ID)
	}

	got.UseCount = 99
	again, _ := store.GetToken(ctx, tok.ID)
	if again.UseCount != 0 {
		t.Error("returned token aliases stored snapshot")
	}

	if _, err := store.GetToken(ctx, "ctk-missing"); !errors.Is(err, domain.ErrTokenNotFound) {
		t.Errorf("GetToken(missing) = %v, want ErrTokenNotFound", err)
	}

	dup := newToken(t, domain.KindQRCheckIn, 10)
	dup.ValueHash = tok.ValueHash
	if err := store.CreateToken(ctx, dup, nil); !errors.Is(err, domain.ErrTokenHashConflict) {
		t.Errorf("CreateToken(dup hash) = %v, want ErrTokenHashConflict", err)
	}

	list, _ := store.ListTokens(ctx, service.TokenFilter{OrganizationID: "org-a"})
	if len(list) != 1 {
		t.Errorf("ListTokens = %d, want 1", len(list))
	}
	list, _ = store.ListTokens(ctx, service.TokenFilter{OrganizationID: "org-b"})
	if len(list) != 0 {
		t.Errorf("ListTokens(org-b) = %d, want 0", len(list))
	}
}

func testConsumeOneShotRace(t *testing.T, store service.Store) {
	ctx := context.Background()
	tok := newToken(t, domain.KindLearnerAccess, 1)
	if err := store.CreateToken(ctx, tok, nil); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	const k = 32
	recs := make([]*domain.Record, k)
	for i := range recs {
		recs[i] = newRecord(t, tok, "")
	}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		success  int
		consumed int
	)
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func(rec *domain.Record) {
			defer wg.Done()
			_, err := store.ConsumeToken(ctx, service.ConsumeParams{
				TokenID: tok.ID, Now: testNow, Record: rec,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, domain.ErrTokenAlreadyConsumed):
				consumed++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(recs[i])
	}
	wg.Wait()

	if success != 1 || consumed != k-1 {
		t.Errorf("success=%d consumed=%d, want 1 and %d", success, consumed, k-1)
	}
	stored, _ := store.ListRecords(ctx, tok.ID)
	if len(stored) != 1 {
		t.Errorf("records = %d, want 1", len(stored))
	}
}

func testConsumeMultiUseExhausts(t *testing.T, store service.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	const m = 100
	tok := newToken(t, domain.KindQRCheckIn, m)
	if err := store.CreateToken(ctx, tok, nil); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	results := make(chan error, 2*m)
	for i := 0; i < 2*m; i++ {
		rec := newRecord(t, tok, "")
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := store.ConsumeToken(ctx, service.ConsumeParams{
				TokenID: tok.ID, Now: testNow, Record: rec,
			})
			results <- err
		}()
	}
	close(start)
	wg.Wait()
	close(results)

	var ok, exhausted int
	other := map[string]int{}
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrTokenExhausted):
			exhausted++
		default:
			other[err.Error()]++
		}
	}
	if ok != m || exhausted != m {
		t.Errorf("ok=%d exhausted=%d other=%v, want %d each", ok, exhausted, other, m)
	}
	got, _ := store.GetToken(ctx, tok.ID)
	if got.UseCount != m || got.Status != domain.StatusExhausted {
		t.Errorf("use_count=%d status=%s", got.UseCount, got.Status)
	}

	recs, _ := store.ListRecords(ctx, tok.ID)
	if len(recs) != m {
		t.Errorf("records = %d, want %d", len(recs), m)
	}
	for i, r := range recs {
		if r.Sequence != int64(i+1) {
			t.Errorf("record %d sequence = %d", i, r.Sequence)
		}
	}
}

func testUniquePresenter(t *testing.T, store service.Store) {
	ctx := context.Background()
	tok := newToken(t, domain.KindQRCheckIn, 10)
	_ = store.CreateToken(ctx, tok, nil)

	p := service.ConsumeParams{TokenID: tok.ID, Now: testNow, UniquePresenter: true}
	p.Record = newRecord(t, tok, "s1")
	if _, err := store.ConsumeToken(ctx, p); err != nil {
		t.Fatalf("first check-in: %v", err)
	}
	p.Record = newRecord(t, tok, "s1")
	if _, err := store.ConsumeToken(ctx, p); !errors.Is(err, domain.ErrAlreadyCheckedIn) {
		t.Errorf("second check-in = %v, want ErrAlreadyCheckedIn", err)
	}
	got, _ := store.GetToken(ctx, tok.ID)
	if got.UseCount != 1 {
		t.Errorf("use_count = %d, want 1", got.UseCount)
	}
}

func testConsumeResolvesRequest(t *testing.T, store service.Store) {
	ctx := context.Background()
	tok := newToken(t, domain.KindDocumentSignature, 1)
	req, _ := domain.NewRequest(tok, domain.Recipient{SubjectID: "s1"}, domain.ReminderPolicy{}, testNow)
	tok.Payload.Signature = &domain.SignaturePayload{RequestID: req.ID}
	if err := store.CreateToken(ctx, tok, req); err != nil {
		t.Fatalf("CreateToken: %v", err)
	}

	if _, err := store.ResolveRequest(ctx, req.ID, domain.RequestCancelled, testNow, ""); err != nil {
		t.Fatalf("ResolveRequest: %v", err)
	}
	_, err := store.ConsumeToken(ctx, service.ConsumeParams{
		TokenID: tok.ID, Now: testNow, Record: newRecord(t, tok, "s1"), RequestID: req.ID,
	})
	if !errors.Is(err, domain.ErrRequestClosed) {
		t.Fatalf("ConsumeToken on cancelled request = %v, want ErrRequestClosed", err)
	}
	got, _ := store.GetToken(ctx, tok.ID)
	if got.Consumed {
		t.Error("token consumed although the request was closed")
	}
}

func testRevokeIdempotent(t *testing.T, store service.Store) {
	ctx := context.Background()
	tok := newToken(t, domain.KindLearnerAccess, 0)
	_ = store.CreateToken(ctx, tok, nil)

	_, changed, err := store.RevokeToken(ctx, tok.ID, testNow)
	if err != nil || !changed {
		t.Fatalf("first revoke changed=%v err=%v", changed, err)
	}
	got, changed, err := store.RevokeToken(ctx, tok.ID, testNow.Add(time.Minute))
	if err != nil || changed {
		t.Fatalf("second revoke changed=%v err=%v", changed, err)
	}
	if got.RevokedAt != testNow.UnixMilli() {
		t.Errorf("revoked_at moved to %d", got.RevokedAt)
	}
}

func testExpireIdempotent(t *testing.T, store service.Store) {
	ctx := context.Background()
	expired := newToken(t, domain.KindLearnerAccess, 0)
	expired.ExpiresAt = testNow.Add(-time.Second).UnixMilli()
	live := newToken(t, domain.KindLearnerAccess, 0)
	_ = store.CreateToken(ctx, expired, nil)
	_ = store.CreateToken(ctx, live, nil)

	f := service.SweepFilter{Now: testNow}
	first, _ := store.ExpireTokens(ctx, f)
	if len(first) != 1 || first[0].ID != expired.ID {
		t.Fatalf("first sweep = %v", first)
	}
	second, _ := store.ExpireTokens(ctx, f)
	if len(second) != 0 {
		t.Errorf("second sweep changed %d tokens", len(second))
	}

	other, _ := store.ExpireTokens(ctx, service.SweepFilter{Now: testNow.Add(2 * time.Hour), Partitions: []int{3}})
	if len(other) != 0 {
		t.Errorf("sweep of foreign partition changed %d tokens", len(other))
	}
}

func testReminderClaim(t *testing.T, store service.Store) {
	ctx := context.Background()
	tok := newToken(t, domain.KindDocumentSignature, 1)
	tok.ExpiresAt = testNow.Add(10 * 24 * time.Hour).UnixMilli()
	req, _ := domain.NewRequest(tok, domain.Recipient{SubjectID: "s1"},
		domain.ReminderPolicyFor(domain.ReminderDaily, 2), testNow)
	_ = store.CreateToken(ctx, tok, req)

	at := testNow.Add(25 * time.Hour)
	due, _ := store.ListReminderDue(ctx, service.SweepFilter{Now: at})
	if len(due) != 1 {
		t.Fatalf("due = %d, want 1", len(due))
	}

	ok, _ := store.ClaimReminder(ctx, req.ID, 0, at)
	if !ok {
		t.Fatal("first claim failed")
	}
	if ok, _ := store.ClaimReminder(ctx, req.ID, 0, at); ok {
		t.Error("stale claim succeeded")
	}

	if err := store.ReleaseReminder(ctx, req.ID, 1, 0); err != nil {
		t.Fatalf("ReleaseReminder: %v", err)
	}
	got, _ := store.GetRequest(ctx, req.ID)
	if got.ReminderCount != 0 || got.LastReminderAt != 0 {
		t.Errorf("after release count=%d last=%d", got.ReminderCount, got.LastReminderAt)
	}

	for i := 0; i < 3; i++ {
		_, _ = store.ClaimReminder(ctx, req.ID, i, at.Add(time.Duration(i)*48*time.Hour))
	}
	got, _ = store.GetRequest(ctx, req.ID)
	if got.ReminderCount != 2 {
		t.Errorf("reminder_count = %d, want cap 2", got.ReminderCount)
	}
}

func testReminderDueLimit(t *testing.T, store service.Store) {
	ctx := context.Background()
	ids := map[string]string{}
	for name, created := range map[string]time.Time{
		"early": testNow.Add(-2 * time.Hour),
		"on":    testNow,
		"late":  testNow.Add(2 * time.Hour),
	} {
		tok := newToken(t, domain.KindDocumentSignature, 1)
		tok.ExpiresAt = testNow.Add(10 * 24 * time.Hour).UnixMilli()
		req, err := domain.NewRequest(tok, domain.Recipient{SubjectID: "s1"},
			domain.ReminderPolicyFor(domain.ReminderDaily, 3), created)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		tok.Payload.Signature = &domain.SignaturePayload{RequestID: req.ID}
		if err := store.CreateToken(ctx, tok, req); err != nil {
			t.Fatalf("CreateToken: %v", err)
		}
		ids[req.ID] = name
	}

	at := testNow.Add(25 * time.Hour)
	due, err := store.ListReminderDue(ctx, service.SweepFilter{Now: at})
	if err != nil {
		t.Fatalf("ListReminderDue: %v", err)
	}
	got := map[string]bool{}
	for _, r := range due {
		got[ids[r.ID]] = true
	}
	if len(due) != 2 || !got["early"] || !got["on"] {
		t.Fatalf("due = %v, want early and on", got)
	}

	limited, err := store.ListReminderDue(ctx, service.SweepFilter{Now: at, Limit: 1})
	if err != nil {
		t.Fatalf("ListReminderDue(limit 1): %v", err)
	}
	if len(limited) != 1 || ids[limited[0].ID] == "late" {
		t.Fatalf("limited due = %d rows, want one due request", len(limited))
	}

	if ok, err := store.ClaimReminder(ctx, limited[0].ID, 0, at); !ok || err != nil {
		t.Fatalf("ClaimReminder ok=%v err=%v", ok, err)
	}
	after, _ := store.ListReminderDue(ctx, service.SweepFilter{Now: at})
	if len(after) != 1 || after[0].ID == limited[0].ID {
		t.Errorf("due after claim = %d rows, want the other request only", len(after))
	}
}

func testAttendanceTransitions(t *testing.T, store service.Store) {
	ctx := context.Background()
	sess, _ := domain.NewAttendanceSession("org-a", "class_session", "c1", domain.ProximityAnchor{}, time.Hour, testNow)
	if err := store.CreateAttendanceSession(ctx, sess); err != nil {
		t.Fatalf("CreateAttendanceSession: %v", err)
	}

	got, err := store.TransitionAttendanceSession(ctx, sess.ID, domain.SessionDraft, domain.SessionActive, testNow)
	if err != nil || got.LaunchedAt == 0 {
		t.Fatalf("launch: %v %+v", err, got)
	}
	if _, err := store.TransitionAttendanceSession(ctx, sess.ID, domain.SessionDraft, domain.SessionActive, testNow); !errors.Is(err, domain.ErrSessionState) {
		t.Errorf("second launch = %v, want ErrSessionState", err)
	}
}
