package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
	"github.com/yndnr/captoken-go/internal/storage/storetest"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Dialect: DialectSQLite, DSN: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) service.Store { return openTest(t) })
}

func TestOpen_Rejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing dsn", Config{Dialect: DialectSQLite}},
		{"unknown dialect", Config{Dialect: "oracle", DSN: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(context.Background(), tt.cfg, nil); err == nil {
				t.Error("Open succeeded, want error")
			}
		})
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTest(t)
	defer s.Close()
	if err := s.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestRebind(t *testing.T) {
	s := &Store{dialect: DialectPostgres}
	got := s.rebind(`SELECT 1 WHERE a = ? AND b IN (?, ?)`)
	want := `SELECT 1 WHERE a = $1 AND b IN ($2, $3)`
	if got != want {
		t.Errorf("rebind = %q, want %q", got, want)
	}
	s.dialect = DialectSQLite
	if got := s.rebind(`a = ?`); got != `a = ?` {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestPartitionClause(t *testing.T) {
	tests := []struct {
		name  string
		parts []int
		want  string
		args  int
	}{
		{"all", nil, "", 0},
		{"none", []int{}, " AND 1 = 0", 0},
		{"some", []int{1, 3}, " AND part IN (?, ?)", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, args := partitionClause(service.SweepFilter{Partitions: tt.parts})
			if got != tt.want || len(args) != tt.args {
				t.Errorf("partitionClause = %q %v, want %q with %d args", got, args, tt.want, tt.args)
			}
		})
	}
}

func TestDirectory(t *testing.T) {
	s := openTest(t)
	defer s.Close()
	ctx := context.Background()
	dir := s.Directory()

	put := func(e *domain.Entity) {
		t.Helper()
		if err := dir.PutEntity(ctx, e); err != nil {
			t.Fatalf("PutEntity(%s): %v", e.ID, err)
		}
	}
	put(&domain.Entity{Type: domain.EntityOrganization, ID: "org-a", OrganizationID: "org-a", Name: "Org A"})
	put(&domain.Entity{Type: "class_session", ID: "c1", OrganizationID: "org-a"})
	put(&domain.Entity{Type: "student", ID: "s2", OrganizationID: "org-a", Address: "s2@example.org"})
	put(&domain.Entity{Type: "student", ID: "s1", OrganizationID: "org-a", Address: "old@example.org"})
	put(&domain.Entity{Type: "student", ID: "s1", OrganizationID: "org-a", Address: "s1@example.org"})

	for _, id := range []string{"s2", "s1", "s1"} {
		e := &domain.Entity{Type: "student", ID: id}
		if err := dir.Enroll(ctx, "org-a", "class_session", "c1", e); err != nil {
			t.Fatalf("Enroll(%s): %v", id, err)
		}
	}

	org, err := dir.Organization(ctx, "org-a")
	if err != nil || org.Name != "Org A" {
		t.Fatalf("Organization = %+v, %v", org, err)
	}
	if _, err := dir.Lookup(ctx, "org-b", "class_session", "c1"); !errors.Is(err, domain.ErrEntityNotFound) {
		t.Errorf("cross-org Lookup err = %v, want ErrEntityNotFound", err)
	}

	got, err := dir.Enrolled(ctx, "org-a", "class_session", "c1")
	if err != nil {
		t.Fatalf("Enrolled: %v", err)
	}
	if len(got) != 2 || got[0].ID != "s1" || got[1].ID != "s2" {
		t.Fatalf("Enrolled = %+v, want [s1 s2]", got)
	}
	if got[0].Address != "s1@example.org" {
		t.Errorf("s1 address = %q, want replaced value", got[0].Address)
	}

	if _, err := dir.Enrolled(ctx, "org-a", "class_session", "missing"); !errors.Is(err, domain.ErrEntityNotFound) {
		t.Errorf("Enrolled(missing) err = %v, want ErrEntityNotFound", err)
	}
}

func TestAuditWriter(t *testing.T) {
	s := openTest(t)
	defer s.Close()
	ctx := context.Background()
	w := s.AuditWriter()

	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	tok := &domain.Token{ID: "ctk-audit", Kind: domain.KindQRCheckIn,
		Scope: domain.Scope{OrganizationID: "org-a"}}
	entries := []*domain.AuditEntry{
		domain.NewAuditEntry(domain.AuditIssue, tok, nil, now),
		domain.NewAuditEntry(domain.AuditConsume, tok, domain.ErrTokenRevoked, now.Add(time.Second)),
	}
	if err := w.Write(ctx, entries); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(ctx, nil); err != nil {
		t.Errorf("empty Write: %v", err)
	}

	got, err := w.List(ctx, "ctk-audit")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List returned %d entries, want 2", len(got))
	}
	if got[0].Action != domain.AuditIssue || got[0].Outcome != domain.AuditSuccess {
		t.Errorf("first entry = %+v", got[0])
	}
	if got[1].Outcome != domain.AuditRejected || got[1].Code != domain.ErrTokenRevoked.Code {
		t.Errorf("second entry = %+v", got[1])
	}

	if err := w.Write(ctx, entries[:1]); err == nil {
		t.Error("duplicate audit id accepted")
	}
}
