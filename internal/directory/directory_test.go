package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/storage/sqlstore"
)

func TestStaticDirectory(t *testing.T) {
	ctx := context.Background()
	d, err := LoadFile("testdata/directory.yaml")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	org, err := d.Organization(ctx, "org-a")
	if err != nil || org.Name != "Org A" {
		t.Fatalf("Organization = %+v, %v", org, err)
	}

	tests := []struct {
		name    string
		org     string
		typ     string
		id      string
		wantErr error
	}{
		{"student", "org-a", domain.EntityStudent, "s1", nil},
		{"document", "org-a", domain.EntityDocument, "doc1", nil},
		{"other tenant", "org-b", domain.EntityStudent, "s1", domain.ErrEntityNotFound},
		{"wrong type", "org-a", domain.EntityTeacher, "s1", domain.ErrEntityNotFound},
		{"unknown org", "org-z", domain.EntityOrganization, "org-z", domain.ErrEntityNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := d.Lookup(ctx, tt.org, tt.typ, tt.id)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Lookup err = %v, want %v", err, tt.wantErr)
			}
			if err == nil && e.OrganizationID != tt.org {
				t.Errorf("OrganizationID = %q, want %q", e.OrganizationID, tt.org)
			}
		})
	}

	got, err := d.Enrolled(ctx, "org-a", domain.EntityClassSession, "c1")
	if err != nil {
		t.Fatalf("Enrolled: %v", err)
	}
	if len(got) != 2 || got[0].ID != "s1" || got[1].ID != "s2" {
		t.Errorf("Enrolled = %+v, want [s1 s2]", got)
	}
	got[0].Address = "mutated"
	again, _ := d.Lookup(ctx, "org-a", domain.EntityStudent, "s1")
	if again.Address != "s1@example.org" {
		t.Error("Enrolled returned shared entity")
	}

	if _, err := d.Enrolled(ctx, "org-b", domain.EntityClassSession, "c1"); !errors.Is(err, domain.ErrEntityNotFound) {
		t.Errorf("cross-tenant Enrolled err = %v", err)
	}
}

func TestStaticDirectory_RejectsBadFiles(t *testing.T) {
	tests := []struct {
		name string
		file File
	}{
		{"org without id", File{Organizations: []Organization{{Name: "x"}}}},
		{"duplicate org", File{Organizations: []Organization{{ID: "a"}, {ID: "a"}}}},
		{"entity without id", File{Organizations: []Organization{{ID: "a", Entities: []domain.Entity{{Type: "student"}}}}}},
		{"unknown target", File{Organizations: []Organization{{ID: "a", Enrollments: []EnrollmentList{
			{TargetType: "class_session", TargetID: "c9", SubjectType: "student"},
		}}}}},
		{"unknown subject", File{Organizations: []Organization{{ID: "a",
			Entities: []domain.Entity{{Type: "class_session", ID: "c1"}},
			Enrollments: []EnrollmentList{
				{TargetType: "class_session", TargetID: "c1", SubjectType: "student", SubjectIDs: []string{"ghost"}},
			}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(&tt.file); err == nil {
				t.Error("New accepted invalid file")
			}
		})
	}
}

func TestStaticDirectory_ReloadKeepsOldOnError(t *testing.T) {
	d, err := LoadFile("testdata/directory.yaml")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if err := d.Reload(&File{Organizations: []Organization{{}}}); err == nil {
		t.Fatal("Reload accepted invalid file")
	}
	if _, err := d.Organization(context.Background(), "org-a"); err != nil {
		t.Errorf("old contents lost after failed reload: %v", err)
	}
}

func TestSeed_SQLDirectory(t *testing.T) {
	ctx := context.Background()
	f, err := ReadFile("testdata/directory.yaml")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	store, err := sqlstore.Open(ctx, sqlstore.Config{Dialect: sqlstore.DialectSQLite, DSN: ":memory:"}, nil)
	if err != nil {
		t.Fatalf("sqlstore.Open: %v", err)
	}
	defer store.Close()

	n, err := Seed(ctx, f, store.Directory())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 7 {
		t.Errorf("Seed wrote %d entities, want 7", n)
	}

	got, err := store.Directory().Enrolled(ctx, "org-a", domain.EntityClassSession, "c1")
	if err != nil {
		t.Fatalf("Enrolled: %v", err)
	}
	if len(got) != 2 || got[0].ID != "s1" {
		t.Errorf("Enrolled = %+v", got)
	}
}
