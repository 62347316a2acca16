// Package directory resolves the organizations, subjects and targets that
// token scopes refer to.
//
// StaticDirectory serves a YAML file. Deployments on a SQL backend can seed
// the sqlstore directory from the same file with Seed.
package directory

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
)

// File is the YAML document layout.
type File struct {
	Organizations []Organization `yaml:"organizations"`
}

// Organization lists one tenant's entities and enrollments.
type Organization struct {
	ID          string           `yaml:"id"`
	Name        string           `yaml:"name"`
	Address     string           `yaml:"address,omitempty"`
	Entities    []domain.Entity  `yaml:"entities"`
	Enrollments []EnrollmentList `yaml:"enrollments"`
}

// EnrollmentList enrolls subjects of one type in a target.
type EnrollmentList struct {
	TargetType  string   `yaml:"target_type"`
	TargetID    string   `yaml:"target_id"`
	SubjectType string   `yaml:"subject_type"`
	SubjectIDs  []string `yaml:"subject_ids"`
}

type entityKey struct{ org, typ, id string }

type targetKey struct{ org, typ, id string }

// StaticDirectory is an immutable in-memory directory. Reload swaps the
// whole snapshot.
type StaticDirectory struct {
	mu       sync.RWMutex
	entities map[entityKey]*domain.Entity
	enrolled map[targetKey][]entityKey
}

var _ service.Directory = (*StaticDirectory)(nil)

// LoadFile reads a directory YAML file.
func LoadFile(path string) (*StaticDirectory, error) {
	f, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return New(f)
}

// ReadFile parses a directory YAML file.
func ReadFile(path string) (*File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("directory: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("directory: parse %s: %w", path, err)
	}
	return &f, nil
}

// New builds a directory from f.
func New(f *File) (*StaticDirectory, error) {
	d := &StaticDirectory{}
	if err := d.Reload(f); err != nil {
		return nil, err
	}
	return d, nil
}

// Reload replaces the directory contents with f. On error the previous
// contents stay in place.
func (d *StaticDirectory) Reload(f *File) error {
	entities := make(map[entityKey]*domain.Entity)
	enrolled := make(map[targetKey][]entityKey)

	for _, org := range f.Organizations {
		if org.ID == "" {
			return fmt.Errorf("directory: organization without id")
		}
		orgKey := entityKey{org.ID, domain.EntityOrganization, org.ID}
		if _, dup := entities[orgKey]; dup {
			return fmt.Errorf("directory: duplicate organization %s", org.ID)
		}
		entities[orgKey] = &domain.Entity{
			Type: domain.EntityOrganization, ID: org.ID, OrganizationID: org.ID,
			Name: org.Name, Address: org.Address,
		}

		for i := range org.Entities {
			e := org.Entities[i]
			if e.Type == "" || e.ID == "" {
				return fmt.Errorf("directory: %s: entity needs type and id", org.ID)
			}
			e.OrganizationID = org.ID
			entities[entityKey{org.ID, e.Type, e.ID}] = &e
		}

		for _, en := range org.Enrollments {
			tk := targetKey{org.ID, en.TargetType, en.TargetID}
			if _, ok := entities[entityKey(tk)]; !ok {
				return fmt.Errorf("directory: %s: unknown enrollment target %s/%s", org.ID, en.TargetType, en.TargetID)
			}
			for _, sid := range en.SubjectIDs {
				ek := entityKey{org.ID, en.SubjectType, sid}
				if _, ok := entities[ek]; !ok {
					return fmt.Errorf("directory: %s: unknown subject %s/%s", org.ID, en.SubjectType, sid)
				}
				enrolled[tk] = appendUnique(enrolled[tk], ek)
			}
		}
	}

	for tk := range enrolled {
		list := enrolled[tk]
		sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	}

	d.mu.Lock()
	d.entities, d.enrolled = entities, enrolled
	d.mu.Unlock()
	return nil
}

func appendUnique(list []entityKey, k entityKey) []entityKey {
	for _, existing := range list {
		if existing == k {
			return list
		}
	}
	return append(list, k)
}

// Organization returns the organization entity.
func (d *StaticDirectory) Organization(ctx context.Context, orgID string) (*domain.Entity, error) {
	return d.Lookup(ctx, orgID, domain.EntityOrganization, orgID)
}

// Lookup returns a copy of the entity.
func (d *StaticDirectory) Lookup(_ context.Context, orgID, entityType, id string) (*domain.Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entities[entityKey{orgID, entityType, id}]
	if !ok {
		return nil, domain.ErrEntityNotFound
	}
	cp := *e
	return &cp, nil
}

// Enrolled returns copies of the subjects enrolled in a target, by ID.
func (d *StaticDirectory) Enrolled(_ context.Context, orgID, targetType, targetID string) ([]*domain.Entity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	tk := targetKey{orgID, targetType, targetID}
	if _, ok := d.entities[entityKey(tk)]; !ok {
		return nil, domain.ErrEntityNotFound
	}
	keys := d.enrolled[tk]
	out := make([]*domain.Entity, 0, len(keys))
	for _, k := range keys {
		cp := *d.entities[k]
		out = append(out, &cp)
	}
	return out, nil
}

// Writer is a directory that accepts entities and enrollments.
type Writer interface {
	PutEntity(ctx context.Context, e *domain.Entity) error
	Enroll(ctx context.Context, orgID, targetType, targetID string, e *domain.Entity) error
}

// Seed copies f into w. It returns the number of entities written.
func Seed(ctx context.Context, f *File, w Writer) (int, error) {
	// Validate references before writing anything.
	if _, err := New(f); err != nil {
		return 0, err
	}
	n := 0
	for _, org := range f.Organizations {
		if err := w.PutEntity(ctx, &domain.Entity{
			Type: domain.EntityOrganization, ID: org.ID, OrganizationID: org.ID,
			Name: org.Name, Address: org.Address,
		}); err != nil {
			return n, err
		}
		n++
		for i := range org.Entities {
			e := org.Entities[i]
			e.OrganizationID = org.ID
			if err := w.PutEntity(ctx, &e); err != nil {
				return n, err
			}
			n++
		}
		for _, en := range org.Enrollments {
			for _, sid := range en.SubjectIDs {
				e := &domain.Entity{Type: en.SubjectType, ID: sid, OrganizationID: org.ID}
				if err := w.Enroll(ctx, org.ID, en.TargetType, en.TargetID, e); err != nil {
					return n, err
				}
			}
		}
	}
	return n, nil
}
