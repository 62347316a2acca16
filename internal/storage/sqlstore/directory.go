package sqlstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/yndnr/captoken-go/internal/core/domain"
	"github.com/yndnr/captoken-go/internal/core/service"
)

// Directory resolves scope entities from the entities and enrollments
// tables. Organizations are entities of type "organization" owned by
// themselves.
type Directory struct {
	s *Store
}

var _ service.Directory = (*Directory)(nil)

// Directory returns the entity directory sharing this store's connection.
func (s *Store) Directory() *Directory {
	return &Directory{s: s}
}

// Organization returns the organization entity.
func (d *Directory) Organization(ctx context.Context, orgID string) (*domain.Entity, error) {
	return d.Lookup(ctx, orgID, domain.EntityOrganization, orgID)
}

// Lookup returns the entity of type typ owned by orgID.
func (d *Directory) Lookup(ctx context.Context, orgID, typ, id string) (*domain.Entity, error) {
	e := &domain.Entity{Type: typ, ID: id, OrganizationID: orgID}
	err := d.s.db.QueryRowContext(ctx, d.s.rebind(`
		SELECT name, address FROM entities
		WHERE organization_id = ? AND entity_type = ? AND entity_id = ?`),
		orgID, typ, id).Scan(&e.Name, &e.Address)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrEntityNotFound
	}
	if err != nil {
		return nil, domain.ErrDirectoryUnavailable.WithCause(err)
	}
	return e, nil
}

// Enrolled returns the entities enrolled in a target, ordered by ID.
func (d *Directory) Enrolled(ctx context.Context, orgID, targetType, targetID string) ([]*domain.Entity, error) {
	if _, err := d.Lookup(ctx, orgID, targetType, targetID); err != nil {
		return nil, err
	}
	rows, err := d.s.db.QueryContext(ctx, d.s.rebind(`
		SELECT e.entity_type, e.entity_id, e.name, e.address
		FROM enrollments n
		JOIN entities e ON e.organization_id = n.organization_id
			AND e.entity_type = n.entity_type AND e.entity_id = n.entity_id
		WHERE n.organization_id = ? AND n.target_type = ? AND n.target_id = ?
		ORDER BY e.entity_id`),
		orgID, targetType, targetID)
	if err != nil {
		return nil, domain.ErrDirectoryUnavailable.WithCause(err)
	}
	defer rows.Close()

	var out []*domain.Entity
	for rows.Next() {
		e := &domain.Entity{OrganizationID: orgID}
		if err := rows.Scan(&e.Type, &e.ID, &e.Name, &e.Address); err != nil {
			return nil, domain.ErrDirectoryUnavailable.WithCause(err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrDirectoryUnavailable.WithCause(err)
	}
	return out, nil
}

// PutEntity inserts or replaces an entity.
func (d *Directory) PutEntity(ctx context.Context, e *domain.Entity) error {
	return storeErr(d.s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, d.s.rebind(`
			DELETE FROM entities WHERE organization_id = ? AND entity_type = ? AND entity_id = ?`),
			e.OrganizationID, e.Type, e.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, d.s.rebind(`
			INSERT INTO entities (entity_type, entity_id, organization_id, name, address)
			VALUES (?, ?, ?, ?, ?)`),
			e.Type, e.ID, e.OrganizationID, e.Name, e.Address)
		return err
	}))
}

// Enroll links an entity to a target. Enrolling twice is a no-op.
func (d *Directory) Enroll(ctx context.Context, orgID, targetType, targetID string, e *domain.Entity) error {
	_, err := d.s.db.ExecContext(ctx, d.s.rebind(`
		INSERT INTO enrollments (organization_id, target_type, target_id, entity_type, entity_id)
		VALUES (?, ?, ?, ?, ?)`),
		orgID, targetType, targetID, e.Type, e.ID)
	if isUniqueViolation(err) {
		return nil
	}
	return storeErr(err)
}
