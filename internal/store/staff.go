package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/payrecon/internal/domain"
)

func (s *Store) StaffByPermission(ctx context.Context, permission string) ([]domain.Staff, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT id, name, email, role, permissions FROM admins WHERE $1 = ANY(permissions) ORDER BY id",
		permission,
	)
	if err != nil {
		return nil, fmt.Errorf("staff by permission %s: %w", permission, err)
	}
	return collectStaff(rows)
}

func (s *Store) StaffByRoles(ctx context.Context, roles []string) ([]domain.Staff, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT id, name, email, role, permissions FROM admins WHERE role = ANY($1) ORDER BY id",
		roles,
	)
	if err != nil {
		return nil, fmt.Errorf("staff by roles: %w", err)
	}
	return collectStaff(rows)
}

// UpsertStaff creates or replaces admin accounts.
func (s *Store) UpsertStaff(ctx context.Context, staff []domain.Staff) error {
	batch := &pgx.Batch{}
	for _, m := range staff {
		batch.Queue(
			`INSERT INTO admins (id, name, email, role, permissions) VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE
			   SET name = EXCLUDED.name, email = EXCLUDED.email,
			       role = EXCLUDED.role, permissions = EXCLUDED.permissions`,
			m.ID, m.Name, m.Email, m.Role, m.Permissions,
		)
	}
	if err := s.Db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert staff: %w", err)
	}
	return nil
}

// AddAdminNotification appends to the staff feed. One entry per (reference, type).
func (s *Store) AddAdminNotification(ctx context.Context, n domain.AdminNotification) error {
	_, err := s.Db.Exec(ctx,
		`INSERT INTO admin_notifications (id, type, title, body, reference, amount, target_roles, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::numeric, $7, $8)
		 ON CONFLICT (reference, type) DO NOTHING`,
		n.ID, n.Type, n.Title, n.Body, n.Reference, n.Amount.String(), n.TargetRoles, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("add admin notification %s: %w", n.Reference, err)
	}
	return nil
}

func collectStaff(rows pgx.Rows) ([]domain.Staff, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Staff, error) {
		var m domain.Staff
		err := row.Scan(&m.ID, &m.Name, &m.Email, &m.Role, &m.Permissions)
		return m, err
	})
}
