package storage

import (
	"context"
)

// RoleStore reads the role/permission reference data. Permissions are
// created only by seed; the application never writes this table outside of
// bootstrap reconciliation.
type RoleStore struct {
	db *DB
}

func NewRoleStore(db *DB) *RoleStore {
	return &RoleStore{db: db}
}

// PermissionsForRole returns the role's permissions as RESOURCE:ACTION
// strings. An unknown role yields an empty set, not an error.
func (s *RoleStore) PermissionsForRole(ctx context.Context, roleName string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT p.resource || ':' || p.action
		FROM roles r
		JOIN role_permissions rp ON rp.role_id = r.id
		JOIN permissions p ON p.id = rp.permission_id
		WHERE r.name = $1
		ORDER BY 1
	`, roleName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// EnsureRole inserts a role if missing and returns its id.
func (s *RoleStore) EnsureRole(ctx context.Context, name, description string) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO roles (name, description)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		RETURNING id
	`, name, description).Scan(&id)
	return id, err
}

// EnsurePermission inserts a permission if missing and returns its id.
func (s *RoleStore) EnsurePermission(ctx context.Context, resource, action string) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO permissions (resource, action)
		VALUES ($1, $2)
		ON CONFLICT (resource, action) DO UPDATE SET action = EXCLUDED.action
		RETURNING id
	`, resource, action).Scan(&id)
	return id, err
}

// EnsureGrant links a role to a permission if not already linked.
func (s *RoleStore) EnsureGrant(ctx context.Context, roleID, permissionID int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, roleID, permissionID)
	return err
}
