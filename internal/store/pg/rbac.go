package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jackc/pgerrcode"

	"colegio.org/internal/apperr"
	"colegio.org/internal/auth"
	"colegio.org/internal/ids"
)

const roleColumns = `r.id, r.name, coalesce(r.description, ''), r.created_at, r.updated_at,
	coalesce(array_to_string(array(
		select p.key from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = r.id and p.deleted_at is null
		order by p.key
	), ','), '')`

func scanRole(row rowScanner) (auth.Role, error) {
	var (
		role  auth.Role
		perms string
	)
	if err := row.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt, &perms); err != nil {
		return auth.Role{}, err
	}
	if perms != "" {
		role.Permissions = strings.Split(perms, ",")
	}
	return role, nil
}

func (s *Store) ListRoles(ctx context.Context) ([]auth.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+roleColumns+`
		from roles r
		where r.deleted_at is null
		order by r.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := []auth.Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

func (s *Store) GetRole(ctx context.Context, roleID string) (auth.Role, error) {
	role, err := scanRole(s.db.QueryRowContext(ctx, `
		select `+roleColumns+`
		from roles r
		where r.id = $1 and r.deleted_at is null
	`, roleID))
	if err != nil {
		return auth.Role{}, mapError(err, "role")
	}
	return role, nil
}

func (s *Store) CreateRole(ctx context.Context, role auth.Role) (auth.Role, error) {
	if role.ID == "" {
		role.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description)
		values ($1, $2, $3)
		returning created_at, updated_at
	`, role.ID, role.Name, nullIfEmpty(role.Description)).Scan(&role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return auth.Role{}, mapError(err, "role")
	}
	return role, nil
}

func (s *Store) UpdateRole(ctx context.Context, roleID string, upd auth.RoleUpdate) (auth.Role, error) {
	var b setBuilder
	if upd.Name != nil {
		b.add("name", *upd.Name)
	}
	if upd.Description != nil {
		b.add("description", nullIfEmpty(*upd.Description))
	}
	if !b.empty() {
		b.sets = append(b.sets, "updated_at = now()")
		query, args := b.query("roles", "id", roleID)
		res, err := s.db.ExecContext(ctx, query+" and deleted_at is null", args...)
		if err != nil {
			return auth.Role{}, mapError(err, "role")
		}
		if err := expectAffected(res, "role"); err != nil {
			return auth.Role{}, err
		}
	}
	return s.GetRole(ctx, roleID)
}

// SoftDeleteRole marks the role deleted and drops its grants so the name can
// no longer confer access.
func (s *Store) SoftDeleteRole(ctx context.Context, roleID string) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update roles set deleted_at = now(), updated_at = now()
			where id = $1 and deleted_at is null
		`, roleID)
		if err != nil {
			return err
		}
		if err := expectAffected(res, "role"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `delete from user_roles where role_id = $1`, roleID); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID)
		return err
	})
}

func (s *Store) ListPermissions(ctx context.Context) ([]auth.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, key, coalesce(description, ''), created_at
		from permissions
		where deleted_at is null
		order by key
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	perms := []auth.Permission{}
	for rows.Next() {
		var p auth.Permission
		if err := rows.Scan(&p.ID, &p.Key, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

func (s *Store) CreatePermission(ctx context.Context, perm auth.Permission) (auth.Permission, error) {
	if perm.ID == "" {
		perm.ID = ids.New()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (id, key, description)
		values ($1, $2, $3)
		returning created_at
	`, perm.ID, perm.Key, nullIfEmpty(perm.Description)).Scan(&perm.CreatedAt)
	if err != nil {
		return auth.Permission{}, mapError(err, "permission")
	}
	return perm, nil
}

func (s *Store) UpdatePermission(ctx context.Context, permissionID string, upd auth.PermissionUpdate) (auth.Permission, error) {
	var b setBuilder
	if upd.Key != nil {
		b.add("key", *upd.Key)
	}
	if upd.Description != nil {
		b.add("description", nullIfEmpty(*upd.Description))
	}
	if !b.empty() {
		query, args := b.query("permissions", "id", permissionID)
		res, err := s.db.ExecContext(ctx, query+" and deleted_at is null", args...)
		if err != nil {
			return auth.Permission{}, mapError(err, "permission")
		}
		if err := expectAffected(res, "permission"); err != nil {
			return auth.Permission{}, err
		}
	}
	var p auth.Permission
	err := s.db.QueryRowContext(ctx, `
		select id, key, coalesce(description, ''), created_at
		from permissions
		where id = $1 and deleted_at is null
	`, permissionID).Scan(&p.ID, &p.Key, &p.Description, &p.CreatedAt)
	if err != nil {
		return auth.Permission{}, mapError(err, "permission")
	}
	return p, nil
}

func (s *Store) SoftDeletePermission(ctx context.Context, permissionID string) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update permissions set deleted_at = now()
			where id = $1 and deleted_at is null
		`, permissionID)
		if err != nil {
			return err
		}
		if err := expectAffected(res, "permission"); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `delete from role_permissions where permission_id = $1`, permissionID)
		return err
	})
}

func (s *Store) ReplaceRolePermissions(ctx context.Context, roleID string, keys []string) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1 and deleted_at is null`, roleID).Scan(&exists); err != nil {
			return mapError(err, "role")
		}
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, roleID); err != nil {
			return err
		}
		return grantRolePermissions(ctx, tx, roleID, keys)
	})
}

func (s *Store) AddRolePermissions(ctx context.Context, roleID string, keys []string) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `select 1 from roles where id = $1 and deleted_at is null`, roleID).Scan(&exists); err != nil {
			return mapError(err, "role")
		}
		return grantRolePermissions(ctx, tx, roleID, keys)
	})
}

func grantRolePermissions(ctx context.Context, tx *sql.Tx, roleID string, keys []string) error {
	for _, key := range keys {
		var permID string
		err := tx.QueryRowContext(ctx, `select id from permissions where key = $1 and deleted_at is null`, key).Scan(&permID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.BadRequest("unknown permission %q", key)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			values ($1, $2)
			on conflict do nothing
		`, roleID, permID); err != nil {
			return mapError(err, "role permission")
		}
	}
	return nil
}

func (s *Store) ReplaceUserRoles(ctx context.Context, userID string, roleNames []string) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `select 1 from users where id = $1 and deleted_at is null`, userID).Scan(&exists); err != nil {
			return mapError(err, "user")
		}
		return replaceUserRoles(ctx, tx, userID, roleNames)
	})
}

func (s *Store) AddUserRoles(ctx context.Context, userID string, roleNames []string) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `select 1 from users where id = $1 and deleted_at is null`, userID).Scan(&exists); err != nil {
			return mapError(err, "user")
		}
		return grantUserRoles(ctx, tx, userID, roleNames)
	})
}

func replaceUserRoles(ctx context.Context, tx *sql.Tx, userID string, roleNames []string) error {
	if _, err := tx.ExecContext(ctx, `delete from user_roles where user_id = $1`, userID); err != nil {
		return err
	}
	return grantUserRoles(ctx, tx, userID, roleNames)
}

// grantUserRoles adds roleNames to the user, keeping existing grants.
func grantUserRoles(ctx context.Context, tx *sql.Tx, userID string, roleNames []string) error {
	for _, name := range roleNames {
		var roleID string
		err := tx.QueryRowContext(ctx, `select id from roles where name = $1 and deleted_at is null`, name).Scan(&roleID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.BadRequest("unknown role %q", name)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id)
			values ($1, $2)
			on conflict do nothing
		`, userID, roleID); err != nil {
			return mapError(err, "user role")
		}
	}
	return nil
}

func (s *Store) SetUserStatus(ctx context.Context, userID string, active bool, reason string) (auth.User, error) {
	var user auth.User
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update users set is_active = $2, status_reason = $3, updated_at = now()
			where id = $1 and deleted_at is null
		`, userID, active, nullIfEmpty(reason))
		if err != nil {
			return err
		}
		if err := expectAffected(res, "user"); err != nil {
			return err
		}
		if !active {
			if _, err := tx.ExecContext(ctx, `delete from sessions where user_id = $1`, userID); err != nil {
				return err
			}
		}
		user, err = userByID(ctx, tx, userID)
		return err
	})
	if err != nil {
		return auth.User{}, err
	}
	return user, nil
}

// EnsurePermission inserts the permission or revives a soft-deleted one with the same key.
func (s *Store) EnsurePermission(ctx context.Context, perm auth.Permission) (auth.Permission, error) {
	err := s.db.QueryRowContext(ctx, `
		insert into permissions (id, key, description)
		values ($1, $2, $3)
		on conflict (key) do update
		set deleted_at = null, description = coalesce(permissions.description, excluded.description)
		returning id, key, coalesce(description, ''), created_at
	`, ids.New(), perm.Key, nullIfEmpty(perm.Description)).Scan(&perm.ID, &perm.Key, &perm.Description, &perm.CreatedAt)
	if err != nil {
		return auth.Permission{}, mapError(err, "permission")
	}
	return perm, nil
}

func (s *Store) EnsureRole(ctx context.Context, role auth.Role) (auth.Role, error) {
	err := s.db.QueryRowContext(ctx, `
		insert into roles (id, name, description)
		values ($1, $2, $3)
		on conflict (name) do update
		set deleted_at = null, updated_at = now()
		returning id, name, coalesce(description, ''), created_at, updated_at
	`, ids.New(), role.Name, nullIfEmpty(role.Description)).Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if err != nil {
		return auth.Role{}, mapError(err, "role")
	}
	return role, nil
}

// isUnique reports whether err is a unique violation.
func isUnique(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == pgerrcode.UniqueViolation
}
