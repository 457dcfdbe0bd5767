package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"colegio.org/internal/apperr"
	"colegio.org/internal/auth"
	"colegio.org/internal/ids"
)

const userRoleNames = `coalesce(array_to_string(array(
		select r.name from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = u.id and r.deleted_at is null
		order by r.name
	), ','), '')`

func scanManagedUser(row rowScanner) (auth.ManagedUser, error) {
	var roles string
	u, err := scanUser(row, &roles)
	if err != nil {
		return auth.ManagedUser{}, err
	}
	mu := auth.ManagedUser{User: u, Roles: []string{}}
	if roles != "" {
		mu.Roles = strings.Split(roles, ",")
	}
	return mu, nil
}

func managedUserByID(ctx context.Context, q queryer, id string) (auth.ManagedUser, error) {
	mu, err := scanManagedUser(q.QueryRowContext(ctx, `
		select `+userColumns("u")+`, `+userRoleNames+`
		from users u
		where u.id = $1 and u.deleted_at is null
	`, id))
	if err != nil {
		return auth.ManagedUser{}, mapError(err, "user")
	}
	return mu, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.ManagedUser, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns("u")+`, `+userRoleNames+`
		from users u
		where u.deleted_at is null
		order by u.created_at desc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []auth.ManagedUser{}
	for rows.Next() {
		mu, err := scanManagedUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, mu)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func chapterExists(ctx context.Context, tx *sql.Tx, chapterID string) error {
	var one int
	err := tx.QueryRowContext(ctx, `select 1 from chapters where id = $1`, chapterID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("chapter not found")
	}
	return err
}

func (s *Store) CreateUser(ctx context.Context, u auth.User, roleNames []string) (auth.ManagedUser, bool, error) {
	var (
		out      auth.ManagedUser
		restored bool
	)
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		if err := chapterExists(ctx, tx, u.ChapterID); err != nil {
			return err
		}
		var (
			existingID string
			deletedAt  sql.NullTime
		)
		err := tx.QueryRowContext(ctx, `select id, deleted_at from users where dni = $1 for update`, u.DNI).
			Scan(&existingID, &deletedAt)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			u.ID = ids.New()
			if _, err := tx.ExecContext(ctx, `
				insert into users (id, dni, password_hash, first_name, last_name, email, phone, chapter_id, is_active)
				values ($1, $2, $3, $4, $5, $6, $7, $8, true)
			`, u.ID, u.DNI, u.PasswordHash, u.FirstName, u.LastName,
				nullIfEmpty(u.Email), nullIfEmpty(u.Phone), u.ChapterID); err != nil {
				if isUnique(err) {
					return apperr.Conflict("user already exists")
				}
				return err
			}
		case err != nil:
			return err
		case !deletedAt.Valid:
			return apperr.Conflict("user already exists")
		default:
			u.ID, restored = existingID, true
			if _, err := tx.ExecContext(ctx, `
				update users
				set deleted_at = null, is_active = true, status_reason = null, password_hash = $2,
					first_name = $3, last_name = $4, email = $5, phone = $6, chapter_id = $7, updated_at = now()
				where id = $1
			`, u.ID, u.PasswordHash, u.FirstName, u.LastName,
				nullIfEmpty(u.Email), nullIfEmpty(u.Phone), u.ChapterID); err != nil {
				if isUnique(err) {
					return apperr.Conflict("email or phone already in use")
				}
				return err
			}
		}
		if err := replaceUserRoles(ctx, tx, u.ID, roleNames); err != nil {
			return err
		}
		out, err = managedUserByID(ctx, tx, u.ID)
		return err
	})
	if err != nil {
		return auth.ManagedUser{}, false, err
	}
	return out, restored, nil
}

func (s *Store) UpdateUser(ctx context.Context, userID string, upd auth.UserUpdate, passwordHash string) (auth.ManagedUser, error) {
	var out auth.ManagedUser
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		var id string
		err := tx.QueryRowContext(ctx, `select id from users where id = $1 and deleted_at is null for update`, userID).Scan(&id)
		if err != nil {
			return mapError(err, "user")
		}
		if upd.ChapterID != nil {
			if err := chapterExists(ctx, tx, *upd.ChapterID); err != nil {
				return err
			}
		}

		var b setBuilder
		if upd.FirstName != nil {
			b.add("first_name", *upd.FirstName)
		}
		if upd.LastName != nil {
			b.add("last_name", *upd.LastName)
		}
		if upd.Phone != nil {
			b.add("phone", nullIfEmpty(*upd.Phone))
		}
		if upd.Email != nil {
			b.add("email", nullIfEmpty(*upd.Email))
		}
		if upd.ChapterID != nil {
			b.add("chapter_id", *upd.ChapterID)
		}
		if passwordHash != "" {
			b.add("password_hash", passwordHash)
		}
		if upd.IsActive != nil {
			b.add("is_active", *upd.IsActive)
			if *upd.IsActive {
				b.sets = append(b.sets, "status_reason = null")
			}
		}
		if !b.empty() {
			b.sets = append(b.sets, "updated_at = now()")
			query, args := b.query("users", "id", userID)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				if isUnique(err) {
					return apperr.Conflict("email or phone already in use")
				}
				return err
			}
		}
		if upd.Roles != nil {
			if err := replaceUserRoles(ctx, tx, userID, upd.Roles); err != nil {
				return err
			}
		}
		if (upd.IsActive != nil && !*upd.IsActive) || passwordHash != "" {
			if _, err := tx.ExecContext(ctx, `delete from sessions where user_id = $1`, userID); err != nil {
				return err
			}
		}
		out, err = managedUserByID(ctx, tx, userID)
		return err
	})
	if err != nil {
		return auth.ManagedUser{}, err
	}
	return out, nil
}

func (s *Store) SoftDeleteUser(ctx context.Context, userID string) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update users set deleted_at = now(), is_active = false, updated_at = now()
			where id = $1 and deleted_at is null
		`, userID)
		if err != nil {
			return err
		}
		if err := expectAffected(res, "user"); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `delete from sessions where user_id = $1`, userID)
		return err
	})
}
