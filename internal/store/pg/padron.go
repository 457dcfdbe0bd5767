package pg

import (
	"context"
	"database/sql"
	"strings"

	"colegio.org/internal/apperr"
	"colegio.org/internal/auth"
	"colegio.org/internal/ids"
	"colegio.org/internal/padron"
)

func (s *Store) ImportActor(ctx context.Context, userID string) (padron.Actor, error) {
	var a padron.Actor
	err := s.db.QueryRowContext(ctx, `
		select coalesce(u.chapter_id, ''), coalesce(c.name, ''), coalesce(b.name, '')
		from users u
		left join chapters c on c.id = u.chapter_id
		left join branches b on b.id = c.branch_id
		where u.id = $1 and u.deleted_at is null
	`, userID).Scan(&a.ChapterID, &a.ChapterName, &a.BranchName)
	if err != nil {
		return padron.Actor{}, mapError(err, "user")
	}
	return a, nil
}

func (s *Store) FindChapter(ctx context.Context, branchName, chapterName string) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		select c.id
		from chapters c
		join branches b on b.id = c.branch_id
		where lower(b.name) = lower($1) and lower(c.name) = lower($2)
		order by c.id
		limit 1
	`, strings.TrimSpace(branchName), strings.TrimSpace(chapterName)).Scan(&id)
	if err != nil {
		return "", mapError(err, "chapter")
	}
	return id, nil
}

func (s *Store) MemberByDNI(ctx context.Context, dni string) (auth.User, error) {
	return s.UserByDNI(ctx, dni)
}

func (s *Store) UpdateMember(ctx context.Context, u auth.User, revokeSessions bool) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			update users
			set first_name = $2, last_name = $3, email = $4, phone = $5, chapter_id = $6,
				is_active = $7, status_reason = $8, deleted_at = null, updated_at = $9
			where id = $1
		`, u.ID, u.FirstName, u.LastName, nullIfEmpty(u.Email), nullIfEmpty(u.Phone), nullIfEmpty(u.ChapterID),
			u.IsActive, nullIfEmpty(u.StatusReason), u.UpdatedAt)
		if err != nil {
			if isUnique(err) {
				return apperr.Conflict("email or phone already in use")
			}
			return err
		}
		if err := expectAffected(res, "user"); err != nil {
			return err
		}
		if revokeSessions {
			_, err = tx.ExecContext(ctx, `delete from sessions where user_id = $1`, u.ID)
		}
		return err
	})
}

func (s *Store) CreateMember(ctx context.Context, u auth.User, role string) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			insert into users (id, dni, password_hash, first_name, last_name, email, phone, chapter_id, is_active, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, u.ID, u.DNI, u.PasswordHash, u.FirstName, u.LastName, nullIfEmpty(u.Email), nullIfEmpty(u.Phone),
			nullIfEmpty(u.ChapterID), u.IsActive, u.CreatedAt, u.UpdatedAt); err != nil {
			if isUnique(err) {
				return apperr.Conflict("dni, email or phone already in use")
			}
			return mapError(err, "user")
		}
		res, err := tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id)
			select $1, id from roles where name = $2 and deleted_at is null
		`, u.ID, role)
		if err != nil {
			return err
		}
		if aff, err := res.RowsAffected(); err != nil {
			return err
		} else if aff == 0 {
			return apperr.BadRequest("unknown role %q", role)
		}
		return nil
	})
}

// SeedOrganization ensures the association, branch and chapter exist and
// returns the chapter id. Matching is by name.
func (s *Store) SeedOrganization(ctx context.Context, association, branch, chapter string) (string, error) {
	var chapterID string
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		var assocID, branchID string
		if err := tx.QueryRowContext(ctx, `
			insert into associations (id, name) values ($1, $2)
			on conflict (name) do update set updated_at = now()
			returning id
		`, ids.New(), association).Scan(&assocID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `
			insert into branches (id, association_id, name) values ($1, $2, $3)
			on conflict (association_id, name) do update set updated_at = now()
			returning id
		`, ids.New(), assocID, branch).Scan(&branchID); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `
			insert into chapters (id, branch_id, name) values ($1, $2, $3)
			on conflict (branch_id, name) do update set updated_at = now()
			returning id
		`, ids.New(), branchID, chapter).Scan(&chapterID)
	})
	if err != nil {
		return "", err
	}
	return chapterID, nil
}
