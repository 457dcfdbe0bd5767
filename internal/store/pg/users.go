package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"colegio.org/internal/apperr"
	"colegio.org/internal/auth"
)

const userColumnsFmt = `%[1]sid, %[1]sdni, %[1]spassword_hash, %[1]sfirst_name, %[1]slast_name,
	coalesce(%[1]semail, ''), coalesce(%[1]sphone, ''), coalesce(%[1]schapter_id, ''),
	%[1]sis_active, coalesce(%[1]sstatus_reason, ''), %[1]sdeleted_at, %[1]screated_at, %[1]supdated_at`

// userColumns lists the columns scanUser expects, qualified by alias when set.
func userColumns(alias string) string {
	if alias != "" {
		alias += "."
	}
	return fmt.Sprintf(userColumnsFmt, alias)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, extra ...any) (auth.User, error) {
	var (
		u       auth.User
		deleted sql.NullTime
	)
	dest := []any{
		&u.ID, &u.DNI, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.Email, &u.Phone, &u.ChapterID,
		&u.IsActive, &u.StatusReason, &deleted, &u.CreatedAt, &u.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return auth.User{}, err
	}
	if deleted.Valid {
		t := deleted.Time
		u.DeletedAt = &t
	}
	return u, nil
}

func (s *Store) UserByDNI(ctx context.Context, dni string) (auth.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, `select `+userColumns("")+` from users where dni = $1`, dni))
	if err != nil {
		return auth.User{}, mapError(err, "user")
	}
	return u, nil
}

func (s *Store) UserByID(ctx context.Context, id string) (auth.User, error) {
	return userByID(ctx, s.db, id)
}

func userByID(ctx context.Context, q queryer, id string) (auth.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx, `select `+userColumns("")+` from users where id = $1`, id))
	if err != nil {
		return auth.User{}, mapError(err, "user")
	}
	return u, nil
}

// UserAccess resolves roles and permissions through roles and permissions that are not soft-deleted.
func (s *Store) UserAccess(ctx context.Context, userID string) (auth.Access, error) {
	var access auth.Access
	rows, err := s.db.QueryContext(ctx, `
		select r.name
		from user_roles ur
		join roles r on r.id = ur.role_id
		where ur.user_id = $1 and r.deleted_at is null
		order by r.name
	`, userID)
	if err != nil {
		return auth.Access{}, err
	}
	access.Roles, err = collectStrings(rows)
	if err != nil {
		return auth.Access{}, err
	}

	rows, err = s.db.QueryContext(ctx, `
		select distinct p.key
		from user_roles ur
		join roles r on r.id = ur.role_id
		join role_permissions rp on rp.role_id = r.id
		join permissions p on p.id = rp.permission_id
		where ur.user_id = $1 and r.deleted_at is null and p.deleted_at is null
		order by p.key
	`, userID)
	if err != nil {
		return auth.Access{}, err
	}
	access.Permissions, err = collectStrings(rows)
	if err != nil {
		return auth.Access{}, err
	}
	return access, nil
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReplaceSession serializes concurrent logins of the same user on the user row
// so that exactly one session survives.
func (s *Store) ReplaceSession(ctx context.Context, sess auth.Session) error {
	return s.inTx(ctx, serializable, func(tx *sql.Tx) error {
		var id string
		if err := tx.QueryRowContext(ctx, `select id from users where id = $1 for update`, sess.UserID).Scan(&id); err != nil {
			return mapError(err, "user")
		}
		if _, err := tx.ExecContext(ctx, `delete from sessions where user_id = $1`, sess.UserID); err != nil {
			return mapError(err, "session")
		}
		if _, err := tx.ExecContext(ctx, `
			insert into sessions (id, user_id, token_hash, expires_at, last_used_at, ip_hash, user_agent, created_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8)
		`, sess.ID, sess.UserID, sess.TokenHash, sess.ExpiresAt, sess.LastUsedAt,
			nullIfEmpty(sess.IPHash), nullIfEmpty(sess.UserAgent), sess.CreatedAt); err != nil {
			return mapError(err, "session")
		}
		return nil
	})
}

func (s *Store) SessionByTokenHash(ctx context.Context, tokenHash string) (auth.Session, error) {
	var sess auth.Session
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token_hash, expires_at, last_used_at, coalesce(ip_hash, ''), coalesce(user_agent, ''), created_at
		from sessions
		where token_hash = $1
	`, tokenHash).Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.ExpiresAt, &sess.LastUsedAt,
		&sess.IPHash, &sess.UserAgent, &sess.CreatedAt)
	if err != nil {
		return auth.Session{}, mapError(err, "session")
	}
	return sess, nil
}

func (s *Store) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where token_hash = $1`, tokenHash)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update sessions set last_used_at = $2 where id = $1`, sessionID, at)
	if err != nil {
		return err
	}
	return expectAffected(res, "session")
}

func (s *Store) CreateResetToken(ctx context.Context, tok auth.PasswordResetToken) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			update password_reset_tokens set used_at = $2
			where user_id = $1 and used_at is null
		`, tok.UserID, tok.CreatedAt); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			insert into password_reset_tokens (id, user_id, token_hash, expires_at, created_at)
			values ($1, $2, $3, $4, $5)
		`, tok.ID, tok.UserID, tok.TokenHash, tok.ExpiresAt, tok.CreatedAt); err != nil {
			return mapError(err, "reset token")
		}
		return nil
	})
}

func (s *Store) ConsumeResetToken(ctx context.Context, tokenHash, passwordHash string, now time.Time) (string, error) {
	var userID string
	err := s.inTx(ctx, serializable, func(tx *sql.Tx) error {
		var tokenID string
		err := tx.QueryRowContext(ctx, `
			select id, user_id
			from password_reset_tokens
			where token_hash = $1 and used_at is null and expires_at > $2
			for update
		`, tokenHash, now).Scan(&tokenID, &userID)
		if err != nil {
			return mapError(err, "reset token")
		}
		res, err := tx.ExecContext(ctx, `
			update users set password_hash = $2, updated_at = $3
			where id = $1 and deleted_at is null
		`, userID, passwordHash, now)
		if err != nil {
			return err
		}
		if err := expectAffected(res, "user"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `update password_reset_tokens set used_at = $2 where id = $1`, tokenID, now); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `delete from sessions where user_id = $1`, userID)
		return err
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *Store) Profile(ctx context.Context, userID string) (auth.UserProfile, error) {
	var p auth.UserProfile
	row := s.db.QueryRowContext(ctx, `
		select `+userColumns("u")+`,
			coalesce(c.name, ''), coalesce(b.id, ''), coalesce(b.name, ''), coalesce(a.id, ''), coalesce(a.name, '')
		from users u
		left join chapters c on c.id = u.chapter_id
		left join branches b on b.id = c.branch_id
		left join associations a on a.id = b.association_id
		where u.id = $1 and u.deleted_at is null
	`, userID)
	u, err := scanUser(row, &p.ChapterName, &p.BranchID, &p.BranchName, &p.AssociationID, &p.AssociationName)
	if err != nil {
		return auth.UserProfile{}, mapError(err, "user")
	}
	p.User = u
	return p, nil
}

func (s *Store) UpdateProfile(ctx context.Context, userID string, upd auth.ProfileUpdate) (auth.User, error) {
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
	if b.empty() {
		return s.UserByID(ctx, userID)
	}
	b.sets = append(b.sets, "updated_at = now()")
	query, args := b.query("users", "id", userID)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUnique(err) {
			return auth.User{}, apperr.Conflict("email or phone already in use")
		}
		return auth.User{}, err
	}
	if err := expectAffected(res, "user"); err != nil {
		return auth.User{}, err
	}
	return s.UserByID(ctx, userID)
}
