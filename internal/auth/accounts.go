package auth

import (
	"context"
	"strings"

	"colegio.org/internal/apperr"
)

const maxNameLength = 100

func (s *RBACService) ListUsers(ctx context.Context) ([]ManagedUser, error) {
	return s.store.ListUsers(ctx)
}

// CreateUser registers an account on behalf of an administrator. A DNI that
// belongs to a soft-deleted user restores that user, reactivated, with the
// new data.
func (s *RBACService) CreateUser(ctx context.Context, in NewUser) (ManagedUser, error) {
	in.DNI = strings.TrimSpace(in.DNI)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Email = strings.TrimSpace(in.Email)
	in.ChapterID = strings.TrimSpace(in.ChapterID)

	switch {
	case in.DNI == "":
		return ManagedUser{}, apperr.BadRequest("dni is required")
	case in.FirstName == "" || in.LastName == "":
		return ManagedUser{}, apperr.BadRequest("firstName and lastName are required")
	case len(in.FirstName) > maxNameLength || len(in.LastName) > maxNameLength:
		return ManagedUser{}, apperr.BadRequest("names must be at most %d characters", maxNameLength)
	case in.ChapterID == "":
		return ManagedUser{}, apperr.BadRequest("chapterId is required")
	case len(in.Password) < minPasswordLength:
		return ManagedUser{}, apperr.BadRequest("password must be at least %d characters", minPasswordLength)
	}

	hash, err := HashPassword(in.Password)
	if err != nil {
		return ManagedUser{}, err
	}
	roles := dedupeStrings(append(append([]string(nil), in.Roles...), RoleMember))
	user, restored, err := s.store.CreateUser(ctx, User{
		DNI:          in.DNI,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Phone:        in.Phone,
		Email:        in.Email,
		ChapterID:    in.ChapterID,
		IsActive:     true,
	}, roles)
	if err != nil {
		return ManagedUser{}, err
	}
	action := "USER_CREATE"
	if restored {
		action = "USER_RESTORE"
	}
	s.record(ctx, action, "User", user.ID, map[string]any{"dni": user.DNI, "roles": user.Roles})
	return user, nil
}

// UpdateUser applies an administrator's changes to a live user.
func (s *RBACService) UpdateUser(ctx context.Context, userID string, upd UserUpdate) (ManagedUser, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return ManagedUser{}, apperr.BadRequest("user id is required")
	}
	if upd.Empty() {
		return ManagedUser{}, apperr.BadRequest("no fields to update")
	}
	upd.FirstName = trimmed(upd.FirstName)
	upd.LastName = trimmed(upd.LastName)
	upd.Phone = trimmed(upd.Phone)
	upd.Email = trimmed(upd.Email)
	upd.ChapterID = trimmed(upd.ChapterID)
	if (upd.FirstName != nil && *upd.FirstName == "") || (upd.LastName != nil && *upd.LastName == "") {
		return ManagedUser{}, apperr.BadRequest("names cannot be empty")
	}
	if upd.ChapterID != nil && *upd.ChapterID == "" {
		return ManagedUser{}, apperr.BadRequest("chapterId cannot be empty")
	}
	if upd.Roles != nil {
		upd.Roles = dedupeStrings(upd.Roles)
		if upd.Roles == nil {
			upd.Roles = []string{}
		}
	}

	var hash string
	if upd.Password != nil {
		if len(*upd.Password) < minPasswordLength {
			return ManagedUser{}, apperr.BadRequest("password must be at least %d characters", minPasswordLength)
		}
		var err error
		if hash, err = HashPassword(*upd.Password); err != nil {
			return ManagedUser{}, err
		}
		upd.Password = nil
	}

	user, err := s.store.UpdateUser(ctx, userID, upd, hash)
	if err != nil {
		return ManagedUser{}, err
	}
	s.record(ctx, "USER_UPDATE", "User", user.ID, map[string]any{"dni": user.DNI})
	return user, nil
}

// DeleteUser soft-deletes a user and ends its session. Callers cannot delete
// their own account.
func (s *RBACService) DeleteUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperr.BadRequest("user id is required")
	}
	if actor, ok := UserIDFromContext(ctx); ok && actor == userID {
		return apperr.Forbidden("you cannot delete your own account")
	}
	if err := s.store.SoftDeleteUser(ctx, userID); err != nil {
		return err
	}
	s.record(ctx, "USER_DELETE", "User", userID, nil)
	return nil
}
