package auth

import (
	"context"
	"strings"

	"colegio.org/internal/apperr"
	"colegio.org/internal/audit"
)

// Me returns the caller's profile with the names of its chapter, branch and association.
func (s *Service) Me(ctx context.Context, userID string) (UserProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return UserProfile{}, apperr.Unauthorized("missing user")
	}
	return s.store.Profile(ctx, userID)
}

// UpdateProfile applies the self-service changes in upd.
func (s *Service) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (User, error) {
	if upd.Empty() {
		return User{}, apperr.BadRequest("no fields to update")
	}
	upd.FirstName = trimmed(upd.FirstName)
	upd.LastName = trimmed(upd.LastName)
	upd.Phone = trimmed(upd.Phone)
	upd.Email = trimmed(upd.Email)
	if upd.FirstName != nil && *upd.FirstName == "" {
		return User{}, apperr.BadRequest("firstName cannot be empty")
	}
	if upd.LastName != nil && *upd.LastName == "" {
		return User{}, apperr.BadRequest("lastName cannot be empty")
	}
	user, err := s.store.UpdateProfile(ctx, userID, upd)
	if err != nil {
		return User{}, err
	}
	s.auditor.Log(ctx, "PROFILE_UPDATE", "User", userID, audit.Entry{UserID: userID})
	return user, nil
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}
