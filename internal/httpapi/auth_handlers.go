package httpapi

import (
	"net/http"
	"strings"

	"colegio.org/internal/apperr"
	"colegio.org/internal/auth"
)

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	res, err := a.svc.Auth.Login(r.Context(), auth.LoginInput{
		DNI:       strings.TrimSpace(req.DNI),
		Password:  req.Password,
		ClientIP:  clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		a.handleError(w, r, apperr.Unauthorized("missing bearer token"))
		return
	}
	if err := a.svc.Auth.Logout(r.Context(), token, principal(r).User.ID); err != nil {
		a.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	msg, err := a.svc.Auth.RequestPasswordReset(r.Context(), req.DNI)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	if err := a.svc.Auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principal(r)
	profile, err := a.svc.Auth.Me(r.Context(), p.User.ID)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"profile":     profile,
		"roles":       p.Roles,
		"permissions": p.PermissionList(),
	})
}

func (a *API) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateProfileRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	user, err := a.svc.Auth.UpdateProfile(r.Context(), principal(r).User.ID, req.update())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
