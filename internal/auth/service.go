package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"colegio.org/internal/apperr"
	"colegio.org/internal/audit"
	"colegio.org/internal/ids"
	"colegio.org/internal/mail"
	"colegio.org/internal/obs"
)

const (
	defaultResetTTL   = time.Hour
	minPasswordLength = 8

	// ResetRequestedMessage is returned for every reset request so callers
	// cannot learn whether an account exists.
	ResetRequestedMessage = "If the account exists, a reset link has been sent"
)

// Auditor records security relevant events.
type Auditor interface {
	Log(ctx context.Context, action, entity, entityID string, e audit.Entry)
}

// Service authenticates members and manages their sessions and passwords.
type Service struct {
	store    Store
	tokens   *TokenIssuer
	mailer   mail.Mailer
	auditor  Auditor
	logger   *zap.Logger
	now      func() time.Time
	resetTTL time.Duration
	resetURL string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) error {
		if now == nil {
			return errors.New("auth: clock is nil")
		}
		s.now = now
		return nil
	}
}

// WithResetTTL sets the lifetime of password reset tokens.
func WithResetTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl <= 0 {
			return errors.New("auth: reset ttl must be greater than zero")
		}
		s.resetTTL = ttl
		return nil
	}
}

// WithResetURL sets the frontend page the reset email links to.
func WithResetURL(raw string) ServiceOption {
	return func(s *Service) error {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil
		}
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("auth: reset url: %w", err)
		}
		s.resetURL = raw
		return nil
	}
}

func WithMailer(m mail.Mailer) ServiceOption {
	return func(s *Service) error {
		if m != nil {
			s.mailer = m
		}
		return nil
	}
}

func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) error {
		if a != nil {
			s.auditor = a
		}
		return nil
	}
}

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.logger = l
		}
		return nil
	}
}

// NewService constructs a Service backed by the provided store and token issuer.
func NewService(store Store, tokens *TokenIssuer, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	if tokens == nil {
		return nil, errors.New("auth: token issuer is required")
	}
	s := &Service{
		store:    store,
		tokens:   tokens,
		mailer:   mail.Disabled{},
		auditor:  audit.NewRecorder(nil, nil),
		logger:   zap.NewNop(),
		now:      time.Now,
		resetTTL: defaultResetTTL,
		resetURL: "http://localhost:5173/reset-password",
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Tokens exposes the issuer used to verify bearer tokens.
func (s *Service) Tokens() *TokenIssuer { return s.tokens }

type LoginInput struct {
	DNI       string
	Password  string
	ClientIP  string
	UserAgent string
}

type LoginResult struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
	User        User      `json:"user"`
	Roles       []string  `json:"roles"`
	Permissions []string  `json:"permissions"`
}

// Login verifies credentials and replaces any session the user holds with a new one.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	dni := strings.TrimSpace(in.DNI)
	if dni == "" || in.Password == "" {
		obs.ObserveLogin("invalid")
		return LoginResult{}, errInvalidCredentials
	}

	user, err := s.store.UserByDNI(ctx, dni)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			burnPasswordCheck(in.Password)
			obs.ObserveLogin("invalid")
			return LoginResult{}, errInvalidCredentials
		}
		return LoginResult{}, err
	}

	ok, err := VerifyPassword(user.PasswordHash, in.Password)
	if err != nil {
		s.logger.Warn("stored password hash unreadable", zap.String("user_id", user.ID), zap.Error(err))
	}
	if !ok {
		obs.ObserveLogin("invalid")
		return LoginResult{}, errInvalidCredentials
	}
	if !user.Usable() {
		obs.ObserveLogin("inactive")
		if reason := strings.TrimSpace(user.StatusReason); reason != "" {
			return LoginResult{}, apperr.Forbidden("user is inactive: %s", reason)
		}
		return LoginResult{}, apperr.Forbidden("user is inactive")
	}

	token, claims, err := s.tokens.Issue(user.ID, user.DNI)
	if err != nil {
		return LoginResult{}, err
	}
	now := s.now().UTC()
	expiresAt := now.Add(s.tokens.TTL())
	if claims != nil && claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time.UTC()
	}
	ipHash := hashOptional(in.ClientIP)
	sess := Session{
		ID:         ids.New(),
		UserID:     user.ID,
		TokenHash:  HashToken(token),
		ExpiresAt:  expiresAt,
		LastUsedAt: now,
		IPHash:     ipHash,
		UserAgent:  strings.TrimSpace(in.UserAgent),
		CreatedAt:  now,
	}
	if err := s.store.ReplaceSession(ctx, sess); err != nil {
		return LoginResult{}, err
	}

	access, err := s.store.UserAccess(ctx, user.ID)
	if err != nil {
		return LoginResult{}, err
	}
	principal := NewPrincipal(user, sess.ID, access)

	s.auditor.Log(ctx, "LOGIN", "User", user.ID, audit.Entry{UserID: user.ID, IPHash: ipHash})
	obs.ObserveLogin("success")

	return LoginResult{
		AccessToken: token,
		ExpiresAt:   expiresAt,
		User:        user,
		Roles:       principal.Roles,
		Permissions: principal.PermissionList(),
	}, nil
}

// Logout revokes the session bound to rawToken. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, rawToken, userID string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return apperr.BadRequest("missing token")
	}
	if _, err := s.store.DeleteSessionByTokenHash(ctx, HashToken(rawToken)); err != nil {
		return err
	}
	if userID != "" {
		s.auditor.Log(ctx, "LOGOUT", "User", userID, audit.Entry{UserID: userID})
	}
	return nil
}

// ValidateSession checks that rawToken is backed by a live session owned by
// the claims subject and resolves the caller's roles and permissions.
func (s *Service) ValidateSession(ctx context.Context, claims *Claims, rawToken string) (Principal, error) {
	if claims == nil || strings.TrimSpace(rawToken) == "" {
		return Principal{}, invalidToken()
	}
	tokenHash := HashToken(rawToken)
	sess, err := s.store.SessionByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Principal{}, apperr.Unauthorized("session not found")
		}
		return Principal{}, err
	}
	if !secureCompareHash(sess.TokenHash, rawToken) {
		return Principal{}, apperr.Unauthorized("session not found")
	}
	now := s.now().UTC()
	if !sess.ExpiresAt.After(now) {
		if _, err := s.store.DeleteSessionByTokenHash(ctx, tokenHash); err != nil {
			s.logger.Warn("expired session cleanup failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
		return Principal{}, sessionExpired()
	}
	if sess.UserID != claims.Subject {
		return Principal{}, apperr.Unauthorized("session does not belong to token subject")
	}

	user, err := s.store.UserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return Principal{}, apperr.Unauthorized("user not found")
		}
		return Principal{}, err
	}
	if !user.Usable() {
		return Principal{}, apperr.Unauthorized("user is inactive")
	}

	if err := s.store.TouchSession(ctx, sess.ID, now); err != nil {
		s.logger.Warn("session touch failed", zap.String("session_id", sess.ID), zap.Error(err))
	}

	access, err := s.store.UserAccess(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	return NewPrincipal(user, sess.ID, access), nil
}

// Authenticate verifies a bearer token and its backing session.
func (s *Service) Authenticate(ctx context.Context, rawToken string) (Principal, error) {
	claims, err := s.tokens.Parse(rawToken)
	if err != nil {
		return Principal{}, invalidToken()
	}
	return s.ValidateSession(ctx, claims, rawToken)
}

// RequestPasswordReset emails a single-use reset link when the account can
// receive one. The returned message never depends on the account state.
func (s *Service) RequestPasswordReset(ctx context.Context, dni string) (string, error) {
	dni = strings.TrimSpace(dni)
	if dni == "" {
		return ResetRequestedMessage, nil
	}
	user, err := s.store.UserByDNI(ctx, dni)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return ResetRequestedMessage, nil
		}
		return "", err
	}
	if !user.Usable() || strings.TrimSpace(user.Email) == "" {
		return ResetRequestedMessage, nil
	}

	raw, hash, err := newResetSecret()
	if err != nil {
		return "", fmt.Errorf("generate reset token: %w", err)
	}
	now := s.now().UTC()
	tok := PasswordResetToken{
		ID:        ids.New(),
		UserID:    user.ID,
		TokenHash: hash,
		ExpiresAt: now.Add(s.resetTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateResetToken(ctx, tok); err != nil {
		return "", err
	}

	if err := s.mailer.SendPasswordReset(ctx, mail.PasswordResetMail{
		To:       user.Email,
		FullName: user.FullName(),
		ResetURL: s.resetLink(raw),
	}); err != nil {
		s.logger.Warn("password reset mail failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	s.auditor.Log(ctx, "PASSWORD_RESET_REQUEST", "User", user.ID, audit.Entry{UserID: user.ID})
	return ResetRequestedMessage, nil
}

// ResetPassword consumes a reset token, replaces the password and revokes every session.
func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return apperr.BadRequest("missing token")
	}
	if len(newPassword) < minPasswordLength {
		return apperr.BadRequest("password must be at least %d characters", minPasswordLength)
	}
	passwordHash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}
	userID, err := s.store.ConsumeResetToken(ctx, HashToken(rawToken), passwordHash, s.now().UTC())
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.BadRequest("invalid or expired token")
		}
		return err
	}
	s.auditor.Log(ctx, "PASSWORD_RESET", "User", userID, audit.Entry{UserID: userID})
	return nil
}

func (s *Service) resetLink(raw string) string {
	u, err := url.Parse(s.resetURL)
	if err != nil {
		return s.resetURL + "?token=" + url.QueryEscape(raw)
	}
	q := u.Query()
	q.Set("token", raw)
	u.RawQuery = q.Encode()
	return u.String()
}
