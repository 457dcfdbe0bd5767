package auth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"colegio.org/internal/apperr"
	"colegio.org/internal/audit"
	"colegio.org/internal/mail"
)

// RBACStore persists roles, permissions and their assignments. Deletes are soft.
type RBACStore interface {
	ListRoles(ctx context.Context) ([]Role, error)
	GetRole(ctx context.Context, roleID string) (Role, error)
	CreateRole(ctx context.Context, role Role) (Role, error)
	UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error)
	SoftDeleteRole(ctx context.Context, roleID string) error

	ListPermissions(ctx context.Context) ([]Permission, error)
	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
	UpdatePermission(ctx context.Context, permissionID string, upd PermissionUpdate) (Permission, error)
	SoftDeletePermission(ctx context.Context, permissionID string) error

	// ReplaceRolePermissions fails with apperr.ErrBadRequest when a key is unknown.
	ReplaceRolePermissions(ctx context.Context, roleID string, keys []string) error
	// AddRolePermissions grants keys on top of the role's current ones.
	AddRolePermissions(ctx context.Context, roleID string, keys []string) error
	// ReplaceUserRoles fails with apperr.ErrBadRequest when a role name is unknown.
	ReplaceUserRoles(ctx context.Context, userID string, roleNames []string) error
	// AddUserRoles grants roles on top of the user's current ones.
	AddUserRoles(ctx context.Context, userID string, roleNames []string) error

	UserByDNI(ctx context.Context, dni string) (User, error)
	ListUsers(ctx context.Context) ([]ManagedUser, error)
	// CreateUser inserts u with roleNames. When the DNI belongs to a
	// soft-deleted user that row is revived with u's data and its roles are
	// replaced; restored is then true. A live DNI fails with apperr.ErrConflict.
	CreateUser(ctx context.Context, u User, roleNames []string) (user ManagedUser, restored bool, err error)
	// UpdateUser applies upd. passwordHash replaces the stored hash when set.
	// Deactivation or a new password deletes the user's sessions in the same
	// transaction.
	UpdateUser(ctx context.Context, userID string, upd UserUpdate, passwordHash string) (ManagedUser, error)
	// SoftDeleteUser marks the user deleted and inactive and deletes its
	// sessions atomically.
	SoftDeleteUser(ctx context.Context, userID string) error

	// SetUserStatus updates the flag and, on deactivation, deletes the user's sessions in the same transaction.
	SetUserStatus(ctx context.Context, userID string, active bool, reason string) (User, error)

	EnsurePermission(ctx context.Context, perm Permission) (Permission, error)
	EnsureRole(ctx context.Context, role Role) (Role, error)
}

// RBACService manages roles, permissions, accounts and member status.
type RBACService struct {
	store   RBACStore
	mailer  mail.Mailer
	auditor Auditor
	logger  *zap.Logger
}

func NewRBACService(store RBACStore, mailer mail.Mailer, auditor Auditor, logger *zap.Logger) (*RBACService, error) {
	if store == nil {
		return nil, errors.New("rbac store is required")
	}
	if mailer == nil {
		mailer = mail.Disabled{}
	}
	if auditor == nil {
		auditor = audit.NewRecorder(nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RBACService{store: store, mailer: mailer, auditor: auditor, logger: logger}, nil
}

func (s *RBACService) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *RBACService) GetRole(ctx context.Context, roleID string) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, apperr.BadRequest("role id is required")
	}
	return s.store.GetRole(ctx, roleID)
}

func (s *RBACService) CreateRole(ctx context.Context, name, description string) (Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Role{}, apperr.BadRequest("role name is required")
	}
	role, err := s.store.CreateRole(ctx, Role{Name: name, Description: strings.TrimSpace(description)})
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, "ROLE_CREATE", "Role", role.ID, map[string]any{"name": role.Name})
	return role, nil
}

func (s *RBACService) UpdateRole(ctx context.Context, roleID string, upd RoleUpdate) (Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return Role{}, apperr.BadRequest("role id is required")
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Role{}, apperr.BadRequest("role name is required")
		}
		upd.Name = &name
	}
	if upd.Description != nil {
		desc := strings.TrimSpace(*upd.Description)
		upd.Description = &desc
	}
	if upd.Name == nil && upd.Description == nil {
		return Role{}, apperr.BadRequest("no fields to update")
	}
	role, err := s.store.UpdateRole(ctx, roleID, upd)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, "ROLE_UPDATE", "Role", role.ID, nil)
	return role, nil
}

// DeleteRole soft-deletes a role. The SystemAdmin role is protected.
func (s *RBACService) DeleteRole(ctx context.Context, roleID string) error {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return err
	}
	if strings.EqualFold(role.Name, RoleSystemAdmin) {
		return apperr.Forbidden("the %s role cannot be deleted", RoleSystemAdmin)
	}
	if err := s.store.SoftDeleteRole(ctx, role.ID); err != nil {
		return err
	}
	s.record(ctx, "ROLE_DELETE", "Role", role.ID, map[string]any{"name": role.Name})
	return nil
}

func (s *RBACService) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func (s *RBACService) CreatePermission(ctx context.Context, key, description string) (Permission, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Permission{}, apperr.BadRequest("permission key is required")
	}
	perm, err := s.store.CreatePermission(ctx, Permission{Key: key, Description: strings.TrimSpace(description)})
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, "PERMISSION_CREATE", "Permission", perm.ID, map[string]any{"key": perm.Key})
	return perm, nil
}

func (s *RBACService) UpdatePermission(ctx context.Context, permissionID string, upd PermissionUpdate) (Permission, error) {
	permissionID = strings.TrimSpace(permissionID)
	if permissionID == "" {
		return Permission{}, apperr.BadRequest("permission id is required")
	}
	upd.Key = trimmed(upd.Key)
	upd.Description = trimmed(upd.Description)
	if upd.Key != nil && *upd.Key == "" {
		return Permission{}, apperr.BadRequest("permission key is required")
	}
	if upd.Key == nil && upd.Description == nil {
		return Permission{}, apperr.BadRequest("no fields to update")
	}
	perm, err := s.store.UpdatePermission(ctx, permissionID, upd)
	if err != nil {
		return Permission{}, err
	}
	s.record(ctx, "PERMISSION_UPDATE", "Permission", perm.ID, map[string]any{"key": perm.Key})
	return perm, nil
}

func (s *RBACService) DeletePermission(ctx context.Context, permissionID string) error {
	permissionID = strings.TrimSpace(permissionID)
	if permissionID == "" {
		return apperr.BadRequest("permission id is required")
	}
	if err := s.store.SoftDeletePermission(ctx, permissionID); err != nil {
		return err
	}
	s.record(ctx, "PERMISSION_DELETE", "Permission", permissionID, nil)
	return nil
}

func (s *RBACService) ReplaceRolePermissions(ctx context.Context, roleID string, keys []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return apperr.BadRequest("role id is required")
	}
	keys = dedupeStrings(keys)
	if err := s.store.ReplaceRolePermissions(ctx, roleID, keys); err != nil {
		return err
	}
	s.record(ctx, "ROLE_PERMISSIONS_REPLACE", "Role", roleID, map[string]any{"permissions": keys})
	return nil
}

func (s *RBACService) AddRolePermissions(ctx context.Context, roleID string, keys []string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return apperr.BadRequest("role id is required")
	}
	keys = dedupeStrings(keys)
	if len(keys) == 0 {
		return apperr.BadRequest("permissions must not be empty")
	}
	if err := s.store.AddRolePermissions(ctx, roleID, keys); err != nil {
		return err
	}
	s.record(ctx, "ROLE_PERMISSIONS_ADD", "Role", roleID, map[string]any{"permissions": keys})
	return nil
}

func (s *RBACService) ReplaceUserRoles(ctx context.Context, userID string, roleNames []string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperr.BadRequest("user id is required")
	}
	roleNames = dedupeStrings(roleNames)
	if err := s.store.ReplaceUserRoles(ctx, userID, roleNames); err != nil {
		return err
	}
	s.record(ctx, "USER_ROLES_REPLACE", "User", userID, map[string]any{"roles": roleNames})
	return nil
}

func (s *RBACService) AddUserRoles(ctx context.Context, userID string, roleNames []string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return apperr.BadRequest("user id is required")
	}
	roleNames = dedupeStrings(roleNames)
	if len(roleNames) == 0 {
		return apperr.BadRequest("roles must not be empty")
	}
	if err := s.store.AddUserRoles(ctx, userID, roleNames); err != nil {
		return err
	}
	s.record(ctx, "USER_ROLES_ADD", "User", userID, map[string]any{"roles": roleNames})
	return nil
}

// AddUserRolesByDNI resolves a live user by DNI and grants roleNames. It
// returns the user id.
func (s *RBACService) AddUserRolesByDNI(ctx context.Context, dni string, roleNames []string) (string, error) {
	user, err := s.liveUserByDNI(ctx, dni)
	if err != nil {
		return "", err
	}
	return user.ID, s.AddUserRoles(ctx, user.ID, roleNames)
}

// ReplaceUserRolesByDNI resolves a live user by DNI and replaces its roles.
func (s *RBACService) ReplaceUserRolesByDNI(ctx context.Context, dni string, roleNames []string) (string, error) {
	user, err := s.liveUserByDNI(ctx, dni)
	if err != nil {
		return "", err
	}
	return user.ID, s.ReplaceUserRoles(ctx, user.ID, roleNames)
}

func (s *RBACService) liveUserByDNI(ctx context.Context, dni string) (User, error) {
	dni = strings.TrimSpace(dni)
	if dni == "" {
		return User{}, apperr.BadRequest("dni is required")
	}
	user, err := s.store.UserByDNI(ctx, dni)
	if err != nil {
		return User{}, err
	}
	if user.DeletedAt != nil {
		return User{}, apperr.NotFound("user not found")
	}
	return user, nil
}

// SetUserStatus activates or deactivates a member and notifies them by email.
func (s *RBACService) SetUserStatus(ctx context.Context, userID string, active bool, reason string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, apperr.BadRequest("user id is required")
	}
	reason = strings.TrimSpace(reason)
	if active {
		reason = ""
	}
	user, err := s.store.SetUserStatus(ctx, userID, active, reason)
	if err != nil {
		return User{}, err
	}
	if user.Email != "" {
		if err := s.mailer.SendAccountStatusChange(ctx, mail.AccountStatusChangeMail{
			To:       user.Email,
			FullName: user.FullName(),
			IsActive: active,
		}); err != nil {
			s.logger.Warn("status change mail failed", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	s.record(ctx, "USER_STATUS_CHANGE", "User", user.ID, map[string]any{"isActive": active, "reason": reason})
	return user, nil
}

// EnsureBuiltins provisions the built-in permissions and roles. It is idempotent.
func (s *RBACService) EnsureBuiltins(ctx context.Context) error {
	all := make([]string, 0, len(BuiltinPermissions))
	for _, p := range BuiltinPermissions {
		perm, err := s.store.EnsurePermission(ctx, p)
		if err != nil {
			return err
		}
		all = append(all, perm.Key)
	}
	for _, br := range BuiltinRoles {
		role, err := s.store.EnsureRole(ctx, Role{Name: br.Name, Description: br.Description})
		if err != nil {
			return err
		}
		keys := br.Permissions
		if br.AllPermissions {
			keys = all
		}
		if err := s.store.ReplaceRolePermissions(ctx, role.ID, keys); err != nil {
			return err
		}
	}
	return nil
}

func (s *RBACService) record(ctx context.Context, action, entity, entityID string, meta map[string]any) {
	actor, _ := UserIDFromContext(ctx)
	s.auditor.Log(ctx, action, entity, entityID, audit.Entry{UserID: actor, Metadata: meta})
}
