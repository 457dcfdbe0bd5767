package auth

import (
	"strings"
	"time"
)

// User is a member of the association identified by a national DNI.
type User struct {
	ID           string     `json:"id"`
	DNI          string     `json:"dni"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Email        string     `json:"email,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	ChapterID    string     `json:"chapterId"`
	IsActive     bool       `json:"isActive"`
	StatusReason string     `json:"statusReason,omitempty"`
	DeletedAt    *time.Time `json:"deletedAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Usable reports whether the account may hold a session.
func (u User) Usable() bool {
	return u.IsActive && u.DeletedAt == nil
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Session is the single server-side record backing a bearer token.
type Session struct {
	ID         string
	UserID     string
	TokenHash  string
	ExpiresAt  time.Time
	LastUsedAt time.Time
	IPHash     string
	UserAgent  string
	CreatedAt  time.Time
}

// PasswordResetToken stores only the hash of the emailed token.
type PasswordResetToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

// Access lists role names and permission keys granted to a user through non-deleted roles.
type Access struct {
	Roles       []string
	Permissions []string
}

// Role groups permissions.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Permissions []string  `json:"permissions,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Permission is a fine-grained capability identified by key.
type Permission struct {
	ID          string    `json:"id"`
	Key         string    `json:"key"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// UserProfile is a user together with the names of its organizational chain.
type UserProfile struct {
	User
	ChapterName     string `json:"chapterName"`
	BranchID        string `json:"branchId"`
	BranchName      string `json:"branchName"`
	AssociationID   string `json:"associationId"`
	AssociationName string `json:"associationName"`
}

// ProfileUpdate enumerates the self-service fields; nil means unchanged.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Phone     *string
	Email     *string
}

func (u ProfileUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Phone == nil && u.Email == nil
}

// RoleUpdate enumerates mutable role fields; nil means unchanged.
type RoleUpdate struct {
	Name        *string
	Description *string
}

// PermissionUpdate enumerates mutable permission fields; nil means unchanged.
type PermissionUpdate struct {
	Key         *string
	Description *string
}

// ManagedUser is a user as seen by administrators, with its role names.
type ManagedUser struct {
	User
	Roles []string `json:"roles"`
}

// NewUser is an administrator-created account. Member is always granted on
// top of Roles.
type NewUser struct {
	DNI       string
	Password  string
	FirstName string
	LastName  string
	Phone     string
	Email     string
	ChapterID string
	Roles     []string
}

// UserUpdate enumerates the fields an administrator may change. Nil pointers
// leave a field unchanged; a non-nil Roles replaces the user's roles.
type UserUpdate struct {
	FirstName *string
	LastName  *string
	Phone     *string
	Email     *string
	ChapterID *string
	Password  *string
	IsActive  *bool
	Roles     []string
}

func (u UserUpdate) Empty() bool {
	return u.FirstName == nil && u.LastName == nil && u.Phone == nil && u.Email == nil &&
		u.ChapterID == nil && u.Password == nil && u.IsActive == nil && u.Roles == nil
}
