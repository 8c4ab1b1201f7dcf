package models

import "time"

// UserRole represents the role of a user in the system.
type UserRole string

const (
	// RoleUser is a regular user with access to their own archives.
	RoleUser UserRole = "user"
	// RoleAdmin is an administrator with user and provider management rights.
	RoleAdmin UserRole = "admin"
)

// IsValid checks if the role is a valid UserRole.
func (r UserRole) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents a tenant of the storage service.
//
// QuotaBytes of zero means unlimited. UsedBytes tracks the plaintext size of
// all live archives and is adjusted when archives are created and reaped.
type User struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null;size:255" json:"username"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         string     `gorm:"default:user;size:50" json:"role"`
	Enabled      bool       `gorm:"default:true" json:"enabled"`
	QuotaBytes   int64      `json:"quota_bytes"`
	UsedBytes    int64      `json:"used_bytes"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return UserRole(u.Role) == RoleAdmin
}

// Unlimited reports whether the user has no quota ceiling.
func (u *User) Unlimited() bool {
	return u.QuotaBytes == 0
}
