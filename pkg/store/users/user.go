package users

import (
	"fmt"
	"time"
)

// Role represents the role of a user in the system.
type Role string

const (
	// RoleUser is a regular user with access to their own files only.
	RoleUser Role = "user"
	// RoleAdmin is an administrator who can manage accounts.
	RoleAdmin Role = "admin"
)

// IsValid checks if the role is a known Role.
func (r Role) IsValid() bool {
	return r == RoleUser || r == RoleAdmin
}

// User represents an account that can authenticate and own files.
//
// Salt and PasswordHash are stored hex-encoded; the credential helpers in
// this package produce and verify them. Neither is ever serialized to JSON
// or sent on the wire.
type User struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Username     string     `gorm:"uniqueIndex;not null;size:255" json:"username"`
	Email        string     `gorm:"size:255" json:"email,omitempty"`
	Salt         string     `gorm:"not null" json:"-"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         string     `gorm:"default:user;size:50" json:"role"`
	FirstName    string     `gorm:"size:255" json:"first_name,omitempty"`
	LastName     string     `gorm:"size:255" json:"last_name,omitempty"`
	Enabled      bool       `gorm:"default:true" json:"enabled"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// DisplayName returns "First Last" when set, otherwise the username.
func (u *User) DisplayName() string {
	if u.FirstName == "" && u.LastName == "" {
		return u.Username
	}
	if u.LastName == "" {
		return u.FirstName
	}
	if u.FirstName == "" {
		return u.LastName
	}
	return u.FirstName + " " + u.LastName
}

// IsAdmin checks if the user has the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == string(RoleAdmin)
}

// Validate checks if the user record is well formed.
func (u *User) Validate() error {
	if u.Username == "" {
		return fmt.Errorf("username is required")
	}
	if u.Role != "" && !Role(u.Role).IsValid() {
		return fmt.Errorf("invalid role %q", u.Role)
	}
	return nil
}
