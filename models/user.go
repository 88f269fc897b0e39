package models

import "time"

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

type User struct {
	ID            int64     `json:"id"`
	Email         string    `json:"email"`
	PasswordHash  string    `json:"-"`
	FullName      string    `json:"full_name"`
	Role          string    `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// EmailVerification is an outstanding email confirmation. Only the SHA-256
// of the emailed token is stored.
type EmailVerification struct {
	UserID    int64
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (v EmailVerification) Expired(now time.Time) bool { return !now.Before(v.ExpiresAt) }

// Identity is the authenticated caller resolved from a bearer token.
type Identity struct {
	UserID int64
	Role   string
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// CanAccess reports whether the caller may act on a resource owned by ownerID.
func (i Identity) CanAccess(ownerID int64) bool {
	return i.IsAdmin() || i.UserID == ownerID
}

type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=72"`
	FullName string `json:"full_name" binding:"required,max=100"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      User      `json:"user"`
}
