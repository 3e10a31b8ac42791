package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating a user. The identifier
// may be an email address or, for citizen accounts, a PSN.
type LoginRequest struct {
	Identifier string `json:"identifier" validate:"required"`
	Password   string `json:"password" validate:"required"`
	IP         string `json:"-"`
	UserAgent  string `json:"-"`
}

// LoginResponse returns the issued tokens and user info.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	User         UserInfo  `json:"user"`
	IssuedAt     time.Time `json:"issued_at"`
}

// UserInfo describes the authenticated user in responses.
type UserInfo struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	Role     UserRole `json:"role"`
	PSN      string   `json:"psn,omitempty"`
}

// JWTClaims represents the JWT payload for access tokens. PSN is populated
// for citizen tokens so citizen-scoped operations can resolve "self" without
// an extra lookup.
type JWTClaims struct {
	UserID    string   `json:"user_id"`
	Role      UserRole `json:"role"`
	Email     string   `json:"email"`
	PSN       string   `json:"psn,omitempty"`
	TokenType string   `json:"typ,omitempty"`
	jwt.RegisteredClaims
}
