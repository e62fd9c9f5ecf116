package models

import "github.com/golang-jwt/jwt/v5"

// Identity is the authenticated actor attached to a request.
type Identity struct {
	UID      string `json:"uid"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}
