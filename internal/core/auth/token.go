package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in access tokens.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

var signingMethod = jwt.SigningMethodHS256

// Config holds the HMAC secret and issuer used for access tokens.
type Config struct {
	Secret string
	Issuer string
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Email  string
	Role   string
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Claims is the JWT payload issued to customers and admins.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// MintToken issues a signed token for p valid for ttl.
func MintToken(cfg Config, p Principal, now time.Time, ttl time.Duration) (string, error) {
	if cfg.Secret == "" {
		return "", errors.New("jwt secret is required")
	}
	claims := Claims{
		UserID: p.UserID,
		Email:  p.Email,
		Role:   p.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

// ParseToken validates tokenString and returns the principal it names.
func ParseToken(cfg Config, tokenString string) (Principal, error) {
	if cfg.Secret == "" {
		return Principal{}, errors.New("jwt secret is required")
	}

	claims := &Claims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{signingMethod.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}

	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return Principal{}, fmt.Errorf("parse jwt: %w", err)
	}

	if claims.UserID == "" {
		return Principal{}, errors.New("token missing user_id")
	}
	if claims.Role != RoleCustomer && claims.Role != RoleAdmin {
		return Principal{}, fmt.Errorf("token has unknown role %q", claims.Role)
	}

	return Principal{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}
