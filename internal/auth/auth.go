// Package auth issues and reads the bearer tokens that identify chat and
// tracking participants.
package auth

import (
	"errors"
	"fmt"
	"time"

	"omni/live/internal/models"

	jwt "github.com/golang-jwt/jwt/v5"
)

const issuer = "omni-relay"

var (
	ErrMissingToken = errors.New("auth: token missing")
	ErrInvalidToken = errors.New("auth: invalid or expired token")
	ErrInvalidRole  = errors.New("auth: token carries no valid role")
)

// Identity is who a token speaks for.
type Identity struct {
	Subject string
	Name    string
	Role    models.Role
}

// Claims are the JWT claims carried by an Omni token.
type Claims struct {
	Name string      `json:"name"`
	Role models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Issue signs a token for id that expires after ttl.
func Issue(secret []byte, id Identity, ttl time.Duration, now time.Time) (string, error) {
	if !id.Role.Valid() {
		return "", ErrInvalidRole
	}
	claims := Claims{
		Name: id.Name,
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.Subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Verify checks the signature and expiry of token and returns its identity.
func Verify(secret []byte, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return identityFrom(claims)
}

// Inspect reads the identity from token without verifying its signature.
// Clients use it to learn their own role; only the server may trust it.
func Inspect(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return identityFrom(claims)
}

func identityFrom(c *Claims) (*Identity, error) {
	if !c.Role.Valid() {
		return nil, ErrInvalidRole
	}
	return &Identity{Subject: c.Subject, Name: c.Name, Role: c.Role}, nil
}
