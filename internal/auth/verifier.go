// Package auth verifies the credential tokens presented during the
// connection handshake.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yeonboard/chatserver/internal/normalize"
)

// Claims is the credential payload the account subsystem issues. The subject
// may arrive under user_id, the registered sub claim, or a legacy id claim.
type Claims struct {
	UserID   string `json:"user_id,omitempty"`
	LegacyID string `json:"id,omitempty"`
	Email    string `json:"email,omitempty"`
	Nickname string `json:"nickname,omitempty"`
	jwt.RegisteredClaims
}

// SubjectID returns the subject identifier, checking user_id, sub, then id.
// Empty means the token carries no usable identity.
func (c *Claims) SubjectID() string {
	if c.UserID != "" {
		return c.UserID
	}
	if c.RegisteredClaims.Subject != "" {
		return c.RegisteredClaims.Subject
	}
	return c.LegacyID
}

// Verifier validates tokens against the issuer's RSA public key.
type Verifier struct {
	key *rsa.PublicKey
}

// NewVerifier returns a Verifier using the given public key.
func NewVerifier(key *rsa.PublicKey) *Verifier {
	return &Verifier{key: key}
}

// NewVerifierFromFile loads a PEM-encoded RSA public key from disk.
func NewVerifierFromFile(path string) (*Verifier, error) {
	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return &Verifier{key: key}, nil
}

// Verify parses and validates a token and returns its claims. Any signature,
// expiry, or signing-method problem fails verification; the caller treats all
// of them as an authentication failure.
func (v *Verifier) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Tokens are issued with RS256: reject anything signed with a
		// different scheme before touching the key.
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.key, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims.Email = normalize.Email(claims.Email)
	return claims, nil
}
