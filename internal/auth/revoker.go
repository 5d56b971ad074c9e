package auth

import (
	"context"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// RevocationStore records revoked tokens and their token ids.
type RevocationStore interface {
	RevokeToken(ctx context.Context, token, tokenID string) error
}

// Revoker revokes a bearer token under both its raw form and its jti, so a
// re-encoded copy of the same signed token stays revoked.
type Revoker struct {
	store RevocationStore
}

// NewRevoker creates a Revoker backed by store.
func NewRevoker(store RevocationStore) *Revoker {
	return &Revoker{store: store}
}

// RevokeToken adds token to the revocation set.
func (r *Revoker) RevokeToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	return r.store.RevokeToken(ctx, token, TokenID(token))
}

// TokenID returns the jti claim of token without verifying its signature, or
// "" when the token cannot be decoded or carries none.
func TokenID(token string) string {
	var claims jwt.RegisteredClaims
	parser := jwt.NewParser(jwt.WithStrictDecoding())
	if _, _, err := parser.ParseUnverified(strings.TrimSpace(token), &claims); err != nil {
		return ""
	}
	return strings.TrimSpace(claims.ID)
}
