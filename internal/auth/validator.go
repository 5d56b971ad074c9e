package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/Tyrowin/roomchat/internal/domain"
)

// UserLookup resolves a token subject to a registered user.
type UserLookup interface {
	UserByUsername(ctx context.Context, username string) (domain.User, error)
}

// RevocationChecker reports whether a raw token, or the token id (jti) it
// carries, has been revoked.
type RevocationChecker interface {
	IsTokenRevoked(ctx context.Context, token string) (bool, error)
	IsTokenIDRevoked(ctx context.Context, tokenID string) (bool, error)
}

// Validator turns bearer tokens into identities.
type Validator struct {
	secret  []byte
	revoked RevocationChecker
	users   UserLookup
	now     func() time.Time
	log     zerolog.Logger
}

// ValidatorOption customizes a Validator.
type ValidatorOption func(*Validator)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithLogger attaches a logger for rejection reasons.
func WithLogger(log zerolog.Logger) ValidatorOption {
	return func(v *Validator) {
		v.log = log
	}
}

// NewValidator creates a Validator bound to the shared secret and collaborators.
func NewValidator(secret string, revoked RevocationChecker, users UserLookup, opts ...ValidatorOption) *Validator {
	v := &Validator{
		secret:  []byte(secret),
		revoked: revoked,
		users:   users,
		now:     time.Now,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate resolves token to an identity. Every failure returns
// domain.ErrUnauthorized so callers cannot tell which check failed.
func (v *Validator) Validate(ctx context.Context, token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return v.reject("empty token", nil)
	}
	if !wellFormed(token) {
		return v.reject("token contains invalid characters", nil)
	}

	revoked, err := v.revoked.IsTokenRevoked(ctx, token)
	if err != nil {
		return v.reject("revocation lookup failed", err)
	}
	if revoked {
		return v.reject("token revoked", nil)
	}

	var claims jwt.RegisteredClaims
	_, err = jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{Algorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithStrictDecoding(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return v.reject(jwtReason(err), err)
	}

	if claims.ID != "" {
		revoked, err := v.revoked.IsTokenIDRevoked(ctx, claims.ID)
		if err != nil {
			return v.reject("revocation lookup failed", err)
		}
		if revoked {
			return v.reject("token id revoked", nil)
		}
	}

	username := strings.TrimSpace(claims.Subject)
	if username == "" {
		return v.reject("subject claim missing", nil)
	}

	user, err := v.users.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return v.reject("unknown subject", nil)
		}
		return v.reject("user lookup failed", err)
	}

	return user.Identity(), nil
}

func (v *Validator) reject(reason string, err error) (domain.Identity, error) {
	v.log.Debug().Err(err).Str("reason", reason).Msg("token rejected")
	return domain.Identity{}, domain.ErrUnauthorized
}

// wellFormed reports whether token only uses the base64url alphabet and the
// segment separator. Anything else could encode the same signed token under a
// different revocation key.
func wellFormed(token string) bool {
	for i := 0; i < len(token); i++ {
		c := token[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '-', c == '_', c == '.':
		default:
			return false
		}
	}
	return true
}

func jwtReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "unexpected signing method"
	default:
		return "invalid token"
	}
}
