package syncclient

import (
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenClaims is the subset of an access/refresh token's claims the engine cares about.
// The session needs only the expiry (to decide whether revive() lands in Active or
// WaitingForAccessToken, spec.md §4.3) and the subject identity (to key the Session Manager's
// registry, spec.md §4.5). Signature verification is an external collaborator's job (the
// authentication provider); the engine only ever parses unverified claims it was handed after
// the caller already trusted them, exactly as the teacher's ParseByJwtUnverified does for the
// platform JWT.
type AccessTokenClaims struct {
	Subject   uuid.UUID
	ExpiresAt time.Time
}

func ParseAccessTokenUnverified(token string) (*AccessTokenClaims, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(gojwt.MapClaims)
	if !ok {
		return nil, ErrBadToken
	}

	out := &AccessTokenClaims{}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		if id, err := uuid.Parse(sub); err == nil {
			out.Subject = id
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}

	return out, nil
}

// IsExpired reports whether the token is expired as of now. A token with no expiration claim
// is treated as never expiring (matches jwt/v5's own leeway-free validator default).
func (self *AccessTokenClaims) IsExpired(now time.Time) bool {
	if self.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(self.ExpiresAt)
}
