// ABOUTME: ChirpStack session value holding the bearer JWT and its expiry
// ABOUTME: Attaches authorization metadata to outgoing gRPC contexts

package chirpstack

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"
)

// Session is an authenticated ChirpStack session. It is never mutated; a
// refresh produces a new Session.
type Session struct {
	token     string
	expiresAt time.Time
}

// NewSession wraps a token issued by ChirpStack. The token signature is not
// verified here; only its exp claim is read, when present.
func NewSession(token string) Session {
	s := Session{token: token}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return s
	}
	if exp, err := parsed.Claims.GetExpirationTime(); err == nil && exp != nil {
		s.expiresAt = exp.Time
	}
	return s
}

// Token returns the bearer token.
func (s Session) Token() string {
	return s.token
}

// ExpiresAt returns the token expiry, or the zero time if unknown.
func (s Session) ExpiresAt() time.Time {
	return s.expiresAt
}

// Expired reports whether the token is known to be expired at now.
func (s Session) Expired(now time.Time) bool {
	return !s.expiresAt.IsZero() && !now.Before(s.expiresAt)
}

// outgoing returns ctx carrying the session's authorization metadata.
func (s Session) outgoing(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+s.token)
}
