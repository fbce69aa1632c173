package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ericfitz/sketchroom/internal/unicodecheck"
	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthenticationFailed is returned for every rejected credential. The
// underlying cause is wrapped for logging but never sent to the client.
var ErrAuthenticationFailed = errors.New("authentication failed")

// MaxDisplayNameRunes caps the name shown to other room members
const MaxDisplayNameRunes = 64

// Identity is the verified principal attached to a connection
type Identity struct {
	Subject   string
	Name      string
	Email     string
	ExpiresAt time.Time
}

// DisplayName returns the best human label for the identity
func (i *Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.Subject
}

// Claims are the token claims the relay reads
type Claims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// RevocationChecker reports whether a token has been revoked
type RevocationChecker interface {
	IsTokenBlacklisted(ctx context.Context, token string) (bool, error)
}

// Authenticator validates the bearer credential presented at connection time
type Authenticator struct {
	keys        *JWTKeyManager
	revocations RevocationChecker
}

// NewAuthenticator creates an authenticator. revocations may be nil.
func NewAuthenticator(keys *JWTKeyManager, revocations RevocationChecker) *Authenticator {
	return &Authenticator{keys: keys, revocations: revocations}
}

// Authenticate verifies token and returns the identity it carries.
// Expiry is checked here only; an established connection is never re-checked.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrAuthenticationFailed)
	}

	claims := &Claims{}
	if _, err := a.keys.VerifyToken(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrAuthenticationFailed)
	}

	if a.revocations != nil {
		revoked, err := a.revocations.IsTokenBlacklisted(ctx, token)
		if err != nil {
			// fail closed
			return nil, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
		if revoked {
			return nil, fmt.Errorf("%w: token revoked", ErrAuthenticationFailed)
		}
	}

	identity := &Identity{
		Subject: claims.Subject,
		Name:    unicodecheck.CleanDisplayName(claims.Name, MaxDisplayNameRunes),
		Email:   claims.Email,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}

// ExtractToken returns the bearer token from the Authorization header, or from
// the token query parameter for browser WebSocket clients that cannot set headers
func ExtractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
