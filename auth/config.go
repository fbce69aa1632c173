package auth

import "time"

// JWTConfig holds token verification settings. Tokens are issued by an
// external identity service; only the verification half lives here.
type JWTConfig struct {
	SigningMethod string // HS256, RS256 or ES256
	Secret        string

	// PublicKey (inline PEM) takes precedence over PublicKeyPath
	PublicKey     string
	PublicKeyPath string

	// Issuer is checked against the iss claim when set
	Issuer string
	Leeway time.Duration
}
