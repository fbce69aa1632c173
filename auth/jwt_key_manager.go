package auth

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// JWTKeyManager holds the verification key for the configured signing method
type JWTKeyManager struct {
	config        JWTConfig
	verifyingKey  any // []byte, *rsa.PublicKey or *ecdsa.PublicKey
	signingMethod jwt.SigningMethod
	parser        *jwt.Parser
}

// NewJWTKeyManager creates a new JWT key manager
func NewJWTKeyManager(config JWTConfig) (*JWTKeyManager, error) {
	manager := &JWTKeyManager{
		config: config,
	}

	if err := manager.loadKeys(); err != nil {
		return nil, fmt.Errorf("failed to load JWT keys: %w", err)
	}

	opts := []jwt.ParserOption{
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(config.Leeway),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	manager.parser = jwt.NewParser(opts...)

	return manager, nil
}

// loadKeys loads the appropriate key based on the signing method
func (m *JWTKeyManager) loadKeys() error {
	switch m.config.SigningMethod {
	case "HS256":
		if m.config.Secret == "" {
			return fmt.Errorf("hmac secret is required for HS256")
		}
		m.signingMethod = jwt.SigningMethodHS256
		m.verifyingKey = []byte(m.config.Secret)
		return nil

	case "RS256":
		m.signingMethod = jwt.SigningMethodRS256
		data, err := m.getKeyData()
		if err != nil {
			return fmt.Errorf("failed to get RSA public key: %w", err)
		}
		key, err := parseRSAPublicKey(data)
		if err != nil {
			return fmt.Errorf("failed to parse RSA public key: %w", err)
		}
		m.verifyingKey = key
		return nil

	case "ES256":
		m.signingMethod = jwt.SigningMethodES256
		data, err := m.getKeyData()
		if err != nil {
			return fmt.Errorf("failed to get ECDSA public key: %w", err)
		}
		key, err := parseECDSAPublicKey(data)
		if err != nil {
			return fmt.Errorf("failed to parse ECDSA public key: %w", err)
		}
		m.verifyingKey = key
		return nil

	default:
		return fmt.Errorf("unsupported signing method: %s", m.config.SigningMethod)
	}
}

// getKeyData retrieves key data from direct content or file path
func (m *JWTKeyManager) getKeyData() ([]byte, error) {
	if m.config.PublicKey != "" {
		return []byte(m.config.PublicKey), nil
	}

	if m.config.PublicKeyPath != "" {
		data, err := os.ReadFile(m.config.PublicKeyPath) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("failed to read key file %s: %w", m.config.PublicKeyPath, err)
		}
		return data, nil
	}

	return nil, fmt.Errorf("neither key path nor key content provided")
}

// VerifyToken verifies a JWT token using the configured verification key
func (m *JWTKeyManager) VerifyToken(tokenString string, claims jwt.Claims) (*jwt.Token, error) {
	token, err := m.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		// Reject alg confusion, e.g. an HS256 token signed with an RSA public key
		if token.Method != m.signingMethod {
			return nil, fmt.Errorf("unexpected signing method: %v (expected %v)", token.Header["alg"], m.signingMethod.Alg())
		}
		return m.verifyingKey, nil
	})
	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, fmt.Errorf("token is invalid")
	}

	return token, nil
}

// GetSigningMethod returns the configured signing method
func (m *JWTKeyManager) GetSigningMethod() string {
	return m.config.SigningMethod
}

func parseRSAPublicKey(keyData []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	switch block.Type {
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	case "PUBLIC KEY":
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("not an RSA public key")
		}
		return rsaKey, nil
	default:
		return nil, fmt.Errorf("unsupported public key type: %s", block.Type)
	}
}

func parseECDSAPublicKey(keyData []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(keyData)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	if block.Type != "PUBLIC KEY" {
		return nil, fmt.Errorf("unsupported public key type: %s", block.Type)
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	ecdsaKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an ECDSA public key")
	}
	return ecdsaKey, nil
}
