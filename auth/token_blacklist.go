package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ericfitz/sketchroom/internal/db"
	"github.com/ericfitz/sketchroom/internal/slogging"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// TokenBlacklist manages revoked JWT tokens using Redis
type TokenBlacklist struct {
	redis      redis.Cmdable
	keyManager *JWTKeyManager
	keys       *db.RedisKeyBuilder
}

// NewTokenBlacklist creates a new token blacklist service
func NewTokenBlacklist(redisClient redis.Cmdable, keyManager *JWTKeyManager) *TokenBlacklist {
	return &TokenBlacklist{
		redis:      redisClient,
		keyManager: keyManager,
		keys:       db.NewRedisKeyBuilder(),
	}
}

// BlacklistToken revokes a token until its natural expiry
func (tb *TokenBlacklist) BlacklistToken(ctx context.Context, tokenString string) error {
	logger := slogging.Get()

	claims := &jwt.RegisteredClaims{}
	if _, err := tb.keyManager.VerifyToken(tokenString, claims); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			logger.Debug("Token already expired, skipping blacklist")
			return nil
		}
		return fmt.Errorf("failed to parse or validate token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return fmt.Errorf("token missing expiration")
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 {
		logger.Debug("Token already expired, skipping blacklist")
		return nil
	}

	tokenHash := hashToken(tokenString)
	if err := tb.redis.Set(ctx, tb.keys.BlacklistTokenKey(tokenHash), "blacklisted", ttl).Err(); err != nil {
		logger.Error("Failed to store token in blacklist token_hash=%s error=%v", tokenHash[:16]+"...", err)
		return fmt.Errorf("failed to blacklist token: %w", err)
	}

	logger.Info("Token blacklisted token_hash=%s ttl_seconds=%d", tokenHash[:16]+"...", int(ttl.Seconds()))
	return nil
}

// IsTokenBlacklisted checks if a JWT token is blacklisted
func (tb *TokenBlacklist) IsTokenBlacklisted(ctx context.Context, tokenString string) (bool, error) {
	tokenHash := hashToken(tokenString)

	exists, err := tb.redis.Exists(ctx, tb.keys.BlacklistTokenKey(tokenHash)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token blacklist: %w", err)
	}
	return exists > 0, nil
}

// hashToken creates a SHA-256 hash of the token for storage
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
