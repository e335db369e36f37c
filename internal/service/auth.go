package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/wondrlabs/finsight-brain-go/internal/domain"
	"github.com/wondrlabs/finsight-brain-go/internal/infra/observability"
	"github.com/wondrlabs/finsight-brain-go/internal/port"
)

// Claims are the JWT claims this service accepts. Token issuance happens
// elsewhere; we only validate.
type Claims struct {
	CIF string `json:"cif"`
	jwt.RegisteredClaims
}

// AuthService validates inbound credentials: bearer tokens signed with the
// shared secret, or named API keys checked against bcrypt hashes in the
// store.
type AuthService struct {
	jwtSecret []byte
	keys      port.APIKeyStore
	keyCache  port.Cache[*domain.APIKey]
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewAuthService creates an AuthService.
func NewAuthService(jwtSecret string, keys port.APIKeyStore, keyCache port.Cache[*domain.APIKey], logger *zap.Logger, metrics *observability.Metrics) *AuthService {
	return &AuthService{
		jwtSecret: []byte(jwtSecret),
		keys:      keys,
		keyCache:  keyCache,
		logger:    logger,
		metrics:   metrics,
	}
}

// ValidateAccessToken parses and verifies a bearer token, returning its
// claims.
func (a *AuthService) ValidateAccessToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid or expired token"}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token claims"}
	}
	return claims, nil
}

// VerifyAPIKey checks a "name:secret" credential against the stored
// bcrypt hash.
func (a *AuthService) VerifyAPIKey(ctx context.Context, credential string) error {
	name, secret, found := strings.Cut(credential, ":")
	if !found || name == "" || secret == "" {
		return &domain.ErrUnauthorized{Message: "malformed api key"}
	}

	key, ok := a.keyCache.Get(name)
	if ok {
		a.metrics.IncrCacheHit("api_keys")
	} else {
		a.metrics.IncrCacheMiss("api_keys")
		var err error
		key, err = a.keys.GetAPIKey(ctx, name)
		if err != nil {
			a.logger.Warn("api key lookup failed", zap.String("key", name), zap.Error(err))
			return &domain.ErrUnauthorized{Message: "unknown api key"}
		}
		a.keyCache.Set(name, key)
	}

	if !key.IsActive {
		return &domain.ErrUnauthorized{Message: "api key disabled"}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(secret)); err != nil {
		return &domain.ErrUnauthorized{Message: "invalid api key"}
	}
	return nil
}
