package chatsdk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/storage"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrNotConfigured = errors.New("chat sdk is not configured")
	ErrInvalidToken  = errors.New("invalid chat sdk token")
	ErrTokenRevoked  = errors.New("chat sdk token revoked")
)

// Claims — полезная нагрузка токена chat-SDK. IssuedNano точнее стандартного iat (секунды)
// и сравнивается с моментом отзыва.
type Claims struct {
	UserID     string `json:"user_id"`
	IssuedNano int64  `json:"iat_ns"`
	jwt.RegisteredClaims
}

// Issuer выпускает HS256-токены, привязанные к пользователю, и отзывает их все разом.
type Issuer struct {
	secret  []byte
	apiKey  string
	ttl     time.Duration
	revoked storage.RevocationStore
	now     func() time.Time
}

// NewIssuer с пустым secret отключает chat-SDK: Issue вернёт ErrNotConfigured.
func NewIssuer(secret, apiKey string, ttl time.Duration, revoked storage.RevocationStore) *Issuer {
	return &Issuer{secret: []byte(secret), apiKey: apiKey, ttl: ttl, revoked: revoked, now: time.Now}
}

func (i *Issuer) Issue(ctx context.Context, userID string) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNotConfigured
	}
	now := i.now()
	claims := Claims{
		UserID:     userID,
		IssuedNano: now.UnixNano(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if i.apiKey != "" {
		claims.Audience = jwt.ClaimStrings{i.apiKey}
	}
	if i.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(i.ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("chatsdk.Issue: %w", err)
	}
	return signed, nil
}

// Revoke делает недействительными все токены пользователя, выпущенные до этого момента,
// и возвращает этот момент: его же нужно передать в chat-SDK.
func (i *Issuer) Revoke(ctx context.Context, userID string) (time.Time, error) {
	at := i.now()
	if err := i.revoked.SetRevokedAt(ctx, userID, at); err != nil {
		return time.Time{}, fmt.Errorf("chatsdk.Revoke: %w", err)
	}
	logger.Infof("chatsdk: tokens of %s revoked", userID)
	return at, nil
}

// Verify проверяет подпись, срок и отзыв; возвращает id пользователя.
func (i *Issuer) Verify(ctx context.Context, raw string) (string, error) {
	if len(i.secret) == 0 {
		return "", ErrNotConfigured
	}
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.now))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return "", fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	revokedAt, err := i.revoked.RevokedAt(ctx, claims.UserID)
	if err != nil {
		return "", fmt.Errorf("chatsdk.Verify: %w", err)
	}
	if !revokedAt.IsZero() && claims.IssuedNano <= revokedAt.UnixNano() {
		return "", ErrTokenRevoked
	}
	return claims.UserID, nil
}
