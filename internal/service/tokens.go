package service

import (
	"context"
	"fmt"
	"time"

	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/model"
	"github.com/fanout/internal/storage"
)

// TokenRegistry — токены устройств пользователей для пушей.
type TokenRegistry struct {
	store storage.TokenStore
}

func NewTokenRegistry(store storage.TokenStore) *TokenRegistry {
	return &TokenRegistry{store: store}
}

// RegisterToken идемпотентен: повторная регистрация того же токена ничего не меняет.
func (r *TokenRegistry) RegisterToken(ctx context.Context, userID string, t model.DeviceToken) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := r.store.AddToken(ctx, userID, t); err != nil {
		return fmt.Errorf("tokenRegistry.RegisterToken: %w", err)
	}
	return nil
}

// RevokeToken не считает ошибкой отзыв отсутствующего токена.
func (r *TokenRegistry) RevokeToken(ctx context.Context, userID string, t model.DeviceToken) error {
	if err := r.store.RemoveToken(ctx, userID, t); err != nil {
		return fmt.Errorf("tokenRegistry.RevokeToken: %w", err)
	}
	return nil
}

func (r *TokenRegistry) RevokeAllTokens(ctx context.Context, userID string) error {
	if err := r.store.RemoveAllTokens(ctx, userID); err != nil {
		return fmt.Errorf("tokenRegistry.RevokeAllTokens: %w", err)
	}
	return nil
}

// GetTokens никогда не падает: ошибка хранилища логируется, возвращается пустой набор.
func (r *TokenRegistry) GetTokens(ctx context.Context, userID string) []model.DeviceToken {
	defer logger.DeferLogDuration("tokenRegistry.GetTokens", time.Now())()
	tokens, err := r.store.ListTokens(ctx, userID)
	if err != nil {
		logger.Errorf("tokenRegistry: list tokens of %s: %v", userID, err)
		return nil
	}
	return tokens
}
