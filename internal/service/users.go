package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/model"
	"github.com/fanout/internal/storage"
)

// ChatTokens — выпуск, проверка и отзыв токенов внешнего chat-SDK (chatsdk.Issuer).
type ChatTokens interface {
	Issue(ctx context.Context, userID string) (string, error)
	Verify(ctx context.Context, raw string) (string, error)
	Revoke(ctx context.Context, userID string) (time.Time, error)
}

// ChatIdentities — синхронизация пользователей с chat-SDK (chatsdk.IdentityClient).
type ChatIdentities interface {
	UpsertIdentity(ctx context.Context, u *model.User) error
	DeleteIdentity(ctx context.Context, userID string) error
	RevokeTokens(ctx context.Context, userID string, before time.Time) error
}

// UserService — профили, хуки жизненного цикла аккаунта и токены chat-SDK.
type UserService struct {
	store      storage.UserStore
	tokens     *TokenRegistry
	chatTokens ChatTokens
	identities ChatIdentities
}

func NewUserService(store storage.UserStore, tokens *TokenRegistry, chatTokens ChatTokens, identities ChatIdentities) *UserService {
	return &UserService{store: store, tokens: tokens, chatTokens: chatTokens, identities: identities}
}

// OnUserCreated обрабатывает регистрацию: профиль в хранилище и личность в chat-SDK.
// Сбой chat-SDK логируется и не отменяет регистрацию.
func (s *UserService) OnUserCreated(ctx context.Context, u *model.User) (*model.User, error) {
	u.DisplayName = strings.TrimSpace(u.DisplayName)
	if err := u.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return nil, fmt.Errorf("userService.OnUserCreated: %w", err)
	}
	if s.identities != nil {
		if err := s.identities.UpsertIdentity(ctx, u); err != nil {
			logger.Errorf("user: chat sdk upsert %s: %v", u.ID, err)
		}
	}
	logger.Infof("user: %s created", u.ID)
	return u, nil
}

// OnUserDeleted обрабатывает удаление аккаунта: пуш-токены и токены chat-SDK отзываются,
// личность в chat-SDK удаляется. Запись пользователя остаётся.
func (s *UserService) OnUserDeleted(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidPayload)
	}
	var errs []error
	if err := s.tokens.RevokeAllTokens(ctx, userID); err != nil {
		errs = append(errs, err)
	}
	if err := s.revokeChatTokens(ctx, userID); err != nil {
		errs = append(errs, err)
	}
	if err := s.store.SetChatSDKToken(ctx, userID, nil); err != nil && !errors.Is(err, storage.ErrNotFound) {
		errs = append(errs, err)
	}
	if s.identities != nil {
		if err := s.identities.DeleteIdentity(ctx, userID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("userService.OnUserDeleted: %w", err)
	}
	logger.Infof("user: %s deleted", userID)
	return nil
}

func (s *UserService) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userService.GetProfile: %w", err)
	}
	return u, nil
}

// UpdateProfile меняет только переданные поля. Пустое имя недопустимо.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, displayName, bio, imageURL *string) (*model.User, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if displayName != nil {
		n := strings.TrimSpace(*displayName)
		if n == "" {
			return nil, fmt.Errorf("%w: display name must not be empty", ErrInvalidPayload)
		}
		displayName = &n
	}
	u, err := s.store.UpdateProfile(ctx, userID, displayName, bio, imageURL)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("userService.UpdateProfile: %w", err)
	}
	if s.identities != nil && (displayName != nil || imageURL != nil) {
		if err := s.identities.UpsertIdentity(ctx, u); err != nil {
			logger.Warnf("user: chat sdk sync %s: %v", userID, err)
		}
	}
	return u, nil
}

// IssueChatSDKToken выпускает токен chat-SDK для вызывающего и сохраняет его в профиле.
func (s *UserService) IssueChatSDKToken(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", ErrUnauthenticated
	}
	if _, err := s.GetProfile(ctx, userID); err != nil {
		return "", err
	}
	if s.chatTokens == nil {
		return "", errors.New("userService.IssueChatSDKToken: chat sdk is disabled")
	}
	tok, err := s.chatTokens.Issue(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("userService.IssueChatSDKToken: %w", err)
	}
	if err := s.store.SetChatSDKToken(ctx, userID, &tok); err != nil {
		return "", fmt.Errorf("userService.IssueChatSDKToken: %w", err)
	}
	return tok, nil
}

func (s *UserService) RevokeChatSDKToken(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrUnauthenticated
	}
	if err := s.revokeChatTokens(ctx, userID); err != nil {
		return fmt.Errorf("userService.RevokeChatSDKToken: %w", err)
	}
	if err := s.store.SetChatSDKToken(ctx, userID, nil); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("userService.RevokeChatSDKToken: %w", err)
	}
	return nil
}

// revokeChatTokens фиксирует момент отзыва локально и передаёт его в chat-SDK,
// иначе SDK продолжит принимать уже выданные токены.
func (s *UserService) revokeChatTokens(ctx context.Context, userID string) error {
	if s.chatTokens == nil {
		return nil
	}
	at, err := s.chatTokens.Revoke(ctx, userID)
	if err != nil {
		return err
	}
	if s.identities == nil {
		return nil
	}
	return s.identities.RevokeTokens(ctx, userID, at)
}

// VerifyChatSDKToken проверяет токен chat-SDK по подписи, сроку и моменту отзыва.
// Вызывается chat-SDK через /internal/chat-sdk/verify.
func (s *UserService) VerifyChatSDKToken(ctx context.Context, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", fmt.Errorf("%w: token is required", ErrInvalidPayload)
	}
	if s.chatTokens == nil {
		return "", ErrUnauthenticated
	}
	uid, err := s.chatTokens.Verify(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("userService.VerifyChatSDKToken: %w", err)
	}
	return uid, nil
}
