package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fanout/internal/model"
	"github.com/fanout/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatSDK struct {
	upserted     []string
	deleted      []string
	revoked      []string
	propagated   map[string]time.Time
	propagateErr error
	revokedAt    time.Time
}

func (f *fakeChatSDK) Issue(_ context.Context, userID string) (string, error) {
	return "tok-" + userID, nil
}

func (f *fakeChatSDK) Verify(_ context.Context, raw string) (string, error) {
	if raw != "tok-u1" {
		return "", errors.New("bad token")
	}
	return "u1", nil
}

func (f *fakeChatSDK) Revoke(_ context.Context, userID string) (time.Time, error) {
	f.revoked = append(f.revoked, userID)
	return f.revokedAt, nil
}

func (f *fakeChatSDK) RevokeTokens(_ context.Context, userID string, before time.Time) error {
	if f.propagateErr != nil {
		return f.propagateErr
	}
	if f.propagated == nil {
		f.propagated = make(map[string]time.Time)
	}
	f.propagated[userID] = before
	return nil
}

func (f *fakeChatSDK) UpsertIdentity(_ context.Context, u *model.User) error {
	f.upserted = append(f.upserted, u.ID)
	return nil
}

func (f *fakeChatSDK) DeleteIdentity(_ context.Context, userID string) error {
	f.deleted = append(f.deleted, userID)
	return nil
}

func newUserService(t *testing.T) (*UserService, *TokenRegistry, *fakeChatSDK) {
	t.Helper()
	sdk := &fakeChatSDK{revokedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	tokens := NewTokenRegistry(memory.New())
	return NewUserService(memory.NewStore(), tokens, sdk, sdk), tokens, sdk
}

func TestUserLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, tokens, sdk := newUserService(t)

	_, err := svc.OnUserCreated(ctx, &model.User{ID: "u1"})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	u, err := svc.OnUserCreated(ctx, &model.User{ID: "u1", DisplayName: " Alice ", Email: "a@x"})
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.Equal(t, model.DefaultBio, u.BioOrDefault())
	assert.Equal(t, []string{"u1"}, sdk.upserted)

	tok := model.DeviceToken{Kind: model.TokenKindFCM, Value: "fcm-1"}
	require.NoError(t, tokens.RegisterToken(ctx, "u1", tok))
	require.NoError(t, tokens.RegisterToken(ctx, "u1", tok))
	assert.Equal(t, []model.DeviceToken{tok}, tokens.GetTokens(ctx, "u1"))

	issued, err := svc.IssueChatSDKToken(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "tok-u1", issued)

	require.NoError(t, svc.OnUserDeleted(ctx, "u1"))
	assert.Empty(t, tokens.GetTokens(ctx, "u1"))
	assert.Equal(t, []string{"u1"}, sdk.deleted)
	assert.Equal(t, []string{"u1"}, sdk.revoked)
	assert.Equal(t, sdk.revokedAt, sdk.propagated["u1"])

	stored, err := svc.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, stored.ChatSDKToken)
}

func TestUpdateProfile(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newUserService(t)
	_, err := svc.OnUserCreated(ctx, &model.User{ID: "u1", DisplayName: "Alice"})
	require.NoError(t, err)

	u, err := svc.UpdateProfile(ctx, "u1", nil, ptr("Busy"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Alice", u.DisplayName)
	assert.Equal(t, "Busy", u.BioOrDefault())

	_, err = svc.UpdateProfile(ctx, "u1", ptr(" "), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = svc.UpdateProfile(ctx, "ghost", ptr("x"), nil, nil)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestIssueChatSDKToken_RequiresIdentity(t *testing.T) {
	svc, _, _ := newUserService(t)
	_, err := svc.IssueChatSDKToken(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.ErrorIs(t, svc.RevokeChatSDKToken(context.Background(), ""), ErrUnauthenticated)
}

func TestRegisterToken_Validation(t *testing.T) {
	reg := NewTokenRegistry(memory.New())
	err := reg.RegisterToken(context.Background(), "u1", model.DeviceToken{Kind: model.TokenKindWebPush, Value: "{}"})
	assert.ErrorIs(t, err, ErrInvalidPayload)
	err = reg.RegisterToken(context.Background(), "", model.DeviceToken{Kind: model.TokenKindFCM, Value: "x"})
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Empty(t, reg.GetTokens(context.Background(), "nobody"))
}

func TestRevokeChatSDKToken_ReachesChatSDK(t *testing.T) {
	ctx := context.Background()
	svc, _, sdk := newUserService(t)
	_, err := svc.OnUserCreated(ctx, &model.User{ID: "u1", DisplayName: "Alice"})
	require.NoError(t, err)
	_, err = svc.IssueChatSDKToken(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, svc.RevokeChatSDKToken(ctx, "u1"))
	assert.Equal(t, sdk.revokedAt, sdk.propagated["u1"])
	stored, err := svc.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, stored.ChatSDKToken)

	sdk.propagateErr = errors.New("chat sdk down")
	assert.ErrorIs(t, svc.RevokeChatSDKToken(ctx, "u1"), sdk.propagateErr)
}

func TestVerifyChatSDKToken(t *testing.T) {
	svc, _, _ := newUserService(t)
	uid, err := svc.VerifyChatSDKToken(context.Background(), "tok-u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", uid)

	_, err = svc.VerifyChatSDKToken(context.Background(), " ")
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = svc.VerifyChatSDKToken(context.Background(), "other")
	assert.Error(t, err)
}
