package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// TokenKind — канал доставки пуша.
type TokenKind string

const (
	TokenKindFCM     TokenKind = "fcm"
	TokenKindWebPush TokenKind = "webpush"
)

var ErrInvalidToken = errors.New("invalid device token")

// DeviceToken — токен устройства. Для webpush в Value лежит JSON подписки из браузера.
type DeviceToken struct {
	Kind  TokenKind `json:"kind"`
	Value string    `json:"value"`
}

// WebPushSubscription — подписка PushManager.
type WebPushSubscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (t DeviceToken) Validate() error {
	if strings.TrimSpace(t.Value) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidToken)
	}
	switch t.Kind {
	case TokenKindFCM:
		return nil
	case TokenKindWebPush:
		_, err := t.WebPush()
		return err
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidToken, t.Kind)
	}
}

// WebPush разбирает подписку из Value.
func (t DeviceToken) WebPush() (*WebPushSubscription, error) {
	var sub WebPushSubscription
	if err := json.Unmarshal([]byte(t.Value), &sub); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if sub.Endpoint == "" || sub.Keys.P256dh == "" || sub.Keys.Auth == "" {
		return nil, fmt.Errorf("%w: endpoint and keys required", ErrInvalidToken)
	}
	return &sub, nil
}

// Encode кодирует токен как kind:value для хранения в множестве.
func (t DeviceToken) Encode() string {
	return string(t.Kind) + ":" + t.Value
}

// DecodeDeviceToken разбирает результат Encode. Строка без известного префикса считается FCM-токеном.
func DecodeDeviceToken(s string) DeviceToken {
	if kind, value, ok := strings.Cut(s, ":"); ok {
		switch TokenKind(kind) {
		case TokenKindFCM, TokenKindWebPush:
			return DeviceToken{Kind: TokenKind(kind), Value: value}
		}
	}
	return DeviceToken{Kind: TokenKindFCM, Value: s}
}
