package push

import (
	"context"
	"errors"

	"github.com/fanout/internal/model"
)

var (
	// ErrTokenDelivery — доставка на один токен не удалась (сеть, 5xx, отказ провайдера).
	ErrTokenDelivery = errors.New("token delivery failed")
	// ErrTokenExpired — провайдер сообщил, что токен больше не действует; его нужно удалить.
	ErrTokenExpired = errors.New("token expired")
)

// Sender доставляет один payload на один токен. Повторов внутри нет.
type Sender interface {
	Send(ctx context.Context, token model.DeviceToken, payload model.PushPayload) error
}

// SenderFunc позволяет использовать функцию как Sender.
type SenderFunc func(ctx context.Context, token model.DeviceToken, payload model.PushPayload) error

func (f SenderFunc) Send(ctx context.Context, token model.DeviceToken, payload model.PushPayload) error {
	return f(ctx, token, payload)
}
