package push

import (
	"context"
	"fmt"

	"github.com/fanout/internal/model"
)

// Router выбирает отправителя по типу токена.
type Router struct {
	senders map[model.TokenKind]Sender
}

func NewRouter() *Router {
	return &Router{senders: make(map[model.TokenKind]Sender)}
}

// Handle регистрирует отправителя для типа токена. nil игнорируется.
func (r *Router) Handle(kind model.TokenKind, s Sender) *Router {
	if s != nil {
		r.senders[kind] = s
	}
	return r
}

// Kinds перечисляет типы токенов, для которых есть отправитель.
func (r *Router) Kinds() []model.TokenKind {
	out := make([]model.TokenKind, 0, len(r.senders))
	for k := range r.senders {
		out = append(out, k)
	}
	return out
}

func (r *Router) Send(ctx context.Context, token model.DeviceToken, payload model.PushPayload) error {
	s, ok := r.senders[token.Kind]
	if !ok {
		return fmt.Errorf("%w: no sender for %q tokens", ErrTokenDelivery, token.Kind)
	}
	return s.Send(ctx, token, payload)
}
