package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/storage"
)

const unreadBaseBackoff = 10 * time.Millisecond

// UnreadTracker — счётчики непрочитанных. Инкремент атомарен в хранилище;
// проигранные оптимистические транзакции повторяются с экспоненциальной паузой.
type UnreadTracker struct {
	store      storage.UnreadStore
	maxRetries int
}

func NewUnreadTracker(store storage.UnreadStore, maxRetries int) *UnreadTracker {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &UnreadTracker{store: store, maxRetries: maxRetries}
}

func (t *UnreadTracker) Increment(ctx context.Context, userID, channelID string) error {
	backoff := unreadBaseBackoff
	var err error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if _, err = t.store.IncrUnread(ctx, userID, channelID); err == nil {
			return nil
		}
		if !errors.Is(err, storage.ErrConflict) || attempt == t.maxRetries {
			break
		}
		logger.Debugf("unread: conflict on %s/%s, attempt %d", userID, channelID, attempt+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("unreadTracker.Increment: %w", err)
}

// Reset обнуляет счётчик, когда пользователь открыл канал.
func (t *UnreadTracker) Reset(ctx context.Context, userID, channelID string) error {
	if err := t.store.ResetUnread(ctx, userID, channelID); err != nil {
		return fmt.Errorf("unreadTracker.Reset: %w", err)
	}
	return nil
}

func (t *UnreadTracker) Get(ctx context.Context, userID, channelID string) (int, error) {
	n, err := t.store.GetUnread(ctx, userID, channelID)
	if err != nil {
		return 0, fmt.Errorf("unreadTracker.Get: %w", err)
	}
	return n, nil
}

// ListForUser отдаёт ненулевые счётчики пользователя по каналам.
func (t *UnreadTracker) ListForUser(ctx context.Context, userID string) (map[string]int, error) {
	m, err := t.store.ListUnread(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("unreadTracker.ListForUser: %w", err)
	}
	return m, nil
}
