package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/model"
)

// ErrTooManySubscribers — достигнут лимит живых подписок процесса.
var ErrTooManySubscribers = errors.New("subscriber limit reached")

type subscriber struct {
	channelID string
	ch        chan model.Message
}

// Hub — брокер новых сообщений внутри процесса (storage.Broker для STORE_BACKEND=memory).
// Publish никогда не ждёт подписчика: переполненный буфер означает отключение подписчика.
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]map[*subscriber]struct{}
	total   int
	maxSubs int
	bufSize int
	closed  bool
}

func NewHub(maxSubs, bufSize int) *Hub {
	if maxSubs <= 0 {
		maxSubs = 10000
	}
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Hub{
		subs:    make(map[string]map[*subscriber]struct{}),
		maxSubs: maxSubs,
		bufSize: bufSize,
	}
}

// Subscribe возвращает поток сообщений канала, добавленных после вызова.
// Поток закрывается при отмене ctx, вызове cancel, отключении медленного подписчика или Close.
func (h *Hub) Subscribe(ctx context.Context, channelID string) (<-chan model.Message, func(), error) {
	s := &subscriber{channelID: channelID, ch: make(chan model.Message, h.bufSize)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, nil, errors.New("hub closed")
	}
	if h.total >= h.maxSubs {
		h.mu.Unlock()
		return nil, nil, ErrTooManySubscribers
	}
	set, ok := h.subs[channelID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[channelID] = set
	}
	set[s] = struct{}{}
	h.total++
	h.mu.Unlock()

	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			h.remove(s)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()
	return s.ch, cancel, nil
}

// Publish раздаёт сообщение подписчикам его канала.
func (h *Hub) Publish(ctx context.Context, m *model.Message) error {
	var slow []*subscriber
	h.mu.RLock()
	for s := range h.subs[m.ChannelID] {
		select {
		case s.ch <- *m.Clone():
		default:
			slow = append(slow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range slow {
		logger.Warnf("ws hub: буфер подписчика канала %s переполнен, подписка закрыта", s.channelID)
		h.remove(s)
	}
	return nil
}

// remove закрывает поток подписчика. Повторный вызов безопасен.
func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[s.channelID]
	if !ok {
		return
	}
	if _, exists := set[s]; !exists {
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, s.channelID)
	}
	h.total--
	close(s.ch)
}

// Subscribers возвращает число живых подписок канала.
func (h *Hub) Subscribers(channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channelID])
}

// Close закрывает все потоки; новые подписки после этого не принимаются.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, set := range h.subs {
		for s := range set {
			close(s.ch)
		}
	}
	h.subs = make(map[string]map[*subscriber]struct{})
	h.total = 0
	return nil
}
