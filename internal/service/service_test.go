package service

import (
	"context"
	"sync"
	"testing"

	"github.com/fanout/internal/fanout"
	"github.com/fanout/internal/model"
	"github.com/fanout/internal/storage/memory"
	"github.com/fanout/internal/ws"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []fanout.Event
}

func (n *recordingNotifier) Submit(ev fanout.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
}

func (n *recordingNotifier) all() []fanout.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]fanout.Event(nil), n.events...)
}

type testEnv struct {
	store    *memory.Store
	kv       *memory.Client
	hub      *ws.Hub
	notifier *recordingNotifier
	unread   *UnreadTracker
	channels *ChannelService
	messages *MessageService
}

func newTestEnv(t *testing.T, users ...string) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    memory.NewStore(),
		kv:       memory.New(),
		hub:      ws.NewHub(8, 16),
		notifier: &recordingNotifier{},
	}
	t.Cleanup(func() { _ = env.hub.Close() })
	env.unread = NewUnreadTracker(env.kv, 3)
	env.channels = NewChannelService(env.store, env.unread, 20, 100)
	env.messages = NewMessageService(env.store, env.channels, env.hub, env.notifier, 20, 100)
	for _, id := range users {
		require.NoError(t, env.store.UpsertUser(context.Background(), &model.User{ID: id, DisplayName: displayName(id)}))
	}
	return env
}

// displayName: "alice" -> "Alice".
func displayName(id string) string {
	if id == "" {
		return id
	}
	return string(id[0]-'a'+'A') + id[1:]
}

func text(s string) model.MessagePayload {
	return model.MessagePayload{Type: model.MessageTypeText, Text: s}
}
