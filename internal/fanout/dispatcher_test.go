package fanout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fanout/internal/model"
	"github.com/fanout/internal/push"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMembers map[string][]string

func (f fakeMembers) GetMembersExcluding(_ context.Context, channelID, userID string) ([]string, error) {
	var out []string
	for _, uid := range f[channelID] {
		if uid != userID {
			out = append(out, uid)
		}
	}
	return out, nil
}

type fakeTokens struct {
	mu      sync.Mutex
	tokens  map[string][]model.DeviceToken
	revoked []string
}

func (f *fakeTokens) GetTokens(_ context.Context, userID string) []model.DeviceToken {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.DeviceToken(nil), f.tokens[userID]...)
}

func (f *fakeTokens) RevokeToken(_ context.Context, userID string, t model.DeviceToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, userID+"/"+t.Value)
	return nil
}

type fakeUnread struct {
	mu     sync.Mutex
	counts map[string]int
}

func (f *fakeUnread) Increment(_ context.Context, userID, channelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.counts == nil {
		f.counts = map[string]int{}
	}
	f.counts[userID+"/"+channelID]++
	return nil
}

type recordingSender struct {
	mu       sync.Mutex
	payloads []model.PushPayload
	fail     map[string]error
}

func (s *recordingSender) Send(_ context.Context, tok model.DeviceToken, p model.PushPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail[tok.Value]; err != nil {
		return err
	}
	s.payloads = append(s.payloads, p)
	return nil
}

func (s *recordingSender) tokens() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.payloads))
	for _, p := range s.payloads {
		out = append(out, p.Token)
	}
	return out
}

func fcm(v string) model.DeviceToken { return model.DeviceToken{Kind: model.TokenKindFCM, Value: v} }

func textMessage(channelID, owner, text string) *model.Message {
	return &model.Message{ID: "m1", ChannelID: channelID, OwnerUID: owner, Type: model.MessageTypeText, Text: text, ChannelNameAtSend: "Alice"}
}

func TestDispatch_DeliversOncePerRecipientToken(t *testing.T) {
	tokens := &fakeTokens{tokens: map[string][]model.DeviceToken{
		"bob":   {fcm("b1"), fcm("b2")},
		"carol": {fcm("c1")},
		"alice": {fcm("a1")},
	}}
	unread := &fakeUnread{}
	sender := &recordingSender{}
	d := NewDispatcher(fakeMembers{"ch": {"alice", "bob", "carol", "dave"}}, tokens, unread, sender, Options{Badge: 10})

	rep := d.Dispatch(context.Background(), MessageEvent(textMessage("ch", "alice", "hello")))

	assert.Equal(t, Report{Recipients: 3, Attempted: 3, Delivered: 3, Skipped: 1}, rep)
	assert.ElementsMatch(t, []string{"b1", "b2", "c1"}, sender.tokens())
	for _, p := range sender.payloads {
		assert.Equal(t, "Alice", p.Notification.Title)
		assert.Equal(t, "hello", p.Notification.Body)
		assert.Equal(t, 10, p.APNS.Payload.Aps.Badge)
	}
	assert.Equal(t, map[string]int{"bob/ch": 1, "carol/ch": 1, "dave/ch": 1}, unread.counts)
}

func TestDispatch_PartialFailureDoesNotAbortOthers(t *testing.T) {
	tokens := &fakeTokens{tokens: map[string][]model.DeviceToken{
		"bob":   {fcm("dead"), fcm("b2")},
		"carol": {fcm("flaky")},
	}}
	sender := &recordingSender{fail: map[string]error{
		"dead":  push.ErrTokenExpired,
		"flaky": push.ErrTokenDelivery,
	}}
	d := NewDispatcher(fakeMembers{"ch": {"alice", "bob", "carol"}}, tokens, &fakeUnread{}, sender, Options{Concurrency: 1})

	rep := d.Dispatch(context.Background(), MessageEvent(textMessage("ch", "alice", "hi")))

	assert.Equal(t, 3, rep.Attempted)
	assert.Equal(t, 1, rep.Delivered)
	assert.Equal(t, 2, rep.Failed)
	assert.Equal(t, 1, rep.Expired)
	assert.Equal(t, []string{"b2"}, sender.tokens())
	assert.Equal(t, []string{"bob/dead"}, tokens.revoked)
}

func TestDispatch_AdminMessagesNeverNotify(t *testing.T) {
	sender := &recordingSender{}
	unread := &fakeUnread{}
	d := NewDispatcher(fakeMembers{"ch": {"alice", "bob"}}, &fakeTokens{tokens: map[string][]model.DeviceToken{"bob": {fcm("b")}}}, unread, sender, Options{})

	m := model.NewAdminMessage("ch", "alice", model.AdminChannelCreation, "Alice created the channel")
	rep := d.Dispatch(context.Background(), MessageEvent(m))

	assert.Equal(t, Report{}, rep)
	assert.Empty(t, sender.tokens())
	assert.Empty(t, unread.counts)
}

func TestDispatch_ReactionSkipsReactorAndUnread(t *testing.T) {
	tokens := &fakeTokens{tokens: map[string][]model.DeviceToken{"alice": {fcm("a")}, "bob": {fcm("b")}}}
	unread := &fakeUnread{}
	sender := &recordingSender{}
	d := NewDispatcher(fakeMembers{"ch": {"alice", "bob"}}, tokens, unread, sender, Options{})

	m := textMessage("ch", "alice", "lunch?")
	rep := d.Dispatch(context.Background(), ReactionEvent(m, "bob", "👍", "Bob"))

	assert.Equal(t, 1, rep.Delivered)
	require.Len(t, sender.payloads, 1)
	assert.Equal(t, "a", sender.payloads[0].Token)
	assert.Equal(t, "Bob", sender.payloads[0].Notification.Title)
	assert.Equal(t, `Reacted 👍 to your message: "lunch?".`, sender.payloads[0].Notification.Body)
	assert.Empty(t, unread.counts)
}

func TestEventBody(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{"text", MessageEvent(&model.Message{Type: model.MessageTypeText, Text: "yo"}), "yo"},
		{"photo", MessageEvent(&model.Message{Type: model.MessageTypePhoto}), "Sent a Photo Message"},
		{"video", MessageEvent(&model.Message{Type: model.MessageTypeVideo}), "Sent a Video Message"},
		{"audio", MessageEvent(&model.Message{Type: model.MessageTypeAudio}), "Sent an Audio Message"},
		{"reaction photo", ReactionEvent(&model.Message{Type: model.MessageTypePhoto}, "u", "❤️", ""), "Reacted ❤️ to your photo."},
		{"reaction audio", ReactionEvent(&model.Message{Type: model.MessageTypeAudio}, "u", "😂", ""), "Reacted 😂 to your audio message."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ev.Body())
		})
	}
}

func TestSubmit_CloseDrainsInFlight(t *testing.T) {
	release := make(chan struct{})
	var sent int
	var mu sync.Mutex
	sender := push.SenderFunc(func(ctx context.Context, _ model.DeviceToken, _ model.PushPayload) error {
		<-release
		mu.Lock()
		sent++
		mu.Unlock()
		return nil
	})
	tokens := &fakeTokens{tokens: map[string][]model.DeviceToken{"bob": {fcm("b")}}}
	d := NewDispatcher(fakeMembers{"ch": {"alice", "bob"}}, tokens, &fakeUnread{}, sender, Options{})

	d.Submit(MessageEvent(textMessage("ch", "alice", "hi")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	err := d.Close(ctx)
	cancel()
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	close(release)
	require.NoError(t, d.Close(context.Background()))
	mu.Lock()
	assert.Equal(t, 1, sent)
	mu.Unlock()

	d.Submit(MessageEvent(textMessage("ch", "alice", "late")))
	require.NoError(t, d.Close(context.Background()))
	assert.Equal(t, 1, sent)
}

func TestDeliver_SingleToken(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(fakeMembers{}, &fakeTokens{}, nil, sender, Options{Badge: 10})

	require.NoError(t, d.Deliver(context.Background(), fcm("t1"), "Alice", "Reacted 👍 to your photo."))
	require.Len(t, sender.payloads, 1)
	assert.Equal(t, "t1", sender.payloads[0].Token)
	assert.Equal(t, "Alice", sender.payloads[0].Notification.Title)
	assert.Equal(t, "default", sender.payloads[0].APNS.Payload.Aps.Sound)
}
