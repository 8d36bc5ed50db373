package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fanout/internal/fanout"
	"github.com/fanout/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendMessage(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "mallory")
	ctx := context.Background()
	c, err := env.channels.CreateDirectChannel(ctx, "alice", "bob")
	require.NoError(t, err)

	m, err := env.messages.AppendMessage(ctx, c.ID, "alice", text("hello"))
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "Alice", m.ChannelNameAtSend)

	got, err := env.channels.GetChannel(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.LastMessage)
	assert.Equal(t, model.MessageTypeText, got.LastMessageType)
	assert.Equal(t, m.Timestamp, got.LastMessageAt)

	events := env.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, fanout.EventMessage, events[0].Kind)
	assert.Equal(t, "Alice", events[0].Title)

	_, err = env.messages.AppendMessage(ctx, c.ID, "mallory", text("hi"))
	assert.ErrorIs(t, err, ErrNotMember)
	_, err = env.messages.AppendMessage(ctx, "nope", "alice", text("hi"))
	assert.ErrorIs(t, err, ErrChannelNotFound)
	_, err = env.messages.AppendMessage(ctx, c.ID, "alice", model.MessagePayload{Type: model.MessageTypePhoto})
	assert.ErrorIs(t, err, ErrInvalidPayload)
	_, err = env.messages.AppendMessage(ctx, c.ID, "", text("hi"))
	assert.ErrorIs(t, err, ErrUnauthenticated)
	assert.Len(t, env.notifier.all(), 1)
}

func TestAppendMessage_OrderIsMonotonic(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	ctx := context.Background()
	c, err := env.channels.CreateDirectChannel(ctx, "alice", "bob")
	require.NoError(t, err)

	var prev *model.Message
	for i := range 10 {
		m, err := env.messages.AppendMessage(ctx, c.ID, "bob", text(fmt.Sprint(i)))
		require.NoError(t, err)
		if prev != nil {
			assert.Greater(t, m.Seq, prev.Seq)
			assert.False(t, m.Timestamp.Before(prev.Timestamp))
		}
		prev = m
	}
}

func TestPaginateBackward(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	ctx := context.Background()
	c, err := env.channels.CreateDirectChannel(ctx, "alice", "bob")
	require.NoError(t, err)
	for i := 1; i <= 5; i++ {
		_, err := env.messages.AppendMessage(ctx, c.ID, "alice", text(fmt.Sprint(i)))
		require.NoError(t, err)
	}
	texts := func(p *model.Page) []string {
		out := make([]string, 0, len(p.Messages))
		for _, m := range p.Messages {
			out = append(out, m.Text)
		}
		return out
	}

	page, err := env.messages.PaginateBackward(ctx, c.ID, "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"4", "5"}, texts(page))
	assert.Equal(t, page.Messages[0].ID, page.NextCursor)

	page, err = env.messages.PaginateBackward(ctx, c.ID, page.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"2", "3"}, texts(page))
	require.NotEmpty(t, page.NextCursor)

	page, err = env.messages.PaginateBackward(ctx, c.ID, page.NextCursor, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, texts(page))
	assert.Empty(t, page.NextCursor, "creation message is not a page and ends pagination")

	_, err = env.messages.PaginateBackward(ctx, c.ID, "missing", 2)
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestPaginateBackward_ExactPageHasNoCursor(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	ctx := context.Background()
	c, err := env.channels.CreateDirectChannel(ctx, "alice", "bob")
	require.NoError(t, err)
	for i := range 3 {
		_, err := env.messages.AppendMessage(ctx, c.ID, "bob", text(fmt.Sprint(i)))
		require.NoError(t, err)
	}
	page, err := env.messages.PaginateBackward(ctx, c.ID, "", 3)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 3)
	assert.Empty(t, page.NextCursor)
}

func TestSubscribeNew_DoesNotReplayHistory(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	ctx := context.Background()
	c, err := env.channels.CreateDirectChannel(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = env.messages.AppendMessage(ctx, c.ID, "alice", text("old"))
	require.NoError(t, err)

	stream, cancel, err := env.messages.SubscribeNew(ctx, c.ID)
	require.NoError(t, err)
	defer cancel()

	_, err = env.messages.AppendMessage(ctx, c.ID, "bob", text("new"))
	require.NoError(t, err)

	select {
	case m := <-stream:
		assert.Equal(t, "new", m.Text)
	case <-time.After(time.Second):
		t.Fatal("no live message")
	}

	cancel()
	_, ok := <-stream
	assert.False(t, ok)

	_, _, err = env.messages.SubscribeNew(ctx, "nope")
	assert.ErrorIs(t, err, ErrChannelNotFound)
}

func TestReactToMessage(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "carol")
	ctx := context.Background()
	c, err := env.channels.CreateChannel(ctx, "alice", []string{"bob", "carol"}, ptr("Trip"))
	require.NoError(t, err)
	m, err := env.messages.AppendMessage(ctx, c.ID, "alice", text("lunch?"))
	require.NoError(t, err)

	got, err := env.messages.ReactToMessage(ctx, c.ID, m.ID, "bob", "👍")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"👍": 1}, got.ReactionCounts)

	got, err = env.messages.ReactToMessage(ctx, c.ID, m.ID, "bob", "❤️")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"❤️": 1}, got.ReactionCounts)
	assert.Equal(t, map[string]string{"bob": "❤️"}, got.UserReactions)

	_, err = env.messages.ReactToMessage(ctx, c.ID, m.ID, "bob", "❤️")
	require.NoError(t, err)

	events := env.notifier.all()
	require.Len(t, events, 3, "append + two changes; repeated emoji is silent")
	assert.Equal(t, fanout.EventReaction, events[2].Kind)
	assert.Equal(t, "bob", events[2].ActorID)
	assert.Equal(t, "Trip", events[2].Title)

	got, err = env.messages.RemoveReaction(ctx, c.ID, m.ID, "bob")
	require.NoError(t, err)
	assert.Empty(t, got.ReactionCounts)

	_, err = env.messages.ReactToMessage(ctx, c.ID, m.ID, "bob", "")
	assert.ErrorIs(t, err, ErrInvalidReaction)
	_, err = env.messages.ReactToMessage(ctx, c.ID, "missing", "bob", "👍")
	assert.ErrorIs(t, err, ErrMessageNotFound)
}

func TestReactToMessage_RejectsServiceMessages(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "carol")
	ctx := context.Background()
	c, err := env.channels.CreateChannel(ctx, "alice", []string{"bob", "carol"}, ptr("Trip"))
	require.NoError(t, err)
	creation, err := env.messages.GetFirstMessage(ctx, c.ID)
	require.NoError(t, err)
	require.True(t, creation.IsAdmin())

	_, err = env.messages.ReactToMessage(ctx, c.ID, creation.ID, "bob", "👍")
	assert.ErrorIs(t, err, ErrInvalidReaction)
	assert.Empty(t, env.notifier.all())

	stored, err := env.messages.GetFirstMessage(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ReactionCounts)
}
