package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fanout/internal/model"
	"github.com/fanout/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateChannel_Validation(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	ctx := context.Background()

	_, err := env.channels.CreateChannel(ctx, "alice", nil, nil)
	assert.ErrorIs(t, err, ErrInvalidMembership)

	_, err = env.channels.CreateChannel(ctx, "alice", []string{"alice", " "}, nil)
	assert.ErrorIs(t, err, ErrInvalidMembership)

	_, err = env.channels.CreateChannel(ctx, "", []string{"bob"}, nil)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = env.channels.CreateChannel(ctx, "alice", []string{"bob", "ghost"}, nil)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreateChannel_GroupIncludesCreatorAsAdmin(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "carol")
	ctx := context.Background()

	c, err := env.channels.CreateChannel(ctx, "alice", []string{"bob", "carol", "bob"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob", "carol"}, c.MemberUIDs)
	assert.Equal(t, []string{"alice"}, c.AdminUIDs)
	assert.Equal(t, 3, c.MembersCount)
	require.NoError(t, c.Validate())

	first, err := env.messages.GetFirstMessage(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AdminChannelCreation, first.AdminType)

	id, err := env.channels.FindDirectChannel(ctx, "alice", "bob")
	require.NoError(t, err)
	assert.Empty(t, id, "group channels are not in the direct index")
}

func TestCreateDirectChannel_GetOrCreate(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	ctx := context.Background()

	c1, err := env.channels.CreateChannel(ctx, "alice", []string{"bob"}, nil)
	require.NoError(t, err)
	c2, err := env.channels.CreateDirectChannel(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, c2.ID)

	id, err := env.channels.FindDirectChannel(ctx, "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, c1.ID, id)

	_, err = env.channels.CreateDirectChannel(ctx, "alice", "alice")
	assert.ErrorIs(t, err, ErrInvalidMembership)
}

func TestCreateDirectChannel_ConcurrentCreatorsShareOneChannel(t *testing.T) {
	env := newTestEnv(t, "alice", "bob")
	ctx := context.Background()

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, b := "alice", "bob"
			if i%2 == 1 {
				a, b = b, a
			}
			c, err := env.channels.CreateDirectChannel(ctx, a, b)
			assert.NoError(t, err)
			if c != nil {
				ids[i] = c.ID
			}
		}()
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	page, err := env.channels.ListUserChannels(ctx, "alice", "", 10)
	require.NoError(t, err)
	assert.Len(t, page.Channels, 1)
}

func TestChannelTitle(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "carol", "dave")
	ctx := context.Background()

	direct, err := env.channels.CreateDirectChannel(ctx, "alice", "bob")
	require.NoError(t, err)
	title, err := env.channels.Title(ctx, direct, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Bob", title)
	title, err = env.channels.Title(ctx, direct, "bob")
	require.NoError(t, err)
	assert.Equal(t, "Alice", title)

	group, err := env.channels.CreateChannel(ctx, "alice", []string{"bob", "carol", "dave"}, nil)
	require.NoError(t, err)
	title, err = env.channels.Title(ctx, group, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Bob, Carol, and 1 others", title)
}

func TestRenameChannel(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "carol")
	ctx := context.Background()

	c, err := env.channels.CreateChannel(ctx, "alice", []string{"bob", "carol"}, nil)
	require.NoError(t, err)
	before, err := env.messages.AppendMessage(ctx, c.ID, "bob", text("hi"))
	require.NoError(t, err)
	assert.Equal(t, "Alice and Carol", before.ChannelNameAtSend)

	_, err = env.channels.RenameChannel(ctx, "bob", c.ID, ptr("Book club"))
	assert.ErrorIs(t, err, ErrNotAdmin)
	_, err = env.channels.RenameChannel(ctx, "mallory", c.ID, ptr("x"))
	assert.ErrorIs(t, err, ErrNotMember)

	renamed, err := env.channels.RenameChannel(ctx, "alice", c.ID, ptr("  Book club "))
	require.NoError(t, err)
	require.NotNil(t, renamed.Name)
	assert.Equal(t, "Book club", *renamed.Name)
	assert.Equal(t, model.MessageTypeAdmin, renamed.LastMessageType)

	after, err := env.messages.AppendMessage(ctx, c.ID, "bob", text("renamed"))
	require.NoError(t, err)
	assert.Equal(t, "Book club", after.ChannelNameAtSend)

	page, err := env.messages.PaginateBackward(ctx, c.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 3)
	assert.Equal(t, "Alice and Carol", page.Messages[0].ChannelNameAtSend)
	assert.Equal(t, model.AdminChannelNameChanged, page.Messages[1].AdminType)
}

func TestListUserChannels_OrderAndUnread(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "carol")
	ctx := context.Background()

	withBob, err := env.channels.CreateDirectChannel(ctx, "alice", "bob")
	require.NoError(t, err)
	withCarol, err := env.channels.CreateDirectChannel(ctx, "alice", "carol")
	require.NoError(t, err)

	_, err = env.messages.AppendMessage(ctx, withBob.ID, "bob", text("ping"))
	require.NoError(t, err)
	require.NoError(t, env.unread.Increment(ctx, "alice", withBob.ID))

	page, err := env.channels.ListUserChannels(ctx, "alice", "", 1)
	require.NoError(t, err)
	require.Len(t, page.Channels, 1)
	assert.Equal(t, withBob.ID, page.Channels[0].Channel.ID)
	assert.Equal(t, "Bob", page.Channels[0].Title)
	assert.Equal(t, 1, page.Channels[0].UnreadCount)
	assert.Equal(t, "ping", page.Channels[0].Channel.LastMessage)
	require.NotEmpty(t, page.NextCursor)

	next, err := env.channels.ListUserChannels(ctx, "alice", page.NextCursor, 1)
	require.NoError(t, err)
	require.Len(t, next.Channels, 1)
	assert.Equal(t, withCarol.ID, next.Channels[0].Channel.ID)
	assert.Empty(t, next.NextCursor)

	_, err = env.channels.ListUserChannels(ctx, "alice", "yesterday", 1)
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestListUserChannels_NonPositivePageSize(t *testing.T) {
	env := newTestEnv(t, "alice", "bob", "carol")
	ctx := context.Background()
	_, err := env.channels.CreateDirectChannel(ctx, "alice", "bob")
	require.NoError(t, err)
	_, err = env.channels.CreateDirectChannel(ctx, "alice", "carol")
	require.NoError(t, err)

	for _, size := range []int{0, -3} {
		page, err := env.channels.ListUserChannels(ctx, "alice", "", size)
		require.NoError(t, err)
		assert.Len(t, page.Channels, 2)
		assert.Empty(t, page.NextCursor)
	}
}

func TestChannelCursor(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 123456000, time.UTC)
	raw := formatChannelCursor(storage.ChannelCursor{LastMessageAt: at, ID: "c1"})
	got, err := parseChannelCursor(raw)
	require.NoError(t, err)
	assert.True(t, at.Equal(got.LastMessageAt))
	assert.Equal(t, "c1", got.ID)

	timeOnly, err := parseChannelCursor(at.Format(time.RFC3339Nano))
	require.NoError(t, err)
	assert.Empty(t, timeOnly.ID)
	assert.False(t, timeOnly.Admits(at, "c2"))
	assert.True(t, got.Admits(at, "c2"))
	assert.False(t, got.Admits(at, "c0"))

	_, err = parseChannelCursor("nope|c1")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func ptr[T any](v T) *T { return &v }
