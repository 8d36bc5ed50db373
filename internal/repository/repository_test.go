package repository

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/fanout/internal/model"
	"github.com/fanout/internal/storage"
	"github.com/fanout/migrations"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := startPostgres(ctx)
	if err != nil {
		log.Printf("postgres container unavailable, repository tests skipped: %v", err)
		os.Exit(m.Run())
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("connection string: %v", err)
	}
	testPool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("pgxpool: %v", err)
	}
	if err := migrations.Apply(ctx, testPool); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	code := m.Run()

	testPool.Close()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("failed to terminate container: %s", err)
	}
	os.Exit(code)
}

// startPostgres поднимает контейнер. Без Docker testcontainers паникует при поиске хоста,
// паника превращается в ошибку, и тесты пакета пропускаются.
func startPostgres(ctx context.Context) (container *postgres.PostgresContainer, err error) {
	defer func() {
		if r := recover(); r != nil {
			container, err = nil, fmt.Errorf("docker: %v", r)
		}
	}()
	return postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("fanout"),
		postgres.WithUsername("fanout"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
}

func newStore(t *testing.T) *Postgres {
	t.Helper()
	if testPool == nil {
		t.Skip("docker is not available")
	}
	return NewPostgres(testPool)
}

func newChannel(t *testing.T, p *Postgres, members ...string) *model.Channel {
	t.Helper()
	ctx := context.Background()
	for _, id := range members {
		require.NoError(t, p.UpsertUser(ctx, &model.User{ID: id, DisplayName: "name-" + id}))
	}
	c := &model.Channel{
		ID:           uuid.NewString(),
		CreatedBy:    members[0],
		MembersCount: len(members),
		MemberUIDs:   members,
		AdminUIDs:    members[:1],
	}
	creation := model.NewAdminMessage("", members[0], model.AdminChannelCreation, "created")
	require.NoError(t, p.CreateChannel(ctx, c, creation))
	return c
}

func TestPostgres_ChannelRoundTrip(t *testing.T) {
	p := newStore(t)
	ctx := context.Background()
	a, b, c := uuid.NewString(), uuid.NewString(), uuid.NewString()
	ch := newChannel(t, p, a, b, c)

	got, err := p.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a, b, c}, got.MemberUIDs)
	assert.Equal(t, []string{a}, got.AdminUIDs)
	assert.True(t, got.IsGroupChat())
	require.NoError(t, got.Validate())

	first, err := p.GetFirstMessage(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AdminChannelCreation, first.AdminType)
	assert.Equal(t, int64(1), first.Seq)

	_, err = p.GetChannel(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_AppendAndListBefore(t *testing.T) {
	p := newStore(t)
	ctx := context.Background()
	a, b := uuid.NewString(), uuid.NewString()
	ch := newChannel(t, p, a, b)

	for i := 0; i < 7; i++ {
		m, err := model.NewMessage(ch.ID, a, model.MessagePayload{Type: model.MessageTypeText, Text: "m"})
		require.NoError(t, err)
		require.NoError(t, p.AppendMessage(ctx, m))
	}

	page, err := p.ListBefore(ctx, ch.ID, 0, 8)
	require.NoError(t, err)
	require.Len(t, page, 7)
	for i := 1; i < len(page); i++ {
		assert.Greater(t, page[i-1].Seq, page[i].Seq)
		assert.False(t, page[i-1].Timestamp.Before(page[i].Timestamp))
	}

	older, err := p.ListBefore(ctx, ch.ID, page[2].Seq, 10)
	require.NoError(t, err)
	assert.Len(t, older, 4)

	got, err := p.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	assert.Equal(t, "m", got.LastMessage)
	assert.Equal(t, model.MessageTypeText, got.LastMessageType)

	err = p.AppendMessage(ctx, &model.Message{ChannelID: "missing", Type: model.MessageTypeText, Text: "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_DirectChannelFirstWriterWins(t *testing.T) {
	p := newStore(t)
	ctx := context.Background()
	a, b := uuid.NewString(), uuid.NewString()
	for _, id := range []string{a, b} {
		require.NoError(t, p.UpsertUser(ctx, &model.User{ID: id, DisplayName: id}))
	}
	key := model.DirectKey(a, b)

	const n = 8
	ids := make([]string, n)
	created := make([]bool, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			creator, other := a, b
			if i%2 == 1 {
				creator, other = b, a
			}
			c := &model.Channel{
				ID: uuid.NewString(), CreatedBy: creator, MembersCount: 2,
				MemberUIDs: []string{creator, other}, AdminUIDs: []string{creator},
			}
			id, ok, err := p.CreateDirectChannel(ctx, key, c, model.NewAdminMessage("", creator, model.AdminChannelCreation, ""))
			assert.NoError(t, err)
			ids[i], created[i] = id, ok
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := range ids {
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners)

	found, err := p.FindDirectChannel(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, ids[0], found)
}

func TestPostgres_ReactionSwitchKeepsCountsConsistent(t *testing.T) {
	p := newStore(t)
	ctx := context.Background()
	a, b := uuid.NewString(), uuid.NewString()
	ch := newChannel(t, p, a, b)
	m, err := model.NewMessage(ch.ID, a, model.MessagePayload{Type: model.MessageTypeText, Text: "hi"})
	require.NoError(t, err)
	require.NoError(t, p.AppendMessage(ctx, m))

	_, changed, err := p.SetReaction(ctx, ch.ID, m.ID, b, "👍")
	require.NoError(t, err)
	assert.True(t, changed)

	_, changed, err = p.SetReaction(ctx, ch.ID, m.ID, b, "👍")
	require.NoError(t, err)
	assert.False(t, changed)

	got, changed, err := p.SetReaction(ctx, ch.ID, m.ID, b, "❤️")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, map[string]int{"❤️": 1}, got.ReactionCounts)
	assert.Equal(t, map[string]string{b: "❤️"}, got.UserReactions)

	got, removed, err := p.RemoveReaction(ctx, ch.ID, m.ID, b)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, got.ReactionCounts)

	_, _, err = p.SetReaction(ctx, ch.ID, "missing", b, "👍")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_RenameKeepsSnapshots(t *testing.T) {
	p := newStore(t)
	ctx := context.Background()
	a, b, c := uuid.NewString(), uuid.NewString(), uuid.NewString()
	ch := newChannel(t, p, a, b, c)

	m, err := model.NewMessage(ch.ID, a, model.MessagePayload{Type: model.MessageTypeText, Text: "hi"})
	require.NoError(t, err)
	m.ChannelNameAtSend = "Old"
	require.NoError(t, p.AppendMessage(ctx, m))

	name := "New"
	require.NoError(t, p.RenameChannel(ctx, ch.ID, &name, model.NewAdminMessage("", a, model.AdminChannelNameChanged, "New")))

	got, err := p.GetMessage(ctx, ch.ID, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "Old", got.ChannelNameAtSend)

	renamed, err := p.GetChannel(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, renamed.Name)
	assert.Equal(t, "New", *renamed.Name)
}

func TestPostgres_ListUserChannels(t *testing.T) {
	p := newStore(t)
	ctx := context.Background()
	a := uuid.NewString()
	first := newChannel(t, p, a, uuid.NewString())
	time.Sleep(2 * time.Millisecond)
	second := newChannel(t, p, a, uuid.NewString())

	list, err := p.ListUserChannels(ctx, a, storage.ChannelCursor{}, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)

	older, err := p.ListUserChannels(ctx, a, storage.ChannelCursor{LastMessageAt: list[0].LastMessageAt, ID: list[0].ID}, 10)
	require.NoError(t, err)
	require.Len(t, older, 1)
	assert.Equal(t, first.ID, older[0].ID)
}

func TestPostgres_ListUserChannelsSameTimestamp(t *testing.T) {
	p := newStore(t)
	ctx := context.Background()
	a := uuid.NewString()
	ids := make([]string, 0, 3)
	for range 3 {
		ids = append(ids, newChannel(t, p, a, uuid.NewString()).ID)
	}
	_, err := testPool.Exec(ctx, `UPDATE channels SET last_message_at = $1 WHERE id = ANY($2)`,
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), ids)
	require.NoError(t, err)
	slices.Sort(ids)

	var seen []string
	var after storage.ChannelCursor
	for {
		page, err := p.ListUserChannels(ctx, a, after, 1)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		seen = append(seen, page[0].ID)
		after = storage.ChannelCursor{LastMessageAt: page[0].LastMessageAt, ID: page[0].ID}
	}
	assert.Equal(t, ids, seen)
}
