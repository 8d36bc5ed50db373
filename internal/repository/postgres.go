package repository

import (
	"context"

	"github.com/fanout/internal/model"
	"github.com/fanout/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres собирает репозитории в storage.Store.
type Postgres struct {
	Users     *UserRepository
	Channels  *ChannelRepository
	Messages  *MessageRepository
	Reactions *ReactionRepository
}

var _ storage.Store = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{
		Users:     NewUserRepository(pool),
		Channels:  NewChannelRepository(pool),
		Messages:  NewMessageRepository(pool),
		Reactions: NewReactionRepository(pool),
	}
}

func (p *Postgres) UpsertUser(ctx context.Context, u *model.User) error {
	return p.Users.Upsert(ctx, u)
}

func (p *Postgres) GetUser(ctx context.Context, id string) (*model.User, error) {
	return p.Users.GetByID(ctx, id)
}

func (p *Postgres) GetUsers(ctx context.Context, ids []string) (map[string]*model.User, error) {
	return p.Users.GetByIDs(ctx, ids)
}

func (p *Postgres) UpdateProfile(ctx context.Context, id string, displayName, bio, imageURL *string) (*model.User, error) {
	return p.Users.UpdateProfile(ctx, id, displayName, bio, imageURL)
}

func (p *Postgres) SetChatSDKToken(ctx context.Context, id string, token *string) error {
	return p.Users.SetChatSDKToken(ctx, id, token)
}

func (p *Postgres) CreateChannel(ctx context.Context, c *model.Channel, creation *model.Message) error {
	return p.Channels.Create(ctx, c, creation)
}

func (p *Postgres) CreateDirectChannel(ctx context.Context, key string, c *model.Channel, creation *model.Message) (string, bool, error) {
	return p.Channels.CreateDirect(ctx, key, c, creation)
}

func (p *Postgres) FindDirectChannel(ctx context.Context, key string) (string, error) {
	return p.Channels.FindDirect(ctx, key)
}

func (p *Postgres) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	return p.Channels.GetByID(ctx, id)
}

func (p *Postgres) ListUserChannels(ctx context.Context, userID string, after storage.ChannelCursor, limit int) ([]model.Channel, error) {
	return p.Channels.ListForUser(ctx, userID, after, limit)
}

func (p *Postgres) RenameChannel(ctx context.Context, id string, name *string, notice *model.Message) error {
	return p.Channels.Rename(ctx, id, name, notice)
}

func (p *Postgres) AppendMessage(ctx context.Context, m *model.Message) error {
	return p.Messages.Append(ctx, m)
}

func (p *Postgres) GetMessage(ctx context.Context, channelID, messageID string) (*model.Message, error) {
	return p.Messages.GetByID(ctx, channelID, messageID)
}

func (p *Postgres) GetFirstMessage(ctx context.Context, channelID string) (*model.Message, error) {
	return p.Messages.GetFirst(ctx, channelID)
}

func (p *Postgres) ListBefore(ctx context.Context, channelID string, beforeSeq int64, limit int) ([]model.Message, error) {
	return p.Messages.ListBefore(ctx, channelID, beforeSeq, limit)
}

func (p *Postgres) SetReaction(ctx context.Context, channelID, messageID, userID, emoji string) (*model.Message, bool, error) {
	return p.Reactions.Set(ctx, channelID, messageID, userID, emoji)
}

func (p *Postgres) RemoveReaction(ctx context.Context, channelID, messageID, userID string) (*model.Message, bool, error) {
	return p.Reactions.Remove(ctx, channelID, messageID, userID)
}
