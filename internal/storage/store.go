package storage

import (
	"context"
	"errors"
	"time"

	"github.com/fanout/internal/model"
)

// ErrNotFound: записи нет. repository.ErrNotFound ссылается на него же.
var ErrNotFound = errors.New("not found")

// ErrConflict возвращается, когда оптимистическая транзакция проиграла гонку. Операцию можно повторить.
var ErrConflict = errors.New("transaction conflict")

// TokenStore — токены устройств пользователя. Реализации: redis.Client, memory.Client.
type TokenStore interface {
	AddToken(ctx context.Context, userID string, t model.DeviceToken) error
	RemoveToken(ctx context.Context, userID string, t model.DeviceToken) error
	RemoveAllTokens(ctx context.Context, userID string) error
	ListTokens(ctx context.Context, userID string) ([]model.DeviceToken, error)
}

// UnreadStore — счётчики непрочитанных по (user, channel).
// IncrUnread обязан быть атомарным: конкурентные вызовы не теряют инкременты.
type UnreadStore interface {
	IncrUnread(ctx context.Context, userID, channelID string) (int, error)
	ResetUnread(ctx context.Context, userID, channelID string) error
	GetUnread(ctx context.Context, userID, channelID string) (int, error)
	ListUnread(ctx context.Context, userID string) (map[string]int, error)
}

// Broker раздаёт новые сообщения подписчикам канала. Истории не хранит.
type Broker interface {
	Publish(ctx context.Context, m *model.Message) error
	Subscribe(ctx context.Context, channelID string) (<-chan model.Message, func(), error)
}

// RevocationStore — момент последнего отзыва токенов chat-SDK пользователя.
type RevocationStore interface {
	SetRevokedAt(ctx context.Context, userID string, at time.Time) error
	// RevokedAt возвращает нулевое время, если отзыва не было.
	RevokedAt(ctx context.Context, userID string) (time.Time, error)
}

// KV объединяет хранилища, которые живут в Redis (или в памяти в -dev).
// Broker сюда не входит: в памяти его роль играет ws.Hub.
type KV interface {
	TokenStore
	UnreadStore
	RevocationStore
	Close() error
}

// UserStore — профили пользователей.
type UserStore interface {
	UpsertUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, id string) (*model.User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]*model.User, error)
	UpdateProfile(ctx context.Context, id string, displayName, bio, imageURL *string) (*model.User, error)
	SetChatSDKToken(ctx context.Context, id string, token *string) error
}

// ChannelStore — каналы, участники и обратный индекс личных каналов.
// Создание и переименование пишут служебное сообщение в той же транзакции.
type ChannelStore interface {
	CreateChannel(ctx context.Context, c *model.Channel, creation *model.Message) error
	// CreateDirectChannel создаёт канал, только если ключ пары ещё свободен.
	// Иначе возвращает id существующего канала и created=false.
	CreateDirectChannel(ctx context.Context, key string, c *model.Channel, creation *model.Message) (id string, created bool, err error)
	FindDirectChannel(ctx context.Context, key string) (string, error)
	GetChannel(ctx context.Context, id string) (*model.Channel, error)
	// ListUserChannels отдаёт каналы пользователя в порядке (last_message_at DESC, id ASC),
	// строго после курсора after (нулевой курсор снимает границу).
	ListUserChannels(ctx context.Context, userID string, after ChannelCursor, limit int) ([]model.Channel, error)
	RenameChannel(ctx context.Context, id string, name *string, notice *model.Message) error
}

// ChannelCursor указывает на последний канал предыдущей страницы ленты.
// Без ID граница проходит только по времени: каналы с тем же last_message_at отбрасываются.
type ChannelCursor struct {
	LastMessageAt time.Time
	ID            string
}

func (c ChannelCursor) IsZero() bool { return c.LastMessageAt.IsZero() }

// Admits сообщает, идёт ли канал (lastMessageAt, id) в ленте после курсора.
func (c ChannelCursor) Admits(lastMessageAt time.Time, id string) bool {
	switch {
	case c.IsZero(), lastMessageAt.Before(c.LastMessageAt):
		return true
	case lastMessageAt.Equal(c.LastMessageAt):
		return c.ID != "" && id > c.ID
	default:
		return false
	}
}

// MessageStore — журнал сообщений канала.
type MessageStore interface {
	// AppendMessage назначает ID, Seq и Timestamp и обновляет last_message канала атомарно с записью.
	AppendMessage(ctx context.Context, m *model.Message) error
	GetMessage(ctx context.Context, channelID, messageID string) (*model.Message, error)
	GetFirstMessage(ctx context.Context, channelID string) (*model.Message, error)
	// ListBefore отдаёт до limit сообщений с Seq < beforeSeq (0 снимает границу), от новых к старым,
	// без сообщения о создании канала.
	ListBefore(ctx context.Context, channelID string, beforeSeq int64, limit int) ([]model.Message, error)
	SetReaction(ctx context.Context, channelID, messageID, userID, emoji string) (*model.Message, bool, error)
	RemoveReaction(ctx context.Context, channelID, messageID, userID string) (*model.Message, bool, error)
}

// Store — всё, что нужно сервисам. Реализации: postgres (repository + redis) и memory.
type Store interface {
	UserStore
	ChannelStore
	MessageStore
}
