package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/model"
	"github.com/fanout/internal/storage"
	"github.com/google/uuid"
)

const maxChannelNameLen = 100

// ChannelService — каналы, участники, обратный индекс личных каналов и заголовки.
type ChannelService struct {
	store  storage.Store
	unread *UnreadTracker
	pages  pageLimits
}

func NewChannelService(store storage.Store, unread *UnreadTracker, pageDefault, pageMax int) *ChannelService {
	return &ChannelService{store: store, unread: unread, pages: newPageLimits(pageDefault, pageMax)}
}

// ChannelPage — страница ленты каналов пользователя.
type ChannelPage struct {
	Channels   []model.ChannelWithUnread `json:"channels"`
	NextCursor string                    `json:"next_cursor,omitempty"`
}

// CreateChannel создаёт канал; создатель всегда участник и единственный админ.
// Если кроме создателя ровно один участник, канал личный: get-or-create через индекс пары.
func (s *ChannelService) CreateChannel(ctx context.Context, creatorID string, memberIDs []string, name *string) (*model.Channel, error) {
	if creatorID == "" {
		return nil, ErrUnauthenticated
	}
	others := normalizeMembers(creatorID, memberIDs)
	if len(others) == 0 {
		return nil, fmt.Errorf("%w: at least one member besides the creator is required", ErrInvalidMembership)
	}
	name, err := normalizeName(name)
	if err != nil {
		return nil, err
	}
	if len(others) == 1 {
		return s.directChannel(ctx, creatorID, others[0], name)
	}
	if err := s.requireUsers(ctx, append([]string{creatorID}, others...)); err != nil {
		return nil, err
	}
	c := newChannel(creatorID, others, name)
	creation := model.NewAdminMessage(c.ID, creatorID, model.AdminChannelCreation, "Channel created")
	if err := s.store.CreateChannel(ctx, c, creation); err != nil {
		return nil, fmt.Errorf("channelService.CreateChannel: %w", err)
	}
	logger.Infof("channel: %s created by %s (%d members)", c.ID, creatorID, c.MembersCount)
	return c, nil
}

// CreateDirectChannel возвращает существующий личный канал пары или создаёт новый.
// При гонке двух создателей побеждает первая запись в индекс, проигравший получает канал победителя.
func (s *ChannelService) CreateDirectChannel(ctx context.Context, userA, userB string) (*model.Channel, error) {
	return s.directChannel(ctx, userA, userB, nil)
}

// directChannel: имя применяется, только если канал создаётся сейчас.
func (s *ChannelService) directChannel(ctx context.Context, userA, userB string, name *string) (*model.Channel, error) {
	if userA == "" {
		return nil, ErrUnauthenticated
	}
	if userB == "" || userA == userB {
		return nil, fmt.Errorf("%w: direct channel needs two distinct users", ErrInvalidMembership)
	}
	key := model.DirectKey(userA, userB)
	if id, err := s.store.FindDirectChannel(ctx, key); err == nil {
		return s.GetChannel(ctx, id)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("channelService.CreateDirectChannel: %w", err)
	}
	if err := s.requireUsers(ctx, []string{userA, userB}); err != nil {
		return nil, err
	}
	c := newChannel(userA, []string{userB}, name)
	creation := model.NewAdminMessage(c.ID, userA, model.AdminChannelCreation, "Channel created")
	id, created, err := s.store.CreateDirectChannel(ctx, key, c, creation)
	if err != nil {
		return nil, fmt.Errorf("channelService.CreateDirectChannel: %w", err)
	}
	if !created {
		logger.Debugf("channel: direct %s already exists as %s", key, id)
		return s.GetChannel(ctx, id)
	}
	logger.Infof("channel: direct %s created as %s", key, id)
	return c, nil
}

// FindDirectChannel возвращает id личного канала пары или "" если его нет.
func (s *ChannelService) FindDirectChannel(ctx context.Context, userA, userB string) (string, error) {
	id, err := s.store.FindDirectChannel(ctx, model.DirectKey(userA, userB))
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("channelService.FindDirectChannel: %w", err)
	}
	return id, nil
}

func (s *ChannelService) GetChannel(ctx context.Context, channelID string) (*model.Channel, error) {
	c, err := s.store.GetChannel(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrChannelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("channelService.GetChannel: %w", err)
	}
	return c, nil
}

// MemberChannel возвращает канал, если userID его участник.
func (s *ChannelService) MemberChannel(ctx context.Context, channelID, userID string) (*model.Channel, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	c, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	if !c.IsMember(userID) {
		return nil, ErrNotMember
	}
	return c, nil
}

func (s *ChannelService) GetMembers(ctx context.Context, channelID string) ([]string, error) {
	c, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return c.MemberUIDs, nil
}

func (s *ChannelService) GetMembersExcluding(ctx context.Context, channelID, userID string) ([]string, error) {
	c, err := s.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	return c.MembersExcluding(userID), nil
}

// MemberProfiles возвращает публичные профили участников в порядке членства.
func (s *ChannelService) MemberProfiles(ctx context.Context, c *model.Channel) ([]model.UserPublic, error) {
	users, err := s.store.GetUsers(ctx, c.MemberUIDs)
	if err != nil {
		return nil, fmt.Errorf("channelService.MemberProfiles: %w", err)
	}
	out := make([]model.UserPublic, 0, len(c.MemberUIDs))
	for _, uid := range c.MemberUIDs {
		if u, ok := users[uid]; ok {
			out = append(out, u.ToPublic())
			continue
		}
		out = append(out, model.UserPublic{ID: uid, DisplayName: model.UnknownDisplayName, Bio: model.DefaultBio})
	}
	return out, nil
}

// Title считает заголовок канала глазами viewerID.
func (s *ChannelService) Title(ctx context.Context, c *model.Channel, viewerID string) (string, error) {
	if c.Name != nil && strings.TrimSpace(*c.Name) != "" {
		return *c.Name, nil
	}
	others := c.MembersExcluding(viewerID)
	users, err := s.store.GetUsers(ctx, others)
	if err != nil {
		return "", fmt.Errorf("channelService.Title: %w", err)
	}
	names := make([]string, 0, len(others))
	for _, uid := range others {
		if u, ok := users[uid]; ok && u.DisplayName != "" {
			names = append(names, u.DisplayName)
		} else {
			names = append(names, model.UnknownDisplayName)
		}
	}
	return DeriveTitle(c.Name, c.MembersCount, names), nil
}

// sendTitle — снимок имени канала для уведомлений от userID:
// в личном канале это имя отправителя, в группе заголовок группы.
func (s *ChannelService) sendTitle(ctx context.Context, c *model.Channel, userID string) (string, error) {
	if c.IsGroupChat() {
		return s.Title(ctx, c, userID)
	}
	u, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.UnknownDisplayName, nil
	}
	if err != nil {
		return "", fmt.Errorf("channelService.sendTitle: %w", err)
	}
	return u.DisplayName, nil
}

// ListUserChannels отдаёт ленту каналов по убыванию времени последнего сообщения.
// Каналы с одинаковым временем идут по id. Курсор указывает на последний канал предыдущей страницы.
func (s *ChannelService) ListUserChannels(ctx context.Context, userID, cursor string, pageSize int) (*ChannelPage, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	after, err := parseChannelCursor(cursor)
	if err != nil {
		return nil, err
	}
	pageSize = s.pages.clamp(pageSize)
	channels, err := s.store.ListUserChannels(ctx, userID, after, pageSize+1)
	if err != nil {
		return nil, fmt.Errorf("channelService.ListUserChannels: %w", err)
	}
	page := &ChannelPage{Channels: make([]model.ChannelWithUnread, 0, len(channels))}
	if len(channels) > pageSize {
		channels = channels[:pageSize]
		last := channels[len(channels)-1]
		page.NextCursor = formatChannelCursor(storage.ChannelCursor{LastMessageAt: last.LastMessageAt, ID: last.ID})
	}
	var unread map[string]int
	if s.unread != nil {
		if unread, err = s.unread.ListForUser(ctx, userID); err != nil {
			logger.Warnf("channel: unread counters of %s: %v", userID, err)
		}
	}
	for i := range channels {
		c := &channels[i]
		title, err := s.Title(ctx, c, userID)
		if err != nil {
			return nil, err
		}
		page.Channels = append(page.Channels, model.ChannelWithUnread{Channel: *c, Title: title, UnreadCount: unread[c.ID]})
	}
	return page, nil
}

// RenameChannel меняет имя канала, nil или пустая строка снимают его. Только для админов.
// Старые сообщения сохраняют свой ChannelNameAtSend.
func (s *ChannelService) RenameChannel(ctx context.Context, actorID, channelID string, name *string) (*model.Channel, error) {
	c, err := s.MemberChannel(ctx, channelID, actorID)
	if err != nil {
		return nil, err
	}
	if !c.IsAdmin(actorID) {
		return nil, ErrNotAdmin
	}
	name, err = normalizeName(name)
	if err != nil {
		return nil, err
	}
	text := "Channel name removed"
	if name != nil {
		text = fmt.Sprintf("Channel name changed to %q", *name)
	}
	notice := model.NewAdminMessage(channelID, actorID, model.AdminChannelNameChanged, text)
	if err := s.store.RenameChannel(ctx, channelID, name, notice); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("channelService.RenameChannel: %w", err)
	}
	return s.GetChannel(ctx, channelID)
}

func (s *ChannelService) requireUsers(ctx context.Context, ids []string) error {
	users, err := s.store.GetUsers(ctx, ids)
	if err != nil {
		return fmt.Errorf("channelService.requireUsers: %w", err)
	}
	for _, id := range ids {
		if _, ok := users[id]; !ok {
			return fmt.Errorf("%w: %s", ErrUserNotFound, id)
		}
	}
	return nil
}

func newChannel(creatorID string, others []string, name *string) *model.Channel {
	members := append([]string{creatorID}, others...)
	return &model.Channel{
		ID:           uuid.NewString(),
		Name:         name,
		CreatedBy:    creatorID,
		MembersCount: len(members),
		AdminUIDs:    []string{creatorID},
		MemberUIDs:   members,
	}
}

// normalizeMembers убирает пустые id, дубликаты и самого создателя, сохраняя порядок.
func normalizeMembers(creatorID string, ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == creatorID || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

func normalizeName(name *string) (*string, error) {
	if name == nil {
		return nil, nil
	}
	n := strings.TrimSpace(*name)
	if n == "" {
		return nil, nil
	}
	if len([]rune(n)) > maxChannelNameLen {
		return nil, fmt.Errorf("%w: channel name is longer than %d characters", ErrInvalidPayload, maxChannelNameLen)
	}
	return &n, nil
}

// Курсор ленты: "<last_message_at RFC 3339>|<id>". Курсор без id режет только по времени.
func formatChannelCursor(c storage.ChannelCursor) string {
	return c.LastMessageAt.UTC().Format(time.RFC3339Nano) + "|" + c.ID
}

func parseChannelCursor(raw string) (storage.ChannelCursor, error) {
	if raw == "" {
		return storage.ChannelCursor{}, nil
	}
	ts, id, _ := strings.Cut(raw, "|")
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return storage.ChannelCursor{}, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	return storage.ChannelCursor{LastMessageAt: t, ID: id}, nil
}
