package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fanout/internal/model"
	"github.com/fanout/internal/storage"
)

// Store — storage.Store в памяти: пользователи, каналы, обратный индекс и журналы сообщений.
// Один мьютекс на всё: запись сообщения и обновление канала видны атомарно.
type Store struct {
	mu       sync.RWMutex
	users    map[string]*model.User
	channels map[string]*model.Channel
	direct   map[string]string
	messages map[string][]*model.Message
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:    make(map[string]*model.User),
		channels: make(map[string]*model.Channel),
		direct:   make(map[string]string),
		messages: make(map[string][]*model.Message),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) UpsertUser(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	if old, ok := s.users[u.ID]; ok {
		cp.CreatedAt = old.CreatedAt
		if cp.Bio == nil {
			cp.Bio = old.Bio
		}
		if cp.ChatSDKToken == nil {
			cp.ChatSDKToken = old.ChatSDKToken
		}
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.users[u.ID] = &cp
	*u = cp
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUsers(ctx context.Context, ids []string) (map[string]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*model.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			cp := *u
			out[id] = &cp
		}
	}
	return out, nil
}

func (s *Store) UpdateProfile(ctx context.Context, id string, displayName, bio, imageURL *string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if displayName != nil {
		u.DisplayName = *displayName
	}
	if bio != nil {
		u.Bio = bio
	}
	if imageURL != nil {
		u.ProfileImageURL = imageURL
	}
	cp := *u
	return &cp, nil
}

func (s *Store) SetChatSDKToken(ctx context.Context, id string, token *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	u.ChatSDKToken = token
	return nil
}

func (s *Store) CreateChannel(ctx context.Context, c *model.Channel, creation *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(c, creation)
}

func (s *Store) CreateDirectChannel(ctx context.Context, key string, c *model.Channel, creation *model.Message) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.direct[key]; ok {
		return id, false, nil
	}
	if err := s.createLocked(c, creation); err != nil {
		return "", false, err
	}
	s.direct[key] = c.ID
	return c.ID, true, nil
}

func (s *Store) createLocked(c *model.Channel, creation *model.Message) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.now()
	}
	c.LastMessageAt = c.CreatedAt
	s.channels[c.ID] = c.Clone()
	creation.ChannelID = c.ID
	if err := s.appendLocked(creation); err != nil {
		delete(s.channels, c.ID)
		return err
	}
	c.Touch(creation)
	return nil
}

func (s *Store) FindDirectChannel(ctx context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.direct[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return id, nil
}

func (s *Store) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.channels[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return c.Clone(), nil
}

func (s *Store) ListUserChannels(ctx context.Context, userID string, after storage.ChannelCursor, limit int) ([]model.Channel, error) {
	s.mu.RLock()
	out := make([]model.Channel, 0, 16)
	for _, c := range s.channels {
		if !c.IsMember(userID) {
			continue
		}
		if !after.Admits(c.LastMessageAt, c.ID) {
			continue
		}
		out = append(out, *c.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) RenameChannel(ctx context.Context, id string, name *string, notice *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[id]
	if !ok {
		return storage.ErrNotFound
	}
	c.Name = name
	notice.ChannelID = id
	return s.appendLocked(notice)
}

func (s *Store) AppendMessage(ctx context.Context, m *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(m)
}

func (s *Store) appendLocked(m *model.Message) error {
	c, ok := s.channels[m.ChannelID]
	if !ok {
		return storage.ErrNotFound
	}
	log := s.messages[m.ChannelID]
	var (
		seq  int64 = 1
		prev time.Time
	)
	if n := len(log); n > 0 {
		seq = log[n-1].Seq + 1
		prev = log[n-1].Timestamp
	}
	if err := m.Assign(seq, prev, s.now()); err != nil {
		return err
	}
	s.messages[m.ChannelID] = append(log, m.Clone())
	c.Touch(m)
	return nil
}

func (s *Store) GetMessage(ctx context.Context, channelID, messageID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.findLocked(channelID, messageID)
	if m == nil {
		return nil, storage.ErrNotFound
	}
	return m.Clone(), nil
}

func (s *Store) findLocked(channelID, messageID string) *model.Message {
	for _, m := range s.messages[channelID] {
		if m.ID == messageID {
			return m
		}
	}
	return nil
}

func (s *Store) GetFirstMessage(ctx context.Context, channelID string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.messages[channelID]
	if len(log) == 0 {
		return nil, storage.ErrNotFound
	}
	return log[0].Clone(), nil
}

func (s *Store) ListBefore(ctx context.Context, channelID string, beforeSeq int64, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.messages[channelID]
	out := make([]model.Message, 0, limit)
	for i := len(log) - 1; i >= 0 && len(out) < limit; i-- {
		m := log[i]
		if beforeSeq > 0 && m.Seq >= beforeSeq {
			continue
		}
		if m.AdminType == model.AdminChannelCreation {
			continue
		}
		out = append(out, *m.Clone())
	}
	return out, nil
}

func (s *Store) SetReaction(ctx context.Context, channelID, messageID, userID, emoji string) (*model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findLocked(channelID, messageID)
	if m == nil {
		return nil, false, storage.ErrNotFound
	}
	_, changed := m.ApplyReaction(userID, emoji)
	return m.Clone(), changed, nil
}

func (s *Store) RemoveReaction(ctx context.Context, channelID, messageID, userID string) (*model.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.findLocked(channelID, messageID)
	if m == nil {
		return nil, false, storage.ErrNotFound
	}
	_, removed := m.RemoveReaction(userID)
	return m.Clone(), removed, nil
}
