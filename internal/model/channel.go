package model

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

var ErrInvalidChannel = errors.New("invalid channel")

// Channel — диалог (2 участника) или группа (больше 2).
// MemberUIDs не меняется после создания.
type Channel struct {
	ID              string      `json:"id"`
	Name            *string     `json:"name,omitempty"`
	CreatedBy       string      `json:"created_by"`
	CreatedAt       time.Time   `json:"created_at"`
	LastMessageAt   time.Time   `json:"last_message_at"`
	MembersCount    int         `json:"members_count"`
	AdminUIDs       []string    `json:"admin_uids"`
	MemberUIDs      []string    `json:"member_uids"`
	LastMessage     string      `json:"last_message"`
	LastMessageType MessageType `json:"last_message_type"`
	ThumbnailURL    *string     `json:"thumbnail_url,omitempty"`
}

func (c *Channel) IsGroupChat() bool {
	return c.MembersCount > 2
}

func (c *Channel) IsMember(userID string) bool {
	return slices.Contains(c.MemberUIDs, userID)
}

func (c *Channel) IsAdmin(userID string) bool {
	return slices.Contains(c.AdminUIDs, userID)
}

// MembersExcluding возвращает участников без userID (порядок сохраняется).
func (c *Channel) MembersExcluding(userID string) []string {
	out := make([]string, 0, len(c.MemberUIDs))
	for _, uid := range c.MemberUIDs {
		if uid != userID {
			out = append(out, uid)
		}
	}
	return out
}

// Validate проверяет инварианты: счётчик = числу участников, админы входят в число участников.
func (c *Channel) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidChannel)
	}
	if len(c.MemberUIDs) < 2 {
		return fmt.Errorf("%w: at least 2 members required", ErrInvalidChannel)
	}
	if c.MembersCount != len(c.MemberUIDs) {
		return fmt.Errorf("%w: members_count %d != %d members", ErrInvalidChannel, c.MembersCount, len(c.MemberUIDs))
	}
	if len(c.AdminUIDs) == 0 {
		return fmt.Errorf("%w: at least one admin required", ErrInvalidChannel)
	}
	for _, a := range c.AdminUIDs {
		if !c.IsMember(a) {
			return fmt.Errorf("%w: admin %s is not a member", ErrInvalidChannel, a)
		}
	}
	return nil
}

// Touch обновляет last_message-поля канала новым сообщением. LastMessageAt не убывает.
func (c *Channel) Touch(m *Message) {
	if m.Timestamp.After(c.LastMessageAt) {
		c.LastMessageAt = m.Timestamp
	}
	c.LastMessage = m.Preview()
	c.LastMessageType = m.Type
}

// Clone копирует канал вместе со срезами участников.
func (c *Channel) Clone() *Channel {
	out := *c
	out.AdminUIDs = slices.Clone(c.AdminUIDs)
	out.MemberUIDs = slices.Clone(c.MemberUIDs)
	return &out
}

// DirectKey — ключ обратного индекса личных каналов для неупорядоченной пары.
func DirectKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

// ChannelWithUnread — элемент ленты каналов пользователя.
type ChannelWithUnread struct {
	Channel     Channel `json:"channel"`
	Title       string  `json:"title"`
	UnreadCount int     `json:"unread_count"`
}
