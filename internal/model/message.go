package model

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypePhoto MessageType = "photo"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
	MessageTypeAdmin MessageType = "admin"
)

// AdminType — подтип служебного сообщения.
type AdminType string

const (
	AdminChannelCreation    AdminType = "channelCreation"
	AdminMemberAdded        AdminType = "memberAdded"
	AdminMemberRemoved      AdminType = "memberRemoved"
	AdminChannelNameChanged AdminType = "channelNameChanged"
)

var ErrInvalidMessage = errors.New("invalid message")

// Message — запись журнала канала. После добавления меняются только реакции.
// Seq строго растёт внутри канала и задаёт порядок.
type Message struct {
	ID                string            `json:"id"`
	Seq               int64             `json:"seq"`
	ChannelID         string            `json:"channel_id"`
	OwnerUID          string            `json:"owner_uid"`
	Timestamp         time.Time         `json:"timestamp"`
	Type              MessageType       `json:"type"`
	AdminType         AdminType         `json:"admin_type,omitempty"`
	Text              string            `json:"text,omitempty"`
	ThumbnailURL      string            `json:"thumbnail_url,omitempty"`
	ThumbnailWidth    int               `json:"thumbnail_width,omitempty"`
	ThumbnailHeight   int               `json:"thumbnail_height,omitempty"`
	VideoURL          string            `json:"video_url,omitempty"`
	AudioURL          string            `json:"audio_url,omitempty"`
	AudioDuration     float64           `json:"audio_duration,omitempty"`
	ChannelNameAtSend string            `json:"channel_name_at_send"`
	ReactionCounts    map[string]int    `json:"reaction_counts,omitempty"`
	UserReactions     map[string]string `json:"user_reactions,omitempty"`
}

func (m *Message) IsAdmin() bool { return m.Type == MessageTypeAdmin }

// Unix возвращает время сообщения в секундах.
func (m *Message) Unix() int64 { return m.Timestamp.Unix() }

// Preview формирует текст для last_message канала.
func (m *Message) Preview() string {
	switch m.Type {
	case MessageTypeAdmin, MessageTypeText:
		return m.Text
	default:
		if m.Text != "" {
			return m.Text
		}
		return string(m.Type)
	}
}

// ApplyReaction ставит реакцию userID. У пользователя одна активная реакция:
// смена эмодзи уменьшает счётчик старого и увеличивает новый. Возвращает предыдущий
// эмодзи и false, если ничего не изменилось.
func (m *Message) ApplyReaction(userID, emoji string) (previous string, changed bool) {
	if m.ReactionCounts == nil {
		m.ReactionCounts = make(map[string]int)
	}
	if m.UserReactions == nil {
		m.UserReactions = make(map[string]string)
	}
	previous = m.UserReactions[userID]
	if previous == emoji {
		return previous, false
	}
	if previous != "" {
		m.decrement(previous)
	}
	m.UserReactions[userID] = emoji
	m.ReactionCounts[emoji]++
	return previous, true
}

// RemoveReaction снимает реакцию userID. Возвращает снятый эмодзи.
func (m *Message) RemoveReaction(userID string) (string, bool) {
	previous, ok := m.UserReactions[userID]
	if !ok {
		return "", false
	}
	delete(m.UserReactions, userID)
	m.decrement(previous)
	return previous, true
}

func (m *Message) decrement(emoji string) {
	if n := m.ReactionCounts[emoji] - 1; n > 0 {
		m.ReactionCounts[emoji] = n
	} else {
		delete(m.ReactionCounts, emoji)
	}
}

// Assign назначает ID (uuid v7, если не задан), Seq и Timestamp.
// Время не опускается ниже prev, так что порядок по времени совпадает с порядком добавления.
func (m *Message) Assign(seq int64, prev, now time.Time) error {
	if m.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("message id: %w", err)
		}
		m.ID = id.String()
	}
	m.Seq = seq
	if now.Before(prev) {
		now = prev
	}
	m.Timestamp = now
	return nil
}

// Clone копирует сообщение вместе с картами реакций.
func (m *Message) Clone() *Message {
	out := *m
	out.ReactionCounts = maps.Clone(m.ReactionCounts)
	out.UserReactions = maps.Clone(m.UserReactions)
	return &out
}

// MessagePayload — то, что присылает клиент при отправке.
type MessagePayload struct {
	Type            MessageType `json:"type"`
	Text            string      `json:"text"`
	ThumbnailURL    string      `json:"thumbnail_url,omitempty"`
	ThumbnailWidth  int         `json:"thumbnail_width,omitempty"`
	ThumbnailHeight int         `json:"thumbnail_height,omitempty"`
	VideoURL        string      `json:"video_url,omitempty"`
	AudioURL        string      `json:"audio_url,omitempty"`
	AudioDuration   float64     `json:"audio_duration,omitempty"`
}

// Validate проверяет поля, обязательные для типа. Служебные сообщения клиент отправить не может.
func (p *MessagePayload) Validate() error {
	switch p.Type {
	case MessageTypeText:
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("%w: text is required", ErrInvalidMessage)
		}
	case MessageTypePhoto, MessageTypeVideo:
		if p.ThumbnailURL == "" || p.ThumbnailWidth <= 0 || p.ThumbnailHeight <= 0 {
			return fmt.Errorf("%w: thumbnail url and size are required for %s", ErrInvalidMessage, p.Type)
		}
		if p.Type == MessageTypeVideo && p.VideoURL == "" {
			return fmt.Errorf("%w: video url is required", ErrInvalidMessage)
		}
	case MessageTypeAudio:
		if p.AudioURL == "" || p.AudioDuration <= 0 {
			return fmt.Errorf("%w: audio url and duration are required", ErrInvalidMessage)
		}
	case MessageTypeAdmin:
		return fmt.Errorf("%w: admin messages are system-only", ErrInvalidMessage)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidMessage, p.Type)
	}
	return nil
}

// NewMessage собирает сообщение из проверенного payload. ID, Seq и Timestamp назначает хранилище.
func NewMessage(channelID, senderID string, p MessagePayload) (*Message, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m := &Message{
		ChannelID: channelID,
		OwnerUID:  senderID,
		Type:      p.Type,
		Text:      p.Text,
	}
	switch p.Type {
	case MessageTypePhoto, MessageTypeVideo:
		m.ThumbnailURL = p.ThumbnailURL
		m.ThumbnailWidth = p.ThumbnailWidth
		m.ThumbnailHeight = p.ThumbnailHeight
		m.VideoURL = p.VideoURL
	case MessageTypeAudio:
		m.AudioURL = p.AudioURL
		m.AudioDuration = p.AudioDuration
	}
	return m, nil
}

// NewAdminMessage создаёт служебное сообщение жизненного цикла канала.
func NewAdminMessage(channelID, actorID string, t AdminType, text string) *Message {
	return &Message{
		ChannelID: channelID,
		OwnerUID:  actorID,
		Type:      MessageTypeAdmin,
		AdminType: t,
		Text:      text,
	}
}

// Page — страница истории при пагинации назад.
// NextCursor пустой, когда достигнуто начало канала.
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor string    `json:"next_cursor,omitempty"`
}
