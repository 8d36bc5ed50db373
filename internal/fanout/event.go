package fanout

import (
	"fmt"

	"github.com/fanout/internal/model"
)

// EventKind — что вызвало рассылку.
type EventKind string

const (
	EventMessage  EventKind = "message"
	EventReaction EventKind = "reaction"
)

// Event — единица работы диспетчера. Message — снимок сообщения на момент события.
// Для реакции ActorID указывает, кто поставил реакцию, Title вычисляется с его точки зрения.
type Event struct {
	Kind    EventKind
	Message model.Message
	ActorID string
	Emoji   string
	Title   string
}

// MessageEvent строит событие о новом сообщении. Заголовок пуша берётся из снимка имени канала.
func MessageEvent(m *model.Message) Event {
	return Event{Kind: EventMessage, Message: *m.Clone(), ActorID: m.OwnerUID, Title: m.ChannelNameAtSend}
}

// ReactionEvent строит событие о реакции userID на сообщение m.
func ReactionEvent(m *model.Message, userID, emoji, title string) Event {
	return Event{Kind: EventReaction, Message: *m.Clone(), ActorID: userID, Emoji: emoji, Title: title}
}

// Body возвращает текст уведомления.
func (e Event) Body() string {
	if e.Kind == EventReaction {
		return fmt.Sprintf("Reacted %s to your %s.", e.Emoji, reactionSummary(&e.Message))
	}
	return MessageBody(&e.Message)
}

// MessageBody возвращает текст как есть, для медиа фиксированную подпись.
func MessageBody(m *model.Message) string {
	switch m.Type {
	case model.MessageTypePhoto:
		return "Sent a Photo Message"
	case model.MessageTypeVideo:
		return "Sent a Video Message"
	case model.MessageTypeAudio:
		return "Sent an Audio Message"
	default:
		return m.Text
	}
}

func reactionSummary(m *model.Message) string {
	switch m.Type {
	case model.MessageTypePhoto:
		return "photo"
	case model.MessageTypeVideo:
		return "video"
	case model.MessageTypeAudio:
		return "audio message"
	default:
		return fmt.Sprintf("message: %q", m.Text)
	}
}

// notifies: служебные сообщения не рассылаются.
func (e Event) notifies() bool {
	return !e.Message.IsAdmin()
}

// countsUnread: непрочитанные растут только от новых сообщений.
func (e Event) countsUnread() bool {
	return e.Kind == EventMessage && !e.Message.IsAdmin()
}
