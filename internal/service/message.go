package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/fanout/internal/fanout"
	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/model"
	"github.com/fanout/internal/storage"
)

const maxEmojiLen = 16

// Notifier принимает события для рассылки и возвращается сразу.
type Notifier interface {
	Submit(ev fanout.Event)
}

// MessageService — журнал сообщений каналов, реакции и живые подписки.
type MessageService struct {
	store    storage.Store
	channels *ChannelService
	broker   storage.Broker
	notifier Notifier
	pages    pageLimits
}

func NewMessageService(store storage.Store, channels *ChannelService, broker storage.Broker, notifier Notifier, pageDefault, pageMax int) *MessageService {
	return &MessageService{
		store: store, channels: channels, broker: broker, notifier: notifier,
		pages: newPageLimits(pageDefault, pageMax),
	}
}

// AppendMessage записывает сообщение и обновляет last_message канала одной транзакцией,
// публикует его подписчикам и отдаёт диспетчеру. Рассылка идёт после ответа вызывающему.
func (s *MessageService) AppendMessage(ctx context.Context, channelID, senderID string, p model.MessagePayload) (*model.Message, error) {
	if senderID == "" {
		return nil, ErrUnauthenticated
	}
	m, err := model.NewMessage(channelID, senderID, p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	c, err := s.channels.MemberChannel(ctx, channelID, senderID)
	if err != nil {
		return nil, err
	}
	if m.ChannelNameAtSend, err = s.channels.sendTitle(ctx, c, senderID); err != nil {
		return nil, err
	}
	if err := s.store.AppendMessage(ctx, m); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("messageService.AppendMessage: %w", err)
	}
	if s.broker != nil {
		if err := s.broker.Publish(ctx, m); err != nil {
			logger.Warnf("message: publish %s to %s: %v", m.ID, channelID, err)
		}
	}
	if s.notifier != nil {
		s.notifier.Submit(fanout.MessageEvent(m))
	}
	return m, nil
}

// PaginateBackward отдаёт страницу истории по возрастанию времени.
// Без курсора берутся последние pageSize сообщений, с курсором только те, что старше курсора.
// Сообщение о создании канала в страницы не попадает (см. GetFirstMessage).
// NextCursor пуст, когда старше сообщений нет.
func (s *MessageService) PaginateBackward(ctx context.Context, channelID, cursor string, pageSize int) (*model.Page, error) {
	pageSize = s.pages.clamp(pageSize)
	var beforeSeq int64
	if cursor != "" {
		m, err := s.store.GetMessage(ctx, channelID, cursor)
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown message %s", ErrInvalidCursor, cursor)
		}
		if err != nil {
			return nil, fmt.Errorf("messageService.PaginateBackward: %w", err)
		}
		beforeSeq = m.Seq
	}
	msgs, err := s.store.ListBefore(ctx, channelID, beforeSeq, pageSize+1)
	if err != nil {
		return nil, fmt.Errorf("messageService.PaginateBackward: %w", err)
	}
	page := &model.Page{}
	if len(msgs) > pageSize {
		msgs = msgs[:pageSize]
		page.NextCursor = msgs[len(msgs)-1].ID
	}
	slices.Reverse(msgs)
	page.Messages = msgs
	return page, nil
}

// SubscribeNew подписывает на сообщения, добавленные после подписки. Истории не воспроизводит.
// Поток закрывается по отмене ctx, вызову cancel или если подписчик не успевает читать.
func (s *MessageService) SubscribeNew(ctx context.Context, channelID string) (<-chan model.Message, func(), error) {
	if s.broker == nil {
		return nil, nil, errors.New("messageService.SubscribeNew: broker is not configured")
	}
	if _, err := s.channels.GetChannel(ctx, channelID); err != nil {
		return nil, nil, err
	}
	stream, cancel, err := s.broker.Subscribe(ctx, channelID)
	if err != nil {
		return nil, nil, fmt.Errorf("messageService.SubscribeNew: %w", err)
	}
	return stream, cancel, nil
}

func (s *MessageService) GetFirstMessage(ctx context.Context, channelID string) (*model.Message, error) {
	m, err := s.store.GetFirstMessage(ctx, channelID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("messageService.GetFirstMessage: %w", err)
	}
	return m, nil
}

// ReactToMessage ставит реакцию userID (одна на пользователя, смена эмодзи заменяет старую).
// Повтор того же эмодзи ничего не меняет и не рассылается.
func (s *MessageService) ReactToMessage(ctx context.Context, channelID, messageID, userID, emoji string) (*model.Message, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > maxEmojiLen {
		return nil, ErrInvalidReaction
	}
	c, err := s.channels.MemberChannel(ctx, channelID, userID)
	if err != nil {
		return nil, err
	}
	// Тип сообщения не меняется после записи, поэтому проверка до SetReaction не гоняется с ней.
	target, err := s.store.GetMessage(ctx, channelID, messageID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("messageService.ReactToMessage: %w", err)
	}
	if target.IsAdmin() {
		return nil, fmt.Errorf("%w: service messages do not take reactions", ErrInvalidReaction)
	}
	m, changed, err := s.store.SetReaction(ctx, channelID, messageID, userID, emoji)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("messageService.ReactToMessage: %w", err)
	}
	if changed && s.notifier != nil {
		title, err := s.channels.sendTitle(ctx, c, userID)
		if err != nil {
			logger.Warnf("message: reaction title for %s: %v", channelID, err)
			title = model.UnknownDisplayName
		}
		s.notifier.Submit(fanout.ReactionEvent(m, userID, emoji, title))
	}
	return m, nil
}

// RemoveReaction снимает реакцию userID. Если реакции не было, ошибки нет.
func (s *MessageService) RemoveReaction(ctx context.Context, channelID, messageID, userID string) (*model.Message, error) {
	if _, err := s.channels.MemberChannel(ctx, channelID, userID); err != nil {
		return nil, err
	}
	m, _, err := s.store.RemoveReaction(ctx, channelID, messageID, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("messageService.RemoveReaction: %w", err)
	}
	return m, nil
}
