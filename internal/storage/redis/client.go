package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/model"
	"github.com/fanout/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	tokensPrefix     = "push:tokens:"
	unreadPrefix     = "unread:"
	revokedPrefix    = "chatsdk:revoked:"
	messagesPrefix   = "messages:"
	revocationTTL    = 30 * 24 * time.Hour
	subscribeBufSize = 64
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

// NewFromClient оборачивает готовый клиент (тесты, общий пул).
func NewFromClient(cli *redis.Client) *Client {
	return &Client{cli: cli}
}

func (c *Client) Close() error {
	return c.cli.Close()
}

// AddToken делает SADD, повторная регистрация того же токена ничего не меняет.
func (c *Client) AddToken(ctx context.Context, userID string, t model.DeviceToken) error {
	defer logger.DeferLogDuration("redis.AddToken", time.Now())()
	if err := c.cli.SAdd(ctx, tokensPrefix+userID, t.Encode()).Err(); err != nil {
		return fmt.Errorf("redis.AddToken: %w", err)
	}
	return nil
}

func (c *Client) RemoveToken(ctx context.Context, userID string, t model.DeviceToken) error {
	defer logger.DeferLogDuration("redis.RemoveToken", time.Now())()
	if err := c.cli.SRem(ctx, tokensPrefix+userID, t.Encode()).Err(); err != nil {
		return fmt.Errorf("redis.RemoveToken: %w", err)
	}
	return nil
}

func (c *Client) RemoveAllTokens(ctx context.Context, userID string) error {
	defer logger.DeferLogDuration("redis.RemoveAllTokens", time.Now())()
	if err := c.cli.Del(ctx, tokensPrefix+userID).Err(); err != nil {
		return fmt.Errorf("redis.RemoveAllTokens: %w", err)
	}
	return nil
}

func (c *Client) ListTokens(ctx context.Context, userID string) ([]model.DeviceToken, error) {
	defer logger.DeferLogDuration("redis.ListTokens", time.Now())()
	raw, err := c.cli.SMembers(ctx, tokensPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.ListTokens: %w", err)
	}
	out := make([]model.DeviceToken, 0, len(raw))
	for _, s := range raw {
		out = append(out, model.DecodeDeviceToken(s))
	}
	return out, nil
}

// IncrUnread выполняет оптимистическую транзакцию WATCH/MULTI над hash unread:{user}.
// Проигрыш гонки возвращается как storage.ErrConflict; повтор делает вызывающий.
func (c *Client) IncrUnread(ctx context.Context, userID, channelID string) (int, error) {
	defer logger.DeferLogDuration("redis.IncrUnread", time.Now())()
	key := unreadPrefix + userID
	var next int
	err := c.cli.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, channelID).Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		next = cur + 1
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, channelID, next)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return 0, fmt.Errorf("redis.IncrUnread: %w", storage.ErrConflict)
	}
	if err != nil {
		return 0, fmt.Errorf("redis.IncrUnread: %w", err)
	}
	return next, nil
}

func (c *Client) ResetUnread(ctx context.Context, userID, channelID string) error {
	defer logger.DeferLogDuration("redis.ResetUnread", time.Now())()
	if err := c.cli.HDel(ctx, unreadPrefix+userID, channelID).Err(); err != nil {
		return fmt.Errorf("redis.ResetUnread: %w", err)
	}
	return nil
}

func (c *Client) GetUnread(ctx context.Context, userID, channelID string) (int, error) {
	n, err := c.cli.HGet(ctx, unreadPrefix+userID, channelID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis.GetUnread: %w", err)
	}
	return n, nil
}

func (c *Client) ListUnread(ctx context.Context, userID string) (map[string]int, error) {
	raw, err := c.cli.HGetAll(ctx, unreadPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("redis.ListUnread: %w", err)
	}
	out := make(map[string]int, len(raw))
	for ch, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			logger.Warnf("redis.ListUnread: битое значение %s/%s: %q", userID, ch, v)
			continue
		}
		out[ch] = n
	}
	return out, nil
}

func (c *Client) SetRevokedAt(ctx context.Context, userID string, at time.Time) error {
	if err := c.cli.Set(ctx, revokedPrefix+userID, at.UnixNano(), revocationTTL).Err(); err != nil {
		return fmt.Errorf("redis.SetRevokedAt: %w", err)
	}
	return nil
}

func (c *Client) RevokedAt(ctx context.Context, userID string) (time.Time, error) {
	n, err := c.cli.Get(ctx, revokedPrefix+userID).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("redis.RevokedAt: %w", err)
	}
	return time.Unix(0, n).UTC(), nil
}

// Publish рассылает сообщение через Pub/Sub messages:{channel} всем экземплярам API.
func (c *Client) Publish(ctx context.Context, m *model.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("redis.Publish marshal: %w", err)
	}
	if err := c.cli.Publish(ctx, messagesPrefix+m.ChannelID, data).Err(); err != nil {
		return fmt.Errorf("redis.Publish: %w", err)
	}
	return nil
}

// Subscribe возвращается после подтверждения подписки сервером, поэтому сообщения,
// опубликованные после возврата, не теряются. Медленный читатель отключается.
func (c *Client) Subscribe(ctx context.Context, channelID string) (<-chan model.Message, func(), error) {
	ps := c.cli.Subscribe(ctx, messagesPrefix+channelID)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("redis.Subscribe: %w", err)
	}
	out := make(chan model.Message, subscribeBufSize)
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		defer ps.Close()
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case raw, ok := <-in:
				if !ok {
					return
				}
				var m model.Message
				if err := json.Unmarshal([]byte(raw.Payload), &m); err != nil {
					logger.Errorf("redis.Subscribe: битое сообщение в %s: %v", raw.Channel, err)
					continue
				}
				select {
				case out <- m:
				default:
					logger.Warnf("redis.Subscribe: подписчик канала %s не успевает, подписка закрыта", channelID)
					return
				}
			}
		}
	}()
	var once sync.Once
	cancel := func() {
		once.Do(func() { close(stop) })
		<-done
	}
	return out, cancel, nil
}
