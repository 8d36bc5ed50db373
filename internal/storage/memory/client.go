package memory

import (
	"context"
	"sync"
	"time"

	"github.com/fanout/internal/model"
)

// Client — storage.KV в памяти процесса (для -dev без Redis и для тестов).
type Client struct {
	mu      sync.RWMutex
	tokens  map[string]map[string]struct{}
	unread  map[string]map[string]int
	revoked map[string]time.Time
}

func New() *Client {
	return &Client{
		tokens:  make(map[string]map[string]struct{}),
		unread:  make(map[string]map[string]int),
		revoked: make(map[string]time.Time),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) AddToken(ctx context.Context, userID string, t model.DeviceToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.tokens[userID]
	if !ok {
		set = make(map[string]struct{})
		c.tokens[userID] = set
	}
	set[t.Encode()] = struct{}{}
	return nil
}

func (c *Client) RemoveToken(ctx context.Context, userID string, t model.DeviceToken) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.tokens[userID]; ok {
		delete(set, t.Encode())
		if len(set) == 0 {
			delete(c.tokens, userID)
		}
	}
	return nil
}

func (c *Client) RemoveAllTokens(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, userID)
	return nil
}

func (c *Client) ListTokens(ctx context.Context, userID string) ([]model.DeviceToken, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	set := c.tokens[userID]
	out := make([]model.DeviceToken, 0, len(set))
	for raw := range set {
		out = append(out, model.DecodeDeviceToken(raw))
	}
	return out, nil
}

func (c *Client) IncrUnread(ctx context.Context, userID, channelID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.unread[userID]
	if !ok {
		m = make(map[string]int)
		c.unread[userID] = m
	}
	m[channelID]++
	return m[channelID], nil
}

func (c *Client) ResetUnread(ctx context.Context, userID, channelID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.unread[userID]; ok {
		delete(m, channelID)
	}
	return nil
}

func (c *Client) GetUnread(ctx context.Context, userID, channelID string) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unread[userID][channelID], nil
}

func (c *Client) ListUnread(ctx context.Context, userID string) (map[string]int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int, len(c.unread[userID]))
	for ch, n := range c.unread[userID] {
		out[ch] = n
	}
	return out, nil
}

func (c *Client) SetRevokedAt(ctx context.Context, userID string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.revoked[userID] = at
	return nil
}

func (c *Client) RevokedAt(ctx context.Context, userID string) (time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.revoked[userID], nil
}
