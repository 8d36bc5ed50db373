package chatsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/model"
	"github.com/golang-jwt/jwt/v5"
)

// IdentityClient синхронизирует пользователей с внешним chat-SDK по HTTP.
// Без baseURL все вызовы ничего не делают.
type IdentityClient struct {
	baseURL    string
	apiKey     string
	secret     []byte
	httpClient *http.Client
}

func NewIdentityClient(baseURL, apiKey, secret string) *IdentityClient {
	return &IdentityClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Identity — пользователь в терминах chat-SDK.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Image string `json:"image,omitempty"`
}

func (c *IdentityClient) Enabled() bool { return c != nil && c.baseURL != "" }

// UpsertIdentity создаёт или обновляет пользователя в chat-SDK.
func (c *IdentityClient) UpsertIdentity(ctx context.Context, u *model.User) error {
	if !c.Enabled() {
		return nil
	}
	defer logger.DeferLogDuration("chatsdk.UpsertIdentity", time.Now())()
	id := Identity{ID: u.ID, Name: u.DisplayName, Email: u.Email}
	if u.ProfileImageURL != nil {
		id.Image = *u.ProfileImageURL
	}
	body, err := json.Marshal(map[string]any{"users": map[string]Identity{u.ID: id}})
	if err != nil {
		return fmt.Errorf("chatsdk.UpsertIdentity: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/users", body)
}

// DeleteIdentity удаляет пользователя; 404 считается успехом.
func (c *IdentityClient) DeleteIdentity(ctx context.Context, userID string) error {
	if !c.Enabled() {
		return nil
	}
	defer logger.DeferLogDuration("chatsdk.DeleteIdentity", time.Now())()
	return c.do(ctx, http.MethodDelete, "/users/"+url.PathEscape(userID), nil)
}

// RevokeTokens сообщает chat-SDK, что токены пользователя, выпущенные до before, недействительны.
func (c *IdentityClient) RevokeTokens(ctx context.Context, userID string, before time.Time) error {
	if !c.Enabled() {
		return nil
	}
	defer logger.DeferLogDuration("chatsdk.RevokeTokens", time.Now())()
	body, err := json.Marshal(map[string]any{"users": []partialUpdate{{
		ID:  userID,
		Set: map[string]any{"revoke_tokens_issued_before": before.UTC().Format(time.RFC3339Nano)},
	}}})
	if err != nil {
		return fmt.Errorf("chatsdk.RevokeTokens: %w", err)
	}
	return c.do(ctx, http.MethodPatch, "/users", body)
}

type partialUpdate struct {
	ID  string         `json:"id"`
	Set map[string]any `json:"set"`
}

func (c *IdentityClient) do(ctx context.Context, method, path string, body []byte) error {
	u := c.baseURL + path
	if c.apiKey != "" {
		u += "?api_key=" + url.QueryEscape(c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("chatsdk %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	auth, err := c.serverToken()
	if err != nil {
		return fmt.Errorf("chatsdk %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Stream-Auth-Type", "jwt")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chatsdk %s %s: %w", method, path, err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound && method == http.MethodDelete {
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("chatsdk %s %s: status %d", method, path, resp.StatusCode)
	}
	return nil
}

// serverToken выпускает серверный JWT без user_id, подписанный тем же секретом.
func (c *IdentityClient) serverToken() (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"server": true}).SignedString(c.secret)
}
