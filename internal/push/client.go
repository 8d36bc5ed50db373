package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/fanout/internal/model"
)

// Client — Sender, который отдаёт доставку микросервису services/push.
type Client struct {
	baseURL    string
	secret     string
	httpClient *http.Client
}

// NewClient создаёт клиент. secret уходит в X-Internal-Secret.
func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		secret:  secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// DeliverRequest — тело POST /internal/deliver.
type DeliverRequest struct {
	Token   model.DeviceToken `json:"token"`
	Payload model.PushPayload `json:"payload"`
}

// Send переводит ответ сервиса в ошибки push: 204 ок, 410 ErrTokenExpired, иначе ErrTokenDelivery.
func (c *Client) Send(ctx context.Context, token model.DeviceToken, payload model.PushPayload) error {
	body, err := json.Marshal(DeliverRequest{Token: token, Payload: payload})
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrTokenDelivery, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/deliver", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set("X-Internal-Secret", c.secret)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenDelivery, err)
	}
	resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusGone:
		return fmt.Errorf("%w: push service", ErrTokenExpired)
	default:
		return fmt.Errorf("%w: push service status %d", ErrTokenDelivery, resp.StatusCode)
	}
}
