package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/model"
)

// FCMSender отправляет payload в HTTP API FCM: POST {"message": payload}, Bearer-ключ.
type FCMSender struct {
	endpoint   string
	key        string
	httpClient *http.Client
}

// NewFCMSender возвращает nil, если endpoint или ключ не заданы (FCM отключён).
func NewFCMSender(endpoint, key string) *FCMSender {
	if endpoint == "" || key == "" {
		return nil
	}
	return &FCMSender{
		endpoint:   endpoint,
		key:        key,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type fcmRequest struct {
	Message model.PushPayload `json:"message"`
}

type fcmError struct {
	Error struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Details []struct {
			ErrorCode string `json:"errorCode"`
		} `json:"details"`
	} `json:"error"`
}

func (s *FCMSender) Send(ctx context.Context, token model.DeviceToken, payload model.PushPayload) error {
	defer logger.DeferLogDuration("push.fcm.Send", time.Now())()
	payload.Token = token.Value
	body, err := json.Marshal(fcmRequest{Message: payload})
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrTokenDelivery, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.key)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenDelivery, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if isUnregistered(resp.StatusCode, raw) {
		return fmt.Errorf("%w: fcm status %d", ErrTokenExpired, resp.StatusCode)
	}
	return fmt.Errorf("%w: fcm status %d", ErrTokenDelivery, resp.StatusCode)
}

// FCM отвечает 404 NOT_FOUND / UNREGISTERED для удалённых с устройства токенов.
func isUnregistered(status int, body []byte) bool {
	if status == http.StatusNotFound || status == http.StatusGone {
		return true
	}
	var e fcmError
	if json.Unmarshal(body, &e) != nil {
		return false
	}
	for _, d := range e.Error.Details {
		if strings.EqualFold(d.ErrorCode, "UNREGISTERED") {
			return true
		}
	}
	return strings.EqualFold(e.Error.Status, "UNREGISTERED")
}
