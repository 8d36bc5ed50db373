package push

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/model"
)

// WebPushSender шифрует payload для подписки браузера и отправляет через VAPID.
type WebPushSender struct {
	opts *webpush.Options
}

// NewWebPushSender возвращает nil без пары VAPID-ключей.
func NewWebPushSender(publicKey, privateKey, subject string) *WebPushSender {
	if publicKey == "" || privateKey == "" {
		return nil
	}
	return &WebPushSender{opts: &webpush.Options{
		Subscriber:      subject,
		VAPIDPublicKey:  publicKey,
		VAPIDPrivateKey: privateKey,
		TTL:             30,
	}}
}

func (s *WebPushSender) Send(ctx context.Context, token model.DeviceToken, payload model.PushPayload) error {
	defer logger.DeferLogDuration("push.webpush.Send", time.Now())()
	sub, err := token.WebPush()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	}
	payload.Token = sub.Endpoint
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrTokenDelivery, err)
	}
	wpSub := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.Keys.P256dh, Auth: sub.Keys.Auth},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, body, wpSub, s.opts)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenDelivery, err)
	}
	resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: webpush status %d", ErrTokenExpired, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: webpush status %d", ErrTokenDelivery, resp.StatusCode)
	}
	return nil
}
