package model

// PushPayload — формат доставки, совместимый с FCM:
// { notification: { title, body }, apns: { payload: { aps: { sound, badge } } }, token }.
type PushPayload struct {
	Notification PushNotification `json:"notification"`
	APNS         APNSConfig       `json:"apns"`
	Token        string           `json:"token"`
}

type PushNotification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type APNSConfig struct {
	Payload APNSPayload `json:"payload"`
}

type APNSPayload struct {
	Aps Aps `json:"aps"`
}

type Aps struct {
	Sound string `json:"sound"`
	Badge int    `json:"badge"`
}

// NewPushPayload собирает payload для одного токена.
func NewPushPayload(title, body, token string, badge int) PushPayload {
	return PushPayload{
		Notification: PushNotification{Title: title, Body: body},
		APNS:         APNSConfig{Payload: APNSPayload{Aps: Aps{Sound: "default", Badge: badge}}},
		Token:        token,
	}
}
