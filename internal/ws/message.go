package ws

type EventType string

const (
	EventNewMessage  EventType = "new_message"
	EventChannelRead EventType = "channel_read"
	EventError       EventType = "error"
)

// IncomingMessage — то, что присылает клиент подписки.
type IncomingMessage struct {
	Type EventType `json:"type"`
}

// OutgoingMessage is what the server sends to the client.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}
