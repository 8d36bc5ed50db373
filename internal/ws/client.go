package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fanout/internal/logger"
	"github.com/fanout/internal/model"
	"github.com/gorilla/websocket"
)

// Limits — таймауты и размеры соединения (из конфига WS_*).
type Limits struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	MaxMessageSize int64
}

func (l Limits) withDefaults() Limits {
	if l.WriteWait <= 0 {
		l.WriteWait = 10 * time.Second
	}
	if l.PongWait <= 0 {
		l.PongWait = 60 * time.Second
	}
	if l.MaxMessageSize <= 0 {
		l.MaxMessageSize = 4096
	}
	return l
}

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client — одна WebSocket-подписка на новые сообщения канала.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	conn      *websocket.Conn
	stream    <-chan model.Message
	userID    string
	channelID string
	limits    Limits
	// onRead вызывается, когда клиент сообщает о прочтении канала.
	onRead func(ctx context.Context)

	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(conn *websocket.Conn, stream <-chan model.Message, userID, channelID string, limits Limits, onRead func(ctx context.Context)) *Client {
	return &Client{
		conn:      conn,
		stream:    stream,
		userID:    userID,
		channelID: channelID,
		limits:    limits.withDefaults(),
		onRead:    onRead,
	}
}

// Start launches readPump and writePump goroutines with controlled lifecycle.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.conn.Close()
	})
}

// readPump держит соединение живым (pong) и принимает служебные события клиента.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer c.Close()

	c.conn.SetReadLimit(c.limits.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.limits.PongWait)); err != nil {
		logger.Errorf("ws set read deadline user=%s: %v", c.userID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.limits.PongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error user=%s: %v", c.userID, err)
			}
			return
		}
		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Debugf("ws unmarshal error user=%s: %v", c.userID, err)
			continue
		}
		if msg.Type == EventChannelRead && c.onRead != nil {
			c.onRead(ctx)
		}
	}
}

// writePump пишет новые сообщения канала и ping. Закрытие потока означает, что брокер
// отключил подписку (медленный клиент или остановка сервера).
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	pingPeriod := (c.limits.PongWait * 9) / 10
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.writeClose(websocket.CloseNormalClosure, "")
			return
		case m, ok := <-c.stream:
			if !ok {
				c.writeClose(websocket.CloseTryAgainLater, "subscription closed")
				return
			}
			if err := c.write(OutgoingMessage{Type: EventNewMessage, Payload: m}); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.limits.WriteWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(msg OutgoingMessage) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.limits.WriteWait)); err != nil {
		logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
		return err
	}
	buf := bufPool.Get().(*bytes.Buffer)
	defer bufPool.Put(buf)
	buf.Reset()
	if err := json.NewEncoder(buf).Encode(msg); err != nil {
		logger.Errorf("ws marshal error user=%s: %v", c.userID, err)
		return nil
	}
	// json.Encoder appends '\n'; trim it for WebSocket text messages.
	data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) writeClose(code int, text string) {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.limits.WriteWait))
	if err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, text)); err != nil {
		logger.Debugf("ws close message user=%s channel=%s: %v", c.userID, c.channelID, err)
	}
}
