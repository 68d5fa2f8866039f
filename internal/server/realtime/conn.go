package realtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/iudanet/gophchat/pkg/api"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 20 // изображение до 10MB в base64
	sendBufferSize = 256
)

var (
	// ErrConnClosed - соединение уже закрыто
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull - клиент не успевает читать, соединение закрывается
	ErrSendBufferFull = errors.New("send buffer full")
)

// Conn - одно WebSocket соединение пользователя
type Conn struct {
	ws        *websocket.Conn
	logger    *slog.Logger
	send      chan []byte
	done      chan struct{}
	expiry    *time.Timer
	id        string
	userID    string
	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, userID string, logger *slog.Logger) *Conn {
	id := uuid.NewString()
	return &Conn{
		ws:     ws,
		id:     id,
		userID: userID,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger.With(slog.String("conn_id", id), slog.String("user_id", userID)),
	}
}

// ID уникален в пределах процесса
func (c *Conn) ID() string {
	return c.id
}

// UserID - владелец соединения
func (c *Conn) UserID() string {
	return c.userID
}

// Send ставит событие в очередь записи и не блокируется.
// Переполненная очередь закрывает соединение.
func (c *Conn) Send(eventType string, payload any) error {
	env, err := api.NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.logger.Warn("send buffer full, closing connection")
		go c.Close()
		return ErrSendBufferFull
	}
}

// Close закрывает соединение. Повторные вызовы ничего не делают.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		if c.expiry != nil {
			c.expiry.Stop()
		}
		c.mu.Unlock()
		close(c.done)
	})
}

// Done закрывается вместе с соединением
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// expireAt закрывает соединение в момент истечения access токена.
// Повторный вызов переносит срок (reauth).
func (c *Conn) expireAt(at time.Time, onExpire func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.expiry != nil {
		c.expiry.Stop()
	}
	c.expiry = time.AfterFunc(time.Until(at), onExpire)
}

// readPump читает кадры клиента и передает их handle
func (c *Conn) readPump(handle func(api.Envelope)) {
	defer c.Close()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", slog.Any("error", err))
			}
			return
		}

		var env api.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			_ = c.Send(api.EventError, api.ErrorEvent{Code: "invalid_argument", Message: "invalid frame"})
			continue
		}
		handle(env)
	}
}

// writePump отправляет очередь в сокет и пингует клиента.
// Единственный писатель в ws.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("WebSocket write error", slog.Any("error", err))
				c.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// flush дописывает то, что успело попасть в очередь до закрытия
// (например, событие error с причиной закрытия)
func (c *Conn) flush() {
	for {
		select {
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}
