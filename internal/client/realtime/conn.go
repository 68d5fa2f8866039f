// Package realtime - клиент real-time канала чата поверх WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	clientapi "github.com/iudanet/gophchat/internal/client/api"
	"github.com/iudanet/gophchat/pkg/api"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 16 << 20
)

// Handler обрабатывает входящие события
type Handler func(api.Envelope)

// Conn - соединение с сервером
type Conn struct {
	ws        *websocket.Conn
	closeOnce sync.Once
	writeMu   sync.Mutex
}

// URL строит адрес /ws из адреса HTTP API
func URL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// Dial открывает канал, предъявляя access токен в заголовке Authorization.
// Отказ в аутентификации возвращается как *api.StatusError с кодом 401.
func Dial(ctx context.Context, baseURL, token string) (*Conn, error) {
	wsURL, err := URL(baseURL)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	ws, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, handshakeError(resp)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	ws.SetReadLimit(maxMessageSize)

	return &Conn{ws: ws}, nil
}

func handshakeError(resp *http.Response) error {
	statusErr := &clientapi.StatusError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var errResp api.ErrorResponse
	if json.Unmarshal(body, &errResp) == nil {
		statusErr.Code = errResp.Code
		statusErr.Message = errResp.Message
	}
	return statusErr
}

// Send отправляет событие
func (c *Conn) Send(eventType string, payload any) error {
	env, err := api.NewEnvelope(eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", eventType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(env); err != nil {
		return fmt.Errorf("failed to send %s: %w", eventType, err)
	}
	return nil
}

// SendMessage отправляет сообщение через канал
func (c *Conn) SendMessage(msg api.SendMessageEvent) error {
	return c.Send(api.EventSendMessage, msg)
}

// Typing сообщает собеседнику о наборе текста
func (c *Conn) Typing(recipientID string, active bool) error {
	return c.Send(api.EventTyping, api.TypingEvent{RecipientID: recipientID, Active: active})
}

// Reauth продлевает жизнь соединения свежим access токеном
func (c *Conn) Reauth(token string) error {
	return c.Send(api.EventReauth, api.ReauthEvent{Token: token})
}

// Run читает события до закрытия соединения или отмены ctx.
// Закрытие по инициативе клиента или сервера (normal closure) - не ошибка.
func (c *Conn) Run(ctx context.Context, handle Handler) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		}

		var env api.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		handle(env)
	}
}

// Close закрывает соединение с close frame
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// Decode разбирает payload события
func Decode[T any](env api.Envelope) (T, error) {
	var v T
	if len(env.Payload) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		return v, fmt.Errorf("invalid %s payload: %w", env.Type, err)
	}
	return v, nil
}
