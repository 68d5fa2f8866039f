// Package realtime реализует канал /ws: присутствие, доставку сообщений
// и индикатор набора текста поверх WebSocket.
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/iudanet/gophchat/internal/apperr"
	"github.com/iudanet/gophchat/internal/server/delivery"
	"github.com/iudanet/gophchat/internal/server/httpjson"
	"github.com/iudanet/gophchat/internal/server/metrics"
	"github.com/iudanet/gophchat/internal/server/middleware"
	"github.com/iudanet/gophchat/internal/server/presence"
	"github.com/iudanet/gophchat/internal/server/token"
	"github.com/iudanet/gophchat/pkg/api"
)

var (
	errSessionExpired = apperr.New(apperr.Expired, "session expired")
	errReauthIdentity = apperr.New(apperr.Unauthenticated, "reauth token belongs to another user")
)

// Handler обслуживает GET /ws
type Handler struct {
	logger   *slog.Logger
	authn    *middleware.Authenticator
	registry *presence.Registry
	engine   *delivery.Engine
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// NewHandler создает handler и подписывает его на переходы присутствия
func NewHandler(
	logger *slog.Logger,
	authn *middleware.Authenticator,
	registry *presence.Registry,
	engine *delivery.Engine,
	allowedOrigins []string,
	m *metrics.Metrics,
) *Handler {
	h := &Handler{
		logger:   logger,
		authn:    authn,
		registry: registry,
		engine:   engine,
		metrics:  m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return middleware.OriginAllowed(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
	registry.Subscribe(h.broadcastPresence)
	return h
}

// handshakeToken берет access токен из Authorization или ?token=
// (браузер не может выставить заголовок на WebSocket)
func handshakeToken(r *http.Request) string {
	if tok := middleware.BearerToken(r); tok != "" {
		return tok
	}
	return r.URL.Query().Get("token")
}

// ServeHTTP аутентифицирует рукопожатие до апгрейда: неаутентифицированное
// соединение получает 401 и никогда не попадает в реестр
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	user, claims, err := h.authn.Authenticate(ctx, handshakeToken(r), token.KindAccess)
	if err != nil {
		h.logger.WarnContext(ctx, "websocket handshake rejected", slog.Any("error", err))
		httpjson.WriteError(w, h.logger, err)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже ответил клиенту
		h.logger.WarnContext(ctx, "websocket upgrade failed", slog.Any("error", err))
		return
	}

	conn := newConn(ws, user.ID, h.logger)
	if claims.ExpiresAt != nil {
		conn.expireAt(claims.ExpiresAt.Time, func() { h.expire(conn) })
	}

	go conn.writePump()

	err = h.registry.ConnectWithSnapshot(conn, func(online []string) {
		_ = conn.Send(api.EventPresenceSnapshot, api.PresenceSnapshotEvent{Online: online})
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to register connection", slog.Any("error", err))
		conn.Close()
		return
	}
	h.updateGauges()
	conn.logger.Info("websocket connected")

	// Контекст запроса отменяется после hijack, поэтому у соединения свой
	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		<-conn.Done()
		cancel()
	}()

	conn.readPump(func(env api.Envelope) {
		h.dispatch(connCtx, conn, env)
	})

	h.registry.Disconnect(conn.ID())
	h.updateGauges()
	conn.logger.Info("websocket disconnected")
}

func (h *Handler) dispatch(ctx context.Context, conn *Conn, env api.Envelope) {
	switch env.Type {
	case api.EventSendMessage:
		var ev api.SendMessageEvent
		if !h.decode(conn, env, &ev) {
			return
		}
		// результат приходит отправителю событиями new-message и message-status
		_, err := h.engine.Send(ctx, delivery.SendRequest{
			SenderID:    conn.UserID(),
			RecipientID: ev.RecipientID,
			Text:        ev.Text,
			Image:       ev.Image,
			ClientID:    ev.ClientID,
		})
		if err != nil {
			h.sendError(conn, err, ev.ClientID)
		}

	case api.EventTyping:
		var ev api.TypingEvent
		if !h.decode(conn, env, &ev) {
			return
		}
		h.engine.Typing(ctx, conn.UserID(), ev.RecipientID, ev.Active)

	case api.EventReauth:
		var ev api.ReauthEvent
		if !h.decode(conn, env, &ev) {
			return
		}
		h.reauth(ctx, conn, ev.Token)

	case api.EventPing:
		_ = conn.Send(api.EventPong, nil)

	default:
		_ = conn.Send(api.EventError, api.ErrorEvent{
			Code:    apperr.Code(apperr.InvalidArgument),
			Message: "unknown event type: " + env.Type,
		})
	}
}

// reauth продлевает жизнь соединения свежим access токеном той же идентичности
func (h *Handler) reauth(ctx context.Context, conn *Conn, raw string) {
	user, claims, err := h.authn.Authenticate(ctx, raw, token.KindAccess)
	if err != nil {
		h.sendError(conn, err, "")
		return
	}
	if user.ID != conn.UserID() {
		h.sendError(conn, errReauthIdentity, "")
		return
	}
	if claims.ExpiresAt != nil {
		conn.expireAt(claims.ExpiresAt.Time, func() { h.expire(conn) })
	}
	conn.logger.Debug("connection reauthenticated")
}

// expire закрывает соединение с истекшим токеном, предупредив клиента
func (h *Handler) expire(conn *Conn) {
	conn.logger.Info("access token expired, closing connection")
	h.metrics.AuthFailure(apperr.Expired.String())
	h.sendError(conn, errSessionExpired, "")
	conn.Close()
}

func (h *Handler) decode(conn *Conn, env api.Envelope, dst any) bool {
	if len(env.Payload) == 0 {
		h.sendError(conn, apperr.New(apperr.InvalidArgument, "payload is required"), "")
		return false
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		h.sendError(conn, apperr.New(apperr.InvalidArgument, "invalid payload"), "")
		return false
	}
	return true
}

func (h *Handler) sendError(conn *Conn, err error, clientID string) {
	_ = conn.Send(api.EventError, api.ErrorEvent{
		Code:     apperr.Code(apperr.KindOf(err)),
		Message:  apperr.MessageOf(err),
		ClientID: clientID,
	})
}

// broadcastPresence рассылает переход всем живым соединениям
func (h *Handler) broadcastPresence(t presence.Transition) {
	event := api.PresenceUpdateEvent{UserID: t.UserID, Online: t.Online}
	for _, conn := range h.registry.All() {
		_ = conn.Send(api.EventPresenceUpdate, event)
	}
}

func (h *Handler) updateGauges() {
	h.metrics.SetPresence(h.registry.Count())
}
