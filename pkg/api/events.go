package api

import (
	"encoding/json"

	"github.com/iudanet/gophchat/internal/models"
)

// Типы событий real-time канала
const (
	// сервер -> клиент
	EventPresenceSnapshot = "presence-snapshot"
	EventPresenceUpdate   = "presence-update"
	EventNewMessage       = "new-message"
	EventMessageStatus    = "message-status"
	EventMessageDeleted   = "message-deleted"
	EventMessageReaction  = "message-reaction"
	EventTyping           = "typing"
	EventError            = "error"
	EventPong             = "pong"

	// клиент -> сервер
	EventSendMessage = "send-message"
	EventReauth      = "reauth"
	EventPing        = "ping"
)

// Envelope - кадр real-time канала
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PresenceSnapshotEvent - список онлайн пользователей на момент подключения
type PresenceSnapshotEvent struct {
	Online []string `json:"online"`
}

// PresenceUpdateEvent - переход пользователя онлайн/оффлайн
type PresenceUpdateEvent struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// NewMessageEvent - новое сохраненное сообщение
type NewMessageEvent struct {
	Message *models.Message `json:"message"`
}

// MessageStatusEvent - статус доставки для отправителя
type MessageStatusEvent struct {
	MessageID string               `json:"messageId"`
	ClientID  string               `json:"clientId,omitempty"`
	Status    models.MessageStatus `json:"status"`
}

// MessageDeletedEvent - сообщение удалено отправителем
type MessageDeletedEvent struct {
	MessageID  string `json:"messageId"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// MessageReactionEvent - реакции сообщения изменились
type MessageReactionEvent struct {
	Message *models.Message `json:"message"`
}

// TypingEvent - индикатор набора текста
type TypingEvent struct {
	UserID      string `json:"userId,omitempty"`      // заполняет сервер
	RecipientID string `json:"recipientId,omitempty"` // заполняет клиент
	Active      bool   `json:"active"`
}

// ErrorEvent - ошибка обработки клиентского события
type ErrorEvent struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	ClientID string `json:"clientId,omitempty"`
}

// SendMessageEvent - отправка сообщения через real-time канал
type SendMessageEvent struct {
	RecipientID string `json:"recipientId"`
	Text        string `json:"text,omitempty"`
	Image       string `json:"image,omitempty"`
	ClientID    string `json:"clientId,omitempty"`
}

// ReauthEvent продлевает жизнь соединения свежим access token
type ReauthEvent struct {
	Token string `json:"token"`
}

// NewEnvelope кодирует payload в кадр
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	env := Envelope{Type: eventType}
	if payload == nil {
		return env, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Payload = raw
	return env, nil
}
