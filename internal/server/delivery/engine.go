// Package delivery сохраняет сообщения и раздает их живым соединениям
// отправителя и получателя.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/iudanet/gophchat/internal/apperr"
	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/internal/server/media"
	"github.com/iudanet/gophchat/internal/server/metrics"
	"github.com/iudanet/gophchat/internal/server/presence"
	"github.com/iudanet/gophchat/internal/server/storage"
	"github.com/iudanet/gophchat/pkg/api"
)

const (
	// MaxTextRunes - максимальная длина текста сообщения
	MaxTextRunes = 5000
	// MaxEmojiBytes - максимальная длина реакции (составные эмодзи длинные)
	MaxEmojiBytes = 32
)

var (
	ErrEmptyMessage      = apperr.New(apperr.InvalidArgument, "text or image is required")
	ErrTextTooLong       = apperr.New(apperr.InvalidArgument, "text exceeds 5000 characters")
	ErrSelfMessage       = apperr.New(apperr.InvalidArgument, "cannot send a message to yourself")
	ErrInvalidEmoji      = apperr.New(apperr.InvalidArgument, "emoji must be 1 to 32 bytes")
	ErrRecipientNotFound = apperr.New(apperr.NotFound, "recipient not found")
	ErrUserNotFound      = apperr.New(apperr.NotFound, "user not found")
	ErrMessageNotFound   = apperr.New(apperr.NotFound, "message not found")
	ErrReactionNotFound  = apperr.New(apperr.NotFound, "reaction not found")
	ErrForbidden         = apperr.New(apperr.Forbidden, "only the sender can delete a message")
	ErrNotParticipant    = apperr.New(apperr.Forbidden, "not a participant of this conversation")
	ErrPersistence       = apperr.New(apperr.Persistence, "failed to persist message")
)

// Connections находит живые соединения пользователя
type Connections interface {
	Connections(userID string) []presence.Conn
}

// Users - нужная движку часть хранилища пользователей
type Users interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
}

// SendRequest - запрос на отправку сообщения
type SendRequest struct {
	SenderID    string
	RecipientID string
	Text        string
	Image       string // data URL или http(s) ссылка
	ClientID    string // correlation id оптимистичной записи на клиенте
}

// SendResult - сохраненное сообщение и его статус доставки
type SendResult struct {
	Message  *models.Message
	Status   models.MessageStatus
	ClientID string
}

// Option настраивает Engine
type Option func(*Engine)

// WithClock подменяет источник времени
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics включает метрики
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine - движок доставки сообщений
type Engine struct {
	users    Users
	messages storage.MessageStorage
	conns    Connections
	uploader media.Uploader
	logger   *slog.Logger
	metrics  *metrics.Metrics
	locks    *pairLocks
	now      func() time.Time
}

// NewEngine создает движок доставки
func NewEngine(logger *slog.Logger, users Users, messages storage.MessageStorage, conns Connections, uploader media.Uploader, opts ...Option) *Engine {
	e := &Engine{
		users:    users,
		messages: messages,
		conns:    conns,
		uploader: uploader,
		logger:   logger,
		locks:    newPairLocks(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Send сохраняет сообщение и раздает его. Ответ получает только
// отправитель; ошибки сохранения не приводят к рассылке.
func (e *Engine) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if err := validateSend(req); err != nil {
		e.metrics.MessageOutcome("rejected")
		return nil, err
	}

	if err := e.ensureUser(ctx, req.RecipientID, ErrRecipientNotFound); err != nil {
		e.metrics.MessageOutcome("rejected")
		return nil, err
	}

	imageURL, err := media.Ingest(ctx, e.uploader, req.Image)
	if err != nil {
		e.logger.WarnContext(ctx, "image rejected", slog.String("sender_id", req.SenderID), slog.Any("error", err))
		e.metrics.MessageOutcome("rejected")
		return nil, err
	}

	msg := &models.Message{
		ID:         uuid.NewString(),
		SenderID:   req.SenderID,
		ReceiverID: req.RecipientID,
		Text:       req.Text,
		Image:      imageURL,
		ClientID:   req.ClientID,
		CreatedAt:  e.now().UTC(),
		Reactions:  []models.Reaction{},
	}

	// Сохранение и постановка в очереди под одной блокировкой пары:
	// получатель видит сообщения в порядке сохранения
	unlock := e.locks.lock(req.SenderID, req.RecipientID)
	defer unlock()

	if err := e.messages.CreateMessage(ctx, msg); err != nil {
		e.metrics.MessageOutcome("failed")
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrRecipientNotFound
		}
		e.logger.ErrorContext(ctx, "failed to persist message", slog.String("sender_id", req.SenderID), slog.Any("error", err))
		return nil, apperr.Wrap(apperr.Persistence, ErrPersistence.Message(), err)
	}

	status := models.StatusSent
	if e.push(ctx, req.RecipientID, api.EventNewMessage, api.NewMessageEvent{Message: msg}) > 0 {
		status = models.StatusDelivered
	}

	// Эхо во все вкладки отправителя, затем статус
	e.push(ctx, req.SenderID, api.EventNewMessage, api.NewMessageEvent{Message: msg})
	e.push(ctx, req.SenderID, api.EventMessageStatus, api.MessageStatusEvent{
		MessageID: msg.ID,
		ClientID:  req.ClientID,
		Status:    status,
	})

	e.metrics.MessageOutcome(string(status))
	e.logger.DebugContext(ctx, "message sent",
		slog.String("message_id", msg.ID),
		slog.String("status", string(status)))

	return &SendResult{Message: msg, Status: status, ClientID: req.ClientID}, nil
}

// Delete удаляет сообщение. Удалить может только отправитель.
func (e *Engine) Delete(ctx context.Context, messageID, requesterID string) error {
	msg, err := e.getMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != requesterID {
		return ErrForbidden
	}

	unlock := e.locks.lock(msg.SenderID, msg.ReceiverID)
	defer unlock()

	if err := e.messages.DeleteMessage(ctx, messageID); err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			return ErrMessageNotFound
		}
		return apperr.Wrap(apperr.Persistence, "failed to delete message", err)
	}

	event := api.MessageDeletedEvent{
		MessageID:  msg.ID,
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
	}
	e.push(ctx, msg.ReceiverID, api.EventMessageDeleted, event)
	e.push(ctx, msg.SenderID, api.EventMessageDeleted, event)

	return nil
}

// AddReaction добавляет реакцию участника переписки
func (e *Engine) AddReaction(ctx context.Context, messageID, userID, emoji string) (*models.Message, error) {
	return e.react(ctx, messageID, userID, emoji, func() error {
		return e.messages.AddReaction(ctx, messageID, models.Reaction{
			UserID:    userID,
			Emoji:     emoji,
			CreatedAt: e.now().UTC(),
		})
	})
}

// RemoveReaction снимает реакцию участника переписки
func (e *Engine) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (*models.Message, error) {
	return e.react(ctx, messageID, userID, emoji, func() error {
		return e.messages.RemoveReaction(ctx, messageID, userID, emoji)
	})
}

func (e *Engine) react(ctx context.Context, messageID, userID, emoji string, apply func() error) (*models.Message, error) {
	if emoji == "" || len(emoji) > MaxEmojiBytes || !utf8.ValidString(emoji) {
		return nil, ErrInvalidEmoji
	}

	msg, err := e.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if !msg.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}

	unlock := e.locks.lock(msg.SenderID, msg.ReceiverID)
	defer unlock()

	if err := apply(); err != nil {
		switch {
		case errors.Is(err, storage.ErrMessageNotFound):
			return nil, ErrMessageNotFound
		case errors.Is(err, storage.ErrReactionNotFound):
			return nil, ErrReactionNotFound
		}
		return nil, apperr.Wrap(apperr.Persistence, "failed to update reaction", err)
	}

	updated, err := e.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}

	event := api.MessageReactionEvent{Message: updated}
	e.push(ctx, updated.ReceiverID, api.EventMessageReaction, event)
	e.push(ctx, updated.SenderID, api.EventMessageReaction, event)

	return updated, nil
}

// History возвращает переписку userID с peerID в порядке сохранения
func (e *Engine) History(ctx context.Context, userID, peerID string, q storage.HistoryQuery) ([]*models.Message, error) {
	if err := e.ensureUser(ctx, peerID, ErrUserNotFound); err != nil {
		return nil, err
	}

	msgs, err := e.messages.ListConversation(ctx, userID, peerID, q)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, apperr.Wrap(apperr.Persistence, "failed to load history", err)
	}
	return msgs, nil
}

// Typing пересылает индикатор набора текста получателю, без сохранения
func (e *Engine) Typing(ctx context.Context, senderID, recipientID string, active bool) {
	if recipientID == "" || recipientID == senderID {
		return
	}
	e.push(ctx, recipientID, api.EventTyping, api.TypingEvent{UserID: senderID, Active: active})
}

// push ставит событие в очереди всех соединений пользователя и
// возвращает число соединений, принявших событие
func (e *Engine) push(ctx context.Context, userID, eventType string, payload any) int {
	accepted := 0
	for _, conn := range e.conns.Connections(userID) {
		if err := conn.Send(eventType, payload); err != nil {
			e.logger.DebugContext(ctx, "connection rejected event",
				slog.String("conn_id", conn.ID()),
				slog.String("event", eventType),
				slog.Any("error", err))
			continue
		}
		accepted++
	}
	return accepted
}

func (e *Engine) ensureUser(ctx context.Context, userID string, notFound error) error {
	if _, err := e.users.GetUserByID(ctx, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return notFound
		}
		return apperr.Wrap(apperr.Persistence, "failed to load user", err)
	}
	return nil
}

func (e *Engine) getMessage(ctx context.Context, messageID string) (*models.Message, error) {
	msg, err := e.messages.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, apperr.Wrap(apperr.Persistence, "failed to load message", err)
	}
	return msg, nil
}

func validateSend(req SendRequest) error {
	if req.SenderID == "" {
		return apperr.New(apperr.Unauthenticated, "sender identity is required")
	}
	if req.RecipientID == "" {
		return ErrRecipientNotFound
	}
	if req.SenderID == req.RecipientID {
		return ErrSelfMessage
	}
	if strings.TrimSpace(req.Text) == "" && req.Image == "" {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(req.Text) > MaxTextRunes {
		return ErrTextTooLong
	}
	return nil
}
