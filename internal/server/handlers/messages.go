package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/iudanet/gophchat/internal/apperr"
	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/internal/server/delivery"
	"github.com/iudanet/gophchat/internal/server/httpjson"
	"github.com/iudanet/gophchat/internal/server/middleware"
	"github.com/iudanet/gophchat/internal/server/storage"
	"github.com/iudanet/gophchat/internal/validation"
	"github.com/iudanet/gophchat/pkg/api"
)

// Размер страницы истории
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

var ErrInvalidLimit = apperr.New(apperr.InvalidArgument, "limit must be a positive integer")

// MessageHandler обрабатывает REST запросы переписки
type MessageHandler struct {
	logger *slog.Logger
	users  storage.UserStorage
	engine *delivery.Engine
}

// NewMessageHandler создает handler сообщений
func NewMessageHandler(logger *slog.Logger, users storage.UserStorage, engine *delivery.Engine) *MessageHandler {
	return &MessageHandler{logger: logger, users: users, engine: engine}
}

// Contacts обрабатывает GET /api/messages/contacts: все пользователи, кроме текущего
func (h *MessageHandler) Contacts(w http.ResponseWriter, r *http.Request) {
	h.listUsers(w, r, h.users.ListUsersExcept)
}

// Chats обрабатывает GET /api/messages/chats: собеседники с существующей перепиской
func (h *MessageHandler) Chats(w http.ResponseWriter, r *http.Request) {
	h.listUsers(w, r, h.users.ListChatPartners)
}

// History обрабатывает GET /api/messages/{userID}?before=<messageID>&limit=N
func (h *MessageHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		httpjson.WriteError(w, h.logger, ErrNoUser)
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpjson.WriteError(w, h.logger, ErrInvalidLimit)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	// На одно сообщение больше, чтобы узнать, есть ли более старые
	msgs, err := h.engine.History(ctx, user.ID, r.PathValue("userID"), storage.HistoryQuery{
		Before: r.URL.Query().Get("before"),
		Limit:  limit + 1,
	})
	if err != nil {
		h.writeEngineError(w, r, "failed to load history", err)
		return
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[len(msgs)-limit:]
	}
	if msgs == nil {
		msgs = []*models.Message{}
	}

	httpjson.WriteJSON(w, h.logger, api.HistoryResponse{Messages: msgs, HasMore: hasMore}, http.StatusOK)
}

// Send обрабатывает POST /api/messages/send/{userID}
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		httpjson.WriteError(w, h.logger, ErrNoUser)
		return
	}

	var req api.SendMessageRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		httpjson.WriteError(w, h.logger, err)
		return
	}

	res, err := h.engine.Send(ctx, delivery.SendRequest{
		SenderID:    user.ID,
		RecipientID: r.PathValue("userID"),
		Text:        req.Text,
		Image:       req.Image,
		ClientID:    req.ClientID,
	})
	if err != nil {
		h.writeEngineError(w, r, "failed to send message", err)
		return
	}

	httpjson.WriteJSON(w, h.logger, api.SendMessageResponse{
		Message:  res.Message,
		Status:   res.Status,
		ClientID: res.ClientID,
	}, http.StatusCreated)
}

// Delete обрабатывает DELETE /api/messages/{messageID}
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		httpjson.WriteError(w, h.logger, ErrNoUser)
		return
	}

	if err := h.engine.Delete(ctx, r.PathValue("messageID"), user.ID); err != nil {
		h.writeEngineError(w, r, "failed to delete message", err)
		return
	}

	httpjson.WriteJSON(w, h.logger, api.MessageResponse{Message: "Message deleted successfully"}, http.StatusOK)
}

// AddReaction обрабатывает POST /api/messages/reactions/{messageID}
func (h *MessageHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		httpjson.WriteError(w, h.logger, ErrNoUser)
		return
	}

	var req api.ReactionRequest
	if err := httpjson.Decode(w, r, &req); err != nil {
		httpjson.WriteError(w, h.logger, err)
		return
	}
	if err := validation.Struct(req); err != nil {
		httpjson.WriteError(w, h.logger, err)
		return
	}

	msg, err := h.engine.AddReaction(ctx, r.PathValue("messageID"), user.ID, req.Emoji)
	if err != nil {
		h.writeEngineError(w, r, "failed to add reaction", err)
		return
	}
	httpjson.WriteJSON(w, h.logger, msg, http.StatusOK)
}

// RemoveReaction обрабатывает DELETE /api/messages/reactions/{messageID}/{emoji}
func (h *MessageHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		httpjson.WriteError(w, h.logger, ErrNoUser)
		return
	}

	msg, err := h.engine.RemoveReaction(ctx, r.PathValue("messageID"), user.ID, r.PathValue("emoji"))
	if err != nil {
		h.writeEngineError(w, r, "failed to remove reaction", err)
		return
	}
	httpjson.WriteJSON(w, h.logger, msg, http.StatusOK)
}

func (h *MessageHandler) listUsers(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, userID string) ([]*models.User, error)) {
	ctx := r.Context()
	user, ok := middleware.UserFromContext(ctx)
	if !ok {
		httpjson.WriteError(w, h.logger, ErrNoUser)
		return
	}

	users, err := list(ctx, user.ID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list users", slog.Any("error", err))
		httpjson.WriteError(w, h.logger, apperr.Wrap(apperr.Persistence, "failed to list users", err))
		return
	}

	resp := make([]api.UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, userResponse(u))
	}
	httpjson.WriteJSON(w, h.logger, resp, http.StatusOK)
}

func (h *MessageHandler) writeEngineError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || apperr.HTTPStatus(appErr.Kind()) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), msg, slog.Any("error", err))
	} else {
		h.logger.DebugContext(r.Context(), msg, slog.Any("error", err))
	}
	httpjson.WriteError(w, h.logger, err)
}
