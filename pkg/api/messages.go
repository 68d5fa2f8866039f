package api

import "github.com/iudanet/gophchat/internal/models"

// SendMessageRequest представляет запрос POST /api/messages/send/{userID}
type SendMessageRequest struct {
	Text     string `json:"text,omitempty"`
	Image    string `json:"image,omitempty"`    // data URL
	ClientID string `json:"clientId,omitempty"` // correlation id оптимистичной записи
}

// SendMessageResponse - подтверждение отправки
type SendMessageResponse struct {
	Message  *models.Message      `json:"message"`
	Status   models.MessageStatus `json:"status"`
	ClientID string               `json:"clientId,omitempty"`
}

// ReactionRequest представляет запрос на добавление реакции
type ReactionRequest struct {
	Emoji string `json:"emoji" validate:"required,max=32"`
}

// HistoryResponse - страница истории переписки в порядке сохранения
type HistoryResponse struct {
	Messages []*models.Message `json:"messages"`
	HasMore  bool              `json:"hasMore"`
}
