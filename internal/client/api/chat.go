package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/iudanet/gophchat/internal/models"
	"github.com/iudanet/gophchat/pkg/api"
)

// Check возвращает профиль текущего пользователя
func (c *Client) Check(ctx context.Context) (*api.UserResponse, error) {
	var resp api.UserResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/auth/check", nil, &resp); err != nil {
		return nil, fmt.Errorf("check request failed: %w", err)
	}
	return &resp, nil
}

// UpdateProfile меняет аватар. pic - data URL или http(s) ссылка.
func (c *Client) UpdateProfile(ctx context.Context, pic string) (*api.UserResponse, error) {
	var resp api.UserResponse
	req := api.UpdateProfileRequest{ProfilePic: pic}
	if err := c.doRequest(ctx, http.MethodPut, "/api/auth/update-profile", req, &resp); err != nil {
		return nil, fmt.Errorf("update profile request failed: %w", err)
	}
	return &resp, nil
}

// Contacts возвращает всех остальных пользователей
func (c *Client) Contacts(ctx context.Context) ([]api.UserResponse, error) {
	var resp []api.UserResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/messages/contacts", nil, &resp); err != nil {
		return nil, fmt.Errorf("contacts request failed: %w", err)
	}
	return resp, nil
}

// Chats возвращает собеседников, с которыми уже есть переписка
func (c *Client) Chats(ctx context.Context) ([]api.UserResponse, error) {
	var resp []api.UserResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/messages/chats", nil, &resp); err != nil {
		return nil, fmt.Errorf("chats request failed: %w", err)
	}
	return resp, nil
}

// History возвращает страницу переписки с peerID.
// before - id сообщения, старше которого нужна страница (пусто - последние).
func (c *Client) History(ctx context.Context, peerID, before string, limit int) (*api.HistoryResponse, error) {
	q := url.Values{}
	if before != "" {
		q.Set("before", before)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/messages/" + url.PathEscape(peerID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp api.HistoryResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("history request failed: %w", err)
	}
	return &resp, nil
}

// Send отправляет сообщение peerID
func (c *Client) Send(ctx context.Context, peerID string, req api.SendMessageRequest) (*api.SendMessageResponse, error) {
	var resp api.SendMessageResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/messages/send/"+url.PathEscape(peerID), req, &resp); err != nil {
		return nil, fmt.Errorf("send request failed: %w", err)
	}
	return &resp, nil
}

// DeleteMessage удаляет собственное сообщение
func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	if err := c.doRequest(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(messageID), nil, nil); err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	return nil
}

// AddReaction ставит реакцию на сообщение
func (c *Client) AddReaction(ctx context.Context, messageID, emoji string) (*models.Message, error) {
	var resp models.Message
	path := "/api/messages/reactions/" + url.PathEscape(messageID)
	if err := c.doRequest(ctx, http.MethodPost, path, api.ReactionRequest{Emoji: emoji}, &resp); err != nil {
		return nil, fmt.Errorf("add reaction request failed: %w", err)
	}
	return &resp, nil
}

// RemoveReaction снимает реакцию
func (c *Client) RemoveReaction(ctx context.Context, messageID, emoji string) (*models.Message, error) {
	var resp models.Message
	path := "/api/messages/reactions/" + url.PathEscape(messageID) + "/" + url.PathEscape(emoji)
	if err := c.doRequest(ctx, http.MethodDelete, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("remove reaction request failed: %w", err)
	}
	return &resp, nil
}
