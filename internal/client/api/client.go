// Package api - HTTP клиент чата и контроллер сессии:
// access токен в памяти, refresh токен в cookie jar,
// прозрачный refresh при 401 с единственным повтором запроса.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/iudanet/gophchat/pkg/api"
)

const refreshTimeout = 30 * time.Second

// ErrSessionExpired - refresh не удался, нужен новый login
var ErrSessionExpired = errors.New("session expired, please log in again")

// StatusError - ответ сервера с неуспешным статусом
type StatusError struct {
	Code       string // машинный код из тела ошибки
	Message    string
	StatusCode int
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("request failed with status %d", e.StatusCode)
}

// IsUnauthorized сообщает, отклонил ли сервер учетные данные
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusUnauthorized
}

// Option настраивает Client
type Option func(*Client)

// WithCookieJar задает jar для refresh cookie
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) {
		c.httpClient.Jar = jar
	}
}

// WithSession задает общую сессию (например, с real-time соединением)
func WithSession(s *Session) Option {
	return func(c *Client) {
		c.session = s
	}
}

// WithTimeout задает таймаут HTTP запросов
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	session    *Session
	refresh    singleflight.Group
	baseURL    string
}

// NewClient создает новый API клиент
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Настройка обработки редиректов
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				// Ограничиваем количество редиректов
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
		session: NewSession(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL возвращает адрес сервера
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Session возвращает сессию клиента
func (c *Client) Session() *Session {
	return c.session
}

// Signup регистрирует пользователя и открывает сессию
func (c *Client) Signup(ctx context.Context, req api.SignupRequest) (*api.AuthResponse, error) {
	var resp api.AuthResponse
	if err := c.send(ctx, http.MethodPost, "/api/auth/signup", req, &resp, ""); err != nil {
		return nil, fmt.Errorf("signup request failed: %w", err)
	}
	c.session.SetAccessToken(resp.AccessToken)
	return &resp, nil
}

// Login выполняет аутентификацию пользователя
func (c *Client) Login(ctx context.Context, req api.LoginRequest) (*api.AuthResponse, error) {
	var resp api.AuthResponse
	if err := c.send(ctx, http.MethodPost, "/api/auth/login", req, &resp, ""); err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	c.session.SetAccessToken(resp.AccessToken)
	return &resp, nil
}

// Refresh обменивает refresh cookie на новый access токен.
// Сервер принимает cookie один раз, поэтому параллельные вызовы делят один запрос.
// Ошибка возвращается как есть, сессия не трогается.
func (c *Client) Refresh(ctx context.Context) (*api.TokenResponse, error) {
	v, err, _ := c.refresh.Do("rotate", func() (any, error) {
		var resp api.TokenResponse
		if err := c.send(ctx, http.MethodPost, "/api/auth/refresh", nil, &resp, ""); err != nil {
			return nil, fmt.Errorf("refresh request failed: %w", err)
		}
		c.session.SetAccessToken(resp.AccessToken)
		return &resp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*api.TokenResponse), nil
}

// Logout отзывает токены на сервере и забывает access токен
func (c *Client) Logout(ctx context.Context) error {
	defer c.session.Clear()
	if err := c.send(ctx, http.MethodPost, "/api/auth/logout", nil, nil, c.session.AccessToken()); err != nil {
		return fmt.Errorf("logout request failed: %w", err)
	}
	return nil
}

// doRequest выполняет запрос с access токеном. На 401 выполняет
// один общий для всех параллельных запросов refresh и повторяет
// запрос ровно один раз.
func (c *Client) doRequest(ctx context.Context, method, path string, body, result any) error {
	token := c.session.AccessToken()

	err := c.send(ctx, method, path, body, result, token)
	if !IsUnauthorized(err) {
		return err
	}

	fresh, err := c.refreshShared(ctx, token)
	if err != nil {
		return err
	}

	return c.send(ctx, method, path, body, result, fresh)
}

// refreshShared объединяет параллельные refresh. Если токен уже
// сменился после неудачного запроса, новый refresh не нужен.
func (c *Client) refreshShared(ctx context.Context, stale string) (string, error) {
	if current := c.session.AccessToken(); current != "" && current != stale {
		return current, nil
	}

	ch := c.refresh.DoChan("refresh", func() (any, error) {
		// отмена одного вызывающего не должна обрывать общий refresh
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		if current := c.session.AccessToken(); current != "" && current != stale {
			return current, nil
		}

		resp, err := c.Refresh(rctx)
		if err != nil {
			c.session.expire()
			return "", fmt.Errorf("%w: %w", ErrSessionExpired, err)
		}
		return resp.AccessToken, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// send выполняет один HTTP запрос
func (c *Client) send(ctx context.Context, method, path string, body, result any, token string) error {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{StatusCode: resp.StatusCode}
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil {
			statusErr.Code = errResp.Code
			statusErr.Message = errResp.Message
		}
		return statusErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
