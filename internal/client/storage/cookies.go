package storage

import (
	"context"
	"time"
)

// CookieStorage сохраняет cookies сервера между запусками клиента,
// как это делает браузер. Ключ - host сервера.
type CookieStorage interface {
	// SaveCookies заменяет cookies host целиком
	SaveCookies(ctx context.Context, host string, cookies []Cookie) error

	// LoadCookies возвращает сохраненные cookies host (пустой список, если их нет)
	LoadCookies(ctx context.Context, host string) ([]Cookie, error)

	// DeleteCookies удаляет все cookies host
	DeleteCookies(ctx context.Context, host string) error
}

// Cookie - сохраняемая часть http.Cookie
type Cookie struct {
	Expires  time.Time `json:"expires,omitempty"`
	Name     string    `json:"name"`
	Value    string    `json:"value"`
	Path     string    `json:"path,omitempty"`
	Secure   bool      `json:"secure,omitempty"`
	HttpOnly bool      `json:"http_only,omitempty"`
}

// Expired сообщает, истек ли срок cookie к моменту now
func (c Cookie) Expired(now time.Time) bool {
	return !c.Expires.IsZero() && !c.Expires.After(now)
}
