package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/iudanet/gophchat/internal/client/storage"
)

// PersistentJar - cookie jar, переживающий перезапуск клиента.
// Cookies хранятся в CookieStorage по host сервера, в том числе
// HTTP-only refresh cookie.
type PersistentJar struct {
	jar    *cookiejar.Jar
	store  storage.CookieStorage
	logger *slog.Logger
	loaded map[string]bool
	now    func() time.Time
	mu     sync.Mutex
}

// Compile-time check
var _ http.CookieJar = (*PersistentJar)(nil)

// NewPersistentJar создает jar поверх хранилища
func NewPersistentJar(store storage.CookieStorage, logger *slog.Logger) (*PersistentJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &PersistentJar{
		jar:    jar,
		store:  store,
		logger: logger,
		loaded: make(map[string]bool),
		now:    time.Now,
	}, nil
}

// SetCookies реализует http.CookieJar
func (j *PersistentJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.loadLocked(u)
	j.jar.SetCookies(u, cookies)

	ctx := context.Background()
	stored, err := j.store.LoadCookies(ctx, u.Host)
	if err != nil {
		j.logger.Warn("failed to load cookies", slog.String("host", u.Host), slog.Any("error", err))
		return
	}

	now := j.now()
	for _, c := range cookies {
		stored = removeCookie(stored, c.Name)
		if c.MaxAge < 0 || (!c.Expires.IsZero() && !c.Expires.After(now)) {
			continue
		}
		sc := storage.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
			Expires:  c.Expires,
		}
		if c.MaxAge > 0 {
			sc.Expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		}
		stored = append(stored, sc)
	}

	if err := j.store.SaveCookies(ctx, u.Host, stored); err != nil {
		j.logger.Warn("failed to persist cookies", slog.String("host", u.Host), slog.Any("error", err))
	}
}

// Cookies реализует http.CookieJar
func (j *PersistentJar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.loadLocked(u)
	return j.jar.Cookies(u)
}

// Clear удаляет все cookies host из памяти и хранилища
func (j *PersistentJar) Clear(u *url.URL) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	stored, err := j.store.LoadCookies(context.Background(), u.Host)
	if err != nil {
		return err
	}
	j.loaded[u.Host] = true

	expired := make([]*http.Cookie, 0, len(stored))
	for _, c := range stored {
		expired = append(expired, &http.Cookie{Name: c.Name, Path: c.Path, MaxAge: -1})
	}
	if len(expired) > 0 {
		j.jar.SetCookies(u, expired)
	}

	return j.store.DeleteCookies(context.Background(), u.Host)
}

// loadLocked один раз на host переносит сохраненные cookies в память
func (j *PersistentJar) loadLocked(u *url.URL) {
	if j.loaded[u.Host] {
		return
	}
	j.loaded[u.Host] = true

	stored, err := j.store.LoadCookies(context.Background(), u.Host)
	if err != nil {
		j.logger.Warn("failed to load cookies", slog.String("host", u.Host), slog.Any("error", err))
		return
	}

	now := j.now()
	cookies := make([]*http.Cookie, 0, len(stored))
	for _, c := range stored {
		if c.Expired(now) {
			continue
		}
		cookies = append(cookies, &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HttpOnly,
			Expires:  c.Expires,
		})
	}
	if len(cookies) > 0 {
		j.jar.SetCookies(u, cookies)
	}
}

func removeCookie(cookies []storage.Cookie, name string) []storage.Cookie {
	out := cookies[:0]
	for _, c := range cookies {
		if c.Name != name {
			out = append(out, c)
		}
	}
	return out
}
