package storage

import (
	"context"
	"time"
)

// ProfileStorage хранит профиль пользователя, под которым залогинен клиент.
// Access token сюда не попадает: он живет только в памяти процесса.
type ProfileStorage interface {
	// SaveProfile сохраняет профиль текущего пользователя
	SaveProfile(ctx context.Context, profile *Profile) error

	// GetProfile возвращает профиль или ErrProfileNotFound
	GetProfile(ctx context.Context) (*Profile, error)

	// DeleteProfile удаляет профиль (logout). Отсутствие профиля не ошибка.
	DeleteProfile(ctx context.Context) error
}

// Profile - локальная копия профиля пользователя
type Profile struct {
	LoggedInAt time.Time `json:"logged_in_at"`
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	FullName   string    `json:"full_name"`
	ProfilePic string    `json:"profile_pic"`
	ServerURL  string    `json:"server_url"`
}
