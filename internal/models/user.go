package models

import "time"

// User представляет пользователя чата
type User struct {
	CreatedAt    time.Time `json:"createdAt"`    // время создания
	UpdatedAt    time.Time `json:"updatedAt"`    // время последнего обновления
	ID           string    `json:"id"`           // UUID пользователя
	Email        string    `json:"email"`        // уникальный email
	FullName     string    `json:"fullName"`     // отображаемое имя
	PasswordHash string    `json:"-"`            // bcrypt хеш пароля, наружу не отдается
	ProfilePic   string    `json:"profilePic"`   // URL аватара, пустой если не задан
}

// Public возвращает копию пользователя без секретных полей
func (u *User) Public() *User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.PasswordHash = ""
	return &cp
}
