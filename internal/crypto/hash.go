package crypto

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/iudanet/gophchat/internal/apperr"
)

// PasswordCost - стоимость bcrypt для паролей пользователей
const PasswordCost = 10

// MaxPasswordBytes - bcrypt принимает не больше 72 байт
const MaxPasswordBytes = 72

var (
	// ErrPasswordMismatch возвращается, когда пароль не совпадает с хешем
	ErrPasswordMismatch = errors.New("password does not match")

	// ErrPasswordTooLong - пароль длиннее MaxPasswordBytes в байтах (не символах)
	ErrPasswordTooLong = apperr.New(apperr.InvalidArgument, "password must be at most 72 bytes")
)

// dummyHash - хеш для сравнения, когда пользователь не найден
var dummyHash = sync.OnceValue(func() []byte {
	hash, err := bcrypt.GenerateFromPassword([]byte("gophchat-unknown-user"), PasswordCost)
	if err != nil {
		panic(fmt.Sprintf("failed to build dummy hash: %v", err))
	}
	return hash
})

// HashPassword хеширует пароль пользователя с использованием bcrypt
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), PasswordCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	return string(hash), nil
}

// VerifyPassword проверяет, соответствует ли пароль сохраненному хешу
func VerifyPassword(password, hash string) error {
	if password == "" || hash == "" {
		return ErrPasswordMismatch
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("failed to verify password: %w", err)
	}

	return nil
}

// VerifyUnknown сравнивает пароль с фиктивным хешем той же стоимости.
// Вызывается вместо VerifyPassword для неизвестного email, время ответа
// одинаково. Всегда возвращает ErrPasswordMismatch.
func VerifyUnknown(password string) error {
	_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
	return ErrPasswordMismatch
}
