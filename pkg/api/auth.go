package api

// SignupRequest представляет запрос на регистрацию нового пользователя
type SignupRequest struct {
	FullName string `json:"fullName" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=6,max=72"` // в символах; предел bcrypt в 72 байта проверяется при хешировании
}

// LoginRequest представляет запрос на аутентификацию
type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// UpdateProfileRequest представляет запрос на смену аватара
type UpdateProfileRequest struct {
	ProfilePic string `json:"profilePic" validate:"required"` // data URL или http(s) ссылка
}

// UserResponse - публичный профиль пользователя
type UserResponse struct {
	ID         string `json:"id"`
	FullName   string `json:"fullName"`
	Email      string `json:"email"`
	ProfilePic string `json:"profilePic"`
}

// AuthResponse - ответ на signup/login: профиль и пара токенов
type AuthResponse struct {
	UserResponse
	AccessToken  string `json:"accessToken"`            // JWT access token
	RefreshToken string `json:"refreshToken,omitempty"` // дублирует HTTP-only cookie
	ExpiresIn    int64  `json:"expiresIn"`              // время жизни access token в секундах
}

// TokenResponse представляет ответ /api/auth/refresh
type TokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresIn   int64  `json:"expiresIn"`
}

// MessageResponse - простой ответ с текстом
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Error   string `json:"error"`             // текст HTTP статуса
	Message string `json:"message,omitempty"` // человекочитаемое сообщение
	Code    string `json:"code,omitempty"`    // машинный код: expired, unauthenticated, ...
}

// Коды ошибок аутентификации, на которые реагирует клиент
const (
	CodeExpired         = "expired"
	CodeUnauthenticated = "unauthenticated"
)
