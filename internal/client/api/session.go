package api

import "sync"

// Session хранит access токен только в памяти процесса и сигнализирует
// об истечении сессии, когда refresh больше невозможен.
type Session struct {
	expired   chan struct{}
	listeners []func()
	token     string
	mu        sync.Mutex
	fired     bool
}

// NewSession создает пустую сессию
func NewSession() *Session {
	return &Session{expired: make(chan struct{})}
}

// SetAccessToken запоминает токен. После истекшей сессии сигнал
// взводится заново: новая аутентификация начинает новую сессию.
func (s *Session) SetAccessToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = token
	if s.fired && token != "" {
		s.fired = false
		s.expired = make(chan struct{})
	}
}

// AccessToken возвращает текущий токен или пустую строку
func (s *Session) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Clear забывает токен без сигнала истечения (logout)
func (s *Session) Clear() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

// OnExpired регистрирует обработчик истечения сессии
func (s *Session) OnExpired(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Expired возвращает канал, закрываемый при истечении текущей сессии
func (s *Session) Expired() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired
}

// expire сбрасывает токен и сигнализирует не более одного раза за сессию
func (s *Session) expire() {
	s.mu.Lock()
	s.token = ""
	if s.fired {
		s.mu.Unlock()
		return
	}
	s.fired = true
	close(s.expired)
	listeners := append([]func(){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}
