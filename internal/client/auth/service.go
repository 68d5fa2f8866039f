// Package auth - клиентский сценарий аутентификации: signup/login/logout,
// восстановление сессии после перезапуска и локальный профиль.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/iudanet/gophchat/internal/client/api"
	"github.com/iudanet/gophchat/internal/client/storage"
	"github.com/iudanet/gophchat/internal/validation"
	pkgapi "github.com/iudanet/gophchat/pkg/api"
)

// ErrNotAuthenticated - на клиенте никто не залогинен
var ErrNotAuthenticated = errors.New("not authenticated, please run 'gophchat login' first")

// CookieClearer удаляет сохраненные cookies сервера
type CookieClearer interface {
	Clear(u *url.URL) error
}

// Service предоставляет функции авторизации
type Service struct {
	apiClient *api.Client
	profiles  storage.ProfileStorage
	cookies   CookieClearer
	logger    *slog.Logger
	now       func() time.Time
}

// NewService создает новый сервис авторизации.
// cookies может быть nil, если jar не персистентный.
func NewService(apiClient *api.Client, profiles storage.ProfileStorage, cookies CookieClearer, logger *slog.Logger) *Service {
	return &Service{
		apiClient: apiClient,
		profiles:  profiles,
		cookies:   cookies,
		logger:    logger,
		now:       time.Now,
	}
}

// Signup регистрирует пользователя и сохраняет профиль
func (s *Service) Signup(ctx context.Context, fullName, email, password string) (*storage.Profile, error) {
	req := pkgapi.SignupRequest{
		FullName: strings.TrimSpace(fullName),
		Email:    strings.TrimSpace(email),
		Password: password,
	}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	resp, err := s.apiClient.Signup(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.saveProfile(ctx, resp.UserResponse)
}

// Login выполняет аутентификацию и сохраняет профиль
func (s *Service) Login(ctx context.Context, email, password string) (*storage.Profile, error) {
	req := pkgapi.LoginRequest{Email: strings.TrimSpace(email), Password: password}
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	resp, err := s.apiClient.Login(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.saveProfile(ctx, resp.UserResponse)
}

// Restore проверяет сохраненную сессию: первый запрос без access
// токена получает 401 и прозрачно обновляется через refresh cookie.
func (s *Service) Restore(ctx context.Context) (*storage.Profile, error) {
	profile, err := s.profiles.GetProfile(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrProfileNotFound) {
			return nil, ErrNotAuthenticated
		}
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	user, err := s.apiClient.Check(ctx)
	if err != nil {
		if errors.Is(err, api.ErrSessionExpired) {
			s.forget(ctx)
			return nil, ErrNotAuthenticated
		}
		return nil, err
	}

	// профиль мог поменяться на другом устройстве
	profile.FullName = user.FullName
	profile.ProfilePic = user.ProfilePic
	if err := s.profiles.SaveProfile(ctx, profile); err != nil {
		s.logger.Warn("failed to refresh local profile", slog.Any("error", err))
	}
	return profile, nil
}

// Profile возвращает локальный профиль без обращения к серверу
func (s *Service) Profile(ctx context.Context) (*storage.Profile, error) {
	profile, err := s.profiles.GetProfile(ctx)
	if errors.Is(err, storage.ErrProfileNotFound) {
		return nil, ErrNotAuthenticated
	}
	return profile, err
}

// UpdateProfilePic меняет аватар
func (s *Service) UpdateProfilePic(ctx context.Context, pic string) (*storage.Profile, error) {
	profile, err := s.Restore(ctx)
	if err != nil {
		return nil, err
	}

	user, err := s.apiClient.UpdateProfile(ctx, pic)
	if err != nil {
		return nil, err
	}
	profile.ProfilePic = user.ProfilePic
	if err := s.profiles.SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	return profile, nil
}

// Logout выполняет выход из системы.
// Сервер уведомляется по возможности, локальные данные удаляются всегда.
func (s *Service) Logout(ctx context.Context) error {
	if err := s.apiClient.Logout(ctx); err != nil {
		// Не прерываем процесс, если сервер недоступен
		s.logger.Warn("failed to logout on server", slog.Any("error", err))
	}

	if err := s.clearCookies(); err != nil {
		return fmt.Errorf("failed to delete cookies: %w", err)
	}
	if err := s.profiles.DeleteProfile(ctx); err != nil {
		return fmt.Errorf("failed to delete local profile: %w", err)
	}
	return nil
}

func (s *Service) saveProfile(ctx context.Context, user pkgapi.UserResponse) (*storage.Profile, error) {
	profile := &storage.Profile{
		UserID:     user.ID,
		Email:      user.Email,
		FullName:   user.FullName,
		ProfilePic: user.ProfilePic,
		ServerURL:  s.apiClient.BaseURL(),
		LoggedInAt: s.now(),
	}
	if err := s.profiles.SaveProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	return profile, nil
}

// forget удаляет локальную сессию после окончательного отказа refresh
func (s *Service) forget(ctx context.Context) {
	if err := s.clearCookies(); err != nil {
		s.logger.Warn("failed to delete cookies", slog.Any("error", err))
	}
	if err := s.profiles.DeleteProfile(ctx); err != nil {
		s.logger.Warn("failed to delete local profile", slog.Any("error", err))
	}
}

func (s *Service) clearCookies() error {
	if s.cookies == nil {
		return nil
	}
	u, err := url.Parse(s.apiClient.BaseURL())
	if err != nil {
		return err
	}
	return s.cookies.Clear(u)
}
