// Package mail отправляет приветственные письма после регистрации.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"

	"gopkg.in/gomail.v2"
)

// Mailer отправляет письма о регистрации
type Mailer interface {
	SendWelcome(ctx context.Context, email, fullName string) error
}

// Config - параметры SMTP
type Config struct {
	Host       string
	Username   string
	Password   string
	From       string
	AdminEmail string // получатель уведомлений о новых пользователях, может быть пустым
	ClientURL  string // ссылка на клиент в письме
	Port       int
}

type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer отправляет письма через SMTP
type SMTPMailer struct {
	dialer dialer
	logger *slog.Logger
	cfg    Config
}

// NewSMTPMailer создает mailer
func NewSMTPMailer(cfg Config, logger *slog.Logger) *SMTPMailer {
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger,
		cfg:    cfg,
	}
}

// SendWelcome отправляет приветствие пользователю и уведомление администратору
func (m *SMTPMailer) SendWelcome(ctx context.Context, email, fullName string) error {
	body, err := render(welcomeTemplate, map[string]string{
		"Name":      fullName,
		"ClientURL": m.cfg.ClientURL,
	})
	if err != nil {
		return err
	}

	messages := []*gomail.Message{m.message(email, "Welcome to GophChat", body)}

	if m.cfg.AdminEmail != "" {
		adminBody, err := render(newUserTemplate, map[string]string{
			"Name":  fullName,
			"Email": email,
		})
		if err != nil {
			return err
		}
		messages = append(messages, m.message(m.cfg.AdminEmail, "New user", adminBody))
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := m.dialer.DialAndSend(messages...); err != nil {
		return fmt.Errorf("failed to send welcome email: %w", err)
	}

	m.logger.InfoContext(ctx, "welcome email sent", slog.Int("messages", len(messages)))
	return nil
}

func (m *SMTPMailer) message(to, subject, htmlBody string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(m.cfg.From, "GophChat"))
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", htmlBody)
	return msg
}

// NopMailer ничего не отправляет, используется без настроенного SMTP
type NopMailer struct{}

// SendWelcome ничего не делает
func (NopMailer) SendWelcome(context.Context, string, string) error {
	return nil
}

var (
	welcomeTemplate = template.Must(template.New("welcome").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; background-color: #f7f9fc; padding: 32px;">
  <h1 style="color: #5271ff;">Welcome, {{.Name}}!</h1>
  <p>Your GophChat account is ready. Pick a contact and say hello.</p>
  {{if .ClientURL}}<p><a href="{{.ClientURL}}" style="color: #5271ff;">Open GophChat</a></p>{{end}}
</body>
</html>`))

	newUserTemplate = template.Must(template.New("new-user").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif;">
  <p>New user signed up: <strong>{{.Name}}</strong> &lt;{{.Email}}&gt;</p>
</body>
</html>`))
)

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s email: %w", t.Name(), err)
	}
	return buf.String(), nil
}
