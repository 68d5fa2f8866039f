package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophchat/internal/client/api"
	"github.com/iudanet/gophchat/internal/client/chat"
	"github.com/iudanet/gophchat/internal/client/realtime"
	pkgapi "github.com/iudanet/gophchat/pkg/api"
)

const chatHelp = `Type a message and press Enter to send.
Commands:
  /more            load older messages
  /delete <id>     delete your message
  /react <id> <e>  react to a message
  /quit            leave the chat`

func (a *App) chatCmd() *cobra.Command {
	var reauthEvery time.Duration

	cmd := &cobra.Command{
		Use:   "chat <contact>",
		Short: "Open an interactive real-time conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			selfID, err := a.session(ctx)
			if err != nil {
				return err
			}
			peer, err := a.resolvePeer(ctx, args[0])
			if err != nil {
				return err
			}

			s := &chatSession{
				app:  a,
				conv: chat.NewConversation(selfID, peer.ID),
				peer: peer,
				self: selfID,
			}
			return s.run(ctx, reauthEvery)
		},
	}

	cmd.Flags().DurationVar(&reauthEvery, "reauth-every", 10*time.Minute, "how often to extend the real-time connection (must be below the access token lifetime)")
	return cmd
}

// chatSession - одна интерактивная переписка
type chatSession struct {
	app     *App
	conn    *realtime.Conn
	conv    *chat.Conversation
	peer    pkgapi.UserResponse
	self    string
	hasMore bool
	out     sync.Mutex
}

func (s *chatSession) run(ctx context.Context, reauthEvery time.Duration) error {
	if err := s.loadMore(ctx); err != nil {
		return err
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return err
	}
	s.conn = conn
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx, s.handle) }()
	go s.keepAlive(ctx, reauthEvery)

	s.printf("=== Chat with %s <%s> ===\n%s\n", s.peer.FullName, s.peer.Email, chatHelp)
	s.render()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := s.app.io.ReadInput("")
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case err := <-done:
			if err != nil {
				return err
			}
			s.printf("Connection closed by server.\n")
			return nil
		case <-s.app.client.Session().Expired():
			return api.ErrSessionExpired
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			quit, err := s.command(ctx, line)
			if err != nil {
				s.printf("! %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

// dial открывает канал; устаревший access токен обновляется один раз
func (s *chatSession) dial(ctx context.Context) (*realtime.Conn, error) {
	client := s.app.client
	conn, err := realtime.Dial(ctx, client.BaseURL(), client.Session().AccessToken())
	if !api.IsUnauthorized(err) {
		return conn, err
	}
	if _, err := client.Refresh(ctx); err != nil {
		return nil, fmt.Errorf("%w: %w", api.ErrSessionExpired, err)
	}
	return realtime.Dial(ctx, client.BaseURL(), client.Session().AccessToken())
}

// keepAlive продлевает соединение до истечения access токена
func (s *chatSession) keepAlive(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := s.app.client.Refresh(ctx)
			if err != nil {
				s.app.logger.Warn("failed to refresh session", slog.Any("error", err))
				continue
			}
			if err := s.conn.Reauth(resp.AccessToken); err != nil {
				s.app.logger.Warn("failed to reauth connection", slog.Any("error", err))
			}
		}
	}
}

// command выполняет строку ввода. Возвращает true для выхода.
func (s *chatSession) command(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}

	if !strings.HasPrefix(line, "/") {
		return false, s.send(line)
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		s.printf("%s\n", chatHelp)
		return false, nil
	case "/more":
		if !s.hasMore {
			s.printf("No older messages.\n")
			return false, nil
		}
		if err := s.loadMore(ctx); err != nil {
			return false, err
		}
		s.render()
		return false, nil
	case "/delete":
		if len(fields) != 2 {
			return false, errors.New("usage: /delete <message-id>")
		}
		return false, s.app.client.DeleteMessage(ctx, fields[1])
	case "/react":
		if len(fields) != 3 {
			return false, errors.New("usage: /react <message-id> <emoji>")
		}
		_, err := s.app.client.AddReaction(ctx, fields[1], fields[2])
		return false, err
	default:
		return false, fmt.Errorf("unknown command %s, try /help", fields[0])
	}
}

// send добавляет оптимистичную запись и отправляет ее по каналу.
// Подтверждение приходит эхом new-message с тем же clientId.
func (s *chatSession) send(text string) error {
	entry, err := s.conv.AddOptimistic(text, "")
	if err != nil {
		return err
	}

	err = s.conn.SendMessage(pkgapi.SendMessageEvent{
		RecipientID: s.peer.ID,
		Text:        text,
		ClientID:    entry.ClientID,
	})
	if err != nil {
		s.conv.Rollback(entry.ClientID)
		return err
	}
	return nil
}

func (s *chatSession) loadMore(ctx context.Context) error {
	page, err := s.app.client.History(ctx, s.peer.ID, s.conv.Oldest(), 0)
	if err != nil {
		return err
	}
	s.conv.Load(page.Messages)
	s.hasMore = page.HasMore
	return nil
}

// handle обрабатывает события канала
func (s *chatSession) handle(env pkgapi.Envelope) {
	switch env.Type {
	case pkgapi.EventNewMessage:
		ev, err := realtime.Decode[pkgapi.NewMessageEvent](env)
		if err != nil || ev.Message == nil {
			return
		}
		if s.conv.Apply(ev.Message) || ev.Message.SenderID == s.self {
			s.printEntry(ev.Message.ID)
		}

	case pkgapi.EventMessageStatus:
		ev, err := realtime.Decode[pkgapi.MessageStatusEvent](env)
		if err != nil {
			return
		}
		s.conv.SetStatus(ev.MessageID, ev.Status)

	case pkgapi.EventMessageDeleted:
		ev, err := realtime.Decode[pkgapi.MessageDeletedEvent](env)
		if err == nil && s.conv.Remove(ev.MessageID) {
			s.printf("* message %s was deleted\n", ev.MessageID)
		}

	case pkgapi.EventMessageReaction:
		ev, err := realtime.Decode[pkgapi.MessageReactionEvent](env)
		if err == nil && ev.Message != nil {
			s.conv.Apply(ev.Message)
			s.printEntry(ev.Message.ID)
		}

	case pkgapi.EventTyping:
		ev, err := realtime.Decode[pkgapi.TypingEvent](env)
		if err == nil && ev.UserID == s.peer.ID && ev.Active {
			s.printf("* %s is typing...\n", s.peer.FullName)
		}

	case pkgapi.EventPresenceSnapshot:
		ev, err := realtime.Decode[pkgapi.PresenceSnapshotEvent](env)
		if err != nil {
			return
		}
		for _, id := range ev.Online {
			if id == s.peer.ID {
				s.printf("* %s is online\n", s.peer.FullName)
			}
		}

	case pkgapi.EventPresenceUpdate:
		ev, err := realtime.Decode[pkgapi.PresenceUpdateEvent](env)
		if err != nil || ev.UserID != s.peer.ID {
			return
		}
		state := "offline"
		if ev.Online {
			state = "online"
		}
		s.printf("* %s is %s\n", s.peer.FullName, state)

	case pkgapi.EventError:
		ev, err := realtime.Decode[pkgapi.ErrorEvent](env)
		if err != nil {
			return
		}
		if ev.ClientID != "" {
			s.conv.Rollback(ev.ClientID)
		}
		s.printf("! %s\n", ev.Message)
	}
}

func (s *chatSession) render() {
	for _, e := range s.conv.Entries() {
		s.writeEntry(e)
	}
}

func (s *chatSession) printEntry(messageID string) {
	for _, e := range s.conv.Entries() {
		if e.Kind == chat.Confirmed && e.Message.ID == messageID {
			s.writeEntry(e)
			return
		}
	}
}

func (s *chatSession) writeEntry(e chat.Entry) {
	s.out.Lock()
	defer s.out.Unlock()
	_ = entryTemplate.Execute(s.app.io, newEntryView(e, s.self, s.peer.FullName, true))
}

func (s *chatSession) printf(format string, args ...any) {
	s.out.Lock()
	defer s.out.Unlock()
	s.app.io.Printf(format, args...)
}
