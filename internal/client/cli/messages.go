package cli

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iudanet/gophchat/internal/client/chat"
	pkgapi "github.com/iudanet/gophchat/pkg/api"
)

func (a *App) contactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "List every other user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.listUsers(cmd.Context(), "Contacts", a.client.Contacts)
		},
	}
}

func (a *App) chatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chats",
		Short: "List users you have a conversation with",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.listUsers(cmd.Context(), "Chats", a.client.Chats)
		},
	}
}

func (a *App) listUsers(ctx context.Context, title string, list func(context.Context) ([]pkgapi.UserResponse, error)) error {
	if _, err := a.session(ctx); err != nil {
		return err
	}

	users, err := list(ctx)
	if err != nil {
		return err
	}

	a.io.Printf("=== %s ===\n", title)
	if len(users) == 0 {
		a.io.Println("Nobody here yet.")
		return nil
	}
	return usersTemplate.Execute(a.io, users)
}

func (a *App) historyCmd() *cobra.Command {
	var (
		limit  int
		before string
	)

	cmd := &cobra.Command{
		Use:   "history <contact>",
		Short: "Show the conversation with a contact (id or email)",
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

			page, err := a.client.History(ctx, peer.ID, before, limit)
			if err != nil {
				return err
			}

			conv := chat.NewConversation(selfID, peer.ID)
			conv.Load(page.Messages)

			a.io.Printf("=== %s <%s> ===\n", peer.FullName, peer.Email)
			if conv.Len() == 0 {
				a.io.Println("No messages yet.")
			}
			for _, e := range conv.Entries() {
				if err := entryTemplate.Execute(a.io, newEntryView(e, selfID, peer.FullName, true)); err != nil {
					return err
				}
			}
			if page.HasMore {
				a.io.Printf("Older messages: gophchat history %s --before %s\n", args[0], conv.Oldest())
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "page size")
	cmd.Flags().StringVar(&before, "before", "", "show messages older than this message id")
	return cmd
}

func (a *App) sendCmd() *cobra.Command {
	var image string

	cmd := &cobra.Command{
		Use:   "send <contact> [text]",
		Short: "Send a message",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.session(ctx); err != nil {
				return err
			}
			peer, err := a.resolvePeer(ctx, args[0])
			if err != nil {
				return err
			}

			req := pkgapi.SendMessageRequest{ClientID: uuid.NewString()}
			if len(args) == 2 {
				req.Text = args[1]
			}
			if image != "" {
				data, err := os.ReadFile(image)
				if err != nil {
					return fmt.Errorf("failed to read image: %w", err)
				}
				req.Image = dataURL(data)
			}

			resp, err := a.client.Send(ctx, peer.ID, req)
			if err != nil {
				return err
			}
			a.io.Printf("✓ Message %s %s\n", resp.Message.ID, resp.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "attach an image file")
	return cmd
}

func (a *App) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <message-id>",
		Short: "Delete one of your messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.session(ctx); err != nil {
				return err
			}
			if err := a.client.DeleteMessage(ctx, args[0]); err != nil {
				return err
			}
			a.io.Println("✓ Message deleted")
			return nil
		},
	}
}

func (a *App) reactCmd() *cobra.Command {
	var remove bool

	cmd := &cobra.Command{
		Use:   "react <message-id> <emoji>",
		Short: "Add or remove a reaction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if _, err := a.session(ctx); err != nil {
				return err
			}

			react := a.client.AddReaction
			if remove {
				react = a.client.RemoveReaction
			}
			msg, err := react(ctx, args[0], args[1])
			if err != nil {
				return err
			}

			a.io.Printf("✓ Message %s reactions:", msg.ID)
			for _, r := range msg.Reactions {
				a.io.Printf(" %s", r.Emoji)
			}
			a.io.Println()
			return nil
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "remove the reaction instead")
	return cmd
}

// dataURL кодирует файл изображения в data URL
func dataURL(data []byte) string {
	contentType := http.DetectContentType(data)
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
