package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/iudanet/gophchat/internal/client/auth"
)

func (a *App) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "whoami",
		Aliases: []string{"status"},
		Short:   "Show the current session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := a.auth.Restore(cmd.Context())
			if errors.Is(err, auth.ErrNotAuthenticated) {
				a.io.Println("Status: Not authenticated")
				a.io.Println("Run 'gophchat login' to authenticate.")
				return nil
			}
			if err != nil {
				return err
			}

			a.io.Println("Status: Authenticated")
			return profileTemplate.Execute(a.io, profile)
		},
	}
}

func (a *App) avatarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "avatar <image-file|url>",
		Short: "Change the profile picture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := args[0]
			if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
				data, err := os.ReadFile(ref)
				if err != nil {
					return fmt.Errorf("failed to read image: %w", err)
				}
				ref = dataURL(data)
			}

			profile, err := a.auth.UpdateProfilePic(cmd.Context(), ref)
			if err != nil {
				return err
			}
			a.io.Println("✓ Profile picture updated")
			return profileTemplate.Execute(a.io, profile)
		},
	}
}
