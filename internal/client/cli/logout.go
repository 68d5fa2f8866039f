package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func (a *App) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Log out and forget the local session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.auth.Logout(cmd.Context()); err != nil {
				return fmt.Errorf("logout failed: %w", err)
			}

			a.io.Println("✓ Logout successful!")
			a.io.Println("Your local session has been deleted.")
			return nil
		},
	}
}
