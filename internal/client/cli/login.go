package cli

import (
	"github.com/spf13/cobra"
)

func (a *App) loginCmd() *cobra.Command {
	var email, passwordFile string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in to the server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.io.Println("=== Login ===")

			mail, err := a.prompt(email, "Email: ")
			if err != nil {
				return err
			}
			password, err := a.readPassword(passwordFile)
			if err != nil {
				return err
			}

			profile, err := a.auth.Login(cmd.Context(), mail, password)
			if err != nil {
				return err
			}

			a.io.Println("✓ Login successful!")
			a.io.Printf("Logged in as %s <%s>\n", profile.FullName, profile.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&passwordFile, "password-file", "", "file containing the password")
	return cmd
}
