package cli

import (
	"github.com/spf13/cobra"
)

func (a *App) signupCmd() *cobra.Command {
	var fullName, email, passwordFile string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.io.Println("=== Sign up ===")

			name, err := a.prompt(fullName, "Full name: ")
			if err != nil {
				return err
			}
			mail, err := a.prompt(email, "Email: ")
			if err != nil {
				return err
			}
			password, err := a.readPassword(passwordFile)
			if err != nil {
				return err
			}

			profile, err := a.auth.Signup(cmd.Context(), name, mail, password)
			if err != nil {
				return err
			}

			a.io.Println("✓ Account created!")
			return profileTemplate.Execute(a.io, profile)
		},
	}

	cmd.Flags().StringVar(&fullName, "name", "", "full name")
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&passwordFile, "password-file", "", "file containing the password")
	return cmd
}
