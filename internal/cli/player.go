package cli

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func newPlayerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Player session commands",
	}

	cmd.AddCommand(newPlayerSignInCmd())
	cmd.AddCommand(newPlayerSignOutCmd())
	cmd.AddCommand(newPlayerMeCmd())

	return cmd
}

func newPlayerSignInCmd() *cobra.Command {
	var email, name string

	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with an email asserted to the server",
		Long: `Sign in and save the session token.

In production an identity proxy in front of the server sets the email header
itself; --email sets it directly for local servers without one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			header := http.Header{}
			header.Set(cfg.IdentityHeader, email)

			req := map[string]string{"display_name": name}
			var result AuthResult
			if err := client.Do(cmd.Context(), http.MethodPost, "/api/v1/players/signin", header, req, &result); err != nil {
				return err
			}

			if err := cfg.SaveToken(result.SessionToken); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			output(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email to sign in as (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func newPlayerSignOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "End the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Post(cmd.Context(), "/api/v1/players/signout", nil, nil); err != nil {
				return err
			}
			if err := cfg.ClearToken(); err != nil {
				return fmt.Errorf("failed to remove token: %w", err)
			}

			output(cmd).PrintMessage("Signed out")
			return nil
		},
	}
}

func newPlayerMeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show current player info",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result Identity
			if err := client.Get(cmd.Context(), "/api/v1/players/me", &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}
}
