package cli

import (
	"net/url"

	"github.com/spf13/cobra"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Admin and entry token management (admin only)",
	}

	admins := &cobra.Command{
		Use:   "admins",
		Short: "Manage who may start races",
	}
	admins.AddCommand(newAdminListCmd())
	admins.AddCommand(newAdminAddCmd())
	admins.AddCommand(newAdminRemoveCmd())

	tokens := &cobra.Command{
		Use:   "tokens",
		Short: "Manage arena entry tokens",
	}
	tokens.AddCommand(newTokenListCmd())
	tokens.AddCommand(newTokenIssueCmd())
	tokens.AddCommand(newTokenToggleCmd())
	tokens.AddCommand(newTokenDeleteCmd())

	cmd.AddCommand(admins, tokens)
	return cmd
}

func newAdminListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List admins",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result []Admin
			if err := client.Get(cmd.Context(), "/api/v1/admin/admins", &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}
}

func newAdminAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <email>",
		Short: "Grant admin to an email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result Admin
			req := map[string]string{"email": args[0]}
			if err := client.Post(cmd.Context(), "/api/v1/admin/admins", req, &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}
}

func newAdminRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <email>",
		Short: "Revoke admin from an email",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Delete(cmd.Context(), "/api/v1/admin/admins/"+url.PathEscape(args[0])); err != nil {
				return err
			}

			output(cmd).PrintMessage("Removed admin " + args[0])
			return nil
		},
	}
}

func newTokenListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List entry tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result []EntryToken
			if err := client.Get(cmd.Context(), "/api/v1/admin/tokens", &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}
}

func newTokenIssueCmd() *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "issue <user-id>",
		Short: "Issue an entry token for a user id",
		Long: `Issue an entry token. Without --value a random token is generated. The
plain token is printed once; only its hash is stored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result EntryToken
			req := map[string]string{"user_id": args[0], "token": token}
			if err := client.Post(cmd.Context(), "/api/v1/admin/tokens", req, &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "value", "", "Token value to issue")

	return cmd
}

func newTokenToggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle <id>",
		Short: "Activate or deactivate an entry token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result EntryToken
			if err := client.Post(cmd.Context(), "/api/v1/admin/tokens/"+url.PathEscape(args[0])+"/toggle", nil, &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}
}

func newTokenDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an entry token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Delete(cmd.Context(), "/api/v1/admin/tokens/"+url.PathEscape(args[0])); err != nil {
				return err
			}

			output(cmd).PrintMessage("Deleted token " + args[0])
			return nil
		},
	}
}
