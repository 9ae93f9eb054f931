package cli

import (
	"github.com/spf13/cobra"
)

// Commands that need no session

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result HealthResult
			if err := client.Get(cmd.Context(), "/api/v1/health", &result); err != nil {
				return err
			}
			output(cmd).Print(result)
			return nil
		},
	}
}

func newShipsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "ships",
		Aliases: []string{"fleet"},
		Short:   "List the ships racers can choose",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result []Ship
			if err := client.Get(cmd.Context(), "/api/v1/ships", &result); err != nil {
				return err
			}
			output(cmd).Print(result)
			return nil
		},
	}
}
