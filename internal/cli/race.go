package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEnterCmd() *cobra.Command {
	var userID, token, shipID string

	cmd := &cobra.Command{
		Use:   "enter",
		Short: "Enter the arena and take a lane in the open race",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{
				"user_id": userID,
				"token":   token,
				"ship_id": shipID,
			}
			var result EntryResult
			if err := client.Post(cmd.Context(), "/api/v1/arena/enter", req, &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "Racer id shown to other racers (required)")
	cmd.Flags().StringVar(&token, "entry-token", "", "Entry token issued for the user id")
	cmd.Flags().StringVar(&shipID, "ship", "", "Ship to race with (required)")
	_ = cmd.MarkFlagRequired("user-id")
	_ = cmd.MarkFlagRequired("ship")

	return cmd
}

func newRaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "race",
		Short: "Race commands",
	}

	cmd.AddCommand(newRaceGetCmd())
	cmd.AddCommand(newRaceJoinCmd())
	cmd.AddCommand(newRaceStartCmd())
	cmd.AddCommand(newRaceTypeCmd())
	cmd.AddCommand(newRacePlayCmd())

	return cmd
}

func newRaceGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a race, its racers and standings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result Race
			if err := client.Get(cmd.Context(), racePath(args[0]), &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}
}

func newRaceJoinCmd() *cobra.Command {
	var shipID string

	cmd := &cobra.Command{
		Use:   "join <id>",
		Short: "Take a lane in a specific waiting race",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{"ship_id": shipID}
			var result Participant
			if err := client.Post(cmd.Context(), racePath(args[0], "join"), req, &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&shipID, "ship", "", "Ship to race with (required)")
	_ = cmd.MarkFlagRequired("ship")

	return cmd
}

func newRaceStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <id>",
		Short: "Start a full race (admin only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result Session
			if err := client.Post(cmd.Context(), racePath(args[0], "start"), nil, &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}
}

func newRaceTypeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "type <id> <keys>",
		Short: "Send keystrokes to a race in progress",
		Long: `Send keystrokes to a race over HTTP. Each character is scored in order,
exactly as if typed. For interactive racing use "race play".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[1] == "" {
				return fmt.Errorf("no keys to send")
			}

			req := map[string]string{"keys": args[1]}
			var result Progress
			if err := client.Post(cmd.Context(), racePath(args[0], "keystrokes"), req, &result); err != nil {
				return err
			}

			output(cmd).Print(result)
			return nil
		},
	}
}
