package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/patrickspencer/buildbat/internal/notifier"
)

func newProvisionCommand(ctx *commandContext) *cobra.Command {
	var rooms, token string
	cmd := &cobra.Command{
		Use:   "provision --rooms ROOMS [--token TOKEN]",
		Short: "Add the machine account to Spark rooms",
		Long: `Add the machine account to each room using a user's OAuth2 token.
The token is prompted for when omitted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				t, err := promptSecret("Spark OAuth2 token")
				if err != nil {
					return err
				}
				token = t
			}

			a, err := openApp(cmd.Context(), ctx.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			err = a.executor.Notifier().Provision(cmd.Context(), rooms, token)
			v := notifier.ProvisionResult(err)
			fmt.Fprintln(cmd.OutOrStdout(), v.Message)
			return err
		},
	}
	cmd.Flags().StringVar(&rooms, "rooms", "", "Comma-separated room IDs")
	cmd.Flags().StringVar(&token, "token", "", "User OAuth2 token")
	_ = cmd.MarkFlagRequired("rooms")
	return cmd
}
