package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/patrickspencer/buildbat/internal/notifier"
)

func newRoomsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "Check room lists",
	}
	cmd.AddCommand(&cobra.Command{
		Use:         "check [ROOMS]",
		Short:       "Validate a comma-separated room list",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"config": "skip"},
		RunE: func(cmd *cobra.Command, args []string) error {
			v := notifier.CheckRooms(strings.Join(args, ""))
			if v.Message == "" {
				fmt.Fprintln(cmd.OutOrStdout(), v.Kind)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", v.Kind, v.Message)
			return nil
		},
	})
	return cmd
}
