package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/patrickspencer/buildbat/internal/credentials"
)

func newCredentialsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Show or change the shared machine account",
	}
	cmd.AddCommand(newCredentialsShowCommand(ctx))
	cmd.AddCommand(newCredentialsSetCommand(ctx))
	return cmd
}

func newCredentialsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the stored credentials with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), ctx.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintln(cmd.OutOrStdout(), renderCredentials(a.creds.Load()))
			return nil
		},
	}
}

func renderCredentials(c credentials.Credentials) string {
	m := credentials.Masked(c)
	complete := "no"
	if credentials.Complete(c) {
		complete = "yes"
	}
	return renderTable([]string{"FIELD", "VALUE"}, [][]string{
		{"machine_user", m.MachineUser},
		{"machine_password", m.MachinePassword},
		{"basic_auth", m.BasicAuth},
		{"org_id", m.OrgID},
		{"complete", complete},
	}, nil)
}

func newCredentialsSetCommand(ctx *commandContext) *cobra.Command {
	var in credentials.Credentials
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change the stored credentials",
		Long: `Change the stored credentials. Only the flags given are changed.
Pass "-" as --machine-password to be prompted for it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), ctx.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			next := a.creds.Load()
			flags := cmd.Flags()
			if flags.Changed("machine-user") {
				next.MachineUser = in.MachineUser
			}
			if flags.Changed("machine-password") {
				next.MachinePassword = in.MachinePassword
				if in.MachinePassword == "-" {
					if next.MachinePassword, err = promptSecret("Machine password"); err != nil {
						return err
					}
				}
			}
			if flags.Changed("basic-auth") {
				next.BasicAuth = in.BasicAuth
			}
			if flags.Changed("org-id") {
				next.OrgID = in.OrgID
			}

			if err := a.creds.Save(cmd.Context(), next); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderCredentials(a.creds.Load()))
			return nil
		},
	}
	cmd.Flags().StringVar(&in.MachineUser, "machine-user", "", "Machine account user name")
	cmd.Flags().StringVar(&in.MachinePassword, "machine-password", "", "Machine account password")
	cmd.Flags().StringVar(&in.BasicAuth, "basic-auth", "", "Base64 client id:secret for the token exchange")
	cmd.Flags().StringVar(&in.OrgID, "org-id", "", "Organization ID")
	return cmd
}
