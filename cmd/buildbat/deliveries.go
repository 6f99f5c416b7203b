package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/patrickspencer/buildbat/internal/store"
)

func newDeliveriesCommand(ctx *commandContext) *cobra.Command {
	var opts store.ListOpts
	cmd := &cobra.Command{
		Use:   "deliveries",
		Short: "List recent notification and provisioning attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), ctx.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.store.ListDeliveries(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No deliveries recorded")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderDeliveries(list))
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.JobName, "job", "", "Only show this job")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "Maximum rows")
	return cmd
}

func renderDeliveries(list []*store.Delivery) string {
	rows := make([][]string, 0, len(list))
	for _, d := range list {
		rows = append(rows, []string{
			d.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			d.JobName,
			d.BuildName,
			d.Action,
			d.Trigger,
			d.Outcome,
			strings.Join(d.Rooms, ","),
			strconv.FormatInt(d.DurationMs, 10),
			d.Detail,
		})
	}
	return renderTable(
		[]string{"TIME", "JOB", "BUILD", "ACTION", "TRIGGER", "OUTCOME", "ROOMS", "MS", "DETAIL"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
	)
}
