package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lectern/internal/apiclient"
)

const followWait = 15 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var lines int
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the daemon log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if lines < 0 {
				return errors.New("--lines must be >= 0")
			}
			return ctx.withClient(func(client *apiclient.Client) error {
				out := cmd.OutOrStdout()
				query := apiclient.LogQuery{Offset: -1, Limit: lines}
				for {
					resp, err := client.Logs(cmd.Context(), query)
					if err != nil {
						if follow && cmd.Context().Err() != nil {
							return nil
						}
						return err
					}
					for _, line := range resp.Lines {
						fmt.Fprintln(out, line)
					}
					if !follow {
						return nil
					}
					query = apiclient.LogQuery{Offset: resp.Offset, Wait: followWait}
				}
			})
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of trailing lines to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new lines until interrupted")
	return cmd
}
