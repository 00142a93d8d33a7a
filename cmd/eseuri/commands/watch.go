package commands

import (
	"fmt"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/FiveIT/eseuri/internal/bookmark"
	"github.com/spf13/cobra"
)

func NewWatchCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <work-id>",
		Short: "Print the bookmark status of a work whenever it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("work id must be an integer: %w", err)
			}
			rt, err := load()
			if err != nil {
				return err
			}
			client, err := rt.gateway(rt.cliToken())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return bookmark.NewService(client, client).Watch(ctx, workID, func(s bookmark.Status) error {
				if s.Bookmarked {
					fmt.Fprintf(out, "work %d: bookmarked as %q\n", s.WorkID, s.Name)
				} else {
					fmt.Fprintf(out, "work %d: not bookmarked\n", s.WorkID)
				}
				return nil
			})
		},
	}
}
