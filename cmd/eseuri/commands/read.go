package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/subject"
	"github.com/FiveIT/eseuri/internal/works"
	"github.com/spf13/cobra"
)

func NewReadCommand(load loader) *cobra.Command {
	var (
		begin string
		count int
	)
	cmd := &cobra.Command{
		Use:   "read <essay|characterization> <slug>",
		Short: "Print works about a subject, in random order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			return read(ctx, cmd.OutOrStdout(), client, args[0], args[1], begin, count, rt)
		},
	}
	cmd.Flags().StringVar(&begin, "begin", "", "opaque id of the work to read first")
	cmd.Flags().IntVar(&count, "count", 1, "number of works to print")
	return cmd
}

func read(ctx context.Context, out io.Writer, exec gateway.Executor, workType, slug, begin string, count int, rt *runtime) error {
	typ, err := works.ParseType(workType)
	if err != nil {
		return err
	}
	subj, err := subject.NewResolver(exec).Resolve(ctx, slug, string(typ))
	if errors.Is(err, subject.ErrEmpty) {
		fmt.Fprintf(out, "%s has no %ss yet\n", subj.Name, typ)
		return nil
	}
	if err != nil {
		return err
	}

	p, err := works.NewPaginator(exec, subj, typ, works.WithLogger(rt.logger))
	if err != nil {
		return err
	}
	if err := p.Seed(ctx, begin); err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		c, err := p.Advance(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "== %s #%d (work %d, id %s)\n\n%s\n\n", subj.Name, p.Position()+1, c.WorkID, c.OpaqueID, c.Body)
	}
	return nil
}
