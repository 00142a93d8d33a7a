package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/FiveIT/eseuri/internal/search"
	"github.com/FiveIT/eseuri/internal/subject"
	"github.com/FiveIT/eseuri/internal/works"
	"github.com/spf13/cobra"
)

func NewSubjectsCommand(load loader) *cobra.Command {
	var (
		query string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "subjects <essay|characterization>",
		Short: "List or search the subjects works are written about",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := works.ParseType(args[0])
			if err != nil {
				return err
			}
			rt, err := load()
			if err != nil {
				return err
			}
			client, err := rt.gateway(rt.cliToken())
			if err != nil {
				return err
			}

			var meiliClient *search.Meili
			if strings.TrimSpace(rt.cfg.MeiliURL) != "" {
				meiliClient = search.NewMeili(rt.cfg.MeiliURL, rt.cfg.MeiliKey, rt.logger)
			}
			svc := search.NewService(meiliClient, subject.NewResolver(client), rt.logger)
			defer svc.Close()

			resp, err := svc.Search(cmd.Context(), search.Query{Text: query, Type: string(typ), Limit: limit})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLUG\tNAME\tCREATOR\tWORKS")
			for _, s := range resp.Results {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", s.URL, s.Name, s.Creator, s.WorkCount)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "name prefix to search for")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of results")
	return cmd
}
