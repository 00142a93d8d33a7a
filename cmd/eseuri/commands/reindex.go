package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/search"
	"github.com/FiveIT/eseuri/internal/subject"
	"github.com/spf13/cobra"
)

func NewReindexCommand(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the Meilisearch subject index from Hasura",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := load()
			if err != nil {
				return err
			}
			if strings.TrimSpace(rt.cfg.MeiliURL) == "" {
				return errors.New("meili.url is not configured")
			}
			client, err := rt.gateway(nil)
			if err != nil {
				return err
			}

			meiliClient := search.NewMeili(rt.cfg.MeiliURL, rt.cfg.MeiliKey, rt.logger)
			svc := search.NewService(meiliClient, subject.NewResolver(client), rt.logger)
			defer svc.Close()

			// The catalogue is read with the admin secret so every subject is visible.
			n, err := svc.Reindex(gateway.WithPromotion(cmd.Context()))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d subjects\n", n)
			return nil
		},
	}
}
