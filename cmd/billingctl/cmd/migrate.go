package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/billing"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the billing schema",
		Long: `Apply every pending migration of the configured store. Running it
again is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.migrate = true
			return a.withEngine(cmd.Context(), func(_ context.Context, _ *billing.Engine) error {
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", a.cfg.Store.Driver)
				return err
			})
		},
	}
}
