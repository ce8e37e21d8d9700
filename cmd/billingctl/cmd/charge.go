package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/xraph/billing"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/wallet"
)

func newChargeCmd(a *app) *cobra.Command {
	var (
		actor       scope.Actor
		ref         wallet.Ref
		resolveOnly bool
	)
	c := &cobra.Command{
		Use:   "charge COMMAND",
		Short: "Run the billing decision for a command invocation",
		Long: `Resolve the effective policy for the actor and, unless --resolve-only is
given, charge it exactly as the bot would. Refusals are printed, not
treated as failures.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				if resolveOnly {
					d, err := e.ResolvePolicy(ctx, actor, args[0])
					if err != nil {
						return err
					}
					return a.output(cmd.OutOrStdout(), d, func(w io.Writer) error {
						_, err := fmt.Fprintf(w, "%s: hit=%s enabled=%t mode=%s cost=%d wallet=%s\n",
							d.CommandKey, d.Hit, d.Enabled, d.Mode, d.CreditCost, d.WalletScope)
						return err
					})
				}

				out, err := e.ChargeForCommand(ctx, actor, args[0], ref)
				if err != nil {
					return err
				}
				return a.output(cmd.OutOrStdout(), out, func(w io.Writer) error {
					return printOutcome(w, out)
				})
			})
		},
	}
	c.Flags().StringVar(&actor.GroupID, "group", "", "group the command was sent in (required)")
	c.Flags().StringVar(&actor.LeasingID, "leasing", "", "leasing company of the group")
	c.Flags().StringVar(&actor.Phone, "phone", "", "phone number of the sender")
	c.Flags().StringVar(&ref.Type, "ref-type", "", "type of the business event")
	c.Flags().StringVar(&ref.ID, "ref-id", "", "identifier of the business event")
	c.Flags().BoolVar(&resolveOnly, "resolve-only", false, "only print the effective policy")
	_ = c.MarkFlagRequired("group")
	return c
}

func printOutcome(w io.Writer, out *billing.ChargeOutcome) error {
	d := out.Decision
	_, err := fmt.Fprintf(w, "%s: status=%s allowed=%t hit=%s mode=%s\n",
		d.CommandKey, out.Status, out.Allowed, d.Hit, d.Mode)
	if err != nil {
		return err
	}

	switch out.Status {
	case billing.StatusCharged:
		_, err = fmt.Fprintf(w, "  charged %d to %s, balance %d\n", out.Entry.Amount, out.WalletTarget, out.BalanceAfter)
	case billing.StatusInsufficient:
		_, err = fmt.Fprintf(w, "  %s has %d of %d credits (short %d)\n", out.WalletTarget, out.Balance, out.Required, out.Shortfall)
	case billing.StatusWalletInactive:
		_, err = fmt.Fprintf(w, "  wallet %s is inactive\n", out.WalletTarget)
	case billing.StatusSubscribed:
		_, err = fmt.Fprintf(w, "  covered by subscription %s\n", out.SubscriptionID)
	}
	return err
}
