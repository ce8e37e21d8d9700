package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/xraph/billing"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/subscription"
)

func newSubscriptionCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:     "subscription",
		Aliases: []string{"subscriptions", "sub"},
		Short:   "Manage subscriptions for SUBSCRIPTION-mode policies",
		Long:    "Manage subscriptions for SUBSCRIPTION-mode policies.\n\n" + targetHelp,
	}
	c.AddCommand(
		newSubscriptionCreateCmd(a),
		newSubscriptionCancelCmd(a),
		newSubscriptionListCmd(a),
	)
	return c
}

func newSubscriptionCreateCmd(a *app) *cobra.Command {
	var (
		commandKey string
		period     time.Duration
		notes      string
	)
	c := &cobra.Command{
		Use:   "create TARGET",
		Short: "Subscribe a target to one command or to every command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := targetArg(args[0])
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				sub := &subscription.Subscription{Target: target, Notes: notes}
				if commandKey != "" {
					c, err := e.GetCommand(ctx, commandKey)
					if err != nil {
						return err
					}
					sub.CommandID = c.ID
				}
				if period > 0 {
					sub.CurrentPeriodStart = time.Now().UTC()
					sub.CurrentPeriodEnd = sub.CurrentPeriodStart.Add(period)
				}

				if err := e.CreateSubscription(ctx, sub); err != nil {
					return err
				}
				return a.output(cmd.OutOrStdout(), sub, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "subscription %s for %s until %s\n",
						sub.ID, sub.Target, formatTime(sub.CurrentPeriodEnd))
					return err
				})
			})
		},
	}
	c.Flags().StringVar(&commandKey, "command", "", "command key to cover (default every command)")
	c.Flags().DurationVar(&period, "period", billing.DefaultSubscriptionPeriod, "length of the subscription period")
	c.Flags().StringVar(&notes, "notes", "", "free-form note")
	return c
}

func newSubscriptionCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel SUBSCRIPTION_ID",
		Short: "Cancel a subscription immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			subID, err := id.ParseSubscriptionID(args[0])
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				sub, err := e.CancelSubscription(ctx, subID)
				if err != nil {
					return err
				}
				return a.output(cmd.OutOrStdout(), sub, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "canceled %s\n", sub.ID)
					return err
				})
			})
		},
	}
}

func newSubscriptionListCmd(a *app) *cobra.Command {
	var status string
	c := &cobra.Command{
		Use:   "list TARGET",
		Short: "List the subscriptions of a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := targetArg(args[0])
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				subs, err := e.ListSubscriptions(ctx, target, subscription.ListOpts{Status: subscription.Status(status)})
				if err != nil {
					return err
				}
				return a.output(cmd.OutOrStdout(), subs, func(w io.Writer) error {
					rows := make([][]string, 0, len(subs))
					for _, s := range subs {
						rows = append(rows, []string{
							s.ID.String(), string(s.Status), orDash(s.CommandID.String()),
							formatTime(s.CurrentPeriodStart), formatTime(s.CurrentPeriodEnd),
						})
					}
					return printTable(w, []string{"ID", "STATUS", "COMMAND", "START", "END"}, rows)
				})
			})
		},
	}
	c.Flags().StringVar(&status, "status", "", "only active, canceled or expired subscriptions")
	return c
}
