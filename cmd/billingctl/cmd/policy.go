package cmd

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/xraph/billing"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
)

const targetHelp = `TARGET is TYPE:key where TYPE is GROUP, LEASING or PERSONAL, for
example GROUP:120363@g.us, LEASING:acme or PERSONAL:+62 812 3456 7890.`

func newPolicyCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:     "policy",
		Aliases: []string{"policies"},
		Short:   "Manage billing policies",
		Long:    "Manage the billing policy of a command for one group, leasing company or phone.\n\n" + targetHelp,
	}
	c.AddCommand(
		newPolicySetCmd(a),
		newPolicyDeleteCmd(a),
		newPolicyListCmd(a),
	)
	return c
}

// ─── policy set ─────────────────────────────────────────────────────────────

func newPolicySetCmd(a *app) *cobra.Command {
	var (
		mode        string
		cost        int64
		walletScope string
		disabled    bool
		useCredit   bool
	)
	c := &cobra.Command{
		Use:   "set TARGET COMMAND",
		Short: "Create or replace the policy of a command for a target",
		Long: `Create or replace the policy of a command for a target. The write
invalidates the cached lookup, so the next charge observes it.

` + targetHelp,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := scope.Parse(args[0])
			if err != nil {
				return err
			}

			in := policy.Input{
				Target:     target,
				CreditCost: cost,
			}
			if mode != "" {
				if in.Mode, err = policy.ParseMode(mode); err != nil {
					return err
				}
			}
			if walletScope != "" {
				if in.WalletScope, err = scope.ParseType(walletScope); err != nil {
					return err
				}
			}
			if cmd.Flags().Changed("disabled") {
				enabled := !disabled
				in.Enabled = &enabled
			}
			if cmd.Flags().Changed("use-credit") {
				in.UseCredit = &useCredit
			}

			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				c, err := e.GetCommand(ctx, args[1])
				if err != nil {
					return err
				}
				in.CommandID = c.ID

				p, err := e.UpsertPolicy(ctx, in)
				if err != nil {
					return err
				}
				return a.output(cmd.OutOrStdout(), p, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s %s: enabled=%t mode=%s cost=%d wallet=%s\n",
						p.Target, c.Key, p.Enabled, p.Mode, p.CreditCost, p.WalletScope)
					return err
				})
			})
		},
	}
	c.Flags().StringVar(&mode, "mode", "", "billing mode: FREE, CREDIT or SUBSCRIPTION")
	c.Flags().Int64Var(&cost, "cost", 0, "credits charged per use")
	c.Flags().StringVar(&walletScope, "wallet-scope", "", "wallet that pays: GROUP, LEASING or PERSONAL (default GROUP)")
	c.Flags().BoolVar(&disabled, "disabled", false, "refuse the command for this target")
	c.Flags().BoolVar(&useCredit, "use-credit", false, "legacy switch; selects CREDIT when --mode is not given")
	return c
}

// ─── policy delete ──────────────────────────────────────────────────────────

func newPolicyDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete TARGET COMMAND",
		Short: "Delete the policy of a command for a target",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := scope.Parse(args[0])
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				c, err := e.GetCommand(ctx, args[1])
				if err != nil {
					return err
				}
				if err := e.DeletePolicy(ctx, target, c.ID); err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s %s\n", target, c.Key)
				return err
			})
		},
	}
}

// ─── policy list ────────────────────────────────────────────────────────────

func newPolicyListCmd(a *app) *cobra.Command {
	var (
		targetFlag  string
		commandFlag string
		limit       int
	)
	c := &cobra.Command{
		Use:   "list",
		Short: "List policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts := policy.ListOpts{Limit: limit}
			if targetFlag != "" {
				target, err := scope.Parse(targetFlag)
				if err != nil {
					return err
				}
				opts.Target = target
			}

			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				if commandFlag != "" {
					c, err := e.GetCommand(ctx, commandFlag)
					if err != nil {
						return err
					}
					opts.CommandID = c.ID
				}

				ps, err := e.ListPolicies(ctx, opts)
				if err != nil {
					return err
				}
				return a.output(cmd.OutOrStdout(), ps, func(w io.Writer) error {
					rows := make([][]string, 0, len(ps))
					for _, p := range ps {
						rows = append(rows, []string{
							p.Target.String(), p.CommandID.String(), strconv.FormatBool(p.Enabled),
							string(p.Mode), strconv.FormatInt(p.CreditCost, 10), string(p.WalletScope),
						})
					}
					return printTable(w, []string{"TARGET", "COMMAND", "ENABLED", "MODE", "COST", "WALLET"}, rows)
				})
			})
		},
	}
	c.Flags().StringVar(&targetFlag, "target", "", "only list policies of this target")
	c.Flags().StringVar(&commandFlag, "command", "", "only list policies of this command key")
	c.Flags().IntVar(&limit, "limit", 0, "maximum number of policies (0 for all)")
	return c
}
