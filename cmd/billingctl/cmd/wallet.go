package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/billing"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/wallet"
)

// errDrift makes "wallet reconcile" exit non-zero on an inconsistent ledger.
var errDrift = errors.New("wallet balance does not match its ledger")

func newWalletCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:     "wallet",
		Aliases: []string{"wallets"},
		Short:   "Manage credit wallets",
		Long:    "Top up, inspect and (de)activate credit wallets.\n\n" + targetHelp,
	}
	c.AddCommand(
		newWalletTopUpCmd(a),
		newWalletBalanceCmd(a),
		newWalletHistoryCmd(a),
		newWalletActiveCmd(a, "activate", true),
		newWalletActiveCmd(a, "deactivate", false),
		newWalletReconcileCmd(a),
	)
	return c
}

// targetArg wraps a parse failure with the argument that caused it.
func targetArg(s string) (scope.Target, error) {
	t, err := scope.Parse(s)
	if err != nil {
		return scope.Target{}, fmt.Errorf("invalid target %q: %w", s, err)
	}
	return t, nil
}

// ─── wallet topup ───────────────────────────────────────────────────────────

func newWalletTopUpCmd(a *app) *cobra.Command {
	var ref wallet.Ref
	c := &cobra.Command{
		Use:   "topup TARGET AMOUNT",
		Short: "Credit a wallet, creating it if needed",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := targetArg(args[0])
			if err != nil {
				return err
			}
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", args[1], err)
			}

			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				entry, err := e.TopUp(ctx, target, amount, ref)
				if err != nil {
					return err
				}
				return a.output(cmd.OutOrStdout(), entry, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s +%d balance=%d\n", target, entry.Amount, entry.BalanceAfter)
					return err
				})
			})
		},
	}
	c.Flags().StringVar(&ref.Type, "ref-type", "", "type of the business event, e.g. invoice")
	c.Flags().StringVar(&ref.ID, "ref-id", "", "identifier of the business event")
	c.Flags().StringVar(&ref.Notes, "notes", "", "free-form note stored on the entry")
	return c
}

// ─── wallet balance ─────────────────────────────────────────────────────────

func newWalletBalanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance TARGET",
		Short: "Show the balance of a wallet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := targetArg(args[0])
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				balance, err := e.Balance(ctx, target)
				if err != nil {
					return err
				}
				v := struct {
					Target  scope.Target `json:"target"`
					Balance int64        `json:"balance"`
				}{target, balance}
				return a.output(cmd.OutOrStdout(), v, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s balance=%d\n", target, balance)
					return err
				})
			})
		},
	}
}

// ─── wallet history ─────────────────────────────────────────────────────────

func newWalletHistoryCmd(a *app) *cobra.Command {
	var (
		txType string
		limit  int
		offset int
	)
	c := &cobra.Command{
		Use:   "history TARGET",
		Short: "List ledger entries of a wallet, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := targetArg(args[0])
			if err != nil {
				return err
			}
			opts := wallet.EntryListOpts{Limit: limit, Offset: offset}
			if txType != "" {
				opts.Type = wallet.TxType(strings.ToUpper(txType))
				if !opts.Type.Valid() {
					return fmt.Errorf("invalid entry type %q", txType)
				}
			}

			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				entries, err := e.ListEntries(ctx, target, opts)
				if err != nil {
					return err
				}
				return a.output(cmd.OutOrStdout(), entries, func(w io.Writer) error {
					rows := make([][]string, 0, len(entries))
					for _, en := range entries {
						rows = append(rows, []string{
							formatTime(en.CreatedAt), string(en.Type), strconv.FormatInt(en.Amount, 10),
							strconv.FormatInt(en.BalanceBefore, 10), strconv.FormatInt(en.BalanceAfter, 10),
							orDash(en.CommandID.String()), orDash(en.RefType), orDash(en.RefID),
						})
					}
					return printTable(w, []string{"TIME", "TYPE", "AMOUNT", "BEFORE", "AFTER", "COMMAND", "REF TYPE", "REF ID"}, rows)
				})
			})
		},
	}
	c.Flags().StringVar(&txType, "type", "", "only DEBIT or CREDIT entries")
	c.Flags().IntVar(&limit, "limit", 20, "maximum number of entries (0 for all)")
	c.Flags().IntVar(&offset, "offset", 0, "number of entries to skip")
	return c
}

// ─── wallet activate / deactivate ───────────────────────────────────────────

func newWalletActiveCmd(a *app, use string, active bool) *cobra.Command {
	short := "Deactivate a wallet; charges against it are refused"
	if active {
		short = "Reactivate a wallet"
	}
	return &cobra.Command{
		Use:   use + " TARGET",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := targetArg(args[0])
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				w, err := e.SetWalletActive(ctx, target, active)
				if err != nil {
					return err
				}
				return a.output(cmd.OutOrStdout(), w, func(out io.Writer) error {
					_, err := fmt.Fprintf(out, "%s active=%t balance=%d\n", w.Target, w.Active, w.Balance)
					return err
				})
			})
		},
	}
}

// ─── wallet reconcile ───────────────────────────────────────────────────────

func newWalletReconcileCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile TARGET",
		Short: "Check a wallet balance against its ledger",
		Long: `Compare the stored balance with the sum of credits minus debits and
with the balance_after of the latest entry. Exits non-zero on drift.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := targetArg(args[0])
			if err != nil {
				return err
			}
			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				r, err := e.Reconcile(ctx, target)
				if err != nil {
					return err
				}
				err = a.output(cmd.OutOrStdout(), r, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s balance=%d credits=%d debits=%d entries=%d drift=%d consistent=%t\n",
						target, r.Balance, r.Totals.Credits, r.Totals.Debits, r.Totals.Entries, r.Drift, r.Consistent)
					return err
				})
				if err != nil {
					return err
				}
				if !r.Consistent {
					return errDrift
				}
				return nil
			})
		},
	}
}
