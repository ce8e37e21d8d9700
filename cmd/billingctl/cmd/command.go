package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/xraph/billing"
	"github.com/xraph/billing/command"
)

func newCommandCmd(a *app) *cobra.Command {
	c := &cobra.Command{
		Use:     "command",
		Aliases: []string{"commands", "cmd"},
		Short:   "Manage the command registry",
	}
	c.AddCommand(
		newCommandRegisterCmd(a),
		newCommandSeedCmd(a),
		newCommandListCmd(a),
		newCommandActiveCmd(a, "disable", false),
		newCommandActiveCmd(a, "enable", true),
	)
	return c
}

// ─── command register ───────────────────────────────────────────────────────

func newCommandRegisterCmd(a *app) *cobra.Command {
	var (
		scope          string
		description    string
		requiresMaster bool
	)
	c := &cobra.Command{
		Use:   "register KEY",
		Short: "Register a bot command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := &command.Command{
				Key:            args[0],
				Description:    description,
				Scope:          command.Scope(strings.ToUpper(scope)),
				RequiresMaster: requiresMaster,
				Active:         true,
			}
			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				if err := e.RegisterCommand(ctx, in); err != nil {
					return err
				}
				return a.output(cmd.OutOrStdout(), in, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "registered %s (%s)\n", in.Key, in.ID)
					return err
				})
			})
		},
	}
	c.Flags().StringVar(&scope, "scope", string(command.ScopeBoth), "where the command may run: PRIVATE, GROUP or BOTH")
	c.Flags().StringVar(&description, "description", "", "human-readable description")
	c.Flags().BoolVar(&requiresMaster, "requires-master", false, "restrict the command to the group master")
	return c
}

// ─── command seed ───────────────────────────────────────────────────────────

// seedFile is the YAML layout accepted by "command seed".
type seedFile struct {
	Commands []struct {
		Key            string `yaml:"key"`
		Description    string `yaml:"description"`
		Scope          string `yaml:"scope"`
		RequiresMaster bool   `yaml:"requires_master"`
	} `yaml:"commands"`
}

func newCommandSeedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed FILE",
		Short: "Register every command listed in a YAML file",
		Long: `Register the commands listed in a YAML file. Keys that already exist are
reported as errors; the rest are still registered.

Example file:
  commands:
    - key: report
      scope: GROUP
      description: Daily fleet report`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var f seedFile
			if err := yaml.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			cmds := make([]*command.Command, 0, len(f.Commands))
			for _, c := range f.Commands {
				cmds = append(cmds, &command.Command{
					Key:            c.Key,
					Description:    c.Description,
					Scope:          command.Scope(strings.ToUpper(c.Scope)),
					RequiresMaster: c.RequiresMaster,
					Active:         true,
				})
			}

			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				err := e.RegisterCommands(ctx, cmds...)
				registered := len(cmds)
				var multi billing.MultiError
				if errors.As(err, &multi) {
					registered -= len(multi.Errors)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "registered %d of %d commands\n", registered, len(cmds))
				return err
			})
		},
	}
}

// ─── command list ───────────────────────────────────────────────────────────

func newCommandListCmd(a *app) *cobra.Command {
	var activeOnly bool
	c := &cobra.Command{
		Use:   "list",
		Short: "List registered commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				cmds, err := e.ListCommands(ctx, command.ListOpts{ActiveOnly: activeOnly})
				if err != nil {
					return err
				}
				return a.output(cmd.OutOrStdout(), cmds, func(w io.Writer) error {
					rows := make([][]string, 0, len(cmds))
					for _, c := range cmds {
						rows = append(rows, []string{
							c.Key, string(c.Scope), strconv.FormatBool(c.Active),
							strconv.FormatBool(c.RequiresMaster), c.ID.String(), orDash(c.Description),
						})
					}
					return printTable(w, []string{"KEY", "SCOPE", "ACTIVE", "MASTER", "ID", "DESCRIPTION"}, rows)
				})
			})
		},
	}
	c.Flags().BoolVar(&activeOnly, "active", false, "only list active commands")
	return c
}

// ─── command disable / enable ───────────────────────────────────────────────

func newCommandActiveCmd(a *app, use string, active bool) *cobra.Command {
	short := "Deactivate a command so it is refused everywhere"
	if active {
		short = "Reactivate a command"
	}
	return &cobra.Command{
		Use:   use + " KEY",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withEngine(cmd.Context(), func(ctx context.Context, e *billing.Engine) error {
				c, err := e.SetCommandActive(ctx, args[0], active)
				if err != nil {
					return err
				}
				return a.output(cmd.OutOrStdout(), c, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s active=%t\n", c.Key, c.Active)
					return err
				})
			})
		},
	}
}
