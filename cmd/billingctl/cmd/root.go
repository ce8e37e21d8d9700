// Package cmd provides the billingctl commands.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/billing"
	"github.com/xraph/billing/internal/config"
)

// app carries global flags and the loaded configuration through a single
// command invocation.
type app struct {
	cfgFile    string
	envFile    string
	debug      bool
	jsonOutput bool
	migrate    bool

	cfg    *config.Config
	logger *slog.Logger
}

// Execute runs billingctl with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "billingctl",
		Short: "Administer per-command credit billing",
		Long: `billingctl manages the billing data behind a chat bot: the command
registry, billing policies per group, leasing company or phone number,
credit wallets and subscriptions.

Example:
  billingctl migrate
  billingctl command register report --scope GROUP
  billingctl policy set GROUP:120363@g.us report --mode CREDIT --cost 2
  billingctl wallet topup GROUP:120363@g.us 100 --ref-type invoice --ref-id INV-7
  billingctl charge report --group 120363@g.us`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./"+config.DefaultFile+" if present)")
	flags.StringVar(&a.envFile, "env-file", "", "dotenv file (default is ./.env if present)")
	flags.BoolVar(&a.debug, "debug", false, "enable debug logging")
	flags.BoolVar(&a.jsonOutput, "json", false, "print results as JSON")
	flags.BoolVar(&a.migrate, "migrate", false, "apply pending migrations before running the command")

	root.AddCommand(
		newMigrateCmd(a),
		newCommandCmd(a),
		newPolicyCmd(a),
		newWalletCmd(a),
		newSubscriptionCmd(a),
		newChargeCmd(a),
	)

	return root
}

// setup loads configuration and installs the slog handler.
func (a *app) setup(stderr io.Writer) error {
	cfg, err := config.Load(a.cfgFile, a.envFile)
	if err != nil {
		return err
	}
	a.cfg = cfg

	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}
	if a.debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(cfg.Log.Format, "json") {
		handler = slog.NewJSONHandler(stderr, opts)
	} else {
		handler = slog.NewTextHandler(stderr, opts)
	}
	a.logger = slog.New(handler)
	slog.SetDefault(a.logger)

	return nil
}

// withEngine opens the configured store, builds an engine on it and runs fn.
// The memory driver always migrates since it starts empty.
func (a *app) withEngine(ctx context.Context, fn func(ctx context.Context, e *billing.Engine) error) error {
	s, err := openStore(ctx, a.cfg.Store)
	if err != nil {
		return err
	}

	opts, err := a.cfg.EngineOptions()
	if err != nil {
		_ = s.Close()
		return err
	}
	opts = append(opts, billing.WithLogger(a.logger))

	e := billing.New(s, opts...)
	if a.migrate || a.cfg.Store.Driver == config.DriverMemory {
		if err := e.Start(ctx); err != nil {
			_ = e.Stop()
			return err
		}
	}

	runErr := fn(ctx, e)
	if err := e.Stop(); err != nil && runErr == nil {
		return fmt.Errorf("close store: %w", err)
	}
	return runErr
}
