// Package billing provides per-command credit billing for chat bots.
//
// Billing is designed as a library, not a service. A bot imports it and asks
// the Engine, once per incoming command, whether the command may run and who
// pays for it. It provides:
//
//   - A command registry with per-command activation
//   - Billing policies per chat group, leasing company or phone number
//   - Policy resolution with GROUP > LEASING > PERSONAL > DEFAULT precedence
//   - Credit wallets with an append-only ledger and row-locked debits
//   - Subscription gating for SUBSCRIPTION-mode policies
//   - A bounded, invalidatable cache in front of command and policy lookups
//   - Plugin hooks for metrics (Prometheus) and audit trails
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/billing"
//	    "github.com/xraph/billing/store/postgres"
//	)
//
//	s, err := postgres.Connect(ctx, databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	e := billing.New(s, billing.WithLogger(logger))
//
//	// Start migrates the schema and initializes plugins.
//	if err := e.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer e.Stop()
//
// # Charging a command
//
// The bot resolves the sender and group of a message into an Actor and
// calls ChargeForCommand before running the command:
//
//	out, err := e.ChargeForCommand(ctx, billing.Actor{
//	    GroupID:   "120363@g.us",
//	    LeasingID: "acme",
//	    Phone:     "+62 812 3456 7890",
//	}, "report", wallet.Ref{Type: "message", ID: msgID})
//	if err != nil {
//	    // Configuration problem or store failure; see IsRetryable.
//	}
//	if !out.Allowed {
//	    // out.Status says why: denied, insufficient, wallet_inactive,
//	    // no_subscription.
//	}
//
// Refusals are outcomes, never errors. Errors are reserved for
// configuration problems (IsConfigurationError) and store failures
// (IsRetryable).
//
// # Policies
//
// A policy sets whether a command is enabled for a target, how it is billed
// (FREE, CREDIT or SUBSCRIPTION), what it costs and which wallet pays:
//
//	_, err := e.UpsertPolicy(ctx, policy.Input{
//	    Target:      billing.GroupTarget("120363@g.us"),
//	    CommandID:   cmd.ID,
//	    Mode:        policy.ModeCredit,
//	    CreditCost:  2,
//	    WalletScope: scope.TypeLeasing,
//	})
//
// Writes through the Engine invalidate the cached lookup. Surfaces that
// write policies directly to the database must call InvalidatePolicy or
// InvalidateCommand; otherwise readers see the old rule until the cache
// TTL expires.
//
// # Wallets
//
// Every debit and credit runs in one transaction holding the wallet's row
// lock, so concurrent charges against a wallet never overdraw it. Each
// mutation appends an Entry recording the balance before and after.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	cmd_01h2xcejqtf2nbrexx3vqjhp41  // Command ID
//	pol_01h2xcejqtf2nbrexx3vqjhp41  // Policy ID
//	wal_01h455vb4pex5vsknk084sn02q  // Wallet ID
//	wtx_01h455vb4pex5vsknk084sn02q  // Ledger entry ID
//	sub_01h455vb4pex5vsknk084sn02q  // Subscription ID
package billing
