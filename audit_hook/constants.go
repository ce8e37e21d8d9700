package audithook

// Action constants for audit events.
const (
	// Charge actions
	ActionCommandCharged     = "charge.debited"
	ActionChargeDenied       = "charge.denied"
	ActionInsufficientCredit = "charge.insufficient_credit"

	// Wallet actions
	ActionWalletToppedUp    = "wallet.topped_up"
	ActionWalletActivated   = "wallet.activated"
	ActionWalletDeactivated = "wallet.deactivated"

	// Administration actions
	ActionCommandChanged = "command.changed"
	ActionPolicyUpserted = "policy.upserted"
	ActionPolicyDeleted  = "policy.deleted"

	// Subscription actions
	ActionSubscriptionCreated  = "subscription.created"
	ActionSubscriptionCanceled = "subscription.canceled"
)

// Resource constants for audit events.
const (
	ResourceWallet       = "wallet"
	ResourceCommand      = "command"
	ResourcePolicy       = "policy"
	ResourceSubscription = "subscription"
)

// Category constants for audit events.
const (
	CategoryBilling      = "billing"
	CategoryAccess       = "access"
	CategoryAdmin        = "admin"
	CategorySubscription = "subscription"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
