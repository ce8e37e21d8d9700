package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/wallet"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("billing: not found")
	ErrAlreadyExists = errors.New("billing: already exists")
	ErrInvalidInput  = errors.New("billing: invalid input")

	// Command errors
	ErrCommandNotFound      = errors.New("billing: command not found")
	ErrCommandNotRegistered = errors.New("billing: command not registered or inactive")

	// Policy errors
	ErrPolicyNotFound = errors.New("billing: policy not found")

	// Wallet errors
	ErrWalletNotFound           = errors.New("billing: wallet not found")
	ErrWalletScopeUnsatisfiable = errors.New("billing: wallet scope cannot be satisfied by actor")
	ErrWalletInactive           = wallet.ErrInactive
	ErrInsufficientCredit       = wallet.ErrInsufficientCredit

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	ErrNoActiveSubscription = errors.New("billing: no active subscription")
	ErrSubscriptionCanceled = errors.New("billing: subscription is canceled")

	// Store errors
	ErrStoreClosed       = errors.New("billing: store is closed")
	ErrStoreFailure      = errors.New("billing: store operation failed")
	ErrTransactionFailed = errors.New("billing: transaction failed")
	ErrMigrationFailed   = errors.New("billing: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("billing: validation failed for %s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match ErrInvalidInput.
func (e ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

// MultiError represents multiple errors that occurred.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "billing: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("billing: %d errors occurred", len(e.Errors))
}

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// First returns the first error or nil.
func (e MultiError) First() error {
	if len(e.Errors) > 0 {
		return e.Errors[0]
	}
	return nil
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error {
	return e.Errors
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrCommandNotFound) ||
		errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound)
}

// IsConfigurationError returns true for errors caused by how commands,
// policies or actors are set up. Retrying them cannot succeed.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrCommandNotRegistered) ||
		errors.Is(err, ErrWalletScopeUnsatisfiable) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, policy.ErrInvalid) ||
		errors.Is(err, scope.ErrEmptyTarget) ||
		errors.Is(err, scope.ErrInvalidPhone)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransactionFailed) ||
		errors.Is(err, ErrStoreFailure) ||
		errors.Is(err, context.DeadlineExceeded)
}

// transactionFailed marks err as a failed wallet transaction unless it
// already carries a more specific classification.
func transactionFailed(op string, err error) error {
	if errors.Is(err, ErrTransactionFailed) || IsConfigurationError(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrTransactionFailed, err)
}

// storeFailure marks a read or admin write failure.
func storeFailure(op string, err error) error {
	if IsNotFound(err) || errors.Is(err, ErrStoreFailure) || errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrNoActiveSubscription) || IsConfigurationError(err) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
}

func invalid(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInvalidInput, err)
}
