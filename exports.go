package billing

import (
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/types"
)

// Re-export common types for convenience so callers of the charge path only
// need to import this package.

// ID is the primary identifier type for all billing entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

// Entity is re-exported from types package.
type Entity = types.Entity

// Actor is the identity of whoever issued a command.
type Actor = scope.Actor

// Target identifies the owner of a policy or wallet.
type Target = scope.Target

// Re-export target constructors
var (
	GroupTarget    = scope.Group
	LeasingTarget  = scope.Leasing
	PersonalTarget = scope.Personal
	ParseTarget    = scope.Parse
)
