package policy

import (
	"context"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/scope"
)

// Store persists policies. Lookups are by (target, command).
type Store interface {
	// UpsertPolicy inserts p or replaces the policy already stored for the
	// same (target, command), keeping that row's ID and CreatedAt. p is
	// updated in place with the persisted ID and CreatedAt.
	UpsertPolicy(ctx context.Context, p *Policy) error
	GetPolicy(ctx context.Context, target scope.Target, cmdID id.CommandID) (*Policy, error)
	ListPolicies(ctx context.Context, opts ListOpts) ([]*Policy, error)
	DeletePolicy(ctx context.Context, target scope.Target, cmdID id.CommandID) error
}

// ListOpts filters ListPolicies. Zero values match everything.
type ListOpts struct {
	Target    scope.Target
	CommandID id.CommandID
	Limit     int
	Offset    int
}
