package subscription

import (
	"context"
	"time"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/scope"
)

type Store interface {
	CreateSubscription(ctx context.Context, s *Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	// FindActiveSubscription returns a subscription of target covering
	// cmdID at t. Command-specific subscriptions are preferred over
	// all-command ones.
	FindActiveSubscription(ctx context.Context, target scope.Target, cmdID id.CommandID, at time.Time) (*Subscription, error)
	ListSubscriptions(ctx context.Context, target scope.Target, opts ListOpts) ([]*Subscription, error)
	CancelSubscription(ctx context.Context, subID id.SubscriptionID, canceledAt time.Time) error
}

type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
