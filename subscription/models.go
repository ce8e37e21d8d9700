// Package subscription defines the entitlements that satisfy
// SUBSCRIPTION-mode policies.
package subscription

import (
	"time"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/types"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// Subscription entitles Target to run CommandID, or every command when
// CommandID is nil, during [CurrentPeriodStart, CurrentPeriodEnd).
type Subscription struct {
	types.Entity
	ID                 id.SubscriptionID `json:"id"`
	Target             scope.Target      `json:"target"`
	CommandID          id.CommandID      `json:"command_id,omitempty"`
	Status             Status            `json:"status"`
	CurrentPeriodStart time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   time.Time         `json:"current_period_end"`
	CanceledAt         *time.Time        `json:"canceled_at,omitempty"`
	Notes              string            `json:"notes,omitempty"`
}

// Covers reports whether s entitles its target to run cmdID at t.
func (s *Subscription) Covers(cmdID id.CommandID, t time.Time) bool {
	if s.Status != StatusActive {
		return false
	}
	if !s.CommandID.IsNil() && s.CommandID != cmdID {
		return false
	}
	return !t.Before(s.CurrentPeriodStart) && t.Before(s.CurrentPeriodEnd)
}
