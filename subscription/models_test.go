package subscription_test

import (
	"testing"
	"time"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/scope"
	"github.com/xraph/billing/subscription"
)

func TestCovers(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	cmd := id.NewCommandID()
	other := id.NewCommandID()

	specific := &subscription.Subscription{
		Target:             scope.Group("g1"),
		CommandID:          cmd,
		Status:             subscription.StatusActive,
		CurrentPeriodStart: start,
		CurrentPeriodEnd:   end,
	}
	all := *specific
	all.CommandID = id.Nil
	canceled := *specific
	canceled.Status = subscription.StatusCanceled

	tests := []struct {
		name string
		sub  *subscription.Subscription
		cmd  id.CommandID
		at   time.Time
		want bool
	}{
		{"inside period", specific, cmd, start.Add(time.Hour), true},
		{"period start inclusive", specific, cmd, start, true},
		{"period end exclusive", specific, cmd, end, false},
		{"before period", specific, cmd, start.Add(-time.Second), false},
		{"other command", specific, other, start.Add(time.Hour), false},
		{"all commands", &all, other, start.Add(time.Hour), true},
		{"canceled", &canceled, cmd, start.Add(time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Covers(tt.cmd, tt.at); got != tt.want {
				t.Errorf("Covers = %v, want %v", got, tt.want)
			}
		})
	}
}
