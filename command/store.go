package command

import (
	"context"

	"github.com/xraph/billing/id"
)

// Store persists registered commands.
type Store interface {
	CreateCommand(ctx context.Context, c *Command) error
	GetCommand(ctx context.Context, cmdID id.CommandID) (*Command, error)
	GetCommandByKey(ctx context.Context, key string) (*Command, error)
	ListCommands(ctx context.Context, opts ListOpts) ([]*Command, error)
	UpdateCommand(ctx context.Context, c *Command) error
}

// ListOpts filters ListCommands.
type ListOpts struct {
	ActiveOnly bool
	Limit      int
	Offset     int
}
