// Package command defines the registry of bot commands that billing
// policies refer to.
package command

import (
	"fmt"
	"strings"

	"github.com/xraph/billing/id"
	"github.com/xraph/billing/types"
)

// Scope restricts where a command may be issued.
type Scope string

const (
	ScopePrivate Scope = "PRIVATE"
	ScopeGroup   Scope = "GROUP"
	ScopeBoth    Scope = "BOTH"
)

// Valid reports whether s is a known command scope.
func (s Scope) Valid() bool {
	switch s {
	case ScopePrivate, ScopeGroup, ScopeBoth:
		return true
	}
	return false
}

// Command is a registered bot command.
type Command struct {
	types.Entity
	ID             id.CommandID `json:"id"`
	Key            string       `json:"key"`
	Description    string       `json:"description,omitempty"`
	Scope          Scope        `json:"scope"`
	RequiresMaster bool         `json:"requires_master"`
	Active         bool         `json:"is_active"`
}

// NormalizeKey lower-cases a command key and strips a leading "/" or "!".
func NormalizeKey(key string) string {
	key = strings.TrimSpace(key)
	key = strings.TrimLeft(key, "/!.")
	return strings.ToLower(key)
}

// Validate normalizes c in place and checks its fields.
func (c *Command) Validate() error {
	c.Key = NormalizeKey(c.Key)
	if c.Key == "" {
		return fmt.Errorf("command: key is required")
	}
	if strings.ContainsAny(c.Key, " \t\n") {
		return fmt.Errorf("command: key %q must not contain whitespace", c.Key)
	}
	if c.Scope == "" {
		c.Scope = ScopeBoth
	}
	if !c.Scope.Valid() {
		return fmt.Errorf("command: unknown scope %q", c.Scope)
	}
	return nil
}
