package billing

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/billing/cache"
	"github.com/xraph/billing/command"
	"github.com/xraph/billing/id"
	"github.com/xraph/billing/plugin"
	"github.com/xraph/billing/policy"
	"github.com/xraph/billing/scope"
)

// Resolver determines the effective policy for a command issued by an
// actor. Precedence is GROUP, then LEASING, then PERSONAL (when enabled),
// then the built-in default. The first match wins; policies never merge.
type Resolver struct {
	commands   command.Store
	policies   policy.Store
	cache      *cache.Cache
	plugins    *plugin.Registry
	logger     *slog.Logger
	commandTTL time.Duration
	policyTTL  time.Duration
	personal   bool
}

// ResolverOption configures a standalone Resolver.
type ResolverOption func(*Resolver)

// ResolveWithTTL sets the command and policy cache lifetimes.
func ResolveWithTTL(commandTTL, policyTTL time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.commandTTL = commandTTL
		r.policyTTL = policyTTL
	}
}

// ResolveWithPersonal enables the PERSONAL precedence level.
func ResolveWithPersonal(enabled bool) ResolverOption {
	return func(r *Resolver) { r.personal = enabled }
}

// NewResolver creates a Resolver outside of an Engine.
func NewResolver(commands command.Store, policies policy.Store, c *cache.Cache, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		commands:   commands,
		policies:   policies,
		cache:      c,
		plugins:    plugin.NewRegistry(),
		logger:     slog.Default(),
		commandTTL: DefaultCommandCacheTTL,
		policyTTL:  DefaultPolicyCacheTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CommandCacheKey is the cache key of a command key lookup.
func CommandCacheKey(key string) string {
	return "command:" + command.NormalizeKey(key)
}

// PolicyCacheKey is the cache key of a policy lookup.
func PolicyCacheKey(target scope.Target, cmdID id.CommandID) string {
	return "policy:" + target.String() + "|" + cmdID.String()
}

// Resolve returns the decision for actor running commandKey. Only an
// unknown or inactive command is an error; missing policies fall through
// to the next precedence level.
func (r *Resolver) Resolve(ctx context.Context, actor scope.Actor, commandKey string) (*policy.Decision, error) {
	if err := actor.Validate(); err != nil {
		return nil, invalid("billing: resolve", err)
	}

	key := command.NormalizeKey(commandKey)
	cmdID, err := r.commandID(ctx, key)
	if err != nil {
		return nil, err
	}

	d, err := r.decide(ctx, actor, key, cmdID)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("policy resolved",
		"command", key,
		"group", actor.GroupID,
		"hit", d.Hit,
		"mode", d.Mode,
		"enabled", d.Enabled,
	)
	r.plugins.EmitPolicyResolved(ctx, actor, d)

	return d, nil
}

func (r *Resolver) decide(ctx context.Context, actor scope.Actor, key string, cmdID id.CommandID) (*policy.Decision, error) {
	if p, err := r.lookup(ctx, actor.GroupTarget(), cmdID); err != nil || p != nil {
		return decision(p, policy.HitGroup, key, err)
	}

	if lt, ok := actor.LeasingTarget(); ok {
		if p, err := r.lookup(ctx, lt, cmdID); err != nil || p != nil {
			return decision(p, policy.HitLeasing, key, err)
		}
	}

	if r.personal {
		if pt, ok := actor.PersonalTarget(); ok {
			if p, err := r.lookup(ctx, pt, cmdID); err != nil || p != nil {
				return decision(p, policy.HitPersonal, key, err)
			}
		}
	}

	return policy.Default(cmdID, key), nil
}

func decision(p *policy.Policy, hit policy.Hit, key string, err error) (*policy.Decision, error) {
	if err != nil {
		return nil, err
	}
	return p.Decide(hit, key), nil
}

func (r *Resolver) commandID(ctx context.Context, key string) (id.CommandID, error) {
	if key == "" {
		return id.Nil, invalid("billing: resolve", errors.New("empty command key"))
	}

	raw, err := r.cache.FetchString(ctx, CommandCacheKey(key), r.commandTTL, func(ctx context.Context) (string, error) {
		r.logger.Debug("command cache miss", "command", key)

		c, err := r.commands.GetCommandByKey(ctx, key)
		if err != nil {
			if IsNotFound(err) {
				return "", ErrCommandNotRegistered
			}
			return "", storeFailure("billing: resolve command", err)
		}
		if !c.Active {
			return "", ErrCommandNotRegistered
		}
		return c.ID.String(), nil
	})
	if err != nil {
		return id.Nil, err
	}
	return id.ParseCommandID(raw)
}

// lookup returns the policy of target for cmdID, or nil when none exists.
// Absence is cached like a hit.
func (r *Resolver) lookup(ctx context.Context, target scope.Target, cmdID id.CommandID) (*policy.Policy, error) {
	return cache.FetchAs(ctx, r.cache, PolicyCacheKey(target, cmdID), r.policyTTL, func(ctx context.Context) (*policy.Policy, error) {
		p, err := r.policies.GetPolicy(ctx, target, cmdID)
		if err != nil {
			if IsNotFound(err) {
				return nil, nil
			}
			return nil, storeFailure("billing: resolve policy", err)
		}
		return p, nil
	})
}

// InvalidatePolicy drops the cached lookup of target's policy for cmdID.
func (r *Resolver) InvalidatePolicy(target scope.Target, cmdID id.CommandID) {
	r.cache.Invalidate(PolicyCacheKey(target, cmdID))
}

// InvalidateCommand drops the cached lookup of a command key.
func (r *Resolver) InvalidateCommand(key string) {
	r.cache.Invalidate(CommandCacheKey(key))
}
