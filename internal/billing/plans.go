// Package billing provides plan management and billing-state synchronization.
package billing

import (
	"strings"

	"airtime/internal/types"
)

// PlanRegistry defines the authoritative limits for each tier.
// This is the single source of truth for what each plan allows.
type PlanRegistry interface {
	// Resolve returns the resource limits for the given plan identifier.
	// Unknown, empty, or malformed identifiers resolve to the Free limits so
	// admission never hard-fails on a bad plan field. Resolution is
	// deterministic and idempotent, including for promotional aliases.
	Resolve(planID string) (types.PlanTier, types.PlanLimits)
}

// staticPlanRegistry is a compile-time plan registry backed by in-memory maps.
// It implements PlanRegistry and is the standard implementation for production use.
type staticPlanRegistry struct {
	limits  map[types.PlanTier]types.PlanLimits
	aliases map[string]types.PlanTier
}

// planDefaults defines the hardcoded plan limits.
//
//	| Plan     | Quota s/month | Max session | Concurrency |
//	|----------|---------------|-------------|-------------|
//	| Free     | 1,800         | 600s        | 1           |
//	| Starter  | 7,200         | 1,800s      | 1           |
//	| Pro      | 36,000        | 3,600s      | 1           |
//	| Business | 144,000       | 3,600s      | 2           |
var planDefaults = map[types.PlanTier]types.PlanLimits{
	types.PlanFree: {
		QuotaSecondsMonth: 1800,
		MaxSessionSeconds: 600,
		ConcurrencyLimit:  1,
	},
	types.PlanStarter: {
		QuotaSecondsMonth: 7200,
		MaxSessionSeconds: 1800,
		ConcurrencyLimit:  1,
	},
	types.PlanPro: {
		QuotaSecondsMonth: 36000,
		MaxSessionSeconds: 3600,
		ConcurrencyLimit:  1,
	},
	types.PlanBusiness: {
		QuotaSecondsMonth: 144000,
		MaxSessionSeconds: 3600,
		ConcurrencyLimit:  2,
	},
}

// planAliases maps promotional or historical plan identifiers onto the standard
// tiers. Aliases share the target tier's limits exactly; adding an alias must
// never change enforcement behavior for the underlying tier.
var planAliases = map[string]types.PlanTier{
	"trial":      types.PlanFree,
	"pro_launch": types.PlanPro,      // time-limited launch promotion, Pro limits
	"pro_annual": types.PlanPro,      // annual billing variant of Pro
	"team":       types.PlanBusiness, // pre-rename identifier for Business
}

// freeLimits is cached to avoid map lookups on the fallback path.
var freeLimits = planDefaults[types.PlanFree]

// NewStaticPlanRegistry returns a PlanRegistry backed by the hardcoded plan
// limits. This is the standard production implementation; no database or
// external service is required.
func NewStaticPlanRegistry() PlanRegistry {
	// Copy the defaults so callers cannot mutate the package-level variables.
	limits := make(map[types.PlanTier]types.PlanLimits, len(planDefaults))
	for k, v := range planDefaults {
		limits[k] = v
	}
	aliases := make(map[string]types.PlanTier, len(planAliases))
	for k, v := range planAliases {
		aliases[k] = v
	}
	return &staticPlanRegistry{limits: limits, aliases: aliases}
}

// Resolve returns the canonical tier and its limits for the given plan
// identifier. The identifier is normalized (trimmed, lowercased) and alias
// resolution is applied before the limits lookup. Anything unrecognized
// resolves to the Free tier as a safe default.
func (r *staticPlanRegistry) Resolve(planID string) (types.PlanTier, types.PlanLimits) {
	id := strings.ToLower(strings.TrimSpace(planID))
	tier := types.PlanTier(id)
	if alias, ok := r.aliases[id]; ok {
		tier = alias
	}
	if limits, ok := r.limits[tier]; ok {
		return tier, limits
	}
	return types.PlanFree, freeLimits
}
