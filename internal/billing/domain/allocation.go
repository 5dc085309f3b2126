package billing

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"
)

const shareTolerance = 1e-6

// FixedCostPool names the subscription being split.
type FixedCostPool string

const (
	PoolRetailer FixedCostPool = "retailer"
	PoolGrid     FixedCostPool = "grid"
)

// ZoneAllocationRule is one zone's share of the fixed monthly subscriptions.
type ZoneAllocationRule struct {
	ZoneID                          string
	SubscriptionShare               float64
	ContributesToSharedSubscription bool
}

// AllocationPolicy splits fixed subscriptions over zones.
type AllocationPolicy struct {
	HomeZoneID string
	Rules      []ZoneAllocationRule
}

// Validate checks shares and that every rule names a known zone.
func (p AllocationPolicy) Validate(zoneIDs []string) error {
	known := make(map[string]struct{}, len(zoneIDs))
	for _, id := range zoneIDs {
		known[id] = struct{}{}
	}
	if p.HomeZoneID == "" {
		return configurationError("allocation policy has no home zone")
	}
	if _, ok := known[p.HomeZoneID]; !ok {
		return configurationError("home zone %q is not a configured zone", p.HomeZoneID)
	}
	if len(p.Rules) == 0 {
		return configurationError("allocation policy has no rules")
	}
	seen := make(map[string]struct{}, len(p.Rules))
	var sum float64
	for _, r := range p.Rules {
		if _, ok := known[r.ZoneID]; !ok {
			return configurationError("allocation rule for unknown zone %q", r.ZoneID)
		}
		if _, dup := seen[r.ZoneID]; dup {
			return configurationError("duplicate allocation rule for zone %q", r.ZoneID)
		}
		seen[r.ZoneID] = struct{}{}
		if r.SubscriptionShare < 0 || r.SubscriptionShare > 1 || math.IsNaN(r.SubscriptionShare) {
			return configurationError("share %v of zone %q out of range", r.SubscriptionShare, r.ZoneID)
		}
		sum += r.SubscriptionShare
	}
	if math.Abs(sum-1) > shareTolerance {
		return configurationError("allocation shares sum to %v, want 1", sum)
	}
	return nil
}

// FixedAllocation is either a SubscriptionCharge or a SubscriptionContribution.
type FixedAllocation interface {
	AllocationPool() FixedCostPool
	AllocationZone() string
	AllocationAmount() decimal.Decimal
	fixedAllocation()
}

// SubscriptionCharge is a zone's own share of a subscription, ex VAT.
type SubscriptionCharge struct {
	Pool        FixedCostPool
	ZoneID      string
	Share       float64
	AmountExVAT decimal.Decimal
}

// SubscriptionContribution is a sub-tenant's reimbursement toward a shared
// subscription, ex VAT. It is never a charge of the home zone.
type SubscriptionContribution struct {
	Pool        FixedCostPool
	ZoneID      string
	Share       float64
	AmountExVAT decimal.Decimal
}

func (c SubscriptionCharge) AllocationPool() FixedCostPool     { return c.Pool }
func (c SubscriptionCharge) AllocationZone() string            { return c.ZoneID }
func (c SubscriptionCharge) AllocationAmount() decimal.Decimal { return c.AmountExVAT }
func (SubscriptionCharge) fixedAllocation()                    {}

func (c SubscriptionContribution) AllocationPool() FixedCostPool     { return c.Pool }
func (c SubscriptionContribution) AllocationZone() string            { return c.ZoneID }
func (c SubscriptionContribution) AllocationAmount() decimal.Decimal { return c.AmountExVAT }
func (SubscriptionContribution) fixedAllocation()                    {}

// InDisplayOrder returns a copy with rules sorted by the position of their
// zone in zoneIDs. Rules for zones not listed keep their order at the end.
func (p AllocationPolicy) InDisplayOrder(zoneIDs []string) AllocationPolicy {
	pos := make(map[string]int, len(zoneIDs))
	for i, id := range zoneIDs {
		pos[id] = i
	}
	rank := func(r ZoneAllocationRule) int {
		if i, ok := pos[r.ZoneID]; ok {
			return i
		}
		return len(zoneIDs)
	}
	rules := make([]ZoneAllocationRule, len(p.Rules))
	copy(rules, p.Rules)
	sort.SliceStable(rules, func(i, j int) bool { return rank(rules[i]) < rank(rules[j]) })
	p.Rules = rules
	return p
}

// Allocate splits amount by share. Each part is rounded to öre and the
// rounding remainder lands on the largest-share zone (first rule on ties), so
// the parts always sum to the rounded amount. Zero-share zones get nothing.
func (p AllocationPolicy) Allocate(pool FixedCostPool, amount decimal.Decimal) []FixedAllocation {
	total := amount.Round(2)
	parts := make([]decimal.Decimal, len(p.Rules))
	largest := -1
	allocated := decimal.Zero
	for i, r := range p.Rules {
		if r.SubscriptionShare <= 0 {
			continue
		}
		parts[i] = total.Mul(decimal.NewFromFloat(r.SubscriptionShare)).Round(2)
		allocated = allocated.Add(parts[i])
		if largest < 0 || r.SubscriptionShare > p.Rules[largest].SubscriptionShare {
			largest = i
		}
	}
	if largest < 0 {
		return nil
	}
	parts[largest] = parts[largest].Add(total.Sub(allocated))

	out := make([]FixedAllocation, 0, len(p.Rules))
	for i, r := range p.Rules {
		if r.SubscriptionShare <= 0 {
			continue
		}
		if r.ContributesToSharedSubscription && r.ZoneID != p.HomeZoneID {
			out = append(out, SubscriptionContribution{Pool: pool, ZoneID: r.ZoneID, Share: r.SubscriptionShare, AmountExVAT: parts[i]})
			continue
		}
		out = append(out, SubscriptionCharge{Pool: pool, ZoneID: r.ZoneID, Share: r.SubscriptionShare, AmountExVAT: parts[i]})
	}
	return out
}
