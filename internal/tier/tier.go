// Package tier defines the subscription tier catalogue for the Ratedly
// platform: the ordered set of tiers a business can hold, the features
// each tier unlocks, and the self-serve price table.
package tier

import "errors"

// Errors
var (
	ErrUnknownTier    = errors.New("tier: unknown tier")
	ErrNoPriceForPlan = errors.New("tier: no self-serve price for this tier/cycle/currency")
	ErrNoPlanCode     = errors.New("tier: no gateway plan code for this tier/cycle/currency")
)

// Tier identifies a subscription level. Tiers are totally ordered by rank.
type Tier string

const (
	Basic      Tier = "basic"
	Verified   Tier = "verified"
	Premium    Tier = "premium"
	Enterprise Tier = "enterprise"
)

// Ordered lists all tiers in ascending rank order.
var Ordered = []Tier{Basic, Verified, Premium, Enterprise}

// Rank returns the position of a tier in the upgrade order, or -1 for an
// unknown tier. A request is only an upgrade when the requested tier's
// rank is strictly greater than the current one.
func Rank(t Tier) int {
	for i, known := range Ordered {
		if known == t {
			return i
		}
	}
	return -1
}

// Valid reports whether t is a recognised tier.
func Valid(t Tier) bool {
	return Rank(t) >= 0
}

// Valid is shorthand for the package-level Valid.
func (t Tier) Valid() bool {
	return Valid(t)
}

// Outranks reports whether t is a strictly higher tier than other.
// Unknown tiers never outrank anything.
func (t Tier) Outranks(other Tier) bool {
	r := Rank(t)
	return r >= 0 && r > Rank(other)
}

// BillingCycle is the pricing period for a paid subscription.
type BillingCycle string

const (
	Monthly BillingCycle = "monthly"
	Annual  BillingCycle = "annual"
)

// ValidCycle reports whether c is a recognised billing cycle.
func ValidCycle(c BillingCycle) bool {
	return c == Monthly || c == Annual
}

// Currency is a supported settlement currency. Amounts are always stored
// in the currency's minor unit (kobo for NGN, cents for USD).
type Currency string

const (
	NGN Currency = "NGN"
	USD Currency = "USD"
)

// ValidCurrency reports whether c is a supported currency.
func ValidCurrency(c Currency) bool {
	return c == NGN || c == USD
}
