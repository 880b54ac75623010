package tier

// PriceKey addresses one entry in a plan's price table.
type PriceKey struct {
	Currency Currency
	Cycle    BillingCycle
}

// Plan holds the full definition of one tier: display metadata, the
// capability set, usage limits, and the self-serve price table.
type Plan struct {
	Tier          Tier               `json:"tier"`
	Name          string             `json:"name"`
	DisplayName   string             `json:"displayName"`
	Description   string             `json:"description"`
	Popular       bool               `json:"popular"`
	CustomPricing bool               `json:"customPricing"`
	TrialEligible bool               `json:"trialEligible"`
	Features      FeatureSet         `json:"features"`
	Limits        Limits             `json:"limits"`
	Prices        map[PriceKey]int64  `json:"-"` // minor units; absent key = not self-serve
	PlanCodes     map[PriceKey]string `json:"-"` // gateway recurring-plan codes
	AnnualSavings map[Currency]int64  `json:"-"` // minor units saved vs 12x monthly
}

// Catalog is the immutable, ordered tier catalogue. It is loaded once at
// process start and passed explicitly to every component that needs it,
// so tests can inject their own.
type Catalog struct {
	plans map[Tier]Plan
}

// NewCatalog builds a catalogue from plan definitions. Later duplicates
// overwrite earlier ones.
func NewCatalog(plans ...Plan) *Catalog {
	c := &Catalog{plans: make(map[Tier]Plan, len(plans))}
	for _, p := range plans {
		c.plans[p.Tier] = p
	}
	return c
}

// Plan returns the definition for a tier.
func (c *Catalog) Plan(t Tier) (Plan, error) {
	p, ok := c.plans[t]
	if !ok {
		return Plan{}, ErrUnknownTier
	}
	return p, nil
}

// Plans returns all defined plans in ascending rank order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, t := range Ordered {
		if p, ok := c.plans[t]; ok {
			out = append(out, p)
		}
	}
	return out
}

// Price resolves the self-serve amount in minor units for a tier, cycle,
// and currency. Tiers flagged customPricing have no self-serve price at
// all; other missing entries also return ErrNoPriceForPlan.
func (c *Catalog) Price(t Tier, cycle BillingCycle, cur Currency) (int64, error) {
	p, ok := c.plans[t]
	if !ok {
		return 0, ErrUnknownTier
	}
	if p.CustomPricing {
		return 0, ErrNoPriceForPlan
	}
	amount, ok := p.Prices[PriceKey{Currency: cur, Cycle: cycle}]
	if !ok {
		return 0, ErrNoPriceForPlan
	}
	return amount, nil
}

// PlanCode resolves the gateway recurring-plan code for a tier, cycle,
// and currency.
func (c *Catalog) PlanCode(t Tier, cycle BillingCycle, cur Currency) (string, error) {
	p, ok := c.plans[t]
	if !ok {
		return "", ErrUnknownTier
	}
	code, ok := p.PlanCodes[PriceKey{Currency: cur, Cycle: cycle}]
	if !ok {
		return "", ErrNoPlanCode
	}
	return code, nil
}

// TrialEligible reports whether a tier can be granted as a free trial.
func (c *Catalog) TrialEligible(t Tier) bool {
	p, ok := c.plans[t]
	return ok && p.TrialEligible
}

// DefaultCatalog returns the production tier catalogue.
//
// Prices are in minor units: kobo for NGN, cents for USD. Enterprise is
// custom-priced and deliberately carries no self-serve price table; any
// payment-type upgrade request for it fails at creation.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		Plan{
			Tier:        Basic,
			Name:        "Basic",
			DisplayName: "Basic (Free)",
			Description: "Free tier for trial users and small businesses",
			Features: FeatureSet{
				MaxLocations: 1,
			},
			Limits: Limits{
				ReviewResponses:      0,
				AnalyticsHistoryDays: 0,
			},
			Prices: map[PriceKey]int64{
				{NGN, Monthly}: 0,
				{NGN, Annual}:  0,
				{USD, Monthly}: 0,
				{USD, Annual}:  0,
			},
		},
		Plan{
			Tier:          Verified,
			Name:          "Verified",
			DisplayName:   "Verified Business",
			Description:   "Perfect for SMEs and established businesses",
			Popular:       true,
			TrialEligible: true,
			Features: FeatureSet{
				CanRespondToReviews: true,
				CanAccessAnalytics:  true,
				VerifiedBadge:       true,
				PrioritySupport:     true,
				MaxLocations:        1,
			},
			Limits: Limits{
				ReviewResponses:      -1,
				AnalyticsHistoryDays: 90,
			},
			Prices: map[PriceKey]int64{
				{NGN, Monthly}: 500_000,   // ₦5,000
				{NGN, Annual}:  5_000_000, // ₦50,000
				{USD, Monthly}: 357,
				{USD, Annual}:  3571,
			},
			PlanCodes: map[PriceKey]string{
				{NGN, Monthly}: "PLN_rrtvrpb3ht84h4g",
				{NGN, Annual}:  "PLN_1de7t72n5xk4arl",
			},
			AnnualSavings: map[Currency]int64{
				NGN: 1_000_000,
				USD: 71,
			},
		},
		Plan{
			Tier:        Premium,
			Name:        "Premium",
			DisplayName: "Premium Business",
			Description: "For growing businesses and multi-location chains",
			Features: FeatureSet{
				CanRespondToReviews:        true,
				CanAccessAnalytics:         true,
				CanAccessAdvancedAnalytics: true,
				CanBeFeatured:              true,
				HasAPIAccess:               true,
				VerifiedBadge:              true,
				PrioritySupport:            true,
				MaxLocations:               5,
			},
			Limits: Limits{
				ReviewResponses:          -1,
				AnalyticsHistoryDays:     365,
				FeaturedListingsPerMonth: 3,
			},
			Prices: map[PriceKey]int64{
				{NGN, Monthly}: 1_500_000,  // ₦15,000
				{NGN, Annual}:  15_000_000, // ₦150,000
				{USD, Monthly}: 1071,
				{USD, Annual}:  10714,
			},
			PlanCodes: map[PriceKey]string{
				{NGN, Monthly}: "PLN_p6l3zhfd3kymrbj",
				{NGN, Annual}:  "PLN_n91zqdbajgxtw6f",
			},
			AnnualSavings: map[Currency]int64{
				NGN: 3_000_000,
				USD: 214,
			},
		},
		Plan{
			Tier:          Enterprise,
			Name:          "Enterprise",
			DisplayName:   "Enterprise",
			Description:   "For large corporations with custom needs",
			CustomPricing: true,
			Features: FeatureSet{
				CanRespondToReviews:        true,
				CanAccessAnalytics:         true,
				CanAccessAdvancedAnalytics: true,
				CanBeFeatured:              true,
				HasAPIAccess:               true,
				HasDedicatedSupport:        true,
				VerifiedBadge:              true,
				PrioritySupport:            true,
				CustomIntegrations:         true,
				WhiteLabel:                 true,
				MaxLocations:               999,
			},
			Limits: Limits{
				ReviewResponses:          -1,
				AnalyticsHistoryDays:     -1,
				FeaturedListingsPerMonth: -1,
				APICallsPerMonth:         100_000,
			},
		},
	)
}
