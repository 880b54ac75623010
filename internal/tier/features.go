package tier

// FeatureSet is the capability map a tier unlocks. It is derived from the
// catalogue only — stored copies on a business record are a cache that is
// recomputed at every tier transition, never hand-edited.
type FeatureSet struct {
	CanRespondToReviews        bool `json:"canRespondToReviews"`
	CanAccessAnalytics         bool `json:"canAccessAnalytics"`
	CanAccessAdvancedAnalytics bool `json:"canAccessAdvancedAnalytics"`
	CanBeFeatured              bool `json:"canBeFeatured"`
	HasAPIAccess               bool `json:"hasAPIAccess"`
	HasDedicatedSupport        bool `json:"hasDedicatedSupport"`
	VerifiedBadge              bool `json:"verifiedBadge"`
	PrioritySupport            bool `json:"prioritySupport"`
	CustomIntegrations         bool `json:"customIntegrations"`
	WhiteLabel                 bool `json:"whiteLabel"`
	MaxLocations               int  `json:"maxLocations"`
}

// Limits are numeric usage ceilings per tier. -1 means unlimited.
type Limits struct {
	ReviewResponses          int `json:"reviewResponses"`
	AnalyticsHistoryDays     int `json:"analyticsHistoryDays"`
	FeaturedListingsPerMonth int `json:"featuredListingsPerMonth"`
	APICallsPerMonth         int `json:"apiCallsPerMonth,omitempty"`
}

// Features returns the capability set for a tier. It is pure and
// deterministic. An unknown tier returns ErrUnknownTier; callers on the
// tier-transition commit path must treat that as a configuration fault,
// never substitute a default.
func (c *Catalog) Features(t Tier) (FeatureSet, error) {
	p, ok := c.plans[t]
	if !ok {
		return FeatureSet{}, ErrUnknownTier
	}
	return p.Features, nil
}

// Limits returns the usage ceilings for a tier.
func (c *Catalog) Limits(t Tier) (Limits, error) {
	p, ok := c.plans[t]
	if !ok {
		return Limits{}, ErrUnknownTier
	}
	return p.Limits, nil
}

// CanAccess reports whether a tier unlocks the named boolean capability.
// Unknown tiers and unknown feature names are both false.
func (c *Catalog) CanAccess(t Tier, feature string) bool {
	fs, err := c.Features(t)
	if err != nil {
		return false
	}
	switch feature {
	case "canRespondToReviews":
		return fs.CanRespondToReviews
	case "canAccessAnalytics":
		return fs.CanAccessAnalytics
	case "canAccessAdvancedAnalytics":
		return fs.CanAccessAdvancedAnalytics
	case "canBeFeatured":
		return fs.CanBeFeatured
	case "hasAPIAccess":
		return fs.HasAPIAccess
	case "hasDedicatedSupport":
		return fs.HasDedicatedSupport
	case "verifiedBadge":
		return fs.VerifiedBadge
	case "prioritySupport":
		return fs.PrioritySupport
	case "customIntegrations":
		return fs.CustomIntegrations
	case "whiteLabel":
		return fs.WhiteLabel
	default:
		return false
	}
}
