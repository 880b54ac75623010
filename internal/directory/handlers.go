package directory

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seunadex/ratedly/internal/auth"
	"github.com/seunadex/ratedly/internal/idgen"
	"github.com/seunadex/ratedly/internal/tier"
	"github.com/seunadex/ratedly/internal/validation"
)

// Handler provides the public directory endpoints: registration, profile
// lookup, and the tier catalogue.
type Handler struct {
	store   Store
	catalog *tier.Catalog
	keys    *auth.Manager
}

// NewHandler creates a new directory handler.
func NewHandler(store Store, catalog *tier.Catalog, keys *auth.Manager) *Handler {
	return &Handler{store: store, catalog: catalog, keys: keys}
}

// RegisterRoutes sets up the public routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/businesses", h.RegisterBusiness)
	r.GET("/businesses/:id", h.GetBusiness)
	r.GET("/businesses/:id/features", h.GetFeatures)
	r.GET("/businesses/:id/subscription", h.GetSubscription)
	r.GET("/tiers", h.ListTiers)
}

// RegisterBusinessRequest is the registration body.
type RegisterBusinessRequest struct {
	Name     string `json:"name" binding:"required"`
	Slug     string `json:"slug" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Currency string `json:"currency"`
}

// RegisterBusiness handles POST /v1/businesses. Every business starts on
// the free basic tier; the API key in the response authenticates all
// subsequent owner calls and is shown exactly once.
func (h *Handler) RegisterBusiness(c *gin.Context) {
	var req RegisterBusinessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.MaxLength("name", req.Name, 200),
		validation.Required("slug", req.Slug),
		validation.ValidSlug("slug", req.Slug),
		validation.Required("email", req.Email),
		validation.ValidEmail("email", req.Email),
		validation.ValidCurrency("currency", req.Currency),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	currency := tier.Currency(req.Currency)
	if currency == "" {
		currency = tier.NGN
	}

	features, err := h.catalog.Features(tier.Basic)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "catalog_error",
			"message": "Tier catalogue is misconfigured",
		})
		return
	}

	now := time.Now().UTC()
	biz := &Business{
		ID:                 idgen.WithPrefix("biz_"),
		Name:               validation.SanitizeString(req.Name, 200),
		Slug:               req.Slug,
		Email:              req.Email,
		Currency:           currency,
		CurrentTier:        tier.Basic,
		SubscriptionStatus: StatusInactive,
		Features:           features,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := h.store.Create(c.Request.Context(), biz); err != nil {
		if errors.Is(err, ErrSlugTaken) {
			c.JSON(http.StatusConflict, gin.H{
				"error":   "slug_taken",
				"message": "A business with this slug already exists",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "create_failed",
			"message": "Failed to register business",
		})
		return
	}

	rawKey, _, err := h.keys.GenerateKey(c.Request.Context(), biz.ID, "Default key")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "key_generation_failed",
			"message": "Business registered but key generation failed; contact support",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"business": publicView(biz),
		"apiKey":   rawKey,
		"warning":  "Store this key securely. It will not be shown again.",
	})
}

// GetBusiness handles GET /v1/businesses/:id. The path segment is an ID
// or, as a convenience for directory pages, a slug.
func (h *Handler) GetBusiness(c *gin.Context) {
	biz, err := h.lookup(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Business not found",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"business": publicView(biz)})
}

// GetFeatures handles GET /v1/businesses/:id/features. Feature flags are
// resolved from the catalogue for the business's current tier, not from
// the cached copy on the record.
func (h *Handler) GetFeatures(c *gin.Context) {
	biz, err := h.lookup(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Business not found",
		})
		return
	}

	features, err := h.catalog.Features(biz.CurrentTier)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "catalog_error",
			"message": "Tier catalogue is misconfigured",
		})
		return
	}
	limits, _ := h.catalog.Limits(biz.CurrentTier)

	c.JSON(http.StatusOK, gin.H{
		"businessId": biz.ID,
		"tier":       biz.CurrentTier,
		"features":   features,
		"limits":     limits,
	})
}

// GetSubscription handles GET /v1/businesses/:id/subscription. Returns
// the billing view of the business for the owner portal.
func (h *Handler) GetSubscription(c *gin.Context) {
	biz, err := h.lookup(c)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Business not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"businessId":            biz.ID,
		"currentTier":           biz.CurrentTier,
		"subscriptionStatus":    biz.SubscriptionStatus,
		"isTrialing":            biz.IsTrialing,
		"trialEndsAt":           biz.TrialEndsAt,
		"trialedTiers":          biz.TrialedTiers,
		"renewalDate":           biz.RenewalDate,
		"subscriptionStartedAt": biz.SubscriptionStartedAt,
	})
}

// ListTiers handles GET /v1/tiers. The optional currency query selects
// the price table; tiers without self-serve pricing report customPricing.
func (h *Handler) ListTiers(c *gin.Context) {
	currency := tier.Currency(c.DefaultQuery("currency", string(tier.NGN)))
	if !tier.ValidCurrency(currency) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": "currency must be NGN or USD",
		})
		return
	}

	plans := h.catalog.Plans()
	out := make([]gin.H, 0, len(plans))
	for _, p := range plans {
		entry := gin.H{
			"tier":          p.Tier,
			"name":          p.Name,
			"displayName":   p.DisplayName,
			"description":   p.Description,
			"popular":       p.Popular,
			"customPricing": p.CustomPricing,
			"trialEligible": p.TrialEligible,
			"features":      p.Features,
			"limits":        p.Limits,
		}
		prices := gin.H{}
		for _, cycle := range []tier.BillingCycle{tier.Monthly, tier.Annual} {
			if amount, err := h.catalog.Price(p.Tier, cycle, currency); err == nil {
				prices[string(cycle)] = amount
			}
		}
		if len(prices) > 0 {
			entry["prices"] = prices
			entry["currency"] = currency
		}
		out = append(out, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"tiers": out,
		"count": len(out),
	})
}

func (h *Handler) lookup(c *gin.Context) (*Business, error) {
	key := c.Param("id")
	biz, err := h.store.Get(c.Request.Context(), key)
	if errors.Is(err, ErrBusinessNotFound) {
		return h.store.GetBySlug(c.Request.Context(), key)
	}
	return biz, err
}

// publicView strips owner contact details from directory responses.
func publicView(b *Business) gin.H {
	return gin.H{
		"id":                 b.ID,
		"name":               b.Name,
		"slug":               b.Slug,
		"currency":           b.Currency,
		"currentTier":        b.CurrentTier,
		"subscriptionStatus": b.SubscriptionStatus,
		"isTrialing":         b.IsTrialing,
		"isVerified":         b.IsVerified,
		"verifiedAt":         b.VerifiedAt,
		"features":           b.Features,
		"createdAt":          b.CreatedAt,
	}
}
