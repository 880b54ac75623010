package upgrade

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/seunadex/ratedly/internal/auth"
	"github.com/seunadex/ratedly/internal/directory"
	"github.com/seunadex/ratedly/internal/logging"
	"github.com/seunadex/ratedly/internal/pagination"
	"github.com/seunadex/ratedly/internal/payment"
	"github.com/seunadex/ratedly/internal/tier"
	"github.com/seunadex/ratedly/internal/validation"
)

// Handler provides HTTP endpoints for the upgrade engine.
type Handler struct {
	service       *Service
	webhookSecret string
}

// NewHandler creates a new upgrade handler.
func NewHandler(service *Service, webhookSecret string) *Handler {
	return &Handler{service: service, webhookSecret: webhookSecret}
}

// RegisterRoutes sets up owner-facing routes. The group must already
// require authentication.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/upgrade-requests", h.CreateRequest)
	r.GET("/upgrade-requests", h.ListMyRequests)
	r.GET("/upgrade-requests/:id", h.GetRequest)
	r.POST("/upgrade-requests/:id/cancel", h.CancelRequest)
	r.POST("/upgrade-requests/:id/pay", h.InitializePayment)
	r.POST("/trials", h.StartTrial)
	r.GET("/payments/verify/:reference", h.VerifyPayment)
}

// RegisterWebhookRoutes sets up the gateway callback route (no auth; the
// callback is authenticated by its HMAC signature).
func (h *Handler) RegisterWebhookRoutes(r *gin.RouterGroup) {
	r.POST("/payments/webhook", h.Webhook)
}

// RegisterAdminRoutes sets up admin routes. The group must already
// require the admin secret.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.GET("/upgrade-requests", h.AdminListRequests)
	r.GET("/upgrade-requests/stats", h.AdminStats)
	r.GET("/upgrade-requests/:id", h.AdminGetRequest)
	r.POST("/upgrade-requests/:id/approve", h.AdminApprove)
	r.POST("/upgrade-requests/:id/reject", h.AdminReject)
	r.POST("/businesses/:id/change-tier", h.AdminChangeTier)
}

// CreateRequestBody is the request body for creating an upgrade request.
type CreateRequestBody struct {
	RequestedTier string `json:"requestedTier"`
	RequestType   string `json:"requestType"`
	BillingCycle  string `json:"billingCycle"`
	Notes         string `json:"notes"`
}

// CreateRequest handles POST /v1/upgrade-requests
func (h *Handler) CreateRequest(c *gin.Context) {
	var body CreateRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("requestedTier", body.RequestedTier),
		validation.ValidTier("requestedTier", body.RequestedTier),
		validation.Required("requestType", body.RequestType),
		validation.ValidRequestType("requestType", body.RequestType),
		validation.ValidCycle("billingCycle", body.BillingCycle),
		validation.MaxLength("notes", body.Notes, validation.MaxNotesLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	req, err := h.service.Create(c.Request.Context(), CreateInput{
		BusinessID:    auth.GetAuthenticatedBusiness(c),
		RequestedTier: tier.Tier(body.RequestedTier),
		Type:          RequestType(body.RequestType),
		BillingCycle:  tier.BillingCycle(body.BillingCycle),
		Notes:         body.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"request": req})
}

// ListMyRequests handles GET /v1/upgrade-requests
func (h *Handler) ListMyRequests(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50)

	requests, err := h.service.ListMine(c.Request.Context(), auth.GetAuthenticatedBusiness(c), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"requests": requests,
		"count":    len(requests),
	})
}

// GetRequest handles GET /v1/upgrade-requests/:id
func (h *Handler) GetRequest(c *gin.Context) {
	req, err := h.service.Get(c.Request.Context(), c.Param("id"), auth.GetAuthenticatedBusiness(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

// CancelRequest handles POST /v1/upgrade-requests/:id/cancel
func (h *Handler) CancelRequest(c *gin.Context) {
	req, err := h.service.Cancel(c.Request.Context(), c.Param("id"), auth.GetAuthenticatedBusiness(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

// PayBody is the request body for initializing a payment.
type PayBody struct {
	Email string `json:"email"`
}

// InitializePayment handles POST /v1/upgrade-requests/:id/pay
func (h *Handler) InitializePayment(c *gin.Context) {
	var body PayBody
	c.ShouldBindJSON(&body)

	if errs := validation.Validate(
		validation.Required("email", body.Email),
		validation.ValidEmail("email", body.Email),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	checkout, err := h.service.InitializePayment(c.Request.Context(), c.Param("id"), auth.GetAuthenticatedBusiness(c), body.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"checkout": checkout})
}

// TrialBody is the request body for starting a trial.
type TrialBody struct {
	Tier      string `json:"tier"`
	TrialDays int    `json:"trialDays"`
}

// StartTrial handles POST /v1/trials
func (h *Handler) StartTrial(c *gin.Context) {
	var body TrialBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("tier", body.Tier),
		validation.ValidTier("tier", body.Tier),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	req, biz, err := h.service.StartTrial(c.Request.Context(), auth.GetAuthenticatedBusiness(c), tier.Tier(body.Tier), body.TrialDays)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"request":  req,
		"business": biz,
	})
}

// VerifyPayment handles GET /v1/payments/verify/:reference
func (h *Handler) VerifyPayment(c *gin.Context) {
	result, err := h.service.VerifyPayment(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// webhookEvent is the envelope the gateway posts to our callback.
type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// Webhook handles POST /v1/payments/webhook. It feeds gateway callbacks
// into the same verification path as client polling; the signature check
// keeps arbitrary callers from probing references. Always answers 200 for
// authentic events so the gateway does not retry forever.
func (h *Handler) Webhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if h.webhookSecret != "" {
		sig := c.GetHeader("X-Paystack-Signature")
		mac := hmac.New(sha512.New, []byte(h.webhookSecret))
		mac.Write(raw)
		expected := hex.EncodeToString(mac.Sum(nil))
		if sig == "" || !hmac.Equal([]byte(sig), []byte(expected)) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})
			return
		}
	}

	var event webhookEvent
	if err := json.Unmarshal(raw, &event); err != nil || event.Data.Reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.service.VerifyPayment(c.Request.Context(), event.Data.Reference)
	if err != nil {
		// The gateway will retry; an unknown reference is someone else's
		// transaction and not worth retrying.
		if errors.Is(err, ErrUnknownReference) {
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		logging.L(c.Request.Context()).Warn("webhook verification failed",
			"reference", event.Data.Reference, "event", event.Event, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "verification_failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":         true,
		"status":           result.Status,
		"alreadyProcessed": result.AlreadyProcessed,
	})
}

// AdminListRequests handles GET /v1/admin/upgrade-requests
func (h *Handler) AdminListRequests(c *gin.Context) {
	f := Filter{
		Status:        Status(c.Query("status")),
		RequestedTier: tier.Tier(c.Query("tier")),
		BusinessID:    c.Query("businessId"),
		Limit:         parseLimit(c.Query("limit"), 50),
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_cursor",
			"message": "Invalid pagination cursor",
		})
		return
	}
	if cursor != nil {
		f.CursorTime = cursor.CreatedAt
		f.CursorID = cursor.ID
	}

	// Fetch one extra row to compute the next cursor.
	f.Limit++
	requests, err := h.service.AdminList(c.Request.Context(), f)
	if err != nil {
		respondError(c, err)
		return
	}
	requests, next, hasMore := pagination.ComputePage(requests, f.Limit-1, func(r *Request) (time.Time, string) {
		return r.CreatedAt, r.ID
	})

	c.JSON(http.StatusOK, gin.H{
		"requests":   requests,
		"count":      len(requests),
		"nextCursor": next,
		"hasMore":    hasMore,
	})
}

// AdminStats handles GET /v1/admin/upgrade-requests/stats
func (h *Handler) AdminStats(c *gin.Context) {
	stats, err := h.service.AdminStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": stats})
}

// AdminGetRequest handles GET /v1/admin/upgrade-requests/:id
func (h *Handler) AdminGetRequest(c *gin.Context) {
	req, err := h.service.Get(c.Request.Context(), c.Param("id"), "")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

// AdminDecisionBody is the request body for approve/reject.
type AdminDecisionBody struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

// AdminApprove handles POST /v1/admin/upgrade-requests/:id/approve
func (h *Handler) AdminApprove(c *gin.Context) {
	var body AdminDecisionBody
	c.ShouldBindJSON(&body)

	req, biz, err := h.service.Approve(c.Request.Context(), c.Param("id"), auth.GetAdminActor(c), body.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"request":  req,
		"business": biz,
	})
}

// AdminReject handles POST /v1/admin/upgrade-requests/:id/reject
func (h *Handler) AdminReject(c *gin.Context) {
	var body AdminDecisionBody
	c.ShouldBindJSON(&body)

	req, err := h.service.Reject(c.Request.Context(), c.Param("id"), auth.GetAdminActor(c), body.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

// ChangeTierBody is the request body for a manual tier change. A positive
// durationDays turns the grant into a time-boxed one that the trial expiry
// sweep reclaims.
type ChangeTierBody struct {
	Tier         string `json:"tier"`
	DurationDays int    `json:"durationDays"`
	Notes        string `json:"notes"`
}

// AdminChangeTier handles POST /v1/admin/businesses/:id/change-tier
func (h *Handler) AdminChangeTier(c *gin.Context) {
	var body ChangeTierBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("tier", body.Tier),
		validation.ValidTier("tier", body.Tier),
		validation.MaxLength("notes", body.Notes, validation.MaxNotesLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	biz, err := h.service.ChangeTier(c.Request.Context(), c.Param("id"), tier.Tier(body.Tier), body.DurationDays, auth.GetAdminActor(c), body.Notes)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"business": biz})
}

func parseLimit(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 200 {
		return def
	}
	return n
}

// respondError maps service errors onto HTTP responses.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrRequestNotFound),
		errors.Is(err, ErrUnknownReference),
		errors.Is(err, directory.ErrBusinessNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You do not own this resource",
		})
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrNoPriceForCycle),
		errors.Is(err, ErrNoPlanCode),
		errors.Is(err, ErrReasonRequired),
		errors.Is(err, ErrNotPaymentRequest),
		errors.Is(err, ErrTrialNotEligible),
		errors.Is(err, tier.ErrUnknownTier):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	case errors.Is(err, ErrDuplicatePending),
		errors.Is(err, ErrAlreadyResolved),
		errors.Is(err, ErrNotCancellable),
		errors.Is(err, ErrTrialAlreadyUsed),
		errors.Is(err, ErrPaymentTerminal),
		errors.Is(err, ErrAmountMismatch):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": err.Error(),
		})
	case errors.Is(err, ErrPaymentsDisabled):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "payments_disabled",
			"message": err.Error(),
		})
	case errors.Is(err, payment.ErrTransactionMissing):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, payment.ErrGatewayUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":   "gateway_unavailable",
			"message": "Payment gateway is unavailable, try again",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Something went wrong",
		})
	}
}
