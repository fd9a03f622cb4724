package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	donationdomain "github.com/thelab33/futurefunded/internal/donation/domain"
	donationservice "github.com/thelab33/futurefunded/internal/donation/service"
)

func (s *Server) registerPaymentRoutes() {
	payments := s.engine.Group("/payments")

	payments.GET("/health", s.PaymentsHealth)
	payments.GET("/config", s.PaymentsConfig)
	payments.GET("/donations/:id", s.GetDonation)

	payments.POST("/stripe/intent", s.CreateStripeIntent)
	payments.POST("/stripe/webhook", s.HandleStripeWebhook)

	payments.GET("/paypal/health", s.PayPalHealth)
	payments.POST("/paypal/create-order", s.CreatePayPalOrder)
	payments.POST("/paypal/order", s.CreatePayPalOrder)
	payments.POST("/paypal/capture", s.CapturePayPalOrder)
	payments.POST("/paypal/capture-order", s.CapturePayPalOrder)
}

// PaymentsHealth reports per-component status. With ?strict=1 an unhealthy
// component turns into a 503 so load balancers can act on it.
func (s *Server) PaymentsHealth(c *gin.Context) {
	components := gin.H{}
	status := "ok"

	dbStatus := "ok"
	if sqlDB, err := s.db.DB(); err != nil {
		dbStatus = "error"
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error"
	}
	if dbStatus != "ok" {
		status = "error"
	}
	components["db"] = dbStatus

	stripeStatus := "ok"
	if !s.cfg.StripeKeysPresent() {
		stripeStatus = "unconfigured"
	} else if !s.cfg.StripeKeysLookValid() {
		stripeStatus = "misconfigured"
	}
	if stripeStatus == "misconfigured" && status == "ok" {
		status = "degraded"
	}
	components["stripe"] = stripeStatus

	paypalStatus := "ok"
	if !s.cfg.PayPalEnabled() {
		paypalStatus = "unconfigured"
	}
	components["paypal"] = paypalStatus

	code := http.StatusOK
	if c.Query("strict") == "1" && status != "ok" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"ok":         status == "ok",
		"status":     status,
		"components": components,
	})
}

// PaymentsConfig exposes the public client configuration.
func (s *Server) PaymentsConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"publishableKey":  s.cfg.StripePublishableKey,
		"publishable_key": s.cfg.StripePublishableKey,
		"mode":            s.cfg.StripeMode(),
		"currency":        s.cfg.Currency,
		"paypal": gin.H{
			"enabled": s.cfg.PayPalEnabled(),
		},
	})
}

func (s *Server) GetDonation(c *gin.Context) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, donationdomain.ErrNotFound)
		return
	}

	var donation *donationdomain.Donation
	if c.Query("refresh") == "1" {
		donation, err = s.donationSvc.RefreshIntentStatus(c.Request.Context(), id)
	} else {
		donation, err = s.donationSvc.GetDonation(c.Request.Context(), id)
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"id":              donation.ID.String(),
		"donorName":       donation.DonorName,
		"donor_name":      donation.DonorName,
		"amountCents":     donation.AmountCents,
		"amount_cents":    donation.AmountCents,
		"currency":        donation.Currency,
		"provider":        donation.Provider,
		"status":          donation.ProviderStatus,
		"provider_status": donation.ProviderStatus,
		"paidAt":          donation.PaidAt,
		"paid_at":         donation.PaidAt,
		"anonymous":       donation.Anonymous,
	})
}

// intentPayload accepts both the canonical cents fields and the legacy dollar
// fields, in either naming convention.
type intentPayload struct {
	AmountCents        *int64   `json:"amount_cents"`
	AmountCentsCamel   *int64   `json:"amountCents"`
	Amount             *float64 `json:"amount"`
	AmountDollars      *float64 `json:"amount_dollars"`
	AmountDollarsCamel *float64 `json:"amountDollars"`

	Currency string `json:"currency"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Donor    *struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"donor"`
	CoverFees   bool   `json:"cover_fees"`
	RoundUp     bool   `json:"round_up"`
	Anonymous   bool   `json:"anonymous"`
	Note        string `json:"note"`
	Description string `json:"description"`
	OrgID       string `json:"org_id"`
	OrgSlug     string `json:"org_slug"`

	// PayPal capture fields.
	OrderID    string `json:"order_id"`
	DonationID string `json:"donation_id"`
}

func (p intentPayload) toServiceRequest() donationservice.IntentRequest {
	req := donationservice.IntentRequest{
		Currency:    p.Currency,
		DonorName:   p.Name,
		DonorEmail:  p.Email,
		Note:        p.Note,
		Description: p.Description,
		Anonymous:   p.Anonymous,
		CoverFees:   p.CoverFees,
		RoundUp:     p.RoundUp,
		OrgID:       p.OrgID,
		OrgSlug:     p.OrgSlug,
	}
	if p.Donor != nil {
		if req.DonorName == "" {
			req.DonorName = p.Donor.Name
		}
		if req.DonorEmail == "" {
			req.DonorEmail = p.Donor.Email
		}
	}

	switch {
	case p.AmountCents != nil:
		req.Amount.AmountCents = p.AmountCents
	case p.AmountCentsCamel != nil:
		req.Amount.AmountCents = p.AmountCentsCamel
	case p.Amount != nil:
		req.Amount.AmountDollars = p.Amount
	case p.AmountDollars != nil:
		req.Amount.AmountDollars = p.AmountDollars
	case p.AmountDollarsCamel != nil:
		req.Amount.AmountDollars = p.AmountDollarsCamel
	}
	return req
}

func (s *Server) CreateStripeIntent(c *gin.Context) {
	if !s.intentLimiter.Allow(c.Request.Context(), c.ClientIP()) {
		AbortWithError(c, ErrRateLimited)
		return
	}

	var payload intentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.donationSvc.CreateStripeIntent(c.Request.Context(), payload.toServiceRequest())
	if err != nil {
		s.abortIntentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":                 true,
		"donationId":         result.DonationID.String(),
		"donation_id":        result.DonationID.String(),
		"id":                 result.IntentID,
		"status":             result.Status,
		"clientSecret":       result.ClientSecret,
		"client_secret":      result.ClientSecret,
		"publishableKey":     s.cfg.StripePublishableKey,
		"publishable_key":    s.cfg.StripePublishableKey,
		"mode":               s.cfg.StripeMode(),
		"amountCents":        result.Breakdown.TotalCents,
		"amount_cents":       result.Breakdown.TotalCents,
		"feeCents":           result.Breakdown.FeeCents,
		"fee_cents":          result.Breakdown.FeeCents,
		"roundUpAddCents":    result.Breakdown.RoundUpAddCents,
		"round_up_add_cents": result.Breakdown.RoundUpAddCents,
		"amountSource":       result.AmountSource,
		"amount_source":      result.AmountSource,
	})
}

// abortIntentError attaches stripe diagnostics on configuration failures and
// the provider body on upstream failures.
func (s *Server) abortIntentError(c *gin.Context, err error) {
	var upstream *donationservice.UpstreamError
	switch {
	case errors.Is(err, donationdomain.ErrProviderNotConfigured):
		AbortWithErrorExtras(c, err, map[string]any{
			"publishableKey": s.cfg.StripePublishableKey,
			"mode":           s.cfg.StripeMode(),
		})
	case errors.As(err, &upstream):
		extras := map[string]any{
			"provider":        upstream.Provider,
			"provider_status": upstream.StatusCode,
		}
		if len(upstream.Body) > 0 && json.Valid(upstream.Body) {
			extras["provider_error"] = json.RawMessage(upstream.Body)
		}
		AbortWithErrorExtras(c, err, extras)
	default:
		AbortWithError(c, err)
	}
}

// HandleStripeWebhook responds with a bare status code; Stripe ignores the
// body and retries on anything above 2xx.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	err = s.webhookSvc.IngestStripeWebhook(c.Request.Context(), payload, c.Request.Header)
	switch {
	case err == nil:
		c.Status(http.StatusOK)
	case errors.Is(err, donationdomain.ErrInvalidSignature),
		errors.Is(err, donationdomain.ErrInvalidPayload):
		c.Status(http.StatusBadRequest)
	default:
		s.log.Error("stripe webhook processing failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
	}
}

func (s *Server) PayPalHealth(c *gin.Context) {
	enabled := s.donationSvc.PayPalConfigured()
	code := http.StatusOK
	if !enabled && c.Query("strict") == "1" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"ok":      enabled,
		"enabled": enabled,
	})
}

func (s *Server) CreatePayPalOrder(c *gin.Context) {
	if !s.donationSvc.PayPalConfigured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ok":      false,
			"message": "paypal is not configured",
			"paypal":  gin.H{"enabled": false},
		})
		return
	}
	if !s.intentLimiter.Allow(c.Request.Context(), c.ClientIP()) {
		AbortWithError(c, ErrRateLimited)
		return
	}

	var payload intentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.donationSvc.CreatePayPalOrder(c.Request.Context(), payload.toServiceRequest())
	if err != nil {
		s.abortIntentError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"orderId":      result.IntentID,
		"order_id":     result.IntentID,
		"status":       result.Status,
		"approveUrl":   result.ApproveURL,
		"approve_url":  result.ApproveURL,
		"donationId":   result.DonationID.String(),
		"donation_id":  result.DonationID.String(),
		"amountCents":  result.Breakdown.TotalCents,
		"amount_cents": result.Breakdown.TotalCents,
	})
}

func (s *Server) CapturePayPalOrder(c *gin.Context) {
	if !s.donationSvc.PayPalConfigured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ok":      false,
			"message": "paypal is not configured",
			"paypal":  gin.H{"enabled": false},
		})
		return
	}

	var payload intentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.donationSvc.CapturePayPalOrder(c.Request.Context(), payload.OrderID, payload.DonationID)
	if err != nil {
		s.abortIntentError(c, err)
		return
	}

	resp := gin.H{
		"ok":         true,
		"orderId":    result.OrderID,
		"order_id":   result.OrderID,
		"captureId":  result.CaptureID,
		"capture_id": result.CaptureID,
		"status":     result.Status,
	}
	if result.DonationID != nil {
		resp["donationId"] = result.DonationID.String()
		resp["donation_id"] = result.DonationID.String()
	}
	c.JSON(http.StatusOK, resp)
}
