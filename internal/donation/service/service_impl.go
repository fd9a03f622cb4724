package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/thelab33/futurefunded/internal/config"
	"github.com/thelab33/futurefunded/internal/donation/domain"
	obsmetrics "github.com/thelab33/futurefunded/internal/observability/metrics"
	orgdomain "github.com/thelab33/futurefunded/internal/organization/domain"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Cfg     config.Config
	Fees    *config.FeeScheduleHolder
	Repo    domain.Repository
	OrgRepo orgdomain.Repository
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	cfg     config.Config
	fees    *config.FeeScheduleHolder
	repo    domain.Repository
	orgRepo orgdomain.Repository
	metrics *obsmetrics.Metrics

	stripe *stripeClient
	paypal *paypalClient
}

func NewService(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("donation.service"),
		genID:   p.GenID,
		cfg:     p.Cfg,
		fees:    p.Fees,
		repo:    p.Repo,
		orgRepo: p.OrgRepo,
		metrics: p.Metrics,
		stripe:  newStripeClient(p.Cfg.StripeSecretKey, p.Cfg.StripeAPIBase),
		paypal:  newPayPalClient(p.Cfg.PayPalClientID, p.Cfg.PayPalClientSecret, p.Cfg.PayPalAPIBase),
	}
}

// IntentRequest is the normalized donation request after HTTP binding.
type IntentRequest struct {
	Amount      domain.AmountInput
	Currency    string
	DonorName   string
	DonorEmail  string
	Note        string
	Description string
	Anonymous   bool
	CoverFees   bool
	RoundUp     bool
	OrgID       string
	OrgSlug     string
}

// IntentResult is what the intent and order endpoints return to handlers.
type IntentResult struct {
	DonationID   snowflake.ID
	IntentID     string
	Status       string
	ClientSecret string
	ApproveURL   string
	Breakdown    domain.AmountBreakdown
	AmountSource string
}

// CreateStripeIntent runs the full donation flow: parse and validate the
// amount, compute the breakdown, persist a pending donation, then create the
// PaymentIntent with a deterministic idempotency key so client retries cannot
// double-charge.
func (s *Service) CreateStripeIntent(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	_, source, breakdown, err := s.resolveAmounts(req)
	if err != nil {
		return nil, err
	}

	if !s.cfg.StripeKeysPresent() || !s.cfg.StripeKeysLookValid() {
		return nil, domain.ErrProviderNotConfigured
	}

	currency := s.currencyOrDefault(req.Currency)
	donation := s.newDonation(ctx, req, domain.ProviderStripe, domain.StatusPendingIntent, currency, breakdown)
	if err := s.repo.Insert(ctx, s.db, donation); err != nil {
		return nil, err
	}

	key := domain.ServerIdempotencyKey(donation.ID, breakdown.TotalCents, currency, req.CoverFees, req.RoundUp)
	intent, err := s.stripe.createPaymentIntent(ctx, stripeIntentParams{
		AmountCents:    breakdown.TotalCents,
		Currency:       currency,
		Description:    s.description(req),
		ReceiptEmail:   strings.TrimSpace(req.DonorEmail),
		DonationID:     donation.ID.String(),
		Breakdown:      breakdown,
		CoverFees:      req.CoverFees,
		RoundUp:        req.RoundUp,
		ForceCard:      s.cfg.ForceCard,
		AllowRedirects: s.cfg.AllowRedirects,
	}, key)
	if err != nil {
		if markErr := s.repo.UpdateStatusByID(ctx, s.db, donation.ID, domain.StatusIntentFailed, false); markErr != nil {
			s.log.Warn("failed to mark donation intent_failed",
				zap.String("donation_id", donation.ID.String()),
				zap.Error(markErr))
		}
		return nil, err
	}

	// Best effort: the intent exists upstream either way, and the webhook
	// can still match the donation through metadata.
	if err := s.repo.AttachIntent(ctx, s.db, donation.ID, intent.ID, intent.Status); err != nil {
		s.log.Warn("failed to attach intent to donation",
			zap.String("donation_id", donation.ID.String()),
			zap.String("intent_id", intent.ID),
			zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.RecordIntentCreated(ctx, domain.ProviderStripe, s.cfg.StripeMode())
	}

	return &IntentResult{
		DonationID:   donation.ID,
		IntentID:     intent.ID,
		Status:       intent.Status,
		ClientSecret: intent.ClientSecret,
		Breakdown:    breakdown,
		AmountSource: source,
	}, nil
}

// CreatePayPalOrder mirrors the intent flow on PayPal's Orders v2 API. The
// local donation insert is best effort: a locked database must not block
// order creation.
func (s *Service) CreatePayPalOrder(ctx context.Context, req IntentRequest) (*IntentResult, error) {
	if !s.cfg.PayPalEnabled() {
		return nil, domain.ErrProviderNotConfigured
	}

	_, source, breakdown, err := s.resolveAmounts(req)
	if err != nil {
		return nil, err
	}

	currency := s.currencyOrDefault(req.Currency)
	donation := s.newDonation(ctx, req, domain.ProviderPayPal, domain.StatusOrderCreating, currency, breakdown)
	persisted := true
	if err := s.repo.Insert(ctx, s.db, donation); err != nil {
		persisted = false
		s.log.Warn("paypal donation insert failed, continuing with order",
			zap.String("donation_id", donation.ID.String()),
			zap.Error(err))
	}

	order, err := s.paypal.createOrder(ctx, breakdown.TotalCents, currency, donation.ID.String())
	if err != nil {
		if persisted {
			if markErr := s.repo.UpdateStatusByID(ctx, s.db, donation.ID, domain.StatusIntentFailed, false); markErr != nil {
				s.log.Warn("failed to mark paypal donation failed",
					zap.String("donation_id", donation.ID.String()),
					zap.Error(markErr))
			}
		}
		return nil, err
	}

	if persisted {
		if err := s.repo.AttachIntent(ctx, s.db, donation.ID, order.ID, strings.ToLower(order.Status)); err != nil {
			s.log.Warn("failed to attach paypal order to donation",
				zap.String("donation_id", donation.ID.String()),
				zap.String("order_id", order.ID),
				zap.Error(err))
		}
	}

	if s.metrics != nil {
		s.metrics.RecordIntentCreated(ctx, domain.ProviderPayPal, s.cfg.Environment)
	}

	return &IntentResult{
		DonationID:   donation.ID,
		IntentID:     order.ID,
		Status:       strings.ToLower(order.Status),
		ApproveURL:   order.ApproveURL(),
		Breakdown:    breakdown,
		AmountSource: source,
	}, nil
}

// CaptureResult reports a completed PayPal capture.
type CaptureResult struct {
	OrderID    string
	CaptureID  string
	Status     string
	DonationID *snowflake.ID
}

// CapturePayPalOrder captures an approved order and, when the caller passed a
// donation id, marks that donation captured and paid.
func (s *Service) CapturePayPalOrder(ctx context.Context, orderID, donationID string) (*CaptureResult, error) {
	if !s.cfg.PayPalEnabled() {
		return nil, domain.ErrProviderNotConfigured
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", domain.ErrAmountInvalid)
	}

	capture, err := s.paypal.captureOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	result := &CaptureResult{
		OrderID: orderID,
		Status:  strings.ToLower(capture.Status),
	}
	for _, unit := range capture.PurchaseUnits {
		for _, c := range unit.Payments.Captures {
			result.CaptureID = c.ID
			break
		}
	}

	if donationID = strings.TrimSpace(donationID); donationID != "" {
		id, parseErr := snowflake.ParseString(donationID)
		if parseErr == nil {
			if err := s.repo.UpdateStatusByID(ctx, s.db, id, domain.StatusCaptured, true); err != nil {
				s.log.Warn("failed to mark donation captured",
					zap.String("donation_id", donationID),
					zap.Error(err))
			} else {
				result.DonationID = &id
				if s.metrics != nil {
					s.metrics.RecordDonationPaid(ctx, domain.ProviderPayPal, domain.StatusCaptured)
				}
			}
		}
	} else if result.Status == "completed" {
		// No local donation to update; match by order id if one exists.
		if err := s.repo.UpdateStatusByIntentID(ctx, s.db, orderID, domain.StatusCaptured, true); err != nil &&
			!errors.Is(err, domain.ErrNotFound) {
			s.log.Warn("failed to mark donation captured by order id",
				zap.String("order_id", orderID),
				zap.Error(err))
		}
	}

	return result, nil
}

// GetDonation loads one donation by its id.
func (s *Service) GetDonation(ctx context.Context, id snowflake.ID) (*domain.Donation, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

// RefreshIntentStatus pulls the current PaymentIntent state from Stripe for a
// donation still waiting on its webhook and persists any status change. Paid
// and non-Stripe donations are returned as stored.
func (s *Service) RefreshIntentStatus(ctx context.Context, id snowflake.ID) (*domain.Donation, error) {
	donation, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if donation.Provider != domain.ProviderStripe || donation.ProviderIntentID == "" || donation.PaidAt != nil {
		return donation, nil
	}

	intent, err := s.stripe.retrievePaymentIntent(ctx, donation.ProviderIntentID)
	if err != nil {
		return nil, err
	}
	status := strings.TrimSpace(intent.Status)
	if status == "" || status == donation.ProviderStatus {
		return donation, nil
	}

	paid := status == "succeeded"
	if err := s.repo.UpdateStatusByID(ctx, s.db, donation.ID, status, paid); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, s.db, donation.ID)
}

// PayPalConfigured reports whether PayPal credentials are present.
func (s *Service) PayPalConfigured() bool {
	return s.cfg.PayPalEnabled()
}

func (s *Service) resolveAmounts(req IntentRequest) (int64, string, domain.AmountBreakdown, error) {
	base, source, err := domain.ParseAmountCents(req.Amount)
	if err != nil {
		return 0, "", domain.AmountBreakdown{}, err
	}
	if base < s.cfg.MinAmountCents {
		return 0, "", domain.AmountBreakdown{}, domain.ErrAmountBelowMinimum
	}

	sched := config.DefaultFeeSchedule()
	if s.fees != nil {
		sched = s.fees.Get()
	}
	breakdown := domain.ComputeAmounts(domain.FeeTerms{
		Enabled:           sched.Enabled,
		Percent:           sched.Percent,
		FlatCents:         sched.FlatCents,
		RoundUpStepDollar: sched.RoundUpStepDollar,
		MaxAmountCents:    s.cfg.MaxAmountCents,
	}, base, req.CoverFees, req.RoundUp)
	return base, source, breakdown, nil
}

func (s *Service) currencyOrDefault(currency string) string {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = s.cfg.Currency
	}
	return currency
}

func (s *Service) description(req IntentRequest) string {
	if d := strings.TrimSpace(req.Description); d != "" {
		return d
	}
	return "Donation to " + s.cfg.PlatformName
}

func (s *Service) newDonation(
	ctx context.Context,
	req IntentRequest,
	provider string,
	status string,
	currency string,
	breakdown domain.AmountBreakdown,
) *domain.Donation {
	now := time.Now().UTC()
	donation := &domain.Donation{
		ID:             s.genID.Generate(),
		DonorName:      strings.TrimSpace(req.DonorName),
		DonorEmail:     strings.TrimSpace(req.DonorEmail),
		AmountCents:    breakdown.TotalCents,
		Currency:       currency,
		Provider:       provider,
		ProviderStatus: status,
		Note:           strings.TrimSpace(req.Note),
		Anonymous:      req.Anonymous,
		CoverFees:      req.CoverFees,
		RoundUp:        req.RoundUp,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if encoded, err := json.Marshal(breakdown); err == nil {
		donation.Breakdown = datatypes.JSON(encoded)
	}
	if orgID := s.resolveOrg(ctx, req); orgID != nil {
		donation.OrgID = orgID
	}
	return donation
}

// resolveOrg maps an org id or slug to a tenant. Unknown references do not
// fail the donation; it stays platform-level.
func (s *Service) resolveOrg(ctx context.Context, req IntentRequest) *snowflake.ID {
	if raw := strings.TrimSpace(req.OrgID); raw != "" {
		if id, err := snowflake.ParseString(raw); err == nil {
			if org, err := s.orgRepo.FindByID(ctx, s.db, id); err == nil {
				return &org.ID
			}
		}
		s.log.Debug("unknown org id on donation", zap.String("org_id", raw))
		return nil
	}
	if raw := strings.TrimSpace(req.OrgSlug); raw != "" {
		if org, err := s.orgRepo.FindBySlug(ctx, s.db, raw); err == nil {
			return &org.ID
		}
		s.log.Debug("unknown org slug on donation", zap.String("org_slug", raw))
	}
	return nil
}
