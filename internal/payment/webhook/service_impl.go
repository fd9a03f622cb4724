package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/bwmarrin/snowflake"
	"github.com/thelab33/futurefunded/internal/config"
	donationdomain "github.com/thelab33/futurefunded/internal/donation/domain"
	obsmetrics "github.com/thelab33/futurefunded/internal/observability/metrics"
	"github.com/thelab33/futurefunded/internal/payment/adapters"
	"github.com/thelab33/futurefunded/internal/providers/email"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Cfg      config.Config
	Repo     donationdomain.Repository
	Adapters *adapters.Registry
	Email    email.Provider      `optional:"true"`
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	cfg      config.Config
	repo     donationdomain.Repository
	adapters *adapters.Registry
	email    email.Provider
	metrics  *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		genID:    p.GenID,
		cfg:      p.Cfg,
		repo:     p.Repo,
		adapters: p.Adapters,
		email:    p.Email,
		metrics:  p.Metrics,
	}
}

// IngestStripeWebhook processes one Stripe delivery. A nil return means the
// delivery should be acknowledged with 200; signature and payload errors map
// to 400 at the handler, anything else to 500 so Stripe retries.
func (s *Service) IngestStripeWebhook(ctx context.Context, payload []byte, headers http.Header) error {
	// Nothing to do in environments without Stripe at all. Acknowledge so
	// Stripe does not keep retrying against a dead endpoint.
	if !s.cfg.StripeKeysPresent() {
		s.log.Debug("stripe webhook received but stripe is not configured")
		return nil
	}

	adapter, ok := s.adapters.Get(donationdomain.ProviderStripe)
	if !ok {
		return nil
	}

	if adapter.Configured() {
		if err := adapter.Verify(ctx, payload, headers); err != nil {
			return err
		}
	} else if s.cfg.IsProduction() {
		// Running live without a webhook secret is a misconfiguration;
		// reject rather than trust unsigned payloads.
		return donationdomain.ErrInvalidSignature
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, donationdomain.ErrEventIgnored) {
			return nil
		}
		return err
	}

	return s.processEvent(ctx, event)
}

func (s *Service) processEvent(ctx context.Context, event *donationdomain.PaymentEvent) error {
	if !json.Valid(event.RawPayload) {
		return donationdomain.ErrInvalidPayload
	}

	record := donationdomain.ProviderEvent{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.EventType,
		Livemode:        event.Livemode,
		ObjectID:        event.ObjectID,
		Payload:         datatypes.JSON(event.RawPayload),
		ReceivedAt:      time.Now().UTC(),
	}

	inserted, err := s.repo.InsertEvent(ctx, s.db, &record)
	if err != nil {
		// A broken schema must not cause a retry storm; acknowledge and
		// surface the problem through logs instead.
		if errors.Is(err, donationdomain.ErrSchemaMissing) {
			s.log.Error("provider_events table missing, acknowledging webhook",
				zap.String("provider", event.Provider),
				zap.Error(err))
			return nil
		}
		return err
	}
	if !inserted {
		// Duplicate delivery. The first one already did the work.
		s.log.Debug("duplicate webhook delivery",
			zap.String("provider", event.Provider),
			zap.String("event_id", event.ProviderEventID))
		return nil
	}

	if err := s.applyEvent(ctx, event); err != nil {
		return err
	}

	if err := s.repo.MarkEventProcessed(ctx, s.db, record.ID); err != nil {
		s.log.Warn("failed to mark webhook event processed",
			zap.String("event_id", event.ProviderEventID),
			zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.RecordPaymentEvent(ctx, event.Provider, event.EventType)
	}
	return nil
}

// applyEvent updates the matching donation. Match by metadata donation id
// first, then by the provider intent id.
func (s *Service) applyEvent(ctx context.Context, event *donationdomain.PaymentEvent) error {
	status, paid := donationStatusFor(event)
	if status == "" {
		return nil
	}

	var updateErr error
	if event.DonationID != nil {
		updateErr = s.repo.UpdateStatusByID(ctx, s.db, *event.DonationID, status, paid)
	} else if event.ObjectID != "" {
		updateErr = s.repo.UpdateStatusByIntentID(ctx, s.db, event.ObjectID, status, paid)
	} else {
		return nil
	}
	if updateErr != nil {
		if errors.Is(updateErr, donationdomain.ErrNotFound) {
			s.log.Warn("webhook matched no donation",
				zap.String("event_id", event.ProviderEventID),
				zap.String("object_id", event.ObjectID))
			return nil
		}
		return updateErr
	}

	if paid {
		if s.metrics != nil {
			s.metrics.RecordDonationPaid(ctx, event.Provider, status)
		}
		s.sendReceipt(ctx, event)
	}
	return nil
}

func donationStatusFor(event *donationdomain.PaymentEvent) (string, bool) {
	switch {
	case event.Succeeded():
		return donationdomain.StatusSucceeded, true
	case event.Failed():
		return donationdomain.StatusIntentFailed, false
	case event.EventType == "charge.updated":
		// Parse already filtered unpaid charges.
		return donationdomain.StatusSucceeded, true
	case strings.HasPrefix(event.EventType, "payment_intent."):
		// Intermediate lifecycle states (processing, requires_action,
		// canceled, ...) pass straight through; only succeeded pays.
		status := strings.TrimSpace(event.Status)
		if status == "" {
			status = strings.TrimPrefix(event.EventType, "payment_intent.")
		}
		return status, false
	default:
		return "", false
	}
}

// sendReceipt emails the donor off the request path; webhook acknowledgement
// never waits on SMTP.
func (s *Service) sendReceipt(ctx context.Context, event *donationdomain.PaymentEvent) {
	if s.email == nil {
		return
	}

	var donation *donationdomain.Donation
	var err error
	if event.DonationID != nil {
		donation, err = s.repo.FindByID(ctx, s.db, *event.DonationID)
	} else {
		donation, err = s.repo.FindByIntentID(ctx, s.db, event.ObjectID)
	}
	if err != nil || donation == nil || donation.DonorEmail == "" {
		return
	}

	receipt := email.Receipt{
		PlatformName: s.cfg.PlatformName,
		DonorName:    donation.DonorName,
		AmountCents:  donation.AmountCents,
		Currency:     donation.Currency,
		DonationID:   donation.ID.String(),
		PaidAt:       time.Now().UTC().Format(time.RFC1123),
	}
	var breakdown donationdomain.AmountBreakdown
	if json.Unmarshal(donation.Breakdown, &breakdown) == nil {
		receipt.FeeCents = breakdown.FeeCents
	}

	to := donation.DonorEmail
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.email.SendReceipt(sendCtx, to, receipt); err != nil {
			s.log.Warn("failed to send donation receipt",
				zap.String("donation_id", receipt.DonationID),
				zap.Error(err))
		}
	}()
}
