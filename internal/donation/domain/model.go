package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Donation lifecycle statuses. Intent and order statuses are set at request
// time; terminal statuses come from webhooks or the capture endpoint.
const (
	StatusPendingIntent = "pending_intent"
	StatusOrderCreating = "order_creating"
	StatusIntentFailed  = "intent_failed"
	StatusSucceeded     = "succeeded"
	StatusCaptured      = "captured"
)

const (
	ProviderStripe = "stripe"
	ProviderPayPal = "paypal"
)

type Donation struct {
	ID               snowflake.ID   `json:"id" gorm:"primaryKey"`
	OrgID            *snowflake.ID  `json:"org_id" gorm:"index"`
	DonorName        string         `json:"donor_name" gorm:"type:text"`
	DonorEmail       string         `json:"donor_email" gorm:"type:text"`
	AmountCents      int64          `json:"amount_cents" gorm:"not null"`
	Currency         string         `json:"currency" gorm:"type:text;not null"`
	Provider         string         `json:"provider" gorm:"type:text;not null;index"`
	ProviderIntentID string         `json:"provider_intent_id" gorm:"type:text;uniqueIndex:ux_donations_intent,where:provider_intent_id <> ''"`
	ProviderStatus   string         `json:"provider_status" gorm:"type:text;not null"`
	PaidAt           *time.Time     `json:"paid_at"`
	Note             string         `json:"note" gorm:"type:text"`
	Anonymous        bool           `json:"anonymous" gorm:"not null;default:false"`
	CoverFees        bool           `json:"cover_fees" gorm:"not null;default:false"`
	RoundUp          bool           `json:"round_up" gorm:"not null;default:false"`
	Breakdown        datatypes.JSON `json:"breakdown"`
	CreatedAt        time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time      `json:"updated_at" gorm:"not null"`
}

func (Donation) TableName() string { return "donations" }

// ProviderEvent records one webhook delivery. The unique constraint on
// (provider, provider_event_id) is the dedup mechanism: a redelivered event
// inserts zero rows and is acknowledged without reprocessing.
type ProviderEvent struct {
	ID              snowflake.ID   `json:"id" gorm:"primaryKey"`
	Provider        string         `json:"provider" gorm:"type:text;not null;uniqueIndex:ux_provider_events_event"`
	ProviderEventID string         `json:"provider_event_id" gorm:"type:text;not null;uniqueIndex:ux_provider_events_event"`
	EventType       string         `json:"event_type" gorm:"type:text;not null"`
	Livemode        bool           `json:"livemode" gorm:"not null;default:false"`
	ObjectID        string         `json:"object_id" gorm:"type:text;index"`
	Payload         datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (ProviderEvent) TableName() string { return "provider_events" }

// AmountBreakdown is computed per request and never stored on its own;
// TotalCents is what lands in Donation.AmountCents.
type AmountBreakdown struct {
	BaseCents       int64 `json:"base_cents"`
	RoundUpAddCents int64 `json:"round_up_add_cents"`
	FeeCents        int64 `json:"fee_cents"`
	TotalCents      int64 `json:"total_cents"`
}

// PaymentEvent is the canonical webhook event parsed by provider adapters.
type PaymentEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Livemode        bool
	ObjectID        string
	DonationID      *snowflake.ID
	AmountCents     int64
	Currency        string
	Status          string
	OccurredAt      time.Time
	RawPayload      []byte
}

// Succeeded reports whether the event marks its payment as paid.
func (e PaymentEvent) Succeeded() bool {
	switch e.EventType {
	case "payment_intent.succeeded", "charge.succeeded":
		return true
	}
	return false
}

// Failed reports whether the event marks its payment as failed.
func (e PaymentEvent) Failed() bool {
	return e.EventType == "payment_intent.payment_failed"
}
