package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	donationdomain "github.com/thelab33/futurefunded/internal/donation/domain"
)

type Adapter struct {
	webhookSecret string
}

func NewAdapter(webhookSecret string) *Adapter {
	return &Adapter{webhookSecret: strings.TrimSpace(webhookSecret)}
}

func (a *Adapter) Provider() string { return donationdomain.ProviderStripe }

// Configured reports whether a webhook secret is set. Unsigned payloads are
// only acceptable outside production.
func (a *Adapter) Configured() bool { return a.webhookSecret != "" }

// Verify checks the Stripe-Signature header: HMAC-SHA256 of
// "timestamp.payload" keyed by the webhook secret, compared in constant time
// against every v1 signature in the header.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	if a.webhookSecret == "" {
		return donationdomain.ErrProviderNotConfigured
	}
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return donationdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return donationdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return donationdomain.ErrInvalidSignature
}

// Parse turns a raw Stripe event into the canonical payment event. Event
// types outside the donation lifecycle are reported as ignored.
func (a *Adapter) Parse(ctx context.Context, payload []byte) (*donationdomain.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, donationdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, donationdomain.ErrInvalidPayload
	}

	eventType := strings.TrimSpace(event.Type)
	switch {
	case strings.HasPrefix(eventType, "payment_intent."):
		// Every intent lifecycle event carries a status worth recording,
		// not just the terminal ones.
		return a.parsePaymentIntent(event, payload)
	case eventType == "charge.succeeded" || eventType == "charge.updated":
		return a.parseCharge(event, payload)
	default:
		return nil, donationdomain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Created  int64           `json:"created"`
	Livemode bool            `json:"livemode"`
	Data     stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripePaymentIntent struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Status   string            `json:"status"`
	Created  int64             `json:"created"`
	Metadata map[string]string `json:"metadata"`
}

type stripeCharge struct {
	ID            string            `json:"id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	Paid          bool              `json:"paid"`
	PaymentIntent string            `json:"payment_intent"`
	Created       int64             `json:"created"`
	Metadata      map[string]string `json:"metadata"`
}

func (a *Adapter) parsePaymentIntent(event stripeEvent, payload []byte) (*donationdomain.PaymentEvent, error) {
	var intent stripePaymentIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, donationdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, donationdomain.ErrInvalidPayload
	}

	return &donationdomain.PaymentEvent{
		Provider:        donationdomain.ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       strings.TrimSpace(event.Type),
		Livemode:        event.Livemode,
		ObjectID:        intent.ID,
		DonationID:      donationIDFromMetadata(intent.Metadata),
		AmountCents:     intent.Amount,
		Currency:        strings.ToLower(strings.TrimSpace(intent.Currency)),
		Status:          strings.TrimSpace(intent.Status),
		OccurredAt:      timestamp(intent.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func (a *Adapter) parseCharge(event stripeEvent, payload []byte) (*donationdomain.PaymentEvent, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, donationdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(charge.ID) == "" {
		return nil, donationdomain.ErrInvalidPayload
	}

	// Charges that are not paid yet carry no donation state change.
	if !charge.Paid && !strings.EqualFold(charge.Status, "succeeded") {
		return nil, donationdomain.ErrEventIgnored
	}

	// Match the donation through the owning intent, not the charge id.
	objectID := strings.TrimSpace(charge.PaymentIntent)
	if objectID == "" {
		objectID = charge.ID
	}

	return &donationdomain.PaymentEvent{
		Provider:        donationdomain.ProviderStripe,
		ProviderEventID: event.ID,
		EventType:       strings.TrimSpace(event.Type),
		Livemode:        event.Livemode,
		ObjectID:        objectID,
		DonationID:      donationIDFromMetadata(charge.Metadata),
		AmountCents:     charge.Amount,
		Currency:        strings.ToLower(strings.TrimSpace(charge.Currency)),
		Status:          strings.TrimSpace(charge.Status),
		OccurredAt:      timestamp(charge.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func donationIDFromMetadata(metadata map[string]string) *snowflake.ID {
	raw := strings.TrimSpace(metadata["donation_id"])
	if raw == "" {
		return nil
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return nil
	}
	return &id
}

// SignPayload builds a Stripe-Signature header value for a payload, used by
// callers that need to generate signed test deliveries.
func SignPayload(secret string, at time.Time, payload []byte) string {
	ts := fmt.Sprintf("%d", at.Unix())
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(ts + "." + string(payload)))
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}
