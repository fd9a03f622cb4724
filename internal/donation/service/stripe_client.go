package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/thelab33/futurefunded/internal/donation/domain"
)

type stripePaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Livemode     bool   `json:"livemode"`
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type stripeIntentParams struct {
	AmountCents    int64
	Currency       string
	Description    string
	ReceiptEmail   string
	DonationID     string
	Breakdown      domain.AmountBreakdown
	CoverFees      bool
	RoundUp        bool
	ForceCard      bool
	AllowRedirects bool
}

type stripeClient struct {
	apiKey  string
	apiBase string
	client  *http.Client
}

func newStripeClient(apiKey, apiBase string) *stripeClient {
	base := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if base == "" {
		base = "https://api.stripe.com"
	}
	return &stripeClient{
		apiKey:  strings.TrimSpace(apiKey),
		apiBase: base,
		client:  &http.Client{Timeout: 12 * time.Second},
	}
}

func (c *stripeClient) createPaymentIntent(
	ctx context.Context,
	p stripeIntentParams,
	idempotencyKey string,
) (stripePaymentIntent, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(p.AmountCents, 10))
	values.Set("currency", strings.ToLower(p.Currency))
	if p.Description != "" {
		values.Set("description", p.Description)
	}
	if p.ReceiptEmail != "" {
		values.Set("receipt_email", p.ReceiptEmail)
	}
	values.Set("metadata[donation_id]", p.DonationID)
	values.Set("metadata[base_cents]", strconv.FormatInt(p.Breakdown.BaseCents, 10))
	values.Set("metadata[fee_cents]", strconv.FormatInt(p.Breakdown.FeeCents, 10))
	values.Set("metadata[round_up_add_cents]", strconv.FormatInt(p.Breakdown.RoundUpAddCents, 10))
	values.Set("metadata[cover_fees]", strconv.FormatBool(p.CoverFees))
	values.Set("metadata[round_up]", strconv.FormatBool(p.RoundUp))

	if p.ForceCard {
		values.Set("payment_method_types[]", "card")
	} else {
		values.Set("automatic_payment_methods[enabled]", "true")
		if !p.AllowRedirects {
			values.Set("automatic_payment_methods[allow_redirects]", "never")
		}
	}

	return c.doRequest(ctx, http.MethodPost, "/v1/payment_intents", values, idempotencyKey)
}

func (c *stripeClient) retrievePaymentIntent(ctx context.Context, intentID string) (stripePaymentIntent, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/payment_intents/"+intentID, nil, "")
}

func (c *stripeClient) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
) (stripePaymentIntent, error) {
	if c.apiKey == "" {
		return stripePaymentIntent{}, domain.ErrProviderNotConfigured
	}
	var bodyReader *strings.Reader
	if values != nil {
		bodyReader = strings.NewReader(values.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, bodyReader)
	if err != nil {
		return stripePaymentIntent{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return stripePaymentIntent{}, fmt.Errorf("%w: %v", domain.ErrUpstreamProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		var stripeErr stripeErrorResponse
		message := ""
		if json.Unmarshal(body, &stripeErr) == nil {
			message = strings.TrimSpace(stripeErr.Error.Message)
		}
		if message == "" {
			message = fmt.Sprintf("stripe returned status %d", resp.StatusCode)
		}
		return stripePaymentIntent{}, &UpstreamError{
			Provider:   "stripe",
			StatusCode: resp.StatusCode,
			Body:       json.RawMessage(body),
			Message:    message,
		}
	}

	var intent stripePaymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return stripePaymentIntent{}, fmt.Errorf("%w: %v", domain.ErrUpstreamProvider, err)
	}
	if intent.ID == "" {
		return stripePaymentIntent{}, fmt.Errorf("%w: stripe response missing intent id", domain.ErrUpstreamProvider)
	}
	return intent, nil
}
