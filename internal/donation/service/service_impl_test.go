package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/thelab33/futurefunded/internal/config"
	"github.com/thelab33/futurefunded/internal/donation/domain"
	donationrepo "github.com/thelab33/futurefunded/internal/donation/repository"
	donationservice "github.com/thelab33/futurefunded/internal/donation/service"
	orgrepo "github.com/thelab33/futurefunded/internal/organization/repository"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&domain.Donation{}, &domain.ProviderEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newService(t *testing.T, db *gorm.DB, cfg config.Config) *donationservice.Service {
	t.Helper()

	node, err := snowflake.NewNode(3)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	return donationservice.NewService(donationservice.Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Cfg:     cfg,
		Repo:    donationrepo.Provide(),
		OrgRepo: orgrepo.Provide(),
	})
}

func baseConfig() config.Config {
	return config.Config{
		Environment:          "development",
		PlatformName:         "FutureFunded",
		Currency:             "usd",
		MinAmountCents:       100,
		MaxAmountCents:       2_500_000,
		StripeSecretKey:      "sk_test_abc",
		StripePublishableKey: "pk_test_abc",
	}
}

func cents(v int64) *int64 { return &v }

// fakeStripe serves POST /v1/payment_intents and records each request form.
func fakeStripe(t *testing.T, status int, response any) (*httptest.Server, *[]url.Values) {
	t.Helper()

	var forms []url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payment_intents" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		forms = append(forms, r.PostForm)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response)
	}))
	t.Cleanup(server.Close)
	return server, &forms
}

func TestCreateStripeIntent(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	server, forms := fakeStripe(t, http.StatusOK, map[string]any{
		"id":            "pi_123",
		"client_secret": "pi_123_secret",
		"status":        "requires_payment_method",
		"amount":        1561,
		"currency":      "usd",
	})

	cfg := baseConfig()
	cfg.StripeAPIBase = server.URL
	svc := newService(t, db, cfg)

	result, err := svc.CreateStripeIntent(ctx, donationservice.IntentRequest{
		Amount:     domain.AmountInput{AmountCents: cents(1200)},
		DonorEmail: "ada@example.com",
		CoverFees:  true,
		RoundUp:    true,
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if result.IntentID != "pi_123" || result.ClientSecret != "pi_123_secret" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Breakdown.RoundUpAddCents != 300 {
		t.Fatalf("round up add %d, want 300", result.Breakdown.RoundUpAddCents)
	}
	if result.Breakdown.TotalCents-result.Breakdown.FeeCents != 1500 {
		t.Fatalf("fee gross-up did not preserve the rounded base: %+v", result.Breakdown)
	}
	if result.AmountSource != domain.AmountSourceCents {
		t.Fatalf("amount source %s, want %s", result.AmountSource, domain.AmountSourceCents)
	}

	if len(*forms) != 1 {
		t.Fatalf("expected one upstream request, got %d", len(*forms))
	}
	form := (*forms)[0]
	if got := form.Get("amount"); got != fmt.Sprintf("%d", result.Breakdown.TotalCents) {
		t.Fatalf("charged amount %s, want %d", got, result.Breakdown.TotalCents)
	}
	if got := form.Get("metadata[donation_id]"); got != result.DonationID.String() {
		t.Fatalf("metadata donation_id %s, want %s", got, result.DonationID)
	}
	if got := form.Get("receipt_email"); got != "ada@example.com" {
		t.Fatalf("receipt_email %s", got)
	}

	stored, err := svc.GetDonation(ctx, result.DonationID)
	if err != nil {
		t.Fatalf("load donation: %v", err)
	}
	if stored.ProviderIntentID != "pi_123" {
		t.Fatalf("intent id not attached: %+v", stored)
	}
	if stored.AmountCents != result.Breakdown.TotalCents {
		t.Fatalf("stored amount %d, want %d", stored.AmountCents, result.Breakdown.TotalCents)
	}
}

func TestCreateStripeIntentSendsIdempotencyKey(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	var key atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key.Store(r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "pi_k", "client_secret": "cs_k", "status": "requires_payment_method",
		})
	}))
	t.Cleanup(server.Close)

	cfg := baseConfig()
	cfg.StripeAPIBase = server.URL
	svc := newService(t, db, cfg)

	result, err := svc.CreateStripeIntent(ctx, donationservice.IntentRequest{
		Amount: domain.AmountInput{AmountCents: cents(1500)},
	})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	got, _ := key.Load().(string)
	want := domain.ServerIdempotencyKey(result.DonationID, 1500, "usd", false, false)
	if got != want {
		t.Fatalf("idempotency key %q, want %q", got, want)
	}
}

func TestCreateStripeIntentValidation(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db, baseConfig())

	_, err := svc.CreateStripeIntent(ctx, donationservice.IntentRequest{})
	if !errors.Is(err, domain.ErrAmountInvalid) {
		t.Fatalf("missing amount: expected ErrAmountInvalid, got %v", err)
	}

	_, err = svc.CreateStripeIntent(ctx, donationservice.IntentRequest{
		Amount: domain.AmountInput{AmountCents: cents(50)},
	})
	if !errors.Is(err, domain.ErrAmountBelowMinimum) {
		t.Fatalf("below minimum: expected ErrAmountBelowMinimum, got %v", err)
	}
}

func TestCreateStripeIntentWithoutKeys(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	cfg := baseConfig()
	cfg.StripeSecretKey = ""
	svc := newService(t, db, cfg)

	_, err := svc.CreateStripeIntent(ctx, donationservice.IntentRequest{
		Amount: domain.AmountInput{AmountCents: cents(1500)},
	})
	if !errors.Is(err, domain.ErrProviderNotConfigured) {
		t.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}

	cfg = baseConfig()
	cfg.StripeSecretKey = "not_a_stripe_key"
	svc = newService(t, db, cfg)
	_, err = svc.CreateStripeIntent(ctx, donationservice.IntentRequest{
		Amount: domain.AmountInput{AmountCents: cents(1500)},
	})
	if !errors.Is(err, domain.ErrProviderNotConfigured) {
		t.Fatalf("malformed keys: expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestCreateStripeIntentUpstreamFailure(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	server, _ := fakeStripe(t, http.StatusPaymentRequired, map[string]any{
		"error": map[string]any{
			"type":    "card_error",
			"code":    "card_declined",
			"message": "Your card was declined.",
		},
	})

	cfg := baseConfig()
	cfg.StripeAPIBase = server.URL
	svc := newService(t, db, cfg)

	_, err := svc.CreateStripeIntent(ctx, donationservice.IntentRequest{
		Amount: domain.AmountInput{AmountCents: cents(1500)},
	})
	if !errors.Is(err, domain.ErrUpstreamProvider) {
		t.Fatalf("expected ErrUpstreamProvider, got %v", err)
	}

	var upstream *donationservice.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError with provider details, got %v", err)
	}
	if upstream.Provider != "stripe" || upstream.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("unexpected provider details: %+v", upstream)
	}
	if upstream.Message != "Your card was declined." {
		t.Fatalf("decline message lost: %q", upstream.Message)
	}
	if len(upstream.Body) == 0 {
		t.Fatalf("provider error body not captured")
	}
}

func TestRefreshIntentStatus(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	var retrieves int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/v1/payment_intents/pi_refresh" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		atomic.AddInt64(&retrieves, 1)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "pi_refresh",
			"status": "succeeded",
		})
	}))
	t.Cleanup(server.Close)

	cfg := baseConfig()
	cfg.StripeAPIBase = server.URL
	svc := newService(t, db, cfg)
	repo := donationrepo.Provide()

	node, err := snowflake.NewNode(4)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	now := time.Now().UTC()
	donation := &domain.Donation{
		ID:               node.Generate(),
		AmountCents:      1500,
		Currency:         "usd",
		Provider:         domain.ProviderStripe,
		ProviderIntentID: "pi_refresh",
		ProviderStatus:   domain.StatusPendingIntent,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := repo.Insert(ctx, db, donation); err != nil {
		t.Fatalf("insert donation: %v", err)
	}

	got, err := svc.RefreshIntentStatus(ctx, donation.ID)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got.ProviderStatus != domain.StatusSucceeded {
		t.Fatalf("status %s, want %s", got.ProviderStatus, domain.StatusSucceeded)
	}
	if got.PaidAt == nil {
		t.Fatalf("succeeded refresh should set paid_at")
	}

	// paid donations are served from storage without another provider call
	if _, err := svc.RefreshIntentStatus(ctx, donation.ID); err != nil {
		t.Fatalf("refresh after paid: %v", err)
	}
	if atomic.LoadInt64(&retrieves) != 1 {
		t.Fatalf("expected 1 provider retrieve, got %d", retrieves)
	}
}

// fakePayPal serves the token, order and capture endpoints and counts token
// requests so the cache behavior is observable.
type fakePayPal struct {
	server     *httptest.Server
	tokenCalls int64
}

func newFakePayPal(t *testing.T) *fakePayPal {
	t.Helper()

	f := &fakePayPal{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&f.tokenCalls, 1)
		if _, _, ok := r.BasicAuth(); !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "A21_token",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer A21_token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "ORDER123",
			"status": "CREATED",
			"links": []map[string]any{
				{"rel": "self", "href": "https://example.test/self"},
				{"rel": "approve", "href": "https://example.test/approve"},
			},
		})
	})
	mux.HandleFunc("/v2/checkout/orders/ORDER123/capture", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "ORDER123",
			"status": "COMPLETED",
			"purchase_units": []map[string]any{
				{"payments": map[string]any{
					"captures": []map[string]any{
						{"id": "CAP456", "status": "COMPLETED"},
					},
				}},
			},
		})
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func paypalConfig(serverURL string) config.Config {
	cfg := config.Config{
		Environment:    "development",
		PlatformName:   "FutureFunded",
		Currency:       "usd",
		MinAmountCents: 100,
		MaxAmountCents: 2_500_000,
	}
	cfg.PayPalClientID = "client"
	cfg.PayPalClientSecret = "secret"
	cfg.PayPalAPIBase = serverURL
	return cfg
}

func TestCreatePayPalOrder(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	paypal := newFakePayPal(t)
	svc := newService(t, db, paypalConfig(paypal.server.URL))

	result, err := svc.CreatePayPalOrder(ctx, donationservice.IntentRequest{
		Amount: domain.AmountInput{AmountCents: cents(1500)},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if result.IntentID != "ORDER123" || result.Status != "created" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.ApproveURL != "https://example.test/approve" {
		t.Fatalf("approve url %s", result.ApproveURL)
	}

	stored, err := svc.GetDonation(ctx, result.DonationID)
	if err != nil {
		t.Fatalf("load donation: %v", err)
	}
	if stored.Provider != domain.ProviderPayPal || stored.ProviderIntentID != "ORDER123" {
		t.Fatalf("unexpected donation: %+v", stored)
	}
}

func TestPayPalTokenCached(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	paypal := newFakePayPal(t)
	svc := newService(t, db, paypalConfig(paypal.server.URL))

	for i := 0; i < 3; i++ {
		if _, err := svc.CreatePayPalOrder(ctx, donationservice.IntentRequest{
			Amount: domain.AmountInput{AmountCents: cents(1500)},
		}); err != nil {
			t.Fatalf("create order %d: %v", i, err)
		}
	}
	if calls := atomic.LoadInt64(&paypal.tokenCalls); calls != 1 {
		t.Fatalf("expected one token fetch, got %d", calls)
	}
}

func TestCapturePayPalOrder(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	paypal := newFakePayPal(t)
	svc := newService(t, db, paypalConfig(paypal.server.URL))

	order, err := svc.CreatePayPalOrder(ctx, donationservice.IntentRequest{
		Amount: domain.AmountInput{AmountCents: cents(1500)},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	capture, err := svc.CapturePayPalOrder(ctx, order.IntentID, order.DonationID.String())
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if capture.CaptureID != "CAP456" || capture.Status != "completed" {
		t.Fatalf("unexpected capture: %+v", capture)
	}
	if capture.DonationID == nil || *capture.DonationID != order.DonationID {
		t.Fatalf("donation id not reported: %+v", capture)
	}

	stored, err := svc.GetDonation(ctx, order.DonationID)
	if err != nil {
		t.Fatalf("load donation: %v", err)
	}
	if stored.ProviderStatus != domain.StatusCaptured {
		t.Fatalf("status %s, want %s", stored.ProviderStatus, domain.StatusCaptured)
	}
	if stored.PaidAt == nil {
		t.Fatalf("paid_at not set after capture")
	}
}

func TestCapturePayPalOrderByOrderID(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	paypal := newFakePayPal(t)
	svc := newService(t, db, paypalConfig(paypal.server.URL))

	order, err := svc.CreatePayPalOrder(ctx, donationservice.IntentRequest{
		Amount: domain.AmountInput{AmountCents: cents(1500)},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}

	// no donation id in the capture request; matching runs on the order id
	capture, err := svc.CapturePayPalOrder(ctx, order.IntentID, "")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if capture.Status != "completed" {
		t.Fatalf("status %s, want completed", capture.Status)
	}

	stored, err := svc.GetDonation(ctx, order.DonationID)
	if err != nil {
		t.Fatalf("load donation: %v", err)
	}
	if stored.ProviderStatus != domain.StatusCaptured {
		t.Fatalf("status %s, want %s", stored.ProviderStatus, domain.StatusCaptured)
	}
}

func TestPayPalDisabled(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	svc := newService(t, db, baseConfig())

	if svc.PayPalConfigured() {
		t.Fatalf("paypal should be disabled without credentials")
	}
	if _, err := svc.CreatePayPalOrder(ctx, donationservice.IntentRequest{
		Amount: domain.AmountInput{AmountCents: cents(1500)},
	}); !errors.Is(err, domain.ErrProviderNotConfigured) {
		t.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}
	if _, err := svc.CapturePayPalOrder(ctx, "ORDER123", ""); !errors.Is(err, domain.ErrProviderNotConfigured) {
		t.Fatalf("expected ErrProviderNotConfigured, got %v", err)
	}
}
