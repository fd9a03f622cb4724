package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/thelab33/futurefunded/internal/donation/domain"
)

// paypalTokenCache holds the current OAuth token behind a mutex. The token is
// refreshed a minute before PayPal's reported expiry.
type paypalTokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

type paypalClient struct {
	clientID string
	secret   string
	apiBase  string
	client   *http.Client
	cache    paypalTokenCache
}

type paypalOrder struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Links  []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

// ApproveURL returns the link the payer must visit to approve the order.
func (o paypalOrder) ApproveURL() string {
	for _, link := range o.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			return link.Href
		}
	}
	return ""
}

type paypalCapture struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// UpstreamError carries the raw provider response body so handlers can attach
// it to the error envelope.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Body       json.RawMessage
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Provider, e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error { return domain.ErrUpstreamProvider }

func newPayPalClient(clientID, secret, apiBase string) *paypalClient {
	base := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	if base == "" {
		base = "https://api-m.paypal.com"
	}
	return &paypalClient{
		clientID: strings.TrimSpace(clientID),
		secret:   strings.TrimSpace(secret),
		apiBase:  base,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *paypalClient) configured() bool {
	return c.clientID != "" && c.secret != ""
}

// accessToken returns a cached token or fetches a fresh one.
func (c *paypalClient) accessToken(ctx context.Context) (string, error) {
	if !c.configured() {
		return "", domain.ErrProviderNotConfigured
	}

	c.cache.mu.Lock()
	defer c.cache.mu.Unlock()
	if c.cache.token != "" && time.Now().Before(c.cache.expiresAt) {
		return c.cache.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.clientID, c.secret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamProvider, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= http.StatusBadRequest {
		return "", &UpstreamError{
			Provider:   domain.ProviderPayPal,
			StatusCode: resp.StatusCode,
			Body:       body,
			Message:    "oauth token request failed",
		}
	}

	var token struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &token); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamProvider, err)
	}
	if token.AccessToken == "" {
		return "", fmt.Errorf("%w: paypal token response missing access_token", domain.ErrUpstreamProvider)
	}

	c.cache.token = token.AccessToken
	c.cache.expiresAt = time.Now().Add(time.Duration(token.ExpiresIn)*time.Second - time.Minute)
	return c.cache.token, nil
}

func (c *paypalClient) createOrder(ctx context.Context, amountCents int64, currency, reference string) (paypalOrder, error) {
	payload := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{
			{
				"reference_id": reference,
				"amount": map[string]string{
					"currency_code": strings.ToUpper(currency),
					"value":         formatCentsAsDecimal(amountCents),
				},
			},
		},
	}

	var order paypalOrder
	if err := c.doJSON(ctx, http.MethodPost, "/v2/checkout/orders", payload, &order); err != nil {
		return paypalOrder{}, err
	}
	if order.ID == "" {
		return paypalOrder{}, fmt.Errorf("%w: paypal order response missing id", domain.ErrUpstreamProvider)
	}
	return order, nil
}

func (c *paypalClient) captureOrder(ctx context.Context, orderID string) (paypalCapture, error) {
	var capture paypalCapture
	if err := c.doJSON(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", nil, &capture); err != nil {
		return paypalCapture{}, err
	}
	return capture, nil
}

func (c *paypalClient) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	var bodyReader io.Reader = strings.NewReader("")
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		bodyReader = strings.NewReader(string(encoded))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBase+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstreamProvider, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= http.StatusBadRequest {
		message := "paypal request failed"
		var detail struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &detail) == nil && detail.Message != "" {
			message = detail.Message
		}
		return &UpstreamError{
			Provider:   domain.ProviderPayPal,
			StatusCode: resp.StatusCode,
			Body:       body,
			Message:    message,
		}
	}

	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrUpstreamProvider, err)
		}
	}
	return nil
}

// formatCentsAsDecimal renders integer cents as a two-decimal string, the
// only amount format PayPal's Orders API accepts.
func formatCentsAsDecimal(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
