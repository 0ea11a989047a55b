package providers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"golang-pos-backend/configs"
	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/models"
)

// StripeProvider is the fallback card processor. Stripe's API is
// form-encoded and works in minor currency units.
type StripeProvider struct {
	cfg        configs.ProviderConfig
	httpClient *http.Client
}

func NewStripeProvider(cfg configs.ProviderConfig, timeout time.Duration) *StripeProvider {
	return &StripeProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *StripeProvider) Name() string            { return models.ProviderStripe }
func (p *StripeProvider) Methods() []string       { return []string{models.MethodCard} }
func (p *StripeProvider) FeeBps() int64           { return p.cfg.FeeBps }
func (p *StripeProvider) RequiredTiers() []string { return nil }

type stripeIntentResponse struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"` // requires_payment_method, processing, succeeded, canceled
}

func (p *StripeProvider) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(toMinorUnits(req.Amount), 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("metadata[order_ref]", req.OrderRef)

	var resp stripeIntentResponse
	if err := p.do(ctx, http.MethodPost, "/v1/payment_intents", req.IdempotencyKey, form, &resp); err != nil {
		return nil, err
	}

	return &Intent{
		Ref: resp.ID,
		ClientPayload: map[string]interface{}{
			"client_secret": resp.ClientSecret,
		},
		ExpiresAt: time.Now().Add(p.cfg.IntentTTL),
	}, nil
}

func (p *StripeProvider) Confirm(ctx context.Context, intentRef string) (string, error) {
	var resp stripeIntentResponse
	if err := p.do(ctx, http.MethodGet, "/v1/payment_intents/"+intentRef, "", nil, &resp); err != nil {
		return "", err
	}

	switch resp.Status {
	case "succeeded":
		return StatusCaptured, nil
	case "processing", "requires_payment_method", "requires_confirmation", "requires_action":
		return StatusPending, nil
	default:
		return StatusFailed, nil
	}
}

func (p *StripeProvider) Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) error {
	form := url.Values{}
	form.Set("payment_intent", paymentRef)
	form.Set("amount", strconv.FormatInt(toMinorUnits(amount), 10))
	return p.do(ctx, http.MethodPost, "/v1/refunds", "", form, nil)
}

// VerifyWebhook parses the "t=<ts>,v1=<sig>" signature header; the signed
// payload is "<ts>.<body>".
func (p *StripeProvider) VerifyWebhook(headers http.Header, body []byte) (*WebhookEvent, error) {
	header := headers.Get("Stripe-Signature")
	if header == "" {
		return nil, apperrors.SignatureInvalid()
	}

	var tsPart, sigPart string
	for _, piece := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(piece), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			tsPart = kv[1]
		case "v1":
			sigPart = kv[1]
		}
	}
	if tsPart == "" || sigPart == "" {
		return nil, apperrors.SignatureInvalid()
	}

	ts, err := strconv.ParseInt(tsPart, 10, 64)
	if err != nil {
		return nil, apperrors.SignatureInvalid()
	}
	eventTime := time.Unix(ts, 0)
	if skew := time.Since(eventTime); skew > webhookTolerance || skew < -webhookTolerance {
		return nil, apperrors.SignatureInvalid()
	}

	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	mac.Write([]byte(tsPart))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(sigPart), []byte(expected)) {
		return nil, apperrors.SignatureInvalid()
	}

	var payload struct {
		ID   string `json:"id"`
		Type string `json:"type"` // payment_intent.succeeded, payment_intent.payment_failed
		Data struct {
			Object struct {
				ID string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.SignatureInvalid()
	}

	eventType := "payment.failed"
	if payload.Type == "payment_intent.succeeded" {
		eventType = "payment.captured"
	}

	return &WebhookEvent{
		EventID:   payload.ID,
		Type:      eventType,
		IntentRef: payload.Data.Object.ID,
		Timestamp: eventTime,
	}, nil
}

func (p *StripeProvider) do(ctx context.Context, method, path, idempotencyKey string, form url.Values, out interface{}) error {
	var body string
	if form != nil {
		body = form.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return apperrors.ProviderUnavailable(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apperrors.ProviderUnavailable(p.Name(), fmt.Errorf("stripe returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("stripe rejected %s %s with %d", method, path, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func toMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
