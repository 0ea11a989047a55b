package providers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"golang-pos-backend/configs"
	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/models"
)

// SumUpProvider is the primary card processor.
type SumUpProvider struct {
	cfg        configs.ProviderConfig
	httpClient *http.Client
}

func NewSumUpProvider(cfg configs.ProviderConfig, timeout time.Duration) *SumUpProvider {
	return &SumUpProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *SumUpProvider) Name() string            { return models.ProviderSumUp }
func (p *SumUpProvider) Methods() []string       { return []string{models.MethodCard} }
func (p *SumUpProvider) FeeBps() int64           { return p.cfg.FeeBps }
func (p *SumUpProvider) RequiredTiers() []string { return nil }

type sumupCheckoutRequest struct {
	CheckoutReference string  `json:"checkout_reference"`
	Amount            float64 `json:"amount"`
	Currency          string  `json:"currency"`
}

type sumupCheckoutResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"` // PENDING, PAID, FAILED
}

func (p *SumUpProvider) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	amount, _ := req.Amount.Float64()
	body := sumupCheckoutRequest{
		CheckoutReference: req.OrderRef,
		Amount:            amount,
		Currency:          req.Currency,
	}

	var resp sumupCheckoutResponse
	if err := p.do(ctx, http.MethodPost, "/v0.1/checkouts", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}

	return &Intent{
		Ref: resp.ID,
		ClientPayload: map[string]interface{}{
			"checkout_id": resp.ID,
		},
		ExpiresAt: time.Now().Add(p.cfg.IntentTTL),
	}, nil
}

func (p *SumUpProvider) Confirm(ctx context.Context, intentRef string) (string, error) {
	var resp sumupCheckoutResponse
	if err := p.do(ctx, http.MethodGet, "/v0.1/checkouts/"+intentRef, "", nil, &resp); err != nil {
		return "", err
	}

	switch resp.Status {
	case "PAID":
		return StatusCaptured, nil
	case "PENDING":
		return StatusPending, nil
	default:
		return StatusFailed, nil
	}
}

func (p *SumUpProvider) Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) error {
	amt, _ := amount.Float64()
	body := map[string]interface{}{"amount": amt}
	return p.do(ctx, http.MethodPost, "/v0.1/me/refund/"+paymentRef, "", body, nil)
}

// VerifyWebhook checks a hex HMAC-SHA256 over the raw body; the event
// timestamp travels in the payload.
func (p *SumUpProvider) VerifyWebhook(headers http.Header, body []byte) (*WebhookEvent, error) {
	signature := headers.Get("X-SumUp-Signature")
	if signature == "" {
		return nil, apperrors.SignatureInvalid()
	}

	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, apperrors.SignatureInvalid()
	}

	var payload struct {
		EventID    string `json:"event_id"`
		EventType  string `json:"event_type"` // CHECKOUT_STATUS_CHANGED
		CheckoutID string `json:"checkout_id"`
		Status     string `json:"status"`
		Timestamp  int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.SignatureInvalid()
	}

	eventTime := time.Unix(payload.Timestamp, 0)
	if skew := time.Since(eventTime); skew > webhookTolerance || skew < -webhookTolerance {
		return nil, apperrors.SignatureInvalid()
	}

	eventType := "payment.failed"
	if payload.Status == "PAID" {
		eventType = "payment.captured"
	}

	return &WebhookEvent{
		EventID:   payload.EventID,
		Type:      eventType,
		IntentRef: payload.CheckoutID,
		Timestamp: eventTime,
	}, nil
}

func (p *SumUpProvider) do(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
	var reqBody *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
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
		return apperrors.ProviderUnavailable(p.Name(), fmt.Errorf("sumup returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sumup rejected %s %s with %d", method, path, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
