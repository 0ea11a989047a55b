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
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"golang-pos-backend/configs"
	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/models"
)

// ApplePayProvider handles Apple Pay sessions through the acquiring gateway.
// Restricted to premium and enterprise restaurants.
type ApplePayProvider struct {
	cfg        configs.ProviderConfig
	httpClient *http.Client
}

func NewApplePayProvider(cfg configs.ProviderConfig, timeout time.Duration) *ApplePayProvider {
	return &ApplePayProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *ApplePayProvider) Name() string      { return models.ProviderApplePay }
func (p *ApplePayProvider) Methods() []string { return []string{models.MethodApplePay} }
func (p *ApplePayProvider) FeeBps() int64     { return p.cfg.FeeBps }

func (p *ApplePayProvider) RequiredTiers() []string {
	return []string{models.TierPremium, models.TierEnterprise}
}

type applePaySessionRequest struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
}

type applePaySessionResponse struct {
	SessionID       string          `json:"session_id"`
	MerchantSession json.RawMessage `json:"merchant_session"`
	Status          string          `json:"status"` // created, authorized, captured, declined
}

func (p *ApplePayProvider) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	body := applePaySessionRequest{
		Amount:    req.Amount.StringFixed(2),
		Currency:  req.Currency,
		Reference: req.OrderRef,
	}

	var resp applePaySessionResponse
	if err := p.do(ctx, http.MethodPost, "/v1/sessions", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}

	return &Intent{
		Ref: resp.SessionID,
		ClientPayload: map[string]interface{}{
			"merchant_session": json.RawMessage(resp.MerchantSession),
		},
		ExpiresAt: time.Now().Add(p.cfg.IntentTTL),
	}, nil
}

func (p *ApplePayProvider) Confirm(ctx context.Context, intentRef string) (string, error) {
	var resp applePaySessionResponse
	if err := p.do(ctx, http.MethodGet, "/v1/sessions/"+intentRef, "", nil, &resp); err != nil {
		return "", err
	}

	switch resp.Status {
	case "captured":
		return StatusCaptured, nil
	case "created", "authorized":
		return StatusPending, nil
	default:
		return StatusFailed, nil
	}
}

func (p *ApplePayProvider) Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) error {
	body := map[string]string{
		"session_id": paymentRef,
		"amount":     amount.StringFixed(2),
	}
	return p.do(ctx, http.MethodPost, "/v1/refunds", "", body, nil)
}

func (p *ApplePayProvider) VerifyWebhook(headers http.Header, body []byte) (*WebhookEvent, error) {
	signature := headers.Get("X-ApplePay-Signature")
	tsHeader := headers.Get("X-ApplePay-Timestamp")
	if signature == "" || tsHeader == "" {
		return nil, apperrors.SignatureInvalid()
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return nil, apperrors.SignatureInvalid()
	}
	eventTime := time.Unix(ts, 0)
	if skew := time.Since(eventTime); skew > webhookTolerance || skew < -webhookTolerance {
		return nil, apperrors.SignatureInvalid()
	}

	mac := hmac.New(sha256.New, []byte(p.cfg.WebhookSecret))
	mac.Write([]byte(tsHeader))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return nil, apperrors.SignatureInvalid()
	}

	var payload struct {
		EventID   string `json:"event_id"`
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.SignatureInvalid()
	}

	return &WebhookEvent{
		EventID:   payload.EventID,
		Type:      payload.Type,
		IntentRef: payload.SessionID,
		Timestamp: eventTime,
	}, nil
}

func (p *ApplePayProvider) do(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
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
		return apperrors.ProviderUnavailable(p.Name(), fmt.Errorf("applepay returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("applepay rejected %s %s with %d", method, path, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
