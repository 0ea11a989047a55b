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

// QRPayProvider speaks the open-banking QR gateway. Lowest fee of the four;
// intents expire after a short TTL because the customer has to scan and
// approve in their banking app.
type QRPayProvider struct {
	cfg        configs.ProviderConfig
	httpClient *http.Client
}

func NewQRPayProvider(cfg configs.ProviderConfig, timeout time.Duration) *QRPayProvider {
	return &QRPayProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (p *QRPayProvider) Name() string            { return models.ProviderQRPay }
func (p *QRPayProvider) Methods() []string       { return []string{models.MethodQR} }
func (p *QRPayProvider) FeeBps() int64           { return p.cfg.FeeBps }
func (p *QRPayProvider) RequiredTiers() []string { return nil }

type qrpayIntentRequest struct {
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference"`
	ExpiresIn int    `json:"expires_in"`
}

type qrpayIntentResponse struct {
	ID     string `json:"id"`
	QRURL  string `json:"qr_url"`
	QRData string `json:"qr_data"`
	Status string `json:"status"`
}

func (p *QRPayProvider) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	body := qrpayIntentRequest{
		Amount:    req.Amount.StringFixed(2),
		Currency:  req.Currency,
		Reference: req.OrderRef,
		ExpiresIn: int(p.cfg.IntentTTL.Seconds()),
	}

	var resp qrpayIntentResponse
	if err := p.do(ctx, http.MethodPost, "/v1/payment-intents", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}

	return &Intent{
		Ref: resp.ID,
		ClientPayload: map[string]interface{}{
			"qr_url":  resp.QRURL,
			"qr_data": resp.QRData,
		},
		ExpiresAt: time.Now().Add(p.cfg.IntentTTL),
	}, nil
}

func (p *QRPayProvider) Confirm(ctx context.Context, intentRef string) (string, error) {
	var resp qrpayIntentResponse
	if err := p.do(ctx, http.MethodGet, "/v1/payment-intents/"+intentRef, "", nil, &resp); err != nil {
		return "", err
	}

	switch resp.Status {
	case "succeeded":
		return StatusCaptured, nil
	case "pending", "awaiting_authorisation":
		return StatusPending, nil
	default:
		return StatusFailed, nil
	}
}

func (p *QRPayProvider) Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) error {
	body := map[string]string{
		"payment_ref": paymentRef,
		"amount":      amount.StringFixed(2),
	}
	return p.do(ctx, http.MethodPost, "/v1/refunds", "", body, nil)
}

// VerifyWebhook checks the hex HMAC-SHA256 over "<timestamp>.<body>" and
// rejects stale timestamps before looking at the payload.
func (p *QRPayProvider) VerifyWebhook(headers http.Header, body []byte) (*WebhookEvent, error) {
	signature := headers.Get("X-QRPay-Signature")
	tsHeader := headers.Get("X-QRPay-Timestamp")
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
		EventID  string `json:"event_id"`
		Type     string `json:"type"`
		IntentID string `json:"intent_id"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, apperrors.SignatureInvalid()
	}

	return &WebhookEvent{
		EventID:   payload.EventID,
		Type:      payload.Type,
		IntentRef: payload.IntentID,
		Timestamp: eventTime,
	}, nil
}

func (p *QRPayProvider) do(ctx context.Context, method, path, idempotencyKey string, body, out interface{}) error {
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
	req.Header.Set("X-API-Key", p.cfg.APIKey)
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return apperrors.ProviderUnavailable(p.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return apperrors.ProviderUnavailable(p.Name(), fmt.Errorf("qrpay returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("qrpay rejected %s %s with %d", method, path, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
