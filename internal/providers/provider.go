package providers

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Confirm statuses reported by providers.
const (
	StatusCaptured = "captured"
	StatusPending  = "pending"
	StatusFailed   = "failed"
)

// Webhooks older or newer than this are rejected regardless of signature.
const webhookTolerance = 5 * time.Minute

// IntentRequest is what the orchestrator hands a provider to reserve a
// payment.
type IntentRequest struct {
	Amount         decimal.Decimal
	Currency       string
	OrderRef       string
	Method         string
	IdempotencyKey string
}

// Intent is the provider-side reservation. ClientPayload is passed through
// to the client untouched (QR payload URL, card-auth token, merchant
// session).
type Intent struct {
	Ref           string
	ClientPayload map[string]interface{}
	ExpiresAt     time.Time
}

// WebhookEvent is the provider-neutral form of a webhook notification.
type WebhookEvent struct {
	EventID   string
	Type      string // payment.captured, payment.failed
	IntentRef string
	Timestamp time.Time
}

// Provider is the uniform capability interface every payment processor
// implements.
type Provider interface {
	Name() string
	// Methods lists the customer-facing payment methods this provider
	// accepts.
	Methods() []string
	FeeBps() int64
	// RequiredTiers limits the provider to restaurants on one of the listed
	// subscription tiers; nil means any tier.
	RequiredTiers() []string
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	Confirm(ctx context.Context, intentRef string) (string, error)
	Refund(ctx context.Context, paymentRef string, amount decimal.Decimal) error
	VerifyWebhook(headers http.Header, body []byte) (*WebhookEvent, error)
}

// Registry holds the configured providers in registration order.
type Registry struct {
	order     []string
	providers map[string]Provider
}

func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range ps {
		r.order = append(r.order, p.Name())
		r.providers[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// ForMethod returns the providers accepting the given method, in
// registration order.
func (r *Registry) ForMethod(method string) []Provider {
	var out []Provider
	for _, name := range r.order {
		p := r.providers[name]
		for _, m := range p.Methods() {
			if m == method {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

func (r *Registry) All() []Provider {
	out := make([]Provider, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.providers[name])
	}
	return out
}
