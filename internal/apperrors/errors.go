package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Stable machine-readable codes carried in error envelopes.
const (
	CodeTokenMissing                = "token_missing"
	CodeTokenInvalid                = "token_invalid"
	CodeTokenExpired                = "token_expired"
	CodeContextMismatch             = "context_mismatch"
	CodeRoleInsufficient            = "role_insufficient"
	CodeUserDisabled                = "user_disabled"
	CodeInvalidPayload              = "invalid_payload"
	CodeFeeMismatch                 = "fee_mismatch"
	CodeStaleOrderState             = "stale_order_state"
	CodeProductUnavailable          = "product_unavailable"
	CodeRestaurantClosed            = "restaurant_closed"
	CodeRefundExceedsCapture        = "refund_exceeds_capture"
	CodeSignatureInvalid            = "signature_invalid"
	CodeOrderNotFound               = "order_not_found"
	CodeRestaurantNotFound          = "restaurant_not_found"
	CodeProductNotFound             = "product_not_found"
	CodePaymentNotFound             = "payment_not_found"
	CodeUserNotFound                = "user_not_found"
	CodeIdempotencyConflict         = "idempotency_conflict"
	CodeDoubleCapture               = "double_capture"
	CodeInvalidTransition           = "invalid_transition"
	CodeIntentExpired               = "intent_expired"
	CodeRateLimited                 = "rate_limited"
	CodeConnectionLimit             = "connection_limit"
	CodeProviderUnavailable         = "provider_unavailable"
	CodeIdentityProviderUnavailable = "identity_provider_unavailable"
	CodeInternal                    = "internal"
)

// Error is the failure type every component raises. The HTTP layer is the
// only place that turns one into a status code and response envelope.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on code so callers can compare against constructed sentinels.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

func New(code, message string, status int) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// From extracts an *Error from err, collapsing anything else to internal.
func From(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal(err)
}

// Is reports whether err carries the given code anywhere in its chain.
func Is(err error, code string) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}

// Authentication (401)

func TokenMissing() *Error {
	return New(CodeTokenMissing, "authorization token is missing", http.StatusUnauthorized)
}

func TokenInvalid() *Error {
	return New(CodeTokenInvalid, "authorization token is invalid", http.StatusUnauthorized)
}

func TokenExpired() *Error {
	return New(CodeTokenExpired, "authorization token has expired", http.StatusUnauthorized)
}

// Authorization (403)

func ContextMismatch(message string) *Error {
	if message == "" {
		message = "request target does not match your restaurant context"
	}
	return New(CodeContextMismatch, message, http.StatusForbidden)
}

func RoleInsufficient(role string) *Error {
	return New(CodeRoleInsufficient, "role "+role+" is not allowed to perform this action", http.StatusForbidden)
}

func UserDisabled() *Error {
	return New(CodeUserDisabled, "user account is disabled", http.StatusForbidden)
}

// Validation (400)

func InvalidPayload(message string) *Error {
	if message == "" {
		message = "request payload failed validation"
	}
	return New(CodeInvalidPayload, message, http.StatusBadRequest)
}

func FeeMismatch(expected, got string) *Error {
	return New(CodeFeeMismatch, "displayed fee does not match the computed fee", http.StatusBadRequest).
		WithDetails(map[string]interface{}{"expected_fee": expected, "client_fee": got})
}

func StaleOrderState(expected, actual string) *Error {
	return New(CodeStaleOrderState, "order changed since the client last read it", http.StatusBadRequest).
		WithDetails(map[string]interface{}{"expected_total": expected, "actual_total": actual})
}

func ProductUnavailable(names []string) *Error {
	return New(CodeProductUnavailable, "one or more products are not available", http.StatusBadRequest).
		WithDetails(map[string]interface{}{"products": names})
}

func RestaurantClosed() *Error {
	return New(CodeRestaurantClosed, "restaurant is closed", http.StatusBadRequest)
}

func RefundExceedsCapture() *Error {
	return New(CodeRefundExceedsCapture, "refund amount exceeds the captured amount", http.StatusBadRequest)
}

func SignatureInvalid() *Error {
	return New(CodeSignatureInvalid, "webhook signature verification failed", http.StatusBadRequest)
}

// Not found (404)

func OrderNotFound() *Error {
	return New(CodeOrderNotFound, "order not found", http.StatusNotFound)
}

func RestaurantNotFound() *Error {
	return New(CodeRestaurantNotFound, "restaurant not found", http.StatusNotFound)
}

func ProductNotFound() *Error {
	return New(CodeProductNotFound, "product not found", http.StatusNotFound)
}

func PaymentNotFound() *Error {
	return New(CodePaymentNotFound, "payment not found", http.StatusNotFound)
}

func UserNotFound() *Error {
	return New(CodeUserNotFound, "user not found", http.StatusNotFound)
}

// Conflict (409)

func IdempotencyConflict() *Error {
	return New(CodeIdempotencyConflict, "idempotency key was used with a different request", http.StatusConflict)
}

func DoubleCapture() *Error {
	return New(CodeDoubleCapture, "order already has a captured payment", http.StatusConflict)
}

func InvalidTransition(from, to string) *Error {
	return New(CodeInvalidTransition, "cannot transition order from "+from+" to "+to, http.StatusConflict)
}

func IntentExpired() *Error {
	return New(CodeIntentExpired, "payment intent has expired", http.StatusConflict)
}

// Rate/limit (429)

func RateLimited() *Error {
	return New(CodeRateLimited, "too many requests", http.StatusTooManyRequests)
}

func ConnectionLimit() *Error {
	return New(CodeConnectionLimit, "too many concurrent connections", http.StatusTooManyRequests)
}

// Upstream (503)

func ProviderUnavailable(provider string, err error) *Error {
	return New(CodeProviderUnavailable, "payment provider "+provider+" is unavailable", http.StatusServiceUnavailable).WithCause(err)
}

func IdentityProviderUnavailable(err error) *Error {
	return New(CodeIdentityProviderUnavailable, "identity provider is unavailable", http.StatusServiceUnavailable).WithCause(err)
}

// Internal (500)

func Internal(err error) *Error {
	return New(CodeInternal, "internal server error", http.StatusInternalServerError).WithCause(err)
}
