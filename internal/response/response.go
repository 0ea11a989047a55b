package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"golang-pos-backend/internal/apperrors"
)

// Envelope is the body shape of every JSON response.
type Envelope struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorBody  `json:"error,omitempty"`
	Meta      *Meta       `json:"meta,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type ErrorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type Meta struct {
	Pagination *Pagination `json:"pagination,omitempty"`
}

type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// PageMeta builds pagination metadata for list endpoints.
func PageMeta(page, limit int, total int64) *Meta {
	pages := int(total) / limit
	if int(total)%limit != 0 {
		pages++
	}
	return &Meta{Pagination: &Pagination{Page: page, Limit: limit, Total: total, Pages: pages}}
}

func OK(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Envelope{Success: true, Data: data, Timestamp: time.Now().UTC()})
}

func OKWithMeta(c *gin.Context, status int, data interface{}, meta *Meta) {
	c.JSON(status, Envelope{Success: true, Data: data, Meta: meta, Timestamp: time.Now().UTC()})
}

// Error translates err into the envelope. Callers pass whatever error they
// have; anything that is not an application error becomes a generic 500 so
// internals never leak to clients.
func Error(c *gin.Context, err error) {
	appErr := apperrors.From(err)

	body := &ErrorBody{Code: appErr.Code, Message: appErr.Message, Details: appErr.Details}
	switch appErr.Status {
	case http.StatusInternalServerError:
		// Internal messages stay generic; the correlation id lets operators
		// find the logged cause.
		body.Message = "internal server error"
		if rid := c.GetString("request_id"); rid != "" {
			body.Details = map[string]interface{}{"correlation_id": rid}
		}
	case http.StatusServiceUnavailable:
		c.Header("Retry-After", "30")
	case http.StatusTooManyRequests:
		c.Header("Retry-After", "1")
	}

	c.JSON(appErr.Status, Envelope{Success: false, Error: body, Timestamp: time.Now().UTC()})
}

// Abort writes the error envelope and stops the handler chain.
func Abort(c *gin.Context, err error) {
	Error(c, err)
	c.Abort()
}
