package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	donationdomain "github.com/thelab33/futurefunded/internal/donation/domain"
	donationservice "github.com/thelab33/futurefunded/internal/donation/service"
)

var (
	ErrRateLimited    = errors.New("rate_limited")
	ErrInvalidRequest = errors.New("invalid_request")
)

type errorDetail struct {
	Message string         `json:"message"`
	Extra   map[string]any `json:"-"`
}

func (d errorDetail) MarshalJSON() ([]byte, error) {
	out := map[string]any{"message": d.Message}
	for k, v := range d.Extra {
		out[k] = v
	}
	return json.Marshal(out)
}

type errorEnvelope struct {
	OK      bool        `json:"ok"`
	Message string      `json:"message"`
	Error   errorDetail `json:"error"`
}

// ErrorHandlingMiddleware renders the JSON error envelope for any error a
// handler attached to the context without writing a response itself.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, envelope := mapError(lastErr.Err, extrasFromContext(c))
		c.AbortWithStatusJSON(status, envelope)
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

// AbortWithErrorExtras attaches provider diagnostics that mapError folds into
// the error object.
func AbortWithErrorExtras(c *gin.Context, err error, extras map[string]any) {
	if err == nil {
		return
	}
	c.Set(contextErrorExtrasKey, extras)
	_ = c.Error(err)
	c.Abort()
}

const contextErrorExtrasKey = "error_extras"

func extrasFromContext(c *gin.Context) map[string]any {
	value, ok := c.Get(contextErrorExtrasKey)
	if !ok {
		return nil
	}
	extras, _ := value.(map[string]any)
	return extras
}

func mapError(err error, extras map[string]any) (int, errorEnvelope) {
	status := http.StatusInternalServerError
	message := "internal server error"

	var upstream *donationservice.UpstreamError

	switch {
	case errors.Is(err, donationdomain.ErrAmountInvalid):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, donationdomain.ErrAmountBelowMinimum):
		status = http.StatusBadRequest
		message = "amount is below the minimum donation"
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, donationdomain.ErrInvalidPayload):
		status = http.StatusBadRequest
		message = "invalid request"
	case errors.Is(err, donationdomain.ErrInvalidSignature):
		status = http.StatusBadRequest
		message = "webhook signature verification failed"
	case errors.Is(err, donationdomain.ErrProviderNotConfigured):
		status = http.StatusInternalServerError
		message = "payment provider is not configured"
	case errors.Is(err, donationdomain.ErrSchemaMissing):
		status = http.StatusServiceUnavailable
		message = "database schema is missing, run migrations"
	case errors.Is(err, donationdomain.ErrTransientDB):
		status = http.StatusInternalServerError
		message = "temporary database error, retry shortly"
	case errors.As(err, &upstream):
		// Declines and other provider rejections keep the provider's
		// user-facing message; provider outages stay a gateway error.
		status = http.StatusBadGateway
		if upstream.StatusCode >= 400 && upstream.StatusCode < 500 {
			status = http.StatusBadRequest
		}
		message = upstream.Message
	case errors.Is(err, donationdomain.ErrUpstreamProvider):
		status = http.StatusBadGateway
		message = "payment provider request failed"
	case errors.Is(err, donationdomain.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		status = http.StatusNotFound
		message = "not found"
	case errors.Is(err, ErrRateLimited):
		status = http.StatusTooManyRequests
		message = "too many requests"
	}

	return status, errorEnvelope{
		OK:      false,
		Message: message,
		Error: errorDetail{
			Message: message,
			Extra:   extras,
		},
	}
}
