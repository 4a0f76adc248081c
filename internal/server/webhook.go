package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	maxWebhookBodyBytes   = 1 << 20
)

// HandleStripeWebhook answers 200 for applied, duplicate and dropped events
// so the provider stops redelivering; storage failures answer 500 so it
// retries.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			AbortWithError(c, ErrPayloadTooLarge)
			return
		}
		AbortWithError(c, invalidRequestError())
		return
	}

	results, err := s.reconcilerSvc.HandleWebhook(c.Request.Context(), payload, c.GetHeader(stripeSignatureHeader))
	if err != nil {
		s.log.Warn("stripe webhook failed", zap.Int("results", len(results)), zap.Error(err))
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "results": results})
}
