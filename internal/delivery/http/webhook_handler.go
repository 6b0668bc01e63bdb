package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Lemmeyg/howtobuddy2-sub001/internal/domain"
	"github.com/Lemmeyg/howtobuddy2-sub001/internal/webhook"
)

const signatureHeader = "X-Signature"

// WebhookHandler receives provider callbacks. Failures are not retried
// here; the ingestor's idempotency makes provider-side retries safe.
type WebhookHandler struct {
	ingestor *webhook.Ingestor
	logger   *zap.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
func NewWebhookHandler(ingestor *webhook.Ingestor, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		ingestor: ingestor,
		logger:   logger,
	}
}

// Receive handles POST /api/v1/webhooks/transcription
func (h *WebhookHandler) Receive(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read request body"})
		return
	}

	err = h.ingestor.Ingest(c.Request.Context(), raw, c.GetHeader(signatureHeader))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidPayload):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrJobNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown provider job"})
		default:
			h.logger.Error("Webhook ingest failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
