package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mroshb/szludo_wallet/internal/gateway"
	"github.com/mroshb/szludo_wallet/pkg/errors"
)

const maxWebhookBody = 1 << 20

// RazorpayWebhook acknowledges every delivery it has settled, including
// replays and events it does not act on. Only a bad signature (400) or a
// storage failure (5xx, so the gateway redelivers) is surfaced.
func (h *HandlerManager) RazorpayWebhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}

	o, err := h.Payments.HandleWebhook(c.Request.Context(), body, c.GetHeader(gateway.SignatureHeader))
	if err != nil {
		if !errors.HasCode(err, errors.ErrCodeSignature) {
			// redelivery is the recovery path for anything transient
			err = errors.Wrap(err, errors.ErrCodeInternalError, "webhook processing failed")
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "outcome": o})
}
