package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"shutterbook/models"
	"shutterbook/services/settlement"
	"shutterbook/utils"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

const maxWebhookBody = int64(65536)

// StripeWebhook handles POST /api/webhooks/stripe. A succeeded payment intent
// marks its reservation paid; other event types are acknowledged and ignored.
func (hb *HandlerBundle) StripeWebhook(c *gin.Context) {
	logger := hb.getLogger(c)

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		utils.JSONError(c, http.StatusServiceUnavailable, "read_error", "error reading request body", err.Error())
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), hb.WebhookSecret)
	if err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid_signature", "webhook signature verification failed", err.Error())
		return
	}

	if event.Type != "payment_intent.succeeded" {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		utils.JSONError(c, http.StatusBadRequest, "invalid_payload", "cannot parse payment intent", err.Error())
		return
	}
	reservationID := pi.Metadata[settlement.MetadataReservationID]
	if reservationID == "" {
		logger.Warn("Payment intent without reservation id", zap.String("paymentIntent", pi.ID))
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	}

	_, err = hb.Reservations.MarkPaid(c.Request.Context(), reservationID, pi.ID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true})
	case errors.Is(err, models.ErrInvalidTransition), errors.Is(err, models.ErrNotFound):
		// Retrying cannot help; acknowledge so the processor stops redelivering.
		logger.Warn("Payment event not applied",
			zap.String("reservationID", reservationID),
			zap.String("paymentIntent", pi.ID),
			zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
	default:
		hb.respondError(c, err)
	}
}
