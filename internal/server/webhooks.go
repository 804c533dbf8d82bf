package server

import (
	"errors"
	"net/http"

	obslogger "github.com/coursekit/enroll/internal/observability/logger"
	"github.com/coursekit/enroll/internal/payment"
	plandomain "github.com/coursekit/enroll/internal/plan/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleMidtransWebhook applies a gateway confirmation to the plan the
// order ref was claimed for. The gateway retries on non-2xx, so only
// genuine processing failures return an error status; a notification
// for an unknown or already-confirmed order ref is acknowledged and
// dropped.
func (s *Server) HandleMidtransWebhook(c *gin.Context) {
	var notification payment.Notification
	if err := c.ShouldBindJSON(&notification); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if !payment.VerifySignature(notification, s.cfg.MidtransServerKey) {
		obslogger.FromContext(c.Request.Context()).Warn("webhook.signature_mismatch",
			zap.String("order_ref", notification.OrderRef),
		)
		AbortWithError(c, ErrForbidden)
		return
	}

	outcome := payment.ClassifyOutcome(notification.TransactionStatus)
	err := s.orchestrator.ConfirmOutcome(c.Request.Context(), notification.OrderRef, outcome)
	if err != nil {
		if errors.Is(err, plandomain.ErrPlanNotFound) {
			obslogger.FromContext(c.Request.Context()).Warn("webhook.unknown_order_ref",
				zap.String("order_ref", notification.OrderRef),
				zap.String("transaction_status", notification.TransactionStatus),
			)
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
