package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	ierr "github.com/smallbiznis/fiscalsync/internal/errors"
	obslogger "github.com/smallbiznis/fiscalsync/internal/observability/logger"
	paymentdomain "github.com/smallbiznis/fiscalsync/internal/payment/domain"
)

const maxWebhookBodyBytes = 1 << 20

// HandleStripeWebhook acknowledges duplicates and ignored events with 200 so
// the provider stops redelivering them. Any other failure is a 5xx and gets
// redelivered.
func (s *Server) HandleStripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError("unreadable webhook body"))
		return
	}

	err = s.gateway.Handle(c.Request.Context(), payload, c.Request.Header)
	if paymentdomain.Acknowledged(err) {
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	if ierr.IsAuthentication(err) || ierr.IsValidation(err) {
		AbortWithError(c, err)
		return
	}

	obslogger.WithContext(c.Request.Context(), s.log).Error("webhook handling failed", zap.Error(err))
	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorResponse{Error: errorPayload{
		Type:    ierr.Code(err),
		Message: "webhook handling failed",
	}})
}
