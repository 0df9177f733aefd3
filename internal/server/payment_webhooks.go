package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBodyBytes = 1 << 20

// HandlePaymentWebhook acknowledges every authenticated delivery, including
// duplicates and event types billing does not act on, so providers stop
// redelivering them.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.paymentSvc.IngestWebhook(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if result != nil && (result.Duplicate || result.Ignored) {
		s.log.Debug("payment webhook acknowledged without changes",
			zap.String("provider", provider),
			zap.Bool("duplicate", result.Duplicate),
			zap.Bool("ignored", result.Ignored),
		)
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
