package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/http/middleware"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/modules/payments"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/mpesa"
)

const maxCallbackBody = 1 << 20

// CallbacksHandler receives gateway webhooks. The gateway always gets
// {"ResultCode":0,"ResultDesc":"Accepted"}; outcomes are logged and
// archived, never reported back.
type CallbacksHandler struct {
	Logger *slog.Logger
	Engine *payments.Engine
}

func NewCallbacksHandler(logger *slog.Logger, eng *payments.Engine) *CallbacksHandler {
	return &CallbacksHandler{Logger: logger, Engine: eng}
}

// STK handles POST /callbacks/{rent,deposit,subscription}.
func (h *CallbacksHandler) STK(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, ok := h.read(c)
		if ok {
			// finish reconciling even if the gateway hangs up
			ctx := context.WithoutCancel(c.Request.Context())
			_, _ = h.Engine.Reconciler.HandleSTK(ctx, kind, body)
		}
		c.JSON(http.StatusOK, mpesa.Accepted)
	}
}

// Payout handles POST /callbacks/b2c.
func (h *CallbacksHandler) Payout(c *gin.Context) {
	body, ok := h.read(c)
	if ok {
		ctx := context.WithoutCancel(c.Request.Context())
		_, _ = h.Engine.Disburser.HandleResult(ctx, body)
	}
	c.JSON(http.StatusOK, mpesa.Accepted)
}

func (h *CallbacksHandler) read(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxCallbackBody))
	if err != nil {
		h.Logger.ErrorContext(c.Request.Context(), "callback_body_unreadable",
			"request_id", middleware.GetRequestID(c),
			"path", c.Request.URL.Path,
			"err", err,
		)
		return nil, false
	}
	return body, true
}
