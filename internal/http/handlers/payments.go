package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/http/middleware"
	"github.com/georgemgichuru/Makau-Rentals---Backend/internal/modules/payments"
)

type PaymentsHandler struct {
	Logger *slog.Logger
	Engine *payments.Engine
}

func NewPaymentsHandler(logger *slog.Logger, eng *payments.Engine) *PaymentsHandler {
	return &PaymentsHandler{Logger: logger, Engine: eng}
}

type rentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Phone  string          `json:"phone"`
}

type depositRequest struct {
	UnitID string          `json:"unitID" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
	Phone  string          `json:"phone"`
}

type stkPushRequest struct {
	Plan  string `json:"plan" binding:"required"`
	Phone string `json:"phone"`
}

// POST /payments/rent/:unitID
func (h *PaymentsHandler) PayRent(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req rentRequest
	if !bindJSON(c, &req) {
		return
	}
	h.initiate(c, "paymentID", payments.InitiateInput{
		ActorID: a.ID,
		Kind:    payments.KindRent,
		UnitID:  c.Param("unitID"),
		Amount:  req.Amount,
		Phone:   req.Phone,
	})
}

// POST /payments/deposit
func (h *PaymentsHandler) PayDeposit(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req depositRequest
	if !bindJSON(c, &req) {
		return
	}
	h.initiate(c, "paymentID", payments.InitiateInput{
		ActorID: a.ID,
		Kind:    payments.KindDeposit,
		UnitID:  req.UnitID,
		Amount:  req.Amount,
		Phone:   req.Phone,
	})
}

// POST /subscriptions/stk-push
func (h *PaymentsHandler) Subscribe(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	var req stkPushRequest
	if !bindJSON(c, &req) {
		return
	}
	h.initiate(c, "subscriptionPaymentID", payments.InitiateInput{
		ActorID: a.ID,
		Kind:    payments.KindSubscription,
		Plan:    req.Plan,
		Phone:   req.Phone,
	})
}

// initiate answers 202 as soon as the push is accepted; the client polls
// the status endpoint for the outcome.
func (h *PaymentsHandler) initiate(c *gin.Context, idKey string, in payments.InitiateInput) {
	res, err := h.Engine.Initiator.Initiate(c.Request.Context(), in)
	if err != nil && !(errors.Is(err, payments.ErrGatewayUnavailable) && res.PaymentID != "") {
		middleware.Fail(c, toAppErr(err))
		return
	}

	body := gin.H{
		idKey:    res.PaymentID,
		"status": res.Status,
		"amount": res.Amount,
	}
	if res.Message != "" {
		body["message"] = res.Message
	}
	c.JSON(http.StatusAccepted, body)
}

// GET /payments/:id/status
func (h *PaymentsHandler) Status(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	v, err := h.Engine.Queries.PaymentStatus(c.Request.Context(), a.ID, c.Param("id"))
	if err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}
	c.JSON(http.StatusOK, v)
}

// GET /subscriptions/payments/:id/status
func (h *PaymentsHandler) SubscriptionStatus(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	v, err := h.Engine.Queries.SubscriptionStatus(c.Request.Context(), a.ID, c.Param("id"))
	if err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}
	c.JSON(http.StatusOK, v)
}

// GET /payments
func (h *PaymentsHandler) List(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	rows, err := h.Engine.Queries.ListPayments(c.Request.Context(), a.ID, listFilter(c))
	if err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": rows})
}

// GET /subscriptions/payments
func (h *PaymentsHandler) ListSubscriptionPayments(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	rows, err := h.Engine.Queries.ListSubscriptionPayments(c.Request.Context(), a.ID, listFilter(c))
	if err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": rows})
}

// GET /payments/summary
func (h *PaymentsHandler) Summary(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	sum, err := h.Engine.Queries.RentSummary(c.Request.Context(), a.ID)
	if err != nil {
		middleware.Fail(c, toAppErr(err))
		return
	}
	c.JSON(http.StatusOK, sum)
}
