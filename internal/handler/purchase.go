package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/raffle-tickets/internal/engine"
	"github.com/iliyamo/raffle-tickets/internal/model"
)

// Purchaser is the engine surface used by the purchase endpoints.
type Purchaser interface {
	Reserve(ctx context.Context, lotID string, quantity int) (model.IntentToken, error)
	Reconcile(ctx context.Context, paymentRef, lotID string, quantity int) (engine.ReconcileResult, error)
}

// PurchaseHandler drives the two steps of a purchase: open a payment intent,
// then reconcile the approved payment into tickets.
type PurchaseHandler struct {
	Engine Purchaser
}

type intentReq struct {
	Quantity int `json:"quantity"`
}

type captureReq struct {
	LotID    string `json:"lot_id" validate:"required,max=64"`
	Quantity int    `json:"quantity"`
}

// CreateIntent handles POST /v1/lots/:id/intents.
func (h *PurchaseHandler) CreateIntent(c echo.Context) error {
	var req intentReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	tok, err := h.Engine.Reserve(c.Request().Context(), c.Param("id"), req.Quantity)
	if err != nil {
		return writeEngineError(c, err)
	}
	return c.JSON(http.StatusCreated, tok)
}

// Capture handles POST /v1/payments/:ref/capture.  The first successful
// call answers 201; replays of a committed reference answer 200 with the
// same tickets.
func (h *PurchaseHandler) Capture(c echo.Context) error {
	var req captureReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	res, err := h.Engine.Reconcile(c.Request().Context(), c.Param("ref"), req.LotID, req.Quantity)
	if err != nil {
		return writeEngineError(c, err)
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	return c.JSON(status, res)
}
