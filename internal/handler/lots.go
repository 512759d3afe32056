// Package handler exposes the raffle's HTTP endpoints: the public lot
// catalog, the purchase flow and the admin views.
package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/raffle-tickets/internal/catalog"
	"github.com/iliyamo/raffle-tickets/internal/model"
)

// LotLister is the read side of the lot catalog.
type LotLister interface {
	List(ctx context.Context) []model.Lot
}

// CapacityReader reports what is left of a lot.
type CapacityReader interface {
	RemainingCapacity(ctx context.Context, lotID string) (model.Remaining, error)
}

// LotsHandler serves the public catalog.
type LotsHandler struct {
	Lots      LotLister
	Inventory CapacityReader
}

// lotView is a lot as shown to buyers, with the price formatted for display.
type lotView struct {
	model.Lot
	Price     string           `json:"price"`
	Remaining *model.Remaining `json:"remaining,omitempty"`
}

// List returns every lot.  Remaining capacity is left out so the response
// can be cached.
func (h *LotsHandler) List(c echo.Context) error {
	lots := h.Lots.List(c.Request().Context())
	out := make([]lotView, 0, len(lots))
	for _, l := range lots {
		out = append(out, lotView{Lot: l, Price: catalog.FormatCents(l.UnitPriceCents)})
	}
	return c.JSON(http.StatusOK, echo.Map{"items": out})
}

// Get returns one lot with its remaining capacity.
func (h *LotsHandler) Get(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	rem, err := h.Inventory.RemainingCapacity(ctx, id)
	if err != nil {
		return writeEngineError(c, err)
	}
	for _, l := range h.Lots.List(ctx) {
		if l.ID == id {
			return c.JSON(http.StatusOK, lotView{Lot: l, Price: catalog.FormatCents(l.UnitPriceCents), Remaining: &rem})
		}
	}
	return writeError(c, http.StatusNotFound, codeLotNotFound, "lot not found")
}
