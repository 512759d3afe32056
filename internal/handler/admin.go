package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/raffle-tickets/internal/model"
	"github.com/iliyamo/raffle-tickets/internal/utils"
)

const (
	AdminSubject = "admin"
	AdminRole    = "ADMIN"
)

// TicketLister lists committed tickets of a lot.
type TicketLister interface {
	TicketsForLot(ctx context.Context, lotID string) ([]model.Ticket, error)
}

// ReconciliationLister lists journaled reconciliations.
type ReconciliationLister interface {
	ListByState(ctx context.Context, state model.ReconcileState, limit int) ([]model.Reconciliation, error)
}

// AdminHandler serves the organiser's back office: a single admin account
// whose bcrypt hash comes from configuration.
type AdminHandler struct {
	PasswordHash string
	JWTSecret    string
	AccessTTLMin int
	Lots         LotLister
	Tickets      TicketLister
	Journal      ReconciliationLister
}

type loginReq struct {
	Password string `json:"password" validate:"required,max=128"`
}

// Login exchanges the admin password for an access token.
func (h *AdminHandler) Login(c echo.Context) error {
	var req loginReq
	if ok, err := bind(c, &req); !ok {
		return err
	}
	if !utils.VerifyPassword(h.PasswordHash, req.Password) {
		return writeError(c, http.StatusUnauthorized, codeInvalidCredentials, "invalid credentials")
	}
	tok, err := utils.NewAccessToken(h.JWTSecret, AdminSubject, AdminRole, h.AccessTTLMin)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, codeInternalError, "issue access token failed")
	}
	return c.JSON(http.StatusOK, tok)
}

// LotTickets lists every ticket committed for a lot, with payer details.
func (h *AdminHandler) LotTickets(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	if !hasLot(ctx, h.Lots, id) {
		return writeError(c, http.StatusNotFound, codeLotNotFound, "lot not found")
	}
	tickets, err := h.Tickets.TicketsForLot(ctx, id)
	if err != nil {
		c.Logger().Error(err)
		return writeError(c, http.StatusInternalServerError, codeInternalError, "query failed")
	}
	if tickets == nil {
		tickets = []model.Ticket{}
	}
	return c.JSON(http.StatusOK, echo.Map{"lot_id": id, "count": len(tickets), "items": tickets})
}

// Reconciliations lists journal entries, optionally filtered by ?state= and
// capped by ?limit=.  COMMIT_FAILED with reason OVERSOLD_AT_COMMIT marks
// payments that need a refund.
func (h *AdminHandler) Reconciliations(c echo.Context) error {
	state := model.ReconcileState(c.QueryParam("state"))
	if state != "" && !state.Valid() {
		return writeError(c, http.StatusBadRequest, codeInvalidState, "unknown state")
	}
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return writeError(c, http.StatusBadRequest, codeInvalidInput, "limit must be a positive integer")
		}
		limit = n
	}
	recs, err := h.Journal.ListByState(c.Request().Context(), state, limit)
	if err != nil {
		c.Logger().Error(err)
		return writeError(c, http.StatusInternalServerError, codeInternalError, "query failed")
	}
	if recs == nil {
		recs = []model.Reconciliation{}
	}
	return c.JSON(http.StatusOK, echo.Map{"items": recs})
}

func hasLot(ctx context.Context, lots LotLister, id string) bool {
	for _, l := range lots.List(ctx) {
		if l.ID == id {
			return true
		}
	}
	return false
}
