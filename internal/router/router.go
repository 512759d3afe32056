package router // package router registers the HTTP routes of the API

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/raffle-tickets/internal/handler"
	"github.com/iliyamo/raffle-tickets/internal/middleware"
)

// RegisterRoutes registers the unauthenticated health check.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler) {
	e.GET("/healthz", h.Health)
}

// RegisterPublic registers the lot catalog.  The list is served through the
// response cache; a single lot carries live remaining capacity and is not.
func RegisterPublic(e *echo.Echo, l *handler.LotsHandler, cache echo.MiddlewareFunc) {
	e.GET("/v1/lots", l.List, cache)
	e.GET("/v1/lots/:id", l.Get)
}

// RegisterPurchase registers the two purchase steps behind the rate limiter.
func RegisterPurchase(e *echo.Echo, p *handler.PurchaseHandler, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1", limiter)
	g.POST("/lots/:id/intents", p.CreateIntent)
	g.POST("/payments/:ref/capture", p.Capture)
}

// RegisterAdmin registers the login endpoint and the ADMIN-only views.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	e.POST("/v1/admin/login", a.Login, limiter)

	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(handler.AdminRole),
	)
	g.GET("/lots/:id/tickets", a.LotTickets)
	g.GET("/reconciliations", a.Reconciliations)
}
