package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/raffle-tickets/internal/engine"
	"github.com/iliyamo/raffle-tickets/internal/model"
)

type stubPurchaser struct {
	token  model.IntentToken
	result engine.ReconcileResult
	err    error
	gotLot string
	gotRef string
	gotQty int
}

func (s *stubPurchaser) Reserve(_ context.Context, lotID string, quantity int) (model.IntentToken, error) {
	s.gotLot, s.gotQty = lotID, quantity
	return s.token, s.err
}

func (s *stubPurchaser) Reconcile(_ context.Context, ref, lotID string, quantity int) (engine.ReconcileResult, error) {
	s.gotRef, s.gotLot, s.gotQty = ref, lotID, quantity
	return s.result, s.err
}

type stubLots []model.Lot

func (s stubLots) List(context.Context) []model.Lot { return s }

type stubInventory struct {
	rem model.Remaining
	err error
}

func (s stubInventory) RemainingCapacity(context.Context, string) (model.Remaining, error) {
	return s.rem, s.err
}

type stubTickets struct {
	tickets []model.Ticket
	err     error
}

func (s stubTickets) TicketsForLot(context.Context, string) ([]model.Ticket, error) {
	return s.tickets, s.err
}

type stubReconciliations struct {
	gotState model.ReconcileState
	gotLimit int
	recs     []model.Reconciliation
}

func (s *stubReconciliations) ListByState(_ context.Context, state model.ReconcileState, limit int) ([]model.Reconciliation, error) {
	s.gotState, s.gotLimit = state, limit
	return s.recs, nil
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewRequestValidator()
	return e
}

func serve(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var out errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestPurchaseHandler_CreateIntent(t *testing.T) {
	t.Parallel()

	stub := &stubPurchaser{token: model.IntentToken{LotID: "lot-bike", Quantity: 2, AmountCents: 1000, IntentID: "ORDER-1"}}
	e := newEcho()
	h := &PurchaseHandler{Engine: stub}
	e.POST("/v1/lots/:id/intents", h.CreateIntent)

	rec := serve(e, http.MethodPost, "/v1/lots/lot-bike/intents", `{"quantity":2}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if stub.gotLot != "lot-bike" || stub.gotQty != 2 {
		t.Fatalf("unexpected engine call %s x%d", stub.gotLot, stub.gotQty)
	}
	if !strings.Contains(rec.Body.String(), `"intent_id":"ORDER-1"`) {
		t.Fatalf("expected intent id in body, got %s", rec.Body.String())
	}

	rec = serve(e, http.MethodPost, "/v1/lots/lot-bike/intents", `{"quantity":`)
	if rec.Code != http.StatusBadRequest || decodeError(t, rec).Code != codeInvalidRequestBody {
		t.Fatalf("expected invalid body, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestPurchaseHandler_Capture(t *testing.T) {
	t.Parallel()

	tickets := []model.Ticket{{ID: "t-1", LotID: "lot-bike", PaymentRef: "ORDER-1"}}
	tests := []struct {
		name           string
		body           string
		result         engine.ReconcileResult
		serviceErr     error
		expectedStatus int
		expectedCode   string
		retryable      bool
	}{
		{
			name:           "first commit",
			body:           `{"lot_id":"lot-bike","quantity":1}`,
			result:         engine.ReconcileResult{PaymentRef: "ORDER-1", Tickets: tickets, Created: true},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "replay",
			body:           `{"lot_id":"lot-bike","quantity":1}`,
			result:         engine.ReconcileResult{PaymentRef: "ORDER-1", Tickets: tickets},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "missing lot id",
			body:           `{"quantity":1}`,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   codeInvalidRequestBody,
		},
		{
			name:           "invalid quantity",
			body:           `{"lot_id":"lot-bike","quantity":0}`,
			serviceErr:     engine.ErrInvalidQuantity,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   codeInvalidQuantity,
		},
		{
			name:           "unknown lot",
			body:           `{"lot_id":"nope","quantity":1}`,
			serviceErr:     fmt.Errorf("%w: nope", engine.ErrLotNotFound),
			expectedStatus: http.StatusNotFound,
			expectedCode:   codeLotNotFound,
		},
		{
			name:           "declined",
			body:           `{"lot_id":"lot-bike","quantity":1}`,
			serviceErr:     engine.ErrCaptureDeclined,
			expectedStatus: http.StatusPaymentRequired,
			expectedCode:   codeCaptureDeclined,
		},
		{
			name:           "gateway down",
			body:           `{"lot_id":"lot-bike","quantity":1}`,
			serviceErr:     fmt.Errorf("%w: timeout", engine.ErrGatewayFailure),
			expectedStatus: http.StatusBadGateway,
			expectedCode:   codeGatewayFailure,
		},
		{
			name:           "payment does not cover request",
			body:           `{"lot_id":"lot-bike","quantity":9}`,
			serviceErr:     engine.ErrPaymentMismatch,
			expectedStatus: http.StatusConflict,
			expectedCode:   codePaymentMismatch,
		},
		{
			name:           "oversold at commit",
			body:           `{"lot_id":"lot-bike","quantity":1}`,
			serviceErr:     engine.ErrOversoldAtCommit,
			expectedStatus: http.StatusConflict,
			expectedCode:   codeOversoldAtCommit,
		},
		{
			name:           "ledger write failure",
			body:           `{"lot_id":"lot-bike","quantity":1}`,
			serviceErr:     fmt.Errorf("%w: deadlock", engine.ErrLedgerWrite),
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   codeLedgerWrite,
			retryable:      true,
		},
		{
			name:           "unexpected error",
			body:           `{"lot_id":"lot-bike","quantity":1}`,
			serviceErr:     errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   codeInternalError,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			stub := &stubPurchaser{result: tc.result, err: tc.serviceErr}
			e := newEcho()
			h := &PurchaseHandler{Engine: stub}
			e.POST("/v1/payments/:ref/capture", h.Capture)

			rec := serve(e, http.MethodPost, "/v1/payments/ORDER-1/capture", tc.body)
			if rec.Code != tc.expectedStatus {
				t.Fatalf("expected %d, got %d: %s", tc.expectedStatus, rec.Code, rec.Body.String())
			}
			if tc.expectedCode != "" {
				body := decodeError(t, rec)
				if body.Code != tc.expectedCode {
					t.Fatalf("expected code %s, got %s", tc.expectedCode, body.Code)
				}
				if body.Retryable != tc.retryable {
					t.Fatalf("expected retryable=%v, got %v", tc.retryable, body.Retryable)
				}
			}
			if tc.expectedStatus < 300 && stub.gotRef != "ORDER-1" {
				t.Fatalf("expected ref ORDER-1, got %q", stub.gotRef)
			}
		})
	}
}

func TestLotsHandler(t *testing.T) {
	t.Parallel()

	capacity := 10
	lots := stubLots{{ID: "lot-bike", Name: "Bike", UnitPriceCents: 500, Capacity: &capacity}}
	e := newEcho()
	h := &LotsHandler{Lots: lots, Inventory: stubInventory{rem: model.Remaining{Count: 7}}}
	e.GET("/v1/lots", h.List)
	e.GET("/v1/lots/:id", h.Get)

	rec := serve(e, http.MethodGet, "/v1/lots", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"price":"5.00"`) {
		t.Fatalf("unexpected list response %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "remaining") {
		t.Fatalf("expected list without remaining capacity")
	}

	rec = serve(e, http.MethodGet, "/v1/lots/lot-bike", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":7`) {
		t.Fatalf("unexpected lot response %d %s", rec.Code, rec.Body.String())
	}

	e2 := newEcho()
	h2 := &LotsHandler{Lots: lots, Inventory: stubInventory{err: engine.ErrLotNotFound}}
	e2.GET("/v1/lots/:id", h2.Get)
	if rec := serve(e2, http.MethodGet, "/v1/lots/nope", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminHandler(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("letmein"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	recs := &stubReconciliations{recs: []model.Reconciliation{{PaymentRef: "ORDER-1", State: model.StateCommitFailed}}}
	h := &AdminHandler{
		PasswordHash: string(hash),
		JWTSecret:    "s3cret",
		AccessTTLMin: 15,
		Lots:         stubLots{{ID: "lot-bike"}},
		Tickets:      stubTickets{tickets: []model.Ticket{{ID: "t-1"}, {ID: "t-2"}}},
		Journal:      recs,
	}
	e := newEcho()
	e.POST("/v1/admin/login", h.Login)
	e.GET("/v1/admin/lots/:id/tickets", h.LotTickets)
	e.GET("/v1/admin/reconciliations", h.Reconciliations)

	t.Run("login", func(t *testing.T) {
		rec := serve(e, http.MethodPost, "/v1/admin/login", `{"password":"letmein"}`)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "access_token") {
			t.Fatalf("expected token, got %d %s", rec.Code, rec.Body.String())
		}
		rec = serve(e, http.MethodPost, "/v1/admin/login", `{"password":"nope"}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", rec.Code)
		}
		rec = serve(e, http.MethodPost, "/v1/admin/login", `{}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})

	t.Run("tickets", func(t *testing.T) {
		rec := serve(e, http.MethodGet, "/v1/admin/lots/lot-bike/tickets", "")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"count":2`) {
			t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
		}
		if rec := serve(e, http.MethodGet, "/v1/admin/lots/nope/tickets", ""); rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404, got %d", rec.Code)
		}
	})

	t.Run("reconciliations", func(t *testing.T) {
		rec := serve(e, http.MethodGet, "/v1/admin/reconciliations?state=COMMIT_FAILED&limit=10", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if recs.gotState != model.StateCommitFailed || recs.gotLimit != 10 {
			t.Fatalf("unexpected filter %s %d", recs.gotState, recs.gotLimit)
		}
		if rec := serve(e, http.MethodGet, "/v1/admin/reconciliations?state=BOGUS", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
		if rec := serve(e, http.MethodGet, "/v1/admin/reconciliations?limit=-1", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400, got %d", rec.Code)
		}
	})
}

type stubPinger struct{ err error }

func (s stubPinger) PingContext(context.Context) error { return s.err }

func TestHealthHandler(t *testing.T) {
	t.Parallel()

	e := newEcho()
	e.GET("/ok", (&HealthHandler{DB: stubPinger{}}).Health)
	e.GET("/down", (&HealthHandler{DB: stubPinger{err: errors.New("refused")}}).Health)

	if rec := serve(e, http.MethodGet, "/ok", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodGet, "/down", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
