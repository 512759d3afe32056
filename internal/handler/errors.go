package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/raffle-tickets/internal/engine"
)

const (
	codeInvalidRequestBody = "invalid_request_body"
	codeInvalidQuantity    = "invalid_quantity"
	codeInvalidPaymentRef  = "invalid_payment_ref"
	codeInvalidPrice       = "invalid_price"
	codeInvalidState       = "invalid_state"
	codeInvalidInput       = "invalid_input"
	codeLotNotFound        = "lot_not_found"
	codeReferenceConflict  = "reference_conflict"
	codePaymentMismatch    = "payment_mismatch"
	codeOversold           = "oversold"
	codeOversoldAtCommit   = "oversold_at_commit"
	codeCaptureDeclined    = "capture_declined"
	codeGatewayFailure     = "gateway_failure"
	codeLedgerWrite        = "ledger_write_failure"
	codeInvalidCredentials = "invalid_credentials"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeError(c echo.Context, status int, code, msg string) error {
	return c.JSON(status, errorResponse{Error: msg, Code: code})
}

// writeEngineError maps engine error kinds onto HTTP responses.  Most
// specific kinds are checked first because they also match their parent.
func writeEngineError(c echo.Context, err error) error {
	resp := errorResponse{Error: err.Error(), Retryable: engine.IsRetryable(err)}
	var status int
	switch {
	case errors.Is(err, engine.ErrLotNotFound):
		status, resp.Code = http.StatusNotFound, codeLotNotFound
	case errors.Is(err, engine.ErrInvalidQuantity):
		status, resp.Code = http.StatusBadRequest, codeInvalidQuantity
	case errors.Is(err, engine.ErrInvalidPaymentRef):
		status, resp.Code = http.StatusBadRequest, codeInvalidPaymentRef
	case errors.Is(err, engine.ErrInvalidPrice):
		status, resp.Code = http.StatusBadRequest, codeInvalidPrice
	case errors.Is(err, engine.ErrReferenceConflict):
		status, resp.Code = http.StatusConflict, codeReferenceConflict
	case errors.Is(err, engine.ErrPaymentMismatch):
		status, resp.Code = http.StatusConflict, codePaymentMismatch
	case errors.Is(err, engine.ErrInvalidInput):
		status, resp.Code = http.StatusBadRequest, codeInvalidInput
	case errors.Is(err, engine.ErrOversold):
		status, resp.Code = http.StatusConflict, codeOversold
	case errors.Is(err, engine.ErrOversoldAtCommit):
		status, resp.Code = http.StatusConflict, codeOversoldAtCommit
	case errors.Is(err, engine.ErrCaptureDeclined):
		status, resp.Code = http.StatusPaymentRequired, codeCaptureDeclined
	case errors.Is(err, engine.ErrGatewayFailure):
		status, resp.Code = http.StatusBadGateway, codeGatewayFailure
	case errors.Is(err, engine.ErrLedgerWrite):
		status, resp.Code = http.StatusServiceUnavailable, codeLedgerWrite
		resp.Retryable = true
	default:
		c.Logger().Error(err)
		status, resp.Code, resp.Error = http.StatusInternalServerError, codeInternalError, "internal error"
	}
	return c.JSON(status, resp)
}
