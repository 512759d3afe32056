package engine

import (
	"errors"
	"fmt"

	"github.com/iliyamo/raffle-tickets/internal/model"
)

// Error kinds.  Callers match them with errors.Is; the more specific
// sentinels wrap their kind so both checks succeed.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrOversold         = errors.New("oversold")
	ErrGatewayFailure   = errors.New("payment gateway failure")
	ErrOversoldAtCommit = errors.New("oversold at commit")
	ErrLedgerWrite      = errors.New("ledger write failure")
)

var (
	ErrInvalidQuantity   = fmt.Errorf("%w: quantity must be a positive integer", ErrInvalidInput)
	ErrInvalidPaymentRef = fmt.Errorf("%w: payment reference is required", ErrInvalidInput)
	ErrLotNotFound       = fmt.Errorf("%w: lot not found", ErrInvalidInput)
	ErrInvalidPrice      = fmt.Errorf("%w: lot price must be positive", ErrInvalidInput)
	ErrReferenceConflict = fmt.Errorf("%w: payment reference already used for a different purchase", ErrInvalidInput)
	ErrPaymentMismatch   = fmt.Errorf("%w: captured payment does not cover the requested tickets", ErrInvalidInput)
	ErrCaptureDeclined   = fmt.Errorf("%w: capture declined", ErrGatewayFailure)
)

// ReconcileError reports a reconciliation that stopped in CAPTURE_FAILED or
// COMMIT_FAILED.  It unwraps to its kind sentinel and to the cause.
type ReconcileError struct {
	PaymentRef string
	State      model.ReconcileState
	Reason     string
	Retryable  bool
	kind       error
	cause      error
}

func (e *ReconcileError) Error() string {
	msg := fmt.Sprintf("reconcile %s: %s (%s)", e.PaymentRef, e.kind, e.Reason)
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *ReconcileError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.kind}
	}
	return []error{e.kind, e.cause}
}

// IsRetryable reports whether err is a reconciliation failure that may
// succeed when repeated with the same arguments.
func IsRetryable(err error) bool {
	var re *ReconcileError
	return errors.As(err, &re) && re.Retryable
}
