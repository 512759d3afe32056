package model

import "time"

// ReconcileState is a step in the per-payment reconciliation state machine:
//
//  CAPTURE_REQUESTED -> CAPTURED | CAPTURE_FAILED
//  CAPTURED          -> COMMITTED | COMMIT_FAILED
//  COMMIT_FAILED     -> COMMITTED
type ReconcileState string

const (
	StateCaptureRequested ReconcileState = "CAPTURE_REQUESTED"
	StateCaptured         ReconcileState = "CAPTURED"
	StateCaptureFailed    ReconcileState = "CAPTURE_FAILED"
	StateCommitted        ReconcileState = "COMMITTED"
	StateCommitFailed     ReconcileState = "COMMIT_FAILED"
)

// PaymentCollected reports whether the gateway has confirmed the money for
// a reconciliation in this state, so a retry must not capture again.
func (s ReconcileState) PaymentCollected() bool {
	return s == StateCaptured || s == StateCommitFailed || s == StateCommitted
}

// Valid reports whether s is one of the known states.
func (s ReconcileState) Valid() bool {
	switch s {
	case StateCaptureRequested, StateCaptured, StateCaptureFailed, StateCommitted, StateCommitFailed:
		return true
	}
	return false
}

// Failure reasons stored alongside CAPTURE_FAILED and COMMIT_FAILED.
const (
	ReasonGatewayError     = "GATEWAY_ERROR"
	ReasonCaptureDeclined  = "CAPTURE_DECLINED"
	ReasonOversoldAtCommit = "OVERSOLD_AT_COMMIT"
	ReasonLedgerWrite      = "LEDGER_WRITE_FAILURE"
	ReasonPaymentMismatch  = "PAYMENT_MISMATCH"
)

// Reconciliation is the journal row kept for each payment reference.  It
// lets a retry skip a capture the gateway already performed and lets an
// operator find payments that were collected but could not be honoured.
//
// Fields:
//  PaymentRef – gateway order id, primary key.
//  LotID      – lot the payment was made for.
//  Quantity   – number of tickets paid for.
//  State      – current state machine step.
//  Reason     – failure reason for CAPTURE_FAILED / COMMIT_FAILED.
//  Retryable  – whether repeating the call may succeed.
//  Payer      – identity captured from the gateway.
//  CaptureID  – gateway capture id, when known.
//  CreatedAt  – first time the reference was seen.
//  UpdatedAt  – last state change.
type Reconciliation struct {
	PaymentRef string         `json:"payment_ref"`
	LotID      string         `json:"lot_id"`
	Quantity   int            `json:"quantity"`
	State      ReconcileState `json:"state"`
	Reason     string         `json:"reason,omitempty"`
	Retryable  bool           `json:"retryable"`
	Payer      Payer          `json:"payer"`
	CaptureID  string         `json:"capture_id,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
