package model

// IntentRequest asks the payment gateway for a payable intent.
type IntentRequest struct {
	AmountCents   int64
	Currency      string
	Description   string
	CorrelationID string
}

// IntentToken is returned to the buyer after a successful admission.  It
// carries the price fixed at admission time and the gateway intent id the
// buyer pays against.  It is not persisted by this service.
type IntentToken struct {
	LotID          string `json:"lot_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
	IntentID       string `json:"intent_id"`
}

// CaptureStatus is the gateway's verdict on a capture.
type CaptureStatus string

const (
	CaptureSuccess CaptureStatus = "SUCCESS"
	CaptureFailure CaptureStatus = "FAILURE"
)

// CaptureResult is what the gateway reports after capturing an intent.
// AmountCents, Currency and CorrelationID describe what was actually paid
// and are filled for successful captures.  Detail holds the provider's raw
// status or error name for logging.
type CaptureResult struct {
	Status        CaptureStatus
	CaptureID     string
	Payer         Payer
	AmountCents   int64
	Currency      string
	CorrelationID string
	Detail        string
}
