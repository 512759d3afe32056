package paypal

const (
	IntentCapture = "CAPTURE"

	StatusCompleted = "COMPLETED"
	StatusPending   = "PENDING"
	StatusDeclined  = "DECLINED"
	StatusFailed    = "FAILED"

	IssueOrderAlreadyCaptured = "ORDER_ALREADY_CAPTURED"
)

type Amount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type PurchaseUnitRequest struct {
	ReferenceID string `json:"reference_id,omitempty"`
	CustomID    string `json:"custom_id,omitempty"`
	Description string `json:"description,omitempty"`
	Amount      Amount `json:"amount"`
}

type CreateOrderRequest struct {
	Intent        string                `json:"intent"`
	PurchaseUnits []PurchaseUnitRequest `json:"purchase_units"`
}

type Name struct {
	GivenName string `json:"given_name"`
	Surname   string `json:"surname"`
}

type Payer struct {
	Name         Name   `json:"name"`
	EmailAddress string `json:"email_address"`
	PayerID      string `json:"payer_id"`
}

type Capture struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   Amount `json:"amount"`
	CustomID string `json:"custom_id"`
}

type Payments struct {
	Captures []Capture `json:"captures"`
}

type PurchaseUnit struct {
	ReferenceID string   `json:"reference_id"`
	CustomID    string   `json:"custom_id"`
	Amount      Amount   `json:"amount"`
	Payments    Payments `json:"payments"`
}

type Order struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	Payer         Payer          `json:"payer"`
	PurchaseUnits []PurchaseUnit `json:"purchase_units"`
}

type IssueDetail struct {
	Issue       string `json:"issue"`
	Description string `json:"description"`
}

// ErrorResponse is PayPal's error envelope.
type ErrorResponse struct {
	Name    string        `json:"name"`
	Message string        `json:"message"`
	DebugID string        `json:"debug_id"`
	Details []IssueDetail `json:"details"`
}
