package model

import "time"

// Ticket records one sold unit of a lot.  A single payment yields one
// ticket per purchased unit; QuantityIndex distinguishes them.  Tickets
// are written once by the reconciler and never updated or deleted.
//
// Fields:
//  ID            – globally unique id generated at commit time.
//  LotID         – lot the ticket was sold for.
//  PaymentRef    – gateway order id the ticket was paid with.
//  QuantityIndex – 0-based position within the payment's batch.
//  IssuedAt      – commit timestamp (UTC).
//  Payer         – identity reported by the gateway on capture.
type Ticket struct {
	ID            string    `json:"id"`             // tickets.id
	LotID         string    `json:"lot_id"`         // tickets.lot_id
	PaymentRef    string    `json:"payment_ref"`    // tickets.payment_ref
	QuantityIndex int       `json:"quantity_index"` // tickets.quantity_index
	IssuedAt      time.Time `json:"issued_at"`      // tickets.issued_at
	Payer         Payer     `json:"payer"`          // tickets.payer_name / payer_email
}

// Payer is the buyer identity returned by the payment gateway.
type Payer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}
