// Package queue carries ticket events over RabbitMQ: a publisher used by
// the engine as its notifier and a consumer that keeps an audit log.
package queue

import (
	"time"

	"github.com/iliyamo/raffle-tickets/internal/model"
)

// TicketsIssuedEvent is published once per payment reference when its
// tickets are committed.  It carries enough for downstream consumers to log
// or email the buyer without querying the ledger.
type TicketsIssuedEvent struct {
	PaymentRef     string   `json:"payment_ref"`
	LotID          string   `json:"lot_id"`
	LotName        string   `json:"lot_name"`
	Quantity       int      `json:"quantity"`
	TicketIDs      []string `json:"ticket_ids"`
	UnitPriceCents int64    `json:"unit_price_cents"`
	PayerName      string   `json:"payer_name"`
	PayerEmail     string   `json:"payer_email"`
	IssuedAt       string   `json:"issued_at"`
}

func NewTicketsIssuedEvent(lot model.Lot, tickets []model.Ticket) TicketsIssuedEvent {
	ev := TicketsIssuedEvent{
		LotID:          lot.ID,
		LotName:        lot.Name,
		Quantity:       len(tickets),
		UnitPriceCents: lot.UnitPriceCents,
		TicketIDs:      make([]string, 0, len(tickets)),
	}
	for _, t := range tickets {
		ev.TicketIDs = append(ev.TicketIDs, t.ID)
	}
	if len(tickets) > 0 {
		first := tickets[0]
		ev.PaymentRef = first.PaymentRef
		ev.PayerName = first.Payer.Name
		ev.PayerEmail = first.Payer.Email
		ev.IssuedAt = first.IssuedAt.UTC().Format(time.RFC3339)
	}
	return ev
}
