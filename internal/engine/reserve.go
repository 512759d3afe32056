package engine

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/raffle-tickets/internal/model"
)

// Reserve admits a purchase of quantity tickets of lotID and opens a payment
// intent for it.  The capacity check is advisory and nothing is held after
// it returns; Reconcile re-checks authoritatively.
func (e *Engine) Reserve(ctx context.Context, lotID string, quantity int) (model.IntentToken, error) {
	if err := e.checkQuantity(quantity); err != nil {
		return model.IntentToken{}, err
	}
	lot, err := e.lookupLot(ctx, lotID)
	if err != nil {
		return model.IntentToken{}, err
	}
	if lot.UnitPriceCents <= 0 {
		return model.IntentToken{}, fmt.Errorf("%w: lot %s", ErrInvalidPrice, lot.ID)
	}

	amount, err := orderAmount(lot.UnitPriceCents, quantity)
	if err != nil {
		return model.IntentToken{}, err
	}
	if err := e.admit(ctx, lot, quantity); err != nil {
		return model.IntentToken{}, err
	}

	intentID, err := e.gateway.CreateIntent(ctx, model.IntentRequest{
		AmountCents:   amount,
		Currency:      e.currency,
		Description:   lot.Name,
		CorrelationID: lot.ID,
	})
	if err != nil {
		e.logger.WithFields(logrus.Fields{"lot_id": lot.ID, "quantity": quantity}).
			WithError(err).Warn("create payment intent failed")
		return model.IntentToken{}, fmt.Errorf("%w: create intent: %v", ErrGatewayFailure, err)
	}

	e.logger.WithFields(logrus.Fields{
		"lot_id":    lot.ID,
		"quantity":  quantity,
		"amount":    amount,
		"intent_id": intentID,
	}).Info("reservation admitted")

	return model.IntentToken{
		LotID:          lot.ID,
		Quantity:       quantity,
		UnitPriceCents: lot.UnitPriceCents,
		AmountCents:    amount,
		Currency:       e.currency,
		IntentID:       intentID,
	}, nil
}

// admit runs the read-then-decide step under the lot's admission lock.
// The lock only keeps this process from issuing concurrent reads and
// decisions for one lot; it reserves nothing and does not exclude other
// instances or AppendTickets.
func (e *Engine) admit(ctx context.Context, lot model.Lot, quantity int) error {
	if lot.Capacity == nil {
		return nil
	}
	unlock := e.admission.lock(lot.ID)
	defer unlock()

	rem, err := e.remaining(ctx, lot)
	if err != nil {
		return err
	}
	if !rem.Allows(quantity) {
		return fmt.Errorf("%w: lot %s has %d left, %d requested", ErrOversold, lot.ID, rem.Count, quantity)
	}
	return nil
}
