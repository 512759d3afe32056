package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/raffle-tickets/internal/model"
	"github.com/iliyamo/raffle-tickets/internal/repository"
)

// ReconcileResult is the outcome of a successful reconciliation.  Created is
// false when the tickets already existed and were only looked up.
type ReconcileResult struct {
	PaymentRef string               `json:"payment_ref"`
	LotID      string               `json:"lot_id"`
	State      model.ReconcileState `json:"state"`
	Tickets    []model.Ticket       `json:"tickets"`
	Created    bool                 `json:"created"`
}

// Reconcile captures the payment behind paymentRef and commits quantity
// tickets of lotID for it.  The captured order must be for that lot and for
// exactly the lot's price times quantity.  It is safe to call any number of
// times for the same reference: tickets are written at most once.
//
// Once the gateway may be asked to move money, the remaining steps run on a
// context detached from ctx and bounded by the reconcile timeout, so a
// caller that goes away cannot leave a payment captured but unrecorded.
func (e *Engine) Reconcile(ctx context.Context, paymentRef, lotID string, quantity int) (ReconcileResult, error) {
	paymentRef = strings.TrimSpace(paymentRef)
	if paymentRef == "" {
		return ReconcileResult{}, ErrInvalidPaymentRef
	}
	if err := e.checkQuantity(quantity); err != nil {
		return ReconcileResult{}, err
	}
	lot, err := e.lookupLot(ctx, lotID)
	if err != nil {
		return ReconcileResult{}, err
	}
	amount, err := orderAmount(lot.UnitPriceCents, quantity)
	if err != nil {
		return ReconcileResult{}, err
	}
	log := e.logger.WithFields(logrus.Fields{"payment_ref": paymentRef, "lot_id": lot.ID, "quantity": quantity})

	existing, err := e.ledger.TicketsFor(ctx, paymentRef)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("%w: lookup tickets: %v", ErrLedgerWrite, err)
	}
	if len(existing) > 0 {
		if err := sameOrder(existing, lot.ID, quantity); err != nil {
			return ReconcileResult{}, err
		}
		log.Debug("tickets already committed")
		return committedResult(paymentRef, lot.ID, existing, false), nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.reconcileTTL)
	defer cancel()

	rec := e.loadState(ctx, paymentRef)
	// Lot and quantity are only trusted once the capture confirmed them.
	if rec != nil && rec.State.PaymentCollected() && (rec.LotID != lot.ID || rec.Quantity != quantity) {
		return ReconcileResult{}, fmt.Errorf("%w: %s was paid for lot %s x%d",
			ErrReferenceConflict, paymentRef, rec.LotID, rec.Quantity)
	}
	if rec == nil {
		rec = &model.Reconciliation{PaymentRef: paymentRef}
	}

	if !rec.State.PaymentCollected() {
		if rec.State == model.StateCaptureFailed && !rec.Retryable {
			kind := ErrCaptureDeclined
			if rec.Reason == model.ReasonPaymentMismatch {
				kind = ErrPaymentMismatch
			}
			return ReconcileResult{}, e.failure(rec, kind, nil)
		}
		rec.LotID, rec.Quantity = lot.ID, quantity
		if err := e.capture(ctx, rec, amount, log); err != nil {
			return ReconcileResult{}, err
		}
	} else {
		log.WithField("state", rec.State).Info("payment already captured, skipping gateway")
	}

	tickets := e.buildTickets(lot.ID, paymentRef, quantity, rec.Payer)
	stored, created, err := e.ledger.AppendTickets(ctx, lot.ID, lot.Capacity, tickets)
	if err != nil {
		if errors.Is(err, repository.ErrCapacityExceeded) {
			e.transition(ctx, rec, model.StateCommitFailed, model.ReasonOversoldAtCommit, false)
			log.WithError(err).Error("capacity exhausted after capture, refund required")
			return ReconcileResult{}, e.failure(rec, ErrOversoldAtCommit, err)
		}
		e.transition(ctx, rec, model.StateCommitFailed, model.ReasonLedgerWrite, true)
		log.WithError(err).Warn("ledger append failed")
		return ReconcileResult{}, e.failure(rec, ErrLedgerWrite, err)
	}
	if !created {
		if err := sameOrder(stored, lot.ID, quantity); err != nil {
			return ReconcileResult{}, err
		}
	}

	e.transition(ctx, rec, model.StateCommitted, "", false)
	if created {
		log.WithField("tickets", len(stored)).Info("tickets committed")
		e.notify(lot, stored)
	}
	return committedResult(paymentRef, lot.ID, stored, created), nil
}

// capture moves rec through CAPTURE_REQUESTED to CAPTURED or CAPTURE_FAILED.
// amount is what rec's lot and quantity cost.  No lock is held while the
// gateway is called.
func (e *Engine) capture(ctx context.Context, rec *model.Reconciliation, amount int64, log *logrus.Entry) error {
	e.transition(ctx, rec, model.StateCaptureRequested, "", false)

	res, err := e.gateway.Capture(ctx, rec.PaymentRef)
	if err != nil {
		e.transition(ctx, rec, model.StateCaptureFailed, model.ReasonGatewayError, true)
		log.WithError(err).Warn("capture call failed")
		return e.failure(rec, ErrGatewayFailure, err)
	}
	if res.Status != model.CaptureSuccess {
		e.transition(ctx, rec, model.StateCaptureFailed, model.ReasonCaptureDeclined, false)
		log.WithField("detail", res.Detail).Warn("capture declined")
		var cause error
		if res.Detail != "" {
			cause = errors.New(res.Detail)
		}
		return e.failure(rec, ErrCaptureDeclined, cause)
	}

	rec.Payer = res.Payer
	rec.CaptureID = res.CaptureID
	if res.CorrelationID != rec.LotID || res.AmountCents != amount || !strings.EqualFold(res.Currency, e.currency) {
		return e.mismatch(ctx, rec, res, amount, log)
	}
	e.transition(ctx, rec, model.StateCaptured, "", false)
	return nil
}

// mismatch handles a capture whose order is not for rec's lot and quantity.
// Nothing is written to the ledger.  When the payment is a whole number of
// tickets of a catalog lot, the journal is corrected to that purchase so a
// reconcile naming it can still commit.  Otherwise the payment cannot be
// honoured and is left in CAPTURE_FAILED for a refund.
func (e *Engine) mismatch(ctx context.Context, rec *model.Reconciliation, res model.CaptureResult, amount int64, log *logrus.Entry) error {
	cause := fmt.Errorf("paid %d %s for lot %q, lot %s x%d costs %d %s",
		res.AmountCents, res.Currency, res.CorrelationID, rec.LotID, rec.Quantity, amount, e.currency)
	log = log.WithFields(logrus.Fields{
		"paid_lot_id":   res.CorrelationID,
		"paid_cents":    res.AmountCents,
		"paid_currency": res.Currency,
	})

	if lotID, quantity, ok := e.paidPurchase(ctx, res); ok {
		rec.LotID, rec.Quantity = lotID, quantity
		e.transition(ctx, rec, model.StateCaptured, "", false)
		log.Warn("capture does not match requested tickets")
		return &ReconcileError{
			PaymentRef: rec.PaymentRef,
			State:      model.StateCaptured,
			Reason:     model.ReasonPaymentMismatch,
			kind:       ErrPaymentMismatch,
			cause:      cause,
		}
	}

	e.transition(ctx, rec, model.StateCaptureFailed, model.ReasonPaymentMismatch, false)
	log.Error("captured payment matches no purchase, refund required")
	return e.failure(rec, ErrPaymentMismatch, cause)
}

// paidPurchase maps a captured payment back to the lot and quantity it pays for.
func (e *Engine) paidPurchase(ctx context.Context, res model.CaptureResult) (string, int, bool) {
	if !strings.EqualFold(res.Currency, e.currency) || res.AmountCents <= 0 {
		return "", 0, false
	}
	lot, err := e.lookupLot(ctx, res.CorrelationID)
	if err != nil || lot.UnitPriceCents <= 0 || res.AmountCents%lot.UnitPriceCents != 0 {
		return "", 0, false
	}
	quantity := res.AmountCents / lot.UnitPriceCents
	if quantity > int64(e.maxQuantity) {
		return "", 0, false
	}
	return lot.ID, int(quantity), true
}

func (e *Engine) buildTickets(lotID, paymentRef string, quantity int, payer model.Payer) []model.Ticket {
	now := e.clock.Now()
	tickets := make([]model.Ticket, quantity)
	for i := range tickets {
		tickets[i] = model.Ticket{
			ID:            e.ids.NewID(),
			LotID:         lotID,
			PaymentRef:    paymentRef,
			QuantityIndex: i,
			IssuedAt:      now,
			Payer:         payer,
		}
	}
	return tickets
}

// loadState returns the journaled record for ref, or nil.  Journal reads are
// best-effort: without one the reconciliation simply starts from scratch.
func (e *Engine) loadState(ctx context.Context, ref string) *model.Reconciliation {
	rec, err := e.states.Get(ctx, ref)
	if err != nil {
		e.logger.WithField("payment_ref", ref).WithError(err).Warn("read reconciliation state failed")
		return nil
	}
	return rec
}

// transition updates rec in memory and persists it.  The ledger is the
// source of truth for committed tickets, so a failed save is only logged.
func (e *Engine) transition(ctx context.Context, rec *model.Reconciliation, state model.ReconcileState, reason string, retryable bool) {
	now := e.clock.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.State = state
	rec.Reason = reason
	rec.Retryable = retryable
	rec.UpdatedAt = now
	if err := e.states.Save(ctx, *rec); err != nil {
		e.logger.WithFields(logrus.Fields{"payment_ref": rec.PaymentRef, "state": state}).
			WithError(err).Warn("persist reconciliation state failed")
	}
}

func (e *Engine) failure(rec *model.Reconciliation, kind, cause error) *ReconcileError {
	return &ReconcileError{
		PaymentRef: rec.PaymentRef,
		State:      rec.State,
		Reason:     rec.Reason,
		Retryable:  rec.Retryable,
		kind:       kind,
		cause:      cause,
	}
}

func sameOrder(tickets []model.Ticket, lotID string, quantity int) error {
	if tickets[0].LotID != lotID || len(tickets) != quantity {
		return fmt.Errorf("%w: %s holds %d tickets of lot %s",
			ErrReferenceConflict, tickets[0].PaymentRef, len(tickets), tickets[0].LotID)
	}
	return nil
}

func committedResult(ref, lotID string, tickets []model.Ticket, created bool) ReconcileResult {
	return ReconcileResult{
		PaymentRef: ref,
		LotID:      lotID,
		State:      model.StateCommitted,
		Tickets:    tickets,
		Created:    created,
	}
}
