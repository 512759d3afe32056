// Package engine admits ticket purchases against lot capacity and turns
// captured payments into ticket records exactly once.
//
// Admission (Reserve) is advisory: several buyers may be admitted for the
// last tickets while they pay.  The authoritative capacity check happens in
// Reconcile, inside the same ledger transaction that writes the tickets, so
// tickets are never over-committed.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/raffle-tickets/internal/catalog"
	"github.com/iliyamo/raffle-tickets/internal/clock"
	"github.com/iliyamo/raffle-tickets/internal/model"
)

// Catalog is the read-only lot source.
type Catalog interface {
	GetLot(ctx context.Context, id string) (model.Lot, error)
}

// Ledger stores committed tickets.  AppendTickets must perform the capacity
// check and the write atomically and must be all-or-nothing.
type Ledger interface {
	CommittedCount(ctx context.Context, lotID string) (int, error)
	TicketsFor(ctx context.Context, paymentRef string) ([]model.Ticket, error)
	AppendTickets(ctx context.Context, lotID string, capacity *int, tickets []model.Ticket) ([]model.Ticket, bool, error)
}

// StateStore journals the reconciliation state of each payment reference.
type StateStore interface {
	Get(ctx context.Context, paymentRef string) (*model.Reconciliation, error)
	Save(ctx context.Context, rec model.Reconciliation) error
}

// Gateway is the payment provider.
type Gateway interface {
	CreateIntent(ctx context.Context, req model.IntentRequest) (string, error)
	Capture(ctx context.Context, intentID string) (model.CaptureResult, error)
}

// Notifier is told about freshly committed tickets.  It is called
// asynchronously and its errors are only logged.
type Notifier interface {
	TicketsIssued(ctx context.Context, lot model.Lot, tickets []model.Ticket) error
}

// Default limits applied by New when Property leaves them zero.
const (
	DefaultMaxQuantity      = 100
	DefaultReconcileTimeout = 30 * time.Second
)

// Property carries the engine's collaborators.  MaxQuantity caps the
// tickets of one purchase.  ReconcileTimeout bounds the capture and commit
// steps, which run detached from the caller's context.
type Property struct {
	Logger           *logrus.Logger
	Catalog          Catalog
	Ledger           Ledger
	States           StateStore
	Gateway          Gateway
	Notifier         Notifier
	IDs              IDGenerator
	Clock            clock.Clock
	Currency         string
	NotifyTimeout    time.Duration
	MaxQuantity      int
	ReconcileTimeout time.Duration
}

// Engine implements reservation and reconciliation.  It holds no ticket
// state of its own; the ledger is the only shared mutable resource.
type Engine struct {
	logger        *logrus.Logger
	catalog       Catalog
	ledger        Ledger
	states        StateStore
	gateway       Gateway
	notifier      Notifier
	ids           IDGenerator
	clock         clock.Clock
	currency      string
	notifyTimeout time.Duration
	maxQuantity   int
	reconcileTTL  time.Duration

	admission *lotLocks
	notifying sync.WaitGroup
}

// New builds an Engine.  Catalog, Ledger, States and Gateway are required.
func New(props Property) *Engine {
	if props.Catalog == nil || props.Ledger == nil || props.States == nil || props.Gateway == nil {
		panic("engine: nil collaborator passed to New")
	}
	e := &Engine{
		logger:        props.Logger,
		catalog:       props.Catalog,
		ledger:        props.Ledger,
		states:        props.States,
		gateway:       props.Gateway,
		notifier:      props.Notifier,
		ids:           props.IDs,
		clock:         props.Clock,
		currency:      props.Currency,
		notifyTimeout: props.NotifyTimeout,
		maxQuantity:   props.MaxQuantity,
		reconcileTTL:  props.ReconcileTimeout,
		admission:     newLotLocks(),
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	if e.ids == nil {
		e.ids = UUIDGenerator{}
	}
	if e.clock == nil {
		e.clock = clock.NewSystem()
	}
	if e.currency == "" {
		e.currency = "EUR"
	}
	if e.notifyTimeout <= 0 {
		e.notifyTimeout = 5 * time.Second
	}
	if e.maxQuantity <= 0 {
		e.maxQuantity = DefaultMaxQuantity
	}
	if e.reconcileTTL <= 0 {
		e.reconcileTTL = DefaultReconcileTimeout
	}
	return e
}

// RemainingCapacity reports how many tickets of lotID can still be sold.
// The value is a point-in-time read and may be stale by the time it is used.
func (e *Engine) RemainingCapacity(ctx context.Context, lotID string) (model.Remaining, error) {
	lot, err := e.lookupLot(ctx, lotID)
	if err != nil {
		return model.Remaining{}, err
	}
	return e.remaining(ctx, lot)
}

// Wait blocks until in-flight notifications have finished.
func (e *Engine) Wait() { e.notifying.Wait() }

// checkQuantity rejects quantities outside 1..maxQuantity.
func (e *Engine) checkQuantity(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > e.maxQuantity {
		return fmt.Errorf("%w: at most %d tickets per purchase", ErrInvalidQuantity, e.maxQuantity)
	}
	return nil
}

// orderAmount returns unitPrice * quantity, failing instead of wrapping.
func orderAmount(unitPrice int64, quantity int) (int64, error) {
	q := int64(quantity)
	if unitPrice > math.MaxInt64/q {
		return 0, fmt.Errorf("%w: amount for %d tickets overflows", ErrInvalidQuantity, quantity)
	}
	return unitPrice * q, nil
}

func (e *Engine) lookupLot(ctx context.Context, lotID string) (model.Lot, error) {
	if lotID == "" {
		return model.Lot{}, ErrLotNotFound
	}
	lot, err := e.catalog.GetLot(ctx, lotID)
	if errors.Is(err, catalog.ErrLotNotFound) {
		return model.Lot{}, fmt.Errorf("%w: %s", ErrLotNotFound, lotID)
	}
	if err != nil {
		return model.Lot{}, fmt.Errorf("load lot %s: %w", lotID, err)
	}
	return lot, nil
}

func (e *Engine) remaining(ctx context.Context, lot model.Lot) (model.Remaining, error) {
	if lot.Capacity == nil {
		return model.Remaining{Unbounded: true}, nil
	}
	n, err := e.ledger.CommittedCount(ctx, lot.ID)
	if err != nil {
		return model.Remaining{}, fmt.Errorf("read committed count for %s: %w", lot.ID, err)
	}
	return model.RemainingFor(lot, n), nil
}

// notify runs the notifier on its own goroutine with its own deadline so a
// slow broker never delays the caller.
func (e *Engine) notify(lot model.Lot, tickets []model.Ticket) {
	if e.notifier == nil || len(tickets) == 0 {
		return
	}
	e.notifying.Add(1)
	go func() {
		defer e.notifying.Done()
		log := e.logger.WithFields(logrus.Fields{"lot_id": lot.ID, "payment_ref": tickets[0].PaymentRef})
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("notifier panicked: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), e.notifyTimeout)
		defer cancel()
		if err := e.notifier.TicketsIssued(ctx, lot, tickets); err != nil {
			log.WithError(err).Warn("ticket notification failed")
		}
	}()
}
