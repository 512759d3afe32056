package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/raffle-tickets/internal/catalog"
	"github.com/iliyamo/raffle-tickets/internal/clock"
	"github.com/iliyamo/raffle-tickets/internal/model"
	"github.com/iliyamo/raffle-tickets/internal/repository"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func intPtr(n int) *int { return &n }

type fakeCatalog struct {
	lots map[string]model.Lot
}

func newFakeCatalog(lots ...model.Lot) *fakeCatalog {
	c := &fakeCatalog{lots: make(map[string]model.Lot)}
	for _, l := range lots {
		c.lots[l.ID] = l
	}
	return c
}

func (c *fakeCatalog) GetLot(_ context.Context, id string) (model.Lot, error) {
	l, ok := c.lots[id]
	if !ok {
		return model.Lot{}, catalog.ErrLotNotFound
	}
	return l, nil
}

// fakeLedger mirrors the MySQL ledger: one mutex plays the role of the
// inventory row lock so check and append are atomic.
type fakeLedger struct {
	mu        sync.Mutex
	tickets   []model.Ticket
	failNext  int
	appends   int
	countErr  error
	appendGap time.Duration
}

func (l *fakeLedger) CommittedCount(_ context.Context, lotID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.countErr != nil {
		return 0, l.countErr
	}
	n := 0
	for _, t := range l.tickets {
		if t.LotID == lotID {
			n++
		}
	}
	return n, nil
}

func (l *fakeLedger) TicketsFor(ctx context.Context, ref string) ([]model.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.forRef(ref), nil
}

func (l *fakeLedger) forRef(ref string) []model.Ticket {
	var out []model.Ticket
	for _, t := range l.tickets {
		if t.PaymentRef == ref {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuantityIndex < out[j].QuantityIndex })
	return out
}

func (l *fakeLedger) AppendTickets(ctx context.Context, lotID string, capacity *int, tickets []model.Ticket) ([]model.Ticket, bool, error) {
	if l.appendGap > 0 {
		time.Sleep(l.appendGap)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appends++

	if existing := l.forRef(tickets[0].PaymentRef); len(existing) > 0 {
		return existing, false, nil
	}
	if l.failNext > 0 {
		l.failNext--
		return nil, false, errors.New("connection reset by peer")
	}
	if capacity != nil {
		committed := 0
		for _, t := range l.tickets {
			if t.LotID == lotID {
				committed++
			}
		}
		if committed+len(tickets) > *capacity {
			return nil, false, fmt.Errorf("%w: lot %s", repository.ErrCapacityExceeded, lotID)
		}
	}
	l.tickets = append(l.tickets, tickets...)
	return append([]model.Ticket(nil), tickets...), true, nil
}

func (l *fakeLedger) count(lotID string) int {
	n, _ := l.CommittedCount(context.Background(), lotID)
	return n
}

type fakeStates struct {
	mu      sync.Mutex
	records map[string]model.Reconciliation
	history map[string][]model.ReconcileState
	saveErr error
}

func newFakeStates() *fakeStates {
	return &fakeStates{
		records: make(map[string]model.Reconciliation),
		history: make(map[string][]model.ReconcileState),
	}
}

func (s *fakeStates) Get(_ context.Context, ref string) (*model.Reconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[ref]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *fakeStates) Save(ctx context.Context, rec model.Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.records[rec.PaymentRef] = rec
	s.history[rec.PaymentRef] = append(s.history[rec.PaymentRef], rec.State)
	return nil
}

func (s *fakeStates) state(ref string) model.ReconcileState {
	return s.record(ref).State
}

func (s *fakeStates) record(ref string) model.Reconciliation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[ref]
}

// fakeGateway remembers every order it created or was told about, and a
// capture reports that order's amount, currency and lot like PayPal does.
type fakeGateway struct {
	mu         sync.Mutex
	intents    []model.IntentRequest
	orders     map[string]model.IntentRequest
	intentErr  error
	captures   int32
	captureErr []error
	result     model.CaptureResult
	onCapture  func()
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		orders: make(map[string]model.IntentRequest),
		result: model.CaptureResult{
			Status:    model.CaptureSuccess,
			CaptureID: "cap-1",
			Payer:     model.Payer{Name: "Ada Lovelace", Email: "ada@example.com"},
		},
	}
}

func (g *fakeGateway) CreateIntent(_ context.Context, req model.IntentRequest) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.intentErr != nil {
		return "", g.intentErr
	}
	g.intents = append(g.intents, req)
	id := fmt.Sprintf("ORDER-%d", len(g.intents))
	g.orders[id] = req
	return id, nil
}

// pay registers an order created outside the engine.
func (g *fakeGateway) pay(ref string, req model.IntentRequest) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.orders[ref] = req
}

func (g *fakeGateway) Capture(_ context.Context, ref string) (model.CaptureResult, error) {
	atomic.AddInt32(&g.captures, 1)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.onCapture != nil {
		g.onCapture()
	}
	if len(g.captureErr) > 0 {
		err := g.captureErr[0]
		g.captureErr = g.captureErr[1:]
		return model.CaptureResult{}, err
	}
	res := g.result
	if order, ok := g.orders[ref]; ok {
		res.AmountCents = order.AmountCents
		res.Currency = order.Currency
		res.CorrelationID = order.CorrelationID
	}
	return res, nil
}

func (g *fakeGateway) captureCalls() int { return int(atomic.LoadInt32(&g.captures)) }

type fakeNotifier struct {
	mu     sync.Mutex
	events [][]model.Ticket
	err    error
}

func (n *fakeNotifier) TicketsIssued(_ context.Context, _ model.Lot, tickets []model.Ticket) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, tickets)
	return n.err
}

type seqIDs struct{ n int64 }

func (s *seqIDs) NewID() string { return fmt.Sprintf("t-%d", atomic.AddInt64(&s.n, 1)) }

type harness struct {
	engine   *Engine
	ledger   *fakeLedger
	states   *fakeStates
	gateway  *fakeGateway
	notifier *fakeNotifier
}

func newHarness(lots ...model.Lot) *harness {
	h := &harness{
		ledger:   &fakeLedger{},
		states:   newFakeStates(),
		gateway:  newFakeGateway(),
		notifier: &fakeNotifier{},
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	h.engine = New(Property{
		Logger:   logger,
		Catalog:  newFakeCatalog(lots...),
		Ledger:   h.ledger,
		States:   h.states,
		Gateway:  h.gateway,
		Notifier: h.notifier,
		IDs:      &seqIDs{},
		Clock:    clock.NewFixed(testNow),
		Currency: "EUR",
	})
	return h
}

// paid registers ref as an order for quantity tickets of lot.
func (h *harness) paid(ref string, lot model.Lot, quantity int) {
	h.gateway.pay(ref, model.IntentRequest{
		AmountCents:   lot.UnitPriceCents * int64(quantity),
		Currency:      "EUR",
		Description:   lot.Name,
		CorrelationID: lot.ID,
	})
}
