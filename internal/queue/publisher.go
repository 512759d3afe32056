package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/raffle-tickets/internal/model"
)

// Publisher sends TicketsIssuedEvent messages to a durable queue.  Each
// publish dials its own connection, so a broker outage never leaves the
// publisher in a broken state.
type Publisher struct {
	url    string
	queue  string
	logger *logrus.Logger
}

func NewPublisher(url, queue string, logger *logrus.Logger) *Publisher {
	return &Publisher{url: url, queue: queue, logger: logger}
}

// TicketsIssued publishes the event for a committed batch.  Errors are logged
// and returned; callers are expected to ignore them.
func (p *Publisher) TicketsIssued(ctx context.Context, lot model.Lot, tickets []model.Ticket) error {
	return p.Publish(ctx, NewTicketsIssuedEvent(lot, tickets))
}

func (p *Publisher) Publish(ctx context.Context, event TicketsIssuedEvent) error {
	log := p.logger.WithFields(logrus.Fields{"queue": p.queue, "payment_ref": event.PaymentRef})

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: dialer(ctx)})
	if err != nil {
		log.WithError(err).Warn("rabbitmq: dial failed")
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.WithError(err).Warn("rabbitmq: channel open failed")
		return err
	}
	defer func() { _ = ch.Close() }()

	if err := declare(ch, p.queue); err != nil {
		log.WithError(err).Warn("rabbitmq: queue declare failed")
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.PaymentRef,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
		log.WithError(err).Warn("rabbitmq: publish failed")
		return err
	}
	log.Debug("tickets.issued published")
	return nil
}

func declare(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	return err
}

// dialer bounds the TCP connect by ctx's deadline.
func dialer(ctx context.Context) func(network, addr string) (net.Conn, error) {
	return func(network, addr string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, network, addr)
	}
}
