// README: RabbitMQ adapter; consumes dispatch status events and publishes booking updates.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"namma/internal/modules/booking"
	"namma/internal/types"
)

const (
	exchange          = "ride_topic"
	statusRoutingKey  = "booking.status.*"
	updateRoutingKey  = "booking.updated.%s"
	statusQueue       = "gateway.booking.status"
	publishTimeout    = 5 * time.Second
	reconnectInterval = 10 * time.Second
)

type RabbitMQ struct {
	url string
	log logrus.FieldLogger

	// mu guards conn and ch, which reconnect replaces.
	mu   sync.RWMutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewRabbitMQ(url string, log logrus.FieldLogger) (*RabbitMQ, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &RabbitMQ{url: url, log: log.WithField("broker", "rabbitmq")}
	if err := r.connect(); err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	return r, nil
}

func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return err
	}
	q, err := ch.QueueDeclare(statusQueue, true, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.QueueBind(q.Name, statusRoutingKey, exchange, false, nil); err != nil {
		_ = conn.Close()
		return err
	}
	r.mu.Lock()
	r.conn = conn
	r.ch = ch
	r.mu.Unlock()
	return nil
}

// Consume feeds status events to h until ctx is done, reconnecting when the
// broker drops the connection.
func (r *RabbitMQ) Consume(ctx context.Context, h *Handler) error {
	for {
		deliveries, err := r.channel().ConsumeWithContext(ctx, statusQueue, "namma-gateway", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", statusQueue, err)
		}
		r.work(ctx, deliveries, h)
		if ctx.Err() != nil {
			return nil
		}
		r.log.Warn("rabbitmq delivery channel closed, reconnecting")
		if err := r.reconnect(ctx); err != nil {
			return err
		}
	}
}

func (r *RabbitMQ) work(ctx context.Context, deliveries <-chan amqp.Delivery, h *Handler) {
	for {
		select {
		case msg, ok := <-deliveries:
			if !ok {
				return
			}
			_ = h.Handle(ctx, msg.Body)
			if err := msg.Ack(false); err != nil {
				r.log.WithError(err).Warn("ack failed")
			}
		case <-ctx.Done():
			return
		}
	}
}

func (r *RabbitMQ) reconnect(ctx context.Context) error {
	t := time.NewTicker(reconnectInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if err := r.connect(); err != nil {
				r.log.WithError(err).Info("rabbitmq reconnect failed")
				continue
			}
			r.log.Info("rabbitmq reconnected")
			return nil
		}
	}
}

// Publish implements booking.Notifier by emitting the booking on booking.updated.<status>.
func (r *RabbitMQ) Publish(travelerID types.ID, b booking.Booking) {
	body, err := json.Marshal(updateFrom(travelerID, b))
	if err != nil {
		r.log.WithError(err).Error("marshal booking update")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	err = r.channel().PublishWithContext(ctx, exchange, fmt.Sprintf(updateRoutingKey, b.Status), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		r.log.WithError(err).WithField("booking_id", b.ID).Warn("publish booking update failed")
	}
}

func (r *RabbitMQ) channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ch
}

func (r *RabbitMQ) IsAlive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil && !r.conn.IsClosed() && r.ch != nil && !r.ch.IsClosed()
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ch != nil && !r.ch.IsClosed() {
		if err := r.ch.Close(); err != nil {
			return fmt.Errorf("close rabbitmq channel: %w", err)
		}
	}
	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}
	return nil
}
