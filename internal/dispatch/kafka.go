// README: Kafka adapter; reads dispatch status events and writes booking updates.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"namma/internal/modules/booking"
	"namma/internal/types"
)

const (
	updatesTopic = "booking-updates"
	// Publish runs on the request path; a lone update must not wait for the
	// writer's default one-second batch window.
	publishBatchTimeout = 10 * time.Millisecond
)

type Kafka struct {
	reader *kafka.Reader
	writer *kafka.Writer
	log    logrus.FieldLogger
}

func NewKafka(broker, topic, groupID string, log logrus.FieldLogger) *Kafka {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Kafka{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     []string{broker},
			GroupID:     groupID,
			Topic:       topic,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    10e6,
		}),
		writer: &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        updatesTopic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: publishBatchTimeout,
		},
		log: log.WithField("broker", "kafka"),
	}
}

// Consume feeds status events to h until ctx is done. Offsets are committed by
// the consumer group after each read.
func (k *Kafka) Consume(ctx context.Context, h *Handler) error {
	for {
		m, err := k.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("read %s: %w", k.reader.Config().Topic, err)
		}
		_ = h.Handle(ctx, m.Value)
	}
}

// Publish implements booking.Notifier. Messages are keyed by booking id so one
// booking's updates stay ordered within a partition.
func (k *Kafka) Publish(travelerID types.ID, b booking.Booking) {
	body, err := json.Marshal(updateFrom(travelerID, b))
	if err != nil {
		k.log.WithError(err).Error("marshal booking update")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(b.ID), Value: body}); err != nil {
		k.log.WithError(err).WithField("booking_id", b.ID).Warn("publish booking update failed")
	}
}

func (k *Kafka) Close() error {
	return errors.Join(k.reader.Close(), k.writer.Close())
}
