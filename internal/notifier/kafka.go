// Package notifier publishes typed transactional-email events to Kafka.
// A mailer service consumes the topic and renders the actual messages;
// from the core's perspective sends are fire-and-forget, and a delivery
// failure never fails the business transaction that triggered it.
package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"bkoda/internal/logger"
	"bkoda/internal/models"
)

type KafkaNotifier struct {
	Writer *kafka.Writer
	Logger *logger.Logger
}

func NewKafkaNotifier(brokers []string, topic string, log *logger.Logger) *KafkaNotifier {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	})
	return &KafkaNotifier{Writer: writer, Logger: log}
}

// Send publishes one notification event keyed by booking ID.
func (n *KafkaNotifier) Send(ctx context.Context, b *models.Booking, kind models.NotificationKind, extra map[string]string) error {
	event := models.NotificationEvent{
		Kind:             kind,
		BookingID:        b.BookingID,
		BookingReference: b.BookingReference,
		UserID:           b.UserID,
		TripID:           b.TripID,
		TotalPrice:       b.TotalPrice,
		Extra:            extra,
		Timestamp:        time.Now().UTC(),
	}

	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if n.Logger != nil {
		n.Logger.Info("NOTIFY", fmt.Sprintf("[%s] %s", kind, b.BookingReference))
	}

	return n.Writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(b.BookingID),
		Value: msgBytes,
	})
}

func (n *KafkaNotifier) Close() error {
	return n.Writer.Close()
}
