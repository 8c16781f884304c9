package notify

import (
	"context"
	"time"

	"github.com/rodrigobarona/eleva-care-app-sub005/internal/kafka"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// KafkaDispatcher queues triggers on a topic; cmd/worker delivers them.
// A trigger counts as dispatched once the broker has acknowledged it.
type KafkaDispatcher struct {
	producer Publisher
	topic    string
	log      zerolog.Logger
}

func NewKafkaDispatcher(producer Publisher, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{
		producer: producer,
		topic:    topic,
		log:      log.With().Str("component", "notify_kafka").Logger(),
	}
}

func (d *KafkaDispatcher) Trigger(ctx context.Context, t Trigger) Result {
	ensureTransactionID(&t)
	msg := kafka.NotificationMessage{
		Workflow:      t.Workflow,
		SubscriberID:  t.To.ID,
		Email:         t.To.Email,
		FirstName:     t.To.FirstName,
		Locale:        t.To.Locale,
		Payload:       t.Payload,
		TransactionID: t.TransactionID,
		QueuedAt:      time.Now().UTC(),
	}
	if err := d.producer.Publish(ctx, d.topic, t.To.ID, msg); err != nil {
		d.log.Error().Err(err).Str("workflow", t.Workflow).Str("subscriber_id", t.To.ID).Msg("queue notification")
		return Result{TransactionID: t.TransactionID, Err: err}
	}
	return Result{OK: true, TransactionID: t.TransactionID}
}

// Deliver forwards a queued message to the real dispatcher.
func Deliver(ctx context.Context, d Dispatcher, msg kafka.NotificationMessage) Result {
	return d.Trigger(ctx, Trigger{
		Workflow: msg.Workflow,
		To: Subscriber{
			ID:        msg.SubscriberID,
			Email:     msg.Email,
			FirstName: msg.FirstName,
			Locale:    msg.Locale,
		},
		Payload:       msg.Payload,
		TransactionID: msg.TransactionID,
	})
}

var _ Dispatcher = (*KafkaDispatcher)(nil)
