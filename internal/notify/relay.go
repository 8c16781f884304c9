package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/rodrigobarona/eleva-care-app-sub005/internal/kafka"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/retry"
	"github.com/rs/zerolog/log"
	kafkaGo "github.com/segmentio/kafka-go"
)

// Relay returns a consumer handler that delivers queued triggers. Undecodable
// and undeliverable messages are logged and skipped so one bad message does
// not stall the partition.
func Relay(d Dispatcher, attempts int, base time.Duration) func(context.Context, kafkaGo.Message) error {
	logger := log.With().Str("component", "notify_relay").Logger()
	return func(ctx context.Context, msg kafkaGo.Message) error {
		n, err := kafka.DecodeNotification(msg)
		if err != nil {
			logger.Error().Err(err).Int64("offset", msg.Offset).Msg("drop notification")
			return nil
		}

		err = retry.Do(ctx, attempts, base, func(ctx context.Context) error {
			res := Deliver(ctx, d, n)
			if res.OK {
				return nil
			}
			if res.Err != nil {
				return res.Err
			}
			return fmt.Errorf("workflow %s not accepted", n.Workflow)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error().Err(err).
				Str("workflow", n.Workflow).
				Str("subscriber_id", n.SubscriberID).
				Str("transaction_id", n.TransactionID).
				Bool("needs_manual_intervention", true).
				Msg("notification delivery failed")
		}
		return nil
	}
}
