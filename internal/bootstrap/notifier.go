package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/rodrigobarona/eleva-care-app-sub005/config"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/kafka"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/notify"
)

const (
	TransportDirect = "direct"
	TransportKafka  = "kafka"
	TransportLog    = "log"
)

// Notifier is the chosen notification transport and what it opened.
type Notifier struct {
	notify.Dispatcher
	// Check probes the transport's broker. It is nil when there is none.
	Check func(ctx context.Context) error
	Close func() error
}

// NewNotifier picks the notification transport.
func NewNotifier(cfg *config.Config) (*Notifier, error) {
	noop := func() error { return nil }
	switch cfg.Notifications.Transport {
	case TransportDirect:
		return &Notifier{Dispatcher: NewNovu(cfg.Notifications), Close: noop}, nil
	case TransportKafka:
		producer := kafka.NewProducer(cfg.Kafka.Brokers)
		return &Notifier{
			Dispatcher: notify.NewKafkaDispatcher(producer, cfg.Kafka.NotificationsTopic),
			Check:      producer.CheckConnection,
			Close:      producer.Close,
		}, nil
	case TransportLog, "":
		return &Notifier{Dispatcher: notify.NewLogDispatcher(), Close: noop}, nil
	default:
		return nil, fmt.Errorf("unknown notification transport %q", cfg.Notifications.Transport)
	}
}

func NewNovu(cfg config.NotificationConfig) *notify.NovuClient {
	return notify.NewNovuClient(cfg.BaseURL, cfg.SecretKey, time.Duration(cfg.TimeoutMS)*time.Millisecond)
}
