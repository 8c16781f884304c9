package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rodrigobarona/eleva-care-app-sub005/config"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/bootstrap"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/kafka"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/notify"
	"github.com/rs/zerolog/log"
)

// The worker drains the notifications topic into Novu when the API runs
// with the kafka transport.
func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	bootstrap.SetupLogger(cfg.Log, "settlement-worker")
	if len(cfg.Kafka.Brokers) == 0 || cfg.Notifications.SecretKey == "" {
		log.Fatal().Msg("worker needs kafka.brokers and notifications.secret_key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.NotificationsTopic)
	defer consumer.Close()

	novu := bootstrap.NewNovu(cfg.Notifications)
	handler := notify.Relay(novu, cfg.Webhooks.RetryAttempts, cfg.Webhooks.RetryBase())

	log.Info().Str("topic", cfg.Kafka.NotificationsTopic).Msg("notification worker started")
	if err := consumer.Consume(ctx, handler); err != nil {
		log.Error().Err(err).Msg("consumer stopped")
		return
	}
	log.Info().Msg("notification worker stopped")
}
