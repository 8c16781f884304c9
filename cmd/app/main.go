package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rodrigobarona/eleva-care-app-sub005/api"
	"github.com/rodrigobarona/eleva-care-app-sub005/config"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/bootstrap"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/cache"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/monitor"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/payments"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/repository"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/schedauth"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/service/cleanup"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/service/payouts"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/service/reminders"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/service/webhooks"
	"github.com/rs/zerolog/log"
)

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
	bootstrap.SetupLogger(cfg.Log, "settlement-api")
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	redisClient := cache.NewRedisClient(cfg.Redis)
	defer redisClient.Close()
	claims := cache.NewEventClaims(redisClient, cfg.Webhooks.EventClaimTTL())

	notifier, err := bootstrap.NewNotifier(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("notification transport")
	}
	defer notifier.Close()

	var stripeOpts []payments.StripeOption
	if cfg.Stripe.APIBase != "" {
		stripeOpts = append(stripeOpts, payments.WithBaseURL(cfg.Stripe.APIBase, nil))
	}
	stripeProvider := payments.NewStripeProvider(cfg.Stripe.SecretKey, stripeOpts...)
	heartbeat := monitor.NewHeartbeat(cfg.Monitoring.Heartbeats, time.Duration(cfg.Monitoring.TimeoutMS)*time.Millisecond)

	reservationRepo := repository.NewReservationRepository(pool)
	transferRepo := repository.NewTransferRepository(pool)
	userRepo := repository.NewUserRepository(pool)
	eventRepo := repository.NewEventRepository(pool)
	meetingRepo := repository.NewMeetingRepository(pool)

	stages, err := reminders.StagesFromConfig(cfg.Reminders)
	if err != nil {
		log.Fatal().Err(err).Msg("reminder stages")
	}

	cleanupService := cleanup.NewService(reservationRepo, cleanup.WithReporter(heartbeat))
	reminderService := reminders.NewService(
		reservationRepo,
		eventRepo,
		userRepo,
		stripeProvider,
		notifier.Dispatcher,
		stages,
		reminders.WithReporter(heartbeat),
		reminders.WithPacing(cfg.Reminders.Pacing()),
	)
	payoutService := payouts.NewService(
		transferRepo,
		userRepo,
		stripeProvider,
		notifier.Dispatcher,
		cfg.Payouts,
		payouts.WithReporter(heartbeat),
	)
	processor := webhooks.NewProcessor(
		transferRepo,
		userRepo,
		eventRepo,
		meetingRepo,
		stripeProvider,
		notifier.Dispatcher,
		webhooks.WithEventClaims(claims),
		webhooks.WithRetry(cfg.Webhooks.RetryAttempts, cfg.Webhooks.RetryBase()),
		webhooks.WithPlatformFee(cfg.Payouts.PlatformFeePercent),
	)

	authenticator := schedauth.New(schedauth.Config{
		CurrentSigningKey: cfg.Scheduler.CurrentSigningKey,
		NextSigningKey:    cfg.Scheduler.NextSigningKey,
		APIKey:            cfg.Scheduler.APIKey,
		UserAgent:         cfg.Scheduler.UserAgent,
		BaseURL:           cfg.App.BaseURL,
		Production:        cfg.App.Production(),
		AllowFallback:     cfg.Scheduler.AllowFallbackAuth,
	})

	health := api.NewHealthHandler(cfg.App.Env, cfg.App.Version, cfg.Scheduler.UserAgent).
		WithCheck("postgres", pool.Ping).
		WithCheck("redis", claims.Ping)
	if notifier.Check != nil {
		health.WithCheck(cfg.Notifications.Transport, notifier.Check)
	}

	router := api.NewRouter(api.RouterDeps{
		Cron: api.NewCronHandler(cleanupService, reminderService, payoutService),
		Webhooks: api.NewWebhookHandler(processor, api.WebhookSecrets{
			Platform: cfg.Stripe.WebhookSecret,
			Connect:  cfg.Stripe.ConnectWebhookSecret,
			Identity: cfg.Stripe.IdentityWebhookSecret,
		}),
		Health: health,
		Auth:   authenticator,
	})

	if err := bootstrap.Run(ctx, cfg.HTTP, router); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
}
