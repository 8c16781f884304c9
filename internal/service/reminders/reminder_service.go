package reminders

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rodrigobarona/eleva-care-app-sub005/config"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/domain"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/monitor"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/notify"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/payments"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/repository"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const JobName = "send-payment-reminders"

const defaultCustomerName = "Customer"

type UseCase interface {
	Run(ctx context.Context) (*Result, error)
}

// VoucherSource fetches live voucher details for a payment intent. Each call
// is one provider request and is followed by the pacing delay.
type VoucherSource interface {
	PaymentVoucher(ctx context.Context, paymentIntentID string) (*payments.Voucher, error)
	CustomerName(ctx context.Context, customerID string) (string, error)
}

// Stage is one reminder pass: reservations expiring within [now+WindowFrom,
// now+WindowTo] that are at least MinAge old.
type Stage struct {
	Stage        domain.ReminderStage
	Workflow     string
	WindowFrom   time.Duration
	WindowTo     time.Duration
	MinAge       time.Duration
	ReminderType string
}

func StagesFromConfig(cfg config.ReminderConfig) ([]Stage, error) {
	stages := make([]Stage, 0, len(cfg.Stages))
	for _, sc := range cfg.Stages {
		st := domain.ReminderStage(sc.Stage)
		if !st.Valid() {
			return nil, fmt.Errorf("unknown reminder stage %q", sc.Stage)
		}
		workflow := sc.Workflow
		if workflow == "" {
			workflow = notify.WorkflowPaymentReminder
		}
		stages = append(stages, Stage{
			Stage:        st,
			Workflow:     workflow,
			WindowFrom:   sc.WindowFrom(),
			WindowTo:     sc.WindowTo(),
			MinAge:       sc.MinAge(),
			ReminderType: sc.ReminderType,
		})
	}
	return stages, nil
}

type Result struct {
	TotalRemindersSent int           `json:"totalRemindersSent"`
	Stages             []StageResult `json:"stages"`
}

type StageResult struct {
	Stage string `json:"stage"`
	Found int    `json:"found"`
	Sent  int    `json:"sent"`
}

type Service struct {
	reservations repository.ReservationRepository
	events       repository.EventRepository
	users        repository.UserRepository
	vouchers     VoucherSource
	notifier     notify.Dispatcher
	monitor      monitor.Reporter
	stages       []Stage
	pacing       time.Duration
	sleep        func(ctx context.Context, d time.Duration)
	now          func() time.Time
	logger       zerolog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithReporter(r monitor.Reporter) Option {
	return func(s *Service) { s.monitor = r }
}

func WithPacing(d time.Duration) Option {
	return func(s *Service) { s.pacing = d }
}

func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(s *Service) { s.sleep = sleep }
}

func NewService(
	reservations repository.ReservationRepository,
	events repository.EventRepository,
	users repository.UserRepository,
	vouchers VoucherSource,
	notifier notify.Dispatcher,
	stages []Stage,
	opts ...Option,
) *Service {
	s := &Service{
		reservations: reservations,
		events:       events,
		users:        users,
		vouchers:     vouchers,
		notifier:     notifier,
		monitor:      monitor.Nop{},
		stages:       stages,
		pacing:       25 * time.Millisecond,
		sleep:        sleepCtx,
		now:          time.Now,
		logger:       log.With().Str("component", JobName).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (s *Service) Run(ctx context.Context) (*Result, error) {
	now := s.now().UTC()
	res := &Result{Stages: make([]StageResult, 0, len(s.stages))}

	for _, st := range s.stages {
		sr, err := s.runStage(ctx, st, now)
		if err != nil {
			s.logger.Error().Err(err).Str("stage", string(st.Stage)).Msg("reminder stage failed")
			s.monitor.Failure(ctx, JobName, err)
			return nil, err
		}
		res.Stages = append(res.Stages, sr)
		res.TotalRemindersSent += sr.Sent
	}

	s.logger.Info().Int("total_sent", res.TotalRemindersSent).Msg("payment reminders finished")
	s.monitor.Success(ctx, JobName)
	return res, nil
}

func (s *Service) runStage(ctx context.Context, st Stage, now time.Time) (StageResult, error) {
	sr := StageResult{Stage: string(st.Stage)}

	candidates, err := s.reservations.FindReminderCandidates(ctx, st.Stage, now.Add(st.WindowFrom), now.Add(st.WindowTo))
	if err != nil {
		return sr, err
	}

	for _, r := range candidates {
		if !eligible(st, r, now) {
			continue
		}
		sr.Found++
		if s.remind(ctx, st, r, now) {
			sr.Sent++
		}
	}

	s.logger.Info().Str("stage", sr.Stage).Int("found", sr.Found).Int("sent", sr.Sent).Msg("reminder stage finished")
	return sr, nil
}

// eligible re-checks the stage guards. The age boundary is inclusive.
func eligible(st Stage, r domain.SlotReservation, now time.Time) bool {
	if st.Stage.SentAt(r) != nil || !r.HasPaymentIntent() {
		return false
	}
	return now.Sub(r.CreatedAt) >= st.MinAge
}

func (s *Service) remind(ctx context.Context, st Stage, r domain.SlotReservation, now time.Time) bool {
	logger := s.logger.With().Str("stage", string(st.Stage)).Str("reservation_id", r.ID).Logger()

	voucher, err := s.vouchers.PaymentVoucher(ctx, *r.StripePaymentIntentID)
	s.sleep(ctx, s.pacing)
	if err != nil {
		logger.Error().Err(err).Str("payment_intent", *r.StripePaymentIntentID).Msg("voucher lookup failed")
		return false
	}
	voucher.CustomerName = s.customerName(ctx, logger, voucher)

	event, err := s.events.GetByID(ctx, r.EventID)
	if err != nil {
		logger.Error().Err(err).Str("event_id", r.EventID).Msg("event lookup failed")
		return false
	}
	expertName := "Expert"
	if expert, err := s.users.GetByID(ctx, event.UserID); err == nil && expert.FirstName != "" {
		expertName = expert.FirstName
	} else if err != nil {
		logger.Warn().Err(err).Str("expert_id", event.UserID).Msg("expert lookup failed")
	}

	result := s.notifier.Trigger(ctx, notify.Trigger{
		Workflow: st.Workflow,
		To: notify.Subscriber{
			ID:        r.GuestEmail,
			Email:     r.GuestEmail,
			FirstName: voucher.CustomerName,
			Locale:    voucher.Locale,
		},
		Payload:       payload(st, r, event, expertName, voucher, now),
		TransactionID: fmt.Sprintf("%s-%s", r.ID, st.Stage),
	})
	if !result.OK {
		logger.Error().Err(result.Err).Msg("reminder dispatch failed")
		return false
	}

	marked, err := s.reservations.MarkReminderSent(ctx, r.ID, st.Stage, now)
	if err != nil {
		logger.Error().Err(err).Msg("reminder sent but marker write failed")
		return true
	}
	if !marked {
		logger.Warn().Msg("reminder marker already set")
	}
	logger.Info().Str("transaction_id", result.TransactionID).Msg("reminder sent")
	return true
}

// customerName falls back from checkout metadata to the customer record,
// then to a placeholder. A failed lookup does not block the reminder.
func (s *Service) customerName(ctx context.Context, logger zerolog.Logger, v *payments.Voucher) string {
	if v.CustomerName != "" {
		return v.CustomerName
	}
	if v.CustomerID == "" {
		return defaultCustomerName
	}
	name, err := s.vouchers.CustomerName(ctx, v.CustomerID)
	s.sleep(ctx, s.pacing)
	if err != nil {
		logger.Warn().Err(err).Str("customer_id", v.CustomerID).Msg("customer lookup failed")
		return defaultCustomerName
	}
	if name == "" {
		return defaultCustomerName
	}
	return name
}

func payload(st Stage, r domain.SlotReservation, e *domain.Event, expertName string, v *payments.Voucher, now time.Time) map[string]any {
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil || r.Timezone == "" {
		loc = time.UTC
	}
	start := r.StartTime.In(loc)
	expires := r.ExpiresAt
	if !v.ExpiresAt.IsZero() {
		expires = v.ExpiresAt
	}

	return map[string]any{
		"customerName":        v.CustomerName,
		"expertName":          expertName,
		"serviceName":         e.Title,
		"appointmentDate":     start.Format("2006-01-02"),
		"appointmentTime":     start.Format("15:04"),
		"timezone":            loc.String(),
		"duration":            e.DurationMinutes,
		"multibancoEntity":    v.Entity,
		"multibancoReference": v.Reference,
		"multibancoAmount":    formatAmount(v.Amount),
		"currency":            v.Currency,
		"voucherExpiresAt":    expires.UTC().Format(time.RFC3339),
		"hostedVoucherUrl":    v.HostedVoucherURL,
		"reminderType":        st.ReminderType,
		"daysRemaining":       int(math.Ceil(expires.Sub(now).Hours() / 24)),
		"locale":              v.Locale,
	}
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}

var _ UseCase = (*Service)(nil)
