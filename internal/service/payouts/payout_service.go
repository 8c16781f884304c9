package payouts

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/rodrigobarona/eleva-care-app-sub005/config"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/domain"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/monitor"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/notify"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/payments"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/repository"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const JobName = "process-pending-payouts"

const (
	DetailSuccess = "success"
	DetailFailed  = "failed"
)

var ErrMissingConnectAccount = errors.New("missing connected account")

// CodeStalePayoutRequest marks a row whose earlier payout request outlived
// the provider's idempotency window without a recorded outcome.
const CodeStalePayoutRequest = "stale_payout_request"

// idempotencyWindow is how long the provider replays a keyed request.
const idempotencyWindow = 24 * time.Hour

// PayoutIdempotencyKey binds the key to the amount so a changed amount is
// never sent under a key the provider already saw.
func PayoutIdempotencyKey(transferID, amount int64) string {
	return fmt.Sprintf("payout-%d-%d", transferID, amount)
}

type UseCase interface {
	Run(ctx context.Context) (*Summary, error)
}

// PayoutProvider is the part of the payment provider the job needs.
type PayoutProvider interface {
	AvailableBalance(ctx context.Context, accountID, currency string) (int64, error)
	CreatePayout(ctx context.Context, req payments.PayoutRequest) (string, error)
}

type Summary struct {
	Total              int      `json:"total"`
	Successful         int      `json:"successful"`
	Failed             int      `json:"failed"`
	TotalAmountPaidOut int64    `json:"totalAmountPaidOut"`
	Details            []Detail `json:"details"`
}

type Detail struct {
	TransferID      int64  `json:"transferId"`
	PaymentIntentID string `json:"paymentIntentId"`
	ExpertUserID    string `json:"expertUserId"`
	Status          string `json:"status"`
	Amount          int64  `json:"amount"`
	PayoutAmount    int64  `json:"payoutAmount,omitempty"`
	Currency        string `json:"currency"`
	PayoutID        string `json:"payoutId,omitempty"`
	Error           string `json:"error,omitempty"`
	ErrorCode       string `json:"errorCode,omitempty"`
	Retryable       bool   `json:"retryable"`
}

type Service struct {
	transfers   repository.TransferRepository
	users       repository.UserRepository
	provider    PayoutProvider
	notifier    notify.Dispatcher
	monitor     monitor.Reporter
	policy      config.PayoutConfig
	concurrency int
	now         func() time.Time
	logger      zerolog.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithReporter(r monitor.Reporter) Option {
	return func(s *Service) { s.monitor = r }
}

func NewService(
	transfers repository.TransferRepository,
	users repository.UserRepository,
	provider PayoutProvider,
	notifier notify.Dispatcher,
	policy config.PayoutConfig,
	opts ...Option,
) *Service {
	s := &Service{
		transfers:   transfers,
		users:       users,
		provider:    provider,
		notifier:    notifier,
		monitor:     monitor.Nop{},
		policy:      policy,
		concurrency: policy.Concurrency,
		now:         time.Now,
		logger:      log.With().Str("component", JobName).Logger(),
	}
	if s.concurrency <= 0 {
		s.concurrency = 5
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DaysSince counts whole days elapsed since t.
func DaysSince(t, now time.Time) int {
	return int(math.Floor(now.Sub(t).Hours() / 24))
}

type candidate struct {
	transfer domain.PaymentTransfer
	expert   *domain.User
	account  string
}

func (s *Service) Run(ctx context.Context) (*Summary, error) {
	now := s.now().UTC()

	pending, err := s.transfers.ListAwaitingPayout(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("list pending transfers failed")
		s.monitor.Failure(ctx, JobName, err)
		return nil, err
	}

	summary := &Summary{Details: []Detail{}}
	experts := make(map[string]*domain.User)
	var eligible []candidate

	for _, t := range pending {
		if !t.PayoutPending() {
			continue
		}
		expert, ok := experts[t.ExpertUserID]
		if !ok {
			expert, err = s.users.GetByID(ctx, t.ExpertUserID)
			if err != nil {
				s.logger.Error().Err(err).Int64("transfer_id", t.ID).Str("expert_user_id", t.ExpertUserID).Msg("expert lookup failed")
				summary.add(failedDetail(t, err))
				continue
			}
			experts[t.ExpertUserID] = expert
		}
		account, ok := expert.ConnectAccount()
		if !ok {
			s.logger.Error().Int64("transfer_id", t.ID).Str("expert_user_id", t.ExpertUserID).Msg("expert has no connected account")
			summary.add(failedDetail(t, ErrMissingConnectAccount))
			continue
		}

		required := s.policy.DelayDays(expert.Country)
		days := DaysSince(t.LastChange(), now)
		if days < required {
			s.logger.Debug().Int64("transfer_id", t.ID).Int("days_since", days).Int("required_days", required).Msg("payout not yet due")
			continue
		}
		eligible = append(eligible, candidate{transfer: t, expert: expert, account: account})
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, c := range eligible {
		g.Go(func() error {
			d := s.payout(gctx, c, now)
			mu.Lock()
			summary.add(d)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.logger.Info().
		Int("total", summary.Total).
		Int("successful", summary.Successful).
		Int("failed", summary.Failed).
		Int64("amount_paid_out", summary.TotalAmountPaidOut).
		Msg("payout processing finished")
	s.monitor.Success(ctx, JobName)
	return summary, nil
}

func (sm *Summary) add(d Detail) {
	sm.Total++
	sm.Details = append(sm.Details, d)
	if d.Status == DetailSuccess {
		sm.Successful++
		sm.TotalAmountPaidOut += d.PayoutAmount
		return
	}
	sm.Failed++
}

func failedDetail(t domain.PaymentTransfer, err error) Detail {
	d := Detail{
		TransferID:      t.ID,
		PaymentIntentID: t.PaymentIntentID,
		ExpertUserID:    t.ExpertUserID,
		Status:          DetailFailed,
		Amount:          t.Amount,
		Currency:        t.Currency,
		Error:           err.Error(),
	}
	var pe *payments.Error
	if errors.As(err, &pe) {
		d.ErrorCode = pe.Code
		d.Error = pe.Message
		d.Retryable = pe.Retryable
	}
	return d
}

func (s *Service) payout(ctx context.Context, c candidate, now time.Time) Detail {
	t := c.transfer
	logger := s.logger.With().Int64("transfer_id", t.ID).Str("account", c.account).Logger()

	var amount int64
	if prev, at, ok := t.PendingPayoutRequest(); ok {
		if now.Sub(at) > idempotencyWindow {
			logger.Error().Int64("requested_amount", prev).Time("requested_at", at).Bool("needs_manual_intervention", true).Msg("earlier payout request has no recorded outcome")
			return s.fail(ctx, logger, t, &payments.Error{Code: CodeStalePayoutRequest, Message: "Earlier payout request has no recorded outcome"}, now)
		}
		amount = prev
		logger.Warn().Int64("amount", amount).Time("requested_at", at).Msg("repeating earlier payout request")
	} else {
		balance, err := s.provider.AvailableBalance(ctx, c.account, t.Currency)
		if err != nil {
			return s.fail(ctx, logger, t, payments.AsError(err), now)
		}
		if balance <= 0 {
			return s.fail(ctx, logger, t, payments.AsError(payments.ErrNoAvailableBalance), now)
		}
		amount = min(balance, t.Amount)
		if err := s.transfers.MarkPayoutRequested(ctx, t.ID, amount, now); err != nil {
			logger.Error().Err(err).Int64("amount", amount).Msg("record payout request failed")
			return failedDetail(t, err)
		}
	}

	payoutID, err := s.provider.CreatePayout(ctx, payments.PayoutRequest{
		AccountID:   c.account,
		Amount:      amount,
		Currency:    t.Currency,
		Description: fmt.Sprintf("Payout for session %s", t.SessionStartTime.UTC().Format("2006-01-02 15:04")),
		Metadata: map[string]string{
			"transferId":      strconv.FormatInt(t.ID, 10),
			"paymentIntentId": t.PaymentIntentID,
			"eventId":         t.EventID,
			"expertUserId":    t.ExpertUserID,
		},
		IdempotencyKey: PayoutIdempotencyKey(t.ID, amount),
	})
	if err != nil {
		pe := payments.AsError(err)
		if refused(pe) {
			if cerr := s.transfers.ClearPayoutRequest(ctx, t.ID); cerr != nil {
				logger.Error().Err(cerr).Msg("clear payout request failed")
			}
		}
		return s.fail(ctx, logger, t, pe, now)
	}

	if err := t.Transition(domain.TransferStatusPaidOut); err != nil {
		logger.Error().Err(err).Str("payout_id", payoutID).Bool("needs_manual_intervention", true).Msg("payout created for transfer in unexpected state")
		d := failedDetail(t, err)
		d.PayoutID = payoutID
		return d
	}
	if err := s.transfers.MarkPaidOut(ctx, t.ID, payoutID, now); err != nil {
		logger.Error().Err(err).Str("payout_id", payoutID).Bool("needs_manual_intervention", true).Msg("payout created but ledger update failed")
		d := failedDetail(t, err)
		d.PayoutID = payoutID
		return d
	}
	logger.Info().Str("payout_id", payoutID).Int64("amount", amount).Msg("payout created")

	res := s.notifier.Trigger(ctx, notify.Trigger{
		Workflow: notify.WorkflowPayoutCompleted,
		To: notify.Subscriber{
			ID:        c.expert.ID,
			Email:     c.expert.Email,
			FirstName: c.expert.FirstName,
		},
		Payload: map[string]any{
			"amount":           fmt.Sprintf("%d.%02d", amount/100, amount%100),
			"currency":         t.Currency,
			"payoutId":         payoutID,
			"sessionStartTime": t.SessionStartTime.UTC().Format(time.RFC3339),
		},
		TransactionID: "payout-completed-" + payoutID,
	})
	if !res.OK {
		logger.Warn().Err(res.Err).Str("payout_id", payoutID).Msg("payout notification failed")
	}

	return Detail{
		TransferID:      t.ID,
		PaymentIntentID: t.PaymentIntentID,
		ExpertUserID:    t.ExpertUserID,
		Status:          DetailSuccess,
		Amount:          t.Amount,
		PayoutAmount:    amount,
		Currency:        t.Currency,
		PayoutID:        payoutID,
	}
}

// refused reports a definite provider answer: no payout exists for the key.
func refused(pe *payments.Error) bool {
	return !pe.Retryable && pe.HTTPStatus >= 400 && pe.HTTPStatus < 500
}

// fail records the provider failure on the row without touching its status.
func (s *Service) fail(ctx context.Context, logger zerolog.Logger, t domain.PaymentTransfer, pe *payments.Error, now time.Time) Detail {
	logger.Error().Str("code", pe.Code).Bool("retryable", pe.Retryable).Msg(pe.Message)
	if err := s.transfers.RecordPayoutFailure(ctx, t.ID, pe.Code, pe.Message, now); err != nil {
		logger.Error().Err(err).Msg("record payout failure failed")
	}
	return failedDetail(t, pe)
}

var _ UseCase = (*Service)(nil)
