package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const novuTriggerPath = "/v1/events/trigger"

// NovuClient triggers workflows through the Novu events API.
type NovuClient struct {
	secretKey string
	http      *resty.Client
	log       zerolog.Logger
}

func NewNovuClient(baseURL, secretKey string, timeout time.Duration) *NovuClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := log.With().Str("component", "novu").Logger()
	return &NovuClient{
		secretKey: secretKey,
		http: resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetAuthScheme("ApiKey").
			SetAuthToken(secretKey).
			SetHeader("Content-Type", "application/json").
			SetLogger(restyLogger{logger}),
		log: logger,
	}
}

type novuSubscriber struct {
	SubscriberID string `json:"subscriberId"`
	Email        string `json:"email,omitempty"`
	FirstName    string `json:"firstName,omitempty"`
	Locale       string `json:"locale,omitempty"`
}

type novuTriggerRequest struct {
	Name          string         `json:"name"`
	To            novuSubscriber `json:"to"`
	Payload       map[string]any `json:"payload,omitempty"`
	TransactionID string         `json:"transactionId,omitempty"`
}

type novuTriggerResponse struct {
	Data struct {
		Acknowledged  bool   `json:"acknowledged"`
		Status        string `json:"status"`
		TransactionID string `json:"transactionId"`
	} `json:"data"`
}

func (c *NovuClient) Trigger(ctx context.Context, t Trigger) Result {
	ensureTransactionID(&t)
	res := Result{TransactionID: t.TransactionID}
	logger := c.log.With().Str("workflow", t.Workflow).Str("subscriber_id", t.To.ID).Logger()

	if c.secretKey == "" {
		res.Err = fmt.Errorf("novu secret key not configured")
		logger.Error().Err(res.Err).Msg("notification skipped")
		return res
	}

	var decoded novuTriggerResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(novuTriggerRequest{
			Name: t.Workflow,
			To: novuSubscriber{
				SubscriberID: t.To.ID,
				Email:        t.To.Email,
				FirstName:    t.To.FirstName,
				Locale:       t.To.Locale,
			},
			Payload:       t.Payload,
			TransactionID: t.TransactionID,
		}).
		ForceContentType("application/json").
		SetResult(&decoded).
		Post(novuTriggerPath)
	if err != nil {
		res.Err = fmt.Errorf("send trigger: %w", err)
		logger.Error().Err(res.Err).Msg("notification failed")
		return res
	}
	if !resp.IsSuccess() {
		res.Err = fmt.Errorf("novu returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
		logger.Error().Err(res.Err).Msg("notification rejected")
		return res
	}

	if decoded.Data.TransactionID != "" {
		res.TransactionID = decoded.Data.TransactionID
	}
	res.OK = true
	logger.Info().Str("transaction_id", res.TransactionID).Msg("notification triggered")
	return res
}

// restyLogger sends resty's internal messages to zerolog.
type restyLogger struct {
	l zerolog.Logger
}

func (r restyLogger) Errorf(format string, v ...any) { r.l.Error().Msgf(format, v...) }
func (r restyLogger) Warnf(format string, v ...any)  { r.l.Warn().Msgf(format, v...) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Debug().Msgf(format, v...) }

var _ Dispatcher = (*NovuClient)(nil)
