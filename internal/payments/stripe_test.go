package payments

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      string
		retryable bool
	}{
		{
			name:      "rate limit",
			err:       &stripe.Error{Code: stripe.ErrorCodeRateLimit, HTTPStatusCode: http.StatusTooManyRequests, Msg: "slow down"},
			code:      "rate_limit",
			retryable: true,
		},
		{
			name: "invalid request",
			err:  &stripe.Error{Code: stripe.ErrorCodeBalanceInsufficient, HTTPStatusCode: http.StatusBadRequest, Msg: "insufficient"},
			code: "balance_insufficient",
		},
		{
			name:      "server error without code",
			err:       &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusBadGateway, Msg: "bad gateway"},
			code:      "api_error",
			retryable: true,
		},
		{
			name:      "transport",
			err:       errors.New("dial tcp: connection refused"),
			code:      CodeConnectionError,
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify(tt.err)
			pe := AsError(err)
			require.NotNil(t, pe)
			assert.Equal(t, tt.code, pe.Code)
			assert.Equal(t, tt.retryable, pe.Retryable)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))

	pe := AsError(ErrNoAvailableBalance)
	assert.Equal(t, CodeNoAvailableBalance, pe.Code)
	assert.Equal(t, "No available balance", pe.Message)
	assert.False(t, pe.Retryable)

	pe = AsError(errors.New("boom"))
	assert.Equal(t, CodeUnknown, pe.Code)
}

func TestAvailableIn(t *testing.T) {
	b := &stripe.Balance{Available: []*stripe.BalanceAmount{
		{Currency: stripe.CurrencyUSD, Amount: 100},
		{Currency: stripe.CurrencyEUR, Amount: 5000},
	}}
	assert.Equal(t, int64(5000), availableIn(b, "EUR"))
	assert.Equal(t, int64(0), availableIn(b, "gbp"))
	assert.Equal(t, int64(0), availableIn(nil, "eur"))
}

func TestVoucherFromIntent(t *testing.T) {
	expires := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	pi := &stripe.PaymentIntent{
		ID:       "pi_123",
		Amount:   7000,
		Currency: stripe.CurrencyEUR,
		Metadata: map[string]string{"locale": "pt", "guestName": "Ana"},
		NextAction: &stripe.PaymentIntentNextAction{
			MultibancoDisplayDetails: &stripe.PaymentIntentNextActionMultibancoDisplayDetails{
				Entity:           "12345",
				Reference:        "999 999 999",
				HostedVoucherURL: "https://pay.example/voucher",
				ExpiresAt:        expires.Unix(),
			},
		},
		Customer: &stripe.Customer{ID: "cus_1"},
	}

	v := voucherFromIntent(pi)
	assert.Equal(t, "12345", v.Entity)
	assert.Equal(t, "999 999 999", v.Reference)
	assert.Equal(t, int64(7000), v.Amount)
	assert.Equal(t, "eur", v.Currency)
	assert.Equal(t, expires, v.ExpiresAt)
	assert.Equal(t, "pt", v.Locale)
	assert.Equal(t, "Ana", v.CustomerName)
	assert.Equal(t, "cus_1", v.CustomerID)
}

func TestVoucherFromIntentDefaults(t *testing.T) {
	v := voucherFromIntent(&stripe.PaymentIntent{ID: "pi_1"})
	assert.Equal(t, "en", v.Locale)
	assert.Empty(t, v.CustomerName)
	assert.Empty(t, v.CustomerID)
	assert.True(t, v.ExpiresAt.IsZero())
}

func TestPayerName(t *testing.T) {
	assert.Equal(t, "Maria", payerName(&stripe.PaymentIntent{Metadata: map[string]string{"guestName": " Maria "}}))
	assert.Equal(t, "Rui", payerName(&stripe.PaymentIntent{Metadata: map[string]string{"patientName": "Rui"}}))
	assert.Equal(t, "", payerName(&stripe.PaymentIntent{Customer: &stripe.Customer{Name: "Ignored"}}))
}

func TestVerifyEvent(t *testing.T) {
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.payment_failed","data":{"object":{}}}`)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_test"})

	evt, err := VerifyEvent(signed.Payload, signed.Header, "whsec_test")
	require.NoError(t, err)
	assert.Equal(t, "evt_1", evt.ID)
	assert.Equal(t, stripe.EventTypePaymentIntentPaymentFailed, evt.Type)

	_, err = VerifyEvent(signed.Payload, signed.Header, "whsec_other")
	assert.Error(t, err)
}

func TestNewStripeProvider(t *testing.T) {
	p := NewStripeProvider("sk_test_123")
	assert.NotNil(t, p.api)
}

type recordedRequest struct {
	Method         string
	Path           string
	Account        string
	IdempotencyKey string
	Form           url.Values
}

// fakeStripe serves canned JSON per "METHOD /path" and records each request.
type fakeStripe struct {
	mu        sync.Mutex
	requests  []recordedRequest
	responses map[string]fakeResponse
}

type fakeResponse struct {
	status int
	body   string
}

func newFakeStripe(t *testing.T, responses map[string]fakeResponse) (*fakeStripe, *StripeProvider) {
	t.Helper()
	f := &fakeStripe{responses: responses}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)
	return f, NewStripeProvider("sk_test_123", WithBaseURL(srv.URL, srv.Client()))
}

func (f *fakeStripe) serve(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method:         r.Method,
		Path:           r.URL.Path,
		Account:        r.Header.Get("Stripe-Account"),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		Form:           r.PostForm,
	})
	f.mu.Unlock()

	resp, ok := f.responses[r.Method+" "+r.URL.Path]
	if !ok {
		resp = fakeResponse{status: http.StatusNotFound, body: `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"no such resource"}}`}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_, _ = w.Write([]byte(resp.body))
}

func (f *fakeStripe) calls() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func TestStripeProvider_AvailableBalance(t *testing.T) {
	f, p := newFakeStripe(t, map[string]fakeResponse{
		"GET /v1/balance": {http.StatusOK, `{"object":"balance","available":[{"amount":100,"currency":"usd"},{"amount":5000,"currency":"eur"}],"pending":[]}`},
	})

	amount, err := p.AvailableBalance(context.Background(), "acct_expert", "EUR")

	require.NoError(t, err)
	assert.Equal(t, int64(5000), amount)
	calls := f.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "acct_expert", calls[0].Account)
}

func TestStripeProvider_CreatePayout(t *testing.T) {
	f, p := newFakeStripe(t, map[string]fakeResponse{
		"POST /v1/payouts": {http.StatusOK, `{"id":"po_123","object":"payout"}`},
	})

	id, err := p.CreatePayout(context.Background(), PayoutRequest{
		AccountID:      "acct_expert",
		Amount:         4250,
		Currency:       "EUR",
		Description:    "Payout for appointment",
		Metadata:       map[string]string{"transferId": "7"},
		IdempotencyKey: "payout-7-4250",
	})

	require.NoError(t, err)
	assert.Equal(t, "po_123", id)
	calls := f.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "acct_expert", calls[0].Account)
	assert.Equal(t, "payout-7-4250", calls[0].IdempotencyKey)
	assert.Equal(t, "4250", calls[0].Form.Get("amount"))
	assert.Equal(t, "eur", calls[0].Form.Get("currency"))
	assert.Equal(t, "7", calls[0].Form.Get("metadata[transferId]"))
}

func TestStripeProvider_CreateTransfer(t *testing.T) {
	f, p := newFakeStripe(t, map[string]fakeResponse{
		"POST /v1/transfers": {http.StatusOK, `{"id":"tr_123","object":"transfer"}`},
	})

	id, err := p.CreateTransfer(context.Background(), TransferRequest{
		Amount:         6000,
		Currency:       "eur",
		Destination:    "acct_expert",
		TransferGroup:  "appt_1",
		IdempotencyKey: "transfer-pi_1",
	})

	require.NoError(t, err)
	assert.Equal(t, "tr_123", id)
	calls := f.calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].Account)
	assert.Equal(t, "transfer-pi_1", calls[0].IdempotencyKey)
	assert.Equal(t, "acct_expert", calls[0].Form.Get("destination"))
	assert.Equal(t, "appt_1", calls[0].Form.Get("transfer_group"))
}

func TestStripeProvider_CreatePayoutRejected(t *testing.T) {
	_, p := newFakeStripe(t, map[string]fakeResponse{
		"POST /v1/payouts": {http.StatusBadRequest, `{"error":{"type":"invalid_request_error","code":"balance_insufficient","message":"insufficient funds"}}`},
	})

	_, err := p.CreatePayout(context.Background(), PayoutRequest{AccountID: "acct_expert", Amount: 1, Currency: "eur"})

	pe := AsError(err)
	require.NotNil(t, pe)
	assert.Equal(t, "balance_insufficient", pe.Code)
	assert.Equal(t, http.StatusBadRequest, pe.HTTPStatus)
	assert.False(t, pe.Retryable)
}

func TestStripeProvider_PaymentVoucherAndCustomerName(t *testing.T) {
	f, p := newFakeStripe(t, map[string]fakeResponse{
		"GET /v1/payment_intents/pi_1": {http.StatusOK, `{"id":"pi_1","object":"payment_intent","amount":7050,"currency":"eur","customer":"cus_1","metadata":{"locale":"pt"},"next_action":{"type":"multibanco_display_details","multibanco_display_details":{"entity":"12345","reference":"123 456 789","hosted_voucher_url":"https://pay.example/v","expires_at":1778000000}}}`},
		"GET /v1/customers/cus_1":      {http.StatusOK, `{"id":"cus_1","object":"customer","name":" Rui "}`},
	})
	ctx := context.Background()

	v, err := p.PaymentVoucher(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, "123 456 789", v.Reference)
	assert.Equal(t, int64(7050), v.Amount)
	assert.Empty(t, v.CustomerName)
	assert.Equal(t, "cus_1", v.CustomerID)
	require.Len(t, f.calls(), 1)

	name, err := p.CustomerName(ctx, v.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, "Rui", name)

	calls := f.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/v1/customers/cus_1", calls[1].Path)
}

func TestStripeProvider_CustomerNameMissing(t *testing.T) {
	_, p := newFakeStripe(t, nil)

	_, err := p.CustomerName(context.Background(), "cus_gone")

	pe := AsError(err)
	require.NotNil(t, pe)
	assert.Equal(t, "resource_missing", pe.Code)
}
