package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rodrigobarona/eleva-care-app-sub005/internal/kafka"
	kafkaGo "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic, key string, value interface{}) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

func TestNovuClient_Trigger(t *testing.T) {
	var got novuTriggerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events/trigger", r.URL.Path)
		assert.Equal(t, "ApiKey nv_secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"data":{"acknowledged":true,"status":"processed","transactionId":"tx_novu"}}`))
	}))
	defer srv.Close()

	client := NewNovuClient(srv.URL, "nv_secret", time.Second)
	res := client.Trigger(context.Background(), Trigger{
		Workflow: WorkflowPayoutCompleted,
		To:       Subscriber{ID: "user_1", Email: "expert@example.com", FirstName: "Joana", Locale: "pt"},
		Payload:  map[string]any{"amount": "50.00"},
	})

	assert.True(t, res.OK)
	assert.NoError(t, res.Err)
	assert.Equal(t, "tx_novu", res.TransactionID)
	assert.Equal(t, WorkflowPayoutCompleted, got.Name)
	assert.Equal(t, "user_1", got.To.SubscriberID)
	assert.Equal(t, "Joana", got.To.FirstName)
	assert.Equal(t, "pt", got.To.Locale)
	assert.Equal(t, "50.00", got.Payload["amount"])
	assert.NotEmpty(t, got.TransactionID)
}

func TestNovuClient_Unreachable(t *testing.T) {
	res := NewNovuClient("http://127.0.0.1:1", "nv_secret", 200*time.Millisecond).
		Trigger(context.Background(), Trigger{Workflow: "w", To: Subscriber{ID: "u"}, TransactionID: "tx_1"})

	assert.False(t, res.OK)
	assert.Error(t, res.Err)
	assert.Equal(t, "tx_1", res.TransactionID)
}

func TestNovuClient_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"workflow not found"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	res := NewNovuClient(srv.URL, "nv_secret", time.Second).Trigger(context.Background(), Trigger{Workflow: "missing", To: Subscriber{ID: "u"}})
	assert.False(t, res.OK)
	assert.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "422")
}

func TestNovuClient_NoSecret(t *testing.T) {
	res := NewNovuClient("http://unused", "", time.Second).Trigger(context.Background(), Trigger{Workflow: "w", To: Subscriber{ID: "u"}})
	assert.False(t, res.OK)
	assert.Error(t, res.Err)
}

func TestKafkaDispatcher_Trigger(t *testing.T) {
	pub := &MockPublisher{}
	ctx := context.Background()
	d := NewKafkaDispatcher(pub, "notifications")

	pub.On("Publish", ctx, "notifications", "user_1", mock.MatchedBy(func(m kafka.NotificationMessage) bool {
		return m.Workflow == WorkflowPayoutFailed && m.TransactionID == "tx_1" && m.Email == "a@b.c"
	})).Return(nil).Once()

	res := d.Trigger(ctx, Trigger{
		Workflow:      WorkflowPayoutFailed,
		To:            Subscriber{ID: "user_1", Email: "a@b.c"},
		TransactionID: "tx_1",
	})

	assert.True(t, res.OK)
	assert.Equal(t, "tx_1", res.TransactionID)
	pub.AssertExpectations(t)
}

func TestKafkaDispatcher_PublishError(t *testing.T) {
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()

	res := NewKafkaDispatcher(pub, "notifications").Trigger(context.Background(), Trigger{Workflow: "w", To: Subscriber{ID: "u"}})
	assert.False(t, res.OK)
	assert.EqualError(t, res.Err, "broker down")
	assert.NotEmpty(t, res.TransactionID)
}

type recordingDispatcher struct {
	got Trigger
}

func (r *recordingDispatcher) Trigger(ctx context.Context, t Trigger) Result {
	r.got = t
	return Result{OK: true, TransactionID: t.TransactionID}
}

func TestDeliver(t *testing.T) {
	rec := &recordingDispatcher{}
	res := Deliver(context.Background(), rec, kafka.NotificationMessage{
		Workflow:      WorkflowIdentityVerified,
		SubscriberID:  "user_9",
		Locale:        "pt",
		TransactionID: "tx_9",
	})

	assert.True(t, res.OK)
	assert.Equal(t, WorkflowIdentityVerified, rec.got.Workflow)
	assert.Equal(t, "user_9", rec.got.To.ID)
	assert.Equal(t, "pt", rec.got.To.Locale)
}

type flakyDispatcher struct {
	failures int
	calls    int
}

func (f *flakyDispatcher) Trigger(ctx context.Context, t Trigger) Result {
	f.calls++
	if f.calls <= f.failures {
		return Result{Err: errors.New("novu unavailable")}
	}
	return Result{OK: true, TransactionID: t.TransactionID}
}

func queued(t *testing.T, n kafka.NotificationMessage) kafkaGo.Message {
	t.Helper()
	b, err := json.Marshal(n)
	require.NoError(t, err)
	return kafkaGo.Message{Value: b}
}

func TestRelay_RetriesUntilDelivered(t *testing.T) {
	d := &flakyDispatcher{failures: 2}
	handler := Relay(d, 3, time.Millisecond)

	err := handler(context.Background(), queued(t, kafka.NotificationMessage{Workflow: WorkflowPayoutCompleted, SubscriberID: "user_1"}))

	require.NoError(t, err)
	assert.Equal(t, 3, d.calls)
}

func TestRelay_SkipsAfterExhaustion(t *testing.T) {
	d := &flakyDispatcher{failures: 10}
	handler := Relay(d, 2, time.Millisecond)

	err := handler(context.Background(), queued(t, kafka.NotificationMessage{Workflow: WorkflowPayoutFailed, SubscriberID: "user_1"}))

	require.NoError(t, err)
	assert.Equal(t, 2, d.calls)
}

func TestRelay_DropsUndecodable(t *testing.T) {
	d := &flakyDispatcher{}
	handler := Relay(d, 3, time.Millisecond)

	require.NoError(t, handler(context.Background(), kafkaGo.Message{Value: []byte("not json")}))
	require.NoError(t, handler(context.Background(), queued(t, kafka.NotificationMessage{Workflow: WorkflowPayoutFailed})))
	assert.Zero(t, d.calls)
}
