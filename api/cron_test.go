package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/service/cleanup"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/service/payouts"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/service/reminders"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockCleanupUseCase struct {
	mock.Mock
}

func (m *MockCleanupUseCase) Run(ctx context.Context) (*cleanup.Result, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cleanup.Result), args.Error(1)
}

type MockReminderUseCase struct {
	mock.Mock
}

func (m *MockReminderUseCase) Run(ctx context.Context) (*reminders.Result, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*reminders.Result), args.Error(1)
}

type MockPayoutUseCase struct {
	mock.Mock
}

func (m *MockPayoutUseCase) Run(ctx context.Context) (*payouts.Summary, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payouts.Summary), args.Error(1)
}

func newTestCronHandler() (*CronHandler, *MockCleanupUseCase, *MockReminderUseCase, *MockPayoutUseCase) {
	c, r, p := &MockCleanupUseCase{}, &MockReminderUseCase{}, &MockPayoutUseCase{}
	h := NewCronHandler(c, r, p)
	h.now = func() time.Time { return time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC) }
	return h, c, r, p
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCronHandler_cleanupReservations(t *testing.T) {
	handler, cleanupSvc, _, _ := newTestCronHandler()

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/cron/cleanup-expired-reservations", nil)

	cleanupSvc.On("Run", c.Request.Context()).Return(&cleanup.Result{
		ExpiredCleaned:    2,
		DuplicatesCleaned: 1,
		TotalCleaned:      3,
		DuplicateGroups:   1,
		DuplicateDetails:  []cleanup.DuplicateGroup{{EventID: "evt", Count: 2, KeptID: "b", RemovedIDs: []string{"a"}}},
	}, nil)

	handler.cleanupReservations(c)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 2, body["expiredCleaned"])
	assert.EqualValues(t, 1, body["duplicatesCleaned"])
	assert.EqualValues(t, 3, body["totalCleaned"])
	assert.EqualValues(t, 1, body["duplicateGroups"])
	assert.Len(t, body["duplicateDetails"], 1)
	assert.Equal(t, "2025-03-01T04:00:00Z", body["timestamp"])

	cleanupSvc.AssertExpectations(t)
}

func TestCronHandler_cleanupReservationsError(t *testing.T) {
	handler, cleanupSvc, _, _ := newTestCronHandler()

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/cron/cleanup-expired-reservations", nil)

	cleanupSvc.On("Run", c.Request.Context()).Return(nil, errors.New("db down"))

	handler.cleanupReservations(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, "Failed to cleanup expired reservations", body["error"])
	assert.Equal(t, "db down", body["details"])
}

func TestCronHandler_sendReminders(t *testing.T) {
	handler, _, reminderSvc, _ := newTestCronHandler()

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/cron/send-payment-reminders", nil)

	reminderSvc.On("Run", c.Request.Context()).Return(&reminders.Result{
		TotalRemindersSent: 1,
		Stages:             []reminders.StageResult{{Stage: "gentle", Found: 1, Sent: 1}, {Stage: "urgent", Found: 0, Sent: 0}},
	}, nil)

	handler.sendReminders(c)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.EqualValues(t, 1, body["totalRemindersSent"])
	assert.Len(t, body["stages"], 2)

	reminderSvc.AssertExpectations(t)
}

func TestCronHandler_sendRemindersError(t *testing.T) {
	handler, _, reminderSvc, _ := newTestCronHandler()

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/cron/send-payment-reminders", nil)

	reminderSvc.On("Run", c.Request.Context()).Return(nil, errors.New("query failed"))

	handler.sendReminders(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Failed to send payment reminders", decodeBody(t, w)["error"])
}

func TestCronHandler_processPayouts(t *testing.T) {
	handler, _, _, payoutSvc := newTestCronHandler()

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/cron/process-pending-payouts", nil)

	payoutSvc.On("Run", c.Request.Context()).Return(&payouts.Summary{
		Total:              2,
		Successful:         1,
		Failed:             1,
		TotalAmountPaidOut: 5000,
		Details: []payouts.Detail{
			{TransferID: 1, Status: payouts.DetailSuccess, PayoutAmount: 5000},
			{TransferID: 2, Status: payouts.DetailFailed, Error: "No available balance"},
		},
	}, nil)

	handler.processPayouts(c)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 2, summary["total"])
	assert.EqualValues(t, 1, summary["successful"])
	assert.EqualValues(t, 1, summary["failed"])
	assert.EqualValues(t, 5000, summary["totalAmountPaidOut"])

	payoutSvc.AssertExpectations(t)
}

func TestCronHandler_processPayoutsError(t *testing.T) {
	handler, _, _, payoutSvc := newTestCronHandler()

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/cron/process-pending-payouts", nil)

	payoutSvc.On("Run", c.Request.Context()).Return(nil, errors.New("list failed"))

	handler.processPayouts(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "list failed", decodeBody(t, w)["details"])
}
