package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/service/cleanup"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/service/payouts"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/service/reminders"
)

type CronHandler struct {
	cleanup   cleanup.UseCase
	reminders reminders.UseCase
	payouts   payouts.UseCase
	now       func() time.Time
}

func NewCronHandler(c cleanup.UseCase, r reminders.UseCase, p payouts.UseCase) *CronHandler {
	return &CronHandler{cleanup: c, reminders: r, payouts: p, now: time.Now}
}

func (h *CronHandler) Register(router *gin.RouterGroup) {
	router.GET("/cleanup-expired-reservations", h.cleanupReservations)
	router.POST("/cleanup-expired-reservations", h.cleanupReservations)
	router.POST("/send-payment-reminders", h.sendReminders)
	router.GET("/process-pending-payouts", h.processPayouts)
	router.POST("/process-pending-payouts", h.processPayouts)
}

func (h *CronHandler) timestamp() string {
	return h.now().UTC().Format(time.RFC3339)
}

func (h *CronHandler) cleanupReservations(c *gin.Context) {
	res, err := h.cleanup.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cleanup expired reservations", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":           true,
		"expiredCleaned":    res.ExpiredCleaned,
		"duplicatesCleaned": res.DuplicatesCleaned,
		"totalCleaned":      res.TotalCleaned,
		"duplicateGroups":   res.DuplicateGroups,
		"duplicateDetails":  res.DuplicateDetails,
		"timestamp":         h.timestamp(),
	})
}

func (h *CronHandler) sendReminders(c *gin.Context) {
	res, err := h.reminders.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to send payment reminders", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":            true,
		"totalRemindersSent": res.TotalRemindersSent,
		"stages":             res.Stages,
		"timestamp":          h.timestamp(),
	})
}

func (h *CronHandler) processPayouts(c *gin.Context) {
	summary, err := h.payouts.Run(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process pending payouts", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "summary": summary})
}
