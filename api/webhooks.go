package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/payments"
	"github.com/rodrigobarona/eleva-care-app-sub005/internal/service/webhooks"
	"github.com/rs/zerolog/log"
	"github.com/stripe/stripe-go/v82"
)

const signatureHeader = "Stripe-Signature"

// EventDispatcher applies a verified provider event.
type EventDispatcher interface {
	Dispatch(ctx context.Context, source string, evt stripe.Event) error
}

type WebhookSecrets struct {
	Platform string
	Connect  string
	Identity string
}

type WebhookHandler struct {
	dispatcher EventDispatcher
	secrets    WebhookSecrets
}

func NewWebhookHandler(d EventDispatcher, secrets WebhookSecrets) *WebhookHandler {
	return &WebhookHandler{dispatcher: d, secrets: secrets}
}

func (h *WebhookHandler) Register(router *gin.RouterGroup) {
	router.POST("/stripe", h.platform)
	router.POST("/stripe-connect", h.connect)
	router.POST("/stripe-identity", h.identity)
}

// verify returns false after writing the 400 response. The fallback secret
// is tried only when the primary one rejects the signature, and accept must
// approve the event it yields.
func (h *WebhookHandler) verify(c *gin.Context, secret, fallback string, accept func(stripe.Event) bool) (stripe.Event, bool) {
	sig := c.GetHeader(signatureHeader)
	if sig == "" || secret == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing signature or webhook secret"})
		return stripe.Event{}, false
	}
	body, err := readBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid body"})
		return stripe.Event{}, false
	}
	evt, err := payments.VerifyEvent(body, sig, secret)
	if err != nil && fallback != "" && fallback != secret {
		if alt, altErr := payments.VerifyEvent(body, sig, fallback); altErr == nil && accept(alt) {
			evt, err = alt, nil
		}
	}
	if err != nil {
		log.Warn().Err(err).Str("component", "webhooks").Str("path", c.FullPath()).Msg("signature verification failed")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook signature verification failed"})
		return stripe.Event{}, false
	}
	return evt, true
}

func isIdentityEvent(evt stripe.Event) bool {
	return strings.HasPrefix(string(evt.Type), "identity.")
}

func anyEvent(stripe.Event) bool { return true }

// platform always acknowledges a verified event so the provider does not
// redeliver. Failures are left to the logs.
func (h *WebhookHandler) platform(c *gin.Context) {
	evt, ok := h.verify(c, h.secrets.Platform, h.secrets.Identity, isIdentityEvent)
	if !ok {
		return
	}
	_ = h.dispatcher.Dispatch(c.Request.Context(), webhooks.SourcePlatform, evt)
	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *WebhookHandler) connect(c *gin.Context) {
	evt, ok := h.verify(c, h.secrets.Connect, "", anyEvent)
	if !ok {
		return
	}
	if err := h.dispatcher.Dispatch(c.Request.Context(), webhooks.SourceConnect, evt); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true, "status": "success"})
}

func (h *WebhookHandler) identity(c *gin.Context) {
	secret := h.secrets.Identity
	if secret == "" {
		secret = h.secrets.Platform
	}
	evt, ok := h.verify(c, secret, h.secrets.Platform, anyEvent)
	if !ok {
		return
	}
	_ = h.dispatcher.Dispatch(c.Request.Context(), webhooks.SourceIdentity, evt)
	c.JSON(http.StatusOK, gin.H{"received": true})
}
