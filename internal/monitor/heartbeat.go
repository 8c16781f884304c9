// Package monitor reports job outcomes to uptime heartbeat URLs.
package monitor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Reporter interface {
	Success(ctx context.Context, job string)
	Failure(ctx context.Context, job string, cause error)
}

// Heartbeat pings one URL per job. A failed run pings "<url>/fail".
type Heartbeat struct {
	urls   map[string]string
	client *resty.Client
	log    zerolog.Logger
}

func NewHeartbeat(urls map[string]string, timeout time.Duration) *Heartbeat {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Heartbeat{
		urls:   urls,
		client: resty.New().SetTimeout(timeout),
		log:    log.With().Str("component", "heartbeat").Logger(),
	}
}

func (h *Heartbeat) Success(ctx context.Context, job string) {
	h.ping(ctx, job, "")
}

func (h *Heartbeat) Failure(ctx context.Context, job string, cause error) {
	h.log.Warn().Err(cause).Str("job", job).Msg("reporting job failure")
	h.ping(ctx, job, "/fail")
}

func (h *Heartbeat) ping(ctx context.Context, job, suffix string) {
	base, ok := h.urls[job]
	if !ok || base == "" {
		return
	}
	url := strings.TrimRight(base, "/") + suffix

	resp, err := h.client.R().SetContext(ctx).Get(url)
	if err != nil {
		h.log.Error().Err(err).Str("job", job).Msg("send heartbeat")
		return
	}
	if !resp.IsSuccess() {
		h.log.Error().Err(fmt.Errorf("status %d", resp.StatusCode())).Str("job", job).Msg("heartbeat rejected")
	}
}

// Nop discards reports.
type Nop struct{}

func (Nop) Success(context.Context, string)        {}
func (Nop) Failure(context.Context, string, error) {}

var (
	_ Reporter = (*Heartbeat)(nil)
	_ Reporter = Nop{}
)
