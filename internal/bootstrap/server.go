package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rodrigobarona/eleva-care-app-sub005/config"
	"github.com/rs/zerolog/log"
)

// Run serves handler until ctx is canceled or the listener fails, then
// drains in-flight requests.
func Run(ctx context.Context, cfg config.HTTPConfig, handler http.Handler) error {
	srv := newServer(cfg, handler)

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http %s: %w", srv.Addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
		defer cancel()
		log.Info().Msg("shutting down http server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	}
}

func newServer(cfg config.HTTPConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Address,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func shutdownTimeout(cfg config.HTTPConfig) time.Duration {
	if cfg.ShutdownSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(cfg.ShutdownSeconds) * time.Second
}
