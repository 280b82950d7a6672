package pushrelay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tinywideclouds/go-push-relay/internal/api"
	"github.com/tinywideclouds/go-push-relay/pushrelay/config"
)

// Ingestor is the optional Pub/Sub intake; nil when the service runs
// HTTP-only.
type Ingestor interface {
	Start(ctx context.Context) error
}

type Wrapper struct {
	echo     *echo.Echo
	ingestor Ingestor
	cfg      *config.Config
	ready    atomic.Bool
	logger   *slog.Logger

	ingestCancel context.CancelFunc
	ingestDone   chan struct{}
}

// New assembles the service: HTTP surface plus the optional broadcast intake.
func New(
	cfg *config.Config,
	pushAPI *api.PushAPI,
	ingestor Ingestor,
	logger *slog.Logger,
) *Wrapper {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = api.NewRequestValidator()
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	w := &Wrapper{
		echo:     e,
		ingestor: ingestor,
		cfg:      cfg,
		logger:   logger.With("component", "Service"),
	}

	e.GET("/healthz", w.healthz)
	e.GET("/readyz", w.readyz)
	pushAPI.RegisterRoutes(e)

	return w
}

// Start runs the intake (if configured) and then blocks serving HTTP until
// Shutdown is called.
func (w *Wrapper) Start(ctx context.Context) error {
	if w.ingestor != nil {
		ingestCtx, cancel := context.WithCancel(ctx)
		w.ingestCancel = cancel
		w.ingestDone = make(chan struct{})
		go func() {
			defer close(w.ingestDone)
			if err := w.ingestor.Start(ingestCtx); err != nil {
				w.logger.Error("broadcast intake stopped", "err", err)
			}
		}()
	}

	w.ready.Store(true)
	w.logger.Info("service is now ready", "addr", w.cfg.ListenAddr)

	err := w.echo.Start(w.cfg.ListenAddr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("shutting down service components")
	w.ready.Store(false)

	if w.ingestCancel != nil {
		w.ingestCancel()
		select {
		case <-w.ingestDone:
		case <-ctx.Done():
			w.logger.Warn("intake did not drain before shutdown deadline")
		}
	}

	if err := w.echo.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed", "err", err)
		return err
	}
	w.logger.Info("service shutdown complete")
	return nil
}

func (w *Wrapper) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (w *Wrapper) readyz(c echo.Context) error {
	if !w.ready.Load() {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}
