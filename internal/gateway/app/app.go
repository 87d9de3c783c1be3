package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openvitals/vitalgate/internal/gateway/proxy"
	"github.com/openvitals/vitalgate/internal/gateway/session"
	"github.com/openvitals/vitalgate/pkg/api"
	"github.com/openvitals/vitalgate/pkg/httpx"
	"github.com/openvitals/vitalgate/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags. Later problem
	BuildVersion = "v0.1.0"
)

// Application encapsulates the gateway with all its dependencies.
type Application struct {
	cfg    Config
	logger *slog.Logger

	handler *proxy.Handler
	server  *http.Server
}

// New creates a new Application instance with all dependencies initialized
func New(cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "gateway",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initProxy(); err != nil {
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested
func (app *Application) Run() error {
	app.logger.Info("gateway starting",
		"port", app.cfg.Port,
		"backend", app.cfg.BackendURL,
		"version", BuildVersion,
	)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down gateway...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.logger.Info("gateway stopped")
	return nil
}

func (app *Application) initProxy() error {
	backend, err := url.Parse(app.cfg.BackendURL)
	if err != nil {
		return fmt.Errorf("invalid backend URL: %w", err)
	}

	forwarder := proxy.NewForwarder(backend)
	forwarder.Client.Timeout = app.cfg.ForwardTimeout
	forwarder.MaxRetries = app.cfg.ForwardRetries

	app.handler = &proxy.Handler{
		Codec: session.NewCodec(app.cfg.SessionSecret, app.cfg.SessionTTL, app.cfg.RememberMeTTL),
		Cookies: &session.CookieWriter{
			Name:             app.cfg.CookieName,
			Domain:           app.cfg.CookieDomain,
			Secure:           app.cfg.Env == "prod",
			RememberMeMaxAge: app.cfg.RememberMeTTL,
		},
		Forwarder: forwarder,
		Refresher: proxy.NewRefresher(backend),
	}
	return nil
}

func (app *Application) initHTTP() {
	mux := http.NewServeMux()

	startTime := time.Now()
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, api.HealthResponse{
			Status:  "ok",
			Uptime:  time.Since(startTime).String(),
			Version: BuildVersion,
		})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	// Everything else is the proxy.
	mux.Handle("/", app.handler)

	handler := httpx.Chain(mux,
		slogx.HTTPMiddleware(app.logger),
		httpx.MetricsMiddleware("gateway"),
	)

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           handler,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
