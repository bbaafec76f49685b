package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/helm-rem/pkg/api"
	"github.com/Mindburn-Labs/helm-rem/pkg/auth"
	"github.com/Mindburn-Labs/helm-rem/pkg/config"
)

// newLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// loadConfig reads the environment, overlays the optional profile and
// validates the result.
func loadConfig() (*config.Config, *config.GateProfile, error) {
	cfg := config.Load()
	var profile *config.GateProfile
	if cfg.ProfilePath != "" {
		p, err := config.LoadProfile(cfg.ProfilePath)
		if err != nil {
			return nil, nil, err
		}
		cfg.ApplyProfile(p)
		profile = p
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, profile, nil
}

func runServer(stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "%sHELM REM starting...%s\n", ColorBold+ColorBlue, ColorReset)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, profile, err := loadConfig()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	logger := newLogger(cfg, stderr)
	slog.SetDefault(logger)
	if profile != nil {
		logger.InfoContext(ctx, "gate profile loaded", "name", profile.Name, "version", profile.Version)
	}

	if err := serve(ctx, cfg, profile, logger); err != nil {
		logger.ErrorContext(ctx, "server failed", "error", err)
		return 1
	}
	logger.InfoContext(ctx, "shut down")
	return 0
}

// serve runs the API and health servers until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, profile *config.GateProfile, logger *slog.Logger) error {
	svc, err := NewServices(ctx, cfg, profile, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			logger.WarnContext(context.Background(), "close services", "error", cerr)
		}
	}()

	validator := auth.NewJWTValidator(cfg.JWTSecret)
	if validator == nil {
		logger.WarnContext(ctx, "REM_JWT_SECRET not set: API authentication disabled, custodian key writes only via `helm-rem trust`")
	}

	router := api.NewRouter(api.RouterConfig{
		Gate:         svc.Gate,
		Registry:     svc.Registry,
		Audit:        svc.Audit,
		Validator:    validator,
		RateLimiter:  api.NewGlobalRateLimiter(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst),
		Telemetry:    svc.Telemetry,
		HealthChecks: svc.HealthChecks,
		Now:          time.Now,
	})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	health := api.NewHealthServer(cfg.HealthAddr, svc.HealthChecks)

	errCh := make(chan error, 2)
	go func() {
		logger.InfoContext(ctx, "health server", "addr", cfg.HealthAddr)
		errCh <- api.Serve(ctx, health)
	}()
	go func() {
		logger.InfoContext(ctx, "ready", "addr", cfg.ListenAddr)
		errCh <- api.Serve(ctx, srv)
	}()

	var errs []error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			errs = append(errs, err)
			// One listener failing takes the process down.
			shutdownAll(ctx, srv, health)
		}
	}
	return errors.Join(errs...)
}

func shutdownAll(ctx context.Context, servers ...*http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, s := range servers {
		_ = s.Shutdown(shutdownCtx)
	}
}
