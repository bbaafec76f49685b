package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Mindburn-Labs/helm-rem/pkg/api"
	"github.com/Mindburn-Labs/helm-rem/pkg/audit"
	"github.com/Mindburn-Labs/helm-rem/pkg/config"
	"github.com/Mindburn-Labs/helm-rem/pkg/gate"
	"github.com/Mindburn-Labs/helm-rem/pkg/intent"
	"github.com/Mindburn-Labs/helm-rem/pkg/observability"
	"github.com/Mindburn-Labs/helm-rem/pkg/oracle"
	"github.com/Mindburn-Labs/helm-rem/pkg/registry"
	"github.com/Mindburn-Labs/helm-rem/pkg/store"
)

// auditChainRetention bounds the in-memory tamper-evident audit window.
const auditChainRetention = 1024

// Services holds the wired gate and its backends.
type Services struct {
	DB           *store.DB
	Oracle       gate.Oracle
	Registry     registry.Store
	Audit        audit.Logger
	AuditChain   *audit.ChainLogger
	Telemetry    *observability.Provider
	Gate         *gate.Gate
	HealthChecks map[string]api.HealthCheck

	closers []func() error
}

// NewServices opens the configured backends and builds the gate. profile may
// be nil.
//
//nolint:gocognit // wiring is linear
func NewServices(ctx context.Context, cfg *config.Config, profile *config.GateProfile, logger *slog.Logger) (*Services, error) {
	svc := &Services{HealthChecks: make(map[string]api.HealthCheck)}

	needDB := cfg.OracleBackend == config.OracleSQL || cfg.RegistryBackend == config.RegistrySQL
	if needDB {
		db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DataDir)
		if err != nil {
			return nil, err
		}
		svc.DB = db
		svc.closers = append(svc.closers, db.Close)
		svc.HealthChecks["database"] = db.PingContext
	}

	if err := svc.initOracle(ctx, cfg, profile, logger); err != nil {
		_ = svc.Close()
		return nil, err
	}
	if err := svc.initRegistry(ctx, cfg, profile, logger); err != nil {
		_ = svc.Close()
		return nil, err
	}

	svc.AuditChain = audit.NewChainLoggerWithRetention(auditChainRetention)
	svc.Audit = audit.Multi(audit.NewLogger(), svc.AuditChain)
	svc.HealthChecks["audit_chain"] = svc.AuditChain.VerifyRetained

	tel := observability.DefaultConfig()
	tel.ServiceVersion = Version
	tel.Enabled = cfg.OTelEnabled
	tel.OTLPEndpoint = cfg.OTelEndpoint
	// Plaintext gRPC only to a local collector.
	tel.Insecure = strings.HasPrefix(cfg.OTelEndpoint, "localhost:") || strings.HasPrefix(cfg.OTelEndpoint, "127.0.0.1:")
	tp, err := observability.New(ctx, tel)
	if err != nil {
		_ = svc.Close()
		return nil, fmt.Errorf("observability: %w", err)
	}
	svc.Telemetry = tp
	svc.closers = append(svc.closers, func() error { return tp.Shutdown(context.Background()) })

	opts := []gate.Option{
		gate.WithLogger(logger.With("component", "rem.gate")),
		gate.WithAuditLogger(svc.Audit),
		gate.WithTracker(tp),
	}
	if cfg.RequireRegisteredApprover {
		if svc.Registry == nil {
			_ = svc.Close()
			return nil, errors.New("registered-approver enforcement requires a registry backend")
		}
		opts = append(opts, gate.WithRegistry(svc.Registry))
		logger.InfoContext(ctx, "approver registry enforcement enabled", "backend", cfg.RegistryBackend)
	} else {
		logger.WarnContext(ctx, "approver registry enforcement disabled: any valid P-256 key is accepted")
	}

	g, err := gate.New(svc.Oracle, opts...)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	svc.Gate = g
	return svc, nil
}

func (s *Services) initOracle(ctx context.Context, cfg *config.Config, profile *config.GateProfile, logger *slog.Logger) error {
	if profile != nil && len(profile.AuthorizedIntents) > 0 && cfg.OracleBackend != config.OracleStatic {
		return fmt.Errorf("profile authorized_intents requires the %q oracle backend, got %q; write ledger states with `helm-rem intent set`",
			config.OracleStatic, cfg.OracleBackend)
	}

	switch cfg.OracleBackend {
	case config.OracleSQL:
		o := oracle.NewSQLOracle(s.DB.DB)
		if err := o.Init(ctx); err != nil {
			return fmt.Errorf("failed to init intent ledger: %w", err)
		}
		s.Oracle = o
		s.HealthChecks["oracle"] = o.Ping

	case config.OracleRedis:
		o := oracle.NewRedisOracle(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		s.closers = append(s.closers, o.Close)
		if err := o.Ping(ctx); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		s.Oracle = o
		s.HealthChecks["oracle"] = o.Ping

	case config.OracleStatic:
		o := oracle.NewStatic()
		if profile != nil {
			for _, raw := range profile.AuthorizedIntents {
				h, err := intent.ParseHashHex(raw)
				if err != nil {
					return fmt.Errorf("profile authorized_intents: %w", err)
				}
				o.Authorize(h)
			}
		}
		s.Oracle = o

	default:
		return fmt.Errorf("unknown oracle backend %q", cfg.OracleBackend)
	}
	logger.InfoContext(ctx, "intent oracle: ready", "backend", cfg.OracleBackend)
	return nil
}

func (s *Services) initRegistry(ctx context.Context, cfg *config.Config, profile *config.GateProfile, logger *slog.Logger) error {
	switch cfg.RegistryBackend {
	case config.RegistrySQL:
		r := registry.NewSQLRegistry(s.DB.DB)
		if err := r.Init(ctx); err != nil {
			return fmt.Errorf("failed to init custodian registry: %w", err)
		}
		s.Registry = r
		s.HealthChecks["registry"] = r.Ping
	case config.RegistryMemory:
		s.Registry = registry.NewCustodianRegistry()
	default:
		return fmt.Errorf("unknown registry backend %q", cfg.RegistryBackend)
	}

	if profile != nil {
		if err := seedCustodians(ctx, s.Registry, profile.Custodians); err != nil {
			return err
		}
	}
	logger.InfoContext(ctx, "custodian registry: ready", "backend", cfg.RegistryBackend)
	return nil
}

// seedCustodians registers profile keys. Keys already present are kept.
func seedCustodians(ctx context.Context, reg registry.Store, entries []config.CustodianEntry) error {
	for _, c := range entries {
		pub, err := hex.DecodeString(c.PublicKey)
		if err != nil {
			return fmt.Errorf("custodian %s/%s: invalid public_key hex: %w", c.ID, c.KeyID, err)
		}
		if _, err := reg.AddKey(ctx, c.ID, c.KeyID, pub); err != nil && !errors.Is(err, registry.ErrKeyExists) {
			return fmt.Errorf("custodian %s/%s: %w", c.ID, c.KeyID, err)
		}
	}
	return nil
}

// Close releases backends in reverse order of acquisition.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
