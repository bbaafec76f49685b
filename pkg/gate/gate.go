// Package gate implements the REM authorization gate: the last check before
// an authorized intent is executed.
//
// A decision verifies an approver's P-256 signature over
// intent_hash || AUTHORIZED, asks the state oracle once whether the intent is
// currently AUTHORIZED, and on success returns an AuditToken. Every failure
// maps to exactly one of ErrInvalidSignature, ErrInvalidState or
// ErrHashMismatch.
package gate

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/helm-rem/pkg/audit"
	"github.com/Mindburn-Labs/helm-rem/pkg/crypto"
	"github.com/Mindburn-Labs/helm-rem/pkg/intent"
)

// Oracle answers whether an intent is currently AUTHORIZED. Implementations
// must be read-only.
type Oracle interface {
	IsAuthorized(ctx context.Context, h intent.Hash) (bool, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, h intent.Hash) (bool, error)

func (f OracleFunc) IsAuthorized(ctx context.Context, h intent.Hash) (bool, error) {
	return f(ctx, h)
}

// Registry answers whether an approver key digest belongs to a registered
// custodian.
type Registry interface {
	IsRegistered(ctx context.Context, approverID [32]byte) (bool, error)
}

// RegistryFunc adapts a function to Registry.
type RegistryFunc func(ctx context.Context, approverID [32]byte) (bool, error)

func (f RegistryFunc) IsRegistered(ctx context.Context, approverID [32]byte) (bool, error) {
	return f(ctx, approverID)
}

// Tracker is satisfied by observability.Provider.
type Tracker interface {
	TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error))
}

// SpanName is the span recorded for each decision when a Tracker is set.
const SpanName = "rem.gate.decide"

// Request carries one decision's inputs. Now is UTC unix milliseconds and is
// copied into the token unchecked.
type Request struct {
	IntentHash   []byte
	Signature    []byte
	VerifyingKey []byte
	Now          uint64
}

// Gate is stateless after construction and safe for concurrent use.
type Gate struct {
	oracle   Oracle
	registry Registry
	logger   *slog.Logger
	audit    audit.Logger
	tracker  Tracker
}

// Option configures a Gate.
type Option func(*Gate)

// WithRegistry enforces custodian registration: after the signature checks
// out, the approver must be registered or the decision fails with
// ErrInvalidSignature.
func WithRegistry(r Registry) Option {
	return func(g *Gate) { g.registry = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) {
		if l != nil {
			g.logger = l
		}
	}
}

func WithAuditLogger(a audit.Logger) Option {
	return func(g *Gate) {
		if a != nil {
			g.audit = a
		}
	}
}

func WithTracker(t Tracker) Option {
	return func(g *Gate) { g.tracker = t }
}

// New creates a Gate backed by oracle.
func New(oracle Oracle, opts ...Option) (*Gate, error) {
	if oracle == nil {
		return nil, ErrNoOracle
	}
	g := &Gate{
		oracle: oracle,
		logger: slog.Default().With("component", "rem.gate"),
		audit:  audit.Nop{},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// DecideRaw is the byte-boundary entry point. Inputs are copied into owned
// buffers before anything else touches them, so the caller may reuse its
// buffers as soon as DecideRaw is entered.
func (g *Gate) DecideRaw(ctx context.Context, hash, sig, key []byte, nowMs uint64) (AuditToken, error) {
	return g.Decide(ctx, Request{
		IntentHash:   bytes.Clone(hash),
		Signature:    bytes.Clone(sig),
		VerifyingKey: bytes.Clone(key),
		Now:          nowMs,
	})
}

// Decide runs one authorization decision. The oracle is queried at most once
// and only after the signature has verified. Any non-nil error is a denial.
func (g *Gate) Decide(ctx context.Context, req Request) (tok AuditToken, err error) {
	if g.tracker != nil {
		var done func(error)
		ctx, done = g.tracker.TrackOperation(ctx, SpanName)
		defer func() {
			outcome := Granted
			if err != nil {
				outcome = Denied
			}
			trace.SpanFromContext(ctx).SetAttributes(
				attribute.String("rem.outcome", string(outcome)),
				attribute.String("rem.reason", ReasonOf(err).String()),
			)
			done(err)
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			tok = AuditToken{}
			err = fmt.Errorf("%w: internal fault: %v", ErrInvalidSignature, r)
		}
		g.report(ctx, req, tok, err)
	}()

	return g.decide(ctx, req)
}

func (g *Gate) decide(ctx context.Context, req Request) (AuditToken, error) {
	if len(req.IntentHash) == 0 || len(req.Signature) == 0 || len(req.VerifyingKey) == 0 {
		return AuditToken{}, fmt.Errorf("%w: intent hash, signature and verifying key are required (got %d/%d/%d bytes)",
			ErrHashMismatch, len(req.IntentHash), len(req.Signature), len(req.VerifyingKey))
	}
	h, err := intent.ParseHash(req.IntentHash)
	if err != nil {
		return AuditToken{}, fmt.Errorf("%w: %v", ErrHashMismatch, err)
	}

	pub, err := crypto.ParseVerifyingKey(req.VerifyingKey)
	if err != nil {
		return AuditToken{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	r, s, err := crypto.ParseSignatureDER(req.Signature)
	if err != nil {
		return AuditToken{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	msg := intent.AuthorizedMessage(h)
	if err := crypto.VerifyP256(pub, msg, r, s); err != nil {
		return AuditToken{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	approverID := crypto.ApproverID(pub)

	if g.registry != nil {
		ok, err := callRegistry(ctx, g.registry, approverID)
		if err != nil {
			return AuditToken{}, fmt.Errorf("%w: custodian registry: %v", ErrInvalidSignature, err)
		}
		if !ok {
			return AuditToken{}, fmt.Errorf("%w: approver %x is not a registered custodian key", ErrInvalidSignature, approverID[:8])
		}
	}

	ok, err := callOracle(ctx, g.oracle, h)
	if err != nil {
		return AuditToken{}, fmt.Errorf("%w: state oracle: %v", ErrInvalidState, err)
	}
	if !ok {
		return AuditToken{}, fmt.Errorf("%w: intent %s is not AUTHORIZED", ErrInvalidState, h)
	}

	return AuditToken{intentHash: h, approverID: approverID, executedAt: req.Now}, nil
}

func callOracle(ctx context.Context, o Oracle, h intent.Hash) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("oracle panic: %v", r)
		}
	}()
	return o.IsAuthorized(ctx, h)
}

func callRegistry(ctx context.Context, reg Registry, id [32]byte) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("registry panic: %v", r)
		}
	}()
	return reg.IsRegistered(ctx, id)
}

// report logs and audits a finished decision. Audit sink failures are logged
// and never change the decision.
func (g *Gate) report(ctx context.Context, req Request, tok AuditToken, err error) {
	resource := "intent:" + hex.EncodeToString(req.IntentHash)

	if err == nil {
		id := tok.ApproverID()
		g.logger.InfoContext(ctx, "intent execution granted",
			"intent_hash", tok.IntentHash().String(),
			"approver_id", hex.EncodeToString(id[:]),
			"executed_at", tok.ExecutedAt(),
		)
		g.recordAudit(ctx, Granted, resource, map[string]interface{}{
			"approver_id": hex.EncodeToString(id[:]),
			"executed_at": tok.ExecutedAt(),
		})
		return
	}

	reason := ReasonOf(err)
	switch reason {
	case ReasonInvalidSignature:
		g.logger.WarnContext(ctx, "intent execution denied", "reason", reason.String(), "alarm", true,
			"intent_hash", hex.EncodeToString(req.IntentHash), "error", err)
	case ReasonInvalidState:
		g.logger.InfoContext(ctx, "intent execution denied", "reason", reason.String(),
			"intent_hash", hex.EncodeToString(req.IntentHash), "error", err)
	default:
		// Caller bug; diagnostics go back to the caller, not to auditors.
		g.logger.DebugContext(ctx, "intent execution denied", "reason", reason.String(), "error", err)
		return
	}
	g.recordAudit(ctx, Denied, resource, map[string]interface{}{"reason": reason.String()})
}

func (g *Gate) recordAudit(ctx context.Context, outcome Outcome, resource string, meta map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "audit sink panic", "panic", r)
		}
	}()
	if err := g.audit.Record(ctx, audit.EventDecision, string(outcome), resource, meta); err != nil {
		g.logger.ErrorContext(ctx, "audit record failed", "error", err)
	}
}
