package auth

import (
	"context"
	"errors"
)

type contextKey string

const (
	principalKey contextKey = "principal"
)

// ErrNoPrincipal is returned when no authenticated principal is attached.
var ErrNoPrincipal = errors.New("no principal in context")

// WithPrincipal attaches a Principal to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal retrieves the Principal from the context.
func GetPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok {
		return nil, ErrNoPrincipal
	}
	return p, nil
}

// ActorID returns the principal ID, or "system" for unauthenticated calls.
func ActorID(ctx context.Context) string {
	if p, err := GetPrincipal(ctx); err == nil {
		return p.GetID()
	}
	return "system"
}
