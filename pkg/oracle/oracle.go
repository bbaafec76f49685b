// Package oracle provides read-side adapters that answer the gate's single
// question: is this intent currently AUTHORIZED in the ledger?
package oracle

import (
	"context"
	"errors"
	"sync"

	"github.com/Mindburn-Labs/helm-rem/pkg/intent"
)

var (
	// ErrNotFound is returned by State lookups for unknown intents.
	ErrNotFound = errors.New("intent not found")
	// ErrUnknownState is returned when the ledger holds a tag outside the
	// intent.State enumeration.
	ErrUnknownState = errors.New("unknown intent state tag")
)

// Pinger is implemented by backends that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Static is an in-memory allowlist. Intents are denied unless explicitly
// authorized.
type Static struct {
	mu         sync.RWMutex
	authorized map[intent.Hash]struct{}
}

// NewStatic creates an allowlist holding the given hashes.
func NewStatic(hashes ...intent.Hash) *Static {
	s := &Static{authorized: make(map[intent.Hash]struct{}, len(hashes))}
	for _, h := range hashes {
		s.authorized[h] = struct{}{}
	}
	return s
}

func (s *Static) Authorize(h intent.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized[h] = struct{}{}
}

func (s *Static) Revoke(h intent.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.authorized, h)
}

func (s *Static) IsAuthorized(_ context.Context, h intent.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.authorized[h]
	return ok, nil
}

func (s *Static) Ping(context.Context) error { return nil }
