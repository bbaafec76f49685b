package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/helm-rem/pkg/canonicalize"
)

// ErrChainBroken is returned by Verify when an entry does not link to its
// predecessor or its hash does not match its content.
var ErrChainBroken = errors.New("audit chain broken")

// ChainEntry is an Event sealed into a hash chain.
type ChainEntry struct {
	Seq      uint64 `json:"seq"`
	Event    Event  `json:"event"`
	PrevHash string `json:"prev_hash"`
	Hash     string `json:"hash"`
}

type chainBody struct {
	Seq      uint64 `json:"seq"`
	Event    Event  `json:"event"`
	PrevHash string `json:"prev_hash"`
}

// ChainLogger keeps events in memory, each entry committing to the previous
// entry's hash over its JCS form. With a retention limit only the newest
// entries are kept; sequence numbers and the head hash continue across
// evictions.
type ChainLogger struct {
	mu      sync.RWMutex
	entries []ChainEntry
	next    uint64
	head    string
	retain  int
}

// NewChainLogger creates an empty chained log that keeps every entry.
func NewChainLogger() *ChainLogger {
	return &ChainLogger{}
}

// NewChainLoggerWithRetention keeps at most retain entries. retain <= 0 keeps
// everything.
func NewChainLoggerWithRetention(retain int) *ChainLogger {
	return &ChainLogger{retain: retain}
}

func (c *ChainLogger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	event := newEvent(ctx, eventType, action, resource, metadata)

	c.mu.Lock()
	defer c.mu.Unlock()

	body := chainBody{Seq: c.next, Event: event, PrevHash: c.head}
	h, err := canonicalize.CanonicalHash(body)
	if err != nil {
		return fmt.Errorf("seal audit entry: %w", err)
	}
	c.entries = append(c.entries, ChainEntry{
		Seq:      body.Seq,
		Event:    event,
		PrevHash: body.PrevHash,
		Hash:     h,
	})
	// Compact once the slice doubles so eviction stays amortized O(1).
	if c.retain > 0 && len(c.entries) >= 2*c.retain {
		c.entries = append(make([]ChainEntry, 0, 2*c.retain), c.entries[len(c.entries)-c.retain:]...)
	}
	c.next++
	c.head = h
	return nil
}

// Entries returns a copy of the retained entries, oldest first.
func (c *ChainLogger) Entries() []ChainEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	window := c.entries
	if c.retain > 0 && len(window) > c.retain {
		window = window[len(window)-c.retain:]
	}
	out := make([]ChainEntry, len(window))
	copy(out, window)
	return out
}

// Head returns the hash of the latest entry, or "" for an empty log.
func (c *ChainLogger) Head() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head
}

// Len returns the number of entries ever sealed, including evicted ones.
func (c *ChainLogger) Len() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.next
}

// VerifyRetained checks the retained window and that it ends at the head.
func (c *ChainLogger) VerifyRetained(context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := Verify(c.entries); err != nil {
		return err
	}
	if n := len(c.entries); n > 0 && c.entries[n-1].Hash != c.head {
		return fmt.Errorf("%w: head mismatch", ErrChainBroken)
	}
	return nil
}

// Verify recomputes every link in a contiguous run of entries. The run may
// start mid-chain; an entry with sequence 0 must have no predecessor.
func Verify(entries []ChainEntry) error {
	if len(entries) == 0 {
		return nil
	}
	first := entries[0].Seq
	prev := entries[0].PrevHash
	if first == 0 && prev != "" {
		return fmt.Errorf("%w at seq 0: genesis has a predecessor", ErrChainBroken)
	}
	for i, e := range entries {
		if e.Seq != first+uint64(i) || e.PrevHash != prev {
			return fmt.Errorf("%w at seq %d: bad link", ErrChainBroken, e.Seq)
		}
		h, err := canonicalize.CanonicalHash(chainBody{Seq: e.Seq, Event: e.Event, PrevHash: e.PrevHash})
		if err != nil {
			return fmt.Errorf("%w at seq %d: %v", ErrChainBroken, e.Seq, err)
		}
		if h != e.Hash {
			return fmt.Errorf("%w at seq %d: hash mismatch", ErrChainBroken, e.Seq)
		}
		prev = e.Hash
	}
	return nil
}
