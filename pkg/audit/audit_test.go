package audit_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/helm-rem/pkg/audit"
	"github.com/Mindburn-Labs/helm-rem/pkg/auth"
)

func TestLogger_Record_WritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	err := logger.Record(context.Background(), audit.EventDecision, "granted", "intent:00ff", nil)
	require.NoError(t, err)

	output := buf.String()
	assert.True(t, strings.HasPrefix(output, "AUDIT: "))

	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(output, "AUDIT: "))), &event))

	assert.Equal(t, audit.EventDecision, event.Type)
	assert.Equal(t, "granted", event.Action)
	assert.Equal(t, "intent:00ff", event.Resource)
	assert.Equal(t, "system", event.ActorID)
	assert.Len(t, event.ID, 36)
}

func TestLogger_Record_PrincipalAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := audit.NewLoggerWithWriter(&buf)

	ctx := auth.WithPrincipal(context.Background(), &auth.BasePrincipal{ID: "ops-7"})
	ctx = auth.WithRequestID(ctx, "req-42")

	meta := map[string]interface{}{"reason": "InvalidState"}
	require.NoError(t, logger.Record(ctx, audit.EventDecision, "denied", "intent:ab", meta))

	var event audit.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(buf.String(), "AUDIT: "))), &event))
	assert.Equal(t, "ops-7", event.ActorID)
	assert.Equal(t, "req-42", event.RequestID)
	assert.Equal(t, "InvalidState", event.Metadata["reason"])
}

func TestChainLogger_VerifyAndTamper(t *testing.T) {
	chain := audit.NewChainLogger()
	ctx := context.Background()

	for _, action := range []string{"key_added", "granted", "denied"} {
		require.NoError(t, chain.Record(ctx, audit.EventDecision, action, "intent:00", map[string]interface{}{"n": action}))
	}

	entries := chain.Entries()
	require.Len(t, entries, 3)
	assert.Empty(t, entries[0].PrevHash)
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)
	assert.Equal(t, entries[2].Hash, chain.Head())
	require.NoError(t, audit.Verify(entries))

	entries[1].Event.Action = "granted-twice"
	err := audit.Verify(entries)
	assert.True(t, errors.Is(err, audit.ErrChainBroken))

	// Entries returns a copy.
	require.NoError(t, audit.Verify(chain.Entries()))
}

func TestChainLogger_DroppedEntryDetected(t *testing.T) {
	chain := audit.NewChainLogger()
	for i := 0; i < 3; i++ {
		require.NoError(t, chain.Record(context.Background(), audit.EventSystem, "tick", "", nil))
	}
	entries := chain.Entries()
	assert.ErrorIs(t, audit.Verify(append(entries[:1], entries[2:]...)), audit.ErrChainBroken)
}

func TestChainLogger_RetentionKeepsNewestWindow(t *testing.T) {
	ctx := context.Background()
	chain := audit.NewChainLoggerWithRetention(3)
	for i := 0; i < 10; i++ {
		require.NoError(t, chain.Record(ctx, audit.EventSystem, "tick", "", map[string]interface{}{"i": i}))
	}

	entries := chain.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(7), entries[0].Seq)
	assert.Equal(t, chain.Head(), entries[2].Hash)
	assert.Equal(t, uint64(10), chain.Len())
	require.NoError(t, audit.Verify(entries))
	require.NoError(t, chain.VerifyRetained(ctx))

	// A mid-chain window cannot pose as the genesis entry.
	entries[0].Seq = 0
	assert.ErrorIs(t, audit.Verify(entries), audit.ErrChainBroken)
}

type failingLogger struct{}

func (failingLogger) Record(context.Context, audit.EventType, string, string, map[string]interface{}) error {
	return errors.New("sink down")
}

func TestMulti_CallsEveryLogger(t *testing.T) {
	chain := audit.NewChainLogger()
	m := audit.Multi(failingLogger{}, chain)

	err := m.Record(context.Background(), audit.EventSystem, "startup", "", nil)
	assert.EqualError(t, err, "sink down")
	assert.Len(t, chain.Entries(), 1)
}
