// Package audit records structured audit events for gate decisions and
// custodian key changes.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/helm-rem/pkg/auth"
)

// EventType defines the category of the audit event.
type EventType string

const (
	EventDecision EventType = "DECISION"
	EventTrust    EventType = "TRUST"
	EventSystem   EventType = "SYSTEM"
)

// Event represents a structured audit record.
type Event struct {
	ID        string                 `json:"id"`
	RequestID string                 `json:"request_id,omitempty"`
	ActorID   string                 `json:"actor_id"`
	Type      EventType              `json:"type"`
	Action    string                 `json:"action"`
	Resource  string                 `json:"resource"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Logger defines the interface for recording audit events.
type Logger interface {
	Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, EventType, string, string, map[string]interface{}) error {
	return nil
}

func newEvent(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) Event {
	return Event{
		ID:        uuid.New().String(),
		RequestID: auth.GetRequestID(ctx),
		ActorID:   auth.ActorID(ctx),
		Type:      eventType,
		Action:    action,
		Resource:  resource,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}
}

// logger writes structured JSON lines to a configurable Writer.
type logger struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewLogger creates a Logger writing to os.Stdout.
func NewLogger() Logger {
	return NewLoggerWithWriter(os.Stdout)
}

// NewLoggerWithWriter creates a Logger writing to the given writer.
func NewLoggerWithWriter(w io.Writer) Logger {
	if w == nil {
		w = os.Stdout
	}
	return &logger{writer: w}
}

func (l *logger) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	event := newEvent(ctx, eventType, action, resource, metadata)

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Prefix with AUDIT: for easy filtering
	_, err = l.writer.Write(append([]byte("AUDIT: "), append(data, '\n')...))
	return err
}

// Multi fans an event out to several loggers. The first error wins but every
// logger is still called.
func Multi(loggers ...Logger) Logger {
	return multi(loggers)
}

type multi []Logger

func (m multi) Record(ctx context.Context, eventType EventType, action, resource string, metadata map[string]interface{}) error {
	var first error
	for _, l := range m {
		if err := l.Record(ctx, eventType, action, resource, metadata); err != nil && first == nil {
			first = err
		}
	}
	return first
}
