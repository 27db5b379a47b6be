// Package audit records workflow transitions in an append-only event log.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// Event is one row of the transfer event log.
type Event struct {
	ID         int64           `json:"id"`
	EventType  string          `json:"eventType"`
	TransferID string          `json:"transferId"`
	HospitalID string          `json:"hospitalId"`
	ActorID    string          `json:"actorId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Log is the sink transitions are written to.
type Log interface {
	Insert(ctx context.Context, ev Event) error
	ListForTransfer(ctx context.Context, transferID string) ([]Event, error)
}

// Nop discards every event. It is used when no audit database is configured.
type Nop struct{}

func (Nop) Insert(context.Context, Event) error { return nil }

func (Nop) ListForTransfer(context.Context, string) ([]Event, error) { return nil, nil }

// Memory keeps events in process.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Insert(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) ListForTransfer(_ context.Context, transferID string) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.TransferID == transferID {
			out = append(out, ev)
		}
	}
	return out, nil
}
