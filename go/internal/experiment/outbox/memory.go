package outbox

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mcdev12/marketlab/go/internal/models"
)

// MemoryStore keeps outbox rows and archives in process. It backs the
// memory storage mode and tests.
type MemoryStore struct {
	mu       sync.Mutex
	events   []Event
	archives map[string]models.SessionArchive
	notify   chan struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		archives: make(map[string]models.SessionArchive),
		notify:   make(chan struct{}, 1),
	}
}

func (m *MemoryStore) InsertEvent(_ context.Context, event Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	m.wake()
	return nil
}

func (m *MemoryStore) InsertCompletion(_ context.Context, event Event, rec models.CompletionRecord) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.archives[rec.SessionCode] = models.SessionArchive{
		Info:        rec.Info,
		CompletedAt: rec.CompletedAt,
		History:     append([]models.RoundResult(nil), rec.History...),
	}
	m.mu.Unlock()
	m.wake()
	return nil
}

func (m *MemoryStore) FinishedSession(_ context.Context, code string) (*models.SessionArchive, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	archive, ok := m.archives[code]
	if !ok {
		return nil, fmt.Errorf("%w: no archive for session %s", models.ErrNotFound, code)
	}
	return &archive, nil
}

// ClaimBatch publishes up to limit unsent events in insertion order.
func (m *MemoryStore) ClaimBatch(ctx context.Context, limit int, publish PublishFunc) (sent, failed int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if sent+failed >= limit {
			break
		}
		e := &m.events[i]
		if e.SentAt != nil {
			continue
		}
		if err := publish(ctx, *e); err != nil {
			failed++
			continue
		}
		now := time.Now().UTC()
		e.SentAt = &now
		sent++
	}
	return sent, failed, nil
}

func (m *MemoryStore) CountUnsent(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.SentAt == nil {
			n++
		}
	}
	return n, nil
}

// Events returns a copy of every stored event.
func (m *MemoryStore) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Notifications fires after inserts. Sends are dropped while a wakeup is
// already pending.
func (m *MemoryStore) Notifications() <-chan struct{} {
	return m.notify
}

func (m *MemoryStore) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}
