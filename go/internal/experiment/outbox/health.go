package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type HealthStatus struct {
	Healthy         bool      `json:"healthy"`
	LastEventTime   time.Time `json:"last_event_time"`
	EventsProcessed int64     `json:"events_processed"`
	PendingEvents   int       `json:"pending_events"`
	StoreConnected  bool      `json:"store_connected"`
	NATSConnected   *bool     `json:"nats_connected,omitempty"`
	WorkerRunning   bool      `json:"worker_running"`
	Errors          []string  `json:"errors"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

type connectionState interface {
	Connected() bool
}

// HealthChecker reports on the relay worker, its store and its publisher.
type HealthChecker struct {
	worker       *Worker
	store        Store
	publisher    Publisher
	threshold    time.Duration // How long pending events may wait without progress
	pendingAlarm int
}

func NewHealthChecker(worker *Worker, store Store, publisher Publisher, threshold time.Duration) *HealthChecker {
	return &HealthChecker{
		worker:       worker,
		store:        store,
		publisher:    publisher,
		threshold:    threshold,
		pendingAlarm: 1000,
	}
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{Healthy: true, Errors: []string{}}

	stats := h.worker.Stats()
	status.EventsProcessed = stats.EventsProcessed
	status.LastEventTime = stats.LastEventTime
	status.WorkerRunning = h.worker.Running()
	if !status.WorkerRunning {
		status.Healthy = false
		status.Errors = append(status.Errors, "worker not running")
	}

	status.StoreConnected = true
	if p, ok := h.store.(pinger); ok {
		if err := p.Ping(ctx); err != nil {
			status.StoreConnected = false
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		}
	}

	if c, ok := h.publisher.(connectionState); ok {
		connected := c.Connected()
		status.NATSConnected = &connected
		if !connected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if status.StoreConnected {
		pending, err := h.store.CountUnsent(ctx)
		if err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("failed to count pending events: %v", err))
		} else {
			status.PendingEvents = pending
			if pending > h.pendingAlarm {
				status.Errors = append(status.Errors, fmt.Sprintf("high pending event count: %d", pending))
			}
		}
	}

	if status.PendingEvents > 0 && !status.LastEventTime.IsZero() {
		if since := time.Since(status.LastEventTime); since > h.threshold {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("no events processed for %s", since.Round(time.Second)))
		}
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
