package outbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Store is the storage side of the relay worker.
type Store interface {
	ClaimBatch(ctx context.Context, limit int, publish PublishFunc) (sent, failed int, err error)
	CountUnsent(ctx context.Context) (int, error)
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	MaxRetries   int
	RetryDelay   time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
		MaxRetries:   3,
		RetryDelay:   time.Second,
	}
}

// Worker relays unsent outbox events to a Publisher. It polls on an interval
// and also wakes up on every signal from the optional wake channel.
type Worker struct {
	store     Store
	publisher Publisher
	config    Config
	wake      <-chan struct{}

	processed atomic.Int64
	lastEvent atomic.Int64

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewWorker(store Store, publisher Publisher, cfg Config, wake <-chan struct{}) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	return &Worker{
		store:     store,
		publisher: publisher,
		config:    cfg,
		wake:      wake,
		stopChan:  make(chan struct{}),
	}
}

func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.wg.Add(1)
	go w.run(ctx)

	log.Info().
		Dur("poll_interval", w.config.PollInterval).
		Int("batch_size", w.config.BatchSize).
		Bool("notify", w.wake != nil).
		Msg("outbox worker started")
	return nil
}

func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("outbox worker not running")
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopChan)
	w.wg.Wait()

	log.Info().Int64("events_processed", w.processed.Load()).Msg("outbox worker stopped")
	return nil
}

// Running reports whether the worker loop is active.
func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		case <-w.wake:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce relays one batch and returns the number of events published.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	sent, failed, err := w.store.ClaimBatch(ctx, w.config.BatchSize, w.publishWithRetry)
	if err != nil {
		log.Error().Err(err).Msg("failed to process outbox batch")
		return 0
	}
	if sent == 0 && failed == 0 {
		return 0
	}

	if sent > 0 {
		w.processed.Add(int64(sent))
		w.lastEvent.Store(time.Now().UnixNano())
	}
	log.Info().
		Int("successful", sent).
		Int("failed", failed).
		Msg("processed outbox events")
	return sent
}

func (w *Worker) publishWithRetry(ctx context.Context, event Event) error {
	var lastErr error

	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(w.config.RetryDelay * time.Duration(attempt)):
			}
		}

		if err := w.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Str("event_id", event.ID.String()).
				Str("event_type", event.EventType).
				Int("attempt", attempt+1).
				Msg("failed to publish event, retrying")
			continue
		}
		return nil
	}

	log.Error().
		Err(lastErr).
		Str("event_id", event.ID.String()).
		Str("session_code", event.SessionCode).
		Msg("failed to publish event")
	return fmt.Errorf("failed after %d attempts: %w", w.config.MaxRetries+1, lastErr)
}

// Stats is a point-in-time view of the worker.
type Stats struct {
	EventsProcessed int64
	LastEventTime   time.Time
}

func (w *Worker) Stats() Stats {
	var last time.Time
	if ns := w.lastEvent.Load(); ns > 0 {
		last = time.Unix(0, ns)
	}
	return Stats{EventsProcessed: w.processed.Load(), LastEventTime: last}
}
