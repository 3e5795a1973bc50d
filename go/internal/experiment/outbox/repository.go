package outbox

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
	"github.com/mcdev12/marketlab/go/internal/models"
	"github.com/mcdev12/marketlab/go/internal/sqlutil"
)

//go:embed schema.sql
var schema string

// Repository stores outbox rows and session archives in Postgres through
// database/sql and lib/pq.
type Repository struct {
	db            *sql.DB
	notifyChannel string
}

// NewRepository returns a repository on db. When notifyChannel is set every
// insert also issues pg_notify on it so a listening worker wakes up early.
func NewRepository(db *sql.DB, notifyChannel string) *Repository {
	return &Repository{db: db, notifyChannel: notifyChannel}
}

// Migrate creates the outbox and archive tables if they are missing.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate outbox schema: %w", err)
	}
	return nil
}

// InsertEvent writes one event.
func (r *Repository) InsertEvent(ctx context.Context, event Event) error {
	return sqlutil.InTx(ctx, r.db, func(tx *sql.Tx) error {
		return r.insertEvent(ctx, tx, event)
	})
}

// InsertCompletion writes the completion event and the session archive in one
// transaction.
func (r *Repository) InsertCompletion(ctx context.Context, event Event, rec models.CompletionRecord) error {
	info, err := json.Marshal(rec.Info)
	if err != nil {
		return fmt.Errorf("marshal session info: %w", err)
	}
	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("marshal session history: %w", err)
	}

	const upsert = `
		INSERT INTO experiment_session_archive (code, info, history, forced_end, completed_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (code) DO UPDATE
		SET info = EXCLUDED.info,
		    history = EXCLUDED.history,
		    forced_end = EXCLUDED.forced_end,
		    completed_at = EXCLUDED.completed_at`

	return sqlutil.InTx(ctx, r.db, func(tx *sql.Tx) error {
		if err := r.insertEvent(ctx, tx, event); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, upsert, rec.SessionCode, info, history, rec.ForcedEnd, rec.CompletedAt); err != nil {
			return fmt.Errorf("upsert session archive: %w", err)
		}
		return nil
	})
}

func (r *Repository) insertEvent(ctx context.Context, tx *sql.Tx, event Event) error {
	const insert = `
		INSERT INTO experiment_outbox (id, session_code, event_type, payload, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := tx.ExecContext(ctx, insert,
		event.ID, event.SessionCode, event.EventType, event.Payload, event.Metadata, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	if r.notifyChannel != "" {
		if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, r.notifyChannel, event.ID.String()); err != nil {
			return fmt.Errorf("notify outbox channel: %w", err)
		}
	}
	return nil
}

// ClaimBatch locks up to limit unsent events, hands each to publish and marks
// the published ones sent. Rows locked by another worker are skipped.
func (r *Repository) ClaimBatch(ctx context.Context, limit int, publish PublishFunc) (sent, failed int, err error) {
	const fetch = `
		SELECT id, session_code, event_type, payload, metadata, created_at
		FROM experiment_outbox
		WHERE sent_at IS NULL
		ORDER BY created_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`
	const mark = `UPDATE experiment_outbox SET sent_at = now() WHERE id = ANY($1::uuid[])`

	err = sqlutil.InTx(ctx, r.db, func(tx *sql.Tx) error {
		batch, err := scanEvents(tx.QueryContext(ctx, fetch, limit))
		if err != nil {
			return err
		}

		ids := make([]string, 0, len(batch))
		for _, e := range batch {
			if err := publish(ctx, e); err != nil {
				failed++
				continue
			}
			ids = append(ids, e.ID.String())
		}
		if len(ids) == 0 {
			return nil
		}
		if _, err := tx.ExecContext(ctx, mark, pq.Array(ids)); err != nil {
			return fmt.Errorf("mark events sent: %w", err)
		}
		sent = len(ids)
		return nil
	})
	if err != nil {
		return 0, failed, err
	}
	return sent, failed, nil
}

func scanEvents(rows *sql.Rows, err error) ([]Event, error) {
	if err != nil {
		return nil, fmt.Errorf("fetch unsent events: %w", err)
	}
	defer rows.Close()

	var batch []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.SessionCode, &e.EventType, &e.Payload, &e.Metadata, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		batch = append(batch, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	return batch, nil
}

// CountUnsent returns the number of events waiting to be published.
func (r *Repository) CountUnsent(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM experiment_outbox WHERE sent_at IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count unsent events: %w", err)
	}
	return n, nil
}

// Ping checks the database connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
