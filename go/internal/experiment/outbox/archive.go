package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/marketlab/go/internal/models"
)

// ArchiveReader loads finished sessions for read-only rejoins.
type ArchiveReader struct {
	pool *pgxpool.Pool
}

func NewArchiveReader(pool *pgxpool.Pool) *ArchiveReader {
	return &ArchiveReader{pool: pool}
}

// FinishedSession returns the archive stored for code, or an error wrapping
// models.ErrNotFound.
func (a *ArchiveReader) FinishedSession(ctx context.Context, code string) (*models.SessionArchive, error) {
	var (
		info, history []byte
		completedAt   time.Time
	)
	err := a.pool.QueryRow(ctx,
		`SELECT info, history, completed_at FROM experiment_session_archive WHERE code = $1`, code,
	).Scan(&info, &history, &completedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no archive for session %s", models.ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("load session archive: %w", err)
	}

	archive := &models.SessionArchive{CompletedAt: completedAt}
	if err := json.Unmarshal(info, &archive.Info); err != nil {
		return nil, fmt.Errorf("decode archived session info: %w", err)
	}
	if err := json.Unmarshal(history, &archive.History); err != nil {
		return nil, fmt.Errorf("decode archived history: %w", err)
	}
	return archive, nil
}
