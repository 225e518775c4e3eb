package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"smartherbridge/internal/infrastructure/database"
)

const (
	defaultLimit = 50
	maxLimit     = 200
)

// ErrInvalidModule is returned when a plant or module id is missing.
var ErrInvalidModule = errors.New("history: plant and module ids are required")

// Entry is one recorded thermostat status.
type Entry struct {
	ID        int64           `json:"id"`
	PlantID   string          `json:"plant_id"`
	ModuleID  string          `json:"module_id"`
	Status    json.RawMessage `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// Repository stores thermostat status summaries in SQLite.
//
// Recording is best effort at the call sites: a failed insert degrades
// history, never the bridge itself.
type Repository struct {
	db *database.DB
}

// NewRepository creates a repository over an open history database.
func NewRepository(db *database.DB) *Repository {
	return &Repository{db: db}
}

// Record inserts a status entry for a thermostat module. The status value
// is marshalled to JSON as stored.
func (r *Repository) Record(ctx context.Context, plantID, moduleID string, status any) error {
	if plantID == "" || moduleID == "" {
		return ErrInvalidModule
	}

	statusJSON, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshalling status: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		"INSERT INTO status_history (plant_id, module_id, status) VALUES (?, ?, ?)",
		plantID,
		moduleID,
		string(statusJSON),
	)
	if err != nil {
		return fmt.Errorf("inserting status history: %w", err)
	}

	return nil
}

// Recent returns the latest entries for a module, newest first.
// Limit defaults to 50 and is capped at 200.
func (r *Repository) Recent(ctx context.Context, plantID, moduleID string, limit int) ([]Entry, error) {
	if plantID == "" || moduleID == "" {
		return nil, ErrInvalidModule
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, plant_id, module_id, status, created_at
		 FROM status_history
		 WHERE plant_id = ? AND module_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		plantID,
		moduleID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying status history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var entry Entry
		var statusJSON string
		var createdAt string

		if err := rows.Scan(&entry.ID, &entry.PlantID, &entry.ModuleID, &statusJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning status history: %w", err)
		}

		entry.Status = json.RawMessage(statusJSON)
		entry.CreatedAt, err = parseTimestamp(createdAt)
		if err != nil {
			return nil, err
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating status history: %w", err)
	}

	return entries, nil
}

// Prune deletes entries older than the given retention duration and
// reports how many rows were removed.
func (r *Repository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM status_history WHERE created_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting status history: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}

	return rowsAffected, nil
}

// parseTimestamp parses a created_at value stored by SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("created_at is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02T15:04:05Z", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing created_at: %w", err)
}
