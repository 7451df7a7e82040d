package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	// timeLayout is fixed-width so created_at sorts lexically.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Transition is one recorded lifecycle change.
type Transition struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	From      State     `json:"from"`
	To        State     `json:"to"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TransitionRepository stores and retrieves device lifecycle history.
//
// Implementations must be thread-safe and use UTC timestamps.
type TransitionRepository interface {
	// RecordTransition records a device moving between states.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID: Unique device identifier
	//   - from, to: Lifecycle states before and after
	//   - reason: Short free-text cause ("integrated", "retired", ...)
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordTransition(ctx context.Context, deviceID string, from, to State, reason string) error

	// GetHistory returns recent transitions for the device, newest first.
	GetHistory(ctx context.Context, deviceID string, limit int) ([]Transition, error)
}

// SQLiteTransitionRepository implements TransitionRepository using SQLite.
type SQLiteTransitionRepository struct {
	db *sql.DB
}

// NewSQLiteTransitionRepository creates a new SQLite transition repository.
func NewSQLiteTransitionRepository(db *sql.DB) *SQLiteTransitionRepository {
	return &SQLiteTransitionRepository{db: db}
}

// RecordTransition inserts a new transition row.
func (r *SQLiteTransitionRepository) RecordTransition(ctx context.Context, deviceID string, from, to State, reason string) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO device_transitions (device_id, from_state, to_state, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		deviceID, string(from), string(to), reason,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting transition: %w", err)
	}
	return nil
}

// GetHistory returns recent transitions for a device, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID: Unique device identifier
//   - limit: Maximum entries to return (default 50, max 200)
func (r *SQLiteTransitionRepository) GetHistory(ctx context.Context, deviceID string, limit int) ([]Transition, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, from_state, to_state, reason, created_at
		FROM device_transitions
		WHERE device_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying transitions: %w", err)
	}
	defer rows.Close()

	entries := make([]Transition, 0, limit)
	for rows.Next() {
		var (
			t         Transition
			from, to  string
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.DeviceID, &from, &to, &t.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning transition: %w", err)
		}
		t.From, t.To = State(from), State(to)
		t.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		entries = append(entries, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transitions: %w", err)
	}
	return entries, nil
}

// PruneHistory deletes transitions older than the given duration and
// returns the number of rows removed.
func (r *SQLiteTransitionRepository) PruneHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("olderThan must be positive")
	}

	cutoff := time.Now().UTC().Add(-olderThan).Format(timeLayout)
	result, err := r.db.ExecContext(ctx, "DELETE FROM device_transitions WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting transitions: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}
