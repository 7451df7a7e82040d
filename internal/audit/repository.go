// Package audit records every integration decision in the integration_log
// table so operators can review how new devices were placed.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcomes stored in integration_log.outcome.
const (
	OutcomeMatched   = "matched"
	OutcomeUnmatched = "unmatched"
	OutcomeDeferred  = "deferred"
)

// timeLayout sorts lexically in chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Candidate is one candidate class and its vote total.
type Candidate struct {
	Class string `json:"class"`
	Score int    `json:"score"`
}

// Record is one integration decision.
type Record struct {
	ID          string      `json:"id"`
	DeviceID    string      `json:"device_id"`
	Class       string      `json:"class"`
	Outcome     string      `json:"outcome"`
	Candidates  []Candidate `json:"candidate_classes"`
	WinnerID    string      `json:"winner_id,omitempty"`
	WinnerClass string      `json:"winner_class,omitempty"`
	Distance    *float64    `json:"distance,omitempty"`
	Replicated  int         `json:"replicated"`
	RetiredID   string      `json:"retired_id,omitempty"`
	DurationMS  int64       `json:"duration_ms"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Filter controls which records to return.
type Filter struct {
	DeviceID string // optional: decisions about one device
	Outcome  string // optional: matched, unmatched or deferred
	Limit    int    // default 50, max 200
	Offset   int    // pagination offset
}

// ListResult contains a page of records.
type ListResult struct {
	Records []Record `json:"records"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

// Repository defines the interface for integration log operations.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores integration records in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new integration log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a record. The ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	switch rec.Outcome {
	case OutcomeMatched, OutcomeUnmatched, OutcomeDeferred:
	default:
		return fmt.Errorf("%w: outcome %q", ErrInvalidRecord, rec.Outcome)
	}
	if rec.DeviceID == "" || rec.Class == "" {
		return fmt.Errorf("%w: device id and class are required", ErrInvalidRecord)
	}
	if rec.ID == "" {
		rec.ID = "int-" + uuid.NewString()[:8]
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	candidates := rec.Candidates
	if candidates == nil {
		candidates = []Candidate{}
	}
	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("marshalling candidate classes: %w", err)
	}

	var distance any
	if rec.Distance != nil {
		distance = *rec.Distance
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO integration_log
		 (id, device_id, class, outcome, candidate_classes, winner_id, winner_class,
		  distance, replicated, retired_id, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DeviceID, rec.Class, rec.Outcome, string(candidatesJSON),
		nullableString(rec.WinnerID), nullableString(rec.WinnerClass),
		distance, rec.Replicated, nullableString(rec.RetiredID),
		rec.DurationMS, rec.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting integration record: %w", err)
	}

	return nil
}

// nullableString returns nil for empty strings so nullable TEXT columns
// stay NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns records matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 { //nolint:mnd // max page size
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.DeviceID != "" {
		conditions = append(conditions, "device_id = ?")
		args = append(args, filter.DeviceID)
	}
	if filter.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		args = append(args, filter.Outcome)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM integration_log %s", where) //nolint:gosec // WHERE built from parameterised conditions
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting integration records: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions
		`SELECT id, device_id, class, outcome, candidate_classes, winner_id, winner_class,
		        distance, replicated, retired_id, duration_ms, created_at
		 FROM integration_log %s ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying integration records: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating integration records: %w", err)
	}

	return &ListResult{
		Records: records,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var rec Record
	var candidatesJSON, createdAt string
	var winnerID, winnerClass, retiredID sql.NullString
	var distance sql.NullFloat64

	if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.Class, &rec.Outcome, &candidatesJSON,
		&winnerID, &winnerClass, &distance, &rec.Replicated, &retiredID,
		&rec.DurationMS, &createdAt); err != nil {
		return Record{}, fmt.Errorf("scanning integration record: %w", err)
	}

	rec.WinnerID = winnerID.String
	rec.WinnerClass = winnerClass.String
	rec.RetiredID = retiredID.String
	if distance.Valid {
		d := distance.Float64
		rec.Distance = &d
	}
	if err := json.Unmarshal([]byte(candidatesJSON), &rec.Candidates); err != nil {
		return Record{}, fmt.Errorf("decoding candidate classes of %s: %w", rec.ID, err)
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parsing integration record timestamp %q: %w", createdAt, err)
	}
	rec.CreatedAt = t
	return rec, nil
}
