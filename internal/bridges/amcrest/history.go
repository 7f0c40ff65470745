package amcrest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// History row limits.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// historyTimeLayout is fixed width so stored timestamps sort as text.
const historyTimeLayout = "2006-01-02T15:04:05.000000000Z"

// AvailabilityRecord is one availability transition of a camera.
type AvailabilityRecord struct {
	ID         string    `json:"id"`
	Camera     string    `json:"camera"`
	Available  bool      `json:"available"`
	Reason     string    `json:"reason,omitempty"`
	Errors     int       `json:"errors"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventRecord is one event received from a camera's event stream.
type EventRecord struct {
	ID         string         `json:"id"`
	Camera     string         `json:"camera"`
	Code       string         `json:"code"`
	Payload    map[string]any `json:"payload,omitempty"`
	Start      bool           `json:"start"`
	ReceivedAt time.Time      `json:"received_at"`
}

// HistoryRepository stores availability transitions and camera events in
// SQLite. The tables are created by the camera_history migration.
type HistoryRepository struct {
	db *sql.DB
}

// NewHistoryRepository creates a repository over an open database.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// RecordAvailability inserts an availability transition. ID and
// OccurredAt are generated if empty.
func (r *HistoryRepository) RecordAvailability(ctx context.Context, rec *AvailabilityRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO camera_availability (id, camera, available, reason, errors, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Camera, boolToInt(rec.Available), rec.Reason, rec.Errors,
		rec.OccurredAt.UTC().Format(historyTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting availability record: %w", err)
	}
	return nil
}

// RecordEvent inserts a camera event. ID and ReceivedAt are generated if empty.
func (r *HistoryRepository) RecordEvent(ctx context.Context, rec *EventRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}

	payload := []byte("{}")
	if rec.Payload != nil {
		b, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("marshalling event payload: %w", err)
		}
		payload = b
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO camera_events (id, camera, code, payload, start, received_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Camera, rec.Code, string(payload), boolToInt(rec.Start),
		rec.ReceivedAt.UTC().Format(historyTimeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting event record: %w", err)
	}
	return nil
}

// RecentAvailability returns the newest availability transitions for
// camera, most recent first. limit <= 0 selects the default page size.
func (r *HistoryRepository) RecentAvailability(ctx context.Context, camera string, limit int) ([]AvailabilityRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, camera, available, reason, errors, occurred_at
		 FROM camera_availability
		 WHERE camera = ?
		 ORDER BY occurred_at DESC, rowid DESC
		 LIMIT ?`,
		camera, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying availability history: %w", err)
	}
	defer rows.Close()

	var records []AvailabilityRecord
	for rows.Next() {
		var rec AvailabilityRecord
		var available int
		var occurredAt string
		if err := rows.Scan(&rec.ID, &rec.Camera, &available, &rec.Reason, &rec.Errors, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning availability record: %w", err)
		}
		rec.Available = available == 1
		rec.OccurredAt, err = time.Parse(historyTimeLayout, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing occurred_at: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating availability history: %w", err)
	}
	return records, nil
}

// RecentEvents returns the newest events for camera, most recent first.
func (r *HistoryRepository) RecentEvents(ctx context.Context, camera string, limit int) ([]EventRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, camera, code, payload, start, received_at
		 FROM camera_events
		 WHERE camera = ?
		 ORDER BY received_at DESC, rowid DESC
		 LIMIT ?`,
		camera, clampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying event history: %w", err)
	}
	defer rows.Close()

	var records []EventRecord
	for rows.Next() {
		var rec EventRecord
		var payload, receivedAt string
		var start int
		if err := rows.Scan(&rec.ID, &rec.Camera, &rec.Code, &payload, &start, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning event record: %w", err)
		}
		rec.Start = start == 1
		if err := json.Unmarshal([]byte(payload), &rec.Payload); err != nil {
			return nil, fmt.Errorf("unmarshalling event payload: %w", err)
		}
		rec.ReceivedAt, err = time.Parse(historyTimeLayout, receivedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing received_at: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating event history: %w", err)
	}
	return records, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultHistoryLimit
	case limit > maxHistoryLimit:
		return maxHistoryLimit
	default:
		return limit
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
