package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

const eventColumns = `id, name, category, action, label, value, metadata, session_id, user_id, timestamp`

// EventRepository implements analytics.EventRepository
type EventRepository struct {
	db *pgxpool.Pool
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *pgxpool.Pool) *EventRepository {
	return &EventRepository{db: db}
}

// StoreBatch inserts events in one round trip. Events already stored are
// skipped, so a batch re-sent by a retrying client is not duplicated.
func (r *EventRepository) StoreBatch(ctx context.Context, events []*analytics.Event) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO analytics_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, e := range events {
		var metadata []byte
		if e.Metadata != nil {
			var err error
			metadata, err = json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("failed to marshal metadata for event %s: %w", e.ID, err)
			}
		}
		batch.Queue(query,
			e.ID,
			e.Name,
			e.Category,
			nullString(e.Action),
			nullString(e.Label),
			e.Value,
			metadata,
			e.SessionID,
			nullString(e.UserID),
			e.Timestamp,
		)
	}

	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to store events: %w", err)
	}
	return nil
}

// List retrieves events matching the filter, newest first
func (r *EventRepository) List(ctx context.Context, filter analytics.EventFilter) ([]*analytics.Event, error) {
	where, args := buildWhereClause(filter)

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`
		SELECT %s
		FROM analytics_events %s
		ORDER BY timestamp DESC
		LIMIT $%d OFFSET $%d
	`, eventColumns, where, len(args)+1, len(args)+2)
	args = append(args, limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*analytics.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}
	return events, nil
}

// CountByName returns the number of stored events per event name
func (r *EventRepository) CountByName(ctx context.Context, filter analytics.EventFilter) (map[string]int64, error) {
	where, args := buildWhereClause(filter)

	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT name, COUNT(*)
		FROM analytics_events %s
		GROUP BY name
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[name] = count
	}
	return counts, rows.Err()
}

// DeleteBefore removes events older than cutoff and returns how many were removed
func (r *EventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM analytics_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func scanEvent(row pgx.Row) (*analytics.Event, error) {
	var (
		e             analytics.Event
		action, label *string
		userID        *string
		metadata      []byte
	)
	err := row.Scan(&e.ID, &e.Name, &e.Category, &action, &label, &e.Value, &metadata, &e.SessionID, &userID, &e.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}

	if action != nil {
		e.Action = *action
	}
	if label != nil {
		e.Label = *label
	}
	if userID != nil {
		e.UserID = *userID
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

func buildWhereClause(filter analytics.EventFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	if filter.SessionID != "" {
		add("session_id = $%d", filter.SessionID)
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if filter.Name != "" {
		add("name = $%d", filter.Name)
	}
	if filter.StartTime != nil {
		add("timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		add("timestamp <= $%d", *filter.EndTime)
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
