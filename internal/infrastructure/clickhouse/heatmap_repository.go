// Package clickhouse stores heatmap samples in a ClickHouse MergeTree table.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

// Config holds connection settings
type Config struct {
	Addr     []string
	Database string
	Username string
	Password string
}

// Open connects over the native protocol and pings the server
func Open(ctx context.Context, cfg Config) (driver.Conn, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{{Name: "marketpulse-collector", Version: "1.0.0"}},
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

const createHeatmapTable = `
	CREATE TABLE IF NOT EXISTS heatmap_points (
		page         String,
		element      String,
		x            Float64,
		y            Float64,
		clicks       UInt32,
		hovers       UInt32,
		scroll_depth Float64,
		received_at  DateTime64(3) DEFAULT now64(3)
	) ENGINE = MergeTree
	ORDER BY (page, element, received_at)
`

// HeatmapRepository implements analytics.HeatmapRepository
type HeatmapRepository struct {
	conn driver.Conn
}

// NewHeatmapRepository creates a new heatmap repository
func NewHeatmapRepository(conn driver.Conn) *HeatmapRepository {
	return &HeatmapRepository{conn: conn}
}

// Migrate creates the heatmap table if it does not exist
func (r *HeatmapRepository) Migrate(ctx context.Context) error {
	if err := r.conn.Exec(ctx, createHeatmapTable); err != nil {
		return fmt.Errorf("failed to create heatmap table: %w", err)
	}
	return nil
}

// InsertBatch stores the points recorded on page
func (r *HeatmapRepository) InsertBatch(ctx context.Context, page string, points []analytics.HeatmapPoint) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := r.conn.PrepareBatch(ctx, `
		INSERT INTO heatmap_points (page, element, x, y, clicks, hovers, scroll_depth)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch insert: %w", err)
	}

	for _, p := range points {
		if err := batch.Append(page, p.Element, p.X, p.Y, p.Clicks, p.Hovers, p.ScrollDepth); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append point for %s: %w", p.Element, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

// Aggregate returns per-selector totals for page, most clicked first
func (r *HeatmapRepository) Aggregate(ctx context.Context, page string, limit int) ([]analytics.HeatmapCell, error) {
	if limit <= 0 {
		limit = 100
	}

	var cells []analytics.HeatmapCell
	err := r.conn.Select(ctx, &cells, `
		SELECT
			element,
			sum(toUInt64(clicks)) AS clicks,
			sum(toUInt64(hovers)) AS hovers,
			avg(x) AS avg_x,
			avg(y) AS avg_y,
			max(scroll_depth) AS scroll_depth
		FROM heatmap_points
		WHERE page = ?
		GROUP BY element
		ORDER BY clicks DESC, hovers DESC, element ASC
		LIMIT ?
	`, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate heatmap for %s: %w", page, err)
	}
	return cells, nil
}

// DeleteBefore removes points received before cutoff. ClickHouse applies the
// delete as an asynchronous mutation, so the count is taken beforehand.
func (r *HeatmapRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count uint64
	if err := r.conn.QueryRow(ctx, `SELECT count() FROM heatmap_points WHERE received_at < ?`, cutoff).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count expired heatmap points: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	if err := r.conn.Exec(ctx, `ALTER TABLE heatmap_points DELETE WHERE received_at < ?`, cutoff); err != nil {
		return 0, fmt.Errorf("failed to delete heatmap points: %w", err)
	}
	return int64(count), nil
}
