package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
	"github.com/victoralfred/marketpulse/internal/testutil"
)

func TestHeatmapRepository(t *testing.T) {
	addr := testutil.ClickHouseAddr(t)
	ctx := context.Background()

	conn, err := Open(ctx, Config{
		Addr:     []string{addr},
		Database: testutil.ClickHouseDatabase,
		Username: testutil.ClickHouseUser,
		Password: testutil.ClickHousePassword,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	repo := NewHeatmapRepository(conn)
	require.NoError(t, repo.Migrate(ctx))

	require.NoError(t, repo.InsertBatch(ctx, "/pricing", []analytics.HeatmapPoint{
		{Element: "#buy", X: 10, Y: 20, Clicks: 1},
		{Element: "#buy", X: 30, Y: 40, Clicks: 1},
		{Element: ".nav > a", X: 5, Y: 5, Hovers: 1},
		{Element: ".nav > a", X: 5, Y: 5, ScrollDepth: 0.75},
	}))
	require.NoError(t, repo.InsertBatch(ctx, "/home", []analytics.HeatmapPoint{
		{Element: "#buy", X: 1, Y: 1, Clicks: 1},
	}))
	require.NoError(t, repo.InsertBatch(ctx, "/home", nil))

	cells, err := repo.Aggregate(ctx, "/pricing", 10)
	require.NoError(t, err)
	require.Len(t, cells, 2)

	assert.Equal(t, "#buy", cells[0].Element)
	assert.Equal(t, uint64(2), cells[0].Clicks)
	assert.InDelta(t, 20.0, cells[0].AvgX, 0.001)
	assert.InDelta(t, 30.0, cells[0].AvgY, 0.001)

	assert.Equal(t, ".nav > a", cells[1].Element)
	assert.Equal(t, uint64(1), cells[1].Hovers)
	assert.InDelta(t, 0.75, cells[1].ScrollDepth, 0.001)

	cells, err = repo.Aggregate(ctx, "/missing", 10)
	require.NoError(t, err)
	assert.Empty(t, cells)

	// Every point was received just now
	deleted, err := repo.DeleteBefore(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, deleted)

	deleted, err = repo.DeleteBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
}
