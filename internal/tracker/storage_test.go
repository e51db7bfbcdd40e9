package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("expired entries are removed", func(t *testing.T) {
		storage := NewMemoryStorage()
		now := base
		storage.now = func() time.Time { return now }

		require.NoError(t, storage.Set(ctx, "session", "s1", time.Minute))
		value, err := storage.Get(ctx, "session")
		require.NoError(t, err)
		assert.Equal(t, "s1", value)

		now = base.Add(time.Minute)
		_, err = storage.Get(ctx, "session")
		assert.ErrorIs(t, err, analytics.ErrNotFound)
		assert.NotContains(t, storage.items, "session")
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		storage := NewMemoryStorage()
		now := base
		storage.now = func() time.Time { return now }

		require.NoError(t, storage.Set(ctx, "profile", "{}", 0))
		now = base.Add(24 * 365 * time.Hour)
		value, err := storage.Get(ctx, "profile")
		require.NoError(t, err)
		assert.Equal(t, "{}", value)
	})

	t.Run("refresh during expiry is kept", func(t *testing.T) {
		storage := NewMemoryStorage()
		now := base
		refresh := false
		storage.now = func() time.Time {
			if refresh {
				// another caller renews the key between the read and write locks
				refresh = false
				require.NoError(t, storage.Set(ctx, "session", "s2", time.Hour))
			}
			return now
		}

		require.NoError(t, storage.Set(ctx, "session", "s1", time.Minute))
		now = base.Add(2 * time.Minute)
		refresh = true

		value, err := storage.Get(ctx, "session")
		require.NoError(t, err)
		assert.Equal(t, "s2", value)

		value, err = storage.Get(ctx, "session")
		require.NoError(t, err)
		assert.Equal(t, "s2", value)
	})

	t.Run("delete", func(t *testing.T) {
		storage := NewMemoryStorage()
		require.NoError(t, storage.Set(ctx, "session", "s1", 0))
		require.NoError(t, storage.Delete(ctx, "session"))
		_, err := storage.Get(ctx, "session")
		assert.ErrorIs(t, err, analytics.ErrNotFound)
	})
}
