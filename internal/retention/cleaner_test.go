package retention

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Woe-Notify/internal/storage/memstore"
	"Woe-Notify/pkg/plugin"
)

func TestRunOncePrunesOldLogs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memstore.New()
	now := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	for _, age := range []int{40, 31, 29, 1} {
		require.NoError(t, store.InsertLog(ctx, plugin.PluginLog{
			PluginID:  1,
			UserID:    1,
			Status:    plugin.StatusOK,
			CreatedAt: now.AddDate(0, 0, -age),
		}))
	}

	var pruned int64
	cleaner, err := NewCleaner(store, Config{OnPruned: func(n int64) { pruned += n }})
	require.NoError(t, err)
	cleaner.now = func() time.Time { return now }

	result, err := cleaner.RunOnce(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.Removed)
	assert.EqualValues(t, 2, pruned)
	assert.EqualValues(t, 2, result.Stats.Total)
	assert.Equal(t, now.AddDate(0, 0, -30), result.Cutoff)
	assert.Equal(t, now.AddDate(0, 0, -29), result.Stats.Oldest)
}

func TestNewCleanerSchedule(t *testing.T) {
	t.Parallel()

	store := memstore.New()

	cleaner, err := NewCleaner(store, Config{Schedule: "30 3 * * *", KeepDays: 7})
	require.NoError(t, err)
	from := time.Date(2024, 1, 1, 4, 0, 0, 0, time.UTC)
	assert.WithinDuration(t, time.Date(2024, 1, 2, 3, 30, 0, 0, time.UTC), cleaner.Next(from), 0)

	daily, err := NewCleaner(store, Config{})
	require.NoError(t, err)
	assert.WithinDuration(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), daily.Next(from), 0)

	_, err = NewCleaner(store, Config{Schedule: "not a schedule"})
	assert.Error(t, err)

	_, err = NewCleaner(nil, Config{})
	assert.Error(t, err)
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	cleaner, err := NewCleaner(memstore.New(), Config{Schedule: "@every 1h"})
	require.NoError(t, err)
	cleaner.Start()
	cleaner.Start()
	cleaner.Stop()
	cleaner.Stop()

	result, err := cleaner.Last()
	require.NoError(t, err)
	assert.Zero(t, result.Removed)
}
