package database

import (
	"context"
	"testing"
	"time"

	"pharmsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entityInfo(t *testing.T, typ models.EntityType) models.EntityInfo {
	t.Helper()
	for _, info := range models.DefaultEntities() {
		if info.Type == typ {
			return info
		}
	}
	t.Fatalf("unknown entity %s", typ)
	return models.EntityInfo{}
}

func TestWatermarks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	b := testBackend("main", 1, true)
	require.NoError(t, db.SaveBackend(ctx, b))
	sale := entityInfo(t, models.EntitySale)
	patient := entityInfo(t, models.EntityPatient)

	_, ok, err := db.GetWatermark(ctx, b.ID, sale)
	require.NoError(t, err)
	assert.False(t, ok)

	first := time.Date(2020, 3, 14, 23, 59, 30, 0, time.UTC)
	require.NoError(t, db.SetWatermark(ctx, b.ID, sale, first))

	got, ok, err := db.GetWatermark(ctx, b.ID, sale)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(first))

	// keys are independent per entity
	_, ok, err = db.GetWatermark(ctx, b.ID, patient)
	require.NoError(t, err)
	assert.False(t, ok)

	second := first.Add(24 * time.Hour)
	require.NoError(t, db.SetWatermark(ctx, b.ID, sale, second))
	got, _, err = db.GetWatermark(ctx, b.ID, sale)
	require.NoError(t, err)
	assert.True(t, got.Equal(second))

	require.NoError(t, db.ResetWatermark(ctx, b.ID, sale))
	_, ok, err = db.GetWatermark(ctx, b.ID, sale)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWatermarkRequiresTrackableEntity(t *testing.T) {
	db := setupTestDB(t)
	store := entityInfo(t, models.EntityStore)
	err := db.SetWatermark(context.Background(), 1, store, time.Now())
	assert.Error(t, err)
}
