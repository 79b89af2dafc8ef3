package importer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"pharmsync/internal/database"
	"pharmsync/internal/domain"
	"pharmsync/internal/models"
	"pharmsync/internal/registry"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	records map[string]map[string]any
	reads   int
}

func (s *stubAdapter) Search(context.Context, *models.Backend, models.Filter) ([]string, error) {
	return nil, nil
}

func (s *stubAdapter) Read(_ context.Context, _ *models.Backend, id string, _ []string) (map[string]any, error) {
	s.reads++
	rec, ok := s.records[id]
	if !ok {
		return nil, errors.New("no such record")
	}
	return rec, nil
}

func setup(t *testing.T) (*BindingImporter, *database.DB, *stubAdapter, *models.Backend) {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "state.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	backend := models.NewBackend("main")
	backend.Driver = models.DriverSQLite
	backend.Server = "remote.db"
	require.NoError(t, db.SaveBackend(context.Background(), backend))

	adapter := &stubAdapter{records: map[string]map[string]any{
		"7": {"pat_id": int64(7), "lname": []byte("Smith"), "chg_date": time.Date(2021, 5, 1, 0, 0, 0, 0, time.UTC)},
	}}
	reg, err := registry.Default(nil, func(models.EntityInfo) domain.RemoteAdapter { return adapter })
	require.NoError(t, err)

	return NewBindingImporter(db, db, reg, &logger), db, adapter, backend
}

func TestImportRecordCreatesBinding(t *testing.T) {
	imp, db, _, backend := setup(t)
	ctx := context.Background()

	err := imp.ImportRecord(ctx, &models.ImportTask{BackendID: backend.ID, Entity: models.EntityPatient, RemoteID: "7"})
	require.NoError(t, err)

	b, err := db.GetBinding(ctx, backend.ID, models.EntityPatient, "7")
	require.NoError(t, err)
	assert.Contains(t, b.Payload, `"lname":"Smith"`)
	assert.Len(t, b.Checksum, 64)
}

func TestImportRecordSkipsUnchangedUnlessForced(t *testing.T) {
	imp, db, adapter, backend := setup(t)
	ctx := context.Background()
	task := &models.ImportTask{BackendID: backend.ID, Entity: models.EntityPatient, RemoteID: "7"}

	require.NoError(t, imp.ImportRecord(ctx, task))
	first, err := db.GetBinding(ctx, backend.ID, models.EntityPatient, "7")
	require.NoError(t, err)

	require.NoError(t, imp.ImportRecord(ctx, task))
	again, err := db.GetBinding(ctx, backend.ID, models.EntityPatient, "7")
	require.NoError(t, err)
	assert.True(t, first.SyncDate.Equal(again.SyncDate), "unchanged record is not rewritten")

	time.Sleep(5 * time.Millisecond)
	forced := *task
	forced.Force = true
	require.NoError(t, imp.ImportRecord(ctx, &forced))
	after, err := db.GetBinding(ctx, backend.ID, models.EntityPatient, "7")
	require.NoError(t, err)
	assert.True(t, after.SyncDate.After(first.SyncDate))
	assert.Equal(t, 3, adapter.reads)

	adapter.records["7"]["lname"] = "Jones"
	require.NoError(t, imp.ImportRecord(ctx, task))
	changed, err := db.GetBinding(ctx, backend.ID, models.EntityPatient, "7")
	require.NoError(t, err)
	assert.NotEqual(t, first.Checksum, changed.Checksum)
	assert.Contains(t, changed.Payload, "Jones")
}

func TestImportRecordErrors(t *testing.T) {
	imp, _, _, backend := setup(t)
	ctx := context.Background()

	assert.Error(t, imp.ImportRecord(ctx, &models.ImportTask{BackendID: 999, Entity: models.EntityPatient, RemoteID: "7"}))
	assert.Error(t, imp.ImportRecord(ctx, &models.ImportTask{BackendID: backend.ID, Entity: models.EntityPatient, RemoteID: "missing"}))
	assert.ErrorIs(t,
		imp.ImportRecord(ctx, &models.ImportTask{BackendID: backend.ID, Entity: "widgets", RemoteID: "7"}),
		models.ErrUnknownEntity,
	)
}

func TestChecksumStableAcrossKeyOrder(t *testing.T) {
	_, a, err := Checksum(map[string]any{"a": 1, "b": "x"})
	require.NoError(t, err)
	_, b, err := Checksum(map[string]any{"b": []byte("x"), "a": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
