package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pharmsync/internal/config"
	"pharmsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackupService(t *testing.T) {
	tempDir := t.TempDir()
	db := setupFileDB(t, filepath.Join(tempDir, "state.db"))
	storagePath := filepath.Join(tempDir, "backups")

	ctx := context.Background()
	b := testBackend("main", 1, true)
	require.NoError(t, db.SaveBackend(ctx, b))
	item := models.DefaultEntities()[1]
	require.NoError(t, db.SetWatermark(ctx, b.ID, item, time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))

	cfg := config.BackupConfig{
		Enabled:       true,
		StoragePath:   storagePath,
		RetentionDays: 1,
	}
	logger := zerolog.Nop()
	s := NewBackupService(db, cfg, &logger)

	t.Run("PerformBackup", func(t *testing.T) {
		path, err := s.PerformBackup(ctx)
		require.NoError(t, err)
		assert.FileExists(t, path)

		snapshot, err := NewDB(path, &logger)
		require.NoError(t, err)
		defer snapshot.Close()

		at, ok, err := snapshot.GetWatermark(ctx, b.ID, item)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, at.Equal(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)))
	})

	t.Run("CleanupOldBackups", func(t *testing.T) {
		oldFile := filepath.Join(storagePath, "state_old.db")
		require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0o644))
		unrelated := filepath.Join(storagePath, "notes.txt")
		require.NoError(t, os.WriteFile(unrelated, []byte("keep"), 0o644))

		oldTime := time.Now().AddDate(0, 0, -2)
		require.NoError(t, os.Chtimes(oldFile, oldTime, oldTime))
		require.NoError(t, os.Chtimes(unrelated, oldTime, oldTime))

		s.CleanupOldBackups()

		assert.NoFileExists(t, oldFile)
		assert.FileExists(t, unrelated)
	})
}

func TestBackupService_Disabled(_ *testing.T) {
	logger := zerolog.Nop()
	s := NewBackupService(nil, config.BackupConfig{Enabled: false}, &logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Start(ctx)
}
