package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pharmsync/internal/models"
)

func watermarkKey(entity models.EntityInfo) (string, error) {
	if entity.WatermarkKey == "" {
		return "", fmt.Errorf("entity %s has no watermark", entity.Type)
	}
	return entity.WatermarkKey, nil
}

// GetWatermark returns the stored "from" instant for a backend and entity.
// ok is false when no pass has completed yet.
func (db *DB) GetWatermark(ctx context.Context, backendID int64, entity models.EntityInfo) (time.Time, bool, error) {
	key, err := watermarkKey(entity)
	if err != nil {
		return time.Time{}, false, err
	}

	var at time.Time
	err = db.QueryRowContext(ctx,
		`SELECT value FROM backend_watermarks WHERE backend_id = ? AND key = ?`, backendID, key,
	).Scan(&at)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("get watermark %s: %w", key, err)
	}
	return at, true, nil
}

func (db *DB) SetWatermark(ctx context.Context, backendID int64, entity models.EntityInfo, at time.Time) error {
	key, err := watermarkKey(entity)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
        INSERT INTO backend_watermarks (backend_id, key, value, updated_at) VALUES (?, ?, ?, ?)
        ON CONFLICT(backend_id, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		backendID, key, at.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set watermark %s: %w", key, err)
	}
	return nil
}

// ResetWatermark removes the watermark so the next pass starts from the
// backend's date_data_start.
func (db *DB) ResetWatermark(ctx context.Context, backendID int64, entity models.EntityInfo) error {
	key, err := watermarkKey(entity)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx,
		`DELETE FROM backend_watermarks WHERE backend_id = ? AND key = ?`, backendID, key,
	); err != nil {
		return fmt.Errorf("reset watermark %s: %w", key, err)
	}
	return nil
}
