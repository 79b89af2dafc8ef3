package database

import (
	"context"
	"fmt"
	"time"

	"pharmsync/internal/models"
)

const bindingColumns = `id, backend_id, entity, remote_id, checksum, payload, sync_date`

func scanBinding(row rowScanner) (*models.Binding, error) {
	var b models.Binding
	if err := row.Scan(&b.ID, &b.BackendID, &b.Entity, &b.RemoteID, &b.Checksum, &b.Payload, &b.SyncDate); err != nil {
		return nil, err
	}
	return &b, nil
}

func (db *DB) GetBinding(ctx context.Context, backendID int64, entity models.EntityType, remoteID string) (*models.Binding, error) {
	row := db.QueryRowContext(ctx,
		`SELECT `+bindingColumns+` FROM bindings WHERE backend_id = ? AND entity = ? AND remote_id = ?`,
		backendID, string(entity), remoteID,
	)
	b, err := scanBinding(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("binding %s/%s", entity, remoteID))
	}
	return b, nil
}

// UpsertBinding stores the latest imported copy of a remote record.
func (db *DB) UpsertBinding(ctx context.Context, b *models.Binding) error {
	if b.SyncDate.IsZero() {
		b.SyncDate = time.Now().UTC()
	}
	_, err := db.ExecContext(ctx, `
        INSERT INTO bindings (backend_id, entity, remote_id, checksum, payload, sync_date)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(backend_id, entity, remote_id) DO UPDATE SET
            checksum = excluded.checksum,
            payload = excluded.payload,
            sync_date = excluded.sync_date`,
		b.BackendID, string(b.Entity), b.RemoteID, b.Checksum, b.Payload, b.SyncDate.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert binding %s/%s: %w", b.Entity, b.RemoteID, err)
	}

	saved, err := db.GetBinding(ctx, b.BackendID, b.Entity, b.RemoteID)
	if err != nil {
		return err
	}
	b.ID = saved.ID
	return nil
}

// ListBindings returns every binding of an entity type across backends.
func (db *DB) ListBindings(ctx context.Context, entity models.EntityType) ([]*models.Binding, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+bindingColumns+` FROM bindings WHERE entity = ? ORDER BY backend_id, id`, string(entity),
	)
	if err != nil {
		return nil, fmt.Errorf("list bindings: %w", err)
	}
	defer rows.Close()

	var bindings []*models.Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

func (db *DB) CountBindings(ctx context.Context, entity models.EntityType) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bindings WHERE entity = ?`, string(entity)).Scan(&n)
	return n, err
}
