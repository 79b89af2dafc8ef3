package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pharmsync/internal/models"
)

const backendColumns = `id, name, version, driver, server, username, password, pool_size, max_overflow,
        pool_timeout_seconds, date_data_start, import_inverse, sale_prefix, rx_prefix, default_tz,
        company_id, is_default, active, can_export, fdb_ndc_control_code, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBackend(row rowScanner) (*models.Backend, error) {
	var (
		b           models.Backend
		username    sql.NullString
		password    sql.NullString
		tz          sql.NullString
		controlCode sql.NullString
		timeoutSecs int64
	)
	err := row.Scan(
		&b.ID, &b.Name, &b.Version, &b.Driver, &b.Server, &username, &password, &b.PoolSize, &b.MaxOverflow,
		&timeoutSecs, &b.DateDataStart, &b.ImportInverse, &b.SalePrefix, &b.RxPrefix, &tz,
		&b.CompanyID, &b.IsDefault, &b.Active, &b.CanExport, &controlCode, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Username = username.String
	b.Password = password.String
	b.DefaultTZ = tz.String
	b.FDBNDCControlCode = controlCode.String
	b.PoolTimeout = time.Duration(timeoutSecs) * time.Second
	return &b, nil
}

// SaveBackend inserts or updates a backend by name. A second default backend
// for the same company is rejected before anything is written.
func (db *DB) SaveBackend(ctx context.Context, b *models.Backend) error {
	if err := b.Validate(); err != nil {
		return err
	}

	if b.IsDefault {
		var other string
		err := db.QueryRowContext(ctx,
			`SELECT name FROM backends WHERE company_id = ? AND is_default = 1 AND name <> ? LIMIT 1`,
			b.CompanyID, b.Name,
		).Scan(&other)
		switch {
		case err == nil:
			return fmt.Errorf("%w: company %d already uses %s", models.ErrDuplicateDefault, b.CompanyID, other)
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("check default backend: %w", err)
		}
	}

	now := time.Now().UTC()
	query := `
        INSERT INTO backends (name, version, driver, server, username, password, pool_size, max_overflow,
            pool_timeout_seconds, date_data_start, import_inverse, sale_prefix, rx_prefix, default_tz,
            company_id, is_default, active, can_export, fdb_ndc_control_code, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET
            version = excluded.version,
            driver = excluded.driver,
            server = excluded.server,
            username = excluded.username,
            password = excluded.password,
            pool_size = excluded.pool_size,
            max_overflow = excluded.max_overflow,
            pool_timeout_seconds = excluded.pool_timeout_seconds,
            date_data_start = excluded.date_data_start,
            import_inverse = excluded.import_inverse,
            sale_prefix = excluded.sale_prefix,
            rx_prefix = excluded.rx_prefix,
            default_tz = excluded.default_tz,
            company_id = excluded.company_id,
            is_default = excluded.is_default,
            active = excluded.active,
            can_export = excluded.can_export,
            fdb_ndc_control_code = excluded.fdb_ndc_control_code,
            updated_at = excluded.updated_at
    `
	_, err := db.ExecContext(ctx, query,
		b.Name, b.Version, b.Driver, b.Server, b.Username, b.Password, b.PoolSize, b.MaxOverflow,
		int64(b.PoolTimeout/time.Second), b.DateDataStart.UTC(), b.ImportInverse, b.SalePrefix, b.RxPrefix, b.DefaultTZ,
		b.CompanyID, b.IsDefault, b.Active, b.CanExport, b.FDBNDCControlCode, now, now,
	)
	if err != nil {
		return fmt.Errorf("save backend %s: %w", b.Name, err)
	}

	saved, err := db.GetBackendByName(ctx, b.Name)
	if err != nil {
		return err
	}
	b.ID = saved.ID
	b.CreatedAt = saved.CreatedAt
	b.UpdatedAt = saved.UpdatedAt
	return nil
}

func (db *DB) GetBackend(ctx context.Context, id int64) (*models.Backend, error) {
	row := db.QueryRowContext(ctx, `SELECT `+backendColumns+` FROM backends WHERE id = ?`, id)
	b, err := scanBackend(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("backend %d", id))
	}
	return b, nil
}

func (db *DB) GetBackendByName(ctx context.Context, name string) (*models.Backend, error) {
	row := db.QueryRowContext(ctx, `SELECT `+backendColumns+` FROM backends WHERE name = ?`, name)
	b, err := scanBackend(row)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("backend %q", name))
	}
	return b, nil
}

// ListActiveBackends returns active backends ordered by id.
func (db *DB) ListActiveBackends(ctx context.Context) ([]*models.Backend, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+backendColumns+` FROM backends WHERE active = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list backends: %w", err)
	}
	defer rows.Close()

	var backends []*models.Backend
	for rows.Next() {
		b, err := scanBackend(rows)
		if err != nil {
			return nil, fmt.Errorf("scan backend: %w", err)
		}
		backends = append(backends, b)
	}
	return backends, rows.Err()
}
