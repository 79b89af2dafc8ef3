// Package remote reads entity records from a backend's pharmacy database.
package remote

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"pharmsync/internal/models"
)

var (
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrUnsupportedOp     = errors.New("unsupported operator")
	ErrRecordNotFound    = errors.New("remote record not found")

	identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
)

// SQLAdapter serves one entity table over database/sql.
type SQLAdapter struct {
	info models.EntityInfo
	pool *Pool
}

func NewSQLAdapter(info models.EntityInfo, pool *Pool) *SQLAdapter {
	return &SQLAdapter{info: info, pool: pool}
}

func checkIdent(name string) error {
	if !identPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

func buildWhere(filter models.Filter) (string, []any, error) {
	if filter.IsEmpty() {
		return "", nil, nil
	}
	clauses := make([]string, 0, len(filter.Conditions))
	args := make([]any, 0, len(filter.Conditions))
	for _, c := range filter.Conditions {
		if err := checkIdent(c.Field); err != nil {
			return "", nil, err
		}
		switch c.Op {
		case models.OpEq, models.OpGte, models.OpGt, models.OpLte, models.OpLt:
		default:
			return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedOp, c.Op)
		}
		clauses = append(clauses, fmt.Sprintf("%s %s ?", c.Field, c.Op))
		args = append(args, bindValue(c.Value))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return v
}

// Search returns the primary keys matching filter, in key order.
func (a *SQLAdapter) Search(ctx context.Context, backend *models.Backend, filter models.Filter) ([]string, error) {
	if err := checkIdent(a.info.Table); err != nil {
		return nil, err
	}
	if err := checkIdent(a.info.PrimaryKey); err != nil {
		return nil, err
	}
	where, args, err := buildWhere(filter)
	if err != nil {
		return nil, err
	}

	conn, err := a.pool.acquire(ctx, backend)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s", a.info.PrimaryKey, a.info.Table, where, a.info.PrimaryKey)
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", a.info.Type, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", a.info.Type, err)
		}
		ids = append(ids, idString(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", a.info.Type, err)
	}
	return ids, nil
}

// Read loads one record. An empty field list selects every column.
func (a *SQLAdapter) Read(ctx context.Context, backend *models.Backend, remoteID string, fields []string) (map[string]any, error) {
	if err := checkIdent(a.info.Table); err != nil {
		return nil, err
	}
	if err := checkIdent(a.info.PrimaryKey); err != nil {
		return nil, err
	}
	columns := "*"
	if len(fields) > 0 {
		for _, f := range fields {
			if err := checkIdent(f); err != nil {
				return nil, err
			}
		}
		columns = strings.Join(fields, ", ")
	}

	conn, err := a.pool.acquire(ctx, backend)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?", columns, a.info.Table, a.info.PrimaryKey)
	rows, err := conn.QueryContext(ctx, query, remoteID)
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", a.info.Type, remoteID, err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s %s", ErrRecordNotFound, a.info.Type, remoteID)
	}

	values := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan %s %s: %w", a.info.Type, remoteID, err)
	}

	record := make(map[string]any, len(names))
	for i, name := range names {
		if b, ok := values[i].([]byte); ok {
			record[name] = string(b)
			continue
		}
		record[name] = values[i]
	}
	return record, nil
}

func idString(raw any) string {
	switch v := raw.(type) {
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
