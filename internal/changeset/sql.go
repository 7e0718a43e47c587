package changeset

import (
	"context"
	"database/sql"
)

// SQLEngine adapts *sql.DB to QueryEngine.
type SQLEngine struct {
	DB *sql.DB
}

func (s SQLEngine) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (s SQLEngine) Count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := s.DB.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

const tableExistsQuery = `
	SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1
	)`

func (s SQLEngine) TableExists(ctx context.Context, table string) (bool, error) {
	var ok bool
	if err := s.DB.QueryRowContext(ctx, tableExistsQuery, table).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}
