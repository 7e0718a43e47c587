package changeset

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/google/feedloader/internal/domain"
)

// Processing tables are the frozen per-run copies the uploader pages
// through. They are created from the staging tables at dispatch time so
// later feed imports cannot shift batch windows mid-run.

// RunTimestampFormat is the table-name timestamp, second resolution.
const RunTimestampFormat = "20060102150405"

var runTimestampPattern = regexp.MustCompile(`^[0-9]{14}$`)

// FormatRunTimestamp renders a run time for use in processing table names.
func FormatRunTimestamp(t time.Time) string {
	return t.UTC().Format(RunTimestampFormat)
}

// ProcessingTableName builds the table name for one operation of one run.
// The timestamp is validated because table names cannot be parameterized.
func ProcessingTableName(op domain.Operation, timestamp string) (string, error) {
	if !runTimestampPattern.MatchString(timestamp) {
		return "", fmt.Errorf("invalid run timestamp %q", timestamp)
	}
	return fmt.Sprintf("process_items_to_%s_%s", op.TableSuffix(), timestamp), nil
}

const createDeletesProcessingQuery = `
	CREATE TABLE %s AS
	SELECT item_id, merchant_id
	FROM items_to_delete
	ORDER BY item_id`

// createUpsertsProcessingQuery copies full item rows: upserts resend the
// whole item, so the processing table must survive the live table's drop.
// %s slots: processing table name, staging table name.
const createUpsertsProcessingQuery = `
	CREATE TABLE %s AS
	SELECT items.*
	FROM items
	INNER JOIN %s USING (item_id)
	ORDER BY items.item_id`

const loadWindowQuery = `SELECT * FROM %s ORDER BY item_id OFFSET $1 LIMIT $2`

const dropProcessingQuery = `DROP TABLE IF EXISTS %s`

// ProcessingStore creates and reads processing tables.
type ProcessingStore struct {
	DB *sql.DB
}

// Create materializes the processing table for one operation of one run.
func (p ProcessingStore) Create(ctx context.Context, op domain.Operation, timestamp string) error {
	table, err := ProcessingTableName(op, timestamp)
	if err != nil {
		return err
	}
	var query string
	switch op {
	case domain.OperationDelete:
		query = fmt.Sprintf(createDeletesProcessingQuery, table)
	case domain.OperationUpsert:
		query = fmt.Sprintf(createUpsertsProcessingQuery, table, upsertsTable)
	case domain.OperationPreventExpiring:
		query = fmt.Sprintf(createUpsertsProcessingQuery, table, expirationsTable)
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
	if _, err := p.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	return nil
}

// LoadWindow reads one batch window of a processing table. Rows come back
// in item_id order so a retried task sees the same window.
func (p ProcessingStore) LoadWindow(ctx context.Context, op domain.Operation, timestamp string, startIndex, batchSize int64) ([]domain.ItemRow, error) {
	table, err := ProcessingTableName(op, timestamp)
	if err != nil {
		return nil, err
	}
	rows, err := p.DB.QueryContext(ctx, fmt.Sprintf(loadWindowQuery, table), startIndex, batchSize)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	var out []domain.ItemRow
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("load %s: %w", table, err)
		}
		row := make(domain.ItemRow, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load %s: %w", table, err)
	}
	return out, nil
}

// Drop removes one run's processing table.
func (p ProcessingStore) Drop(ctx context.Context, op domain.Operation, timestamp string) error {
	table, err := ProcessingTableName(op, timestamp)
	if err != nil {
		return err
	}
	if _, err := p.DB.ExecContext(ctx, fmt.Sprintf(dropProcessingQuery, table)); err != nil {
		return fmt.Errorf("drop %s: %w", table, err)
	}
	return nil
}

// DropLiveItems removes the imported feed table when a run abandons it.
func (p ProcessingStore) DropLiveItems(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, dropLiveItemsQuery); err != nil {
		return fmt.Errorf("drop items: %w", err)
	}
	return nil
}
