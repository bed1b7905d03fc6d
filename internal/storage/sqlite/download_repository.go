package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/italolelis/batch_downloader/internal/storage"
)

const selectColumns = `SELECT batch_id, instance, url, destination, state, attempts, bytes, error, finished_at FROM transfers`

type TransferRepository struct {
	db *sql.DB
}

func NewTransferRepository(dbConn *sql.DB) *TransferRepository {
	return &TransferRepository{db: dbConn}
}

// RecordBatch inserts every record in a single transaction.
func (r *TransferRepository) RecordBatch(ctx context.Context, records []storage.TransferRecord) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO transfers
		(batch_id, instance, url, destination, state, attempts, bytes, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		var errMsg sql.NullString
		if rec.Error != "" {
			errMsg = sql.NullString{String: rec.Error, Valid: true}
		}

		if _, err := stmt.ExecContext(ctx,
			rec.BatchID, rec.Instance, rec.URL, rec.Destination, rec.State,
			rec.Attempts, rec.Bytes, errMsg, rec.FinishedAt,
		); err != nil {
			return fmt.Errorf("failed to record %s: %w", rec.URL, err)
		}
	}

	return tx.Commit()
}

// GetBatch returns every record of a batch in insertion order.
func (r *TransferRepository) GetBatch(ctx context.Context, batchID string) ([]storage.TransferRecord, error) {
	return r.query(ctx, selectColumns+` WHERE batch_id = ? ORDER BY id`, batchID)
}

// GetFailed returns the records of a batch that ended in the failed state.
func (r *TransferRepository) GetFailed(ctx context.Context, batchID string) ([]storage.TransferRecord, error) {
	return r.query(ctx, selectColumns+` WHERE batch_id = ? AND state = 'failed' ORDER BY id`, batchID)
}

func (r *TransferRepository) query(ctx context.Context, query string, args ...any) ([]storage.TransferRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []storage.TransferRecord

	for rows.Next() {
		var (
			record   storage.TransferRecord
			instance sql.NullString
			errMsg   sql.NullString
			finished sql.NullString
		)

		if err := rows.Scan(
			&record.BatchID, &instance, &record.URL, &record.Destination, &record.State,
			&record.Attempts, &record.Bytes, &errMsg, &finished,
		); err != nil {
			return nil, err
		}

		record.Instance = instance.String
		record.Error = errMsg.String
		record.FinishedAt = finished.String

		records = append(records, record)
	}

	return records, rows.Err()
}
