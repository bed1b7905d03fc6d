package sqlite

import (
	"context"
	"database/sql"

	"github.com/italolelis/batch_downloader/internal/storage"
	"github.com/italolelis/batch_downloader/internal/telemetry"
)

// InstrumentedTransferRepository wraps TransferRepository with telemetry.
type InstrumentedTransferRepository struct {
	repo      *TransferRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedTransferRepository creates a new instrumented ledger.
func NewInstrumentedTransferRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedTransferRepository {
	return &InstrumentedTransferRepository{
		repo:      NewTransferRepository(dbConn),
		telemetry: tel,
	}
}

// RecordBatch records a batch with telemetry.
func (r *InstrumentedTransferRepository) RecordBatch(ctx context.Context, records []storage.TransferRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_batch", func(ctx context.Context) error {
		return r.repo.RecordBatch(ctx, records)
	})
}

// GetBatch retrieves a batch with telemetry.
func (r *InstrumentedTransferRepository) GetBatch(ctx context.Context, batchID string) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_batch", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetBatch(ctx, batchID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetFailed retrieves the failed records of a batch with telemetry.
func (r *InstrumentedTransferRepository) GetFailed(ctx context.Context, batchID string) ([]storage.TransferRecord, error) {
	var result []storage.TransferRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_failed", func(ctx context.Context) error {
		var err error

		result, err = r.repo.GetFailed(ctx, batchID)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

var _ storage.TransferRepository = (*InstrumentedTransferRepository)(nil)
